package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/nsn-sourcing/internal/progress"
	"github.com/JakeFAU/nsn-sourcing/internal/store"
)

func TestStoreSinkPersistsEvents(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)
	runUUID := uuid.New()
	runID := progress.UUIDToBytes(runUUID)
	now := time.Now()

	batch := []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, TS: now},
		{RunID: runID, Stage: progress.StageSourceDone, Item: "a", Source: "dibbs", Outcome: "ok", TS: now.Add(time.Second)},
		{RunID: runID, Stage: progress.StageSourceDone, Item: "b", Source: "dibbs", Outcome: "ok", TS: now.Add(2 * time.Second)},
		{RunID: runID, Stage: progress.StageSourceDone, Item: "b", Source: "wbparts", Outcome: "timeout", TS: now},
		{RunID: runID, Stage: progress.StageItemDone, Item: "a", Status: "complete", TS: now},
		{RunID: runID, Stage: progress.StageItemDone, Item: "b", Status: "partial", TS: now},
		{RunID: runID, Stage: progress.StageItemDone, Item: "c", Status: "skipped", TS: now},
		{RunID: runID, Stage: progress.StageRunDone, Status: "interrupted", TS: now.Add(3 * time.Second)},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, []uuid.UUID{runUUID}, repo.starts)
	require.Equal(t, []store.RunStatus{store.RunInterrupted}, repo.completes)
	require.Equal(t, []store.ItemCounts{{Complete: 1, Partial: 1}}, repo.items)
	require.Len(t, repo.sources, 2)
	calls := map[string]sourceCall{}
	for _, c := range repo.sources {
		calls[c.source+"/"+c.outcome] = c
	}
	require.Equal(t, int64(2), calls["dibbs/ok"].delta)
	require.Equal(t, now.Add(2*time.Second), calls["dibbs/ok"].at)
	require.Equal(t, int64(1), calls["wbparts/timeout"].delta)
}

func TestStoreSinkRecordsRunError(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)
	runID := progress.ParseRunID("r")
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, Stage: progress.StageRunError, TS: time.Now(), Note: "rate limiter breach"},
	}))
	require.Equal(t, []store.RunStatus{store.RunError}, repo.completes)
	require.Equal(t, "rate limiter breach", repo.lastErr)
}

func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{fail: true}
	sink := NewStoreSink(repo, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: progress.ParseRunID("r"), Stage: progress.StageRunStart, TS: time.Now()},
	})
	require.ErrorContains(t, err, "upsert run start")
}

type fakeRunRepo struct {
	fail      bool
	starts    []uuid.UUID
	completes []store.RunStatus
	lastErr   string
	items     []store.ItemCounts
	sources   []sourceCall
}

type sourceCall struct {
	source  string
	outcome string
	delta   int64
	at      time.Time
}

func (f *fakeRunRepo) UpsertRunStart(_ context.Context, runID uuid.UUID, _ time.Time) error {
	if f.fail {
		return assertErr("start")
	}
	f.starts = append(f.starts, runID)
	return nil
}

func (f *fakeRunRepo) CompleteRun(_ context.Context, _ uuid.UUID, _ time.Time, status store.RunStatus, errMsg *string) error {
	if f.fail {
		return assertErr("complete")
	}
	f.completes = append(f.completes, status)
	if errMsg != nil {
		f.lastErr = *errMsg
	}
	return nil
}

func (f *fakeRunRepo) AddItemCounts(_ context.Context, _ uuid.UUID, delta store.ItemCounts) error {
	if f.fail {
		return assertErr("items")
	}
	f.items = append(f.items, delta)
	return nil
}

func (f *fakeRunRepo) UpsertSourceStats(
	_ context.Context,
	_ uuid.UUID,
	source, outcome string,
	deltaCalls int64,
	at time.Time,
) error {
	if f.fail {
		return assertErr("source")
	}
	f.sources = append(f.sources, sourceCall{source: source, outcome: outcome, delta: deltaCalls, at: at})
	return nil
}

func (f *fakeRunRepo) GetRun(context.Context, uuid.UUID) (store.BatchRun, error) {
	return store.BatchRun{}, assertErr("read")
}

func (f *fakeRunRepo) ListRuns(context.Context, *store.RunStatus, int, int) ([]store.BatchRun, error) {
	return nil, assertErr("list")
}

func (f *fakeRunRepo) ListRunSources(context.Context, uuid.UUID, int, int) ([]store.SourceStats, error) {
	return nil, assertErr("sources")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
