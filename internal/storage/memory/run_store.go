package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/nsn-sourcing/internal/store"
)

// RunStore provides an in-memory store.RunRepository for development/testing.
type RunStore struct {
	mu      sync.RWMutex
	runs    map[uuid.UUID]store.BatchRun
	sources map[uuid.UUID]map[string]*store.SourceStats
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:    make(map[uuid.UUID]store.BatchRun),
		sources: make(map[uuid.UUID]map[string]*store.SourceStats),
	}
}

// UpsertRunStart creates the run or resets it to running.
func (s *RunStore) UpsertRunStart(_ context.Context, runID uuid.UUID, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		run = store.BatchRun{ID: runID, StartedAt: startedAt.UTC()}
	}
	run.Status = store.RunRunning
	run.FinishedAt = nil
	run.ErrorMessage = nil
	s.runs[runID] = run
	return nil
}

// CompleteRun marks the run finished.
func (s *RunStore) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	run.Status = status
	run.FinishedAt = pointerTime(finishedAt.UTC())
	if errMsg != nil {
		msg := *errMsg
		run.ErrorMessage = &msg
	}
	s.runs[runID] = run
	return nil
}

// AddItemCounts applies terminal item deltas.
func (s *RunStore) AddItemCounts(_ context.Context, runID uuid.UUID, delta store.ItemCounts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	run.Items.Complete += delta.Complete
	run.Items.Partial += delta.Partial
	run.Items.Failed += delta.Failed
	s.runs[runID] = run
	return nil
}

// UpsertSourceStats applies a call delta for (run, source, outcome).
func (s *RunStore) UpsertSourceStats(
	_ context.Context,
	runID uuid.UUID,
	source, outcome string,
	deltaCalls int64,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return store.ErrNotFound
	}
	bySource := s.sources[runID]
	if bySource == nil {
		bySource = make(map[string]*store.SourceStats)
		s.sources[runID] = bySource
	}
	stats := bySource[source]
	if stats == nil {
		stats = &store.SourceStats{RunID: runID, Source: source}
		bySource[source] = stats
	}
	stats.Add(outcome, deltaCalls)
	if at.After(stats.LastUpdate) {
		stats.LastUpdate = at.UTC()
	}
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (store.BatchRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.BatchRun{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.BatchRun, error) {
	s.mu.RLock()
	out := make([]store.BatchRun, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, run)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return page(out, limit, offset), nil
}

// ListRunSources returns per-source stats for a run ordered by source.
func (s *RunStore) ListRunSources(_ context.Context, runID uuid.UUID, limit, offset int) ([]store.SourceStats, error) {
	s.mu.RLock()
	out := make([]store.SourceStats, 0, len(s.sources[runID]))
	for _, stats := range s.sources[runID] {
		out = append(out, *stats)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return page(out, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
