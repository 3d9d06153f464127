package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/nsn-sourcing/internal/progress"
	"github.com/JakeFAU/nsn-sourcing/internal/store"
)

// StoreSink persists run history via a store.RunRepository. Item and source
// deltas are collapsed per batch to reduce write amplification.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies run lifecycle events in order, then flushes aggregated item
// and source deltas. Repository errors are returned to the hub.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	items := make(map[uuid.UUID]*store.ItemCounts)
	sources := make(map[sourceKey]*sourceDelta)

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
			if err := s.handleRunEvent(ctx, runID, evt); err != nil {
				return err
			}
		case progress.StageItemDone:
			counts := items[runID]
			if counts == nil {
				counts = &store.ItemCounts{}
				items[runID] = counts
			}
			counts.Add(evt.Status)
		case progress.StageSourceDone:
			key := sourceKey{runID: runID, source: evt.Source, outcome: evt.Outcome}
			delta := sources[key]
			if delta == nil {
				delta = &sourceDelta{}
				sources[key] = delta
			}
			delta.calls++
			if evt.TS.After(delta.at) {
				delta.at = evt.TS
			}
		}
	}

	for runID, counts := range items {
		if counts.Zero() {
			continue
		}
		if err := s.repo.AddItemCounts(ctx, runID, *counts); err != nil {
			return fmt.Errorf("add item counts: %w", err)
		}
	}
	for key, delta := range sources {
		if err := s.repo.UpsertSourceStats(ctx, key.runID, key.source, key.outcome, delta.calls, delta.at); err != nil {
			return fmt.Errorf("upsert source stats: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) handleRunEvent(ctx context.Context, runID uuid.UUID, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageRunStart:
		if err := s.repo.UpsertRunStart(ctx, runID, evt.TS); err != nil {
			return fmt.Errorf("upsert run start: %w", err)
		}
	case progress.StageRunDone:
		status := store.RunSuccess
		if evt.Status == string(store.RunInterrupted) {
			status = store.RunInterrupted
		}
		if err := s.repo.CompleteRun(ctx, runID, evt.TS, status, nil); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	case progress.StageRunError:
		var note *string
		if evt.Note != "" {
			note = &evt.Note
		}
		if err := s.repo.CompleteRun(ctx, runID, evt.TS, store.RunError, note); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type sourceKey struct {
	runID   uuid.UUID
	source  string
	outcome string
}

type sourceDelta struct {
	calls int64
	at    time.Time
}
