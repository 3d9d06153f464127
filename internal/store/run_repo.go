package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the batch_runs status column.
type RunStatus string

// Run statuses persisted in batch_runs.status.
const (
	RunRunning     RunStatus = "running"
	RunSuccess     RunStatus = "success"
	RunInterrupted RunStatus = "interrupted"
	RunError       RunStatus = "error"
)

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunRunning, RunSuccess, RunInterrupted, RunError:
		return true
	default:
		return false
	}
}

// BatchRun models the batch_runs table for API responses.
type BatchRun struct {
	// ID is the run identifier shared with progress events.
	ID uuid.UUID
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run ends.
	FinishedAt *time.Time
	// Status is running/success/interrupted/error.
	Status RunStatus
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
	// Items counts terminal items by status.
	Items ItemCounts
}

// ItemCounts tallies terminal item statuses. Skipped items are not counted.
type ItemCounts struct {
	Complete int64 `json:"complete"`
	Partial  int64 `json:"partial"`
	Failed   int64 `json:"failed"`
}

// Add records one item with the given status.
func (c *ItemCounts) Add(status string) {
	switch status {
	case "complete":
		c.Complete++
	case "partial":
		c.Partial++
	case "failed":
		c.Failed++
	}
}

// Zero reports whether no item was counted.
func (c ItemCounts) Zero() bool {
	return c == ItemCounts{}
}

// SourceStats aggregates connector outcomes for one source within a run.
type SourceStats struct {
	RunID       uuid.UUID
	Source      string
	LastUpdate  time.Time
	Calls       int64
	OK          int64
	Timeout     int64
	NotFound    int64
	RateLimited int64
	Invalid     int64
	Unknown     int64
}

// Add applies a delta for outcome. Unrecognised outcomes count as unknown.
func (s *SourceStats) Add(outcome string, delta int64) {
	s.Calls += delta
	switch outcome {
	case "ok":
		s.OK += delta
	case "timeout":
		s.Timeout += delta
	case "not_found":
		s.NotFound += delta
	case "rate_limited":
		s.RateLimited += delta
	case "invalid":
		s.Invalid += delta
	default:
		s.Unknown += delta
	}
}

// RunRepository persists batch run history.
type RunRepository interface {
	// UpsertRunStart inserts (or idempotently updates) the started_at timestamp.
	UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// AddItemCounts applies terminal item deltas.
	AddItemCounts(ctx context.Context, runID uuid.UUID, delta ItemCounts) error
	// UpsertSourceStats applies a call delta per (run, source, outcome).
	UpsertSourceStats(ctx context.Context, runID uuid.UUID, source, outcome string, deltaCalls int64, at time.Time) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (BatchRun, error)
	// ListRuns returns runs filtered by optional status plus limit/offset.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]BatchRun, error)
	// ListRunSources returns aggregated source stats for one run.
	ListRunSources(ctx context.Context, runID uuid.UUID, limit, offset int) ([]SourceStats, error)
}
