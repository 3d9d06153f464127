package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/nsn-sourcing/internal/store"
)

// RunStore implements store.RunRepository using Postgres.
type RunStore struct {
	pool Pool
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore wraps an existing pool.
func NewRunStore(pool Pool) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// UpsertRunStart inserts a run or flips an existing one back to running.
func (s *RunStore) UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	query := `
		INSERT INTO batch_runs (id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, finished_at = NULL, error_message = NULL;
	`
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, string(store.RunRunning)); err != nil {
		return fmt.Errorf("failed to upsert run start: %w", err)
	}
	return nil
}

// CompleteRun marks a run as finished.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	if !status.Valid() {
		return fmt.Errorf("unknown run status %q", status)
	}
	query := `
		UPDATE batch_runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4;
	`
	res, err := s.pool.Exec(ctx, query, finishedAt, string(status), errMsg, runID)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AddItemCounts increments the per-status item counters.
func (s *RunStore) AddItemCounts(ctx context.Context, runID uuid.UUID, delta store.ItemCounts) error {
	query := `
		UPDATE batch_runs
		SET items_complete = items_complete + $1,
			items_partial = items_partial + $2,
			items_failed = items_failed + $3
		WHERE id = $4;
	`
	res, err := s.pool.Exec(ctx, query, delta.Complete, delta.Partial, delta.Failed, runID)
	if err != nil {
		return fmt.Errorf("failed to add item counts: %w", err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// outcomeColumns whitelists the counter column per outcome.
var outcomeColumns = map[string]string{
	"ok":           "ok",
	"timeout":      "timeout",
	"not_found":    "not_found",
	"rate_limited": "rate_limited",
	"invalid":      "invalid",
}

// UpsertSourceStats adds deltaCalls to the calls counter and the outcome column
// in a single statement.
func (s *RunStore) UpsertSourceStats(
	ctx context.Context,
	runID uuid.UUID,
	source, outcome string,
	deltaCalls int64,
	at time.Time,
) error {
	column, ok := outcomeColumns[outcome]
	if !ok {
		column = "unknown"
	}
	query := fmt.Sprintf(`
		INSERT INTO source_stats (run_id, source, last_update, calls, %[1]s)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (run_id, source) DO UPDATE
		SET calls = source_stats.calls + EXCLUDED.calls,
			%[1]s = source_stats.%[1]s + EXCLUDED.%[1]s,
			last_update = GREATEST(source_stats.last_update, EXCLUDED.last_update);
	`, column)
	if _, err := s.pool.Exec(ctx, query, runID, source, at, deltaCalls); err != nil {
		return fmt.Errorf("failed to upsert source stats: %w", err)
	}
	return nil
}

const runColumns = `id, started_at, finished_at, status, error_message, items_complete, items_partial, items_failed`

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.BatchRun, error) {
	query := `SELECT ` + runColumns + ` FROM batch_runs WHERE id = $1;`
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.BatchRun{}, store.ErrNotFound
		}
		return store.BatchRun{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first, with optional status filtering.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.BatchRun, error) {
	var filter *string
	if status != nil {
		value := string(*status)
		filter = &value
	}
	query := `
		SELECT ` + runColumns + `
		FROM batch_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.BatchRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// ListRunSources retrieves per-source stats for a run.
func (s *RunStore) ListRunSources(ctx context.Context, runID uuid.UUID, limit, offset int) ([]store.SourceStats, error) {
	query := `
		SELECT run_id, source, last_update, calls, ok, timeout, not_found, rate_limited, invalid, unknown
		FROM source_stats
		WHERE run_id = $1
		ORDER BY source
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list run sources: %w", err)
	}
	defer rows.Close()

	var stats []store.SourceStats
	for rows.Next() {
		var stat store.SourceStats
		err := rows.Scan(
			&stat.RunID,
			&stat.Source,
			&stat.LastUpdate,
			&stat.Calls,
			&stat.OK,
			&stat.Timeout,
			&stat.NotFound,
			&stat.RateLimited,
			&stat.Invalid,
			&stat.Unknown,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source stats row: %w", err)
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate source stats: %w", err)
	}
	return stats, nil
}

func scanRun(row pgx.Row) (store.BatchRun, error) {
	var (
		run    store.BatchRun
		status string
	)
	err := row.Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.ErrorMessage,
		&run.Items.Complete,
		&run.Items.Partial,
		&run.Items.Failed,
	)
	run.Status = store.RunStatus(status)
	return run, err
}
