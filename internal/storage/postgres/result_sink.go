package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
)

// ResultSink upserts item results into item_results and the run summary into
// batch_summaries. Re-running an item replaces its row.
type ResultSink struct {
	pool   Pool
	runKey string
	now    func() time.Time
}

// NewResultSink writes rows under runKey.
func NewResultSink(pool Pool, runKey string) (*ResultSink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if runKey == "" {
		return nil, fmt.Errorf("run key is required")
	}
	return &ResultSink{pool: pool, runKey: runKey, now: time.Now}, nil
}

// Append upserts one item result.
func (s *ResultSink) Append(ctx context.Context, result sourcing.ItemResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	finished := result.FinishedAt
	if finished.IsZero() {
		finished = s.now()
	}
	query := `
		INSERT INTO item_results (run_key, item_key, nsn, status, has_open_rfq, payload, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_key, item_key) DO UPDATE
		SET nsn = EXCLUDED.nsn,
			status = EXCLUDED.status,
			has_open_rfq = EXCLUDED.has_open_rfq,
			payload = EXCLUDED.payload,
			finished_at = EXCLUDED.finished_at;
	`
	_, err = s.pool.Exec(
		ctx,
		query,
		s.runKey,
		result.Key,
		string(result.NSN),
		string(result.Status),
		result.HasOpenRFQ,
		payload,
		finished.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert item result: %w", err)
	}
	return nil
}

// Close upserts the run summary.
func (s *ResultSink) Close(ctx context.Context, summary sourcing.BatchRunSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	finished := summary.FinishedAt
	if finished.IsZero() {
		finished = s.now()
	}
	query := `
		INSERT INTO batch_summaries (run_key, payload, finished_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_key) DO UPDATE
		SET payload = EXCLUDED.payload, finished_at = EXCLUDED.finished_at;
	`
	if _, err := s.pool.Exec(ctx, query, s.runKey, payload, finished.UTC()); err != nil {
		return fmt.Errorf("failed to upsert summary: %w", err)
	}
	return nil
}

// Reset deletes this run key's results and summary.
func (s *ResultSink) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM item_results WHERE run_key = $1;`, s.runKey); err != nil {
		return fmt.Errorf("failed to reset item results: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM batch_summaries WHERE run_key = $1;`, s.runKey); err != nil {
		return fmt.Errorf("failed to reset summary: %w", err)
	}
	return nil
}
