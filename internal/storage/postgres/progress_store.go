package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
)

// ProgressStore keeps BatchProgress as one JSONB row per run key. Each Save is
// a single upsert, so readers never observe a partially written value.
type ProgressStore struct {
	pool   Pool
	runKey string
	now    func() time.Time
}

// NewProgressStore stores progress under runKey.
func NewProgressStore(pool Pool, runKey string) (*ProgressStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if runKey == "" {
		return nil, fmt.Errorf("run key is required")
	}
	return &ProgressStore{pool: pool, runKey: runKey, now: time.Now}, nil
}

// Load reads the stored progress or returns sourcing.ErrNotFound.
func (s *ProgressStore) Load(ctx context.Context) (sourcing.BatchProgress, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM batch_progress WHERE run_key = $1;`, s.runKey).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return sourcing.BatchProgress{}, fmt.Errorf("progress %s: %w", s.runKey, sourcing.ErrNotFound)
		}
		return sourcing.BatchProgress{}, fmt.Errorf("failed to load progress: %w", err)
	}
	var progress sourcing.BatchProgress
	if err := json.Unmarshal(payload, &progress); err != nil {
		return sourcing.BatchProgress{}, fmt.Errorf("decode progress: %w", err)
	}
	if progress.Items == nil {
		progress.Items = map[string]sourcing.ProgressEntry{}
	}
	return progress, nil
}

// Save upserts the progress row.
func (s *ProgressStore) Save(ctx context.Context, progress sourcing.BatchProgress) error {
	payload, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	query := `
		INSERT INTO batch_progress (run_key, payload, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_key) DO UPDATE
		SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at;
	`
	if _, err := s.pool.Exec(ctx, query, s.runKey, payload, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	return nil
}

// Reset deletes the progress row.
func (s *ProgressStore) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM batch_progress WHERE run_key = $1;`, s.runKey); err != nil {
		return fmt.Errorf("failed to reset progress: %w", err)
	}
	return nil
}
