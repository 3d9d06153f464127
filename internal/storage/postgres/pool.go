// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of *pgxpool.Pool the stores use. pgxmock satisfies it.
type Pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Connect opens a pgx pool using cfg.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// Schema creates every table the stores need. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS batch_runs (
	id             uuid PRIMARY KEY,
	started_at     timestamptz NOT NULL,
	finished_at    timestamptz,
	status         text NOT NULL,
	error_message  text,
	items_complete bigint NOT NULL DEFAULT 0,
	items_partial  bigint NOT NULL DEFAULT 0,
	items_failed   bigint NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS source_stats (
	run_id       uuid NOT NULL REFERENCES batch_runs (id) ON DELETE CASCADE,
	source       text NOT NULL,
	last_update  timestamptz NOT NULL,
	calls        bigint NOT NULL DEFAULT 0,
	ok           bigint NOT NULL DEFAULT 0,
	timeout      bigint NOT NULL DEFAULT 0,
	not_found    bigint NOT NULL DEFAULT 0,
	rate_limited bigint NOT NULL DEFAULT 0,
	invalid      bigint NOT NULL DEFAULT 0,
	unknown      bigint NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, source)
);
CREATE TABLE IF NOT EXISTS batch_progress (
	run_key    text PRIMARY KEY,
	payload    jsonb NOT NULL,
	updated_at timestamptz NOT NULL
);
CREATE TABLE IF NOT EXISTS item_results (
	run_key      text NOT NULL,
	item_key     text NOT NULL,
	nsn          text,
	status       text NOT NULL,
	has_open_rfq boolean NOT NULL,
	payload      jsonb NOT NULL,
	finished_at  timestamptz NOT NULL,
	PRIMARY KEY (run_key, item_key)
);
CREATE TABLE IF NOT EXISTS batch_summaries (
	run_key     text PRIMARY KEY,
	payload     jsonb NOT NULL,
	finished_at timestamptz NOT NULL
);
`

// EnsureSchema applies Schema.
func EnsureSchema(ctx context.Context, pool Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
