// Package postgres provides Postgres-backed persistence for run history.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pagemapper/dircrawl/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id            UUID PRIMARY KEY,
    started_at    TIMESTAMPTZ NOT NULL,
    finished_at   TIMESTAMPTZ,
    status        TEXT NOT NULL,
    error_message TEXT
);
CREATE TABLE IF NOT EXISTS run_site_stats (
    run_id      UUID NOT NULL,
    site        TEXT NOT NULL,
    last_update TIMESTAMPTZ NOT NULL,
    pages       BIGINT NOT NULL DEFAULT 0,
    bytes_total BIGINT NOT NULL DEFAULT 0,
    errors      BIGINT NOT NULL DEFAULT 0,
    found       BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, site)
)`

// Config controls the Postgres connection pool behind the run store.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// RunStore implements store.RunRepository on Postgres.
type RunStore struct {
	pool pool
}

var _ store.RunRepository = (*RunStore)(nil)

// New connects a pooled run store using cfg.
func New(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres_dsn is required")
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(p), nil
}

// NewWithPool constructs a store from an existing pool (primarily for
// testing).
func NewWithPool(p pool) *RunStore {
	return &RunStore{pool: p}
}

// EnsureSchema creates the runs and run_site_stats tables when missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure run store schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertRunStart inserts the run as running; a repeat call is a no-op.
func (s *RunStore) UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO runs (id, started_at, status)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO NOTHING`,
		runID, startedAt.UTC(), store.RunRunning)
	if err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

// CompleteRun marks the run finished with status and an optional error.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	_, err := s.pool.Exec(ctx, `
UPDATE runs
SET finished_at = $2, status = $3, error_message = $4
WHERE id = $1`,
		runID, finishedAt.UTC(), status, errMsg)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// UpsertSiteStats folds delta into the (run, site) aggregate row.
func (s *RunStore) UpsertSiteStats(
	ctx context.Context,
	runID uuid.UUID,
	site string,
	delta store.SiteDelta,
	at time.Time,
) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO run_site_stats (run_id, site, last_update, pages, bytes_total, errors, found)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (run_id, site) DO UPDATE
SET pages       = run_site_stats.pages + EXCLUDED.pages,
    bytes_total = run_site_stats.bytes_total + EXCLUDED.bytes_total,
    errors      = run_site_stats.errors + EXCLUDED.errors,
    found       = run_site_stats.found + EXCLUDED.found,
    last_update = EXCLUDED.last_update`,
		runID, site, at.UTC(), delta.Pages, delta.BytesTotal, delta.Errors, delta.Found)
	if err != nil {
		return fmt.Errorf("upsert site stats: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.RunRecord, error) {
	var run store.RunRecord
	err := s.pool.QueryRow(ctx, `
SELECT id, started_at, finished_at, status, error_message
FROM runs
WHERE id = $1`, runID).Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.ErrorMessage,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.RunRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.RunRecord{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first, with optional status filtering.
func (s *RunStore) ListRuns(
	ctx context.Context,
	status *store.RunStatus,
	limit, offset int,
) ([]store.RunRecord, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, started_at, finished_at, status, error_message
FROM runs
WHERE ($1::text IS NULL OR status = $1)
ORDER BY started_at DESC
LIMIT $2 OFFSET $3`, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.RunRecord
	for rows.Next() {
		var run store.RunRecord
		if err := rows.Scan(
			&run.ID,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

// ListRunSites retrieves aggregated site statistics for one run.
func (s *RunStore) ListRunSites(
	ctx context.Context,
	runID uuid.UUID,
	limit, offset int,
) ([]store.SiteStats, error) {
	rows, err := s.pool.Query(ctx, `
SELECT run_id, site, last_update, pages, bytes_total, errors, found
FROM run_site_stats
WHERE run_id = $1
ORDER BY site
LIMIT $2 OFFSET $3`, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list run sites: %w", err)
	}
	defer rows.Close()

	var stats []store.SiteStats
	for rows.Next() {
		var stat store.SiteStats
		if err := rows.Scan(
			&stat.RunID,
			&stat.Site,
			&stat.LastUpdate,
			&stat.Pages,
			&stat.BytesTotal,
			&stat.Errors,
			&stat.Found,
		); err != nil {
			return nil, fmt.Errorf("scan site stats row: %w", err)
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate site stats rows: %w", err)
	}
	return stats, nil
}
