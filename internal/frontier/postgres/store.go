// Package postgres provides a Postgres-backed frontier for deployments that
// outgrow the embedded SQLite store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pagemapper/dircrawl/internal/crawler"
)

const schema = `
CREATE TABLE IF NOT EXISTS urls (
    id         BIGSERIAL PRIMARY KEY,
    url        TEXT NOT NULL UNIQUE,
    domain     TEXT NOT NULL,
    status     TEXT NOT NULL DEFAULT 'pending',
    depth      INT  NOT NULL DEFAULT 0,
    attempts   INT  NOT NULL DEFAULT 0,
    leased_at  TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_urls_status_domain ON urls (status, domain)`

// Config controls the Postgres connection pool behind the frontier.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// MaxAttempts is the lease count after which Fail retires a record.
	MaxAttempts int
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements crawler.Frontier on Postgres. Leases ride on
// FOR UPDATE SKIP LOCKED so concurrent workers never contend for the same
// row.
type Store struct {
	pool        pool
	maxAttempts int
	now         func() time.Time
}

// New connects a pooled store using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("frontier.postgres_dsn is required")
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
	return NewWithPool(p, cfg.MaxAttempts), nil
}

// NewWithPool constructs a store from an existing pool (primarily for
// testing).
func NewWithPool(p pool, maxAttempts int) *Store {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Store{pool: p, maxAttempts: maxAttempts, now: time.Now}
}

// EnsureSchema creates the urls table and its indexes when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure frontier schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Enqueue inserts url once; duplicates report added=false.
func (s *Store) Enqueue(ctx context.Context, url, domain string, depth int) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
INSERT INTO urls (url, domain, status, depth, created_at, updated_at)
VALUES ($1, $2, 'pending', $3, $4, $4)
ON CONFLICT (url) DO NOTHING`,
		url, domain, depth, s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("enqueue url: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// LeaseNext claims the oldest pending record for domain.
func (s *Store) LeaseNext(ctx context.Context, domain string) (*crawler.URLRecord, error) {
	row := s.pool.QueryRow(ctx, `
UPDATE urls
SET status = 'leased', attempts = attempts + 1, leased_at = $2, updated_at = $2
WHERE id = (
    SELECT id FROM urls
    WHERE status = 'pending' AND domain = $1
    ORDER BY id
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
RETURNING id, url, domain, status, depth, attempts, leased_at, created_at, updated_at`,
		domain, s.now().UTC())

	var (
		record   crawler.URLRecord
		status   string
		leasedAt *time.Time
	)
	err := row.Scan(&record.ID, &record.URL, &record.Domain, &status,
		&record.Depth, &record.Attempts, &leasedAt, &record.CreatedAt, &record.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, crawler.ErrFrontierEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("lease next url: %w", err)
	}
	record.Status = crawler.URLStatus(status)
	record.LeasedAt = leasedAt
	return &record, nil
}

// Complete marks a leased record done; other states are left untouched.
func (s *Store) Complete(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
UPDATE urls
SET status = 'completed', leased_at = NULL, updated_at = $2
WHERE id = $1 AND status = 'leased'`,
		id, s.now().UTC())
	if err != nil {
		return fmt.Errorf("complete url %d: %w", id, err)
	}
	return nil
}

// Fail requeues a leased record, or retires it once attempts are exhausted.
func (s *Store) Fail(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
UPDATE urls
SET status = CASE WHEN attempts >= $2 THEN 'failed' ELSE 'pending' END,
    leased_at = NULL,
    updated_at = $3
WHERE id = $1 AND status = 'leased'`,
		id, s.maxAttempts, s.now().UTC())
	if err != nil {
		return fmt.Errorf("fail url %d: %w", id, err)
	}
	return nil
}

// PendingCount reports how many records are waiting for domain.
func (s *Store) PendingCount(ctx context.Context, domain string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
SELECT COUNT(*) FROM urls WHERE status = 'pending' AND domain = $1`, domain).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("pending count: %w", err)
	}
	return count, nil
}

// CountByStatus returns record counts per status for domain.
func (s *Store) CountByStatus(ctx context.Context, domain string) (map[crawler.URLStatus]int, error) {
	rows, err := s.pool.Query(ctx, `
SELECT status, COUNT(*) FROM urls WHERE domain = $1 GROUP BY status`, domain)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[crawler.URLStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[crawler.URLStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

// ReleaseExpired returns records leased longer than olderThan to pending.
func (s *Store) ReleaseExpired(ctx context.Context, olderThan time.Duration) (int, error) {
	now := s.now().UTC()
	tag, err := s.pool.Exec(ctx, `
UPDATE urls
SET status = 'pending', leased_at = NULL, updated_at = $2
WHERE status = 'leased' AND leased_at < $1`,
		now.Add(-olderThan), now)
	if err != nil {
		return 0, fmt.Errorf("release expired leases: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
