// Package sqlite provides the default durable frontier on an embedded
// SQLite database. A single file serves a whole run; WAL mode and a 30s
// busy timeout let the discovery writer and the dispatcher workers share it.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "embed"

	_ "modernc.org/sqlite"

	"github.com/pagemapper/dircrawl/internal/crawler"
)

//go:embed schema.sql
var schema string

// Config controls the SQLite frontier store.
type Config struct {
	// Path is a filesystem path or ":memory:".
	Path string
	// MaxAttempts is the lease count after which Fail retires a record.
	MaxAttempts int
}

// Store implements crawler.Frontier on SQLite.
type Store struct {
	db          *sql.DB
	maxAttempts int
	now         func() time.Time
}

// New opens (creating if needed) the frontier database at cfg.Path.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("frontier path is required")
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	db, err := sql.Open("sqlite", dsn(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite frontier: %w", err)
	}
	if cfg.Path == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("apply frontier schema: %w", err)
	}
	return &Store{
		db:          db,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}, nil
}

func dsn(path string) string {
	if path == ":memory:" {
		return "file::memory:?_pragma=busy_timeout(30000)"
	}
	return "file:" + path + "?_pragma=busy_timeout(30000)&_pragma=journal_mode(WAL)"
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Enqueue inserts url once. Duplicates are ignored and reported as
// added=false.
func (s *Store) Enqueue(ctx context.Context, url, domain string, depth int) (bool, error) {
	now := s.now().UnixNano()
	res, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO urls (url, domain, status, depth, created_at, updated_at)
VALUES (?, ?, 'pending', ?, ?, ?)`,
		url, domain, depth, now, now)
	if err != nil {
		return false, fmt.Errorf("enqueue url: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("enqueue rows affected: %w", err)
	}
	return affected > 0, nil
}

// LeaseNext claims the oldest pending record for domain. The claim is a
// single UPDATE so concurrent callers can never lease the same row.
func (s *Store) LeaseNext(ctx context.Context, domain string) (*crawler.URLRecord, error) {
	now := s.now().UnixNano()
	row := s.db.QueryRowContext(ctx, `
UPDATE urls
SET status = 'leased', attempts = attempts + 1, leased_at = ?, updated_at = ?
WHERE id = (
    SELECT id FROM urls
    WHERE status = 'pending' AND domain = ?
    ORDER BY id
    LIMIT 1
) AND status = 'pending'
RETURNING id, url, domain, status, depth, attempts, leased_at, created_at, updated_at`,
		now, now, domain)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, crawler.ErrFrontierEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("lease next url: %w", err)
	}
	return record, nil
}

// Complete marks a leased record done. Records in any other state are left
// untouched.
func (s *Store) Complete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE urls
SET status = 'completed', leased_at = NULL, updated_at = ?
WHERE id = ? AND status = 'leased'`,
		s.now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("complete url %d: %w", id, err)
	}
	return nil
}

// Fail returns a leased record to pending, or retires it as failed once its
// attempts reach the configured cap.
func (s *Store) Fail(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE urls
SET status = CASE WHEN attempts >= ? THEN 'failed' ELSE 'pending' END,
    leased_at = NULL,
    updated_at = ?
WHERE id = ? AND status = 'leased'`,
		s.maxAttempts, s.now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("fail url %d: %w", id, err)
	}
	return nil
}

// PendingCount reports how many records are waiting for domain.
func (s *Store) PendingCount(ctx context.Context, domain string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM urls WHERE status = 'pending' AND domain = ?`, domain).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("pending count: %w", err)
	}
	return count, nil
}

// CountByStatus returns record counts per status for domain.
func (s *Store) CountByStatus(ctx context.Context, domain string) (map[crawler.URLStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT status, COUNT(*) FROM urls WHERE domain = ? GROUP BY status`, domain)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

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

// ReleaseExpired returns records leased longer than olderThan to pending so
// work orphaned by a dead worker becomes leasable again.
func (s *Store) ReleaseExpired(ctx context.Context, olderThan time.Duration) (int, error) {
	now := s.now()
	cutoff := now.Add(-olderThan).UnixNano()
	res, err := s.db.ExecContext(ctx, `
UPDATE urls
SET status = 'pending', leased_at = NULL, updated_at = ?
WHERE status = 'leased' AND leased_at < ?`,
		now.UnixNano(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("release expired leases: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("release rows affected: %w", err)
	}
	return int(affected), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*crawler.URLRecord, error) {
	var (
		record    crawler.URLRecord
		status    string
		leasedAt  sql.NullInt64
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&record.ID, &record.URL, &record.Domain, &status,
		&record.Depth, &record.Attempts, &leasedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	record.Status = crawler.URLStatus(status)
	if leasedAt.Valid {
		t := time.Unix(0, leasedAt.Int64)
		record.LeasedAt = &t
	}
	record.CreatedAt = time.Unix(0, createdAt)
	record.UpdatedAt = time.Unix(0, updatedAt)
	return &record, nil
}
