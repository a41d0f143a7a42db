// Package memory provides an in-memory frontier for tests and ephemeral
// runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pagemapper/dircrawl/internal/crawler"
)

// Store implements crawler.Frontier with mutex-guarded maps.
type Store struct {
	mu          sync.Mutex
	byURL       map[string]*crawler.URLRecord
	byID        map[int64]*crawler.URLRecord
	order       []int64
	nextID      int64
	maxAttempts int
	now         func() time.Time
}

// New constructs a Store retiring records after maxAttempts failed leases
// (3 when maxAttempts <= 0).
func New(maxAttempts int) *Store {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Store{
		byURL:       make(map[string]*crawler.URLRecord),
		byID:        make(map[int64]*crawler.URLRecord),
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Enqueue inserts url once; duplicates report added=false.
func (s *Store) Enqueue(_ context.Context, url, domain string, depth int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byURL[url]; exists {
		return false, nil
	}
	s.nextID++
	now := s.now().UTC()
	record := &crawler.URLRecord{
		ID:        s.nextID,
		URL:       url,
		Domain:    domain,
		Status:    crawler.StatusPending,
		Depth:     depth,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.byURL[url] = record
	s.byID[record.ID] = record
	s.order = append(s.order, record.ID)
	return true, nil
}

// LeaseNext claims the oldest pending record for domain.
func (s *Store) LeaseNext(_ context.Context, domain string) (*crawler.URLRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		record := s.byID[id]
		if record.Status != crawler.StatusPending || record.Domain != domain {
			continue
		}
		now := s.now().UTC()
		record.Status = crawler.StatusLeased
		record.Attempts++
		record.LeasedAt = pointerTime(now)
		record.UpdatedAt = now
		clone := *record
		return &clone, nil
	}
	return nil, crawler.ErrFrontierEmpty
}

// Complete marks a leased record done; other states are left untouched.
func (s *Store) Complete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.byID[id]
	if !ok || record.Status != crawler.StatusLeased {
		return nil
	}
	record.Status = crawler.StatusCompleted
	record.LeasedAt = nil
	record.UpdatedAt = s.now().UTC()
	return nil
}

// Fail requeues a leased record, or retires it once attempts are exhausted.
func (s *Store) Fail(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.byID[id]
	if !ok || record.Status != crawler.StatusLeased {
		return nil
	}
	if record.Attempts >= s.maxAttempts {
		record.Status = crawler.StatusFailed
	} else {
		record.Status = crawler.StatusPending
	}
	record.LeasedAt = nil
	record.UpdatedAt = s.now().UTC()
	return nil
}

// PendingCount reports how many records are waiting for domain.
func (s *Store) PendingCount(_ context.Context, domain string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, record := range s.byURL {
		if record.Domain == domain && record.Status == crawler.StatusPending {
			count++
		}
	}
	return count, nil
}

// CountByStatus returns record counts per status for domain.
func (s *Store) CountByStatus(_ context.Context, domain string) (map[crawler.URLStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[crawler.URLStatus]int)
	for _, record := range s.byURL {
		if record.Domain == domain {
			counts[record.Status]++
		}
	}
	return counts, nil
}

// ReleaseExpired returns records leased longer than olderThan to pending.
func (s *Store) ReleaseExpired(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().UTC().Add(-olderThan)
	released := 0
	for _, record := range s.byURL {
		if record.Status != crawler.StatusLeased || record.LeasedAt == nil {
			continue
		}
		if record.LeasedAt.Before(cutoff) {
			record.Status = crawler.StatusPending
			record.LeasedAt = nil
			record.UpdatedAt = s.now().UTC()
			released++
		}
	}
	return released, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
