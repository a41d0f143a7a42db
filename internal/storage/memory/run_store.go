package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pagemapper/dircrawl/internal/store"
)

// RunStore keeps run history in process memory. It backs tests and runs
// without a Postgres DSN.
type RunStore struct {
	mu    sync.RWMutex
	runs  map[uuid.UUID]store.RunRecord
	sites map[uuid.UUID]map[string]store.SiteStats
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore constructs an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:  make(map[uuid.UUID]store.RunRecord),
		sites: make(map[uuid.UUID]map[string]store.SiteStats),
	}
}

// UpsertRunStart records the run as running; repeated calls keep the first
// start time.
func (s *RunStore) UpsertRunStart(_ context.Context, runID uuid.UUID, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[runID]; exists {
		return nil
	}
	s.runs[runID] = store.RunRecord{ID: runID, StartedAt: startedAt, Status: store.RunRunning}
	return nil
}

// CompleteRun marks the run finished.
func (s *RunStore) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	run.FinishedAt = &finishedAt
	run.Status = status
	run.ErrorMessage = errMsg
	s.runs[runID] = run
	return nil
}

// UpsertSiteStats folds delta into the per-site aggregate.
func (s *RunStore) UpsertSiteStats(
	_ context.Context,
	runID uuid.UUID,
	site string,
	delta store.SiteDelta,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	perSite, ok := s.sites[runID]
	if !ok {
		perSite = make(map[string]store.SiteStats)
		s.sites[runID] = perSite
	}
	stats := perSite[site]
	stats.RunID = runID
	stats.Site = site
	stats.LastUpdate = at
	stats.Pages += delta.Pages
	stats.BytesTotal += delta.BytesTotal
	stats.Errors += delta.Errors
	stats.Found += delta.Found
	perSite[site] = stats
	return nil
}

// GetRun fetches a single run by ID.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (store.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.RunRecord{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first, optionally filtered by status.
func (s *RunStore) ListRuns(
	_ context.Context,
	status *store.RunStatus,
	limit, offset int,
) ([]store.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make([]store.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	return window(runs, limit, offset), nil
}

// ListRunSites returns per-site aggregates for one run, sorted by site.
func (s *RunStore) ListRunSites(
	_ context.Context,
	runID uuid.UUID,
	limit, offset int,
) ([]store.SiteStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	perSite := s.sites[runID]
	stats := make([]store.SiteStats, 0, len(perSite))
	for _, st := range perSite {
		stats = append(stats, st)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Site < stats[j].Site })
	return window(stats, limit, offset), nil
}

func window[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
