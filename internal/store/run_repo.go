package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the runs status column.
type RunStatus string

// Run statuses persisted in runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// RunRecord models one crawl invocation for API responses.
type RunRecord struct {
	// ID is the run identifier shared with workers and events.
	ID uuid.UUID `json:"id"`
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time `json:"started_at"`
	// FinishedAt is nil until the run is marked success/error.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	// Status is running/success/error.
	Status RunStatus `json:"status"`
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string `json:"error_message,omitempty"`
}

// SiteStats captures per-site aggregation for a run.
type SiteStats struct {
	// RunID is the owning run.
	RunID uuid.UUID `json:"run_id"`
	// Site is the normalized host (e.g. example.com).
	Site string `json:"site"`
	// LastUpdate is the timestamp of the most recent aggregate.
	LastUpdate time.Time `json:"last_update"`
	// Pages counts completed scrapes for the site.
	Pages int64 `json:"pages"`
	// BytesTotal accumulates artifact bytes written.
	BytesTotal int64 `json:"bytes_total"`
	// Errors counts failed scrape attempts.
	Errors int64 `json:"errors"`
	// Found counts directories discovery recorded.
	Found int64 `json:"found"`
}

// SiteDelta carries per-site counter increments accumulated between flushes.
type SiteDelta struct {
	Pages      int64
	BytesTotal int64
	Errors     int64
	Found      int64
}

// RunRepository persists run lifecycle rows and per-site aggregates.
type RunRepository interface {
	// UpsertRunStart inserts the run as running; repeat calls are no-ops.
	UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// UpsertSiteStats folds delta into the (run, site) aggregate row.
	UpsertSiteStats(ctx context.Context, runID uuid.UUID, site string, delta SiteDelta, at time.Time) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (RunRecord, error)
	// ListRuns returns runs newest first, filtered by optional status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]RunRecord, error)
	// ListRunSites returns aggregated site stats for one run.
	ListRunSites(ctx context.Context, runID uuid.UUID, limit, offset int) ([]SiteStats, error)
}
