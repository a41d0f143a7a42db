package crawler

import (
	"context"
	"errors"
	"time"
)

// ErrFrontierEmpty is returned by LeaseNext when no pending record exists
// for the requested domain.
var ErrFrontierEmpty = errors.New("frontier: no pending urls")

// Frontier persists discovered URLs and brokers leases to workers. Records
// are unique by URL and a record can be leased by at most one worker at a
// time.
type Frontier interface {
	// Enqueue inserts url once; re-enqueueing an existing URL is a no-op
	// and returns added=false.
	Enqueue(ctx context.Context, url, domain string, depth int) (added bool, err error)
	// LeaseNext atomically claims one pending record for domain, increments
	// its attempt count, and stamps the lease time. ErrFrontierEmpty when
	// nothing is pending.
	LeaseNext(ctx context.Context, domain string) (*URLRecord, error)
	// Complete marks a leased record done. Completing a record that is not
	// leased is a no-op.
	Complete(ctx context.Context, id int64) error
	// Fail returns a leased record to pending, or to terminal failed once
	// its attempts are exhausted. Failing a record that is not leased is a
	// no-op.
	Fail(ctx context.Context, id int64) error
	PendingCount(ctx context.Context, domain string) (int, error)
	CountByStatus(ctx context.Context, domain string) (map[URLStatus]int, error)
	// ReleaseExpired returns records leased longer than olderThan to
	// pending and reports how many were released.
	ReleaseExpired(ctx context.Context, olderThan time.Duration) (int, error)
}

// Limiter throttles requests per domain.
type Limiter interface {
	// Acquire blocks until a request to url's domain is permitted, then
	// records it.
	Acquire(ctx context.Context, url string) error
	// Record logs a request made outside Acquire (e.g. a headless refetch).
	Record(url string)
}

// Pauser injects an inter-request delay.
type Pauser interface {
	Pause(ctx context.Context) error
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a probe response warrants a headless
// refetch.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Navigator renders a page in the browser and returns the settled DOM.
type Navigator interface {
	Navigate(ctx context.Context, url string) ([]byte, error)
}

// Scraper renders a directory page and captures a screenshot plus HTML.
type Scraper interface {
	Scrape(ctx context.Context, url string) (Capture, error)
}

// ArtifactStore persists scrape output and returns a URI per artifact.
type ArtifactStore interface {
	SaveScreenshot(ctx context.Context, site, name string, png []byte) (string, error)
	SaveHTML(ctx context.Context, site, name string, data []byte) (string, error)
}

// BlobStore writes a raw object and returns its URI. Implementations back
// ArtifactStore with a filesystem, a bucket, or memory.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes page events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for artifact naming and integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run and task IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
