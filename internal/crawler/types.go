package crawler

import (
	"net/http"
	"time"
)

// URLStatus represents the lifecycle state of a frontier record.
type URLStatus string

// Frontier record status values persisted by every store driver.
const (
	StatusPending   URLStatus = "pending"
	StatusLeased    URLStatus = "leased"
	StatusCompleted URLStatus = "completed"
	StatusFailed    URLStatus = "failed"
)

// URLRecord is the durable unit of work tracked by the frontier. Records are
// unique by URL; Attempts counts leases so persistent failures can be retired.
type URLRecord struct {
	ID        int64      `json:"id"`
	URL       string     `json:"url"`
	Domain    string     `json:"domain"`
	Status    URLStatus  `json:"status"`
	Depth     int        `json:"depth"`
	Attempts  int        `json:"attempts"`
	LeasedAt  *time.Time `json:"leased_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// DirectoryTask is the typed unit handed to a dispatcher slot.
type DirectoryTask struct {
	RecordID int64
	URL      string
	Domain   string
	Depth    int
	Slot     int
}

// Capture is the raw output of scraping one directory page.
type Capture struct {
	URL        string
	Screenshot []byte
	HTML       []byte
	Duration   time.Duration
}

// PageEvent is published after a directory page has been scraped and its
// artifacts persisted.
type PageEvent struct {
	RunID         string    `json:"run_id"`
	Site          string    `json:"site"`
	URL           string    `json:"url"`
	ScreenshotURI string    `json:"screenshot_uri,omitempty"`
	HTMLURI       string    `json:"html_uri,omitempty"`
	Bytes         int64     `json:"bytes"`
	DurationMs    int64     `json:"duration_ms"`
	ScrapedAt     time.Time `json:"scraped_at"`
}

// SiteResult aggregates the outcome of one site crawl.
type SiteResult struct {
	Site       string        `json:"site"`
	Domain     string        `json:"domain"`
	Discovered int           `json:"discovered"`
	Completed  int           `json:"completed"`
	Failed     int           `json:"failed"`
	Duration   time.Duration `json:"duration"`
	Err        string        `json:"error,omitempty"`
}

// Summary aggregates a whole run across sites.
type Summary struct {
	Sites           []SiteResult  `json:"sites"`
	SitesOK         int           `json:"sites_ok"`
	SitesFailed     int           `json:"sites_failed"`
	PagesCompleted  int           `json:"pages_completed"`
	PagesFailed     int           `json:"pages_failed"`
	Elapsed         time.Duration `json:"elapsed"`
	PagesPerSecond  float64       `json:"pages_per_second"`
	SitesPerMinute  float64       `json:"sites_per_minute"`
	AvgPagesPerSite float64       `json:"avg_pages_per_site"`
}

// FetchRequest captures everything the probe or headless fetcher needs.
type FetchRequest struct {
	URL         string
	Depth       int
	UseHeadless bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}
