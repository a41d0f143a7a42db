package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart       Stage = "RUN_START"
	StageRunDone        Stage = "RUN_DONE"
	StageSiteStart      Stage = "SITE_START"
	StageSiteDone       Stage = "SITE_DONE"
	StageDiscoveryFound Stage = "DISCOVERY_FOUND"
	StageScrapeStart    Stage = "SCRAPE_START"
	StageScrapeDone     Stage = "SCRAPE_DONE"
	StageScrapeError    Stage = "SCRAPE_ERROR"
)

// Event captures a single milestone of crawl progress.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Site scopes site and scrape events to one seed site.
	Site string
	// URL is the page URL for scrape events.
	URL string
	// Bytes carries the artifact size delta for a completed scrape.
	Bytes int64
	// Found carries the directory count delta for discovery events.
	Found int64
	// Dur captures latency for scrapes and run/site completions.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StageSiteStart, StageSiteDone, StageDiscoveryFound,
		StageScrapeStart, StageScrapeDone, StageScrapeError:
		if e.Site == "" {
			return fmt.Errorf("%s requires site", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Found < 0 {
		return errors.New("found must be >= 0")
	}
	if e.Bytes < 0 {
		return errors.New("bytes must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
