// Package dispatcher leases directory records from the frontier and fans
// them out to a fixed pool of scrape slots.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagemapper/dircrawl/internal/artifacts"
	"github.com/pagemapper/dircrawl/internal/crawler"
	"github.com/pagemapper/dircrawl/internal/metrics"
	"github.com/pagemapper/dircrawl/internal/progress"
)

// Config controls the pool size and the exit protocol for one site.
type Config struct {
	// Workers is the number of concurrent scrape slots. Zero selects the
	// default of 5.
	Workers int
	// EmptyChecksBeforeExit is how many consecutive empty frontier checks,
	// after discovery has finished, end the run. Zero selects 10.
	EmptyChecksBeforeExit int
	// EmptyPoll is the pause between frontier checks once discovery is
	// done or all slots are busy. Zero selects 500ms.
	EmptyPoll time.Duration
	// DiscoveryWait is the pause between frontier checks while discovery
	// is still filling the frontier. Zero selects 2s.
	DiscoveryWait time.Duration
	// SlotStagger spaces out slot start times so a fresh pool does not
	// fire its first requests simultaneously. Zero selects 300ms.
	SlotStagger time.Duration

	// RunID tags progress events and page events.
	RunID uuid.UUID
	// Site is the site URL used for metrics and progress events.
	Site string
	// SiteLabel is the timestamped per-site artifact directory.
	SiteLabel string
	// Domain scopes frontier leases.
	Domain string
	// Topic is the page event topic; empty disables publishing.
	Topic string
}

// Stats summarizes one dispatcher run.
type Stats struct {
	Completed int
	Failed    int
}

// Dispatcher drives the scrape phase for a single site. It leases pending
// records until every slot is busy, hands each lease to a slot, and records
// the outcome back on the frontier. The run ends when discovery has finished
// and repeated frontier checks come up empty with nothing in flight.
type Dispatcher struct {
	cfg       Config
	frontier  crawler.Frontier
	scraper   crawler.Scraper
	limiter   crawler.Limiter
	pauser    crawler.Pauser
	store     crawler.ArtifactStore
	namer     *artifacts.Namer
	publisher crawler.Publisher
	emitter   progress.Emitter
	clock     crawler.Clock
	logger    *zap.Logger

	completed atomic.Int64
	failed    atomic.Int64
	inFlight  atomic.Int64
}

// New constructs a Dispatcher. publisher and emitter may be nil.
func New(
	cfg Config,
	frontier crawler.Frontier,
	scraper crawler.Scraper,
	limiter crawler.Limiter,
	pauser crawler.Pauser,
	store crawler.ArtifactStore,
	namer *artifacts.Namer,
	publisher crawler.Publisher,
	emitter progress.Emitter,
	clock crawler.Clock,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	if cfg.EmptyChecksBeforeExit <= 0 {
		cfg.EmptyChecksBeforeExit = 10
	}
	if cfg.EmptyPoll <= 0 {
		cfg.EmptyPoll = 500 * time.Millisecond
	}
	if cfg.DiscoveryWait <= 0 {
		cfg.DiscoveryWait = 2 * time.Second
	}
	if cfg.SlotStagger <= 0 {
		cfg.SlotStagger = 300 * time.Millisecond
	}
	if cfg.Site == "" {
		cfg.Site = cfg.Domain
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:       cfg,
		frontier:  frontier,
		scraper:   scraper,
		limiter:   limiter,
		pauser:    pauser,
		store:     store,
		namer:     namer,
		publisher: publisher,
		emitter:   emitter,
		clock:     clock,
		logger:    logger.Named("dispatcher"),
	}
}

// Run blocks until the frontier is drained or ctx is canceled. discoveryDone
// must be closed when the discovery walk for this site has finished; until
// then an empty frontier only means discovery has not caught up yet.
func (d *Dispatcher) Run(ctx context.Context, discoveryDone <-chan struct{}) (Stats, error) {
	d.logger.Info("dispatcher started",
		zap.String("domain", d.cfg.Domain),
		zap.Int("workers", d.cfg.Workers))

	tasks := make(chan crawler.DirectoryTask)

	var wg sync.WaitGroup
	for slot := 0; slot < d.cfg.Workers; slot++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			d.staggerStart(ctx, slot)
			d.runSlot(ctx, slot, tasks)
		}(slot)
	}

	err := d.dispatch(ctx, tasks, discoveryDone)
	close(tasks)
	wg.Wait()

	stats := Stats{
		Completed: int(d.completed.Load()),
		Failed:    int(d.failed.Load()),
	}
	d.logger.Info("dispatcher finished",
		zap.String("domain", d.cfg.Domain),
		zap.Int("completed", stats.Completed),
		zap.Int("failed", stats.Failed))
	return stats, err
}

// staggerStart delays slot's first lease so the pool ramps up gradually.
func (d *Dispatcher) staggerStart(ctx context.Context, slot int) {
	if slot == 0 {
		return
	}
	timer := time.NewTimer(time.Duration(slot) * d.cfg.SlotStagger)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, tasks chan<- crawler.DirectoryTask, discoveryDone <-chan struct{}) error {
	emptyChecks := 0
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("dispatch canceled: %w", err)
		}

		// Lease until every slot has work.
		leased := false
		for d.inFlight.Load() < int64(d.cfg.Workers) {
			record, err := d.frontier.LeaseNext(ctx, d.cfg.Domain)
			if errors.Is(err, crawler.ErrFrontierEmpty) {
				break
			}
			if err != nil {
				return fmt.Errorf("lease next: %w", err)
			}

			leased = true
			emptyChecks = 0
			d.inFlight.Add(1)
			task := crawler.DirectoryTask{
				RecordID: record.ID,
				URL:      record.URL,
				Domain:   record.Domain,
				Depth:    record.Depth,
			}
			select {
			case tasks <- task:
			case <-ctx.Done():
				d.inFlight.Add(-1)
				return fmt.Errorf("dispatch canceled: %w", ctx.Err())
			}
		}
		if leased {
			continue
		}

		if d.inFlight.Load() >= int64(d.cfg.Workers) {
			if err := d.sleep(ctx, d.cfg.EmptyPoll); err != nil {
				return err
			}
			continue
		}

		select {
		case <-discoveryDone:
			emptyChecks++
			if emptyChecks >= d.cfg.EmptyChecksBeforeExit && d.inFlight.Load() == 0 {
				d.logger.Info("frontier drained",
					zap.String("domain", d.cfg.Domain),
					zap.Int("empty_checks", emptyChecks))
				return nil
			}
			if err := d.sleep(ctx, d.cfg.EmptyPoll); err != nil {
				return err
			}
		default:
			// Discovery is still walking the site, so an empty frontier
			// is temporary.
			emptyChecks = 0
			if err := d.sleep(ctx, d.cfg.DiscoveryWait); err != nil {
				return err
			}
		}
	}
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) error {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatch canceled: %w", ctx.Err())
	}
}

func (d *Dispatcher) runSlot(ctx context.Context, slot int, tasks <-chan crawler.DirectoryTask) {
	logger := d.logger.With(zap.Int("slot", slot))
	logger.Debug("slot started")
	for task := range tasks {
		task.Slot = slot
		d.runTask(ctx, logger, task)
	}
	logger.Debug("slot stopped")
}

// runTask scrapes one leased record and reconciles the outcome with the
// frontier. Reconciliation runs detached from ctx so a shutdown mid-scrape
// still persists the record's fate.
func (d *Dispatcher) runTask(ctx context.Context, logger *zap.Logger, task crawler.DirectoryTask) {
	defer d.inFlight.Add(-1)

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	start := d.clock.Now()
	d.emit(progress.Event{Stage: progress.StageScrapeStart, Site: d.cfg.Site, URL: task.URL})

	written, err := d.scrapeTask(ctx, logger, task)
	took := d.clock.Now().Sub(start)

	if err != nil {
		d.failed.Add(1)
		metrics.ObserveScrape(d.cfg.Site, "failed", 0)
		d.emit(progress.Event{
			Stage: progress.StageScrapeError,
			Site:  d.cfg.Site,
			URL:   task.URL,
			Dur:   took,
			Note:  err.Error(),
		})
		logger.Warn("scrape failed",
			zap.String("url", task.URL),
			zap.Int64("record_id", task.RecordID),
			zap.Error(err))
		if failErr := d.frontier.Fail(context.WithoutCancel(ctx), task.RecordID); failErr != nil {
			logger.Error("record failure not persisted",
				zap.Int64("record_id", task.RecordID), zap.Error(failErr))
		}
	} else {
		d.completed.Add(1)
		metrics.ObserveScrape(d.cfg.Site, "completed", written)
		d.emit(progress.Event{
			Stage: progress.StageScrapeDone,
			Site:  d.cfg.Site,
			URL:   task.URL,
			Bytes: int64(written),
			Dur:   took,
		})
		logger.Info("directory scraped",
			zap.String("url", task.URL),
			zap.Int("bytes", written),
			zap.Duration("took", took))
		if compErr := d.frontier.Complete(context.WithoutCancel(ctx), task.RecordID); compErr != nil {
			logger.Error("record completion not persisted",
				zap.Int64("record_id", task.RecordID), zap.Error(compErr))
		}
	}

	if pauseErr := d.pauser.Pause(ctx); pauseErr != nil && ctx.Err() == nil {
		logger.Debug("pause interrupted", zap.Error(pauseErr))
	}
}

// scrapeTask captures one directory page and persists its artifacts. A panic
// in the scrape stack fails the task instead of killing the slot.
func (d *Dispatcher) scrapeTask(ctx context.Context, logger *zap.Logger, task crawler.DirectoryTask) (written int, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("scrape panicked",
				zap.String("url", task.URL), zap.Any("panic", r))
			written = 0
			err = fmt.Errorf("scrape panic: %v", r)
		}
	}()

	if err := d.limiter.Acquire(ctx, task.URL); err != nil {
		return 0, fmt.Errorf("rate limit: %w", err)
	}

	capture, err := d.scraper.Scrape(ctx, task.URL)
	if err != nil {
		return 0, fmt.Errorf("scrape %s: %w", task.URL, err)
	}

	name := d.namer.Name(task.URL)

	var shotURI string
	if len(capture.Screenshot) > 0 {
		shotURI, err = d.store.SaveScreenshot(ctx, d.cfg.SiteLabel, name, capture.Screenshot)
		if err != nil {
			return 0, fmt.Errorf("save screenshot: %w", err)
		}
		written += len(capture.Screenshot)
	}

	htmlURI, err := d.store.SaveHTML(ctx, d.cfg.SiteLabel, name, capture.HTML)
	if err != nil {
		return 0, fmt.Errorf("save html: %w", err)
	}
	written += len(capture.HTML)

	if pubErr := d.publishEvent(ctx, capture, shotURI, htmlURI, written); pubErr != nil {
		logger.Warn("publish page event failed",
			zap.String("url", task.URL), zap.Error(pubErr))
	}
	return written, nil
}

func (d *Dispatcher) publishEvent(ctx context.Context, capture crawler.Capture, shotURI, htmlURI string, written int) error {
	if d.cfg.Topic == "" || d.publisher == nil {
		return nil
	}
	event := crawler.PageEvent{
		RunID:         d.cfg.RunID.String(),
		Site:          d.cfg.Site,
		URL:           capture.URL,
		ScreenshotURI: shotURI,
		HTMLURI:       htmlURI,
		Bytes:         int64(written),
		DurationMs:    capture.Duration.Milliseconds(),
		ScrapedAt:     d.clock.Now(),
	}
	if _, err := d.publisher.Publish(ctx, d.cfg.Topic, event); err != nil {
		return fmt.Errorf("publish page event: %w", err)
	}
	return nil
}

func (d *Dispatcher) emit(evt progress.Event) {
	if d.emitter == nil {
		return
	}
	evt.RunID = progress.UUIDToBytes(d.cfg.RunID)
	if evt.TS.IsZero() {
		evt.TS = d.clock.Now()
	}
	d.emitter.Emit(evt)
}
