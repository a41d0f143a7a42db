package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagemapper/dircrawl/internal/crawler"
	"github.com/pagemapper/dircrawl/internal/metrics"
	"github.com/pagemapper/dircrawl/internal/progress"
)

// SiteCrawler runs one site crawl to completion.
type SiteCrawler interface {
	Crawl(ctx context.Context) (crawler.SiteResult, error)
}

// CrawlerFactory builds the pipeline for one seed. Each call must return
// fresh per-site state (rate limit window, namer, site label) so sites
// never share throttling or artifact names.
type CrawlerFactory func(runID uuid.UUID, seed string) (SiteCrawler, error)

// RunConfig bounds a whole run.
type RunConfig struct {
	// MaxConcurrentSites caps parallel site crawls. Zero selects 3.
	MaxConcurrentSites int
	// SiteTimeout bounds each site crawl. Zero selects 300s.
	SiteTimeout time.Duration
}

// Supervisor fans seeds out to site crawls under a concurrency bound and
// aggregates the run summary.
type Supervisor struct {
	cfg     RunConfig
	factory CrawlerFactory
	emitter progress.Emitter
	clock   crawler.Clock
	logger  *zap.Logger
}

// NewSupervisor constructs a Supervisor. emitter may be nil.
func NewSupervisor(
	cfg RunConfig,
	factory CrawlerFactory,
	emitter progress.Emitter,
	clock crawler.Clock,
	logger *zap.Logger,
) *Supervisor {
	if cfg.MaxConcurrentSites <= 0 {
		cfg.MaxConcurrentSites = 3
	}
	if cfg.SiteTimeout <= 0 {
		cfg.SiteTimeout = 300 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		cfg:     cfg,
		factory: factory,
		emitter: emitter,
		clock:   clock,
		logger:  logger.Named("supervisor"),
	}
}

// Run crawls every seed and returns the aggregated summary. One site's
// failure never stops the others; a canceled context does.
func (s *Supervisor) Run(ctx context.Context, runID uuid.UUID, seeds []string) (crawler.Summary, error) {
	if len(seeds) == 0 {
		return crawler.Summary{}, fmt.Errorf("no seeds to crawl")
	}

	start := s.clock.Now()
	s.logger.Info("run started",
		zap.String("run_id", runID.String()),
		zap.Int("sites", len(seeds)),
		zap.Int("max_concurrent", s.cfg.MaxConcurrentSites))
	s.emit(runID, progress.Event{
		Stage: progress.StageRunStart,
		Note:  fmt.Sprintf("%d sites", len(seeds)),
	})

	sem := make(chan struct{}, s.cfg.MaxConcurrentSites)
	results := make([]crawler.SiteResult, len(seeds))

	var wg sync.WaitGroup
	for i, seed := range seeds {
		wg.Add(1)
		go func(i int, seed string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = crawler.SiteResult{Site: seed, Err: ctx.Err().Error()}
				return
			}
			defer func() { <-sem }()
			results[i] = s.crawlSite(ctx, runID, seed)
		}(i, seed)
	}
	wg.Wait()

	summary := buildSummary(results, s.clock.Now().Sub(start))
	done := progress.Event{
		Stage: progress.StageRunDone,
		Found: int64(summary.PagesCompleted),
		Dur:   summary.Elapsed,
	}
	if summary.SitesFailed > 0 {
		done.Note = fmt.Sprintf("%d of %d sites failed", summary.SitesFailed, len(seeds))
	}
	s.emit(runID, done)
	s.logSummary(runID, summary)

	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("run canceled: %w", err)
	}
	return summary, nil
}

func (s *Supervisor) crawlSite(ctx context.Context, runID uuid.UUID, seed string) crawler.SiteResult {
	logger := s.logger.With(zap.String("site", seed))
	start := s.clock.Now()
	s.emit(runID, progress.Event{Stage: progress.StageSiteStart, Site: seed})

	site, err := s.factory(runID, seed)
	if err != nil {
		logger.Error("site pipeline build failed", zap.Error(err))
		result := crawler.SiteResult{
			Site:     seed,
			Err:      err.Error(),
			Duration: s.clock.Now().Sub(start),
		}
		s.finishSite(runID, result)
		return result
	}

	siteCtx, cancel := context.WithTimeout(ctx, s.cfg.SiteTimeout)
	defer cancel()

	result, err := site.Crawl(siteCtx)
	if result.Site == "" {
		result.Site = seed
	}
	if result.Duration == 0 {
		result.Duration = s.clock.Now().Sub(start)
	}
	if err != nil {
		result.Err = err.Error()
		logger.Warn("site crawl failed",
			zap.Int("completed", result.Completed),
			zap.Int("failed", result.Failed),
			zap.Error(err))
	} else {
		logger.Info("site crawl finished",
			zap.Int("discovered", result.Discovered),
			zap.Int("completed", result.Completed),
			zap.Int("failed", result.Failed),
			zap.Duration("took", result.Duration))
	}
	s.finishSite(runID, result)
	return result
}

func (s *Supervisor) finishSite(runID uuid.UUID, result crawler.SiteResult) {
	status := "completed"
	if result.Err != "" {
		status = "failed"
	}
	metrics.ObserveSite(status)
	s.emit(runID, progress.Event{
		Stage: progress.StageSiteDone,
		Site:  result.Site,
		Found: int64(result.Discovered),
		Dur:   result.Duration,
		Note:  result.Err,
	})
}

func (s *Supervisor) emit(runID uuid.UUID, evt progress.Event) {
	if s.emitter == nil {
		return
	}
	evt.RunID = progress.UUIDToBytes(runID)
	if evt.TS.IsZero() {
		evt.TS = s.clock.Now()
	}
	s.emitter.Emit(evt)
}

func (s *Supervisor) logSummary(runID uuid.UUID, summary crawler.Summary) {
	s.logger.Info("run finished",
		zap.String("run_id", runID.String()),
		zap.Int("sites_ok", summary.SitesOK),
		zap.Int("sites_failed", summary.SitesFailed),
		zap.Int("pages_completed", summary.PagesCompleted),
		zap.Int("pages_failed", summary.PagesFailed),
		zap.Duration("elapsed", summary.Elapsed),
		zap.Float64("pages_per_second", summary.PagesPerSecond),
		zap.Float64("sites_per_minute", summary.SitesPerMinute),
		zap.Float64("avg_pages_per_site", summary.AvgPagesPerSite))
}

func buildSummary(results []crawler.SiteResult, elapsed time.Duration) crawler.Summary {
	summary := crawler.Summary{Sites: results, Elapsed: elapsed}
	for _, r := range results {
		if r.Err == "" {
			summary.SitesOK++
		} else {
			summary.SitesFailed++
		}
		summary.PagesCompleted += r.Completed
		summary.PagesFailed += r.Failed
	}
	if secs := elapsed.Seconds(); secs > 0 {
		summary.PagesPerSecond = float64(summary.PagesCompleted) / secs
	}
	if mins := elapsed.Minutes(); mins > 0 {
		summary.SitesPerMinute = float64(len(results)) / mins
	}
	if len(results) > 0 {
		summary.AvgPagesPerSite = float64(summary.PagesCompleted) / float64(len(results))
	}
	return summary
}
