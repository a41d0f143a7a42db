// Package pipeline wires discovery, the frontier, and the dispatcher into
// per-site crawls and supervises whole runs.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pagemapper/dircrawl/internal/crawler"
	"github.com/pagemapper/dircrawl/internal/dispatcher"
)

// Discoverer walks a site and fills the frontier.
type Discoverer interface {
	Discover(ctx context.Context, seed string) (int, error)
}

// TaskRunner drains the frontier for a site once discovery is under way.
type TaskRunner interface {
	Run(ctx context.Context, discoveryDone <-chan struct{}) (dispatcher.Stats, error)
}

// SiteConfig carries the per-site identity and warm-up tuning.
type SiteConfig struct {
	// Seed is the site's start URL.
	Seed string
	// Site labels metrics and results; defaults to Seed.
	Site string
	// Domain scopes frontier queries; defaults to Seed's host.
	Domain string

	// WarmupPending is the pending backlog that opens the gate early.
	// Zero selects 20.
	WarmupPending int
	// WarmupPoll is the gate's polling interval. Zero selects 1s.
	WarmupPoll time.Duration
	// WarmupTimeout opens the gate unconditionally. Zero selects 60s.
	WarmupTimeout time.Duration
	// LeaseExpiry is how long a lease may sit before the sweep returns it
	// to pending. The sweep runs at half this interval. Zero selects 2m.
	LeaseExpiry time.Duration
}

// Coordinator runs one site crawl: discovery in the background, a warm-up
// gate so the dispatcher starts against a primed frontier, a lease-expiry
// sweep for the duration, and a fallback seed enqueue when discovery dies
// before recording anything.
type Coordinator struct {
	cfg      SiteConfig
	frontier crawler.Frontier
	engine   Discoverer
	runner   TaskRunner
	clock    crawler.Clock
	logger   *zap.Logger
}

// NewCoordinator constructs a Coordinator for one site.
func NewCoordinator(
	cfg SiteConfig,
	frontier crawler.Frontier,
	engine Discoverer,
	runner TaskRunner,
	clock crawler.Clock,
	logger *zap.Logger,
) (*Coordinator, error) {
	if cfg.Seed == "" {
		return nil, fmt.Errorf("seed is required")
	}
	if cfg.Site == "" {
		cfg.Site = cfg.Seed
	}
	if cfg.Domain == "" {
		domain, err := crawler.Domain(cfg.Seed)
		if err != nil {
			return nil, fmt.Errorf("derive domain: %w", err)
		}
		cfg.Domain = domain
	}
	if cfg.WarmupPending <= 0 {
		cfg.WarmupPending = 20
	}
	if cfg.WarmupPoll <= 0 {
		cfg.WarmupPoll = time.Second
	}
	if cfg.WarmupTimeout <= 0 {
		cfg.WarmupTimeout = 60 * time.Second
	}
	if cfg.LeaseExpiry <= 0 {
		cfg.LeaseExpiry = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:      cfg,
		frontier: frontier,
		engine:   engine,
		runner:   runner,
		clock:    clock,
		logger:   logger.Named("pipeline").With(zap.String("site", cfg.Site)),
	}, nil
}

// Crawl runs the site to completion and reports what happened. Discovery
// errors on their own do not fail the crawl as long as pages were scraped;
// a failed walk with nothing scraped does.
func (c *Coordinator) Crawl(ctx context.Context) (crawler.SiteResult, error) {
	start := c.clock.Now()
	result := crawler.SiteResult{Site: c.cfg.Site, Domain: c.cfg.Domain}

	discoveryDone := make(chan struct{})
	var discovered int
	var discoveryErr error
	go func() {
		defer close(discoveryDone)
		discovered, discoveryErr = c.engine.Discover(ctx, c.cfg.Seed)
	}()

	c.waitForWarmup(ctx, discoveryDone)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go c.sweepLoop(sweepCtx)

	// Watch for a dead walk so the site still gets its one scrape.
	var fallback sync.WaitGroup
	fallback.Add(1)
	go func() {
		defer fallback.Done()
		select {
		case <-discoveryDone:
			if discoveryErr != nil {
				c.fallbackSeed(ctx)
			}
		case <-ctx.Done():
		}
	}()

	stats, runErr := c.runner.Run(ctx, discoveryDone)
	stopSweep()
	<-discoveryDone
	fallback.Wait()

	result.Discovered = discovered
	result.Completed = stats.Completed
	result.Failed = stats.Failed
	result.Duration = c.clock.Now().Sub(start)

	switch {
	case runErr != nil:
		return result, runErr
	case discoveryErr != nil && stats.Completed == 0:
		return result, fmt.Errorf("discovery failed and nothing was scraped: %w", discoveryErr)
	case discoveryErr != nil:
		c.logger.Warn("discovery ended with an error, scraped what was found",
			zap.Error(discoveryErr), zap.Int("completed", stats.Completed))
	}
	return result, nil
}

// waitForWarmup blocks until the frontier holds a workable backlog,
// discovery finishes, or the timeout fires.
func (c *Coordinator) waitForWarmup(ctx context.Context, discoveryDone <-chan struct{}) {
	deadline := time.NewTimer(c.cfg.WarmupTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.cfg.WarmupPoll)
	defer ticker.Stop()

	for {
		pending, err := c.frontier.PendingCount(ctx, c.cfg.Domain)
		if err != nil {
			c.logger.Warn("pending count failed during warm-up", zap.Error(err))
		} else if pending >= c.cfg.WarmupPending {
			c.logger.Info("warm-up gate open", zap.Int("pending", pending))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-discoveryDone:
			c.logger.Info("discovery finished during warm-up")
			return
		case <-deadline.C:
			c.logger.Info("warm-up timeout, starting dispatcher")
			return
		case <-ticker.C:
		}
	}
}

// sweepLoop returns crashed workers' leases to pending until ctx ends.
func (c *Coordinator) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.LeaseExpiry / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			released, err := c.frontier.ReleaseExpired(ctx, c.cfg.LeaseExpiry)
			if err != nil {
				if ctx.Err() == nil {
					c.logger.Warn("lease sweep failed", zap.Error(err))
				}
				continue
			}
			if released > 0 {
				c.logger.Info("expired leases released", zap.Int("released", released))
			}
		}
	}
}

// fallbackSeed enqueues the bare seed when the walk recorded nothing, so
// the dispatcher scrapes at least the start page.
func (c *Coordinator) fallbackSeed(ctx context.Context) {
	counts, err := c.frontier.CountByStatus(ctx, c.cfg.Domain)
	if err != nil {
		c.logger.Error("fallback seed check failed", zap.Error(err))
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	if total > 0 {
		return
	}

	seed, err := crawler.NormalizeDirectory(c.cfg.Seed)
	if err != nil {
		c.logger.Error("fallback seed unusable", zap.Error(err))
		return
	}
	if _, err := c.frontier.Enqueue(ctx, seed, c.cfg.Domain, 0); err != nil {
		c.logger.Error("fallback seed enqueue failed", zap.Error(err))
		return
	}
	c.logger.Info("discovery failed, enqueued bare seed", zap.String("seed", seed))
}
