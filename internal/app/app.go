// Package app assembles the crawl service from configuration: it selects
// the frontier, artifact, run-history, and publisher backends, builds the
// fetchers and progress hub, and runs crawl runs through the pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	gstorage "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pagemapper/dircrawl/internal/api"
	"github.com/pagemapper/dircrawl/internal/artifacts"
	"github.com/pagemapper/dircrawl/internal/clock/system"
	"github.com/pagemapper/dircrawl/internal/config"
	"github.com/pagemapper/dircrawl/internal/crawler"
	"github.com/pagemapper/dircrawl/internal/discovery"
	"github.com/pagemapper/dircrawl/internal/dispatcher"
	collyfetcher "github.com/pagemapper/dircrawl/internal/fetcher/colly"
	headlessfetcher "github.com/pagemapper/dircrawl/internal/fetcher/headless"
	frontiermem "github.com/pagemapper/dircrawl/internal/frontier/memory"
	frontierpg "github.com/pagemapper/dircrawl/internal/frontier/postgres"
	frontiersqlite "github.com/pagemapper/dircrawl/internal/frontier/sqlite"
	"github.com/pagemapper/dircrawl/internal/hash/sha256"
	"github.com/pagemapper/dircrawl/internal/headless/detector"
	iduuid "github.com/pagemapper/dircrawl/internal/id/uuid"
	"github.com/pagemapper/dircrawl/internal/logging"
	"github.com/pagemapper/dircrawl/internal/metrics"
	"github.com/pagemapper/dircrawl/internal/pipeline"
	"github.com/pagemapper/dircrawl/internal/policy/ratelimit"
	"github.com/pagemapper/dircrawl/internal/progress"
	"github.com/pagemapper/dircrawl/internal/progress/sinks"
	pubmem "github.com/pagemapper/dircrawl/internal/publisher/memory"
	pubps "github.com/pagemapper/dircrawl/internal/publisher/pubsub"
	"github.com/pagemapper/dircrawl/internal/storage/gcs"
	"github.com/pagemapper/dircrawl/internal/storage/local"
	storagemem "github.com/pagemapper/dircrawl/internal/storage/memory"
	storepg "github.com/pagemapper/dircrawl/internal/storage/postgres"
	"github.com/pagemapper/dircrawl/internal/store"
)

// App owns the infrastructure shared by every site crawl. Build wires it
// from configuration, Run executes one crawl run over a set of seeds, and
// Close flushes progress and releases every resource.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	frontier  crawler.Frontier
	blobs     crawler.BlobStore
	artifacts *artifacts.Store
	namer     *artifacts.Namer

	probe     *collyfetcher.Fetcher
	browser   *headlessfetcher.Browser
	scraper   crawler.Scraper
	navigator crawler.Navigator
	detector  crawler.HeadlessDetector
	probeCap  *ratelimit.ProbeCap

	runs      store.RunRepository
	hub       *progress.Hub
	publisher crawler.Publisher

	clock crawler.Clock
	ids   *iduuid.Generator

	gcsClient *gstorage.Client
	apiServer *api.Server
}

// Build validates cfg and assembles an App. Resources created before a
// failure are released, so a non-nil error never leaks connections.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    iduuid.NewUUIDGenerator(),
	}
	if err := app.setupFrontier(ctx); err != nil {
		app.Close(context.Background())
		return nil, err
	}
	if err := app.setupArtifacts(ctx); err != nil {
		app.Close(context.Background())
		return nil, err
	}
	if err := app.setupRunStore(ctx); err != nil {
		app.Close(context.Background())
		return nil, err
	}
	if err := app.setupPublisher(ctx); err != nil {
		app.Close(context.Background())
		return nil, err
	}
	if err := app.setupProgress(ctx); err != nil {
		app.Close(context.Background())
		return nil, err
	}
	if err := app.setupFetchers(ctx); err != nil {
		app.Close(context.Background())
		return nil, err
	}
	app.setupAPI()
	return app, nil
}

func (a *App) setupFrontier(ctx context.Context) error {
	switch a.cfg.Frontier.Driver {
	case "sqlite", "":
		st, err := frontiersqlite.New(frontiersqlite.Config{
			Path:        a.cfg.Frontier.Path,
			MaxAttempts: a.cfg.Crawler.MaxAttempts,
		})
		if err != nil {
			return fmt.Errorf("open sqlite frontier: %w", err)
		}
		a.frontier = st
		a.logger.Info("using sqlite frontier", zap.String("path", a.cfg.Frontier.Path))
	case "postgres":
		st, err := frontierpg.New(ctx, frontierpg.Config{
			DSN:         a.cfg.Frontier.PostgresDSN,
			MaxAttempts: a.cfg.Crawler.MaxAttempts,
		})
		if err != nil {
			return fmt.Errorf("open postgres frontier: %w", err)
		}
		a.frontier = st
		a.logger.Info("using postgres frontier")
	case "memory":
		a.frontier = frontiermem.New(a.cfg.Crawler.MaxAttempts)
		a.logger.Info("using in-memory frontier")
	default:
		return fmt.Errorf("unknown frontier driver %q", a.cfg.Frontier.Driver)
	}
	return nil
}

func (a *App) setupArtifacts(ctx context.Context) error {
	switch a.cfg.Artifacts.Backend {
	case "local", "":
		blobs, err := local.New(local.Config{BaseDir: a.cfg.Artifacts.Root})
		if err != nil {
			return fmt.Errorf("open local blob store: %w", err)
		}
		a.blobs = blobs
		a.logger.Info("using local artifact storage", zap.String("root", a.cfg.Artifacts.Root))
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		a.gcsClient = client
		blobs, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Artifacts.GCSBucket})
		if err != nil {
			return fmt.Errorf("open gcs blob store: %w", err)
		}
		a.blobs = blobs
		a.logger.Info("using gcs artifact storage", zap.String("bucket", a.cfg.Artifacts.GCSBucket))
	case "memory":
		a.blobs = storagemem.NewBlobStore()
		a.logger.Info("using in-memory artifact storage")
	default:
		return fmt.Errorf("unknown artifacts backend %q", a.cfg.Artifacts.Backend)
	}
	a.artifacts = artifacts.NewStore(a.blobs)
	a.namer = artifacts.NewNamer(sha256.New())
	return nil
}

func (a *App) setupRunStore(ctx context.Context) error {
	if dsn := a.cfg.Store.PostgresDSN; dsn != "" {
		st, err := storepg.New(ctx, storepg.Config{DSN: dsn})
		if err != nil {
			return fmt.Errorf("open postgres run store: %w", err)
		}
		a.runs = st
		a.logger.Info("using postgres run store")
		return nil
	}
	a.runs = storagemem.NewRunStore()
	a.logger.Info("using in-memory run store")
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if project := a.cfg.PubSub.ProjectID; project != "" {
		pub, err := pubps.New(ctx, project)
		if err != nil {
			return fmt.Errorf("create pubsub publisher: %w", err)
		}
		a.publisher = pub
		a.logger.Info("using pub/sub publisher",
			zap.String("project", project),
			zap.String("topic", a.cfg.PubSub.Topic))
		return nil
	}
	a.publisher = pubmem.New()
	a.logger.Info("using in-memory publisher")
	return nil
}

// Progress collectors share the default registry with the request metrics,
// so they register once per process no matter how many Apps are built.
var (
	promSinkOnce sync.Once
	promSink     *sinks.PrometheusSink
	promSinkErr  error
)

func (a *App) setupProgress(_ context.Context) error {
	promSinkOnce.Do(func() {
		promSink, promSinkErr = sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	})
	if promSinkErr != nil {
		return fmt.Errorf("create prometheus sink: %w", promSinkErr)
	}
	a.hub = progress.NewHub(progress.Config{Logger: a.logger.Named("progress")},
		sinks.NewLogSink(a.logger.Named("events")),
		promSink,
		sinks.NewStoreSink(a.runs, a.logger),
	)
	return nil
}

func (a *App) setupFetchers(_ context.Context) error {
	a.probe = collyfetcher.New(collyfetcher.Config{
		UserAgent: a.cfg.Crawler.UserAgent,
		Timeout:   a.cfg.HTTP.Timeout,
	})
	a.detector = detector.NewHeuristic(0)
	a.probeCap = ratelimit.NewProbeCap(a.cfg.RateLimit.ProbeRPS, a.cfg.RateLimit.ProbeBurst)

	if !a.cfg.Browser.Enabled {
		a.scraper = collyfetcher.NewPageScraper(a.probe)
		a.navigator = headlessfetcher.NewNoop()
		a.logger.Info("browser disabled, scraping with the probe fetcher")
		return nil
	}
	browser, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		PoolSize:   a.cfg.Browser.PoolSize,
		UserAgent:  a.cfg.Crawler.UserAgent,
		NavTimeout: a.cfg.Browser.NavTimeout,
	})
	if err != nil {
		return fmt.Errorf("start headless browser: %w", err)
	}
	a.browser = browser
	a.scraper = browser
	a.navigator = browser
	a.logger.Info("using headless browser", zap.Int("pool_size", a.cfg.Browser.PoolSize))
	return nil
}

func (a *App) setupAPI() {
	if !a.cfg.Server.Enabled {
		return
	}
	a.apiServer = api.NewServer(a.runs, a.cfg.Server.APIKey, a.logger)
}

// Run crawls the given seeds as one run and blocks until every site
// finishes or ctx is canceled. While the run is active the optional API
// server serves run history and metrics.
func (a *App) Run(ctx context.Context, seeds []string) (crawler.Summary, error) {
	runID, err := a.ids.NewRawID()
	if err != nil {
		return crawler.Summary{}, fmt.Errorf("generate run id: %w", err)
	}

	stopAPI := a.startAPI()
	defer stopAPI()

	supervisor := pipeline.NewSupervisor(pipeline.RunConfig{
		MaxConcurrentSites: a.cfg.Crawler.MaxConcurrentSites,
		SiteTimeout:        a.cfg.Crawler.SiteTimeout,
	}, a.siteCrawlerFactory(), a.hub, a.clock, a.logger)

	return supervisor.Run(ctx, runID, seeds)
}

// startAPI launches the HTTP API when enabled and returns a shutdown func.
func (a *App) startAPI() func() {
	if a.apiServer == nil {
		return func() {}
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("api server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("api server failed", zap.Error(err))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("api server shutdown failed", zap.Error(err))
		}
	}
}

// siteCrawlerFactory builds the per-site pipeline. Every site gets its own
// rate-limit window, delay manager, discovery engine, and worker pool; the
// frontier, fetchers, probe cap, and progress hub are shared.
func (a *App) siteCrawlerFactory() pipeline.CrawlerFactory {
	return func(runID uuid.UUID, seed string) (pipeline.SiteCrawler, error) {
		domain, err := crawler.Domain(seed)
		if err != nil {
			return nil, fmt.Errorf("derive domain for %s: %w", seed, err)
		}
		logger := a.logger.With(zap.String("site", seed))

		window := ratelimit.NewWindow(ratelimit.WindowConfig{
			MaxPerMinute: a.cfg.RateLimit.PerDomainPerMinute,
		}, logger)
		delays := ratelimit.NewDelayManager(a.cfg.Delay.Min, a.cfg.Delay.Max, logger)

		engine := discovery.New(discovery.Config{
			MaxDepth: a.cfg.Crawler.MaxDepth,
			OnFound: func(found int) {
				a.hub.Emit(progress.Event{
					RunID: runID,
					TS:    a.clock.Now().UTC(),
					Stage: progress.StageDiscoveryFound,
					Site:  seed,
					Found: int64(found),
				})
			},
		}, a.frontier, a.probe, a.navigator, a.detector, window, a.probeCap, logger)

		runner := dispatcher.New(dispatcher.Config{
			Workers:               a.cfg.Crawler.WorkersPerSite,
			EmptyChecksBeforeExit: a.cfg.Crawler.EmptyChecksBeforeExit,
			RunID:                 runID,
			Site:                  seed,
			SiteLabel:             artifacts.SiteLabel(domain, a.clock.Now()),
			Domain:                domain,
			Topic:                 a.cfg.PubSub.Topic,
		}, a.frontier, a.scraper, window, delays, a.artifacts, a.namer, a.publisher, a.hub, a.clock, logger)

		coordinator, err := pipeline.NewCoordinator(pipeline.SiteConfig{
			Seed:          seed,
			Site:          seed,
			Domain:        domain,
			WarmupPending: a.cfg.Crawler.WarmupPending,
			WarmupPoll:    a.cfg.Crawler.WarmupPoll,
			WarmupTimeout: a.cfg.Crawler.WarmupTimeout,
			LeaseExpiry:   a.cfg.Crawler.LeaseExpiry,
		}, a.frontier, engine, runner, a.clock, logger)
		if err != nil {
			return nil, err
		}
		return coordinator, nil
	}
}

// Close flushes buffered progress events into the sinks and then releases
// every resource Build created. Safe on a partially built App.
func (a *App) Close(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.browser != nil {
		a.browser.Close()
	}
	if closer, ok := a.publisher.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			a.logger.Warn("publisher close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	switch st := a.runs.(type) {
	case nil:
	case interface{ Close() }:
		st.Close()
	}
	switch f := a.frontier.(type) {
	case nil:
	case io.Closer:
		if err := f.Close(); err != nil {
			a.logger.Warn("frontier close failed", zap.Error(err))
		}
	case interface{ Close() }:
		f.Close()
	}
	_ = a.logger.Sync()
}
