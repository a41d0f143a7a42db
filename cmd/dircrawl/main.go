// Package main runs directory crawls from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/pagemapper/dircrawl/internal/app"
	"github.com/pagemapper/dircrawl/internal/config"
	"github.com/pagemapper/dircrawl/internal/seeds"
)

func main() {
	var (
		cfgPath   = flag.String("config", "", "Path to config file")
		csvPath   = flag.String("csv", "", "Path to the seeds CSV (overrides seeds.path)")
		outputDir = flag.String("output", "", "Artifact output directory (overrides artifacts.root)")
		workers   = flag.Int("workers", 0, "Scrape slots per site (overrides crawler.workers_per_site)")
		sites     = flag.Int("sites", 0, "Concurrent site crawls (overrides crawler.max_concurrent_sites)")
		noBrowser = flag.Bool("no-browser", false, "Disable the headless browser and scrape with the probe fetcher")
		frontier  = flag.String("frontier", "", "Frontier database path (overrides frontier.path)")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *csvPath != "" {
		cfg.Seeds.Path = *csvPath
	}
	if *outputDir != "" {
		cfg.Artifacts.Root = *outputDir
	}
	if *workers > 0 {
		cfg.Crawler.WorkersPerSite = *workers
	}
	if *sites > 0 {
		cfg.Crawler.MaxConcurrentSites = *sites
	}
	if *noBrowser {
		cfg.Browser.Enabled = false
	}
	if *frontier != "" {
		cfg.Frontier.Path = *frontier
	}
	if cfg.Seeds.Path == "" {
		fmt.Fprintln(os.Stderr, "no seeds file: pass -csv or set seeds.path")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.Build(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build application failed: %v\n", err)
		os.Exit(1)
	}
	logger := zap.L()

	seedURLs, err := seeds.Load(cfg.Seeds.Path, cfg.Seeds.URLColumn, logger)
	if err != nil {
		logger.Error("load seeds failed", zap.Error(err))
		application.Close(context.Background())
		os.Exit(1)
	}

	summary, err := application.Run(ctx, seedURLs)
	if err != nil {
		logger.Error("crawl failed", zap.Error(err))
		application.Close(context.Background())
		os.Exit(1)
	}

	logger.Info("crawl complete",
		zap.Int("sites_ok", summary.SitesOK),
		zap.Int("sites_failed", summary.SitesFailed),
		zap.Int("pages_completed", summary.PagesCompleted),
		zap.Int("pages_failed", summary.PagesFailed),
		zap.Duration("elapsed", summary.Elapsed),
		zap.Float64("pages_per_second", summary.PagesPerSecond),
	)
	application.Close(context.Background())

	if summary.SitesFailed > 0 {
		os.Exit(1)
	}
}
