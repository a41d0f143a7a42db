// Package ratelimit enforces per-domain request budgets and the
// inter-request delays that keep the crawl polite.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pagemapper/dircrawl/internal/crawler"
	"github.com/pagemapper/dircrawl/internal/metrics"
)

const (
	// spreadDelay is applied when a domain is near (but not at) its budget
	// so requests fan out instead of slamming into the hard limit.
	spreadDelay = 2 * time.Second
	// drainMargin is added to the hard-limit wait so the oldest timestamp
	// has actually left the window when the request proceeds.
	drainMargin = 100 * time.Millisecond
)

// WindowConfig tunes a sliding-window limiter.
type WindowConfig struct {
	// MaxPerMinute is the per-domain request budget inside Window.
	MaxPerMinute int
	// Window is the trailing interval the budget applies to.
	Window time.Duration
}

// Window is a per-domain sliding-window limiter. It is proactive: a caller
// near the budget is delayed before its request rather than after a refusal.
type Window struct {
	mu      sync.Mutex
	domains map[string][]time.Time

	max    int
	window time.Duration
	logger *zap.Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewWindow creates a limiter with cfg, falling back to 30 requests per
// trailing 60s when unset.
func NewWindow(cfg WindowConfig, logger *zap.Logger) *Window {
	if logger == nil {
		logger = zap.NewNop()
	}
	max := cfg.MaxPerMinute
	if max <= 0 {
		max = 30
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	return &Window{
		domains: make(map[string][]time.Time),
		max:     max,
		window:  window,
		logger:  logger.Named("ratelimit"),
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// Acquire blocks until a request to url's domain fits the budget, then
// records the request. The wait decision is made once: after sleeping the
// request proceeds without a re-check.
func (w *Window) Acquire(ctx context.Context, url string) error {
	domain := domainKey(url)

	now := w.now()
	w.mu.Lock()
	w.prune(domain, now)
	count := len(w.domains[domain])
	var wait time.Duration
	switch {
	case count >= w.max:
		oldest := w.domains[domain][0]
		wait = w.window - now.Sub(oldest) + drainMargin
		w.logger.Info("rate limit reached",
			zap.String("domain", domain),
			zap.Int("requests", count),
			zap.Int("max", w.max),
			zap.Duration("wait", wait),
		)
	case count >= w.threshold():
		wait = spreadDelay
		w.logger.Debug("rate limit approaching",
			zap.String("domain", domain),
			zap.Int("requests", count),
			zap.Int("max", w.max),
			zap.Duration("wait", wait),
		)
	}
	w.mu.Unlock()

	if wait > 0 {
		if err := w.sleep(ctx, wait); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
		metrics.ObserveRateLimitDelay(domain, wait)
	}

	w.Record(url)
	return nil
}

// Record logs a request made outside Acquire, such as a headless refetch of
// a page the probe already hit.
func (w *Window) Record(url string) {
	domain := domainKey(url)
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(domain, now)
	w.domains[domain] = append(w.domains[domain], now)
}

func (w *Window) threshold() int {
	return int(float64(w.max) * 0.8)
}

// prune drops timestamps that have left the trailing window. Slices stay in
// append order, so index 0 is always the oldest survivor.
func (w *Window) prune(domain string, now time.Time) {
	cutoff := now.Add(-w.window)
	times := w.domains[domain]
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(w.domains, domain)
		return
	}
	w.domains[domain] = kept
}

func domainKey(url string) string {
	domain, err := crawler.Domain(url)
	if err != nil {
		return url
	}
	return domain
}
