// Package headless renders directory pages in a real browser via chromedp.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/pagemapper/dircrawl/internal/crawler"
)

const (
	// Quality 100 makes chromedp emit PNG, which is what the artifact
	// store expects for screenshots.
	screenshotQuality = 100
	// Give late-loading listings a moment to settle after body-ready.
	settlePause = 500 * time.Millisecond
)

// Config controls the shared browser pool.
type Config struct {
	PoolSize   int
	UserAgent  string
	NavTimeout time.Duration
}

// Browser implements crawler.Navigator and crawler.Scraper on one shared
// headless Chrome allocator. Every call gets a fresh browser context;
// PoolSize bounds how many pages render at once.
type Browser struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a Browser backed by a headless Chrome allocator.
func NewChromedp(cfg Config) (*Browser, error) {
	if cfg.PoolSize < 0 {
		return nil, fmt.Errorf("pool size must be >= 0")
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 45 * time.Second
	}
	var limiter chan struct{}
	if cfg.PoolSize > 0 {
		limiter = make(chan struct{}, cfg.PoolSize)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Browser{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context, shutting down the browser.
func (b *Browser) Close() {
	b.allocCancel()
}

// Navigate renders url and returns the settled DOM.
func (b *Browser) Navigate(ctx context.Context, url string) ([]byte, error) {
	render, err := b.render(ctx, url, false)
	if err != nil {
		return nil, err
	}
	return render.html, nil
}

// Scrape renders url and captures a full-page screenshot plus the DOM.
func (b *Browser) Scrape(ctx context.Context, url string) (crawler.Capture, error) {
	start := time.Now()
	render, err := b.render(ctx, url, true)
	if err != nil {
		return crawler.Capture{}, err
	}
	return crawler.Capture{
		URL:        render.url,
		Screenshot: render.screenshot,
		HTML:       render.html,
		Duration:   time.Since(start),
	}, nil
}

type renderResult struct {
	url        string
	html       []byte
	screenshot []byte
}

func (b *Browser) render(ctx context.Context, url string, withScreenshot bool) (renderResult, error) {
	if err := b.acquire(ctx); err != nil {
		return renderResult{}, err
	}
	defer b.release()

	taskCtx, taskCancel := chromedp.NewContext(b.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, b.navTimeout())
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	var (
		html     string
		finalURL string
		shot     []byte
	)
	actions := []chromedp.Action{
		b.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(settlePause),
		chromedp.Location(&finalURL),
	}
	if withScreenshot {
		actions = append(actions, chromedp.FullScreenshot(&shot, screenshotQuality))
	}
	actions = append(actions, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return renderResult{}, fmt.Errorf("chromedp run: %w", err)
	}

	status, responseURL := meta.snapshotWithFallbacks(url, finalURL)
	if status >= http.StatusBadRequest {
		return renderResult{}, fmt.Errorf("render returned status %d for %s", status, responseURL)
	}

	return renderResult{
		url:        responseURL,
		html:       []byte(html),
		screenshot: shot,
	}, nil
}

func (b *Browser) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (b *Browser) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (b *Browser) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}

func (b *Browser) navTimeout() time.Duration {
	if b.cfg.NavTimeout > 0 {
		return b.cfg.NavTimeout
	}
	return 45 * time.Second
}

// responseMeta tracks the main document response so renders of error pages
// can be rejected instead of captured.
type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()

	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}
