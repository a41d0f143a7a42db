// Package discovery walks a site breadth-first and records directory URLs.
package discovery

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/pagemapper/dircrawl/internal/crawler"
	"github.com/pagemapper/dircrawl/internal/metrics"
	"github.com/pagemapper/dircrawl/internal/policy/ratelimit"
)

// Config controls a discovery walk.
type Config struct {
	// MaxDepth is the path depth relative to the seed beyond which pages
	// are recorded but not explored. Zero selects the default of 100.
	MaxDepth int
	// OnFound, when set, is called with the number of new directories
	// recorded after each page, seed included.
	OnFound func(found int)
}

// Engine explores a site from its seed URL, validates every link as a
// directory, and enqueues each new directory to the frontier the moment it
// is found so scraping can start while the walk is still running.
type Engine struct {
	cfg       Config
	frontier  crawler.Frontier
	probe     crawler.Fetcher
	navigator crawler.Navigator
	detector  crawler.HeadlessDetector
	limiter   crawler.Limiter
	probeCap  *ratelimit.ProbeCap
	logger    *zap.Logger
}

// New constructs an Engine. navigator and detector may be nil, which
// disables headless promotion; probeCap may be nil to uncap probes.
func New(
	cfg Config,
	frontier crawler.Frontier,
	probe crawler.Fetcher,
	navigator crawler.Navigator,
	detector crawler.HeadlessDetector,
	limiter crawler.Limiter,
	probeCap *ratelimit.ProbeCap,
	logger *zap.Logger,
) *Engine {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		frontier:  frontier,
		probe:     probe,
		navigator: navigator,
		detector:  detector,
		limiter:   limiter,
		probeCap:  probeCap,
		logger:    logger.Named("discovery"),
	}
}

// Discover walks the site breadth-first from rawSeed and returns how many
// directory URLs were recorded. Page fetch errors are logged and skipped;
// only frontier failures or cancellation abort the walk.
func (e *Engine) Discover(ctx context.Context, rawSeed string) (int, error) {
	seed, err := crawler.NormalizeDirectory(rawSeed)
	if err != nil {
		return 0, fmt.Errorf("normalize seed: %w", err)
	}
	seedURL, err := url.Parse(seed)
	if err != nil {
		return 0, fmt.Errorf("parse seed: %w", err)
	}
	domain := seedURL.Host
	seedSegments := pathSegments(seedURL.Path)

	discovered := map[string]struct{}{seed: {}}
	explored := make(map[string]struct{})
	queue := []string{seed}

	if _, err := e.frontier.Enqueue(ctx, seed, domain, 0); err != nil {
		return 0, fmt.Errorf("enqueue seed: %w", err)
	}
	metrics.ObserveDiscovered(domain, 1)
	e.notifyFound(1)

	e.logger.Info("discovery started", zap.String("seed", seed))

	var fetchErrors int
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return len(discovered), fmt.Errorf("discovery canceled: %w", err)
		}

		current := queue[0]
		queue = queue[1:]
		if _, seen := explored[current]; seen {
			continue
		}
		explored[current] = struct{}{}

		depth := relativeDepth(current, seedSegments)
		if depth > e.cfg.MaxDepth {
			e.logger.Debug("depth cap reached, not exploring",
				zap.String("url", current), zap.Int("depth", depth))
			continue
		}

		body, err := e.fetchPage(ctx, current)
		if err != nil {
			if ctx.Err() != nil {
				return len(discovered), fmt.Errorf("discovery canceled: %w", ctx.Err())
			}
			fetchErrors++
			e.logger.Warn("explore failed, skipping page",
				zap.String("url", current), zap.Error(err))
			continue
		}

		found := 0
		for _, link := range e.extractDirectories(body, current, seed) {
			if _, seen := discovered[link]; seen {
				continue
			}
			discovered[link] = struct{}{}
			found++

			recordDepth := relativeDepth(link, seedSegments)
			if _, err := e.frontier.Enqueue(ctx, link, domain, recordDepth); err != nil {
				return len(discovered), fmt.Errorf("enqueue %s: %w", link, err)
			}
			queue = append(queue, link)
		}
		if found > 0 {
			metrics.ObserveDiscovered(domain, found)
			e.notifyFound(found)
			e.logger.Info("directories found",
				zap.String("url", current),
				zap.Int("new", found),
				zap.Int("queued", len(queue)),
				zap.Int("total", len(discovered)))
		}
	}

	// A seed that never yielded a page is a failed walk; partial fetch
	// errors are not.
	if fetchErrors > 0 && len(explored) == fetchErrors {
		return len(discovered), fmt.Errorf("discovery explored no pages on %s", domain)
	}

	e.logger.Info("discovery complete",
		zap.Int("directories", len(discovered)),
		zap.Int("explored", len(explored)),
		zap.Int("fetch_errors", fetchErrors))
	return len(discovered), nil
}

func (e *Engine) notifyFound(found int) {
	if e.cfg.OnFound != nil {
		e.cfg.OnFound(found)
	}
}

// fetchPage probes a page under the rate limits and promotes it to the
// headless navigator when the probe looks like a JavaScript shell.
func (e *Engine) fetchPage(ctx context.Context, pageURL string) ([]byte, error) {
	if e.probeCap != nil {
		if err := e.probeCap.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if err := e.limiter.Acquire(ctx, pageURL); err != nil {
		return nil, err
	}

	resp, err := e.probe.Fetch(ctx, crawler.FetchRequest{URL: pageURL})
	if err != nil {
		return nil, err
	}

	if e.detector != nil && e.navigator != nil && e.detector.ShouldPromote(resp) {
		html, navErr := e.navigator.Navigate(ctx, pageURL)
		if navErr == nil {
			e.limiter.Record(pageURL)
			e.logger.Debug("headless promotion applied", zap.String("url", pageURL))
			return html, nil
		}
		e.logger.Warn("headless promotion failed",
			zap.String("url", pageURL), zap.Error(navErr))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// extractDirectories returns the normalized, validated, deduplicated
// directory URLs linked from body.
func (e *Engine) extractDirectories(body []byte, pageURL, seed string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		e.logger.Debug("parse html failed", zap.String("url", pageURL), zap.Error(err))
		return nil
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		normalized, ok := crawler.ResolveDirectory(base, href)
		if !ok {
			return
		}
		if !crawler.IsValidDirectory(normalized, seed) {
			return
		}
		if _, dup := seen[normalized]; dup {
			return
		}
		seen[normalized] = struct{}{}
		links = append(links, normalized)
	})
	return links
}

// relativeDepth is the number of path segments below the seed. Links above
// the seed count as depth zero.
func relativeDepth(raw string, seedSegments int) int {
	u, err := url.Parse(raw)
	if err != nil {
		return 0
	}
	depth := pathSegments(u.Path) - seedSegments
	if depth < 0 {
		return 0
	}
	return depth
}

func pathSegments(path string) int {
	n := 0
	for _, segment := range strings.Split(strings.Trim(path, "/"), "/") {
		if segment != "" {
			n++
		}
	}
	return n
}
