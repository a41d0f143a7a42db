package discovery

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagemapper/dircrawl/internal/crawler"
	"github.com/pagemapper/dircrawl/internal/frontier/memory"
	"github.com/pagemapper/dircrawl/internal/metrics"
)

func init() {
	metrics.Init()
}

type fakeLimiter struct {
	mu       sync.Mutex
	acquires []string
	records  []string
}

func (l *fakeLimiter) Acquire(_ context.Context, url string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquires = append(l.acquires, url)
	return nil
}

func (l *fakeLimiter) Record(url string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, url)
}

func (l *fakeLimiter) recorded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.records...)
}

type fakeFetcher struct {
	mu     sync.Mutex
	pages  map[string]string
	errs   map[string]error
	status map[string]int
	calls  []string
}

func (f *fakeFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.URL)
	f.mu.Unlock()

	if err := f.errs[req.URL]; err != nil {
		return crawler.FetchResponse{}, err
	}
	body, ok := f.pages[req.URL]
	if !ok {
		return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusNotFound}, nil
	}
	code := f.status[req.URL]
	if code == 0 {
		code = http.StatusOK
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: code, Body: []byte(body)}, nil
}

func (f *fakeFetcher) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeNavigator struct {
	mu    sync.Mutex
	pages map[string]string
	calls []string
}

func (n *fakeNavigator) Navigate(_ context.Context, url string) ([]byte, error) {
	n.mu.Lock()
	n.calls = append(n.calls, url)
	n.mu.Unlock()

	html, ok := n.pages[url]
	if !ok {
		return nil, errors.New("render failed")
	}
	return []byte(html), nil
}

type fakeDetector struct {
	promote map[string]bool
}

func (d *fakeDetector) ShouldPromote(resp crawler.FetchResponse) bool {
	return d.promote[resp.URL]
}

func newTestEngine(t *testing.T, fetcher *fakeFetcher, nav crawler.Navigator, det crawler.HeadlessDetector) (*Engine, *memory.Store, *fakeLimiter) {
	t.Helper()
	store := memory.New(3)
	limiter := &fakeLimiter{}
	engine := New(Config{}, store, fetcher, nav, det, limiter, nil, zap.NewNop())
	return engine, store, limiter
}

func TestEngine_Discover_WalksGraphOnce(t *testing.T) {
	t.Parallel()

	// /docs/ and /blog/ link back to the seed and to each other, so the
	// walk must terminate on the dedupe set, not on luck.
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://example.com/": `<html>
			<a href="/docs/">Docs</a>
			<a href="https://example.com/blog/">Blog</a>
			<a href="https://other.com/evil/">offsite</a>
			<a href="/archive.tar.gz">tarball</a>
			<a href="/admin/">admin</a>
			<a href="mailto:x@example.com">mail</a>
		</html>`,
		"https://example.com/docs/": `<html>
			<a href="/">home</a>
			<a href="/blog/">blog</a>
			<a href="guide.html">guide page</a>
		</html>`,
		"https://example.com/blog/": `<html>
			<a href="/docs/">docs</a>
			<a href="/blog/2024/">archive</a>
		</html>`,
		"https://example.com/docs/guide/": `<html></html>`,
		"https://example.com/blog/2024/":  `<html><a href="/blog/">up</a></html>`,
	}}
	engine, store, limiter := newTestEngine(t, fetcher, nil, nil)

	count, err := engine.Discover(context.Background(), "https://Example.com")
	require.NoError(t, err)

	// seed, /docs/, /blog/, /docs/guide/ (normalized from guide.html), and
	// /blog/2024/. Offsite, file, sensitive, and mailto links are dropped.
	require.Equal(t, 5, count)

	pending, err := store.PendingCount(context.Background(), "example.com")
	require.NoError(t, err)
	require.Equal(t, 5, pending)

	// Every page explored exactly once despite the cycles.
	fetched := fetcher.fetched()
	require.Len(t, fetched, 5)
	seen := make(map[string]int)
	for _, u := range fetched {
		seen[u]++
	}
	for u, n := range seen {
		require.Equal(t, 1, n, "url %s fetched %d times", u, n)
	}

	// One limiter acquire per explored page.
	require.Len(t, limiter.acquires, 5)
}

func TestEngine_Discover_DepthCapRecordsButDoesNotExplore(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]string{
		"https://example.com/":     `<html><a href="/a/">a</a></html>`,
		"https://example.com/a/":   `<html><a href="/a/b/">b</a></html>`,
		"https://example.com/a/b/": `<html><a href="/a/b/c/">c</a></html>`,
	}}
	store := memory.New(3)
	engine := New(Config{MaxDepth: 1}, store, fetcher, nil, nil, &fakeLimiter{}, nil, zap.NewNop())

	count, err := engine.Discover(context.Background(), "https://example.com/")
	require.NoError(t, err)

	// /a/b/ is recorded but, at depth 2, never explored; /a/b/c/ stays
	// invisible.
	require.Equal(t, 3, count)
	require.NotContains(t, fetcher.fetched(), "https://example.com/a/b/")

	pending, err := store.PendingCount(context.Background(), "example.com")
	require.NoError(t, err)
	require.Equal(t, 3, pending)
}

func TestEngine_Discover_PromotesShellPages(t *testing.T) {
	t.Parallel()

	shell := `<html><div id="app"></div></html>`
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://example.com/":      shell,
		"https://example.com/dirs/": `<html></html>`,
	}}
	nav := &fakeNavigator{pages: map[string]string{
		"https://example.com/": `<html><a href="/dirs/">dirs</a></html>`,
	}}
	det := &fakeDetector{promote: map[string]bool{"https://example.com/": true}}
	engine, store, limiter := newTestEngine(t, fetcher, nav, det)

	count, err := engine.Discover(context.Background(), "https://example.com/")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	// The promotion refetch is recorded against the rate window.
	require.Equal(t, []string{"https://example.com/"}, limiter.recorded())
	require.Equal(t, []string{"https://example.com/"}, nav.calls)

	pending, err := store.PendingCount(context.Background(), "example.com")
	require.NoError(t, err)
	require.Equal(t, 2, pending)
}

func TestEngine_Discover_PromotionFailureFallsBackToProbe(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]string{
		"https://example.com/":      `<html><a href="/dirs/">dirs</a></html>`,
		"https://example.com/dirs/": `<html></html>`,
	}}
	nav := &fakeNavigator{pages: map[string]string{}} // every render fails
	det := &fakeDetector{promote: map[string]bool{"https://example.com/": true}}
	engine, _, limiter := newTestEngine(t, fetcher, nav, det)

	count, err := engine.Discover(context.Background(), "https://example.com/")
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.Empty(t, limiter.recorded())
}

func TestEngine_Discover_SkipsFetchErrors(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		pages: map[string]string{
			"https://example.com/": `<html>
				<a href="/ok/">ok</a>
				<a href="/broken/">broken</a>
			</html>`,
			"https://example.com/ok/": `<html><a href="/ok/deeper/">deeper</a></html>`,
		},
		errs: map[string]error{
			"https://example.com/broken/": errors.New("connection reset"),
		},
	}
	engine, store, _ := newTestEngine(t, fetcher, nil, nil)

	count, err := engine.Discover(context.Background(), "https://example.com/")
	require.NoError(t, err)
	require.Equal(t, 4, count)

	// The broken page is still recorded for scraping even though its links
	// were never seen.
	counts, err := store.CountByStatus(context.Background(), "example.com")
	require.NoError(t, err)
	require.Equal(t, 4, counts[crawler.StatusPending])
}

func TestEngine_Discover_ErrorStatusSkipsPage(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		pages: map[string]string{
			"https://example.com/":      `<html><a href="/gone/">gone</a><a href="/ok/">ok</a></html>`,
			"https://example.com/gone/": `<html><a href="/never/">never</a></html>`,
			"https://example.com/ok/":   `<html></html>`,
		},
		status: map[string]int{"https://example.com/gone/": http.StatusNotFound},
	}
	engine, _, _ := newTestEngine(t, fetcher, nil, nil)

	count, err := engine.Discover(context.Background(), "https://example.com/")
	require.NoError(t, err)
	// /never/ is not discovered because /gone/ was skipped.
	require.Equal(t, 3, count)
	require.NotContains(t, fetcher.fetched(), "https://example.com/never/")
}

func TestEngine_Discover_SeedUnreachable(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		errs: map[string]error{"https://example.com/": errors.New("dns failure")},
	}
	engine, store, _ := newTestEngine(t, fetcher, nil, nil)

	count, err := engine.Discover(context.Background(), "https://example.com/")
	require.Error(t, err)
	// The seed record is still in the frontier for the fallback scrape.
	require.Equal(t, 1, count)
	pending, perr := store.PendingCount(context.Background(), "example.com")
	require.NoError(t, perr)
	require.Equal(t, 1, pending)
}

func TestEngine_Discover_InvalidSeed(t *testing.T) {
	t.Parallel()

	engine, _, _ := newTestEngine(t, &fakeFetcher{}, nil, nil)
	_, err := engine.Discover(context.Background(), "ftp://example.com/")
	require.Error(t, err)
}

func TestEngine_Discover_ReportsFoundCounts(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]string{
		"https://example.com/":     `<html><a href="/a/">a</a><a href="/b/">b</a></html>`,
		"https://example.com/a/":   `<html><a href="/a/c/">c</a></html>`,
		"https://example.com/b/":   `<html></html>`,
		"https://example.com/a/c/": `<html></html>`,
	}}

	store := memory.New(3)
	limiter := &fakeLimiter{}
	var counts []int
	cfg := Config{OnFound: func(found int) { counts = append(counts, found) }}
	engine := New(cfg, store, fetcher, nil, nil, limiter, nil, zap.NewNop())

	count, err := engine.Discover(context.Background(), "https://example.com/")
	require.NoError(t, err)
	require.Equal(t, 4, count)
	// Seed first, then two from the root page, then one from /a/.
	require.Equal(t, []int{1, 2, 1}, counts)
}

func TestEngine_Discover_HonorsCancellation(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]string{
		"https://example.com/": `<html><a href="/a/">a</a></html>`,
	}}
	engine, _, _ := newTestEngine(t, fetcher, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.Discover(ctx, "https://example.com/")
	require.ErrorIs(t, err, context.Canceled)
}

func TestRelativeDepth(t *testing.T) {
	t.Parallel()

	seedSegments := pathSegments("/base/")
	require.Equal(t, 0, relativeDepth("https://example.com/base/", seedSegments))
	require.Equal(t, 1, relativeDepth("https://example.com/base/a/", seedSegments))
	require.Equal(t, 2, relativeDepth("https://example.com/base/a/b/", seedSegments))
	// Links above the seed clamp to zero.
	require.Equal(t, 0, relativeDepth("https://example.com/", seedSegments))
}
