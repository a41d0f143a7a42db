package collyfetcher

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pagemapper/dircrawl/internal/crawler"
)

// PageScraper adapts the probe fetcher to the Scraper interface for runs
// without a browser. Captures carry HTML only, no screenshot.
type PageScraper struct {
	fetcher *Fetcher
}

var _ crawler.Scraper = (*PageScraper)(nil)

// NewPageScraper wraps fetcher as a Scraper.
func NewPageScraper(fetcher *Fetcher) *PageScraper {
	return &PageScraper{fetcher: fetcher}
}

// Scrape fetches url and returns its body as the page capture.
func (s *PageScraper) Scrape(ctx context.Context, url string) (crawler.Capture, error) {
	resp, err := s.fetcher.Fetch(ctx, crawler.FetchRequest{URL: url})
	if err != nil {
		return crawler.Capture{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return crawler.Capture{}, fmt.Errorf("scrape returned status %d for %s", resp.StatusCode, url)
	}
	return crawler.Capture{
		URL:      resp.URL,
		HTML:     resp.Body,
		Duration: resp.Duration,
	}, nil
}
