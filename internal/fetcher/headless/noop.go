package headless

import (
	"context"
	"errors"

	"github.com/pagemapper/dircrawl/internal/crawler"
)

// ErrBrowserDisabled reports that the run was started without a browser.
var ErrBrowserDisabled = errors.New("headless browser not configured")

// Noop satisfies crawler.Navigator and crawler.Scraper but always fails,
// for tests and --no-browser runs.
type Noop struct{}

// NewNoop creates a new Noop browser.
func NewNoop() *Noop {
	return &Noop{}
}

// Navigate always returns ErrBrowserDisabled.
func (Noop) Navigate(_ context.Context, _ string) ([]byte, error) {
	return nil, ErrBrowserDisabled
}

// Scrape always returns ErrBrowserDisabled.
func (Noop) Scrape(_ context.Context, _ string) (crawler.Capture, error) {
	return crawler.Capture{}, ErrBrowserDisabled
}
