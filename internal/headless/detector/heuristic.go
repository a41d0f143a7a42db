// Package detector decides when a probe needs a headless refetch.
package detector

import (
	"bytes"
	"net/http"

	"github.com/pagemapper/dircrawl/internal/crawler"
)

// Heuristic promotes probe responses that look like JavaScript shells
// rather than server-rendered directory listings.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a detector. threshold is the body size below which
// script-heavy pages count as shells; 0 selects the 2 KiB default.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
}

// Statuses that anti-bot layers return to plain HTTP clients; a real
// browser often gets through.
var blockedStatuses = map[int]struct{}{
	http.StatusForbidden:          {},
	http.StatusTooManyRequests:    {},
	http.StatusServiceUnavailable: {},
}

// ShouldPromote decides whether a headless refetch is required.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	if _, blocked := blockedStatuses[resp.StatusCode]; blocked {
		return true
	}
	if resp.StatusCode != http.StatusOK {
		return false
	}
	if len(resp.Body) == 0 {
		return true
	}
	lower := bytes.ToLower(resp.Body)
	// A listing with no links at all is almost certainly rendered client side.
	if !bytes.Contains(lower, []byte("href=")) {
		return true
	}
	if len(lower) < h.BodyLengthThreshold && scriptDensityHigh(lower) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether script tags cover at least a quarter of
// the (already lowercased) document.
func scriptDensityHigh(lower []byte) bool {
	total := len(lower)
	if total == 0 {
		return false
	}

	var (
		openTag  = []byte("<script")
		closeTag = []byte("</script>")
	)
	coverage := 0
	searchPos := 0

	for {
		relStart := bytes.Index(lower[searchPos:], openTag)
		if relStart == -1 {
			break
		}
		start := searchPos + relStart

		tagClose := bytes.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Malformed open tag; count the rest of the document.
			coverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relEnd := bytes.Index(lower[contentStart:], closeTag)
		var next int
		if relEnd == -1 {
			// Script never closes; count the rest.
			next = total
		} else {
			next = contentStart + relEnd + len(closeTag)
		}

		coverage += next - start
		searchPos = next
	}

	if coverage == 0 {
		return false
	}
	return coverage*100/total >= 25
}
