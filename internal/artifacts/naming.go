// Package artifacts maps page captures onto a per-site directory layout and
// derives stable, human-readable artifact names from directory URLs.
package artifacts

import (
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pagemapper/dircrawl/internal/crawler"
)

// skipSegments lists path segments that carry no naming value, mostly
// language codes that prefix localized directory trees.
var skipSegments = map[string]struct{}{
	"en-us": {},
	"en":    {},
	"fr":    {},
	"de":    {},
	"es":    {},
	"it":    {},
	"zh":    {},
	"ja":    {},
	"ko":    {},
}

var unsafeChars = regexp.MustCompile(`[^\w-]`)

// Namer derives flat artifact base names from URL paths. Names are unique
// within one Namer; reusing a Namer across sites would cross-pollinate the
// collision set, so the pipeline builds one per site.
type Namer struct {
	hasher crawler.Hasher

	mu   sync.Mutex
	used map[string]struct{}
}

// NewNamer creates a Namer that disambiguates collisions with hasher.
func NewNamer(hasher crawler.Hasher) *Namer {
	return &Namer{
		hasher: hasher,
		used:   make(map[string]struct{}),
	}
}

// Name returns the base name (no extension) for artifacts captured from
// rawURL. The first URL to produce a given base name owns it; later
// collisions get a short hash suffix so captures never overwrite each other.
func (n *Namer) Name(rawURL string) string {
	base := baseName(rawURL)

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, taken := n.used[base]; taken {
		if suffix := n.shortHash(rawURL); suffix != "" {
			base = base + "-" + suffix
		}
	}
	n.used[base] = struct{}{}
	return base
}

func (n *Namer) shortHash(rawURL string) string {
	if n.hasher == nil {
		return ""
	}
	sum, err := n.hasher.Hash([]byte(rawURL))
	if err != nil || len(sum) < 8 {
		return ""
	}
	return sum[:8]
}

// baseName joins up to three meaningful path segments with dashes. Empty,
// numeric, and language-code segments are skipped; a path with nothing left
// falls back to its first raw segment, then to "root".
func baseName(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "root"
	}

	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	meaningful := make([]string, 0, 3)
	for _, part := range parts {
		if part == "" || allDigits(part) {
			continue
		}
		if _, skip := skipSegments[part]; skip {
			continue
		}
		meaningful = append(meaningful, part)
		if len(meaningful) == 3 {
			break
		}
	}

	var base string
	switch {
	case len(meaningful) > 0:
		base = strings.Join(meaningful, "-")
	case parts[0] != "":
		base = parts[0]
	default:
		base = "root"
	}

	base = strings.Trim(unsafeChars.ReplaceAllString(base, "_"), "_")
	if base == "" {
		base = "root"
	}
	return base
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// SiteLabel builds the timestamped output directory name for a site, e.g.
// "example_2026_08_25_14_30" for example.com.
func SiteLabel(domain string, t time.Time) string {
	host := strings.TrimPrefix(strings.ToLower(domain), "www.")
	label, _, _ := strings.Cut(host, ".")
	if label == "" {
		label = "site"
	}
	return label + "_" + t.Format("2006_01_02_15_04")
}
