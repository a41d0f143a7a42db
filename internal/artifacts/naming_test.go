package artifacts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagemapper/dircrawl/internal/hash/sha256"
)

func TestNamer_Name_PathSegments(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		url  string
		want string
	}{
		{name: "Root", url: "https://example.com/", want: "root"},
		{name: "SingleSegment", url: "https://example.com/docs/", want: "docs"},
		{name: "JoinsSegments", url: "https://example.com/docs/guides/setup/", want: "docs-guides-setup"},
		{name: "CapsAtThreeSegments", url: "https://example.com/a/b/c/d/e/", want: "a-b-c"},
		{name: "SkipsLanguageCode", url: "https://example.com/en-us/docs/", want: "docs"},
		{name: "SkipsNumericSegments", url: "https://example.com/blog/2024/launch/", want: "blog-launch"},
		{name: "LanguageOnlyPathFallsBack", url: "https://example.com/en/", want: "en"},
		{name: "SanitizesSpecials", url: "https://example.com/docs%20v2/", want: "docs_v2"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			namer := NewNamer(sha256.New())
			assert.Equal(t, tc.want, namer.Name(tc.url))
		})
	}
}

func TestNamer_Name_CollisionGetsHashSuffix(t *testing.T) {
	t.Parallel()

	namer := NewNamer(sha256.New())

	first := namer.Name("https://example.com/en/docs/")
	second := namer.Name("https://example.com/fr/docs/")

	assert.Equal(t, "docs", first)
	require.NotEqual(t, first, second)
	assert.Regexp(t, `^docs-[0-9a-f]{8}$`, second)
}

func TestNamer_Name_SameNamerNeverRepeats(t *testing.T) {
	t.Parallel()

	namer := NewNamer(sha256.New())
	urls := []string{
		"https://example.com/docs/",
		"https://example.com/de/docs/",
		"https://example.com/ja/docs/",
	}

	seen := make(map[string]struct{})
	for _, u := range urls {
		name := namer.Name(u)
		_, dup := seen[name]
		require.False(t, dup, "name %q issued twice", name)
		seen[name] = struct{}{}
	}
}

func TestSiteLabel(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC)

	assert.Equal(t, "example_2026_08_25_14_30", SiteLabel("www.example.com", ts))
	assert.Equal(t, "example_2026_08_25_14_30", SiteLabel("example.com", ts))
	assert.Equal(t, "docs_2026_08_25_14_30", SiteLabel("docs.vendor.io", ts))
}
