package seeds

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseLoadsAndFiltersSeeds(t *testing.T) {
	t.Parallel()

	csvData := strings.Join([]string{
		"name,url",
		"shop,https://example.com/dirs/",
		"bare,plainhost.org",
		"blank,",
		"ftp,ftp://files.example.com/pub",
		"broken,not a url",
	}, "\n")

	seeds, err := Parse(strings.NewReader(csvData), "", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/dirs/", "https://plainhost.org"}, seeds)
}

func TestParseCustomColumn(t *testing.T) {
	t.Parallel()

	csvData := "rank,website\n1,https://a.example\n2,https://b.example\n"

	seeds, err := Parse(strings.NewReader(csvData), "website", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, seeds)
}

func TestParseErrorsWithoutURLColumn(t *testing.T) {
	t.Parallel()

	_, err := Parse(strings.NewReader("name,homepage\nshop,https://example.com\n"), "", zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `column "url" not found`)
}

func TestParseErrorsOnZeroSeeds(t *testing.T) {
	t.Parallel()

	_, err := Parse(strings.NewReader("url\n\nftp://nope.example\n"), "", zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usable seed URLs")
}

func TestLoadReadsFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sites.csv")
	require.NoError(t, os.WriteFile(path, []byte("url\nhttps://example.com/\n"), 0o600))

	seeds, err := Load(path, "url", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/"}, seeds)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.csv"), "", zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open seeds file")
}
