// Package seeds loads crawl seed URLs from CSV site lists.
package seeds

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"go.uber.org/zap"
)

// Load reads seed URLs from a CSV file with a header row. urlColumn names
// the column holding the URLs ("url" when empty). Values without a scheme
// are assumed https; blank and non-http(s) values are skipped with a
// warning. Loading zero usable seeds is an error.
func Load(path, urlColumn string, logger *zap.Logger) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seeds file: %w", err)
	}
	defer f.Close()

	seeds, err := Parse(f, urlColumn, logger)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return seeds, nil
}

// Parse reads seed URLs from CSV content. See Load for the row rules.
func Parse(r io.Reader, urlColumn string, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if urlColumn == "" {
		urlColumn = "url"
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), urlColumn) {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("column %q not found in header %v", urlColumn, header)
	}

	var seeds []string
	row := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		row++
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", row, err)
		}
		if col >= len(record) {
			logger.Warn("seed row is missing the URL column", zap.Int("row", row))
			continue
		}
		raw := strings.TrimSpace(record[col])
		if raw == "" {
			logger.Warn("skipping blank seed", zap.Int("row", row))
			continue
		}
		seed, ok := normalizeSeed(raw)
		if !ok {
			logger.Warn("skipping invalid seed", zap.Int("row", row), zap.String("value", raw))
			continue
		}
		seeds = append(seeds, seed)
	}

	if len(seeds) == 0 {
		return nil, errors.New("no usable seed URLs")
	}
	logger.Info("loaded seeds", zap.Int("count", len(seeds)), zap.Int("rows", row-1))
	return seeds, nil
}

// normalizeSeed coerces a CSV value into an absolute http(s) URL.
func normalizeSeed(raw string) (string, bool) {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	return u.String(), true
}
