package artifacts

import (
	"context"
	"fmt"
	"path"

	"github.com/pagemapper/dircrawl/internal/crawler"
)

// Store persists captures as <site>/screenshots/<name>.png and
// <site>/html/<name>.html in the underlying blob store.
type Store struct {
	blobs crawler.BlobStore
}

var _ crawler.ArtifactStore = (*Store)(nil)

// NewStore creates an artifact store over blobs.
func NewStore(blobs crawler.BlobStore) *Store {
	return &Store{blobs: blobs}
}

// SaveScreenshot writes a full-page PNG and returns its URI.
func (s *Store) SaveScreenshot(ctx context.Context, site, name string, png []byte) (string, error) {
	return s.put(ctx, site, path.Join("screenshots", name+".png"), "image/png", png)
}

// SaveHTML writes the rendered page source and returns its URI.
func (s *Store) SaveHTML(ctx context.Context, site, name string, data []byte) (string, error) {
	return s.put(ctx, site, path.Join("html", name+".html"), "text/html; charset=utf-8", data)
}

func (s *Store) put(ctx context.Context, site, rel, contentType string, data []byte) (string, error) {
	if site == "" {
		return "", fmt.Errorf("site label is required")
	}
	objectPath := path.Join(site, rel)
	uri, err := s.blobs.PutObject(ctx, objectPath, contentType, data)
	if err != nil {
		return "", fmt.Errorf("put %s: %w", objectPath, err)
	}
	return uri, nil
}
