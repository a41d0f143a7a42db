package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagemapper/dircrawl/internal/storage/memory"
	"github.com/pagemapper/dircrawl/internal/store"
)

func TestServerRunHistoryEndToEnd(t *testing.T) {
	t.Parallel()

	repo := memory.NewRunStore()
	runID := uuid.New()
	start := time.Now().Add(-time.Minute)
	finish := start.Add(30 * time.Second)
	ctx := context.Background()
	require.NoError(t, repo.UpsertRunStart(ctx, runID, start))
	require.NoError(t, repo.UpsertSiteStats(ctx, runID, "example.com", store.SiteDelta{Pages: 3, BytesTotal: 4096, Found: 7}, finish))
	require.NoError(t, repo.CompleteRun(ctx, runID, finish, store.RunSuccess, nil))

	server := NewServer(repo, "", zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), runID.String())

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var runBody struct {
		Run runDTO `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runBody))
	require.Equal(t, "success", runBody.Run.Status)
	require.NotNil(t, runBody.Run.FinishedAt)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID.String()+"/sites", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var sitesBody struct {
		Sites []siteDTO `json:"sites"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sitesBody))
	require.Len(t, sitesBody.Sites, 1)
	require.Equal(t, "example.com", sitesBody.Sites[0].Site)
	require.Equal(t, int64(3), sitesBody.Sites[0].Pages)
	require.Equal(t, int64(7), sitesBody.Sites[0].Found)
}

func TestServerInvalidRunID(t *testing.T) {
	t.Parallel()

	server := NewServer(memory.NewRunStore(), "", zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/not-a-uuid", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServerRunNotFound(t *testing.T) {
	t.Parallel()

	server := NewServer(memory.NewRunStore(), "", zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/"+uuid.NewString(), nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerHealthEndpoints(t *testing.T) {
	t.Parallel()

	server := NewServer(memory.NewRunStore(), "", zap.NewNop())

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestServerMetricsEndpoint(t *testing.T) {
	t.Parallel()

	server := NewServer(memory.NewRunStore(), "", zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "# HELP")
}

func TestServerAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	server := NewServer(memory.NewRunStore(), "secret", zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz?api_key=secret", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	server := NewServer(memory.NewRunStore(), "", zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
