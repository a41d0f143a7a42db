package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagemapper/dircrawl/internal/store"
)

const (
	defaultRunLimit   = 50
	maxRunLimit       = 500
	defaultSitesLimit = 100
	maxSitesLimit     = 1000
	historyTimeout    = 3 * time.Second
)

// RunsHandler exposes read-only run history endpoints.
type RunsHandler struct {
	repo    store.RunRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunsHandler wires the repository and logger.
func NewRunsHandler(repo store.RunRepository, logger *zap.Logger) *RunsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunsHandler{
		repo:    repo,
		timeout: historyTimeout,
		logger:  logger,
	}
}

// ListRuns handles GET /v1/runs?status=&limit=&offset=. It returns a JSON
// object {"runs": [...]} on success, 400 for invalid filters, 503 when the
// repository is unavailable, or 500 if the repository call fails.
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run store unavailable", h.logger)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), h.logger)
		return
	}
	statusParam := strings.TrimSpace(r.URL.Query().Get("status"))
	var status *store.RunStatus
	if statusParam != "" {
		statusVal, parseErr := parseStatus(statusParam)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error(), h.logger)
			return
		}
		status = &statusVal
	}
	runs, err := h.repo.ListRuns(ctx, status, limit, offset)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs": toRunDTOs(runs),
	}, h.logger)
}

// GetRun handles GET /v1/runs/{run_id}. It returns {"run": {...}} on
// success, 400 for malformed IDs, 404 when the repository reports
// store.ErrNotFound, 503 if the repository is missing, or 500 otherwise.
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run store unavailable", h.logger)
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), h.logger)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.repo.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found", h.logger)
			return
		}
		h.logger.Error("get run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": toRunDTO(run)}, h.logger)
}

// ListRunSites handles GET /v1/runs/{run_id}/sites?limit=&offset=. It
// returns {"sites": [...]} on success, 400 for invalid query parameters,
// 503 when the repository is missing, or 500 for repository errors.
func (h *RunsHandler) ListRunSites(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run store unavailable", h.logger)
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), h.logger)
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultSitesLimit, maxSitesLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), h.logger)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sites, err := h.repo.ListRunSites(ctx, runID, limit, offset)
	if err != nil {
		h.logger.Error("list run sites failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list run sites", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sites": toSiteDTOs(sites),
	}, h.logger)
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	runIDStr := chi.URLParam(r, "run_id")
	if runIDStr == "" {
		return uuid.UUID{}, errors.New("run_id is required")
	}
	runID, err := uuid.Parse(runIDStr)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid run_id")
	}
	return runID, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (store.RunStatus, error) {
	switch strings.ToLower(input) {
	case "running":
		return store.RunRunning, nil
	case "success":
		return store.RunSuccess, nil
	case "error", "failed", "failure":
		return store.RunError, nil
	default:
		return "", errors.New("invalid status")
	}
}

func toRunDTOs(in []store.RunRecord) []runDTO {
	out := make([]runDTO, 0, len(in))
	for _, run := range in {
		out = append(out, toRunDTO(run))
	}
	return out
}

func toRunDTO(run store.RunRecord) runDTO {
	return runDTO{
		ID:         run.ID.String(),
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Status:     string(run.Status),
		Error:      run.ErrorMessage,
	}
}

func toSiteDTOs(in []store.SiteStats) []siteDTO {
	out := make([]siteDTO, 0, len(in))
	for _, s := range in {
		out = append(out, siteDTO{
			Site:       s.Site,
			LastUpdate: s.LastUpdate,
			Pages:      s.Pages,
			BytesTotal: s.BytesTotal,
			Errors:     s.Errors,
			Found:      s.Found,
		})
	}
	return out
}

type runDTO struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Error      *string    `json:"error,omitempty"`
}

type siteDTO struct {
	Site       string    `json:"site"`
	LastUpdate time.Time `json:"last_update"`
	Pages      int64     `json:"pages"`
	BytesTotal int64     `json:"bytes_total"`
	Errors     int64     `json:"errors"`
	Found      int64     `json:"found"`
}
