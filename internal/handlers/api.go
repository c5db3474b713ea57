package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/HTF1125/investment-x-sub000/internal/common"
)

// HealthCheck reports one dependency's health
type HealthCheck func(ctx context.Context) error

type APIHandler struct {
	logger  arbor.ILogger
	checks  map[string]HealthCheck
	started time.Time
}

// NewAPIHandler creates the version/health handler. checks may be nil.
func NewAPIHandler(checks map[string]HealthCheck, logger arbor.ILogger) *APIHandler {
	return &APIHandler{logger: logger, checks: checks, started: time.Now()}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, common.GetVersionInfo())
}

// HealthResponse is the /api/health body
type HealthResponse struct {
	Status  string             `json:"status"`
	Version common.VersionInfo `json:"version"`
	Uptime  string             `json:"uptime"`
	Checks  map[string]string  `json:"checks,omitempty"`
}

// HealthHandler runs every check with a short deadline. Any failing check
// turns the response into a 503.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:  "ok",
		Version: common.GetVersionInfo(),
		Uptime:  time.Since(h.started).Round(time.Second).String(),
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) > 0 {
		resp.Checks = make(map[string]string, len(names))
	}
	status := http.StatusOK
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.Warn().Err(err).Str("check", name).Msg("Health check failed")
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	WriteJSON(w, status, resp)
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}
