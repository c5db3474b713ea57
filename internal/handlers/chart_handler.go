package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/HTF1125/investment-x-sub000/internal/models"
	"github.com/HTF1125/investment-x-sub000/internal/sandbox"
	"github.com/HTF1125/investment-x-sub000/internal/services/charts"
	"github.com/HTF1125/investment-x-sub000/internal/theme"
)

const chartsPrefix = "/api/charts/"

// ChartHandler serves the chart CRUD, refresh and dry-run endpoints
type ChartHandler struct {
	charts ChartService
	logger arbor.ILogger
}

func NewChartHandler(chartService ChartService, logger arbor.ILogger) *ChartHandler {
	return &ChartHandler{charts: chartService, logger: logger}
}

// CreateResponse is returned by POST /api/charts. A chart whose first
// render failed is still created; RenderError explains why it has no figure.
type CreateResponse struct {
	Chart       *models.Chart           `json:"chart"`
	Render      *charts.RenderOutcome   `json:"render"`
	RenderError *ExecutionErrorResponse `json:"render_error,omitempty"`
}

// ExecuteResponse is returned by the dry-run endpoint
type ExecuteResponse struct {
	Figure     json.RawMessage `json:"figure"`
	Binding    string          `json:"binding"`
	Queries    int             `json:"queries"`
	DurationMS int64           `json:"duration_ms"`
	Output     []string        `json:"output,omitempty"`
}

type sourceRequest struct {
	Source string `json:"source"`
}

// ChartsHandler handles GET (list) and POST (create) on /api/charts
func (h *ChartHandler) ChartsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.create(w, r)
	default:
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// ChartRoutesHandler handles /api/charts/{id}, /api/charts/{id}/source,
// /api/charts/{id}/refresh and /api/charts/execute
func (h *ChartHandler) ChartRoutesHandler(w http.ResponseWriter, r *http.Request) {
	parts := PathSegments(r.URL.Path, chartsPrefix)
	switch {
	case len(parts) == 1 && parts[0] == "execute":
		if RequireMethod(w, r, http.MethodPost) {
			h.execute(w, r)
		}
	case len(parts) == 1:
		id := parts[0]
		switch r.Method {
		case http.MethodGet:
			h.get(w, r, id)
		case http.MethodPut:
			h.updateMetadata(w, r, id)
		case http.MethodDelete:
			h.delete(w, r, id)
		default:
			WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	case len(parts) == 2 && parts[1] == "source":
		if RequireMethod(w, r, http.MethodPut) {
			h.updateSource(w, r, parts[0])
		}
	case len(parts) == 2 && parts[1] == "refresh":
		if RequireMethod(w, r, http.MethodPost) {
			h.refresh(w, r, parts[0])
		}
	default:
		WriteError(w, http.StatusNotFound, "Not found")
	}
}

func (h *ChartHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.ChartFilter{
		OwnerID:  q.Get("owner"),
		Category: q.Get("category"),
		Tag:      q.Get("tag"),
	}
	if filter.OwnerID == "" {
		filter.OwnerID = OwnerID(r)
	}
	if filter.OwnerID != "" {
		filter.IncludePublic = true
		if v, ok := QueryBool(r, "include_public"); ok {
			filter.IncludePublic = v
		}
	}
	if v, ok := QueryBool(r, "public"); ok {
		filter.PublicOnly = v
	}
	if v, ok := QueryBool(r, "metadata_only"); ok {
		filter.MetadataOnly = v
	}
	filter.Limit, filter.Offset = GetPaginationParams(r)

	if filter.MetadataOnly {
		summaries, err := h.charts.ListSummaries(r.Context(), filter)
		if err != nil {
			WriteServiceError(w, h.logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{"charts": summaries, "count": len(summaries)})
		return
	}

	list, err := h.charts.List(r.Context(), filter)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"charts": list, "count": len(list)})
}

func (h *ChartHandler) create(w http.ResponseWriter, r *http.Request) {
	var req charts.CreateRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	if owner := OwnerID(r); owner != "" {
		req.OwnerID = owner
	}

	chart, outcome, err := h.charts.Create(r.Context(), req)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	resp := CreateResponse{Chart: chart, Render: outcome}
	if outcome != nil && outcome.Error != nil {
		body := executionErrorBody(outcome.Error, chart.ID)
		resp.RenderError = &body
	}
	WriteJSON(w, http.StatusCreated, resp)
}

func (h *ChartHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	chart, err := h.charts.GetThemed(r.Context(), id, theme.ParseMode(r.URL.Query().Get("theme")))
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, chart)
}

func (h *ChartHandler) updateMetadata(w http.ResponseWriter, r *http.Request, id string) {
	var meta models.ChartMetadata
	if err := DecodeJSON(w, r, &meta); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	chart, err := h.charts.UpdateMetadata(r.Context(), id, meta)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, chart)
}

func (h *ChartHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.charts.Delete(r.Context(), id); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

func (h *ChartHandler) updateSource(w http.ResponseWriter, r *http.Request, id string) {
	var req sourceRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	chart, err := h.charts.UpdateSource(r.Context(), id, req.Source)
	h.writeRenderResult(w, chart, id, err)
}

func (h *ChartHandler) refresh(w http.ResponseWriter, r *http.Request, id string) {
	chart, err := h.charts.Refresh(r.Context(), id)
	h.writeRenderResult(w, chart, id, err)
}

// writeRenderResult answers 422 with the script trace when a persisted
// chart failed to execute, and the chart otherwise.
func (h *ChartHandler) writeRenderResult(w http.ResponseWriter, chart *models.Chart, id string, err error) {
	if err == nil {
		WriteJSON(w, http.StatusOK, chart)
		return
	}
	if execErr, ok := sandbox.AsExecutionError(err); ok {
		h.logger.Warn().
			Str("chart_id", id).
			Str("code", string(execErr.Code)).
			Msg("Chart execution failed")
		WriteJSON(w, http.StatusUnprocessableEntity, executionErrorBody(execErr, id))
		return
	}
	WriteServiceError(w, h.logger, err)
}

func (h *ChartHandler) execute(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	result, err := h.charts.Execute(r.Context(), req.Source)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, ExecuteResponse{
		Figure:     result.JSON,
		Binding:    result.Binding,
		Queries:    result.Queries,
		DurationMS: result.Duration.Milliseconds(),
		Output:     result.Output,
	})
}
