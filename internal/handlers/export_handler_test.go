package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/HTF1125/investment-x-sub000/internal/interfaces"
	"github.com/HTF1125/investment-x-sub000/internal/models"
	"github.com/HTF1125/investment-x-sub000/internal/services/export"
	"github.com/HTF1125/investment-x-sub000/internal/services/tasks"
)

type stubExporter struct{}

func (stubExporter) Export(_ context.Context, charts []*models.Chart, opts export.Options, progress export.ProgressFunc) (*export.Document, error) {
	progress(1, 1, "done")
	return &export.Document{
		Format:      opts.Format,
		ContentType: "text/html; charset=utf-8",
		Bytes:       []byte("<html></html>"),
		Pages:       len(charts),
		Filename:    "charts.html",
	}, nil
}

type stubCharts struct{}

func (stubCharts) Get(_ context.Context, id string) (*models.Chart, error) {
	if id == "missing" {
		return nil, interfaces.ErrChartNotFound
	}
	return &models.Chart{ID: id, Name: id, Figure: json.RawMessage(`{}`)}, nil
}

func newExportMux(t *testing.T) *http.ServeMux {
	t.Helper()
	logger := arbor.NewLogger()
	manager := tasks.NewManager(stubExporter{}, stubCharts{}, nil, 0, logger)
	t.Cleanup(manager.Close)

	h := NewExportHandler(manager, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/exports", h.ExportsHandler)
	mux.HandleFunc("/api/exports/", h.ExportRoutesHandler)
	return mux
}

func serve(mux http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestExportHandler_Lifecycle(t *testing.T) {
	mux := newExportMux(t)

	rec := serve(mux, http.MethodPost, "/api/exports", []byte(`{"ids":["a","missing"],"format":"html"}`))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var task models.ExportTask
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	assert.Equal(t, "/api/exports/"+task.ID, rec.Header().Get("Location"))

	require.Eventually(t, func() bool {
		rec := serve(mux, http.MethodGet, "/api/exports/"+task.ID, nil)
		var st models.ExportTask
		_ = json.Unmarshal(rec.Body.Bytes(), &st)
		return st.Status == models.ExportStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	rec = serve(mux, http.MethodGet, "/api/exports/"+task.ID+"/download", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "charts.html")
	assert.Equal(t, "<html></html>", rec.Body.String())

	rec = serve(mux, http.MethodGet, "/api/exports", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), task.ID)
}

func TestExportHandler_Errors(t *testing.T) {
	mux := newExportMux(t)

	assert.Equal(t, http.StatusBadRequest, serve(mux, http.MethodPost, "/api/exports", []byte(`{"ids":[]}`)).Code)
	assert.Equal(t, http.StatusBadRequest, serve(mux, http.MethodPost, "/api/exports", []byte(`{"ids":["a"],"format":"pptx"}`)).Code)
	assert.Equal(t, http.StatusBadRequest, serve(mux, http.MethodPost, "/api/exports", nil).Code)
	assert.Equal(t, http.StatusNotFound, serve(mux, http.MethodGet, "/api/exports/export_nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, serve(mux, http.MethodGet, "/api/exports/export_nope/download", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(mux, http.MethodDelete, "/api/exports/x", nil).Code)
}

func TestAPIHandler_Health(t *testing.T) {
	ok := NewAPIHandler(map[string]HealthCheck{"storage": func(context.Context) error { return nil }}, arbor.NewLogger())
	rec := serve(http.HandlerFunc(ok.HealthHandler), http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Checks["storage"])

	bad := NewAPIHandler(map[string]HealthCheck{"storage": func(context.Context) error { return assert.AnError }}, arbor.NewLogger())
	rec = serve(http.HandlerFunc(bad.HealthHandler), http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}
