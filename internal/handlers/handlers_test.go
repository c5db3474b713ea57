package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/HTF1125/investment-x-sub000/internal/common"
	"github.com/HTF1125/investment-x-sub000/internal/models"
	"github.com/HTF1125/investment-x-sub000/internal/sandbox"
	"github.com/HTF1125/investment-x-sub000/internal/services/charts"
	"github.com/HTF1125/investment-x-sub000/internal/services/data"
	"github.com/HTF1125/investment-x-sub000/internal/storage"
)

const goodSource = `import plotly.graph_objects as go
fig = go.Figure(data=[go.Scatter(y=[1, 2, 3])])
`

const brokenSource = `fig = go.Figure(data=[go.Scatter(y=[1, 2][5])])`

type testAPI struct {
	mux    *http.ServeMux
	charts *charts.Service
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := arbor.NewLogger()

	config := common.NewDefaultConfig()
	config.Storage.Type = "sqlite"
	config.Storage.SQLite.Path = filepath.Join(t.TempDir(), "api.db")
	manager, err := storage.NewStorageManager(logger, config)
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	dataService := data.NewService(manager.SeriesCache(), nil, data.Config{}, logger)
	executor := sandbox.NewExecutor(dataService, logger, sandbox.Config{})
	chartService := charts.NewService(manager.ChartStorage(), executor, nil, logger)

	h := NewChartHandler(chartService, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/charts", h.ChartsHandler)
	mux.HandleFunc("/api/charts/", h.ChartRoutesHandler)
	return &testAPI{mux: mux, charts: chartService}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (a *testAPI) create(t *testing.T, name, source string) CreateResponse {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/charts", map[string]interface{}{"name": name, "source": source, "category": "Macro"}, OwnerHeader, "alice")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[CreateResponse](t, rec)
}

func TestChartHandler_CreateAndGet(t *testing.T) {
	api := newTestAPI(t)

	created := api.create(t, "Curve", goodSource)
	require.NotNil(t, created.Chart)
	assert.Equal(t, "alice", created.Chart.OwnerID)
	assert.True(t, created.Render.Rendered)
	assert.Nil(t, created.RenderError)

	rec := api.do(t, http.MethodGet, "/api/charts/"+created.Chart.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[models.Chart](t, rec)
	assert.Contains(t, string(got.Figure), `"paper_bgcolor":"#ffffff"`)

	rec = api.do(t, http.MethodGet, "/api/charts/"+created.Chart.ID+"?theme=dark", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dark := decode[models.Chart](t, rec)
	assert.Contains(t, string(dark.Figure), `"paper_bgcolor":"#0b1220"`)
}

func TestChartHandler_CreateWithFailingSource(t *testing.T) {
	api := newTestAPI(t)

	created := api.create(t, "Broken", brokenSource)
	assert.False(t, created.Render.Rendered)
	require.NotNil(t, created.RenderError)
	assert.Equal(t, string(sandbox.CodeRuntime), created.RenderError.Code)
	assert.Nil(t, created.Chart.Figure)
}

func TestChartHandler_Validation(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/charts", map[string]interface{}{"source": goodSource})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/charts", strings.NewReader("{not json"))
	rec = httptest.NewRecorder()
	api.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPatch, "/api/charts", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestChartHandler_NotFound(t *testing.T) {
	api := newTestAPI(t)

	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/api/charts/chart_missing", nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodDelete, "/api/charts/chart_missing", nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodPost, "/api/charts/chart_missing/refresh", nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/api/charts/a/b/c", nil).Code)
}

func TestChartHandler_UpdateSourceFailureKeepsFigure(t *testing.T) {
	api := newTestAPI(t)
	created := api.create(t, "Curve", goodSource)
	id := created.Chart.ID

	rec := api.do(t, http.MethodPut, "/api/charts/"+id+"/source", map[string]string{"source": brokenSource})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode[ExecutionErrorResponse](t, rec)
	assert.Equal(t, id, body.ChartID)
	assert.Equal(t, string(sandbox.CodeRuntime), body.Code)
	assert.NotEmpty(t, body.Trace)

	stored, err := api.charts.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, brokenSource, stored.Source)
	assert.JSONEq(t, string(created.Chart.Figure), string(stored.Figure))

	rec = api.do(t, http.MethodPost, "/api/charts/"+id+"/refresh", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = api.do(t, http.MethodPut, "/api/charts/"+id+"/source", map[string]string{"source": goodSource})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChartHandler_MetadataListDelete(t *testing.T) {
	api := newTestAPI(t)
	a := api.create(t, "A", goodSource)
	api.create(t, "B", goodSource)

	rec := api.do(t, http.MethodPut, "/api/charts/"+a.Chart.ID, map[string]interface{}{"rank": -1, "tags": []string{"rates"}})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[models.Chart](t, rec)
	assert.Equal(t, -1, updated.Rank)
	assert.Equal(t, goodSource, updated.Source)

	rec = api.do(t, http.MethodGet, "/api/charts?metadata_only=true", nil, OwnerHeader, "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	summaries := decode[struct {
		Charts []models.ChartSummary `json:"charts"`
		Count  int                   `json:"count"`
	}](t, rec)
	require.Equal(t, 2, summaries.Count)
	assert.Equal(t, "A", summaries.Charts[0].Name, "lower rank first")

	rec = api.do(t, http.MethodGet, "/api/charts?tag=rates", nil)
	list := decode[struct {
		Charts []models.Chart `json:"charts"`
	}](t, rec)
	require.Len(t, list.Charts, 1)
	assert.Equal(t, a.Chart.ID, list.Charts[0].ID)

	rec = api.do(t, http.MethodGet, "/api/charts?owner=bob", nil)
	assert.Equal(t, 0, decode[struct {
		Count int `json:"count"`
	}](t, rec).Count)

	assert.Equal(t, http.StatusOK, api.do(t, http.MethodDelete, "/api/charts/"+a.Chart.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/api/charts/"+a.Chart.ID, nil).Code)
}

func TestChartHandler_Execute(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/charts/execute", map[string]string{"source": "x = 1\nprint('hi')\nchart = go.Figure()"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ExecuteResponse](t, rec)
	assert.Equal(t, "chart", resp.Binding)
	assert.Equal(t, []string{"hi"}, resp.Output)

	rec = api.do(t, http.MethodPost, "/api/charts/execute", map[string]string{"source": "x = 1"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(sandbox.CodeResultMissing), decode[ExecutionErrorResponse](t, rec).Code)

	rec = api.do(t, http.MethodGet, "/api/charts/execute", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	charts, err := api.charts.List(context.Background(), models.ChartFilter{})
	require.NoError(t, err)
	assert.Empty(t, charts, "dry runs persist nothing")
}

func TestPathSegments(t *testing.T) {
	assert.Equal(t, []string{"abc", "source"}, PathSegments("/api/charts/abc/source", chartsPrefix))
	assert.Equal(t, []string{"abc"}, PathSegments("/api/charts/abc/", chartsPrefix))
	assert.Nil(t, PathSegments("/api/charts/", chartsPrefix))
}
