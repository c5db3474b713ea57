package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/HTF1125/investment-x-sub000/internal/interfaces"
	"github.com/HTF1125/investment-x-sub000/internal/sandbox"
	"github.com/HTF1125/investment-x-sub000/internal/services/charts"
	"github.com/HTF1125/investment-x-sub000/internal/services/export"
	"github.com/HTF1125/investment-x-sub000/internal/services/tasks"
)

// OwnerHeader carries the caller's owner id; authentication happens upstream.
const OwnerHeader = "X-Owner-ID"

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 20

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// ExecutionErrorResponse is the 422 body for a failed chart script
type ExecutionErrorResponse struct {
	Status  string `json:"status"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Trace   string `json:"trace,omitempty"`
	ChartID string `json:"chart_id,omitempty"`
}

func executionErrorBody(err *sandbox.ExecutionError, chartID string) ExecutionErrorResponse {
	return ExecutionErrorResponse{
		Status:  "error",
		Error:   err.Error(),
		Code:    string(err.Code),
		Message: err.Message,
		Trace:   err.Trace,
		ChartID: chartID,
	}
}

// WriteServiceError maps service errors to HTTP status codes
func WriteServiceError(w http.ResponseWriter, logger arbor.ILogger, err error) {
	if execErr, ok := sandbox.AsExecutionError(err); ok {
		WriteJSON(w, http.StatusUnprocessableEntity, executionErrorBody(execErr, ""))
		return
	}

	switch {
	case errors.Is(err, interfaces.ErrChartNotFound), errors.Is(err, tasks.ErrTaskNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, charts.ErrInvalidChart), errors.Is(err, tasks.ErrNoCharts), errors.Is(err, errBadRequest):
		WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tasks.ErrTaskNotReady):
		WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, export.ErrNothingToRender):
		WriteError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		logger.Error().Err(err).Msg("Request failed")
		WriteError(w, http.StatusInternalServerError, "Internal server error")
	}
}

var errBadRequest = errors.New("bad request")

// DecodeJSON reads a size-limited JSON body into v
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer body.Close()
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", errBadRequest)
		}
		return fmt.Errorf("%w: invalid JSON: %v", errBadRequest, err)
	}
	return nil
}

// OwnerID returns the caller's owner id, empty for anonymous callers
func OwnerID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(OwnerHeader))
}

// PathSegments splits the path after prefix, e.g.
// "/api/charts/abc/source" with prefix "/api/charts/" -> ["abc", "source"].
func PathSegments(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

// QueryBool parses an optional boolean query parameter
func QueryBool(r *http.Request, key string) (bool, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

// GetPaginationParams extracts limit and offset from the query string.
// limit defaults to 0 (no limit) and is capped at 500.
func GetPaginationParams(r *http.Request) (limit, offset int) {
	if s := r.URL.Query().Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > 500 {
		limit = 500
	}
	if s := r.URL.Query().Get("offset"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			offset = v
		}
	}
	return limit, offset
}
