package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/ternarybob/arbor"

	"github.com/HTF1125/investment-x-sub000/internal/services/tasks"
)

const exportsPrefix = "/api/exports/"

// ExportHandler starts asynchronous exports and serves their results
type ExportHandler struct {
	tasks  ExportTasks
	logger arbor.ILogger
}

func NewExportHandler(exportTasks ExportTasks, logger arbor.ILogger) *ExportHandler {
	return &ExportHandler{tasks: exportTasks, logger: logger}
}

// ExportsHandler handles POST (start) and GET (list) on /api/exports
func (h *ExportHandler) ExportsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.start(w, r)
	case http.MethodGet:
		list := h.tasks.List()
		WriteJSON(w, http.StatusOK, map[string]interface{}{"tasks": list, "count": len(list)})
	default:
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// ExportRoutesHandler handles /api/exports/{id} and /api/exports/{id}/download
func (h *ExportHandler) ExportRoutesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	parts := PathSegments(r.URL.Path, exportsPrefix)
	switch {
	case len(parts) == 1:
		task, err := h.tasks.Get(parts[0])
		if err != nil {
			WriteServiceError(w, h.logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, task)
	case len(parts) == 2 && parts[1] == "download":
		h.download(w, r, parts[0])
	default:
		WriteError(w, http.StatusNotFound, "Not found")
	}
}

func (h *ExportHandler) start(w http.ResponseWriter, r *http.Request) {
	var req tasks.Request
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	if req.Theme == "" {
		req.Theme = r.URL.Query().Get("theme")
	}

	task, err := h.tasks.Start(req)
	if err != nil {
		// Every Start failure is a rejected request
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info().
		Str("task_id", task.ID).
		Str("format", string(task.Format)).
		Int("charts", len(task.ChartIDs)).
		Msg("Export started")

	w.Header().Set("Location", exportsPrefix+task.ID)
	WriteJSON(w, http.StatusAccepted, task)
}

func (h *ExportHandler) download(w http.ResponseWriter, r *http.Request, id string) {
	doc, err := h.tasks.Document(id)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.Bytes)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(doc.Bytes); err != nil {
		h.logger.Warn().Err(err).Str("task_id", id).Msg("Failed to write export download")
	}
}
