package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Charts
	mux.HandleFunc("/api/charts", s.app.ChartHandler.ChartsHandler)       // GET (list), POST (create)
	mux.HandleFunc("/api/charts/", s.app.ChartHandler.ChartRoutesHandler) // /{id}, /{id}/source, /{id}/refresh, /execute

	// API routes - Exports
	mux.HandleFunc("/api/exports", s.app.ExportHandler.ExportsHandler)       // GET (list), POST (start)
	mux.HandleFunc("/api/exports/", s.app.ExportHandler.ExportRoutesHandler) // /{id}, /{id}/download

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}
