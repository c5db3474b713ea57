package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/HTF1125/investment-x-sub000/internal/app"
	"github.com/HTF1125/investment-x-sub000/internal/common"
	"github.com/HTF1125/investment-x-sub000/internal/sandbox"
)

// Server serves the chart API and the progress websocket
type Server struct {
	app    *app.App
	router *http.ServeMux
	server *http.Server
}

// New wires routes and middleware for application
func New(application *app.App) *Server {
	s := &Server{app: application}
	s.router = s.setupRoutes()

	// Chart writes run scripts inline, so responses may take the whole sandbox budget
	scriptTimeout := common.Duration(application.Config.Sandbox.Timeout, sandbox.DefaultTimeout)

	s.server = &http.Server{
		Addr:              net.JoinHostPort(application.Config.Server.Host, fmt.Sprint(application.Config.Server.Port)),
		Handler:           s.withConditionalMiddleware(s.router),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      scriptTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Addr is the configured listen address
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start listens and blocks until the server is shut down
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}

	s.app.Logger.Info().
		Str("address", ln.Addr().String()).
		Msg("HTTP server listening")

	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx ends
func (s *Server) Shutdown(ctx context.Context) error {
	s.app.Logger.Info().Msg("Shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.app.Logger.Info().Msg("HTTP server stopped")
	return nil
}
