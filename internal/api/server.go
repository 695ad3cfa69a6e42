package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/insight-digest/internal/config"
)

// Server is the ops HTTP server.
type Server struct {
	config  config.ServerConfig
	handler http.Handler
	server  *http.Server
}

// NewServer creates a server for the given router.
func NewServer(cfg config.ServerConfig, handler http.Handler) *Server {
	return &Server{config: cfg, handler: handler}
}

// ListenAndServe starts the HTTP server on the configured address.
func (s *Server) ListenAndServe() error {
	s.server = &http.Server{
		Addr:    s.config.Addr(),
		Handler: s.handler,
		// A manual tick can run for the full subscriber timeout.
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}
