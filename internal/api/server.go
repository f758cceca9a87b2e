// Package api serves the operational HTTP endpoints of the oracle node.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"flightoracle/internal/coordinator"
	"flightoracle/internal/models"
	"flightoracle/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Coordinator is the part of the coordinator the ops server reports on
type Coordinator interface {
	State() coordinator.State
	Flights() []models.FlightRecord
	Oracles() []models.OracleIdentity
	Resync(ctx context.Context) error
}

// Server represents the ops HTTP server.
// Provides endpoints for Prometheus metrics, health checks and resync.
type Server struct {
	httpServer *http.Server
	router     chi.Router
	coord      Coordinator
	repository storage.Repository
	log        *zap.Logger
	addr       string
}

// NewServer creates a new ops server instance. repository may be nil.
func NewServer(addr string, coord Coordinator, repository storage.Repository, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		router:     r,
		coord:      coord,
		repository: repository,
		log:        log,
		addr:       addr,
	}

	// Register all HTTP routes
	s.registerRoutes()

	return s
}

// registerRoutes sets up all HTTP routes
func (s *Server) registerRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(10 * time.Second))

	s.router.Get("/", s.handleIndex)
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", s.handleMetrics())
	s.router.Post("/resync", s.handleResync)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listen address and serves in a goroutine.
// A bind failure is returned immediately.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.log.Info("ops server starting",
		zap.String("addr", ln.Addr().String()),
		zap.Strings("endpoints", []string{"/", "/health", "/metrics", "/resync"}))

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("ops server error", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
// Waits for active connections to close or context to timeout
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("ops server shutting down")
	return s.httpServer.Shutdown(ctx)
}
