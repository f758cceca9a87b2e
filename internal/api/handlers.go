package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"flightoracle/internal/coordinator"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string    `json:"status"`
	State     string    `json:"state"`
	Flights   int       `json:"flights"`
	Oracles   int       `json:"oracles"`
	Storage   string    `json:"storage,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// handleIndex returns basic service information
// GET / - Returns service info and available endpoints
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"service":     "flightoracle",
		"description": "Flight status oracle node",
		"endpoints": map[string]string{
			"GET /":        "This page - Service information",
			"GET /health":  "Coordinator state, 503 until live",
			"GET /metrics": "Prometheus metrics for monitoring",
			"POST /resync": "Rebuild the flight registry mirror from the ledger",
		},
	}
	s.sendJSON(w, info, http.StatusOK)
}

// handleHealth returns health status
// GET /health - 200 once the coordinator is live and storage answers
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.coord.State()
	health := HealthResponse{
		Status:    "healthy",
		State:     state.String(),
		Flights:   len(s.coord.Flights()),
		Oracles:   len(s.coord.Oracles()),
		Timestamp: time.Now().UTC(),
	}
	code := http.StatusOK
	if state != coordinator.StateLive {
		health.Status = "starting"
		code = http.StatusServiceUnavailable
	}

	if s.repository != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		health.Storage = "ok"
		if err := s.repository.Ping(ctx); err != nil {
			s.log.Warn("storage ping failed", zap.Error(err))
			health.Storage = "unreachable"
			health.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	s.sendJSON(w, health, code)
}

// handleMetrics returns the Prometheus metrics handler
// GET /metrics - Prometheus scraping endpoint
func (s *Server) handleMetrics() http.Handler {
	return promhttp.Handler()
}

// handleResync triggers a full registry resynchronization
// POST /resync
func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := s.coord.Resync(r.Context()); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, coordinator.ErrNotLive) {
			code = http.StatusServiceUnavailable
		}
		s.log.Error("resync failed", zap.Error(err))
		s.sendError(w, err.Error(), code)
		return
	}
	s.sendJSON(w, map[string]any{
		"flights": len(s.coord.Flights()),
		"took":    time.Since(start).String(),
	}, http.StatusOK)
}

func (s *Server) sendJSON(w http.ResponseWriter, v any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, map[string]string{"error": message}, code)
}
