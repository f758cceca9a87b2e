package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"flightoracle/internal/coordinator"
	"flightoracle/internal/models"
	"flightoracle/internal/storage"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeCoordinator struct {
	state   coordinator.State
	flights []models.FlightRecord
	oracles []models.OracleIdentity
	resyncs int
}

func (f *fakeCoordinator) State() coordinator.State         { return f.state }
func (f *fakeCoordinator) Flights() []models.FlightRecord   { return f.flights }
func (f *fakeCoordinator) Oracles() []models.OracleIdentity { return f.oracles }
func (f *fakeCoordinator) Resync(context.Context) error {
	if f.state != coordinator.StateLive {
		return coordinator.ErrNotLive
	}
	f.resyncs++
	return nil
}

type downRepository struct{ storage.Repository }

func (downRepository) Ping(context.Context) error { return errors.New("connection refused") }

func get(t *testing.T, s *Server, method, path string) (*httptest.ResponseRecorder, HealthResponse) {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var body HealthResponse
	if path == "/health" {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	coord := &fakeCoordinator{state: coordinator.StateInitializing}
	s := NewServer(":0", coord, nil, zaptest.NewLogger(t))

	rec, body := get(t, s, http.MethodGet, "/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "initializing", body.State)

	coord.state = coordinator.StateLive
	coord.flights = make([]models.FlightRecord, 2)
	coord.oracles = make([]models.OracleIdentity, 3)
	rec, body = get(t, s, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "healthy", body.Status)
	require.Equal(t, "live", body.State)
	require.Equal(t, 2, body.Flights)
	require.Equal(t, 3, body.Oracles)
	require.Empty(t, body.Storage)
}

func TestHealthStorageDown(t *testing.T) {
	coord := &fakeCoordinator{state: coordinator.StateLive}
	s := NewServer(":0", coord, downRepository{}, zaptest.NewLogger(t))

	rec, body := get(t, s, http.MethodGet, "/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "degraded", body.Status)
	require.Equal(t, "unreachable", body.Storage)
}

func TestResync(t *testing.T) {
	coord := &fakeCoordinator{state: coordinator.StateInitializing}
	s := NewServer(":0", coord, nil, zaptest.NewLogger(t))

	rec, _ := get(t, s, http.MethodPost, "/resync")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	coord.state = coordinator.StateLive
	rec, _ = get(t, s, http.MethodPost, "/resync")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, coord.resyncs)

	rec, _ = get(t, s, http.MethodGet, "/resync")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsAndIndex(t *testing.T) {
	s := NewServer(":0", &fakeCoordinator{}, nil, zaptest.NewLogger(t))

	rec, _ := get(t, s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")

	rec, _ = get(t, s, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "flightoracle")
}

func TestStartAndShutdown(t *testing.T) {
	s := NewServer("127.0.0.1:0", &fakeCoordinator{}, nil, zaptest.NewLogger(t))
	require.NoError(t, s.Start())
	require.NoError(t, s.Shutdown(context.Background()))
}
