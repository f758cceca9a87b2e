// Package registry keeps a deduplicated, read-optimized local mirror of the
// flights known to the ledger.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"flightoracle/internal/metrics"
	"flightoracle/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// ErrNotFound is returned by Lookup for unknown flight keys
var ErrNotFound = errors.New("flight not found")

// RefreshFailed means a resynchronization pass could not complete.
// The mirror keeps the snapshot it had before the pass.
type RefreshFailed struct {
	Position uint64 // ledger position being read when the pass failed
	Cause    error
}

func (e *RefreshFailed) Error() string {
	return fmt.Sprintf("registry refresh failed at position %d: %v", e.Position, e.Cause)
}

func (e *RefreshFailed) Unwrap() error { return e.Cause }

// Source is the ledger's authoritative flight-key sequence
type Source interface {
	TotalFlightKeys(ctx context.Context) (uint64, error)
	FlightKeyAt(ctx context.Context, position uint64) (common.Hash, error)
	Flight(ctx context.Context, key common.Hash) (models.FlightData, error)
}

const maxPrealloc = 1024

type pendingUpsert struct {
	key  common.Hash
	data models.FlightData
}

// Mirror is the flight registry mirror.
// All mutation goes through Upsert and Refresh.
type Mirror struct {
	log *zap.Logger

	// refreshMtx serialises refresh passes.
	refreshMtx sync.Mutex

	// mtx protects everything below.
	mtx        sync.RWMutex
	records    []models.FlightRecord
	byKey      map[common.Hash]int
	refreshing bool
	pending    []pendingUpsert
}

// New returns an empty mirror
func New(log *zap.Logger) *Mirror {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mirror{
		log:   log,
		byKey: make(map[common.Hash]int),
	}
}

// Upsert appends a record for a new key or replaces the data of an existing
// one in place, keeping its local index. While a refresh is running the
// upsert is queued and applied right after the pass; applied is false then.
func (m *Mirror) Upsert(key common.Hash, data models.FlightData) (rec models.FlightRecord, applied bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.refreshing {
		m.pending = append(m.pending, pendingUpsert{key: key, data: data})
		m.log.Debug("upsert queued behind refresh", zap.Stringer("flight_key", key))
		return models.FlightRecord{}, false
	}
	return m.upsertLocked(key, data), true
}

func (m *Mirror) upsertLocked(key common.Hash, data models.FlightData) models.FlightRecord {
	if i, ok := m.byKey[key]; ok {
		m.records[i].Data = data
		return m.records[i]
	}
	rec := models.FlightRecord{
		Index:     uint64(len(m.records)),
		FlightKey: key,
		Data:      data,
	}
	m.byKey[key] = len(m.records)
	m.records = append(m.records, rec)
	metrics.MirrorFlights.Set(float64(len(m.records)))
	return rec
}

// Refresh rebuilds the mirror from src, one key at a time in ledger order,
// assigning local indexes 0..k-1. The new snapshot replaces the old one
// atomically; readers never observe a partially rebuilt mirror.
func (m *Mirror) Refresh(ctx context.Context, src Source) error {
	m.refreshMtx.Lock()
	defer m.refreshMtx.Unlock()

	m.mtx.Lock()
	m.refreshing = true
	m.mtx.Unlock()

	start := time.Now()
	records, byKey, err := m.rebuild(ctx, src)

	m.mtx.Lock()
	if err == nil {
		m.records = records
		m.byKey = byKey
	}
	pending := m.pending
	m.pending = nil
	m.refreshing = false
	for _, p := range pending {
		m.upsertLocked(p.key, p.data)
	}
	size := len(m.records)
	metrics.MirrorFlights.Set(float64(size))
	m.mtx.Unlock()

	if err != nil {
		metrics.RefreshFailures.Inc()
		m.log.Warn("registry refresh failed", zap.Error(err), zap.Int("requeued", len(pending)))
		return err
	}
	metrics.RefreshDuration.Observe(time.Since(start).Seconds())
	m.log.Info("registry refreshed",
		zap.Int("flights", size),
		zap.Int("requeued", len(pending)),
		zap.Duration("took", time.Since(start)))
	return nil
}

func (m *Mirror) rebuild(ctx context.Context, src Source) ([]models.FlightRecord, map[common.Hash]int, error) {
	total, err := src.TotalFlightKeys(ctx)
	if err != nil {
		return nil, nil, &RefreshFailed{Cause: fmt.Errorf("total flight keys: %w", err)}
	}

	// the count comes from the ledger, do not trust it for allocation
	size := min(total, maxPrealloc)
	records := make([]models.FlightRecord, 0, size)
	byKey := make(map[common.Hash]int, size)
	for pos := uint64(0); pos < total; pos++ {
		key, err := src.FlightKeyAt(ctx, pos)
		if err != nil {
			return nil, nil, &RefreshFailed{Position: pos, Cause: fmt.Errorf("flight key: %w", err)}
		}
		data, err := src.Flight(ctx, key)
		if err != nil {
			return nil, nil, &RefreshFailed{Position: pos, Cause: fmt.Errorf("flight %s: %w", key.Hex(), err)}
		}
		if i, dup := byKey[key]; dup {
			// the ledger listed the same key twice, keep the first position
			records[i].Data = data
			continue
		}
		byKey[key] = len(records)
		records = append(records, models.FlightRecord{
			Index:     uint64(len(records)),
			FlightKey: key,
			Data:      data,
		})
	}
	return records, byKey, nil
}

// List returns every record in local index order
func (m *Mirror) List() []models.FlightRecord {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return append([]models.FlightRecord(nil), m.records...)
}

// Lookup returns the record for key
func (m *Mirror) Lookup(key common.Hash) (models.FlightRecord, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	i, ok := m.byKey[key]
	if !ok {
		return models.FlightRecord{}, fmt.Errorf("%w: %s", ErrNotFound, key.Hex())
	}
	return m.records[i], nil
}

// Len returns the number of mirrored flights
func (m *Mirror) Len() int {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return len(m.records)
}
