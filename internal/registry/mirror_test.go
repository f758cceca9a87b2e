package registry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"
	"testing"

	"flightoracle/internal/ledger/ledgertest"
	"flightoracle/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func key(s string) common.Hash {
	return common.BytesToHash([]byte(s))
}

func flight(code string, status models.StatusCode) models.FlightData {
	return models.FlightData{
		Registered:    true,
		Status:        status,
		Airline:       common.HexToAddress("0x00000000000000000000000000000000000a1a1a"),
		FlightCode:    code,
		Origin:        "ZRH",
		Destination:   "JFK",
		DepartureTime: 1_700_000_000,
		TicketFee:     big.NewInt(500),
	}
}

func seededLedger(n int) (*ledgertest.Ledger, []common.Hash) {
	l := ledgertest.New(0, big.NewInt(1))
	keys := make([]common.Hash, n)
	for i := range keys {
		keys[i] = l.AddFlight(flight(fmt.Sprintf("LX%03d", i), models.StatusUnknown))
	}
	return l, keys
}

func TestUpsertUpdatesInPlace(t *testing.T) {
	m := New(zaptest.NewLogger(t))

	rec, applied := m.Upsert(key("FK1"), flight("LX1", 0))
	require.True(t, applied)
	require.EqualValues(t, 0, rec.Index)

	rec, _ = m.Upsert(key("FK1"), flight("LX1", 20))
	require.EqualValues(t, 0, rec.Index)

	list := m.List()
	require.Len(t, list, 1)
	require.Equal(t, key("FK1"), list[0].FlightKey)
	require.Equal(t, models.StatusLateAirline, list[0].Data.Status)
	require.EqualValues(t, 0, list[0].Index)
}

func TestUpsertIdempotent(t *testing.T) {
	once := New(nil)
	twice := New(nil)
	d := flight("LX7", models.StatusOnTime)

	once.Upsert(key("A"), d)
	twice.Upsert(key("A"), d)
	twice.Upsert(key("A"), d)

	require.Equal(t, once.List(), twice.List())
	require.Equal(t, 1, twice.Len())
}

func TestNoDuplicateKeys(t *testing.T) {
	m := New(nil)
	seq := []string{"A", "B", "A", "C", "B", "B", "D", "A"}
	for i, k := range seq {
		m.Upsert(key(k), flight(k, models.StatusCode(i%6*10)))
	}
	seen := make(map[common.Hash]bool)
	for i, rec := range m.List() {
		require.False(t, seen[rec.FlightKey], "duplicate %s", rec.FlightKey)
		seen[rec.FlightKey] = true
		require.EqualValues(t, i, rec.Index)
	}
	require.Len(t, seen, 4)
}

func TestConcurrentDistinctUpserts(t *testing.T) {
	m := New(nil)
	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Upsert(key(fmt.Sprintf("K%d", i)), flight("X", 0))
		}()
	}
	wg.Wait()

	list := m.List()
	require.Len(t, list, n)
	indexes := make(map[uint64]bool)
	for _, rec := range list {
		indexes[rec.Index] = true
	}
	require.Len(t, indexes, n)
}

func TestLookup(t *testing.T) {
	m := New(nil)
	m.Upsert(key("A"), flight("A", 10))

	rec, err := m.Lookup(key("A"))
	require.NoError(t, err)
	require.Equal(t, "A", rec.Data.FlightCode)

	_, err = m.Lookup(key("B"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRefreshRebuildsInLedgerOrder(t *testing.T) {
	l, keys := seededLedger(3)
	m := New(zaptest.NewLogger(t))

	require.NoError(t, m.Refresh(context.Background(), l))

	list := m.List()
	require.Len(t, list, 3)
	for i, rec := range list {
		require.EqualValues(t, i, rec.Index)
		require.Equal(t, keys[i], rec.FlightKey)
		require.Equal(t, fmt.Sprintf("LX%03d", i), rec.Data.FlightCode)
	}
}

func TestRefreshResetsMirror(t *testing.T) {
	l, keys := seededLedger(2)
	m := New(nil)
	m.Upsert(key("stale"), flight("OLD", 0))
	m.Upsert(keys[1], flight("LX001", 0))

	require.NoError(t, m.Refresh(context.Background(), l))

	list := m.List()
	require.Len(t, list, 2)
	require.Equal(t, keys[0], list[0].FlightKey)
	require.Equal(t, keys[1], list[1].FlightKey)
	_, err := m.Lookup(key("stale"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRefreshFailureKeepsSnapshot(t *testing.T) {
	l, _ := seededLedger(3)
	m := New(zaptest.NewLogger(t))
	m.Upsert(key("A"), flight("A", 0))
	before := m.List()

	cause := errors.New("dial tcp 127.0.0.1:8545: connection refused")
	l.FailReads(cause, -1)
	err := m.Refresh(context.Background(), l)

	var rf *RefreshFailed
	require.ErrorAs(t, err, &rf)
	require.ErrorIs(t, err, cause)
	require.Equal(t, before, m.List())

	// mirror keeps accepting upserts afterwards
	_, applied := m.Upsert(key("B"), flight("B", 0))
	require.True(t, applied)
	require.Equal(t, 2, m.Len())
}

// hugeSource reports far more keys than it can serve
type hugeSource struct{ *ledgertest.Ledger }

func (hugeSource) TotalFlightKeys(context.Context) (uint64, error) { return math.MaxUint64, nil }

func TestRefreshBogusTotal(t *testing.T) {
	l, _ := seededLedger(1)
	m := New(zaptest.NewLogger(t))

	err := m.Refresh(context.Background(), hugeSource{l})
	var rf *RefreshFailed
	require.ErrorAs(t, err, &rf)
	require.EqualValues(t, 1, rf.Position)
	require.Zero(t, m.Len())
}

func TestRefreshExclusivity(t *testing.T) {
	l, keys := seededLedger(3)
	m := New(zaptest.NewLogger(t))
	m.Upsert(key("old"), flight("OLD", 0))
	before := m.List()

	reached := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	l.BeforeFlightKeyAt = func(pos uint64) {
		if pos == 1 {
			once.Do(func() {
				close(reached)
				<-release
			})
		}
	}

	done := make(chan error, 1)
	go func() { done <- m.Refresh(context.Background(), l) }()
	<-reached

	// mid-rebuild: writers are queued, readers see the old snapshot
	_, applied := m.Upsert(key("late"), flight("LATE", 10))
	require.False(t, applied)
	_, applied = m.Upsert(keys[0], flight("LX000", models.StatusLateWeather))
	require.False(t, applied)
	require.Equal(t, before, m.List())
	_, err := m.Lookup(key("late"))
	require.ErrorIs(t, err, ErrNotFound)

	close(release)
	require.NoError(t, <-done)

	list := m.List()
	require.Len(t, list, 4)
	for i := 0; i < 3; i++ {
		require.Equal(t, keys[i], list[i].FlightKey)
		require.EqualValues(t, i, list[i].Index)
	}
	require.Equal(t, models.StatusLateWeather, list[0].Data.Status)
	require.Equal(t, key("late"), list[3].FlightKey)
	require.EqualValues(t, 3, list[3].Index)
}

func TestConcurrentRefreshAndReaders(t *testing.T) {
	l, _ := seededLedger(5)
	m := New(nil)
	require.NoError(t, m.Refresh(context.Background(), l))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				list := m.List()
				// every snapshot is complete: the five ledger flights at 0..4
				if len(list) < 5 {
					t.Errorf("observed partial snapshot of %d records", len(list))
					return
				}
				for i, rec := range list {
					if rec.Index != uint64(i) {
						t.Errorf("record %d has index %d", i, rec.Index)
						return
					}
				}
			}
		}()
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, m.Refresh(context.Background(), l))
	}
	close(stop)
	wg.Wait()
}
