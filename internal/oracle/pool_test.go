package oracle

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"flightoracle/internal/ledger/ledgertest"
	"flightoracle/internal/models"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var fee = big.NewInt(1_000_000_000_000_000_000)

func newPool(t *testing.T, l *ledgertest.Ledger) *Pool {
	return NewPool(Config{Log: zaptest.NewLogger(t), MaxConcurrent: 4}, l)
}

func TestInitializeRegistersAndCachesIndexes(t *testing.T) {
	l := ledgertest.New(3, fee)
	want := []models.Indexes{{1, 4, 7}, {2, 4, 9}, {3, 5, 7}}
	for i, ix := range want {
		l.AssignIndexes(ledgertest.Account(i), ix)
	}

	p := newPool(t, l)
	rep, err := p.Initialize(context.Background(), 3, fee)
	require.NoError(t, err)
	require.NoError(t, rep.Err())
	require.Equal(t, 3, rep.Attempted)
	require.Len(t, rep.Registered, 3)

	for i, ix := range want {
		got, err := p.IndexesFor(ledgertest.Account(i))
		require.NoError(t, err)
		require.Equal(t, ix, got)
	}
	oracles := p.Oracles()
	require.Len(t, oracles, 3)
	require.Equal(t, ledgertest.Account(0), oracles[0].Address)
	require.Len(t, l.RegisterCalls(), 3)
}

func TestIndexesForBeforeRegistration(t *testing.T) {
	p := newPool(t, ledgertest.New(1, fee))
	_, err := p.IndexesFor(ledgertest.Account(0))
	require.ErrorIs(t, err, ErrNotRegistered)
}

func TestInitializeIsolatesFailures(t *testing.T) {
	l := ledgertest.New(3, fee)
	bad := ledgertest.Account(1)
	cause := errors.New("insufficient funds for gas * price + value")
	l.FailRegister(bad, cause)

	p := newPool(t, l)
	rep, err := p.Initialize(context.Background(), 3, fee)
	require.NoError(t, err)
	require.Len(t, rep.Registered, 2)
	require.Len(t, rep.Failures, 1)
	require.Equal(t, bad, rep.Failures[0].Oracle)
	require.ErrorIs(t, rep.Err(), cause)

	var rf *RegistrationFailed
	require.ErrorAs(t, rep.Err(), &rf)

	_, err = p.IndexesFor(bad)
	require.ErrorIs(t, err, ErrNotRegistered)
	_, err = p.IndexesFor(ledgertest.Account(2))
	require.NoError(t, err)

	require.Len(t, p.Members(), 3)
	require.Len(t, p.Oracles(), 2)
}

func TestInitializeAdoptsAlreadyRegistered(t *testing.T) {
	l := ledgertest.New(2, fee)
	l.MarkRegistered(ledgertest.Account(0), models.Indexes{0, 1, 2})

	p := newPool(t, l)
	rep, err := p.Initialize(context.Background(), 2, fee)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Adopted)
	require.Len(t, rep.Registered, 2)

	ix, err := p.IndexesFor(ledgertest.Account(0))
	require.NoError(t, err)
	require.Equal(t, models.Indexes{0, 1, 2}, ix)
}

func TestInitializeFeeMismatch(t *testing.T) {
	l := ledgertest.New(2, fee)
	p := newPool(t, l)
	rep, err := p.Initialize(context.Background(), 2, big.NewInt(1))
	require.ErrorIs(t, err, ErrPoolEmpty)
	require.ErrorIs(t, err, ledgertest.ErrFeeMismatch)
	require.Len(t, rep.Failures, 2)
	require.Empty(t, p.Oracles())
}

func TestInitializeFewerAccounts(t *testing.T) {
	l := ledgertest.New(2, fee)
	p := newPool(t, l)
	rep, err := p.Initialize(context.Background(), 5, fee)
	require.NoError(t, err)
	require.Equal(t, 2, rep.Attempted)
	require.Len(t, p.Members(), 2)
}

func TestInitializeOnlyOnce(t *testing.T) {
	l := ledgertest.New(1, fee)
	p := newPool(t, l)
	_, err := p.Initialize(context.Background(), 1, fee)
	require.NoError(t, err)
	_, err = p.Initialize(context.Background(), 1, fee)
	require.ErrorIs(t, err, ErrAlreadyInitialized)
	require.Len(t, l.RegisterCalls(), 1)
}

func TestInitializeCancelledContext(t *testing.T) {
	l := ledgertest.New(1, fee)
	p := newPool(t, l)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Initialize(ctx, 1, fee)
	require.ErrorIs(t, err, context.Canceled)

	// a systemic failure leaves the pool initializable
	_, err = p.Initialize(context.Background(), 1, fee)
	require.NoError(t, err)
}

func TestConfirmRegistration(t *testing.T) {
	l := ledgertest.New(1, fee)
	l.AssignIndexes(ledgertest.Account(0), models.Indexes{5, 6, 7})
	p := newPool(t, l)
	_, err := p.Initialize(context.Background(), 1, fee)
	require.NoError(t, err)

	require.True(t, p.ConfirmRegistration(models.OracleRegistered{Indexes: models.Indexes{5, 6, 7}}))
	require.False(t, p.ConfirmRegistration(models.OracleRegistered{Indexes: models.Indexes{1, 1, 1}}))
}
