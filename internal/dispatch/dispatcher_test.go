package dispatch

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"flightoracle/internal/ledger/ledgertest"
	"flightoracle/internal/models"
	"flightoracle/internal/oracle"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	fee      = big.NewInt(1e18)
	scenario = []models.Indexes{{1, 4, 7}, {2, 4, 9}, {3, 5, 7}}
	request  = models.StatusRequest{
		Index: 4,
		Flight: models.FlightIdentity{
			Airline:       common.HexToAddress("0x00000000000000000000000000000000000a1a1a"),
			FlightCode:    "ND1309",
			DepartureTime: 1_700_000_000,
		},
	}
)

func scenarioPool(t *testing.T) (*ledgertest.Ledger, *oracle.Pool) {
	l := ledgertest.New(len(scenario), fee)
	for i, ix := range scenario {
		l.AssignIndexes(ledgertest.Account(i), ix)
	}
	p := oracle.NewPool(oracle.Config{Log: zaptest.NewLogger(t)}, l)
	_, err := p.Initialize(context.Background(), len(scenario), fee)
	require.NoError(t, err)
	return l, p
}

func senders(subs []ledgertest.Submission) []common.Address {
	res := make([]common.Address, 0, len(subs))
	for _, s := range subs {
		res = append(res, s.From)
	}
	return res
}

func TestDispatchMatchesIndexes(t *testing.T) {
	l, p := scenarioPool(t)
	d := New(Config{Log: zaptest.NewLogger(t), Generator: FixedGenerator(models.StatusLateAirline)}, p, l)

	rep := d.Dispatch(context.Background(), request)
	require.NoError(t, rep.Err())
	require.NotEmpty(t, rep.Wave)
	require.ElementsMatch(t, []common.Address{ledgertest.Account(0), ledgertest.Account(1)}, rep.Eligible)
	require.ElementsMatch(t, rep.Eligible, rep.Submitted)

	subs := l.Submissions()
	require.ElementsMatch(t, rep.Eligible, senders(subs))
	for _, s := range subs {
		require.Equal(t, request.Index, s.Response.Index)
		require.Equal(t, request.Flight, s.Response.Flight)
		require.Equal(t, models.StatusLateAirline, s.Response.Status)
	}
}

type countingSubmitter struct {
	mtx  sync.Mutex
	from map[common.Address]int
}

func (c *countingSubmitter) SubmitOracleResponse(_ context.Context, from common.Address, _ models.OracleResponse) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.from[from]++
	return nil
}

func TestDispatchAttemptsIffIndexMember(t *testing.T) {
	_, p := scenarioPool(t)
	for idx := uint8(0); idx < 10; idx++ {
		sub := &countingSubmitter{from: make(map[common.Address]int)}
		d := New(Config{}, p, sub)
		req := request
		req.Index = idx
		d.Dispatch(context.Background(), req)

		for i, ix := range scenario {
			want := 0
			if ix.Contains(idx) {
				want = 1
			}
			require.Equal(t, want, sub.from[ledgertest.Account(i)], "oracle %d index %d", i, idx)
		}
	}
}

func TestDispatchIsolatesFailures(t *testing.T) {
	l := ledgertest.New(4, fee)
	for i := 0; i < 4; i++ {
		l.AssignIndexes(ledgertest.Account(i), models.Indexes{4, uint8(i), 9})
	}
	p := oracle.NewPool(oracle.Config{}, l)
	_, err := p.Initialize(context.Background(), 4, fee)
	require.NoError(t, err)

	bad := ledgertest.Account(2)
	cause := errors.New("execution reverted: flight or timestamp do not match oracle request")
	l.FailSubmit(bad, cause)

	d := New(Config{Log: zaptest.NewLogger(t)}, p, l)
	rep := d.Dispatch(context.Background(), request)

	require.Len(t, rep.Eligible, 4)
	require.Len(t, rep.Submitted, 3)
	require.Len(t, rep.Failures, 1)
	require.Equal(t, bad, rep.Failures[0].Oracle)
	require.Equal(t, request.Index, rep.Failures[0].Index)
	require.ErrorIs(t, rep.Err(), cause)
	require.NotContains(t, senders(l.Submissions()), bad)
	require.Len(t, l.Submissions(), 3)
}

func TestDispatchSkipsUnregistered(t *testing.T) {
	l := ledgertest.New(2, fee)
	l.AssignIndexes(ledgertest.Account(0), models.Indexes{4, 4, 4})
	l.FailRegister(ledgertest.Account(1), errors.New("insufficient funds"))
	p := oracle.NewPool(oracle.Config{}, l)
	_, err := p.Initialize(context.Background(), 2, fee)
	require.NoError(t, err)

	rep := New(Config{}, p, l).Dispatch(context.Background(), request)
	require.Equal(t, []common.Address{ledgertest.Account(0)}, rep.Eligible)
	require.Empty(t, rep.Failures)
}

func TestDispatchNoDeduplication(t *testing.T) {
	l, p := scenarioPool(t)
	d := New(Config{}, p, l)

	first := d.Dispatch(context.Background(), request)
	second := d.Dispatch(context.Background(), request)
	require.NotEqual(t, first.Wave, second.Wave)
	require.Len(t, l.Submissions(), 4)
}

type slowSubmitter struct {
	slow common.Address
}

func (s slowSubmitter) SubmitOracleResponse(ctx context.Context, from common.Address, _ models.OracleResponse) error {
	if from != s.slow {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestDispatchSubmissionTimeout(t *testing.T) {
	_, p := scenarioPool(t)
	slow := ledgertest.Account(0)
	d := New(Config{CallTimeout: 20 * time.Millisecond}, p, slowSubmitter{slow: slow})

	rep := d.Dispatch(context.Background(), request)
	require.Equal(t, []common.Address{ledgertest.Account(1)}, rep.Submitted)
	require.Len(t, rep.Failures, 1)
	require.ErrorIs(t, rep.Failures[0], context.DeadlineExceeded)
}

func TestRandomGeneratorCoversReportableStatuses(t *testing.T) {
	seen := make(map[models.StatusCode]int)
	var g RandomGenerator
	for i := 0; i < 2000; i++ {
		seen[g.Next()]++
	}
	require.Len(t, seen, len(models.ReportableStatuses))
	for _, s := range models.ReportableStatuses {
		require.Greater(t, seen[s], 0)
	}
	require.Zero(t, seen[models.StatusUnknown])
}

func TestSequenceGenerator(t *testing.T) {
	g := NewSequenceGenerator(models.StatusOnTime, models.StatusLateOther)
	require.Equal(t, models.StatusOnTime, g.Next())
	require.Equal(t, models.StatusLateOther, g.Next())
	require.Equal(t, models.StatusOnTime, g.Next())
	require.Equal(t, models.StatusUnknown, NewSequenceGenerator().Next())
}
