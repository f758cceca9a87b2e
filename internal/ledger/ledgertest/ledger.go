// Package ledgertest provides an in-memory ledger with fault injection for
// exercising the coordinator without a node.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"

	"flightoracle/internal/ledger"
	"flightoracle/internal/models"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
)

var (
	// ErrAlreadyRegistered is the revert of a second registration from one account
	ErrAlreadyRegistered = errors.New("execution reverted: oracle already registered")
	// ErrNotOracle is returned when indexes are read for an unregistered account
	ErrNotOracle = errors.New("execution reverted: not registered as oracle")
	// ErrFeeMismatch is the revert of a registration paying less than the fee
	ErrFeeMismatch = errors.New("execution reverted: registration fee is required")
)

var _ ledger.Ledger = (*Ledger)(nil)

// Submission is a recorded submitOracleResponse call
type Submission struct {
	From     common.Address
	Response models.OracleResponse
}

// Ledger is a fake ledger. The zero value is not usable, use New.
type Ledger struct {
	mu sync.Mutex

	fee      *big.Int
	accounts []common.Address
	assigned map[common.Address]models.Indexes
	oracles  map[common.Address]models.Indexes

	keys    []common.Hash
	flights map[common.Hash]models.FlightData

	submissions []Submission
	registers   []common.Address

	// fault injection
	registerErr map[common.Address]error
	submitErr   map[common.Address]error
	readErr     error
	readFails   int

	// BeforeFlightKeyAt runs before every FlightKeyAt call, outside the lock.
	BeforeFlightKeyAt func(position uint64)

	feeds map[models.EventKind]*event.FeedOf[models.Event]
}

// New creates a ledger with n accounts and the given registration fee
func New(n int, fee *big.Int) *Ledger {
	l := &Ledger{
		fee:         new(big.Int).Set(fee),
		assigned:    make(map[common.Address]models.Indexes),
		oracles:     make(map[common.Address]models.Indexes),
		flights:     make(map[common.Hash]models.FlightData),
		registerErr: make(map[common.Address]error),
		submitErr:   make(map[common.Address]error),
		feeds:       make(map[models.EventKind]*event.FeedOf[models.Event]),
	}
	for i := 0; i < n; i++ {
		l.accounts = append(l.accounts, Account(i))
	}
	for _, k := range models.EventKinds {
		l.feeds[k] = new(event.FeedOf[models.Event])
	}
	return l
}

// Account returns the deterministic address of the i-th fake account
func Account(i int) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("account-" + strconv.Itoa(i))))
}

// AssignIndexes fixes the indexes handed out when addr registers
func (l *Ledger) AssignIndexes(addr common.Address, ix models.Indexes) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.assigned[addr] = ix
}

// MarkRegistered makes addr an oracle as if it registered in an earlier run
func (l *Ledger) MarkRegistered(addr common.Address, ix models.Indexes) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.oracles[addr] = ix
}

// FailRegister makes RegisterOracle from addr fail with err
func (l *Ledger) FailRegister(addr common.Address, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.registerErr[addr] = err
}

// FailSubmit makes SubmitOracleResponse from addr fail with err
func (l *Ledger) FailSubmit(addr common.Address, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submitErr[addr] = err
}

// FailReads makes the next n flight reads fail with err, n < 0 means forever
func (l *Ledger) FailReads(err error, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readErr = err
	l.readFails = n
}

// KeyFor derives the flight key the same way for every caller
func KeyFor(f models.FlightIdentity) common.Hash {
	dep := new(big.Int).SetUint64(f.DepartureTime)
	return crypto.Keccak256Hash(f.Airline.Bytes(), []byte(f.FlightCode), common.LeftPadBytes(dep.Bytes(), 32))
}

// AddFlight appends a flight to the ledger's key sequence, or updates it
func (l *Ledger) AddFlight(data models.FlightData) common.Hash {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := KeyFor(data.Identity())
	if _, ok := l.flights[key]; !ok {
		l.keys = append(l.keys, key)
	}
	l.flights[key] = data
	return key
}

// SetStatus changes the status of a registered flight
func (l *Ledger) SetStatus(key common.Hash, status models.StatusCode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d := l.flights[key]
	d.Status = status
	l.flights[key] = d
}

// Submissions returns a copy of every recorded submission
func (l *Ledger) Submissions() []Submission {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Submission(nil), l.submissions...)
}

// RegisterCalls returns the accounts RegisterOracle was called from
func (l *Ledger) RegisterCalls() []common.Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]common.Address(nil), l.registers...)
}

// Emit delivers ev to every subscriber of its kind and blocks until they took it
func (l *Ledger) Emit(ev models.Event) int {
	return l.feeds[ev.Kind()].Send(ev)
}

// Subscribe implements ledger.EventSource
func (l *Ledger) Subscribe(_ context.Context, kind models.EventKind, sink chan<- models.Event) (ethereum.Subscription, error) {
	feed, ok := l.feeds[kind]
	if !ok {
		return nil, fmt.Errorf("unknown event kind %d", kind)
	}
	return feed.Subscribe(sink), nil
}

// Accounts implements ledger.Registrar
func (l *Ledger) Accounts(ctx context.Context) ([]common.Address, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]common.Address(nil), l.accounts...), nil
}

// RegistrationFee implements ledger.Registrar
func (l *Ledger) RegistrationFee(ctx context.Context) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.fee), nil
}

// RegisterOracle implements ledger.Registrar
func (l *Ledger) RegisterOracle(ctx context.Context, from common.Address, fee *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.registers = append(l.registers, from)
	if err := l.registerErr[from]; err != nil {
		return err
	}
	if fee == nil || fee.Cmp(l.fee) < 0 {
		return ErrFeeMismatch
	}
	if _, ok := l.oracles[from]; ok {
		return ErrAlreadyRegistered
	}
	ix, ok := l.assigned[from]
	if !ok {
		// deterministic but distinct per account
		b := from.Bytes()
		ix = models.Indexes{b[0] % 10, b[1] % 10, b[2] % 10}
	}
	l.oracles[from] = ix
	return nil
}

// OracleIndexes implements ledger.Registrar
func (l *Ledger) OracleIndexes(ctx context.Context, oracle common.Address) (models.Indexes, error) {
	if err := ctx.Err(); err != nil {
		return models.Indexes{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	ix, ok := l.oracles[oracle]
	if !ok {
		return models.Indexes{}, ErrNotOracle
	}
	return ix, nil
}

func (l *Ledger) readFault() error {
	if l.readErr == nil || l.readFails == 0 {
		return nil
	}
	if l.readFails > 0 {
		l.readFails--
	}
	return l.readErr
}

// TotalFlightKeys implements ledger.FlightReader
func (l *Ledger) TotalFlightKeys(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.readFault(); err != nil {
		return 0, err
	}
	return uint64(len(l.keys)), nil
}

// FlightKeyAt implements ledger.FlightReader
func (l *Ledger) FlightKeyAt(ctx context.Context, position uint64) (common.Hash, error) {
	if hook := l.BeforeFlightKeyAt; hook != nil {
		hook(position)
	}
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.readFault(); err != nil {
		return common.Hash{}, err
	}
	if position >= uint64(len(l.keys)) {
		return common.Hash{}, fmt.Errorf("execution reverted: flight key %d out of range", position)
	}
	return l.keys[position], nil
}

// FlightKey implements ledger.FlightReader
func (l *Ledger) FlightKey(ctx context.Context, f models.FlightIdentity) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	return KeyFor(f), nil
}

// Flight implements ledger.FlightReader. Unknown keys yield a zero
// snapshot, the way a public mapping getter does.
func (l *Ledger) Flight(ctx context.Context, key common.Hash) (models.FlightData, error) {
	if err := ctx.Err(); err != nil {
		return models.FlightData{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.readFault(); err != nil {
		return models.FlightData{}, err
	}
	return l.flights[key], nil
}

// SubmitOracleResponse implements ledger.Submitter
func (l *Ledger) SubmitOracleResponse(ctx context.Context, from common.Address, resp models.OracleResponse) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.submitErr[from]; err != nil {
		return err
	}
	ix, ok := l.oracles[from]
	if !ok || !ix.Contains(resp.Index) {
		return errors.New("execution reverted: index does not match oracle request")
	}
	l.submissions = append(l.submissions, Submission{From: from, Response: resp})
	return nil
}
