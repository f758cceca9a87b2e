// Package coordinator wires the oracle pool, the registry mirror and the
// response dispatcher to the ledger event stream.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"flightoracle/internal/dispatch"
	"flightoracle/internal/ledger"
	"flightoracle/internal/ledger/retry"
	"flightoracle/internal/metrics"
	"flightoracle/internal/models"
	"flightoracle/internal/notify"
	"flightoracle/internal/oracle"
	"flightoracle/internal/registry"
	"flightoracle/internal/storage"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const (
	defaultOracles     = 20
	defaultQueueSize   = 64
	defaultCallTimeout = 10 * time.Second
	resubscribeBackoff = 5 * time.Second
)

// State is the coordinator lifecycle state. It only moves forward.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateLive
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateLive:
		return "live"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrAlreadyStarted is returned by a second Start call
var ErrAlreadyStarted = errors.New("coordinator already started")

// ErrNotLive is returned by operations that need a running coordinator
var ErrNotLive = errors.New("coordinator is not live")

type (
	// Config contains coordinator parameters
	Config struct {
		Log *zap.Logger
		// OracleCount is the number of accounts registered as oracles on startup.
		OracleCount int
		// MaxConcurrent bounds parallel registrations and submissions.
		MaxConcurrent int
		// CallTimeout bounds every single ledger call.
		CallTimeout time.Duration
		// QueueSize is the capacity of each per-category event queue.
		QueueSize int
		// Retry drives the seed refresh and subscriptions, retry.DefaultConfig
		// when zero.
		Retry retry.Config
		// Generator picks the reported status codes, random when nil.
		Generator dispatch.Generator
	}

	// Deps are the collaborators of the coordinator. Repository and
	// Publisher are optional.
	Deps struct {
		Ledger     ledger.Ledger
		Repository storage.Repository
		Publisher  notify.Publisher
	}

	// Coordinator routes ledger events to the pool, the mirror and the
	// dispatcher
	Coordinator struct {
		Config

		ledger ledger.Ledger
		repo   storage.Repository
		pub    notify.Publisher
		retry  retry.Strategy

		pool       *oracle.Pool
		mirror     *registry.Mirror
		dispatcher *dispatch.Dispatcher
		source     registry.Source

		state atomic.Int32

		// runCtx is cancelled when shutdown starts, workCtx when in-flight
		// work is abandoned.
		runCtx     context.Context
		runCancel  context.CancelFunc
		workCtx    context.Context
		workCancel context.CancelFunc
		stop       chan struct{}
		stopOnce   sync.Once
		drains     sync.WaitGroup
		work       sync.WaitGroup

		// persistMtx orders single flight saves against full replacements.
		persistMtx sync.Mutex

		subMtx sync.Mutex
		subs   map[models.EventKind]ethereum.Subscription
	}
)

// New creates a coordinator in the Uninitialized state
func New(cfg Config, deps Deps) *Coordinator {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.OracleCount <= 0 {
		cfg.OracleCount = defaultOracles
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.Retry == (retry.Config{}) {
		cfg.Retry = retry.DefaultConfig()
	}
	if deps.Publisher == nil {
		deps.Publisher = notify.NopPublisher{}
	}

	pool := oracle.NewPool(oracle.Config{
		Log:           cfg.Log.Named("pool"),
		MaxConcurrent: cfg.MaxConcurrent,
		CallTimeout:   cfg.CallTimeout,
	}, deps.Ledger)

	c := &Coordinator{
		Config: cfg,
		ledger: deps.Ledger,
		repo:   deps.Repository,
		pub:    deps.Publisher,
		retry:  retry.NewStrategy(cfg.Retry, cfg.Log.Named("retry")),
		pool:   pool,
		mirror: registry.New(cfg.Log.Named("registry")),
		dispatcher: dispatch.New(dispatch.Config{
			Log:           cfg.Log.Named("dispatch"),
			Generator:     cfg.Generator,
			MaxConcurrent: cfg.MaxConcurrent,
			CallTimeout:   cfg.CallTimeout,
		}, pool, deps.Ledger),
		source: boundedSource{reader: deps.Ledger, timeout: cfg.CallTimeout},
		stop:   make(chan struct{}),
		subs:   make(map[models.EventKind]ethereum.Subscription),
	}
	c.runCtx, c.runCancel = context.WithCancel(context.Background())
	c.workCtx, c.workCancel = context.WithCancel(context.Background())
	metrics.CoordinatorState.Set(float64(StateUninitialized))
	return c
}

// Start registers the oracle pool, seeds the registry mirror and subscribes
// to every event category. It returns once the coordinator is Live, or with
// the systemic error that kept it from getting there.
func (c *Coordinator) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing)) {
		return ErrAlreadyStarted
	}
	metrics.CoordinatorState.Set(float64(StateInitializing))
	c.Log.Info("starting oracle coordinator",
		zap.Int("oracles", c.OracleCount),
		zap.String("retry", c.retry.Name()))

	var fee *big.Int
	err := c.retry.Execute(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.CallTimeout)
		defer cancel()
		var err error
		fee, err = c.ledger.RegistrationFee(callCtx)
		return err
	})
	if err != nil {
		return fmt.Errorf("read registration fee: %w", err)
	}

	rep, err := c.pool.Initialize(ctx, c.OracleCount, fee)
	if err != nil {
		return fmt.Errorf("initialize oracle pool: %w", err)
	}
	for _, f := range rep.Failures {
		c.Log.Warn("oracle left out of the pool", zap.Stringer("oracle", f.Oracle), zap.Error(f.Cause))
	}
	c.Log.Info("oracle pool initialized",
		zap.Int("attempted", rep.Attempted),
		zap.Int("registered", len(rep.Registered)),
		zap.Int("adopted", rep.Adopted),
		zap.Int("failed", len(rep.Failures)),
		zap.Stringer("fee", fee))
	c.persistOracles(ctx, rep.Registered)

	if err := c.refresh(ctx); err != nil {
		return fmt.Errorf("seed registry mirror: %w", err)
	}

	queues := make(map[models.EventKind]chan models.Event, len(models.EventKinds))
	subs := make(map[models.EventKind]ethereum.Subscription, len(models.EventKinds))
	for _, kind := range models.EventKinds {
		queue := make(chan models.Event, c.QueueSize)
		sub, err := c.subscribe(ctx, kind, queue)
		if err != nil {
			c.unsubscribeAll()
			return fmt.Errorf("subscribe to %s events: %w", kind, err)
		}
		queues[kind] = queue
		subs[kind] = sub
	}
	for _, kind := range models.EventKinds {
		c.drains.Add(1)
		go c.drain(kind, queues[kind], subs[kind])
	}

	c.state.Store(int32(StateLive))
	metrics.CoordinatorState.Set(float64(StateLive))
	c.Log.Info("oracle coordinator live",
		zap.Int("flights", c.mirror.Len()),
		zap.Int("oracles", len(c.pool.Oracles())))
	return nil
}

// Shutdown stops event intake, waits for in-flight dispatches until ctx
// expires and then releases the subscriptions. Pending submissions are
// abandoned when ctx expires first.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.runCancel()
	})
	c.drains.Wait()

	done := make(chan struct{})
	go func() {
		c.work.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		c.workCancel()
		<-done
		err = fmt.Errorf("in-flight dispatches abandoned: %w", ctx.Err())
	}
	c.workCancel()
	c.unsubscribeAll()

	c.Log.Info("oracle coordinator stopped")
	return err
}

// Resync rebuilds the registry mirror from the ledger
func (c *Coordinator) Resync(ctx context.Context) error {
	if c.State() != StateLive {
		return ErrNotLive
	}
	return c.refresh(ctx)
}

// State returns the lifecycle state
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Flights returns the mirrored flights in local index order
func (c *Coordinator) Flights() []models.FlightRecord {
	return c.mirror.List()
}

// Flight returns the mirrored flight stored under key
func (c *Coordinator) Flight(key common.Hash) (models.FlightRecord, error) {
	return c.mirror.Lookup(key)
}

// Oracles returns the registered oracles and their cached indexes
func (c *Coordinator) Oracles() []models.OracleIdentity {
	return c.pool.Oracles()
}

// refresh resynchronizes the mirror under the retry strategy and replaces
// the persisted projection afterwards
func (c *Coordinator) refresh(ctx context.Context) error {
	err := c.retry.Execute(ctx, func(ctx context.Context) error {
		return c.mirror.Refresh(ctx, c.source)
	})
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("registry").Inc()
		return err
	}
	if c.repo != nil {
		c.persistMtx.Lock()
		err := c.repo.ReplaceFlights(ctx, c.mirror.List())
		c.persistMtx.Unlock()
		if err != nil {
			metrics.ErrorsTotal.WithLabelValues("storage").Inc()
			c.Log.Warn("failed to persist flights", zap.Error(err))
		}
	}
	return nil
}

func (c *Coordinator) subscribe(ctx context.Context, kind models.EventKind, queue chan models.Event) (ethereum.Subscription, error) {
	var sub ethereum.Subscription
	err := c.retry.Execute(ctx, func(ctx context.Context) error {
		s, err := c.ledger.Subscribe(ctx, kind, queue)
		if err != nil {
			return err
		}
		sub = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.subMtx.Lock()
	c.subs[kind] = sub
	c.subMtx.Unlock()
	return sub, nil
}

// resubscribe keeps trying until a new subscription is up or shutdown starts
func (c *Coordinator) resubscribe(kind models.EventKind, queue chan models.Event) ethereum.Subscription {
	for {
		sub, err := c.subscribe(c.runCtx, kind, queue)
		if err == nil {
			c.Log.Info("event subscription restored", zap.Stringer("kind", kind))
			return sub
		}
		if c.runCtx.Err() != nil {
			return nil
		}
		metrics.ErrorsTotal.WithLabelValues("subscription").Inc()
		c.Log.Error("failed to restore event subscription", zap.Stringer("kind", kind), zap.Error(err))

		t := time.NewTimer(resubscribeBackoff)
		select {
		case <-c.stop:
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (c *Coordinator) unsubscribeAll() {
	c.subMtx.Lock()
	defer c.subMtx.Unlock()
	for kind, sub := range c.subs {
		sub.Unsubscribe()
		delete(c.subs, kind)
	}
}

// drain consumes one category queue until shutdown
func (c *Coordinator) drain(kind models.EventKind, queue chan models.Event, sub ethereum.Subscription) {
	defer c.drains.Done()
	for {
		select {
		case <-c.stop:
			return
		case ev := <-queue:
			c.handle(ev)
		case err := <-sub.Err():
			select {
			case <-c.stop:
				return
			default:
			}
			metrics.ErrorsTotal.WithLabelValues("subscription").Inc()
			c.Log.Warn("event subscription lost", zap.Stringer("kind", kind), zap.Error(err))
			sub.Unsubscribe()
			if sub = c.resubscribe(kind, queue); sub == nil {
				return
			}
		}
	}
}

// boundedSource applies the per-call deadline to every mirror read
type boundedSource struct {
	reader  ledger.FlightReader
	timeout time.Duration
}

func (s boundedSource) TotalFlightKeys(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.reader.TotalFlightKeys(ctx)
}

func (s boundedSource) FlightKeyAt(ctx context.Context, position uint64) (common.Hash, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.reader.FlightKeyAt(ctx, position)
}

func (s boundedSource) Flight(ctx context.Context, key common.Hash) (models.FlightData, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.reader.Flight(ctx, key)
}
