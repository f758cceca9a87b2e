// Package oracle owns the set of oracle identities: it registers them with
// the ledger once and caches the indexes the ledger assigned to each.
package oracle

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"flightoracle/internal/ledger"
	"flightoracle/internal/metrics"
	"flightoracle/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxConcurrent = 10
	defaultCallTimeout   = 10 * time.Second
)

type (
	// Pool is the oracle pool manager
	Pool struct {
		Config

		registrar ledger.Registrar

		// mtx protects everything below.
		mtx         sync.RWMutex
		initialized bool
		members     []common.Address
		indexes     map[common.Address]models.Indexes
	}

	// Config contains pool parameters
	Config struct {
		Log *zap.Logger
		// MaxConcurrent bounds parallel registrations.
		MaxConcurrent int
		// CallTimeout bounds every single ledger call.
		CallTimeout time.Duration
	}

	// Report summarises an Initialize run
	Report struct {
		Attempted  int
		Registered []models.OracleIdentity
		// Adopted counts oracles that were already registered on the ledger.
		Adopted  int
		Failures []*RegistrationFailed
	}

	outcome struct {
		indexes models.Indexes
		adopted bool
		err     *RegistrationFailed
	}
)

// Err combines all per-oracle failures, nil when there were none
func (r Report) Err() error {
	var err error
	for _, f := range r.Failures {
		err = multierr.Append(err, f)
	}
	return err
}

// NewPool returns an empty pool backed by registrar
func NewPool(cfg Config, registrar ledger.Registrar) *Pool {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	return &Pool{
		Config:    cfg,
		registrar: registrar,
		indexes:   make(map[common.Address]models.Indexes),
	}
}

// Initialize registers the first n locally available accounts as oracles,
// paying fee for each. Registrations run concurrently and fail independently;
// the returned error is only set for systemic failures.
func (p *Pool) Initialize(ctx context.Context, n int, fee *big.Int) (Report, error) {
	p.mtx.Lock()
	if p.initialized {
		p.mtx.Unlock()
		return Report{}, ErrAlreadyInitialized
	}
	p.initialized = true
	p.mtx.Unlock()

	accounts, err := p.listAccounts(ctx)
	if err != nil {
		p.mtx.Lock()
		p.initialized = false
		p.mtx.Unlock()
		return Report{}, fmt.Errorf("list accounts: %w", err)
	}
	if len(accounts) < n {
		p.Log.Warn("fewer accounts than requested oracles",
			zap.Int("requested", n),
			zap.Int("available", len(accounts)))
		n = len(accounts)
	}
	members := accounts[:n]

	p.Log.Info("registering oracles",
		zap.Int("count", n),
		zap.Stringer("fee", fee))

	outcomes := make([]outcome, n)
	var g errgroup.Group
	g.SetLimit(p.MaxConcurrent)
	for i, acc := range members {
		g.Go(func() error {
			outcomes[i] = p.register(ctx, acc, fee)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Attempted: n}
	p.mtx.Lock()
	p.members = append([]common.Address(nil), members...)
	for i, acc := range members {
		o := outcomes[i]
		if o.err != nil {
			report.Failures = append(report.Failures, o.err)
			metrics.Registrations.WithLabelValues("failed").Inc()
			continue
		}
		p.indexes[acc] = o.indexes
		report.Registered = append(report.Registered, models.OracleIdentity{Address: acc, Indexes: o.indexes})
		if o.adopted {
			report.Adopted++
			metrics.Registrations.WithLabelValues("adopted").Inc()
		} else {
			metrics.Registrations.WithLabelValues("registered").Inc()
		}
	}
	metrics.PoolSize.Set(float64(len(p.indexes)))
	p.mtx.Unlock()

	p.Log.Info("oracle pool ready",
		zap.Int("registered", len(report.Registered)),
		zap.Int("adopted", report.Adopted),
		zap.Int("failed", len(report.Failures)))

	if n > 0 && len(report.Registered) == 0 {
		return report, fmt.Errorf("%w: %w", ErrPoolEmpty, report.Err())
	}
	return report, nil
}

func (p *Pool) listAccounts(ctx context.Context) ([]common.Address, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.CallTimeout)
	defer cancel()
	return p.registrar.Accounts(callCtx)
}

func (p *Pool) register(ctx context.Context, acc common.Address, fee *big.Int) outcome {
	log := p.Log.With(zap.Stringer("oracle", acc))

	regCtx, cancel := context.WithTimeout(ctx, p.CallTimeout)
	regErr := p.registrar.RegisterOracle(regCtx, acc, fee)
	cancel()

	// Read back the indexes even when registration failed: a restarted
	// process finds its accounts already registered.
	ixCtx, cancel := context.WithTimeout(ctx, p.CallTimeout)
	ix, ixErr := p.registrar.OracleIndexes(ixCtx, acc)
	cancel()

	switch {
	case regErr != nil && ixErr != nil:
		log.Warn("oracle registration failed", zap.Error(regErr))
		metrics.ErrorsTotal.WithLabelValues("oracle").Inc()
		return outcome{err: &RegistrationFailed{Oracle: acc, Cause: regErr}}
	case regErr != nil:
		log.Info("oracle already registered, adopting", zap.Stringer("indexes", ix), zap.NamedError("register_error", regErr))
		return outcome{indexes: ix, adopted: true}
	case ixErr != nil:
		log.Warn("oracle registered but indexes unavailable", zap.Error(ixErr))
		metrics.ErrorsTotal.WithLabelValues("oracle").Inc()
		return outcome{err: &RegistrationFailed{Oracle: acc, Cause: fmt.Errorf("read indexes: %w", ixErr)}}
	}
	log.Debug("oracle registered", zap.Stringer("indexes", ix))
	return outcome{indexes: ix}
}

// IndexesFor returns the cached indexes of a registered oracle
func (p *Pool) IndexesFor(addr common.Address) (models.Indexes, error) {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	ix, ok := p.indexes[addr]
	if !ok {
		return models.Indexes{}, fmt.Errorf("%w: %s", ErrNotRegistered, addr.Hex())
	}
	return ix, nil
}

// Members returns every account the pool tried to register, in account order
func (p *Pool) Members() []common.Address {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	return append([]common.Address(nil), p.members...)
}

// Oracles returns the registered oracles in account order
func (p *Pool) Oracles() []models.OracleIdentity {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	res := make([]models.OracleIdentity, 0, len(p.indexes))
	for _, m := range p.members {
		if ix, ok := p.indexes[m]; ok {
			res = append(res, models.OracleIdentity{Address: m, Indexes: ix})
		}
	}
	return res
}

// ConfirmRegistration matches a ledger registration confirmation against
// the cache. It reports whether a pool oracle holds that index set.
func (p *Pool) ConfirmRegistration(ev models.OracleRegistered) bool {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	for addr, ix := range p.indexes {
		if ix == ev.Indexes {
			p.Log.Debug("oracle registration confirmed",
				zap.Stringer("oracle", addr),
				zap.Stringer("indexes", ix),
				zap.Uint64("block", ev.Block))
			return true
		}
	}
	p.Log.Debug("registration of an oracle outside the pool",
		zap.Stringer("indexes", ev.Indexes),
		zap.Uint64("block", ev.Block))
	return false
}
