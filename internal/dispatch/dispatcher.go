// Package dispatch answers ledger status requests on behalf of every oracle
// whose index set matches the request.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"flightoracle/internal/ledger"
	"flightoracle/internal/metrics"
	"flightoracle/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxConcurrent = 10
	defaultCallTimeout   = 10 * time.Second
)

type (
	// Pool gives access to the cached oracle indexes
	Pool interface {
		Members() []common.Address
		IndexesFor(addr common.Address) (models.Indexes, error)
	}

	// Config contains dispatcher parameters
	Config struct {
		Log       *zap.Logger
		Generator Generator
		// MaxConcurrent bounds parallel submissions of one request.
		MaxConcurrent int
		// CallTimeout bounds every single submission.
		CallTimeout time.Duration
	}

	// Dispatcher is the response dispatcher
	Dispatcher struct {
		Config
		pool      Pool
		submitter ledger.Submitter
	}

	// Report summarises one dispatch wave
	Report struct {
		Wave      string
		Request   models.StatusRequest
		Eligible  []common.Address
		Submitted []common.Address
		Failures  []*SubmissionFailed
	}

	// SubmissionFailed records a submission the ledger did not accept
	SubmissionFailed struct {
		Oracle common.Address
		Index  uint8
		Cause  error
	}
)

func (e *SubmissionFailed) Error() string {
	return fmt.Sprintf("submit response of oracle %s for index %d: %v", e.Oracle.Hex(), e.Index, e.Cause)
}

func (e *SubmissionFailed) Unwrap() error { return e.Cause }

// Err combines all submission failures, nil when there were none
func (r Report) Err() error {
	var err error
	for _, f := range r.Failures {
		err = multierr.Append(err, f)
	}
	return err
}

// New creates a dispatcher
func New(cfg Config, pool Pool, submitter ledger.Submitter) *Dispatcher {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Generator == nil {
		cfg.Generator = RandomGenerator{}
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	return &Dispatcher{
		Config:    cfg,
		pool:      pool,
		submitter: submitter,
	}
}

// Dispatch submits one response per eligible oracle. Oracles not holding
// req.Index, or not registered at all, are skipped silently. Submissions are
// independent: a failure is logged and reported, never retried, and does not
// affect the others.
func (d *Dispatcher) Dispatch(ctx context.Context, req models.StatusRequest) Report {
	start := time.Now()
	rep := Report{Wave: uuid.NewString(), Request: req}
	log := d.Log.With(
		zap.String("wave", rep.Wave),
		zap.Uint8("index", req.Index),
		zap.Stringer("flight", req.Flight))

	for _, m := range d.pool.Members() {
		ix, err := d.pool.IndexesFor(m)
		if err != nil || !ix.Contains(req.Index) {
			continue
		}
		rep.Eligible = append(rep.Eligible, m)
	}
	if len(rep.Eligible) == 0 {
		log.Debug("no oracle holds the requested index")
		return rep
	}

	var (
		mtx sync.Mutex
		g   errgroup.Group
	)
	g.SetLimit(d.MaxConcurrent)
	for _, oracle := range rep.Eligible {
		g.Go(func() error {
			resp := models.OracleResponse{
				Index:  req.Index,
				Flight: req.Flight,
				Status: d.Generator.Next(),
			}
			err := d.submit(ctx, oracle, resp)

			mtx.Lock()
			defer mtx.Unlock()
			if err != nil {
				rep.Failures = append(rep.Failures, &SubmissionFailed{Oracle: oracle, Index: req.Index, Cause: err})
				metrics.Submissions.WithLabelValues("failed").Inc()
				metrics.ErrorsTotal.WithLabelValues("dispatch").Inc()
				log.Warn("oracle response rejected", zap.Stringer("oracle", oracle), zap.Error(err))
				return nil
			}
			rep.Submitted = append(rep.Submitted, oracle)
			metrics.Submissions.WithLabelValues("ok").Inc()
			log.Debug("oracle response submitted",
				zap.Stringer("oracle", oracle),
				zap.Stringer("status", resp.Status))
			return nil
		})
	}
	_ = g.Wait()

	metrics.DispatchDuration.Observe(time.Since(start).Seconds())
	log.Info("status request answered",
		zap.Int("eligible", len(rep.Eligible)),
		zap.Int("submitted", len(rep.Submitted)),
		zap.Int("failed", len(rep.Failures)),
		zap.Duration("took", time.Since(start)))
	return rep
}

func (d *Dispatcher) submit(ctx context.Context, oracle common.Address, resp models.OracleResponse) error {
	ctx, cancel := context.WithTimeout(ctx, d.CallTimeout)
	defer cancel()
	return d.submitter.SubmitOracleResponse(ctx, oracle, resp)
}
