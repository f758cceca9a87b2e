package coordinator

import (
	"context"
	"errors"
	"fmt"

	"flightoracle/internal/metrics"
	"flightoracle/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

var errUnresolvedFlight = errors.New("flight not resolvable from event")

// handle routes one event. Failures are logged and never stop the queue.
func (c *Coordinator) handle(ev models.Event) {
	kind := ev.Kind()
	metrics.EventsReceived.WithLabelValues(kind.String()).Inc()
	meta := ev.Metadata()
	log := c.Log.With(
		zap.Stringer("kind", kind),
		zap.Uint64("block", meta.Block),
		zap.Stringer("tx", meta.TxHash))

	switch e := ev.(type) {
	case models.OracleRegistered:
		if !c.pool.ConfirmRegistration(e) {
			log.Warn("registration confirmed for indexes held by no pool oracle",
				zap.Stringer("indexes", e.Indexes))
		}

	case models.FlightRegistered:
		log.Info("flight registered", zap.Stringer("flight", e.Flight), zap.String("destination", e.Flight.Destination))
		c.syncFlight(c.workCtx, log, e.Flight)

	case models.StatusRequested:
		log.Info("flight status requested",
			zap.Uint8("index", e.Request.Index),
			zap.Stringer("flight", e.Request.Flight))
		c.work.Add(1)
		metrics.InFlightDispatches.Inc()
		go func() {
			defer c.work.Done()
			defer metrics.InFlightDispatches.Dec()
			c.dispatcher.Dispatch(c.workCtx, e.Request)
			c.syncFlight(c.workCtx, log, e.Request.Flight)
		}()

	case models.StatusReported:
		log.Info("oracle report accepted",
			zap.Stringer("flight", e.Flight),
			zap.Stringer("status", e.Status))

	case models.StatusProcessed:
		log.Info("flight status processed",
			zap.Stringer("flight", e.Flight),
			zap.Stringer("status", e.Status))
		c.syncFlight(c.workCtx, log, e.Flight)

	case models.LedgerActivity:
		log.Info("ledger activity",
			zap.String("name", e.Name),
			zap.Stringer("account", e.Account))

	default:
		log.Warn("unhandled event type", zap.String("type", fmt.Sprintf("%T", ev)))
	}

	c.publish(ev, log)
}

// syncFlight reads the current ledger data of a flight into the mirror
func (c *Coordinator) syncFlight(ctx context.Context, log *zap.Logger, f models.FlightIdentity) {
	key, err := c.resolveKey(ctx, f)
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("registry").Inc()
		log.Warn("cannot resolve flight key", zap.Stringer("flight", f), zap.Error(err))
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, c.CallTimeout)
	data, err := c.ledger.Flight(callCtx, key)
	cancel()
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("registry").Inc()
		log.Warn("failed to read flight", zap.Stringer("flight_key", key), zap.Error(err))
		return
	}

	if !data.Registered {
		log.Warn("flight unknown to the ledger, not mirrored",
			zap.Stringer("flight", f),
			zap.Stringer("flight_key", key))
		return
	}

	rec, applied := c.mirror.Upsert(key, data)
	if !applied {
		return
	}
	log.Debug("flight mirrored",
		zap.Uint64("index", rec.Index),
		zap.Stringer("flight_key", key),
		zap.Stringer("status", data.Status))
	c.persistFlight(ctx, key)
}

// resolveKey derives the ledger key of f. Events without an airline are
// matched against the mirror instead.
func (c *Coordinator) resolveKey(ctx context.Context, f models.FlightIdentity) (common.Hash, error) {
	if f.Airline == (common.Address{}) {
		for _, rec := range c.mirror.List() {
			d := rec.Data
			if d.FlightCode == f.FlightCode && d.DepartureTime == f.DepartureTime &&
				(f.Destination == "" || d.Destination == f.Destination) {
				return rec.FlightKey, nil
			}
		}
		return common.Hash{}, errUnresolvedFlight
	}

	ctx, cancel := context.WithTimeout(ctx, c.CallTimeout)
	defer cancel()
	return c.ledger.FlightKey(ctx, f)
}

// persistFlight saves the current mirror record of key. It holds persistMtx
// so a save never lands after a newer full replacement.
func (c *Coordinator) persistFlight(ctx context.Context, key common.Hash) {
	if c.repo == nil {
		return
	}
	c.persistMtx.Lock()
	defer c.persistMtx.Unlock()
	rec, err := c.mirror.Lookup(key)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.CallTimeout)
	defer cancel()
	if err := c.repo.SaveFlight(ctx, rec); err != nil {
		metrics.ErrorsTotal.WithLabelValues("storage").Inc()
		c.Log.Warn("failed to persist flight", zap.Stringer("flight_key", rec.FlightKey), zap.Error(err))
	}
}

func (c *Coordinator) persistOracles(ctx context.Context, oracles []models.OracleIdentity) {
	if c.repo == nil {
		return
	}
	for _, o := range oracles {
		if err := c.repo.SaveOracle(ctx, o); err != nil {
			metrics.ErrorsTotal.WithLabelValues("storage").Inc()
			c.Log.Warn("failed to persist oracle", zap.Stringer("oracle", o.Address), zap.Error(err))
		}
	}
}

func (c *Coordinator) publish(ev models.Event, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(c.workCtx, c.CallTimeout)
	defer cancel()
	if err := c.pub.Publish(ctx, ev); err != nil {
		metrics.ErrorsTotal.WithLabelValues("notify").Inc()
		log.Warn("failed to publish event", zap.Error(err))
	}
}
