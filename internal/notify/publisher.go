// Package notify forwards decoded ledger events to downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"flightoracle/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Publisher receives every event the coordinator routes.
// Publishing is best-effort and never blocks event handling for long.
type Publisher interface {
	Publish(ctx context.Context, ev models.Event) error
	Close() error
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, models.Event) error { return nil }
func (NopPublisher) Close() error                                { return nil }

// DefaultSubject is the subject prefix used when none is configured
const DefaultSubject = "flightoracle.events"

// Envelope is the wire format of a published event
type Envelope struct {
	Kind    string       `json:"kind"`
	Block   uint64       `json:"block"`
	Tx      common.Hash  `json:"tx"`
	Payload models.Event `json:"payload"`
}

// NewEnvelope wraps ev for publication
func NewEnvelope(ev models.Event) Envelope {
	meta := ev.Metadata()
	return Envelope{
		Kind:    ev.Kind().String(),
		Block:   meta.Block,
		Tx:      meta.TxHash,
		Payload: ev,
	}
}

// Subject returns the subject an event of the given kind is published on
func Subject(prefix string, kind models.EventKind) string {
	if prefix == "" {
		prefix = DefaultSubject
	}
	return prefix + "." + kind.String()
}

// NATSPublisher publishes JSON envelopes on <subject>.<kind>
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	log     *zap.Logger
}

// NewNATSPublisher connects to the NATS server at url
func NewNATSPublisher(url, subject string, log *zap.Logger) (*NATSPublisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := nats.Connect(url,
		nats.Name("flightoracle"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSPublisher{conn: conn, subject: subject, log: log}, nil
}

// Publish encodes ev and publishes it. The context is only checked before
// encoding; nats buffers the message while reconnecting.
func (p *NATSPublisher) Publish(ctx context.Context, ev models.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(NewEnvelope(ev))
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Kind(), err)
	}
	subject := Subject(p.subject, ev.Kind())
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
