// Package relay forwards live samples to a NATS subject.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/itohio/goecg/pkg/config"
	"github.com/itohio/goecg/pkg/hub"
	"github.com/itohio/goecg/pkg/metrics"
)

// ErrPublish is returned when the bus rejects a message.
var ErrPublish = errors.New("relay publish failed")

// Publisher is the part of *nats.Conn the relay needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// Connect dials the NATS server named in cfg with reconnects enabled.
func Connect(cfg config.RelayConfig, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("goecg-relay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("[relay] disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("[relay] reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.URL, err)
	}
	return conn, nil
}

// Relay publishes each sample from a hub subscription as JSON.
type Relay struct {
	pub     Publisher
	subject string

	published atomic.Uint64

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics counts published samples.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

// New creates a relay publishing to subject.
func New(pub Publisher, subject string, opts ...Option) *Relay {
	r := &Relay{
		pub:     pub,
		subject: subject,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Run forwards samples until ctx is done or sub is removed. A publish
// error marks sub as failed, so the hub drops it on its next publish,
// and is returned.
func (r *Relay) Run(ctx context.Context, sub *hub.Subscriber) error {
	r.logger.Info("[relay] forwarding", zap.String("subject", r.subject), zap.String("subscriber", sub.ID()))

	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-sub.C():
			if !ok {
				return nil
			}

			data, err := json.Marshal(s)
			if err != nil {
				return fmt.Errorf("failed to encode sample: %w", err)
			}
			if err := r.pub.Publish(r.subject, data); err != nil {
				err = fmt.Errorf("%w: %w", ErrPublish, err)
				sub.Fail(err)
				r.logger.Warn("[relay] stopping", zap.Error(err), zap.String("subject", r.subject))
				return err
			}

			r.published.Add(1)
			if r.metrics != nil {
				r.metrics.RelayPublished.Inc()
			}
		}
	}
}

// Published returns the number of forwarded samples.
func (r *Relay) Published() uint64 {
	return r.published.Load()
}
