// Package service wires the buffer, the hub and the ingestion listener into
// one owned object.
package service

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/itohio/goecg/pkg/buffer"
	"github.com/itohio/goecg/pkg/config"
	"github.com/itohio/goecg/pkg/hub"
	"github.com/itohio/goecg/pkg/ingest"
	"github.com/itohio/goecg/pkg/metrics"
	"github.com/itohio/goecg/pkg/sample"
)

// ErrStopped is returned by Capture when the service stops mid-capture.
var ErrStopped = errors.New("service stopped")

// Service owns one buffer, one hub and one listener.
type Service struct {
	cfg    *config.Config
	logger *zap.Logger

	ring     *buffer.Ring
	hub      *hub.Hub
	listener *ingest.Listener
}

// Option configures a Service.
type Option func(*options)

type options struct {
	clock func() time.Time
}

// WithClock sets the clock used to timestamp samples.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// New builds a service from cfg. A nil logger or metrics disables them.
func New(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}

	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	ring := buffer.NewRing(cfg.Buffer.Capacity, buffer.WithMetrics(m))
	h := hub.New(cfg.Hub.QueueDepth, hub.WithLogger(logger), hub.WithMetrics(m))
	listener := ingest.NewListener(cfg.Listener, ring, h,
		ingest.WithLogger(logger),
		ingest.WithMetrics(m),
		ingest.WithClock(o.clock),
	)

	return &Service{
		cfg:      cfg,
		logger:   logger,
		ring:     ring,
		hub:      h,
		listener: listener,
	}
}

// Start binds the ingestion socket. A bind failure is returned here, before any loop runs.
func (s *Service) Start() error {
	return s.listener.Bind()
}

// Run receives samples until ctx is done, then closes every subscription.
func (s *Service) Run(ctx context.Context) error {
	defer s.hub.Close()
	return s.listener.Run(ctx)
}

// Snapshot returns the buffered window, oldest first.
func (s *Service) Snapshot() []sample.Sample {
	return s.ring.Snapshot()
}

// Subscribe registers a live consumer.
func (s *Service) Subscribe() *hub.Subscriber {
	return s.hub.Subscribe()
}

// Unsubscribe removes a live consumer.
func (s *Service) Unsubscribe(sub *hub.Subscriber) {
	s.hub.Unsubscribe(sub)
}

// Subscribers returns the number of live consumers.
func (s *Service) Subscribers() int {
	return s.hub.Len()
}

// Addr returns the bound ingestion address.
func (s *Service) Addr() net.Addr {
	return s.listener.Addr()
}

// Stats returns the listener counters.
func (s *Service) Stats() ingest.Stats {
	return s.listener.Stats()
}

// Capture accumulates live samples for d, independently of the bounded
// buffer. On cancellation or service stop the samples gathered so far are
// returned along with the reason.
func (s *Service) Capture(ctx context.Context, d time.Duration) ([]sample.Sample, error) {
	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)

	timer := time.NewTimer(d)
	defer timer.Stop()

	s.logger.Info("[service] capture started", zap.Duration("duration", d))

	var captured []sample.Sample
	for {
		select {
		case <-timer.C:
			s.logger.Info("[service] capture complete", zap.Int("samples", len(captured)), zap.Uint64("dropped", sub.Dropped()))
			return captured, nil
		case <-ctx.Done():
			return captured, ctx.Err()
		case v, ok := <-sub.C():
			if !ok {
				return captured, ErrStopped
			}
			captured = append(captured, v)
		}
	}
}
