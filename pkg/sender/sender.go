// Package sender forwards source readings to the ingestion listener as
// single-sample UDP datagrams.
package sender

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/itohio/goecg/pkg/metrics"
	"github.com/itohio/goecg/pkg/sample"
	"github.com/itohio/goecg/pkg/source"
)

// progressEvery is how many datagrams pass between progress logs.
const progressEvery = 100

// Sender writes one 4-byte datagram per reading.
type Sender struct {
	target string

	sent   atomic.Uint64
	failed atomic.Uint64

	warnWrite rate.Sometimes
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// Option configures a Sender.
type Option func(*Sender)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Sender) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics counts sent datagrams.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sender) {
		s.metrics = m
	}
}

// New creates a sender targeting host:port.
func New(target string, opts ...Option) *Sender {
	s := &Sender{
		target:    target,
		warnWrite: rate.Sometimes{First: 3, Interval: 10 * time.Second},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Run streams readings from src until ctx is done or the readings channel closes.
// Write failures are counted and do not stop the stream.
func (s *Sender) Run(ctx context.Context, src source.Source) error {
	conn, err := net.Dial("udp", s.target)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", s.target, err)
	}
	defer conn.Close()

	s.logger.Info("[sender] streaming", zap.String("target", s.target))

	buf := make([]byte, 0, sample.PacketSize)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("[sender] stopped", zap.Uint64("sent", s.sent.Load()), zap.Uint64("failed", s.failed.Load()))
			return nil
		case r, ok := <-src.Readings():
			if !ok {
				s.logger.Info("[sender] source closed", zap.Uint64("sent", s.sent.Load()), zap.Uint64("failed", s.failed.Load()))
				return nil
			}

			buf = sample.AppendEncoded(buf[:0], r.Voltage)
			if _, err := conn.Write(buf); err != nil {
				s.failed.Add(1)
				s.warnWrite.Do(func() {
					s.logger.Warn("[sender] error writing datagram", zap.Error(err), zap.String("target", s.target))
				})
				continue
			}

			n := s.sent.Add(1)
			if s.metrics != nil {
				s.metrics.SamplesSent.Inc()
			}
			if n%progressEvery == 0 {
				s.logger.Debug("[sender] progress", zap.Uint64("sent", n))
			}
		}
	}
}

// Sent returns the number of datagrams written.
func (s *Sender) Sent() uint64 {
	return s.sent.Load()
}

// Failed returns the number of failed writes.
func (s *Sender) Failed() uint64 {
	return s.failed.Load()
}
