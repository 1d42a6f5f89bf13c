// Package ingest receives single-sample UDP datagrams and feeds them to the
// recent-history buffer and the live hub.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/itohio/goecg/pkg/config"
	"github.com/itohio/goecg/pkg/metrics"
	"github.com/itohio/goecg/pkg/sample"
)

// ErrBindFailure is returned when the ingestion socket cannot be opened.
var ErrBindFailure = errors.New("cannot bind ingestion socket")

// maxDatagram covers any UDP payload; anything other than 4 bytes is rejected after the read.
const maxDatagram = 65536

// maxBackoff bounds the pause between consecutive failed reads.
const maxBackoff = 250 * time.Millisecond

// packetReader is the part of *net.UDPConn the receive loop uses.
type packetReader interface {
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
}

// Appender stores accepted samples.
type Appender interface {
	Append(sample.Sample)
}

// Publisher fans accepted samples out to live consumers.
type Publisher interface {
	Publish(sample.Sample)
}

// Stats is a snapshot of the listener counters.
type Stats struct {
	Received        uint64 `json:"received"`
	Accepted        uint64 `json:"accepted"`
	Malformed       uint64 `json:"malformed"`
	TransportErrors uint64 `json:"transport_errors"`
}

// Listener owns the ingestion socket. The buffer and the hub are only referenced.
type Listener struct {
	cfg   config.ListenerConfig
	store Appender
	pub   Publisher

	clock func() time.Time
	start time.Time // stream start, fixed at construction

	mu     sync.Mutex
	conn   *net.UDPConn
	reader packetReader // nil reads from conn

	received        atomic.Uint64
	accepted        atomic.Uint64
	malformed       atomic.Uint64
	transportErrors atomic.Uint64

	warnMalformed rate.Sometimes
	warnTransport rate.Sometimes

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Listener.
type Option func(*Listener)

// WithClock replaces time.Now. The stream start is read from it once, in NewListener.
func WithClock(clock func() time.Time) Option {
	return func(l *Listener) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Listener) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics exports packet counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Listener) {
		l.metrics = m
	}
}

// withReader makes Run read from r instead of the bound socket.
func withReader(r packetReader) Option {
	return func(l *Listener) {
		l.reader = r
	}
}

// NewListener creates a listener that appends to store and publishes to pub.
func NewListener(cfg config.ListenerConfig, store Appender, pub Publisher, opts ...Option) *Listener {
	l := &Listener{
		cfg:           cfg,
		store:         store,
		pub:           pub,
		clock:         time.Now,
		warnMalformed: rate.Sometimes{First: 3, Interval: 10 * time.Second},
		warnTransport: rate.Sometimes{First: 3, Interval: 10 * time.Second},
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	l.start = l.clock()
	return l
}

// Bind opens the UDP socket. It must succeed before Run.
func (l *Listener) Bind() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		return nil
	}

	addr, err := net.ResolveUDPAddr("udp", l.cfg.Addr)
	if err != nil {
		return fmt.Errorf("%w: resolve %q: %w", ErrBindFailure, l.cfg.Addr, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("%w: listen on %s: %w", ErrBindFailure, addr, err)
	}

	if l.cfg.ReadBufferSize > 0 {
		if err := conn.SetReadBuffer(l.cfg.ReadBufferSize); err != nil {
			// Some systems cap the buffer size
			l.logger.Warn("[ingest] could not set socket read buffer",
				zap.Int("bufferSize", l.cfg.ReadBufferSize), zap.Error(err))
		}
	}

	l.conn = conn
	l.logger.Info("[ingest] listening", zap.String("addr", conn.LocalAddr().String()))
	return nil
}

// Addr returns the bound address, or nil before Bind.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Run receives datagrams until ctx is done. It binds first if needed.
// Malformed packets and read errors are counted and skipped; they never end the loop.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.Bind(); err != nil {
		return err
	}

	l.mu.Lock()
	var reader packetReader = l.conn
	if l.reader != nil {
		reader = l.reader
	}
	l.mu.Unlock()

	// Closing the socket is what unblocks the read.
	stop := context.AfterFunc(ctx, func() {
		l.closeConn()
	})
	defer stop()
	defer l.closeConn()

	buf := make([]byte, maxDatagram)
	failures := 0
	for {
		n, _, err := reader.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				l.logger.Info("[ingest] receive loop stopped")
				return nil
			}

			l.transportErrors.Add(1)
			if l.metrics != nil {
				l.metrics.TransportErrors.Inc()
			}
			l.warnTransport.Do(func() {
				l.logger.Warn("[ingest] transport error", zap.Error(err))
			})

			// Back off only when errors repeat, so a persistent fault does not spin.
			failures++
			if failures > 1 {
				select {
				case <-ctx.Done():
					l.logger.Info("[ingest] receive loop stopped")
					return nil
				case <-time.After(backoff(failures)):
				}
			}
			continue
		}
		failures = 0

		if err := l.HandlePacket(buf[:n]); err != nil {
			l.warnMalformed.Do(func() {
				l.logger.Warn("[ingest] dropping malformed packet", zap.Error(err), zap.Int("packetLength", n))
			})
		}
	}
}

// backoff returns the pause after the given number of consecutive read failures.
func backoff(failures int) time.Duration {
	d := time.Millisecond << min(failures-2, 8)
	return min(d, maxBackoff)
}

// HandlePacket decodes one datagram, stamps it with the elapsed stream time,
// appends it to the buffer and then publishes it.
// A malformed payload leaves both untouched.
func (l *Listener) HandlePacket(payload []byte) error {
	l.received.Add(1)
	if l.metrics != nil {
		l.metrics.PacketsReceived.Inc()
	}

	voltage, err := sample.Decode(payload)
	if err != nil {
		l.malformed.Add(1)
		if l.metrics != nil {
			l.metrics.PacketsMalformed.Inc()
		}
		return err
	}

	s := sample.Sample{
		Timestamp: l.clock().Sub(l.start).Seconds(),
		Voltage:   voltage,
	}

	if l.store != nil {
		l.store.Append(s)
	}
	if l.pub != nil {
		l.pub.Publish(s)
	}

	l.accepted.Add(1)
	if l.metrics != nil {
		l.metrics.SamplesAccepted.Inc()
	}
	return nil
}

// StreamStart returns the instant all timestamps are relative to.
func (l *Listener) StreamStart() time.Time {
	return l.start
}

// Stats returns the current counters.
func (l *Listener) Stats() Stats {
	return Stats{
		Received:        l.received.Load(),
		Accepted:        l.accepted.Load(),
		Malformed:       l.malformed.Load(),
		TransportErrors: l.transportErrors.Load(),
	}
}

func (l *Listener) closeConn() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close()
		l.conn = nil
	}
}
