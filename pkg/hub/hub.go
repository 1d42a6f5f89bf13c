// Package hub fans live samples out to any number of subscribers.
//
// Every subscriber owns a bounded queue. When a consumer falls behind, the
// oldest queued sample is discarded to make room for the newest one, so a slow
// consumer never stalls the publisher or any other subscriber.
package hub

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/itohio/goecg/pkg/metrics"
	"github.com/itohio/goecg/pkg/sample"
)

// DefaultQueueDepth is used when New is given a non-positive depth.
const DefaultQueueDepth = 256

// Subscriber is a registered consumer of live samples.
type Subscriber struct {
	id string
	ch chan sample.Sample

	dropped atomic.Uint64
	failed  atomic.Bool

	errMu sync.Mutex
	err   error

	removed bool // guarded by Hub.mu
}

// ID returns the unique subscriber identifier.
func (s *Subscriber) ID() string {
	return s.id
}

// C returns the queue. It is closed once the subscriber has been removed.
func (s *Subscriber) C() <-chan sample.Sample {
	return s.ch
}

// Dropped returns how many queued samples were discarded for this subscriber.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// Fail reports that the consumer's transport is gone. The hub removes the
// subscriber on its next enqueue attempt. Only the first error is kept.
func (s *Subscriber) Fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	s.failed.Store(true)
}

// Err returns the error passed to Fail, if any.
func (s *Subscriber) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// enqueue delivers v, discarding the oldest queued sample if the queue is full.
// Only the hub sends on ch and it does so under its lock, so after freeing a
// slot the second send cannot block.
func (s *Subscriber) enqueue(v sample.Sample) (dropped bool) {
	select {
	case s.ch <- v:
		return false
	default:
	}

	select {
	case <-s.ch:
		dropped = true
	default:
		// Consumer drained the queue in between
	}

	select {
	case s.ch <- v:
	default:
		dropped = true
	}
	if dropped {
		s.dropped.Add(1)
	}
	return dropped
}

// Hub is the broadcast registry. All methods are safe for concurrent use.
type Hub struct {
	mu          sync.Mutex
	subscribers []*Subscriber
	queueDepth  int
	closed      bool

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger used for subscriber lifecycle events.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics exports subscriber counts and drops.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) {
		h.metrics = m
	}
}

// New creates a hub whose subscribers queue at most queueDepth samples.
func New(queueDepth int, opts ...Option) *Hub {
	if queueDepth < 1 {
		queueDepth = DefaultQueueDepth
	}

	h := &Hub{
		queueDepth: queueDepth,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Subscribe registers a new subscriber with an empty queue.
// After Close the returned subscriber is already removed and its queue closed.
func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{
		id: uuid.NewString(),
		ch: make(chan sample.Sample, h.queueDepth),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		s.removed = true
		close(s.ch)
		return s
	}

	h.subscribers = append(h.subscribers, s)
	h.updateGauge()
	h.logger.Debug("[hub] subscriber added", zap.String("subscriber", s.id), zap.Int("subscribers", len(h.subscribers)))
	return s
}

// Unsubscribe removes s and closes its queue. Unknown or already removed
// subscribers are ignored.
func (h *Hub) Unsubscribe(s *Subscriber) {
	if s == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	idx := slices.Index(h.subscribers, s)
	if idx < 0 {
		return
	}
	h.subscribers = slices.Delete(h.subscribers, idx, idx+1)
	h.remove(s)
	h.logger.Debug("[hub] subscriber removed", zap.String("subscriber", s.id), zap.Int("subscribers", len(h.subscribers)))
}

// Publish enqueues v for every current subscriber without blocking.
// Subscribers that reported a failure are removed instead.
func (h *Hub) Publish(v sample.Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.subscribers) == 0 {
		return
	}

	kept := h.subscribers[:0]
	for _, s := range h.subscribers {
		if s.failed.Load() {
			h.remove(s)
			if h.metrics != nil {
				h.metrics.SubscribersEvicted.Inc()
			}
			h.logger.Info("[hub] removed failed subscriber", zap.String("subscriber", s.id), zap.Error(s.Err()))
			continue
		}

		if s.enqueue(v) && h.metrics != nil {
			h.metrics.HubDrops.Inc()
		}
		kept = append(kept, s)
	}
	clear(h.subscribers[len(kept):])
	h.subscribers = kept
	h.updateGauge()
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Close removes every subscriber. Later Publish calls are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for _, s := range h.subscribers {
		h.remove(s)
	}
	h.subscribers = nil
	h.updateGauge()
	h.logger.Debug("[hub] closed")
}

// remove closes the queue of s exactly once. Caller holds h.mu.
func (h *Hub) remove(s *Subscriber) {
	if s.removed {
		return
	}
	s.removed = true
	close(s.ch)
}

// updateGauge refreshes the subscriber gauge. Caller holds h.mu.
func (h *Hub) updateGauge() {
	if h.metrics != nil {
		h.metrics.Subscribers.Set(float64(len(h.subscribers)))
	}
}
