// Package buffer keeps a bounded, ordered window of the most recent samples.
package buffer

import (
	"sync"

	"github.com/itohio/goecg/pkg/metrics"
	"github.com/itohio/goecg/pkg/sample"
)

// Ring is a fixed-capacity FIFO of samples.
// Internally a circular array; externally an ordered slice, oldest first.
// All methods are safe for concurrent use.
type Ring struct {
	mu       sync.RWMutex
	items    []sample.Sample
	capacity int
	size     int
	head     int // Next write position
	evicted  uint64

	metrics *metrics.Metrics
}

// Option configures a Ring.
type Option func(*Ring)

// WithMetrics exports buffer length and evictions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Ring) {
		r.metrics = m
	}
}

// NewRing creates a ring holding at most capacity samples. Capacity below 1 is raised to 1.
func NewRing(capacity int, opts ...Option) *Ring {
	if capacity < 1 {
		capacity = 1
	}

	r := &Ring{
		items:    make([]sample.Sample, capacity),
		capacity: capacity,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Append stores s as the newest entry, evicting the oldest one when full.
// Length check, eviction and insertion happen under one lock.
func (r *Ring) Append(s sample.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[r.head] = s
	r.head = (r.head + 1) % r.capacity
	if r.size == r.capacity {
		// The slot just overwritten held the oldest sample
		r.evicted++
		if r.metrics != nil {
			r.metrics.BufferEvictions.Inc()
		}
	} else {
		r.size++
	}

	if r.metrics != nil {
		r.metrics.BufferLength.Set(float64(r.size))
	}
}

// Snapshot returns a point-in-time copy of the buffered samples, oldest first.
func (r *Ring) Snapshot() []sample.Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]sample.Sample, r.size)
	tail := (r.head - r.size + r.capacity) % r.capacity
	n := copy(out, r.items[tail:min(tail+r.size, r.capacity)])
	copy(out[n:], r.items[:r.size-n])
	return out
}

// Len returns the number of buffered samples.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Capacity returns the fixed maximum length.
func (r *Ring) Capacity() int {
	return r.capacity
}

// Evicted returns how many samples were dropped by FIFO eviction.
func (r *Ring) Evicted() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.evicted
}

// Reset discards all buffered samples.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.items)
	r.size = 0
	r.head = 0
	if r.metrics != nil {
		r.metrics.BufferLength.Set(0)
	}
}
