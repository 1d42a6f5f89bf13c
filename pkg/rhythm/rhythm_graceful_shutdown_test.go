package rhythm

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/itohio/goecg/pkg/config"
	"github.com/itohio/goecg/pkg/hub"
	"github.com/itohio/goecg/pkg/sample"
)

// TestDetector_GracefulShutdown_SubscriberRemoved tests that Run returns when
// the hub closes the subscriber queue and that no callbacks fire afterwards.
func TestDetector_GracefulShutdown_SubscriberRemoved(t *testing.T) {
	h := hub.New(64)
	sub := h.Subscribe()
	d := New(config.Default().Rhythm)

	var calls atomic.Int32
	d.OnUpdate(func(Estimate) { calls.Add(1) })

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background(), sub) }()

	for i := range 10 {
		h.Publish(sample.Sample{Timestamp: float64(i) * 0.5, Voltage: float64(i % 2)})
	}
	h.Close()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the subscriber was removed")
	}

	before := calls.Load()
	d.Observe(sample.Sample{Timestamp: 100, Voltage: 0})
	d.Observe(sample.Sample{Timestamp: 101, Voltage: 5})
	assert.Equal(t, before, calls.Load(), "no callbacks after shutdown")
	assert.Equal(t, uint64(12), d.Estimate().TotalSamples)
}

// TestDetector_GracefulShutdown_Context tests that Run returns on cancellation.
func TestDetector_GracefulShutdown_Context(t *testing.T) {
	h := hub.New(8)
	sub := h.Subscribe()
	defer h.Unsubscribe(sub)

	d := New(config.Default().Rhythm)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, sub) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
