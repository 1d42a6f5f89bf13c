package service

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/goecg/pkg/config"
	"github.com/itohio/goecg/pkg/ingest"
	"github.com/itohio/goecg/pkg/sample"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Listener.Addr = "127.0.0.1:0"
	cfg.Buffer.Capacity = 5
	cfg.Hub.QueueDepth = 64
	return cfg
}

// startService binds and runs a service until the test ends.
func startService(t *testing.T, cfg *config.Config) (*Service, net.Conn) {
	t.Helper()
	svc := New(cfg, nil, nil)
	require.NoError(t, svc.Start())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Run(ctx)
	}()

	conn, err := net.Dial("udp", svc.Addr().String())
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		cancel()
		<-done
	})
	return svc, conn
}

func send(t *testing.T, conn net.Conn, voltages ...float64) {
	t.Helper()
	for _, v := range voltages {
		_, err := conn.Write(sample.Encode(v))
		require.NoError(t, err)
	}
}

func TestService_BufferKeepsLastC(t *testing.T) {
	svc, conn := startService(t, testConfig())

	send(t, conn, 1, 2, 3, 4, 5, 6, 7, 8)

	assert.Eventually(t, func() bool { return svc.Stats().Accepted == 8 }, 2*time.Second, 10*time.Millisecond)
	assert.InDeltaSlice(t, []float64{4, 5, 6, 7, 8}, sample.Voltages(svc.Snapshot()), 1e-6)
}

func TestService_SubscriberSeesLiveSamples(t *testing.T) {
	svc, conn := startService(t, testConfig())
	sub := svc.Subscribe()
	defer svc.Unsubscribe(sub)
	assert.Equal(t, 1, svc.Subscribers())

	send(t, conn, 0.25, 0.5)

	for _, want := range []float64{0.25, 0.5} {
		select {
		case v := <-sub.C():
			assert.InDelta(t, want, v.Voltage, 1e-6)
		case <-time.After(2 * time.Second):
			t.Fatal("no live sample")
		}
	}
}

func TestService_CaptureIsIndependentOfBuffer(t *testing.T) {
	svc, conn := startService(t, testConfig())

	type result struct {
		samples []sample.Sample
		err     error
	}
	res := make(chan result, 1)
	go func() {
		s, err := svc.Capture(context.Background(), 500*time.Millisecond)
		res <- result{s, err}
	}()

	// Wait for the capture subscription before sending.
	require.Eventually(t, func() bool { return svc.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	send(t, conn, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)

	r := <-res
	require.NoError(t, r.err)
	assert.Len(t, r.samples, 10, "capture is not limited by buffer capacity")
	assert.Equal(t, 5, len(svc.Snapshot()))
	assert.Equal(t, 0, svc.Subscribers(), "capture unsubscribes")
}

func TestService_CaptureCancelled(t *testing.T) {
	svc, _ := startService(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	samples, err := svc.Capture(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, samples)
}

func TestService_StartBindFailure(t *testing.T) {
	first, _ := startService(t, testConfig())

	cfg := testConfig()
	cfg.Listener.Addr = first.Addr().String()
	second := New(cfg, nil, nil)
	assert.ErrorIs(t, second.Start(), ingest.ErrBindFailure)
}

func TestService_TimestampsFromClock(t *testing.T) {
	base := time.Unix(100, 0)
	calls := 0
	clock := func() time.Time {
		calls++
		return base.Add(time.Duration(calls-1) * 100 * time.Millisecond)
	}

	cfg := testConfig()
	svc := New(cfg, nil, nil, WithClock(clock))
	require.NoError(t, svc.Start())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	conn, err := net.Dial("udp", svc.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	send(t, conn, 1)
	require.Eventually(t, func() bool { return len(svc.Snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)

	assert.InDelta(t, 0.1, svc.Snapshot()[0].Timestamp, 1e-9)
}
