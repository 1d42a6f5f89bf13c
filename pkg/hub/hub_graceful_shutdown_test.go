package hub

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestHub_GracefulShutdown tests that consumers ranging over their queues
// return once the hub is closed.
func TestHub_GracefulShutdown(t *testing.T) {
	h := New(16)

	var wg sync.WaitGroup
	received := make([]int, 3)
	for i := range received {
		sub := h.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range sub.C() {
				received[i]++
			}
		}()
	}

	for i := range 10 {
		h.Publish(s(i))
	}
	h.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Subscribers did not exit within timeout")
	}

	for i, n := range received {
		assert.Equal(t, 10, n, "subscriber %d should drain queued samples before exit", i)
	}
}
