package source

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/itohio/goecg/pkg/config"
	"github.com/itohio/goecg/pkg/waveform"
)

// Simulated emits the synthetic ECG waveform at a fixed interval.
type Simulated struct {
	interval time.Duration
	model    *waveform.Model

	readings  chan Reading
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	connected bool
	startTime time.Time
	skipped   uint64 // Readings dropped because the channel was full
}

// NewSimulated creates a simulated source. A nil cfg uses the default simulator settings.
func NewSimulated(cfg *config.SimulatorConfig) *Simulated {
	if cfg == nil {
		def := config.Default().Simulator
		cfg = &def
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = config.Default().Simulator.Interval
	}

	var noise waveform.NoiseFunc
	if cfg.NoiseStdDev > 0 {
		noise = waveform.GaussianNoise(cfg.NoiseStdDev, cfg.Seed)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Simulated{
		interval: interval,
		model:    waveform.New(cfg.HeartRateBPM, noise),
		readings: make(chan Reading, DefaultBufferSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Connect starts generating readings.
func (s *Simulated) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return errors.New("already connected")
	}
	if s.ctx.Err() != nil {
		return errors.New("source closed")
	}

	s.connected = true
	s.startTime = time.Now()

	go s.generate()

	return nil
}

// Close stops the generator and waits for the readings channel to close.
func (s *Simulated) Close() error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.connected = false
	s.mu.Unlock()

	<-s.done
	return nil
}

// Readings returns the channel of generated readings.
func (s *Simulated) Readings() <-chan Reading {
	return s.readings
}

// IsConnected returns whether the generator is running.
func (s *Simulated) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Skipped returns how many readings were dropped because nobody was reading.
func (s *Simulated) Skipped() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.skipped
}

func (s *Simulated) generate() {
	defer close(s.done)
	defer close(s.readings)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			r := Reading{
				Time:    now,
				Voltage: s.model.Sample(now.Sub(s.startTime).Seconds()),
			}
			select {
			case s.readings <- r:
			case <-s.ctx.Done():
				return
			default:
				s.mu.Lock()
				s.skipped++
				s.mu.Unlock()
			}
		}
	}
}
