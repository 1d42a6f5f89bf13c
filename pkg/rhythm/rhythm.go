// Package rhythm estimates heart rate from the live sample stream.
package rhythm

import (
	"context"
	"math"
	"sync"

	"github.com/itohio/goecg/pkg/config"
	"github.com/itohio/goecg/pkg/hub"
	"github.com/itohio/goecg/pkg/sample"
)

// Estimate is the current rhythm summary.
type Estimate struct {
	BPM          float64 `json:"bpm"`           // 0 until two beats were seen
	Beats        int     `json:"beats"`         // Beats used for BPM
	LastBeat     float64 `json:"last_beat"`     // Stream time of the latest beat (s)
	Voltage      float64 `json:"voltage"`       // Latest voltage
	Baseline     float64 `json:"baseline"`      // Tracked DC level
	SampleRate   float64 `json:"sample_rate"`   // Samples per stream second, over the last full second
	TotalSamples uint64  `json:"total_samples"` // Samples observed
}

// Detector finds beats as rising edges of the voltage above a tracked
// baseline and averages the intervals of the most recent ones.
type Detector struct {
	threshold  float64
	maxBeats   int
	refractory float64
	alpha      float64

	mu         sync.RWMutex
	baseline   float64
	primed     bool
	above      bool
	beats      []float64 // Beat times, oldest first
	voltage    float64
	total      uint64
	rateStart  float64
	rateCount  int
	sampleRate float64
	shutdown   bool

	callbacks []func(Estimate)
	cbMu      sync.RWMutex
}

// New creates a detector. Zero fields fall back to the defaults.
func New(cfg config.RhythmConfig) *Detector {
	def := config.Default().Rhythm
	if cfg.Threshold == 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Peaks < 2 {
		cfg.Peaks = def.Peaks
	}
	if cfg.Refractory == 0 {
		cfg.Refractory = def.Refractory
	}
	if cfg.BaselineAlpha == 0 {
		cfg.BaselineAlpha = def.BaselineAlpha
	}

	return &Detector{
		threshold:  cfg.Threshold,
		maxBeats:   cfg.Peaks,
		refractory: cfg.Refractory.Seconds(),
		alpha:      cfg.BaselineAlpha,
		beats:      make([]float64, 0, cfg.Peaks),
	}
}

// Observe feeds one sample. Non-finite voltages are ignored. Callbacks fire when a beat is detected or the
// sample rate is refreshed.
func (d *Detector) Observe(s sample.Sample) {
	d.mu.Lock()
	changed := d.observe(s)
	notify := changed && !d.shutdown
	var est Estimate
	if notify {
		est = d.estimate()
	}
	d.mu.Unlock()

	if notify {
		d.notifyCallbacks(est)
	}
}

func (d *Detector) observe(s sample.Sample) (changed bool) {
	// A single non-finite value would poison the baseline for good.
	if math.IsNaN(s.Voltage) || math.IsInf(s.Voltage, 0) {
		return false
	}

	d.total++
	d.voltage = s.Voltage

	if !d.primed {
		d.primed = true
		d.baseline = s.Voltage
		d.rateStart = s.Timestamp
	}

	// Sample rate over one second of stream time
	d.rateCount++
	if span := s.Timestamp - d.rateStart; span >= 1 {
		d.sampleRate = float64(d.rateCount) / span
		d.rateCount = 0
		d.rateStart = s.Timestamp
		changed = true
	}

	above := s.Voltage-d.baseline > d.threshold
	if above && !d.above {
		n := len(d.beats)
		if n == 0 || s.Timestamp-d.beats[n-1] >= d.refractory {
			if n == d.maxBeats {
				copy(d.beats, d.beats[1:])
				d.beats = d.beats[:n-1]
			}
			d.beats = append(d.beats, s.Timestamp)
			changed = true
		}
	}
	d.above = above

	d.baseline += d.alpha * (s.Voltage - d.baseline)
	return changed
}

// Estimate returns the current summary.
func (d *Detector) Estimate() Estimate {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.estimate()
}

func (d *Detector) estimate() Estimate {
	e := Estimate{
		Beats:        len(d.beats),
		Voltage:      d.voltage,
		Baseline:     d.baseline,
		SampleRate:   d.sampleRate,
		TotalSamples: d.total,
	}
	if n := len(d.beats); n > 0 {
		e.LastBeat = d.beats[n-1]
	}
	if n := len(d.beats); n >= 2 {
		// Mean of consecutive intervals telescopes to span / (n-1).
		if span := d.beats[n-1] - d.beats[0]; span > 0 {
			e.BPM = 60 * float64(n-1) / span
		}
	}
	return e
}

// Reset forgets all beats and re-enables callbacks.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.primed = false
	d.above = false
	d.beats = d.beats[:0]
	d.total = 0
	d.rateCount = 0
	d.sampleRate = 0
	d.shutdown = false
}

// OnUpdate registers a callback. Callbacks run on the observing goroutine and should return quickly.
func (d *Detector) OnUpdate(callback func(Estimate)) {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	d.callbacks = append(d.callbacks, callback)
}

// Run observes samples from sub until ctx is done or the subscriber is removed.
// No callbacks fire after Run returns.
func (d *Detector) Run(ctx context.Context, sub *hub.Subscriber) error {
	defer func() {
		d.mu.Lock()
		d.shutdown = true
		d.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-sub.C():
			if !ok {
				return nil
			}
			d.Observe(s)
		}
	}
}

func (d *Detector) notifyCallbacks(e Estimate) {
	d.cbMu.RLock()
	callbacks := make([]func(Estimate), len(d.callbacks))
	copy(callbacks, d.callbacks)
	d.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(e)
		}
	}
}
