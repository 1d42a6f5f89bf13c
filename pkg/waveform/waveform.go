// Package waveform generates a synthetic ECG trace for simulation and tests.
package waveform

import (
	"math"
	"math/rand/v2"
	"time"
)

// DefaultNoiseStdDev is the standard deviation of the additive noise (V).
const DefaultNoiseStdDev = 0.01

// NoiseFunc returns one independent noise draw per call.
type NoiseFunc func() float64

// Model is a piecewise P-QRS-T waveform riding on a slowly drifting baseline.
type Model struct {
	HeartRateBPM float64
	Noise        NoiseFunc // nil means noise-free
}

// New creates a waveform model. A nil noise function yields a deterministic trace.
func New(heartRateBPM float64, noise NoiseFunc) *Model {
	return &Model{
		HeartRateBPM: heartRateBPM,
		Noise:        noise,
	}
}

// GaussianNoise returns a seedable Normal(0, stddev) noise source.
// A zero seed draws from the current time.
// The returned function is not safe for concurrent use.
func GaussianNoise(stddev float64, seed uint64) NoiseFunc {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return func() float64 {
		return rng.NormFloat64() * stddev
	}
}

// Phase returns the position within the current beat, in [0, 1).
func (m *Model) Phase(t float64) float64 {
	frequency := m.HeartRateBPM / 60.0
	_, frac := math.Modf(t * frequency)
	if frac < 0 {
		frac += 1
	}
	return frac
}

// Baseline returns the drifting DC level at t seconds.
func (m *Model) Baseline(t float64) float64 {
	return 1.5 + 0.1*math.Sin(0.1*t)
}

// Sample returns the voltage at t seconds since the start of the trace.
func (m *Model) Sample(t float64) float64 {
	v := m.Baseline(t) + Component(m.Phase(t))
	if m.Noise != nil {
		v += m.Noise()
	}
	return v
}

// Component returns the noise-free cardiac component for a beat phase.
func Component(phase float64) float64 {
	switch {
	case phase < 0.15: // P wave
		return 0.1 * math.Sin(phase/0.15*math.Pi)
	case phase < 0.25: // PR segment
		return 0
	case phase < 0.35: // QRS complex
		return 0.8 * math.Sin((phase-0.25)/0.10*math.Pi)
	case phase < 0.45: // ST segment
		return 0
	case phase < 0.65: // T wave
		return 0.2 * math.Sin((phase-0.45)/0.20*math.Pi)
	default:
		return 0
	}
}
