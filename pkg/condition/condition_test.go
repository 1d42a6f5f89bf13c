package condition

import (
	"bytes"
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/goecg/pkg/config"
	"github.com/itohio/goecg/pkg/sample"
)

// uniform builds n samples at rate Hz from f(t).
func uniform(n int, rate float64, f func(t float64) float64) []sample.Sample {
	out := make([]sample.Sample, n)
	for i := range out {
		ts := float64(i) / rate
		out[i] = sample.Sample{Timestamp: ts, Voltage: f(ts)}
	}
	return out
}

func TestProcess_InsufficientData(t *testing.T) {
	tests := []struct {
		name   string
		window []sample.Sample
	}{
		{name: "empty", window: nil},
		{name: "single sample", window: []sample.Sample{{Timestamp: 1, Voltage: 1}}},
		{name: "zero elapsed", window: []sample.Sample{{Timestamp: 2, Voltage: 1}, {Timestamp: 2, Voltage: 3}}},
		{name: "backwards time", window: []sample.Sample{{Timestamp: 3, Voltage: 1}, {Timestamp: 2, Voltage: 3}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Process(tt.window)
			assert.ErrorIs(t, err, ErrInsufficientData)
			assert.Nil(t, r)
		})
	}
}

func TestProcess_Statistics(t *testing.T) {
	window := []sample.Sample{
		{Timestamp: 0.0, Voltage: 1},
		{Timestamp: 0.5, Voltage: 2},
		{Timestamp: 1.0, Voltage: 3},
		{Timestamp: 1.5, Voltage: 4},
	}

	r, err := Process(window)
	require.NoError(t, err)

	assert.Equal(t, 4, r.Samples)
	assert.InDelta(t, 1.5, r.Duration, 1e-12)
	assert.InDelta(t, 2.0, r.SampleRate, 1e-12)
	assert.InDelta(t, 2.5, r.Mean, 1e-12)
	// Population standard deviation.
	assert.InDelta(t, math.Sqrt(1.25), r.Std, 1e-12)
	assert.Equal(t, 1.0, r.Min)
	assert.Equal(t, 4.0, r.Max)
	assert.InDeltaSlice(t, []float64{-1.5, -0.5, 0.5, 1.5}, r.Centered, 1e-12)
	assert.Equal(t, []float64{0, 0.5, 1.0, 1.5}, r.Timestamps)
}

func TestProcess_SampleRateUsesIntervals(t *testing.T) {
	// Two samples 10 ms apart: one interval, 100 Hz.
	r, err := Process([]sample.Sample{{Timestamp: 5.00, Voltage: 0}, {Timestamp: 5.01, Voltage: 1}})
	require.NoError(t, err)
	assert.InDelta(t, 100.0, r.SampleRate, 1e-6)
}

func TestProcess_ConstantSignal(t *testing.T) {
	window := uniform(500, 100, func(float64) float64 { return 1.5 })

	r, err := Process(window)
	require.NoError(t, err)

	assert.InDelta(t, 1.5, r.Mean, 1e-12)
	assert.InDelta(t, 0.0, r.Std, 1e-12)
	assert.True(t, r.FilterApplied)
	assert.Equal(t, NoticeNone, r.Notice)
	require.Len(t, r.Centered, 500)
	require.Len(t, r.Filtered, 500)
	for i := range r.Centered {
		assert.InDelta(t, 0.0, r.Centered[i], 1e-12)
		assert.InDelta(t, 0.0, r.Filtered[i], 1e-9)
	}
}

func TestProcess_Passband(t *testing.T) {
	tests := []struct {
		name     string
		rate     float64
		wantHigh float64
	}{
		{name: "high rate keeps 40 Hz", rate: 500, wantHigh: 40},
		{name: "low rate caps at 0.9 nyquist", rate: 50, wantHigh: 22.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Process(uniform(1000, tt.rate, math.Sin))
			require.NoError(t, err)
			assert.InDelta(t, 0.5, r.Passband.LowHz, 1e-9)
			assert.InDelta(t, tt.wantHigh, r.Passband.HighHz, 1e-9)
			assert.True(t, r.FilterApplied)
		})
	}
}

func TestProcess_RemovesDriftKeepsBand(t *testing.T) {
	const rate = 200.0
	tone := func(ts float64) float64 { return math.Sin(2 * math.Pi * 10 * ts) }
	window := uniform(4000, rate, func(ts float64) float64 {
		return 0.8 + tone(ts) + 0.5*math.Sin(2*math.Pi*0.1*ts)
	})

	r, err := Process(window)
	require.NoError(t, err)
	require.True(t, r.FilterApplied)

	for i := 1000; i < 3000; i++ {
		assert.InDelta(t, tone(window[i].Timestamp), r.Filtered[i], 0.05, "sample %d", i)
	}
}

func TestProcess_FilterSkipped(t *testing.T) {
	// 0.5 Hz sampling: Nyquist 0.25 Hz lies below the 0.5 Hz low cut.
	window := uniform(5, 0.5, func(ts float64) float64 { return ts })

	r, err := Process(window)
	require.NoError(t, err)

	assert.False(t, r.FilterApplied)
	assert.Equal(t, FilterSkipped, r.Notice)
	assert.NotEmpty(t, r.NoticeDetail)
	assert.Equal(t, r.Centered, r.Filtered)
}

func TestProcess_FilterFailedOnShortSignal(t *testing.T) {
	window := uniform(10, 100, math.Sin)

	r, err := Process(window)
	require.NoError(t, err)

	assert.False(t, r.FilterApplied)
	assert.Equal(t, FilterFailed, r.Notice)
	assert.Contains(t, r.NoticeDetail, "too short")
	assert.Equal(t, r.Centered, r.Filtered)
}

func TestProcess_FilterFailedOnBadOrder(t *testing.T) {
	p := NewPipeline(Options{Order: -1})
	r, err := p.Process(uniform(100, 100, math.Sin))
	require.NoError(t, err)
	assert.Equal(t, FilterFailed, r.Notice)
	assert.Equal(t, r.Centered, r.Filtered)
}

func TestProcess_DoesNotModifyInput(t *testing.T) {
	window := uniform(100, 100, math.Sin)
	orig := append([]sample.Sample(nil), window...)

	_, err := Process(window)
	require.NoError(t, err)
	assert.Equal(t, orig, window)
}

func TestNewPipeline_Defaults(t *testing.T) {
	p := NewPipeline(Options{})
	assert.Equal(t, DefaultOptions(), p.opts)

	cfg := config.Default().Filter
	assert.Equal(t, DefaultOptions(), OptionsFrom(cfg))
}

func TestReport_WriteJSON(t *testing.T) {
	r, err := Process(uniform(5, 0.5, func(ts float64) float64 { return ts }))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.WriteJSON(&buf))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "filter_skipped", decoded["notice"])
	assert.Equal(t, float64(5), decoded["samples"])
	assert.Equal(t, false, decoded["filter_applied"])
	assert.Len(t, decoded["filtered"], 5)
}
