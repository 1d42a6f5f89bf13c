// Package condition turns a captured window into summary statistics and a
// conditioned (DC-removed, bandpass-filtered) signal.
package condition

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/itohio/goecg/pkg/config"
	"github.com/itohio/goecg/pkg/sample"
)

// ErrInsufficientData is returned for windows that have no measurable sample rate.
var ErrInsufficientData = errors.New("insufficient data")

// Notice describes why the filtered signal equals the centered one.
type Notice string

const (
	// NoticeNone means the bandpass filter was applied.
	NoticeNone Notice = ""
	// FilterSkipped means the passband does not fit under the Nyquist frequency.
	FilterSkipped Notice = "filter_skipped"
	// FilterFailed means design or filtering failed numerically.
	FilterFailed Notice = "filter_failed"
)

// Passband is the applied band in Hz.
type Passband struct {
	LowHz  float64 `json:"low_hz"`
	HighHz float64 `json:"high_hz"`
}

// Report is the result of conditioning one window.
type Report struct {
	Samples    int     `json:"samples"`
	Duration   float64 `json:"duration_seconds"`
	SampleRate float64 `json:"sample_rate_hz"`
	Mean       float64 `json:"mean"`
	Std        float64 `json:"std"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`

	Passband      Passband `json:"passband"`
	FilterApplied bool     `json:"filter_applied"`
	Notice        Notice   `json:"notice,omitempty"`
	NoticeDetail  string   `json:"notice_detail,omitempty"`

	Timestamps []float64 `json:"timestamps"`
	Centered   []float64 `json:"centered"`
	Filtered   []float64 `json:"filtered"`
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// Options are the bandpass parameters.
type Options struct {
	LowCutHz        float64
	HighCutHz       float64
	NyquistFraction float64 // HighCutHz is capped at this fraction of Nyquist
	Order           int
}

// DefaultOptions returns the 0.5-40 Hz third-order band.
func DefaultOptions() Options {
	return Options{
		LowCutHz:        0.5,
		HighCutHz:       40,
		NyquistFraction: 0.9,
		Order:           3,
	}
}

// OptionsFrom converts the filter section of the configuration.
func OptionsFrom(cfg config.FilterConfig) Options {
	return Options{
		LowCutHz:        cfg.LowCutHz,
		HighCutHz:       cfg.HighCutHz,
		NyquistFraction: cfg.NyquistFraction,
		Order:           cfg.Order,
	}
}

// Pipeline conditions captured windows. It holds no per-call state.
type Pipeline struct {
	opts Options
}

// NewPipeline creates a pipeline; zero option fields take their defaults.
func NewPipeline(opts Options) *Pipeline {
	def := DefaultOptions()
	if opts.LowCutHz == 0 {
		opts.LowCutHz = def.LowCutHz
	}
	if opts.HighCutHz == 0 {
		opts.HighCutHz = def.HighCutHz
	}
	if opts.NyquistFraction == 0 {
		opts.NyquistFraction = def.NyquistFraction
	}
	if opts.Order == 0 {
		opts.Order = def.Order
	}
	return &Pipeline{opts: opts}
}

// Process conditions window with the default options.
func Process(window []sample.Sample) (*Report, error) {
	return NewPipeline(DefaultOptions()).Process(window)
}

// Process computes statistics, removes the DC offset and applies the
// zero-phase bandpass. Filtering problems never fail the call: the report
// then carries the centered signal as Filtered together with a Notice.
func (p *Pipeline) Process(window []sample.Sample) (*Report, error) {
	n := len(window)
	if n <= 1 {
		return nil, fmt.Errorf("%w: %d samples", ErrInsufficientData, n)
	}

	timestamps, voltages := sample.Split(window)
	elapsed := timestamps[n-1] - timestamps[0]
	if !(elapsed > 0) {
		return nil, fmt.Errorf("%w: elapsed time %g s", ErrInsufficientData, elapsed)
	}

	r := &Report{
		Samples:    n,
		Duration:   elapsed,
		SampleRate: float64(n-1) / elapsed,
		Min:        floats.Min(voltages),
		Max:        floats.Max(voltages),
		Timestamps: timestamps,
	}
	r.Mean, r.Std = stat.PopMeanStdDev(voltages, nil)

	r.Centered = make([]float64, n)
	copy(r.Centered, voltages)
	floats.AddConst(-r.Mean, r.Centered)

	nyquist := r.SampleRate / 2
	low := p.opts.LowCutHz / nyquist
	high := min(p.opts.HighCutHz, nyquist*p.opts.NyquistFraction) / nyquist
	r.Passband = Passband{LowHz: low * nyquist, HighHz: high * nyquist}

	if high >= 1 || low >= high {
		r.fallback(FilterSkipped, fmt.Sprintf("passband %.3g-%.3g Hz does not fit below Nyquist %.3g Hz",
			r.Passband.LowHz, r.Passband.HighHz, nyquist))
		return r, nil
	}

	b, a, err := Butterworth(p.opts.Order, low, high)
	if err != nil {
		r.fallback(FilterFailed, err.Error())
		return r, nil
	}
	filtered, err := FiltFilt(b, a, r.Centered)
	if err != nil {
		r.fallback(FilterFailed, err.Error())
		return r, nil
	}

	r.Filtered = filtered
	r.FilterApplied = true
	return r, nil
}

func (r *Report) fallback(notice Notice, detail string) {
	r.Filtered = make([]float64, len(r.Centered))
	copy(r.Filtered, r.Centered)
	r.FilterApplied = false
	r.Notice = notice
	r.NoticeDetail = detail
}
