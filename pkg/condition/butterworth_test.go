package condition

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// response evaluates |H(e^jw)| for w in radians per sample.
func response(b, a []float64, w float64) float64 {
	zinv := cmplx.Exp(complex(0, -w))
	var num, den complex128
	p := complex(1, 0)
	for i := range b {
		num += complex(b[i], 0) * p
		den += complex(a[i], 0) * p
		p *= zinv
	}
	return cmplx.Abs(num / den)
}

func TestButterworth_CoefficientShape(t *testing.T) {
	b, a, err := Butterworth(3, 0.01, 0.8)
	require.NoError(t, err)
	require.Len(t, b, 7)
	require.Len(t, a, 7)
	assert.InDelta(t, 1.0, a[0], 1e-12)

	// Zeros are three at z = 1 and three at z = -1, so b is k*(z^2-1)^3.
	k := b[0]
	require.NotZero(t, k)
	want := []float64{1, 0, -3, 0, 3, 0, -1}
	for i := range b {
		assert.InDelta(t, want[i], b[i]/k, 1e-9, "b[%d]", i)
	}
}

func TestButterworth_Response(t *testing.T) {
	tests := []struct {
		name      string
		order     int
		low, high float64
	}{
		{name: "ecg band at 100 Hz", order: 3, low: 0.01, high: 0.8},
		{name: "ecg band at 500 Hz", order: 3, low: 0.002, high: 0.16},
		{name: "mid band", order: 3, low: 0.2, high: 0.4},
		{name: "second order", order: 2, low: 0.1, high: 0.3},
		{name: "fourth order", order: 4, low: 0.1, high: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, a, err := Butterworth(tt.order, tt.low, tt.high)
			require.NoError(t, err)
			require.Len(t, b, 2*tt.order+1)

			// -3 dB exactly at both edges thanks to prewarping.
			assert.InDelta(t, 1/math.Sqrt2, response(b, a, math.Pi*tt.low), 1e-6)
			assert.InDelta(t, 1/math.Sqrt2, response(b, a, math.Pi*tt.high), 1e-6)

			// Unity gain at the geometric center of the warped band.
			center := 2 * math.Atan(math.Sqrt(math.Tan(math.Pi*tt.low/2)*math.Tan(math.Pi*tt.high/2)))
			assert.InDelta(t, 1.0, response(b, a, center), 1e-6)

			// Full rejection at DC and Nyquist.
			assert.InDelta(t, 0.0, response(b, a, 0), 1e-9)
			assert.InDelta(t, 0.0, response(b, a, math.Pi), 1e-9)
		})
	}
}

func TestButterworth_Stable(t *testing.T) {
	_, a, err := Butterworth(3, 0.01, 0.8)
	require.NoError(t, err)

	// All poles inside the unit circle: the impulse response decays.
	b := make([]float64, len(a))
	b[0] = 1
	x := make([]float64, 5000)
	x[0] = 1
	y := lfilter(b, a, x, make([]float64, len(a)-1))
	assert.Less(t, math.Abs(y[len(y)-1]), 1e-6)
}

func TestButterworth_InvalidDesign(t *testing.T) {
	tests := []struct {
		name      string
		order     int
		low, high float64
	}{
		{name: "zero order", order: 0, low: 0.1, high: 0.2},
		{name: "inverted band", order: 3, low: 0.4, high: 0.2},
		{name: "empty band", order: 3, low: 0.2, high: 0.2},
		{name: "high at nyquist", order: 3, low: 0.1, high: 1},
		{name: "low at dc", order: 3, low: 0, high: 0.5},
		{name: "nan edge", order: 3, low: math.NaN(), high: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Butterworth(tt.order, tt.low, tt.high)
			assert.ErrorIs(t, err, ErrInvalidDesign)
		})
	}
}

func TestPoly(t *testing.T) {
	// (z-1)(z-2) = z^2 - 3z + 2
	c := poly([]complex128{1, 2})
	require.Len(t, c, 3)
	assert.Equal(t, []complex128{1, -3, 2}, c)
}
