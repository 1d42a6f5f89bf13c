package condition

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiltFilt_TooShort(t *testing.T) {
	b, a, err := Butterworth(3, 0.01, 0.8)
	require.NoError(t, err)
	require.Equal(t, 21, PadLen(b, a))

	for _, n := range []int{0, 1, 10, 21} {
		_, err := FiltFilt(b, a, make([]float64, n))
		assert.ErrorIs(t, err, ErrSignalTooShort, "n=%d", n)
	}

	out, err := FiltFilt(b, a, make([]float64, 22))
	require.NoError(t, err)
	assert.Len(t, out, 22)
}

func TestFiltFilt_IdentityFilter(t *testing.T) {
	x := []float64{1, -2, 3, 5, 8, 13, 21, 34, 55, 89}
	out, err := FiltFilt([]float64{1}, []float64{1}, x)
	require.NoError(t, err)
	assert.InDeltaSlice(t, x, out, 1e-12)
}

func TestFiltFilt_NormalizesLeadingCoefficient(t *testing.T) {
	x := make([]float64, 50)
	for i := range x {
		x[i] = math.Sin(float64(i) / 3)
	}

	want, err := FiltFilt([]float64{0.5, 0.5}, []float64{1, -0.2}, x)
	require.NoError(t, err)
	got, err := FiltFilt([]float64{1, 1}, []float64{2, -0.4}, x)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, got, 1e-12)
}

func TestFiltFilt_ConstantInputOfLowpass(t *testing.T) {
	// A unity-DC-gain lowpass started from steady state leaves a constant untouched.
	b := []float64{0.2, 0.2}
	a := []float64{1, -0.6}
	x := make([]float64, 40)
	for i := range x {
		x[i] = 2.5
	}

	out, err := FiltFilt(b, a, x)
	require.NoError(t, err)
	for i, v := range out {
		assert.InDelta(t, 2.5, v, 1e-9, "sample %d", i)
	}
}

func TestFiltFilt_ZeroPhase(t *testing.T) {
	const fs = 250.0
	b, a, err := Butterworth(3, 0.5/(fs/2), 40/(fs/2))
	require.NoError(t, err)

	x := make([]float64, 2500)
	for i := range x {
		x[i] = math.Sin(2 * math.Pi * 5 * float64(i) / fs)
	}

	out, err := FiltFilt(b, a, x)
	require.NoError(t, err)

	// In-band tone comes through without delay or attenuation.
	for i := 500; i < 2000; i++ {
		assert.InDelta(t, x[i], out[i], 0.02, "sample %d", i)
	}
}

func TestFiltFilt_Unstable(t *testing.T) {
	// Pole outside the unit circle.
	x := make([]float64, 3000)
	for i := range x {
		x[i] = math.Sin(float64(i))
	}
	_, err := FiltFilt([]float64{1, 0}, []float64{1, -1.5}, x)
	assert.ErrorIs(t, err, ErrUnstable)
}

func TestOddExtend(t *testing.T) {
	ext := oddExtend([]float64{1, 2, 4, 7}, 2)
	// left: 2*1-4, 2*1-2 ; right: 2*7-4, 2*7-2
	assert.Equal(t, []float64{-2, 0, 1, 2, 4, 7, 10, 12}, ext)
}
