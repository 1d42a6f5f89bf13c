package condition

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrSignalTooShort is returned when the input is not longer than the edge padding.
	ErrSignalTooShort = errors.New("signal too short for zero-phase filtering")
	// ErrUnstable is returned when filtering produced non-finite values.
	ErrUnstable = errors.New("filter output is not finite")
)

// PadLen returns the odd-extension length used by FiltFilt for the given coefficients.
func PadLen(b, a []float64) int {
	return 3 * max(len(a), len(b))
}

// FiltFilt applies the IIR filter (b, a) forward and then backward, giving a
// zero-phase result of the same length as x. The signal is extended at both
// ends by odd reflection and each pass starts from the filter's steady state
// to suppress edge transients. x must be longer than PadLen(b, a).
func FiltFilt(b, a, x []float64) ([]float64, error) {
	if len(a) == 0 || len(b) == 0 || a[0] == 0 {
		return nil, fmt.Errorf("%w: empty or unnormalizable coefficients", ErrInvalidDesign)
	}

	b, a = normalize(b, a)
	padlen := PadLen(b, a)
	if len(x) <= padlen {
		return nil, fmt.Errorf("%w: need more than %d samples, got %d", ErrSignalTooShort, padlen, len(x))
	}

	zi, err := steadyState(b, a)
	if err != nil {
		return nil, err
	}

	ext := oddExtend(x, padlen)

	state := make([]float64, len(zi))
	floats.ScaleTo(state, ext[0], zi)
	y := lfilter(b, a, ext, state)

	floats.Reverse(y)
	floats.ScaleTo(state, y[0], zi)
	y = lfilter(b, a, y, state)
	floats.Reverse(y)

	out := y[padlen : len(y)-padlen]
	for _, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, ErrUnstable
		}
	}
	return out, nil
}

// normalize pads b and a to equal length and scales both so a[0] == 1.
func normalize(b, a []float64) ([]float64, []float64) {
	n := max(len(a), len(b))
	nb := make([]float64, n)
	na := make([]float64, n)
	copy(nb, b)
	copy(na, a)
	if a0 := na[0]; a0 != 1 {
		floats.Scale(1/a0, nb)
		floats.Scale(1/a0, na)
	}
	return nb, na
}

// steadyState solves (I - Aᵀ) zi = b[1:] - a[1:]·b[0] where A is the companion
// matrix of a. zi is the filter state after an infinitely long unit step.
func steadyState(b, a []float64) ([]float64, error) {
	n := len(a) - 1
	if n == 0 {
		return nil, nil
	}

	m := mat.NewDense(n, n, nil)
	for i := range n {
		m.Set(i, i, 1)
		m.Set(i, 0, m.At(i, 0)+a[i+1])
		if i+1 < n {
			m.Set(i, i+1, -1)
		}
	}

	rhs := mat.NewVecDense(n, nil)
	for i := range n {
		rhs.SetVec(i, b[i+1]-a[i+1]*b[0])
	}

	var zi mat.VecDense
	if err := zi.SolveVec(m, rhs); err != nil {
		// Ill-conditioning is reported but the solution is still computed.
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, fmt.Errorf("%w: initial conditions: %w", ErrUnstable, err)
		}
	}

	out := make([]float64, n)
	for i := range n {
		out[i] = zi.AtVec(i)
	}
	return out, nil
}

// oddExtend reflects padlen samples about each endpoint.
func oddExtend(x []float64, padlen int) []float64 {
	n := len(x)
	ext := make([]float64, 0, n+2*padlen)
	for i := padlen; i >= 1; i-- {
		ext = append(ext, 2*x[0]-x[i])
	}
	ext = append(ext, x...)
	for i := n - 2; i >= n-1-padlen; i-- {
		ext = append(ext, 2*x[n-1]-x[i])
	}
	return ext
}

// lfilter runs the direct form II transposed recursion. b and a are normalized
// and of equal length; z holds the initial state and is updated in place.
func lfilter(b, a, x, z []float64) []float64 {
	y := make([]float64, len(x))
	n := len(z)
	for k, xk := range x {
		yk := b[0] * xk
		if n > 0 {
			yk += z[0]
			for i := 0; i < n-1; i++ {
				z[i] = b[i+1]*xk + z[i+1] - a[i+1]*yk
			}
			z[n-1] = b[n]*xk - a[n]*yk
		}
		y[k] = yk
	}
	return y
}
