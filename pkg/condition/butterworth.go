package condition

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
)

// ErrInvalidDesign is returned for filter parameters that describe no realizable band.
var ErrInvalidDesign = errors.New("invalid filter design")

// Butterworth designs a digital bandpass filter of the given prototype order.
// lowNorm and highNorm are band edges normalized to Nyquist, 0 < low < high < 1.
// The result has 2*order+1 coefficients, with a[0] == 1.
//
// Design path: analog lowpass prototype, prewarped lowpass-to-bandpass
// transform, bilinear transform, then expansion of zeros and poles into
// polynomials.
func Butterworth(order int, lowNorm, highNorm float64) (b, a []float64, err error) {
	if order < 1 {
		return nil, nil, fmt.Errorf("%w: order %d", ErrInvalidDesign, order)
	}
	if !(lowNorm > 0 && lowNorm < highNorm && highNorm < 1) {
		return nil, nil, fmt.Errorf("%w: band [%g, %g] must satisfy 0 < low < high < 1", ErrInvalidDesign, lowNorm, highNorm)
	}

	// Analog prototype: poles evenly spaced on the left half of the unit circle.
	proto := make([]complex128, 0, order)
	for m := -order + 1; m < order; m += 2 {
		proto = append(proto, -cmplx.Exp(complex(0, math.Pi*float64(m)/float64(2*order))))
	}

	// Prewarp the edges for a bilinear transform at fs = 2.
	const fs = 2.0
	const fs2 = 2 * fs
	w1 := fs2 * math.Tan(math.Pi*lowNorm/fs)
	w2 := fs2 * math.Tan(math.Pi*highNorm/fs)
	bw := w2 - w1
	wo := math.Sqrt(w1 * w2)

	// Lowpass to bandpass: each prototype pole splits in two, and the
	// pole excess becomes zeros at the origin.
	poles := make([]complex128, 0, 2*order)
	for _, p := range proto {
		pl := p * complex(bw/2, 0)
		d := cmplx.Sqrt(pl*pl - complex(wo*wo, 0))
		poles = append(poles, pl+d)
	}
	for _, p := range proto {
		pl := p * complex(bw/2, 0)
		d := cmplx.Sqrt(pl*pl - complex(wo*wo, 0))
		poles = append(poles, pl-d)
	}
	zeros := make([]complex128, order) // at s = 0
	gain := math.Pow(bw, float64(order))

	// Bilinear transform. Zeros at s = 0 map to z = 1; the remaining
	// pole excess maps to z = -1.
	num := complex(1, 0)
	den := complex(1, 0)
	for _, z := range zeros {
		num *= complex(fs2, 0) - z
	}
	for _, p := range poles {
		den *= complex(fs2, 0) - p
	}
	gain *= real(num / den)

	dzeros := make([]complex128, 0, 2*order)
	for _, z := range zeros {
		dzeros = append(dzeros, (complex(fs2, 0)+z)/(complex(fs2, 0)-z))
	}
	for range len(poles) - len(zeros) {
		dzeros = append(dzeros, -1)
	}
	dpoles := make([]complex128, len(poles))
	for i, p := range poles {
		dpoles[i] = (complex(fs2, 0) + p) / (complex(fs2, 0) - p)
	}

	bc := poly(dzeros)
	ac := poly(dpoles)
	b = make([]float64, len(bc))
	a = make([]float64, len(ac))
	for i := range bc {
		b[i] = gain * real(bc[i])
	}
	for i := range ac {
		a[i] = real(ac[i])
	}
	return b, a, nil
}

// poly returns the coefficients of the monic polynomial with the given roots,
// highest power first.
func poly(roots []complex128) []complex128 {
	c := make([]complex128, 1, len(roots)+1)
	c[0] = 1
	for _, r := range roots {
		c = append(c, 0)
		for i := len(c) - 1; i > 0; i-- {
			c[i] -= r * c[i-1]
		}
	}
	return c
}
