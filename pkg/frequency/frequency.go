// Package frequency provides the discrete Fourier transform of canonical
// arrays and the shifts that move the zero-frequency term to the centre.
//
// The transform of an N-D array is computed as a sequence of 1-D complex
// transforms, one axis at a time, using gonum's FFT. 2D images are transformed
// over their two spatial axes independently for every channel; volumes over
// every axis.
package frequency

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"medview/pkg/ndarray"
)

// Axes returns the axes the transform and shifts run over: the spatial axes
// for 2D data and every axis for volumes.
func Axes(a *ndarray.Array) []int {
	return a.SpatialAxes()
}

// Spectrum returns the complex N-D DFT of a over axes, in a's row-major
// layout.
//
// Parameters:
//   - a: input array, read as real samples
//   - axes: axes to transform, in any order
//
// Returns:
//   - the unnormalized forward transform
func Spectrum(a *ndarray.Array, axes []int) []complex128 {
	shape := a.Shape()
	out := make([]complex128, a.Len())
	for i, v := range a.Data() {
		out[i] = complex(v, 0)
	}
	for _, axis := range axes {
		n := shape[axis]
		if n < 2 {
			continue
		}
		fft := fourier.NewCmplxFFT(n)
		seq := make([]complex128, n)
		coeff := make([]complex128, n)
		ndarray.Lines(shape, axis, func(start, stride int) {
			for k := range seq {
				seq[k] = out[start+k*stride]
			}
			fft.Coefficients(coeff, seq)
			for k, c := range coeff {
				out[start+k*stride] = c
			}
		})
	}
	return out
}

// Magnitude returns |DFT(a)| over Axes(a), rescaled linearly so that the
// smallest magnitude maps to 0 and the largest to 255, as a Uint8 array. A
// spectrum with a single magnitude value maps to zeros.
func Magnitude(a *ndarray.Array) *ndarray.Array {
	coeffs := Spectrum(a, Axes(a))
	mag := make([]float64, len(coeffs))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, c := range coeffs {
		m := cmplx.Abs(c)
		mag[i] = m
		lo = math.Min(lo, m)
		hi = math.Max(hi, m)
	}
	scale := 0.0
	if hi > lo {
		scale = 255 / (hi - lo)
	}
	for i, m := range mag {
		mag[i] = (m - lo) * scale
	}
	out, err := ndarray.FromSlice(ndarray.Float64, mag, a.Shape()...)
	if err != nil {
		panic(err)
	}
	return out.Cast(ndarray.Uint8)
}

// Shift rolls every axis in Axes(a) by half its length so the zero-frequency
// term of a spectrum moves to the centre. The dtype is kept.
func Shift(a *ndarray.Array) *ndarray.Array {
	return roll(a, Axes(a), func(n int) int { return n / 2 })
}

// InverseShift undoes Shift, including for odd lengths.
func InverseShift(a *ndarray.Array) *ndarray.Array {
	return roll(a, Axes(a), func(n int) int { return -(n / 2) })
}

func roll(a *ndarray.Array, axes []int, by func(n int) int) *ndarray.Array {
	shape := a.Shape()
	cur := a.Clone()
	next := cur.Clone()
	for _, axis := range axes {
		n := shape[axis]
		if n < 2 {
			continue
		}
		s := ((by(n) % n) + n) % n
		if s == 0 {
			continue
		}
		src, dst := cur.Data(), next.Data()
		ndarray.Lines(shape, axis, func(start, stride int) {
			for k := 0; k < n; k++ {
				dst[start+((k+s)%n)*stride] = src[start+k*stride]
			}
		})
		cur, next = next, cur
	}
	return cur
}
