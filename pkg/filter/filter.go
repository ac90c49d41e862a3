// Package filter implements the linear and rank filters of the processing
// catalog. Every filter is applied separably along a chosen set of axes,
// except the median which gathers the full N-D window, and returns a new
// array of the input shape and dtype.
package filter

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"

	"medview/pkg/errs"
	"medview/pkg/ndarray"
)

// Mode selects how samples beyond the array edge are synthesized.
type Mode int

const (
	// Reflect mirrors about the edge, repeating the edge sample (d c b a | a b c d).
	Reflect Mode = iota
	// Reflect101 mirrors about the edge sample without repeating it (d c b | a b c d).
	Reflect101
	// Nearest repeats the edge sample.
	Nearest
)

func (m Mode) String() string {
	switch m {
	case Reflect:
		return "reflect"
	case Reflect101:
		return "reflect101"
	case Nearest:
		return "nearest"
	}
	return "mode(?)"
}

// Index maps a possibly out-of-range position i onto [0, n).
func (m Mode) Index(i, n int) int {
	if i >= 0 && i < n {
		return i
	}
	switch m {
	case Reflect:
		period := 2 * n
		i %= period
		if i < 0 {
			i += period
		}
		if i >= n {
			i = period - 1 - i
		}
		return i
	case Reflect101:
		if n == 1 {
			return 0
		}
		period := 2 * (n - 1)
		i %= period
		if i < 0 {
			i += period
		}
		if i >= n {
			i = period - i
		}
		return i
	}
	if i < 0 {
		return 0
	}
	return n - 1
}

// lineOp transforms one line: src is the line padded by left and right
// samples, dst receives the n output samples.
type lineOp func(dst, src []float64)

// separable runs op along every axis in axes, padding each line by left and
// right samples with the given mode. The result is Float64.
func separable(a *ndarray.Array, axes []int, left, right int, mode Mode, op lineOp) *ndarray.Array {
	shape := a.Shape()
	cur := slices.Clone(a.Data())
	next := make([]float64, len(cur))
	for _, axis := range axes {
		n := shape[axis]
		src := make([]float64, n+left+right)
		dst := make([]float64, n)
		ndarray.Lines(shape, axis, func(start, stride int) {
			for k := range src {
				src[k] = cur[start+mode.Index(k-left, n)*stride]
			}
			op(dst, src)
			for k, v := range dst {
				next[start+k*stride] = v
			}
		})
		cur, next = next, cur
	}
	out, err := ndarray.FromSlice(ndarray.Float64, cur, shape...)
	if err != nil {
		panic(err)
	}
	return out
}

// Correlate1D correlates every line along axis with weights centred on the
// middle weight and returns a Float64 array.
func Correlate1D(a *ndarray.Array, weights []float64, axis int, mode Mode) *ndarray.Array {
	left, right := window(len(weights))
	return separable(a, []int{axis}, left, right, mode, func(dst, src []float64) {
		for i := range dst {
			dst[i] = floats.Dot(weights, src[i:i+len(weights)])
		}
	})
}

func checkSize(op string, size int) error {
	if size < 1 {
		return errs.Invalid(op, "window size %d must be at least 1", size)
	}
	return nil
}

func checkAxes(op string, a *ndarray.Array, axes []int) error {
	for _, ax := range axes {
		if ax < 0 || ax >= a.Rank() {
			return errs.Invalid(op, "axis %d out of range for rank %d", ax, a.Rank())
		}
	}
	return nil
}

// window splits a window of size samples around the centre: left samples
// before it and right after it.
func window(size int) (left, right int) {
	left = size / 2
	return left, size - left - 1
}

// Uniform replaces each element by the mean over a window of size samples
// along every axis in axes.
func Uniform(a *ndarray.Array, size int, axes []int, mode Mode) (*ndarray.Array, error) {
	if err := checkSize("uniform filter", size); err != nil {
		return nil, err
	}
	if err := checkAxes("uniform filter", a, axes); err != nil {
		return nil, err
	}
	left, right := window(size)
	inv := 1 / float64(size)
	return separable(a, axes, left, right, mode, func(dst, src []float64) {
		sum := floats.Sum(src[:size])
		for i := range dst {
			dst[i] = sum * inv
			if i+size < len(src) {
				sum += src[i+size] - src[i]
			}
		}
	}).Cast(a.DType()), nil
}

// Box blurs the two spatial axes of a (rows, cols, channels) image with a
// size x size averaging kernel, each channel independently.
func Box(a *ndarray.Array, size int) (*ndarray.Array, error) {
	if a.Rank() != 3 {
		return nil, errs.Invalid("box filter", "want a (rows, cols, channels) image, got %v", a.Shape())
	}
	return Uniform(a, size, []int{0, 1}, Reflect101)
}

// GaussianKernel returns the normalized 1-D Gaussian weights for sigma,
// truncated at truncate standard deviations.
func GaussianKernel(sigma, truncate float64) []float64 {
	radius := int(truncate*sigma + 0.5)
	w := make([]float64, 2*radius+1)
	for i := range w {
		x := float64(i - radius)
		w[i] = math.Exp(-0.5 * x * x / (sigma * sigma))
	}
	floats.Scale(1/floats.Sum(w), w)
	return w
}

// Gaussian smooths along every axis in axes with a Gaussian of the given
// standard deviation.
func Gaussian(a *ndarray.Array, sigma, truncate float64, axes []int, mode Mode) (*ndarray.Array, error) {
	if !(sigma > 0) || math.IsInf(sigma, 0) {
		return nil, errs.Invalid("gaussian filter", "sigma %v must be positive", sigma)
	}
	if !(truncate > 0) {
		return nil, errs.Invalid("gaussian filter", "truncate %v must be positive", truncate)
	}
	if err := checkAxes("gaussian filter", a, axes); err != nil {
		return nil, err
	}
	w := GaussianKernel(sigma, truncate)
	radius := len(w) / 2
	return separable(a, axes, radius, radius, mode, func(dst, src []float64) {
		for i := range dst {
			dst[i] = floats.Dot(w, src[i:i+len(w)])
		}
	}).Cast(a.DType()), nil
}

// Maximum replaces each element by the largest value in a window of size
// samples along every axis in axes.
func Maximum(a *ndarray.Array, size int, axes []int, mode Mode) (*ndarray.Array, error) {
	return rank("maximum filter", a, size, axes, mode, floats.Max)
}

// Minimum replaces each element by the smallest value in a window of size
// samples along every axis in axes.
func Minimum(a *ndarray.Array, size int, axes []int, mode Mode) (*ndarray.Array, error) {
	return rank("minimum filter", a, size, axes, mode, floats.Min)
}

func rank(op string, a *ndarray.Array, size int, axes []int, mode Mode, pick func([]float64) float64) (*ndarray.Array, error) {
	if err := checkSize(op, size); err != nil {
		return nil, err
	}
	if err := checkAxes(op, a, axes); err != nil {
		return nil, err
	}
	left, right := window(size)
	return separable(a, axes, left, right, mode, func(dst, src []float64) {
		for i := range dst {
			dst[i] = pick(src[i : i+size])
		}
	}).Cast(a.DType()), nil
}

// Median replaces each element by the median of the size^rank window centred
// on it. With an even number of samples the upper median is taken.
func Median(a *ndarray.Array, size int, mode Mode) (*ndarray.Array, error) {
	if err := checkSize("median filter", size); err != nil {
		return nil, err
	}
	shape := a.Shape()
	nd := len(shape)
	left, _ := window(size)

	offsets := make([][]int, 0)
	off := make([]int, nd)
	var build func(d int)
	build = func(d int) {
		if d == nd {
			offsets = append(offsets, slices.Clone(off))
			return
		}
		for k := 0; k < size; k++ {
			off[d] = k - left
			build(d + 1)
		}
	}
	build(0)

	strides := ndarray.Strides(shape)
	data := a.Data()
	out := ndarray.New(a.DType(), shape...)
	dst := out.Data()
	idx := make([]int, nd)
	buf := make([]float64, len(offsets))
	for i := range data {
		ndarray.Unravel(i, shape, idx)
		for j, o := range offsets {
			flat := 0
			for d := 0; d < nd; d++ {
				flat += mode.Index(idx[d]+o[d], shape[d]) * strides[d]
			}
			buf[j] = data[flat]
		}
		slices.Sort(buf)
		dst[i] = buf[len(buf)/2]
	}
	return out, nil
}
