// Package edge computes gradient magnitudes and applies the fixed 3x3
// enhancement kernels (contour, emboss, sharpen) to canonical arrays.
package edge

import (
	"fmt"
	"math"

	"medview/pkg/filter"
	"medview/pkg/ndarray"
)

var (
	derivative    = []float64{-1, 0, 1}
	sobelSmooth   = []float64{1, 2, 1}
	prewittSmooth = []float64{1, 1, 1}
	secondDiff    = []float64{1, -2, 1}
)

// Sobel returns the Sobel gradient magnitude over the spatial axes of a as a
// Float64 array of the same shape.
func Sobel(a *ndarray.Array) *ndarray.Array {
	return magnitude(a, sobelSmooth)
}

// Prewitt returns the Prewitt gradient magnitude over the spatial axes of a.
func Prewitt(a *ndarray.Array) *ndarray.Array {
	return magnitude(a, prewittSmooth)
}

// magnitude differentiates along each spatial axis, smooths the derivative
// along the remaining spatial axes and combines the components in quadrature.
func magnitude(a *ndarray.Array, smooth []float64) *ndarray.Array {
	axes := a.SpatialAxes()
	sum := ndarray.New(ndarray.Float64, a.Shape()...)
	acc := sum.Data()
	for _, axis := range axes {
		g := filter.Correlate1D(a, derivative, axis, filter.Reflect)
		for _, other := range axes {
			if other != axis {
				g = filter.Correlate1D(g, smooth, other, filter.Reflect)
			}
		}
		for i, v := range g.Data() {
			acc[i] += v * v
		}
	}
	for i, v := range acc {
		acc[i] = math.Sqrt(v)
	}
	return sum
}

// Laplace returns the sum of second differences along the spatial axes.
func Laplace(a *ndarray.Array) *ndarray.Array {
	sum := ndarray.New(ndarray.Float64, a.Shape()...)
	acc := sum.Data()
	for _, axis := range a.SpatialAxes() {
		for i, v := range filter.Correlate1D(a, secondDiff, axis, filter.Reflect).Data() {
			acc[i] += v
		}
	}
	return sum
}

// Kernel is a 3x3 integer-image convolution kernel. Weights are listed row by
// row; the first row applies to the row below the output pixel. The weighted
// sum is divided by Scale and Offset is added before clipping to 0..255.
type Kernel struct {
	Name    string
	Weights [9]float64
	Scale   float64
	Offset  float64
	Passes  int
}

var (
	ContourKernel = Kernel{
		Name:    "contour",
		Weights: [9]float64{-1, -1, -1, -1, 8, -1, -1, -1, -1},
		Scale:   1,
		Offset:  255,
		Passes:  1,
	}
	EmbossKernel = Kernel{
		Name:    "emboss",
		Weights: [9]float64{-1, 0, 0, 0, 1, 0, 0, 0, 0},
		Scale:   1,
		Offset:  128,
		Passes:  1,
	}
	SharpenKernel = Kernel{
		Name:    "sharpen",
		Weights: [9]float64{-2, -2, -2, -2, 32, -2, -2, -2, -2},
		Scale:   16,
		Offset:  0,
		Passes:  3,
	}
)

// Contour outlines intensity changes.
func Contour(a *ndarray.Array) *ndarray.Array { return ContourKernel.Apply(a) }

// Emboss gives a relief effect lit from the lower left.
func Emboss(a *ndarray.Array) *ndarray.Array { return EmbossKernel.Apply(a) }

// Sharpen applies the sharpening kernel three times.
func Sharpen(a *ndarray.Array) *ndarray.Array { return SharpenKernel.Apply(a) }

// Apply runs the kernel over the 8-bit version of a. 2D data is processed one
// channel plane at a time; volumes one depth plane at a time. The result is
// Uint8 with the input shape. Apply panics for 2D data that is not rank 3,
// which the canonical form rules out.
func (k Kernel) Apply(a *ndarray.Array) *ndarray.Array {
	src := a.Cast(ndarray.Uint8)
	if a.Is3D() {
		shape := src.Shape()
		if len(shape) < 2 {
			panic(fmt.Sprintf("edge: %s needs at least two axes, got %v", k.Name, shape))
		}
		rows, cols := shape[len(shape)-2], shape[len(shape)-1]
		data := src.Data()
		for off := 0; off < len(data); off += rows * cols {
			k.plane(data[off:off+rows*cols], rows, cols)
		}
		return src
	}
	if src.Rank() != 3 {
		panic(fmt.Sprintf("edge: %s expects a (rows, cols, channels) image, got %v", k.Name, src.Shape()))
	}
	if sq, ok := src.SqueezeChannel(); ok {
		k.plane(sq.Data(), sq.Dim(0), sq.Dim(1))
		return sq.WithChannelAxis()
	}
	for c := 0; c < src.Channels(); c++ {
		p := src.Plane(c)
		k.plane(p.Data(), p.Dim(0), p.Dim(1))
		src.SetPlane(c, p)
	}
	return src
}

// plane filters one row-major plane in place. The outermost rows and columns
// are copied unchanged.
func (k Kernel) plane(data []float64, rows, cols int) {
	if rows < 3 || cols < 3 {
		return
	}
	in := make([]float64, len(data))
	for pass := 0; pass < k.Passes; pass++ {
		copy(in, data)
		for y := 1; y < rows-1; y++ {
			below, row, above := in[(y+1)*cols:], in[y*cols:], in[(y-1)*cols:]
			for x := 1; x < cols-1; x++ {
				w := &k.Weights
				sum := w[0]*below[x-1] + w[1]*below[x] + w[2]*below[x+1] +
					w[3]*row[x-1] + w[4]*row[x] + w[5]*row[x+1] +
					w[6]*above[x-1] + w[7]*above[x] + w[8]*above[x+1]
				data[y*cols+x] = clip8(sum/k.Scale + k.Offset)
			}
		}
	}
}

func clip8(v float64) float64 {
	v = math.Floor(v + 0.5)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
