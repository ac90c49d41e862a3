package frequency

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medview/pkg/ndarray"
)

func seq(dtype ndarray.DType, shape ...int) *ndarray.Array {
	a := ndarray.New(dtype, shape...)
	for i := range a.Data() {
		a.Data()[i] = float64(i % 7)
	}
	return a
}

// TestSpectrumOfConstant verifies that a constant input only has a DC term
func TestSpectrumOfConstant(t *testing.T) {
	a := ndarray.New(ndarray.Float64, 4, 4, 1)
	for i := range a.Data() {
		a.Data()[i] = 2
	}
	coeffs := Spectrum(a, Axes(a))
	require.Len(t, coeffs, 16)
	assert.InDelta(t, 32, real(coeffs[0]), 1e-9)
	for _, c := range coeffs[1:] {
		assert.InDelta(t, 0, cmplx.Abs(c), 1e-9)
	}
}

// TestSpectrumSeparable verifies the 2D transform against a direct DFT
func TestSpectrumSeparable(t *testing.T) {
	a := seq(ndarray.Float64, 3, 4, 1)
	coeffs := Spectrum(a, []int{0, 1})

	rows, cols := 3, 4
	for u := 0; u < rows; u++ {
		for v := 0; v < cols; v++ {
			var want complex128
			for y := 0; y < rows; y++ {
				for x := 0; x < cols; x++ {
					phase := -2i * complex(math.Pi, 0) *
						complex(float64(u*y)/float64(rows)+float64(v*x)/float64(cols), 0)
					want += complex(a.At(y, x, 0), 0) * cmplx.Exp(phase)
				}
			}
			got := coeffs[u*cols+v]
			assert.InDelta(t, real(want), real(got), 1e-9, "(%d,%d)", u, v)
			assert.InDelta(t, imag(want), imag(got), 1e-9, "(%d,%d)", u, v)
		}
	}
}

// TestMagnitude verifies the rescaled Uint8 magnitude
func TestMagnitude(t *testing.T) {
	a := ndarray.New(ndarray.Uint8, 4, 4, 1)
	for i := range a.Data() {
		a.Data()[i] = 5
	}
	m := Magnitude(a)
	assert.Equal(t, ndarray.Uint8, m.DType())
	assert.Equal(t, []int{4, 4, 1}, m.Shape())
	assert.Equal(t, 255.0, m.At(0, 0, 0))
	assert.Equal(t, 0.0, m.At(2, 3, 0))

	flat := Magnitude(ndarray.New(ndarray.Float32, 2, 2, 1))
	lo, hi := flat.MinMax()
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 0.0, hi)

	vol := Magnitude(seq(ndarray.Int16, 4, 4, 4))
	lo, hi = vol.MinMax()
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 255.0, hi)
}

// TestShift verifies the roll amounts on even and odd axes
func TestShift(t *testing.T) {
	a, err := ndarray.FromSlice(ndarray.Int32, []float64{0, 1, 2, 3, 4}, 5, 1)
	require.NoError(t, err)
	// the unit channel axis is not rolled
	shifted := Shift(a)
	assert.Equal(t, []float64{3, 4, 0, 1, 2}, shifted.Data())
	assert.Equal(t, ndarray.Int32, shifted.DType())
	assert.Equal(t, a.Data(), InverseShift(shifted).Data())
}

// TestShiftTwiceIsIdentityForEvenDims verifies the round trip of the zero-frequency recentring
func TestShiftTwiceIsIdentityForEvenDims(t *testing.T) {
	for _, a := range []*ndarray.Array{seq(ndarray.Uint8, 4, 6, 1), seq(ndarray.Float32, 4, 6, 3), seq(ndarray.Int16, 4, 2, 6)} {
		twice := Shift(Shift(a))
		assert.True(t, a.Equal(twice), "%v", a.Shape())
		assert.False(t, a.Equal(Shift(a)), "%v", a.Shape())
	}

	odd := seq(ndarray.Float64, 5, 7, 9)
	if diff := cmp.Diff(odd.Data(), InverseShift(Shift(odd)).Data()); diff != "" {
		t.Errorf("inverse shift mismatch (-want +got):\n%s", diff)
	}
}
