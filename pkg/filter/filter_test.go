package filter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medview/pkg/errs"
	"medview/pkg/ndarray"
)

func line(dtype ndarray.DType, vals ...float64) *ndarray.Array {
	a, err := ndarray.FromSlice(dtype, vals, len(vals))
	if err != nil {
		panic(err)
	}
	return a
}

// TestModeIndex verifies the boundary extension rules
func TestModeIndex(t *testing.T) {
	cases := []struct {
		mode Mode
		n    int
		in   []int
		want []int
	}{
		{Reflect, 4, []int{-1, -2, -4, -5, 4, 5, 8, 2}, []int{0, 1, 3, 3, 3, 2, 0, 2}},
		{Reflect101, 4, []int{-1, -2, -3, 4, 5, 6}, []int{1, 2, 3, 2, 1, 0}},
		{Reflect101, 1, []int{-3, 5}, []int{0, 0}},
		{Reflect, 1, []int{-3, 5}, []int{0, 0}},
		{Nearest, 4, []int{-7, 9, 1}, []int{0, 3, 1}},
	}
	for _, c := range cases {
		for i, in := range c.in {
			assert.Equal(t, c.want[i], c.mode.Index(in, c.n), "%v n=%d i=%d", c.mode, c.n, in)
		}
	}
}

// TestUniform verifies the moving average along one axis
func TestUniform(t *testing.T) {
	a := line(ndarray.Float64, 0, 0, 3, 0, 0)
	out, err := Uniform(a, 3, []int{0}, Reflect)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 1, 1, 1, 0}, out.Data(), 1e-12)

	// a window wider than the line folds repeatedly
	c := line(ndarray.Float64, 2, 2, 2)
	out, err = Uniform(c, 20, []int{0}, Reflect)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2, 2, 2}, out.Data(), 1e-12)
}

// TestUniformKeepsDType verifies that integer results are rounded into the input type
func TestUniformKeepsDType(t *testing.T) {
	a := line(ndarray.Uint8, 0, 1, 0, 0)
	out, err := Uniform(a, 2, []int{0}, Reflect)
	require.NoError(t, err)
	assert.Equal(t, ndarray.Uint8, out.DType())
	assert.Equal(t, []float64{0, 1, 1, 0}, out.Data())
	assert.Equal(t, []float64{0, 1, 0, 0}, a.Data(), "input untouched")
}

// TestBox verifies the 2D box blur of a single impulse
func TestBox(t *testing.T) {
	img := ndarray.New(ndarray.Float64, 5, 5, 1)
	img.Set(9, 2, 2, 0)
	out, err := Box(img, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 5, 1}, out.Shape())
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			want := 0.0
			if y >= 1 && y <= 3 && x >= 1 && x <= 3 {
				want = 1
			}
			assert.InDelta(t, want, out.At(y, x, 0), 1e-12, "(%d,%d)", y, x)
		}
	}

	rgb := ndarray.New(ndarray.Uint8, 4, 4, 3)
	rgb.Set(90, 0, 0, 1)
	out, err = Box(rgb, 3)
	require.NoError(t, err)
	// channels never mix
	assert.Equal(t, 0.0, out.At(0, 0, 0))
	assert.Equal(t, 0.0, out.At(0, 0, 2))
	// reflect-101 sees the corner once per axis inside a 3x3 window
	assert.Equal(t, 10.0, out.At(0, 0, 1))

	_, err = Box(line(ndarray.Uint8, 1, 2), 3)
	assert.True(t, errors.Is(err, errs.ErrInvalidParameter))
}

// TestGaussianKernel verifies normalization, symmetry and truncation radius
func TestGaussianKernel(t *testing.T) {
	w := GaussianKernel(5, 4)
	require.Len(t, w, 41)
	sum := 0.0
	for i, v := range w {
		sum += v
		assert.InDelta(t, v, w[len(w)-1-i], 1e-15)
	}
	assert.InDelta(t, 1, sum, 1e-12)
	assert.Greater(t, w[20], w[19])
}

// TestGaussian verifies that smoothing keeps constants and spreads impulses
func TestGaussian(t *testing.T) {
	flat := ndarray.New(ndarray.Float32, 6, 7, 1)
	for i := range flat.Data() {
		flat.Data()[i] = 3
	}
	out, err := Gaussian(flat, 2, 4, flat.AllAxes(), Reflect)
	require.NoError(t, err)
	assert.Equal(t, ndarray.Float32, out.DType())
	assert.InDeltaSlice(t, flat.Data(), out.Data(), 1e-9)

	imp := line(ndarray.Float64, 0, 0, 0, 0, 10, 0, 0, 0, 0)
	out, err = Gaussian(imp, 1, 4, []int{0}, Reflect)
	require.NoError(t, err)
	assert.Less(t, out.At(4), 10.0)
	assert.Greater(t, out.At(3), 0.0)
	assert.InDelta(t, out.At(3), out.At(5), 1e-12)

	_, err = Gaussian(imp, 0, 4, []int{0}, Reflect)
	assert.True(t, errors.Is(err, errs.ErrInvalidParameter))
}

// TestRankFilters verifies maximum, minimum and median windows
func TestRankFilters(t *testing.T) {
	a := line(ndarray.Int16, 1, 1, 9, 1, 1, -4, 1)

	mx, err := Maximum(a, 3, []int{0}, Reflect)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 9, 9, 9, 1, 1, 1}, mx.Data())

	mn, err := Minimum(a, 3, []int{0}, Reflect)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 1, 1, -4, -4, -4}, mn.Data())

	md, err := Median(a, 3, Reflect)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 1, 1, 1, 1, 1}, md.Data())
	assert.Equal(t, ndarray.Int16, md.DType())

	_, err = Maximum(a, 0, []int{0}, Reflect)
	assert.True(t, errors.Is(err, errs.ErrInvalidParameter))
	_, err = Minimum(a, 3, []int{4}, Reflect)
	assert.True(t, errors.Is(err, errs.ErrInvalidParameter))
}

// TestMedianVolume verifies that the median window spans every axis
func TestMedianVolume(t *testing.T) {
	vol := ndarray.New(ndarray.Uint8, 3, 3, 3)
	vol.Set(200, 1, 1, 1)
	out, err := Median(vol, 3, Reflect)
	require.NoError(t, err)
	assert.Equal(t, 0.0, out.At(1, 1, 1))

	for i := range vol.Data() {
		vol.Data()[i] = 50
	}
	vol.Set(0, 1, 1, 1)
	out, err = Median(vol, 3, Reflect)
	require.NoError(t, err)
	assert.Equal(t, 50.0, out.At(1, 1, 1))
}
