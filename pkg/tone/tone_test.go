package tone

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medview/pkg/errs"
	"medview/pkg/ndarray"
)

func ramp(dtype ndarray.DType, lo, step float64, shape ...int) *ndarray.Array {
	a := ndarray.New(dtype, shape...)
	for i := range a.Data() {
		a.Data()[i] = lo + step*float64(i)
	}
	return a
}

// TestGammaPresets verifies that the high preset brightens and the low preset darkens
func TestGammaPresets(t *testing.T) {
	inputs := []*ndarray.Array{
		ramp(ndarray.Uint8, 10, 15, 4, 4, 1),
		ramp(ndarray.Uint16, 0, 900, 3, 5, 3),
		ramp(ndarray.Float32, 0.05, 0.1, 3, 3, 1),
		ramp(ndarray.Float64, -50, 12.5, 4, 4, 4),
		ramp(ndarray.Int16, -300, 40, 4, 4, 4),
	}
	for _, a := range inputs {
		high := GammaHigh(a)
		low := GammaLow(a)
		assert.Equal(t, ndarray.Float64, high.DType())
		assert.Equal(t, a.Shape(), high.Shape())
		assert.Greater(t, high.Mean(), a.Mean(), "%v %v", a.DType(), a.Shape())
		assert.Less(t, low.Mean(), a.Mean(), "%v %v", a.DType(), a.Shape())
	}
}

// TestGammaRange verifies that results stay within the normalization range
func TestGammaRange(t *testing.T) {
	a := ramp(ndarray.Uint8, 0, 17, 4, 4, 1)
	out, err := Gamma(a, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.0, out.At(0, 0, 0))
	assert.InDelta(t, 255, out.At(3, 3, 0), 1e-9)
	assert.InDelta(t, 34, out.At(0, 2, 0)*out.At(0, 2, 0)/255, 1e-9)

	// signed data with negatives falls back to min-max
	s := ramp(ndarray.Int16, -100, 100, 1, 3, 1)
	out, err = Gamma(s, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{-100, -50, 100}, out.Data())
}

// TestGammaConstant verifies that a constant float image is returned unchanged
func TestGammaConstant(t *testing.T) {
	a := ramp(ndarray.Float64, 7, 0, 2, 2, 1)
	out, err := Gamma(a, 2)
	require.NoError(t, err)
	assert.Equal(t, a.Data(), out.Data())

	_, err = Gamma(a, 0)
	assert.True(t, errors.Is(err, errs.ErrInvalidParameter))
	_, err = Gamma(a, -1)
	assert.True(t, errors.Is(err, errs.ErrInvalidParameter))
}
