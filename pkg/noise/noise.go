// Package noise corrupts canonical arrays with impulse (salt-and-pepper) and
// additive Gaussian noise. The random source is always supplied by the
// caller so results are reproducible.
package noise

import (
	"math"
	"math/rand/v2"

	"medview/pkg/errs"
	"medview/pkg/ndarray"
)

// DefaultStdDev is the standard deviation used by the catalog's Gaussian noise.
const DefaultStdDev = 48

// SaltAndPepper sets round((1-snr) * locations) randomly chosen locations to
// the minimum or maximum intensity with equal probability. The minimum and
// maximum are 0 and 255 for Uint8 data and the observed extremes otherwise.
//
// For 2D data a location is a (row, col) position and every channel there is
// set. For volumes a location is a single voxel. Locations are drawn with
// replacement. The dtype is kept.
func SaltAndPepper(a *ndarray.Array, snr float64, rng *rand.Rand) (*ndarray.Array, error) {
	if !(snr >= 0 && snr <= 1) {
		return nil, errs.Invalid("salt and pepper noise", "snr %v outside [0, 1]", snr)
	}
	out := a.Clone()
	if a.Len() == 0 {
		return out, nil
	}
	lo, hi := a.MinMax()
	if a.DType() == ndarray.Uint8 {
		lo, hi = 0, 255
	}
	data := out.Data()

	if a.Is3D() {
		count := int(math.Round((1 - snr) * float64(len(data))))
		for i := 0; i < count; i++ {
			data[rng.IntN(len(data))] = pick(rng, lo, hi)
		}
		return out, nil
	}

	rows, cols := a.Dim(0), a.Dim(1)
	ch := a.Len() / (rows * cols)
	count := int(math.Round((1 - snr) * float64(rows*cols)))
	for i := 0; i < count; i++ {
		off := (rng.IntN(rows)*cols + rng.IntN(cols)) * ch
		v := pick(rng, lo, hi)
		for c := 0; c < ch; c++ {
			data[off+c] = v
		}
	}
	return out, nil
}

func pick(rng *rand.Rand, lo, hi float64) float64 {
	if rng.IntN(2) == 0 {
		return hi
	}
	return lo
}

// Gaussian adds zero-mean noise with standard deviation std to every
// element, then shifts the result so its minimum is 0, scales it so its
// maximum is 255 and casts to Uint8.
func Gaussian(a *ndarray.Array, std float64, rng *rand.Rand) (*ndarray.Array, error) {
	if !(std >= 0) || math.IsInf(std, 0) {
		return nil, errs.Invalid("gaussian noise", "standard deviation %v must be non-negative", std)
	}
	noisy := a.Map(ndarray.Float64, func(v float64) float64 {
		return v + rng.NormFloat64()*std
	})
	lo, _ := noisy.MinMax()
	data := noisy.Data()
	for i := range data {
		data[i] -= lo
	}
	_, hi := noisy.MinMax()
	if hi > 0 {
		scale := 255 / hi
		for i := range data {
			data[i] *= scale
		}
	}
	return noisy.Cast(ndarray.Uint8), nil
}
