// Package tone adjusts intensity with power-law (gamma) curves.
package tone

import (
	"math"

	"medview/pkg/errs"
	"medview/pkg/ndarray"
)

const (
	// High brightens mid tones.
	High = 0.5
	// Low darkens mid tones.
	Low = 2.0
)

// Gamma raises every element of a float-normalized copy of a to the power
// gamma and maps the result back into a's intensity range as Float64.
//
// Integer data is normalized by the largest value of its dtype. When that
// leaves [0, 1] (signed data with negative samples), or for float data
// outside [0, 1], the observed minimum and maximum are used instead.
func Gamma(a *ndarray.Array, gamma float64) (*ndarray.Array, error) {
	if !(gamma > 0) || math.IsInf(gamma, 0) {
		return nil, errs.Invalid("gamma", "gamma %v must be positive", gamma)
	}
	lo, hi := normalization(a)
	span := hi - lo
	return a.Map(ndarray.Float64, func(v float64) float64 {
		if span == 0 {
			return v
		}
		return lo + math.Pow((v-lo)/span, gamma)*span
	}), nil
}

// GammaHigh applies Gamma with the High preset.
func GammaHigh(a *ndarray.Array) *ndarray.Array {
	out, err := Gamma(a, High)
	if err != nil {
		panic(err)
	}
	return out
}

// GammaLow applies Gamma with the Low preset.
func GammaLow(a *ndarray.Array) *ndarray.Array {
	out, err := Gamma(a, Low)
	if err != nil {
		panic(err)
	}
	return out
}

// normalization returns the values mapped to 0 and 1.
func normalization(a *ndarray.Array) (lo, hi float64) {
	obsLo, obsHi := a.MinMax()
	if _, top, ok := a.DType().Range(); ok {
		if obsLo >= 0 && obsHi <= top {
			return 0, top
		}
		return obsLo, obsHi
	}
	if obsLo >= 0 && obsHi <= 1 {
		return 0, 1
	}
	return obsLo, obsHi
}
