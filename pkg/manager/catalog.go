package manager

import (
	"math/rand/v2"
	"slices"

	"medview/pkg/edge"
	"medview/pkg/errs"
	"medview/pkg/filter"
	"medview/pkg/frequency"
	"medview/pkg/ndarray"
	"medview/pkg/noise"
	"medview/pkg/tone"
)

// gaussianTruncate is the Gaussian kernel radius in standard deviations.
const gaussianTruncate = 4

// Defaults are the catalog parameters used when an operation is invoked by
// name.
type Defaults struct {
	AverageSize   int
	UniformSize   int
	GaussianSigma float64
	MedianSize    int
	RankSize      int
	SNR           float64
	NoiseStdDev   float64
	GammaHigh     float64
	GammaLow      float64
}

// DefaultSettings returns the stock catalog parameters.
func DefaultSettings() Defaults {
	return Defaults{
		AverageSize:   3,
		UniformSize:   20,
		GaussianSigma: 5,
		MedianSize:    3,
		RankSize:      20,
		SNR:           0.9,
		NoiseStdDev:   noise.DefaultStdDev,
		GammaHigh:     tone.High,
		GammaLow:      tone.Low,
	}
}

// must panics when the manager is empty. Operations on an empty manager are
// programming errors; Catalog entries check first and return an error.
func (m *DataManager) must() *ndarray.Array {
	if m.array == nil {
		panic("manager: operation on a manager with no data")
	}
	return m.array
}

// AverageBlur replaces each element by its neighbourhood mean. 2D data is
// blurred with a size x size box over the spatial axes of every channel;
// volumes with a size-wide uniform window over every axis.
func (m *DataManager) AverageBlur(size int) (*DataManager, error) {
	a := m.must()
	var (
		out *ndarray.Array
		err error
	)
	if a.Is3D() {
		out, err = filter.Uniform(a, size, a.AllAxes(), filter.Reflect)
	} else {
		out, err = filter.Box(a, size)
	}
	if err != nil {
		return nil, err
	}
	return New(out), nil
}

// GaussianBlur smooths every axis with a Gaussian of standard deviation
// sigma truncated at four sigma.
func (m *DataManager) GaussianBlur(sigma float64) (*DataManager, error) {
	a := m.must()
	out, err := filter.Gaussian(a, sigma, gaussianTruncate, a.AllAxes(), filter.Reflect)
	if err != nil {
		return nil, err
	}
	return New(out), nil
}

// MedianFilter replaces each element by the median of its size-wide window
// over every axis.
func (m *DataManager) MedianFilter(size int) (*DataManager, error) {
	out, err := filter.Median(m.must(), size, filter.Reflect)
	if err != nil {
		return nil, err
	}
	return New(out), nil
}

// MaximumFilter replaces each element by the maximum of its window.
func (m *DataManager) MaximumFilter(size int) (*DataManager, error) {
	a := m.must()
	out, err := filter.Maximum(a, size, a.AllAxes(), filter.Reflect)
	if err != nil {
		return nil, err
	}
	return New(out), nil
}

// MinimumFilter replaces each element by the minimum of its window.
func (m *DataManager) MinimumFilter(size int) (*DataManager, error) {
	a := m.must()
	out, err := filter.Minimum(a, size, a.AllAxes(), filter.Reflect)
	if err != nil {
		return nil, err
	}
	return New(out), nil
}

// FFT returns the rescaled Fourier magnitude as Uint8.
func (m *DataManager) FFT() *DataManager { return New(frequency.Magnitude(m.must())) }

// FFTShift moves the zero-frequency term to the centre.
func (m *DataManager) FFTShift() *DataManager { return New(frequency.Shift(m.must())) }

// InverseFFTShift undoes FFTShift.
func (m *DataManager) InverseFFTShift() *DataManager {
	return New(frequency.InverseShift(m.must()))
}

// GammaHigh brightens mid tones.
func (m *DataManager) GammaHigh() *DataManager { return New(tone.GammaHigh(m.must())) }

// GammaLow darkens mid tones.
func (m *DataManager) GammaLow() *DataManager { return New(tone.GammaLow(m.must())) }

// Gamma applies an arbitrary gamma.
func (m *DataManager) Gamma(gamma float64) (*DataManager, error) {
	out, err := tone.Gamma(m.must(), gamma)
	if err != nil {
		return nil, err
	}
	return New(out), nil
}

// SaltAndPepperNoise sets round((1-snr) * locations) random locations to the
// minimum or maximum intensity.
func (m *DataManager) SaltAndPepperNoise(snr float64, rng *rand.Rand) (*DataManager, error) {
	out, err := noise.SaltAndPepper(m.must(), snr, rng)
	if err != nil {
		return nil, err
	}
	return New(out), nil
}

// GaussianNoise adds zero-mean Gaussian noise and rescales to Uint8.
func (m *DataManager) GaussianNoise(std float64, rng *rand.Rand) (*DataManager, error) {
	out, err := noise.Gaussian(m.must(), std, rng)
	if err != nil {
		return nil, err
	}
	return New(out), nil
}

// Sobel returns the Sobel gradient magnitude.
func (m *DataManager) Sobel() *DataManager { return New(edge.Sobel(m.must())) }

// Prewitt returns the Prewitt gradient magnitude.
func (m *DataManager) Prewitt() *DataManager { return New(edge.Prewitt(m.must())) }

// Laplace returns the discrete Laplacian.
func (m *DataManager) Laplace() *DataManager { return New(edge.Laplace(m.must())) }

// Contour outlines intensity changes on 8-bit planes.
func (m *DataManager) Contour() *DataManager { return New(edge.Contour(m.must())) }

// Emboss applies the relief kernel on 8-bit planes.
func (m *DataManager) Emboss() *DataManager { return New(edge.Emboss(m.must())) }

// Sharpen applies the sharpening kernel three times on 8-bit planes.
func (m *DataManager) Sharpen() *DataManager { return New(edge.Sharpen(m.must())) }

// Operation is a catalog entry bound to its parameters.
type Operation func(m *DataManager) (*DataManager, error)

func plain(f func(*DataManager) *DataManager) Operation {
	return func(m *DataManager) (*DataManager, error) { return f(m), nil }
}

// Catalog returns every processing operation by name, bound to d. Noise
// operations draw from rng.
func Catalog(d Defaults, rng *rand.Rand) map[string]Operation {
	ops := map[string]Operation{
		"average_blur": func(m *DataManager) (*DataManager, error) {
			if m.Is3D() {
				return m.AverageBlur(d.UniformSize)
			}
			return m.AverageBlur(d.AverageSize)
		},
		"gaussian_blur":   func(m *DataManager) (*DataManager, error) { return m.GaussianBlur(d.GaussianSigma) },
		"median_filter":   func(m *DataManager) (*DataManager, error) { return m.MedianFilter(d.MedianSize) },
		"maximum_filter":  func(m *DataManager) (*DataManager, error) { return m.MaximumFilter(d.RankSize) },
		"minimum_filter":  func(m *DataManager) (*DataManager, error) { return m.MinimumFilter(d.RankSize) },
		"fft":             plain((*DataManager).FFT),
		"fft_shift":       plain((*DataManager).FFTShift),
		"ifft_shift":      plain((*DataManager).InverseFFTShift),
		"gamma_high":      func(m *DataManager) (*DataManager, error) { return m.Gamma(d.GammaHigh) },
		"gamma_low":       func(m *DataManager) (*DataManager, error) { return m.Gamma(d.GammaLow) },
		"salt_and_pepper": func(m *DataManager) (*DataManager, error) { return m.SaltAndPepperNoise(d.SNR, rng) },
		"gaussian_noise":  func(m *DataManager) (*DataManager, error) { return m.GaussianNoise(d.NoiseStdDev, rng) },
		"sobel":           plain((*DataManager).Sobel),
		"prewitt":         plain((*DataManager).Prewitt),
		"laplace":         plain((*DataManager).Laplace),
		"contour":         plain((*DataManager).Contour),
		"emboss":          plain((*DataManager).Emboss),
		"sharpen":         plain((*DataManager).Sharpen),
	}
	for name, op := range ops {
		ops[name] = guarded(name, op)
	}
	return ops
}

func guarded(name string, op Operation) Operation {
	return func(m *DataManager) (*DataManager, error) {
		if err := m.need(name); err != nil {
			return nil, err
		}
		return op(m)
	}
}

// OperationNames lists the catalog in sorted order.
func OperationNames() []string {
	ops := Catalog(DefaultSettings(), nil)
	names := make([]string, 0, len(ops))
	for name := range ops {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Apply runs the named operations in order, each on the previous result.
func Apply(m *DataManager, ops map[string]Operation, names ...string) (*DataManager, error) {
	cur := m
	for _, name := range names {
		op, ok := ops[name]
		if !ok {
			return nil, errs.Invalid("apply", "unknown operation %q", name)
		}
		next, err := op(cur)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}
