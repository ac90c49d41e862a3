// Package ndarray provides the canonical N-dimensional array shared by the
// format adapters and the processing operations.
//
// Elements are stored as float64 in row-major order; the nominal element type
// (DType) records the source-format type so that encoders and integer casts
// know the legal value range. The trailing axis is the channel axis: a
// dataset is classified 3D when that axis is neither 1 nor 3 long.
package ndarray

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/zeebo/blake3"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DType is the nominal element type of an Array.
type DType uint8

const (
	Uint8 DType = iota + 1
	Int8
	Uint16
	Int16
	Uint32
	Int32
	Int64
	Float32
	Float64
)

var dtypeNames = map[DType]string{
	Uint8:   "uint8",
	Int8:    "int8",
	Uint16:  "uint16",
	Int16:   "int16",
	Uint32:  "uint32",
	Int32:   "int32",
	Int64:   "int64",
	Float32: "float32",
	Float64: "float64",
}

func (d DType) String() string {
	if s, ok := dtypeNames[d]; ok {
		return s
	}
	return fmt.Sprintf("dtype(%d)", uint8(d))
}

// IsInteger reports whether d is an integer type.
func (d DType) IsInteger() bool {
	return d != Float32 && d != Float64
}

// Range returns the representable range of an integer type. ok is false for
// floating point types.
func (d DType) Range() (lo, hi float64, ok bool) {
	switch d {
	case Uint8:
		return 0, math.MaxUint8, true
	case Int8:
		return math.MinInt8, math.MaxInt8, true
	case Uint16:
		return 0, math.MaxUint16, true
	case Int16:
		return math.MinInt16, math.MaxInt16, true
	case Uint32:
		return 0, math.MaxUint32, true
	case Int32:
		return math.MinInt32, math.MaxInt32, true
	case Int64:
		return math.MinInt64, math.MaxInt64, true
	}
	return 0, 0, false
}

// Array is a dense N-D array with an explicit shape.
type Array struct {
	shape   []int
	strides []int
	data    []float64
	dtype   DType
}

// Size returns the element count of shape. It fails on a negative dimension
// or when the count does not fit in an int.
func Size(shape []int) (int, error) {
	n := 1
	for _, s := range shape {
		if s < 0 {
			return 0, fmt.Errorf("negative dimension %d", s)
		}
		if s != 0 && n > math.MaxInt/s {
			return 0, fmt.Errorf("shape %v overflows the element count", shape)
		}
		n *= s
	}
	return n, nil
}

// New returns a zero-filled array. It panics on a negative dimension or an
// element count that overflows.
func New(dtype DType, shape ...int) *Array {
	n, err := Size(shape)
	if err != nil {
		panic("ndarray: " + err.Error())
	}
	sh := append([]int(nil), shape...)
	return &Array{shape: sh, strides: Strides(sh), data: make([]float64, n), dtype: dtype}
}

// FromSlice copies data into a new array with the given shape.
func FromSlice(dtype DType, data []float64, shape ...int) (*Array, error) {
	n, err := Size(shape)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("shape %v needs %d elements, got %d", shape, n, len(data))
	}
	a := New(dtype, shape...)
	copy(a.data, data)
	return a, nil
}

// Strides returns the row-major element strides of shape.
func Strides(shape []int) []int {
	st := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		st[i] = acc
		acc *= shape[i]
	}
	return st
}

// Shape returns a copy of the array shape.
func (a *Array) Shape() []int { return append([]int(nil), a.shape...) }

// Dim returns the size of axis i.
func (a *Array) Dim(i int) int { return a.shape[i] }

// Rank returns the number of axes.
func (a *Array) Rank() int { return len(a.shape) }

// Len returns the number of elements.
func (a *Array) Len() int { return len(a.data) }

// DType returns the nominal element type.
func (a *Array) DType() DType { return a.dtype }

// Strides returns a copy of the element strides.
func (a *Array) Strides() []int { return append([]int(nil), a.strides...) }

// Data returns the backing slice. Callers must treat it as read-only unless
// they own the array.
func (a *Array) Data() []float64 { return a.data }

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	c := New(a.dtype, a.shape...)
	copy(c.data, a.data)
	return c
}

// Index returns the flat offset of a multi-index.
func (a *Array) Index(idx ...int) int {
	if len(idx) != len(a.shape) {
		panic(fmt.Sprintf("ndarray: index rank %d, array rank %d", len(idx), len(a.shape)))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= a.shape[i] {
			panic(fmt.Sprintf("ndarray: index %d out of range for axis %d of size %d", v, i, a.shape[i]))
		}
		off += v * a.strides[i]
	}
	return off
}

// At returns the element at idx.
func (a *Array) At(idx ...int) float64 { return a.data[a.Index(idx...)] }

// Set stores v at idx.
func (a *Array) Set(v float64, idx ...int) { a.data[a.Index(idx...)] = v }

// Channels returns the size of the trailing (channel) axis, or 0 for a
// rank-0 array.
func (a *Array) Channels() int {
	if len(a.shape) == 0 {
		return 0
	}
	return a.shape[len(a.shape)-1]
}

// Is3D applies the classification rule: an array is volumetric when its
// trailing axis is neither 1 (grayscale) nor 3 (RGB) long.
func (a *Array) Is3D() bool {
	c := a.Channels()
	return c != 1 && c != 3
}

// SpatialAxes returns the axes that carry spatial extent. For 2D data the
// trailing channel axis is excluded; volumetric data treats every axis as
// spatial.
func (a *Array) SpatialAxes() []int {
	n := len(a.shape)
	if !a.Is3D() && n > 0 {
		n--
	}
	axes := make([]int, n)
	for i := range axes {
		axes[i] = i
	}
	return axes
}

// AllAxes returns 0..rank-1.
func (a *Array) AllAxes() []int {
	axes := make([]int, len(a.shape))
	for i := range axes {
		axes[i] = i
	}
	return axes
}

// WithChannelAxis returns a copy of a with a trailing unit axis appended when
// a is rank 2, and a plain copy otherwise.
func (a *Array) WithChannelAxis() *Array {
	c := a.Clone()
	if len(c.shape) == 2 {
		c.shape = append(c.shape, 1)
		c.strides = Strides(c.shape)
	}
	return c
}

// SqueezeChannel drops a trailing unit axis. ok is false, and a copy of a is
// returned unchanged, when the trailing axis is not 1 long.
func (a *Array) SqueezeChannel() (squeezed *Array, ok bool) {
	c := a.Clone()
	if len(c.shape) < 2 || c.shape[len(c.shape)-1] != 1 {
		return c, false
	}
	c.shape = c.shape[:len(c.shape)-1]
	c.strides = Strides(c.shape)
	return c, true
}

// Reshape returns a copy with a new shape holding the same number of
// elements.
func (a *Array) Reshape(shape ...int) (*Array, error) {
	return FromSlice(a.dtype, a.data, shape...)
}

// Map applies f to every element and returns a new array of type dtype.
// Integer results are clamped and rounded.
func (a *Array) Map(dtype DType, f func(float64) float64) *Array {
	out := New(dtype, a.shape...)
	lo, hi, isInt := dtype.Range()
	for i, v := range a.data {
		r := f(v)
		if isInt {
			r = clampRound(r, lo, hi)
		}
		out.data[i] = r
	}
	return out
}

// Cast converts to dtype, clamping and rounding for integer targets.
func (a *Array) Cast(dtype DType) *Array {
	return a.Map(dtype, func(v float64) float64 { return v })
}

func clampRound(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	v = math.Round(v)
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// MinMax returns the smallest and largest element. Both are 0 for an empty
// array.
func (a *Array) MinMax() (lo, hi float64) {
	if len(a.data) == 0 {
		return 0, 0
	}
	return floats.Min(a.data), floats.Max(a.data)
}

// Mean returns the arithmetic mean of all elements.
func (a *Array) Mean() float64 {
	if len(a.data) == 0 {
		return 0
	}
	return stat.Mean(a.data, nil)
}

// SameShape reports whether a and b have identical shapes.
func (a *Array) SameShape(b *Array) bool {
	if len(a.shape) != len(b.shape) {
		return false
	}
	for i := range a.shape {
		if a.shape[i] != b.shape[i] {
			return false
		}
	}
	return true
}

// Equal reports whether a and b have the same shape and elements. The dtype
// is not compared.
func (a *Array) Equal(b *Array) bool {
	return a.SameShape(b) && floats.Equal(a.data, b.data)
}

// RMSE returns the root mean square error between two arrays of the same
// shape.
func RMSE(a, b *Array) (float64, error) {
	if !a.SameShape(b) {
		return 0, fmt.Errorf("shape mismatch %v vs %v", a.shape, b.shape)
	}
	if len(a.data) == 0 {
		return 0, nil
	}
	var sum float64
	for i := range a.data {
		d := a.data[i] - b.data[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(a.data))), nil
}

// Digest returns the hex BLAKE3 digest of the shape, dtype and elements.
func (a *Array) Digest() string {
	h := blake3.New()
	var buf [8]byte
	buf[0] = byte(a.dtype)
	h.Write(buf[:1])
	for _, s := range a.shape {
		binary.LittleEndian.PutUint64(buf[:], uint64(s))
		h.Write(buf[:])
	}
	for _, v := range a.data {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (a *Array) String() string {
	return fmt.Sprintf("ndarray(%v, %s)", a.shape, a.dtype)
}
