package formats

import (
	"encoding/binary"
	"fmt"
	"math"

	"medview/pkg/ndarray"
)

// elemType is an on-disk numeric element encoding.
type elemType uint8

const (
	elemU8 elemType = iota + 1
	elemI8
	elemU16
	elemI16
	elemU32
	elemI32
	elemU64
	elemI64
	elemF32
	elemF64
)

func (e elemType) size() int {
	switch e {
	case elemU8, elemI8:
		return 1
	case elemU16, elemI16:
		return 2
	case elemU32, elemI32, elemF32:
		return 4
	}
	return 8
}

func (e elemType) dtype() ndarray.DType {
	switch e {
	case elemU8:
		return ndarray.Uint8
	case elemI8:
		return ndarray.Int8
	case elemU16:
		return ndarray.Uint16
	case elemI16:
		return ndarray.Int16
	case elemU32:
		return ndarray.Uint32
	case elemI32:
		return ndarray.Int32
	case elemU64, elemI64:
		return ndarray.Int64
	case elemF32:
		return ndarray.Float32
	}
	return ndarray.Float64
}

// elemFor picks the lossless element encoding for a dtype.
func elemFor(d ndarray.DType) elemType {
	switch d {
	case ndarray.Uint8:
		return elemU8
	case ndarray.Int8:
		return elemI8
	case ndarray.Uint16:
		return elemU16
	case ndarray.Int16:
		return elemI16
	case ndarray.Uint32:
		return elemU32
	case ndarray.Int32:
		return elemI32
	case ndarray.Int64:
		return elemI64
	case ndarray.Float32:
		return elemF32
	}
	return elemF64
}

func (e elemType) get(b []byte, order binary.ByteOrder) float64 {
	switch e {
	case elemU8:
		return float64(b[0])
	case elemI8:
		return float64(int8(b[0]))
	case elemU16:
		return float64(order.Uint16(b))
	case elemI16:
		return float64(int16(order.Uint16(b)))
	case elemU32:
		return float64(order.Uint32(b))
	case elemI32:
		return float64(int32(order.Uint32(b)))
	case elemU64:
		return float64(order.Uint64(b))
	case elemI64:
		return float64(int64(order.Uint64(b)))
	case elemF32:
		return float64(math.Float32frombits(order.Uint32(b)))
	}
	return math.Float64frombits(order.Uint64(b))
}

func (e elemType) put(b []byte, v float64, order binary.ByteOrder) {
	if e != elemF32 && e != elemF64 {
		v = math.Round(v)
	}
	switch e {
	case elemU8:
		b[0] = uint8(clamp(v, 0, math.MaxUint8))
	case elemI8:
		b[0] = uint8(int8(clamp(v, math.MinInt8, math.MaxInt8)))
	case elemU16:
		order.PutUint16(b, uint16(clamp(v, 0, math.MaxUint16)))
	case elemI16:
		order.PutUint16(b, uint16(int16(clamp(v, math.MinInt16, math.MaxInt16))))
	case elemU32:
		order.PutUint32(b, uint32(clamp(v, 0, math.MaxUint32)))
	case elemI32:
		order.PutUint32(b, uint32(int32(clamp(v, math.MinInt32, math.MaxInt32))))
	case elemU64:
		order.PutUint64(b, uint64(clamp(v, 0, math.MaxUint64)))
	case elemI64:
		order.PutUint64(b, uint64(int64(clamp(v, math.MinInt64, math.MaxInt64))))
	case elemF32:
		order.PutUint32(b, math.Float32bits(float32(v)))
	default:
		order.PutUint64(b, math.Float64bits(v))
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// decodeValues reads n elements from b.
func decodeValues(b []byte, n int, e elemType, order binary.ByteOrder) ([]float64, error) {
	sz := e.size()
	if n < 0 || n > len(b)/sz {
		return nil, fmt.Errorf("need %d values of %d bytes, have %d bytes", n, sz, len(b))
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = e.get(b[i*sz:], order)
	}
	return out, nil
}

// encodeValues packs vals using e.
func encodeValues(vals []float64, e elemType, order binary.ByteOrder) []byte {
	sz := e.size()
	out := make([]byte, len(vals)*sz)
	for i, v := range vals {
		e.put(out[i*sz:], v, order)
	}
	return out
}
