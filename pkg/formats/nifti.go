package formats

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/gzip"

	"medview/pkg/grid"
	"medview/pkg/ndarray"
)

const (
	niftiHeaderSize = 348
	niftiVoxOffset  = 352
)

// niftiHeader is the on-disk NIfTI-1 header.
type niftiHeader struct {
	SizeofHdr     int32
	DataType      [10]byte
	DBName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XYZTUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

// NIfTI datatype codes.
const (
	niftiUint8   = 2
	niftiInt16   = 4
	niftiInt32   = 8
	niftiFloat32 = 16
	niftiFloat64 = 64
	niftiInt8    = 256
	niftiUint16  = 512
	niftiUint32  = 768
	niftiInt64   = 1024
	niftiUint64  = 1280
)

var niftiElems = map[int16]elemType{
	niftiUint8:   elemU8,
	niftiInt16:   elemI16,
	niftiInt32:   elemI32,
	niftiFloat32: elemF32,
	niftiFloat64: elemF64,
	niftiInt8:    elemI8,
	niftiUint16:  elemU16,
	niftiUint32:  elemU32,
	niftiInt64:   elemI64,
	niftiUint64:  elemU64,
}

func niftiCode(e elemType) int16 {
	for code, et := range niftiElems {
		if et == e {
			return code
		}
	}
	return niftiFloat64
}

type niftiCodec struct{}

// Decode reads a single-file NIfTI-1 volume, gzip-compressed or not. The
// array is shaped with the NIfTI dimensions reversed, so x is the trailing
// axis; scl_slope and scl_inter are applied when set.
func (niftiCodec) Decode(path string) (*Dataset, error) {
	raw, err := readMaybeGzip(path)
	if err != nil {
		return nil, err
	}
	if len(raw) < niftiHeaderSize {
		return nil, fmt.Errorf("file holds %d bytes, header needs %d", len(raw), niftiHeaderSize)
	}

	var (
		hdr   niftiHeader
		order binary.ByteOrder = binary.LittleEndian
	)
	if err := binary.Read(bytes.NewReader(raw), order, &hdr); err != nil {
		return nil, err
	}
	if hdr.SizeofHdr != niftiHeaderSize {
		order = binary.BigEndian
		if err := binary.Read(bytes.NewReader(raw), order, &hdr); err != nil {
			return nil, err
		}
		if hdr.SizeofHdr != niftiHeaderSize {
			return nil, fmt.Errorf("bad sizeof_hdr %d", hdr.SizeofHdr)
		}
	}
	if m := string(hdr.Magic[:3]); m != "n+1" && m != "ni1" {
		return nil, fmt.Errorf("bad magic %q", hdr.Magic[:])
	}

	ndim := int(hdr.Dim[0])
	if ndim < 1 || ndim > 7 {
		return nil, fmt.Errorf("bad dimension count %d", ndim)
	}
	dims := make([]int, ndim)
	count := 1
	for i := range dims {
		d := int(hdr.Dim[i+1])
		if d < 1 {
			return nil, fmt.Errorf("bad dimension %d: %d", i+1, d)
		}
		if d > len(raw)/count {
			return nil, fmt.Errorf("dimensions %v exceed the %d-byte file", hdr.Dim[1:ndim+1], len(raw))
		}
		dims[i] = d
		count *= d
	}

	elem, ok := niftiElems[hdr.Datatype]
	if !ok {
		return nil, fmt.Errorf("unsupported datatype %d", hdr.Datatype)
	}
	off := int(hdr.VoxOffset)
	if off < niftiHeaderSize {
		off = niftiVoxOffset
	}
	if off > len(raw) {
		return nil, fmt.Errorf("vox_offset %d beyond end of file", off)
	}
	values, err := decodeValues(raw[off:], count, elem, order)
	if err != nil {
		return nil, err
	}

	dtype := elem.dtype()
	slope, inter := float64(hdr.SclSlope), float64(hdr.SclInter)
	if slope != 0 && (slope != 1 || inter != 0) {
		for i, v := range values {
			values[i] = v*slope + inter
		}
		dtype = ndarray.Float64
	}

	for len(dims) < 3 {
		dims = append(dims, 1)
	}
	shape := make([]int, len(dims))
	for i, d := range dims {
		shape[len(dims)-1-i] = d
	}
	arr, err := ndarray.FromSlice(dtype, values, shape...)
	if err != nil {
		return nil, err
	}

	g := grid.FromArray(arr)
	for i := 0; i < 3; i++ {
		if s := math.Abs(float64(hdr.Pixdim[i+1])); s > 0 {
			g.Spacing[i] = s
		}
	}
	switch {
	case hdr.QformCode > 0:
		g.Origin = [3]float64{float64(hdr.QoffsetX), float64(hdr.QoffsetY), float64(hdr.QoffsetZ)}
	case hdr.SformCode > 0:
		g.Origin = [3]float64{float64(hdr.SrowX[3]), float64(hdr.SrowY[3]), float64(hdr.SrowZ[3])}
	}
	return &Dataset{Array: arr, Grid: g}, nil
}

func readMaybeGzip(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) < 2 || raw[0] != 0x1f || raw[1] != 0x8b {
		return raw, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// Encode writes the array as NIfTI-1 with the array shape reversed into the
// dimension list. A ".gz" path is gzip-compressed.
func (niftiCodec) Encode(path string, ds *Dataset, _ Options) error {
	a := ds.Array
	shape := a.Shape()
	if len(shape) > 7 {
		return fmt.Errorf("rank %d exceeds the 7 NIfTI dimensions", len(shape))
	}
	for _, s := range shape {
		if s > math.MaxInt16 {
			return fmt.Errorf("dimension %d exceeds %d", s, math.MaxInt16)
		}
	}

	elem := elemFor(a.DType())
	hdr := niftiHeader{
		SizeofHdr: niftiHeaderSize,
		Regular:   'r',
		Datatype:  niftiCode(elem),
		Bitpix:    int16(elem.size() * 8),
		VoxOffset: niftiVoxOffset,
		SclSlope:  1,
		XYZTUnits: 2, // millimetres
		QformCode: 1,
		SformCode: 1,
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	hdr.Dim[0] = int16(len(shape))
	for i := range hdr.Dim[1:] {
		hdr.Dim[i+1] = 1
	}
	for i, s := range shape {
		hdr.Dim[len(shape)-i] = int16(s)
	}

	spacing := [3]float64{1, 1, 1}
	var origin [3]float64
	if g := ds.Grid; g != nil && !g.Kind.IsMesh() {
		if g.Kind == grid.ImageData {
			spacing = g.Spacing
			origin = g.Origin
		} else {
			lo, _ := g.Bounds()
			origin = [3]float64{lo.X, lo.Y, lo.Z}
		}
	}
	hdr.Pixdim[0] = 1
	for i := range hdr.Pixdim[1:] {
		hdr.Pixdim[i+1] = 1
	}
	for i := 0; i < 3; i++ {
		hdr.Pixdim[i+1] = float32(spacing[i])
	}
	hdr.QoffsetX, hdr.QoffsetY, hdr.QoffsetZ = float32(origin[0]), float32(origin[1]), float32(origin[2])
	hdr.SrowX = [4]float32{float32(spacing[0]), 0, 0, float32(origin[0])}
	hdr.SrowY = [4]float32{0, float32(spacing[1]), 0, float32(origin[1])}
	hdr.SrowZ = [4]float32{0, 0, float32(spacing[2]), float32(origin[2])}
	copy(hdr.Descrip[:], "medview")

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		return err
	}
	buf.Write(make([]byte, niftiVoxOffset-niftiHeaderSize))
	buf.Write(encodeValues(a.Data(), elem, binary.LittleEndian))

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(file)
	if Extension(path) == "gz" {
		zw := gzip.NewWriter(w)
		_, err = zw.Write(buf.Bytes())
		if cerr := zw.Close(); err == nil {
			err = cerr
		}
	} else {
		_, err = w.Write(buf.Bytes())
	}
	if err == nil {
		err = w.Flush()
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	return err
}
