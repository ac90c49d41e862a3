package formats

import (
	"bufio"
	"fmt"
	"math"
	"os"

	"medview/pkg/grid"
	"medview/pkg/ndarray"
)

const slcMagic = 11111

type slcCodec struct{}

// Decode reads an 8-bit SLC volume. Planes are stored z-major with x
// varying fastest and may be run-length encoded. Voxels equal to 255 are
// reset to 0.
func (slcCodec) Decode(path string) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	tr := newTokenReader(file)

	magic, err := tr.Int()
	if err != nil {
		return nil, fmt.Errorf("magic: %w", err)
	}
	if magic != slcMagic {
		return nil, fmt.Errorf("bad magic %d", magic)
	}

	var hdr [4]int
	for i := range hdr {
		if hdr[i], err = tr.Int(); err != nil {
			return nil, fmt.Errorf("header: %w", err)
		}
	}
	nx, ny, nz, bits := hdr[0], hdr[1], hdr[2], hdr[3]
	if nx < 1 || ny < 1 || nz < 1 {
		return nil, fmt.Errorf("bad dimensions %dx%dx%d", nx, ny, nz)
	}
	if bits != 8 {
		return nil, fmt.Errorf("unsupported %d bits per voxel", bits)
	}
	spacing, err := tr.Floats(3)
	if err != nil {
		return nil, fmt.Errorf("spacing: %w", err)
	}
	var tail [4]int // unit, origin, modality, compression
	for i := range tail {
		if tail[i], err = tr.Int(); err != nil {
			return nil, fmt.Errorf("header: %w", err)
		}
	}
	compression := tail[3]
	if compression != 0 && compression != 1 {
		return nil, fmt.Errorf("unsupported compression %d", compression)
	}

	iconW, err := tr.Int()
	if err != nil {
		return nil, fmt.Errorf("icon: %w", err)
	}
	iconH, err := tr.Int()
	if err != nil {
		return nil, fmt.Errorf("icon: %w", err)
	}
	if err := tr.SkipPast('X'); err != nil {
		return nil, fmt.Errorf("icon marker: %w", err)
	}
	if _, err := tr.Bytes(3 * iconW * iconH); err != nil {
		return nil, fmt.Errorf("icon data: %w", err)
	}

	plane := nx * ny
	arr := ndarray.New(ndarray.Uint8, nz, ny, nx)
	data := arr.Data()
	for z := 0; z < nz; z++ {
		var raw []byte
		if compression == 1 {
			size, err := tr.Int()
			if err != nil {
				return nil, fmt.Errorf("plane %d size: %w", z, err)
			}
			if err := tr.SkipPast('X'); err != nil {
				return nil, fmt.Errorf("plane %d marker: %w", z, err)
			}
			packed, err := tr.Bytes(size)
			if err != nil {
				return nil, fmt.Errorf("plane %d: %w", z, err)
			}
			if raw, err = decodeSLCRuns(packed, plane); err != nil {
				return nil, fmt.Errorf("plane %d: %w", z, err)
			}
		} else if raw, err = tr.Bytes(plane); err != nil {
			return nil, fmt.Errorf("plane %d: %w", z, err)
		}
		for i, v := range raw {
			if v == 255 {
				v = 0
			}
			data[z*plane+i] = float64(v)
		}
	}

	g := grid.FromArray(arr)
	for i, s := range spacing {
		if s > 0 {
			g.Spacing[i] = s
		}
	}
	return &Dataset{Array: arr, Grid: g}, nil
}

// decodeSLCRuns expands one run-length encoded plane. Each control byte
// holds a count in its low seven bits; with the high bit set the next count
// bytes are literal, otherwise the next byte repeats count times. A zero
// count ends the plane.
func decodeSLCRuns(packed []byte, size int) ([]byte, error) {
	out := make([]byte, 0, size)
	for i := 0; i < len(packed) && len(out) < size; {
		ctrl := packed[i]
		i++
		count := int(ctrl & 0x7f)
		if count == 0 {
			break
		}
		if ctrl&0x80 != 0 {
			if i+count > len(packed) {
				return nil, fmt.Errorf("literal run overruns input")
			}
			out = append(out, packed[i:i+count]...)
			i += count
		} else {
			if i >= len(packed) {
				return nil, fmt.Errorf("repeat run overruns input")
			}
			for k := 0; k < count; k++ {
				out = append(out, packed[i])
			}
			i++
		}
	}
	if len(out) != size {
		return nil, fmt.Errorf("plane decodes to %d bytes, want %d", len(out), size)
	}
	return out, nil
}

// encodeSLCRuns is the inverse of decodeSLCRuns.
func encodeSLCRuns(plane []byte) []byte {
	var out []byte
	for i := 0; i < len(plane); {
		run := 1
		for i+run < len(plane) && run < 0x7f && plane[i+run] == plane[i] {
			run++
		}
		if run > 1 {
			out = append(out, byte(run), plane[i])
			i += run
			continue
		}
		start := i
		for i < len(plane) && i-start < 0x7f {
			if i+1 < len(plane) && plane[i+1] == plane[i] {
				break
			}
			i++
		}
		if i == start {
			i++
		}
		out = append(out, 0x80|byte(i-start))
		out = append(out, plane[start:i]...)
	}
	return append(out, 0)
}

// Encode writes image data or a rectilinear grid as an 8-bit SLC volume
// with run-length encoded planes and an empty icon. Values are clamped to
// [0, 254] since 255 reads back as 0.
func (slcCodec) Encode(path string, ds *Dataset, _ Options) error {
	g := ds.Grid
	if g == nil || g.Kind.IsMesh() {
		return fmt.Errorf("slc needs a structured grid")
	}
	nx, ny, nz := g.Dims[0], g.Dims[1], g.Dims[2]
	if ds.Array.Len() != nx*ny*nz {
		return fmt.Errorf("array holds %d values for %dx%dx%d grid", ds.Array.Len(), nx, ny, nz)
	}
	spacing := g.Spacing
	if g.Kind == grid.RectilinearGrid {
		lo, hi := g.Bounds()
		ext := [3]float64{hi.X - lo.X, hi.Y - lo.Y, hi.Z - lo.Z}
		for i := 0; i < 3; i++ {
			spacing[i] = 1
			if g.Dims[i] > 1 && ext[i] > 0 {
				spacing[i] = ext[i] / float64(g.Dims[i]-1)
			}
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(file)
	fmt.Fprintf(w, "%d\n%d %d %d 8\n%g %g %g\n0 0 0 1\n0 0 X", slcMagic, nx, ny, nz, spacing[0], spacing[1], spacing[2])

	data := ds.Array.Data()
	plane := make([]byte, nx*ny)
	for z := 0; z < nz; z++ {
		for i := range plane {
			plane[i] = uint8(clamp(math.Round(data[z*nx*ny+i]), 0, 254))
		}
		packed := encodeSLCRuns(plane)
		fmt.Fprintf(w, "%d X", len(packed))
		w.Write(packed)
	}
	err = w.Flush()
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	return err
}
