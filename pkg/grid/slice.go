package grid

import (
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"medview/pkg/errs"
	"medview/pkg/ndarray"
)

// planeEps tolerates rounding when deciding whether a sample lies inside.
const planeEps = 1e-9

func (g *Grid) structured(op string) error {
	if g.Kind.IsMesh() {
		return errs.Unavailable(op, "%s has no voxel lattice", g.Kind)
	}
	if len(g.Scalars) != g.NumPoints() {
		return errs.Invalid(op, "%d scalars for %d points", len(g.Scalars), g.NumPoints())
	}
	return nil
}

func (g *Grid) scalar(x, y, z int) float64 {
	return g.Scalars[(z*g.Dims[1]+y)*g.Dims[0]+x]
}

// ExtractSlice returns the axis-aligned plane at position as a (rows, cols, 1)
// array. An x slice is (y, z) shaped, a y slice (z, x) and a z slice (y, x).
func (g *Grid) ExtractSlice(axis string, position int) (*ndarray.Array, error) {
	const op = "extract slice"
	if err := g.structured(op); err != nil {
		return nil, err
	}
	if position < 0 {
		return nil, errs.Invalid(op, "position must be non-negative")
	}
	nx, ny, nz := g.Dims[0], g.Dims[1], g.Dims[2]
	dtype := g.ScalarType
	if dtype == 0 {
		dtype = ndarray.Float64
	}

	var out *ndarray.Array
	switch strings.ToLower(axis) {
	case "x":
		if position >= nx {
			return nil, errs.Invalid(op, "position %d exceeds width %d", position, nx)
		}
		out = ndarray.New(dtype, ny, nz, 1)
		for y := 0; y < ny; y++ {
			for z := 0; z < nz; z++ {
				out.Set(g.scalar(position, y, z), y, z, 0)
			}
		}
	case "y":
		if position >= ny {
			return nil, errs.Invalid(op, "position %d exceeds height %d", position, ny)
		}
		out = ndarray.New(dtype, nz, nx, 1)
		for z := 0; z < nz; z++ {
			for x := 0; x < nx; x++ {
				out.Set(g.scalar(x, position, z), z, x, 0)
			}
		}
	case "z":
		if position >= nz {
			return nil, errs.Invalid(op, "position %d exceeds depth %d", position, nz)
		}
		out = ndarray.New(dtype, ny, nx, 1)
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				out.Set(g.scalar(x, y, position), y, x, 0)
			}
		}
	default:
		return nil, errs.Invalid(op, "invalid axis: %s (must be x, y, or z)", axis)
	}
	return out, nil
}

// ExtractRegion copies the sub-volume starting at start (x, y, z) with the
// given size into a (z, y, x) array.
func (g *Grid) ExtractRegion(start, size [3]int) (*ndarray.Array, error) {
	const op = "extract region"
	if err := g.structured(op); err != nil {
		return nil, err
	}
	for i := 0; i < 3; i++ {
		if start[i] < 0 {
			return nil, errs.Invalid(op, "start coordinates must be non-negative")
		}
		if size[i] <= 0 {
			return nil, errs.Invalid(op, "size dimensions must be positive")
		}
		if start[i]+size[i] > g.Dims[i] {
			return nil, errs.Invalid(op, "region extends beyond volume boundaries")
		}
	}
	dtype := g.ScalarType
	if dtype == 0 {
		dtype = ndarray.Float64
	}
	region := ndarray.New(dtype, size[2], size[1], size[0])
	for z := 0; z < size[2]; z++ {
		for y := 0; y < size[1]; y++ {
			for x := 0; x < size[0]; x++ {
				region.Set(g.scalar(start[0]+x, start[1]+y, start[2]+z), z, y, x)
			}
		}
	}
	return region, nil
}

// SamplePlane cuts the volume with the plane through origin perpendicular to
// normal. Samples are taken on a square lattice with the finest grid spacing
// and interpolated trilinearly; the result is cropped to the samples that
// fall inside the volume and returned as a (rows, cols, 1) Float64 array.
// Samples inside the crop but outside the volume are zero.
func (g *Grid) SamplePlane(normal, origin r3.Vec) (*ndarray.Array, error) {
	const op = "slice"
	if err := g.structured(op); err != nil {
		return nil, err
	}
	if r3.Norm(normal) == 0 {
		return nil, errs.Invalid(op, "plane normal must be non-zero")
	}
	n := r3.Unit(normal)
	u, v := planeBasis(n)

	lo, hi := g.Bounds()
	step := g.finestStep()
	center := r3.Scale(0.5, r3.Add(lo, hi))
	reach := r3.Norm(r3.Sub(hi, lo))/2 + r3.Norm(r3.Sub(origin, center))
	half := int(math.Ceil(reach / step))
	size := 2*half + 1

	values := make([]float64, size*size)
	inside := make([]bool, size*size)
	minR, maxR, minC, maxC := size, -1, size, -1
	for i := 0; i < size; i++ {
		dv := float64(i-half) * step
		for j := 0; j < size; j++ {
			du := float64(j-half) * step
			p := r3.Add(origin, r3.Add(r3.Scale(du, u), r3.Scale(dv, v)))
			val, ok := g.sample(p)
			if !ok {
				continue
			}
			values[i*size+j] = val
			inside[i*size+j] = true
			minR, maxR = min(minR, i), max(maxR, i)
			minC, maxC = min(minC, j), max(maxC, j)
		}
	}
	if maxR < 0 {
		return nil, errs.Invalid(op, "plane does not intersect the volume")
	}

	rows, cols := maxR-minR+1, maxC-minC+1
	out := ndarray.New(ndarray.Float64, rows, cols, 1)
	data := out.Data()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			k := (minR+i)*size + minC + j
			if inside[k] {
				data[i*cols+j] = values[k]
			}
		}
	}
	return out, nil
}

// planeBasis returns two unit vectors spanning the plane with normal n. For
// axis-aligned normals along z the basis is (x, y).
func planeBasis(n r3.Vec) (u, v r3.Vec) {
	ax, ay, az := math.Abs(n.X), math.Abs(n.Y), math.Abs(n.Z)
	var helper r3.Vec
	switch {
	case az >= ax && az >= ay:
		helper = r3.Vec{Y: 1}
	case ax >= ay:
		helper = r3.Vec{Z: 1}
	default:
		helper = r3.Vec{X: 1}
	}
	u = r3.Unit(r3.Cross(helper, n))
	v = r3.Cross(n, u)
	return u, v
}

func (g *Grid) finestStep() float64 {
	step := math.Inf(1)
	for axis := 0; axis < 3; axis++ {
		if g.Dims[axis] < 2 {
			continue
		}
		var d float64
		if g.Kind == RectilinearGrid {
			c := g.coords(axis)
			d = math.Inf(1)
			for k := 1; k < len(c); k++ {
				d = math.Min(d, math.Abs(c[k]-c[k-1]))
			}
		} else {
			d = math.Abs(g.Spacing[axis])
		}
		if d > 0 && d < step {
			step = d
		}
	}
	if math.IsInf(step, 1) {
		return 1
	}
	return step
}

func (g *Grid) coords(axis int) []float64 {
	switch axis {
	case 0:
		return g.XCoords
	case 1:
		return g.YCoords
	}
	return g.ZCoords
}

// continuousIndex maps a world coordinate along axis to a fractional point
// index. ok is false outside the grid.
func (g *Grid) continuousIndex(axis int, w float64) (float64, bool) {
	n := g.Dims[axis]
	var f float64
	if g.Kind == RectilinearGrid {
		c := g.coords(axis)
		if len(c) == 1 {
			f = w - c[0]
		} else {
			k := sort.SearchFloat64s(c, w)
			switch {
			case k == 0:
				f = (w - c[0]) / (c[1] - c[0])
			case k >= len(c):
				f = float64(len(c)-1) + (w-c[len(c)-1])/(c[len(c)-1]-c[len(c)-2])
			default:
				f = float64(k-1) + (w-c[k-1])/(c[k]-c[k-1])
			}
		}
	} else {
		s := g.Spacing[axis]
		if s == 0 {
			s = 1
		}
		f = (w - g.Origin[axis]) / s
	}
	if f < -planeEps || f > float64(n-1)+planeEps {
		return 0, false
	}
	return math.Min(math.Max(f, 0), float64(n-1)), true
}

func (g *Grid) sample(p r3.Vec) (float64, bool) {
	fx, ok := g.continuousIndex(0, p.X)
	if !ok {
		return 0, false
	}
	fy, ok := g.continuousIndex(1, p.Y)
	if !ok {
		return 0, false
	}
	fz, ok := g.continuousIndex(2, p.Z)
	if !ok {
		return 0, false
	}
	return g.trilinear(fx, fy, fz), true
}

func (g *Grid) trilinear(fx, fy, fz float64) float64 {
	x0, x1, tx := bracket(fx, g.Dims[0])
	y0, y1, ty := bracket(fy, g.Dims[1])
	z0, z1, tz := bracket(fz, g.Dims[2])

	c00 := lerp(g.scalar(x0, y0, z0), g.scalar(x1, y0, z0), tx)
	c10 := lerp(g.scalar(x0, y1, z0), g.scalar(x1, y1, z0), tx)
	c01 := lerp(g.scalar(x0, y0, z1), g.scalar(x1, y0, z1), tx)
	c11 := lerp(g.scalar(x0, y1, z1), g.scalar(x1, y1, z1), tx)
	return lerp(lerp(c00, c10, ty), lerp(c01, c11, ty), tz)
}

func bracket(f float64, n int) (i0, i1 int, t float64) {
	i0 = int(math.Floor(f))
	if i0 >= n-1 {
		return n - 1, n - 1, 0
	}
	return i0, i0 + 1, f - float64(i0)
}

func lerp(a, b, t float64) float64 {
	if t == 0 {
		return a
	}
	return a + (b-a)*t
}
