package manager

import (
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"

	"medview/pkg/errs"
	"medview/pkg/formats"
	"medview/pkg/grid"
	"medview/pkg/stl"
)

// volume returns the grid spatial operations run on: the loaded grid, or one
// derived from the array for grid-less volumes.
func (m *DataManager) volume(op string) (*grid.Grid, error) {
	if err := m.need(op); err != nil {
		return nil, err
	}
	if !m.array.Is3D() {
		return nil, errs.Unavailable(op, "needs volumetric data, have %v", m.array.Shape())
	}
	if m.grid != nil {
		return m.grid, nil
	}
	return grid.FromArray(m.array), nil
}

// Slice cuts the volume with the plane through origin perpendicular to
// normal and returns the interpolated plane as 2D data.
func (m *DataManager) Slice(normal, origin r3.Vec) (*DataManager, error) {
	g, err := m.volume("slice")
	if err != nil {
		return nil, err
	}
	a, err := g.SamplePlane(normal, origin)
	if err != nil {
		return nil, err
	}
	return New(a), nil
}

// SliceAxis returns the axis-aligned slice at voxel index position along
// axis "x", "y" or "z".
func (m *DataManager) SliceAxis(axis string, position int) (*DataManager, error) {
	g, err := m.volume("slice")
	if err != nil {
		return nil, err
	}
	a, err := g.ExtractSlice(axis, position)
	if err != nil {
		return nil, err
	}
	return New(a), nil
}

// Surface is a mesh produced from a volume together with its display
// opacity.
type Surface struct {
	Mesh    *grid.Grid
	Opacity float64
}

// Write encodes the mesh with a grid-capable encoder.
func (s *Surface) Write(path string, opts ...formats.Option) error {
	a, err := s.Mesh.Array()
	if err != nil {
		return errs.Encode("write", path, err)
	}
	return formats.Encode(path, &formats.Dataset{Kind: formats.HasGrid, Array: a, Grid: s.Mesh}, opts...)
}

// Outline returns the bounding box of the volume as line cells.
func (m *DataManager) Outline() (*Surface, error) {
	g, err := m.volume("outline")
	if err != nil {
		return nil, err
	}
	return &Surface{Mesh: g.Outline(), Opacity: 1}, nil
}

// IsoSurfaceParams selects the contour values and display opacity of an
// iso-surface.
type IsoSurfaceParams struct {
	Start   float64
	Stop    float64
	Num     int
	Opacity float64
}

// Validate checks the parameter domain.
func (p IsoSurfaceParams) Validate() error {
	const op = "iso-surface"
	for _, v := range []float64{p.Start, p.Stop, p.Opacity} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errs.Invalid(op, "parameters must be finite")
		}
	}
	if p.Start > p.Stop {
		return errs.Invalid(op, "start %g exceeds stop %g", p.Start, p.Stop)
	}
	if p.Num < 1 {
		return errs.Invalid(op, "need at least one contour, got %d", p.Num)
	}
	if p.Opacity < 0 || p.Opacity > 1 {
		return errs.Invalid(op, "opacity %g outside [0, 1]", p.Opacity)
	}
	return nil
}

// Values returns Num evenly spaced contour values from Start to Stop. A
// single contour sits at Start.
func (p IsoSurfaceParams) Values() []float64 {
	if p.Num == 1 {
		return []float64{p.Start}
	}
	return floats.Span(make([]float64, p.Num), p.Start, p.Stop)
}

// IsoSurface contours the volume at p.Values() and merges the surfaces.
func (m *DataManager) IsoSurface(p IsoSurfaceParams) (*Surface, error) {
	const op = "iso-surface"
	if err := p.Validate(); err != nil {
		return nil, err
	}
	g, err := m.volume(op)
	if err != nil {
		return nil, err
	}
	if g.Kind.IsMesh() {
		return nil, errs.Unavailable(op, "%s has no voxel lattice", g.Kind)
	}
	mesh, err := stl.IsoSurface(g, p.Values())
	if err != nil {
		return nil, errs.Invalid(op, "%v", err)
	}
	return &Surface{Mesh: mesh, Opacity: p.Opacity}, nil
}

// ParseIsoSurfaceParams converts text input into validated parameters.
func ParseIsoSurfaceParams(start, stop, num, opacity string) (IsoSurfaceParams, error) {
	const op = "iso-surface"
	var p IsoSurfaceParams
	var err error
	if p.Start, err = parseFloat(op, "start", start); err != nil {
		return p, err
	}
	if p.Stop, err = parseFloat(op, "stop", stop); err != nil {
		return p, err
	}
	if p.Num, err = strconv.Atoi(strings.TrimSpace(num)); err != nil {
		return p, errs.Invalid(op, "number of contours %q is not an integer", num)
	}
	if p.Opacity, err = parseFloat(op, "opacity", opacity); err != nil {
		return p, err
	}
	return p, p.Validate()
}

// ParseSlicePlane parses "x,y,z" triples for a slice plane normal and
// origin. The normal must be non-zero.
func ParseSlicePlane(normal, origin string) (n, o r3.Vec, err error) {
	const op = "slice"
	if n, err = parseVec(op, "normal", normal); err != nil {
		return n, o, err
	}
	if o, err = parseVec(op, "origin", origin); err != nil {
		return n, o, err
	}
	if r3.Norm(n) == 0 {
		return n, o, errs.Invalid(op, "plane normal must be non-zero")
	}
	return n, o, nil
}

func parseFloat(op, name, s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errs.Invalid(op, "%s %q is not a finite number", name, s)
	}
	return v, nil
}

func parseVec(op, name, s string) (r3.Vec, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return r3.Vec{}, errs.Invalid(op, "%s %q needs three comma-separated values", name, s)
	}
	var c [3]float64
	for i, part := range parts {
		v, err := parseFloat(op, name, part)
		if err != nil {
			return r3.Vec{}, err
		}
		c[i] = v
	}
	return r3.Vec{X: c[0], Y: c[1], Z: c[2]}, nil
}
