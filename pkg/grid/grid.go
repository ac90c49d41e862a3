// Package grid models the structured geometry that accompanies volumetric
// data: uniform image data, rectilinear grids and point/cell meshes, each
// carrying one point scalar field.
package grid

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"medview/pkg/ndarray"
)

// Kind discriminates the grid variants.
type Kind uint8

const (
	ImageData Kind = iota + 1
	RectilinearGrid
	PolyData
	UnstructuredGrid
)

func (k Kind) String() string {
	switch k {
	case ImageData:
		return "ImageData"
	case RectilinearGrid:
		return "RectilinearGrid"
	case PolyData:
		return "PolyData"
	case UnstructuredGrid:
		return "UnstructuredGrid"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// IsMesh reports whether the kind stores explicit points and cells.
func (k Kind) IsMesh() bool { return k == PolyData || k == UnstructuredGrid }

// CellType uses the VTK cell type codes.
type CellType uint8

const (
	Vertex     CellType = 1
	PolyVertex CellType = 2
	Line       CellType = 3
	PolyLine   CellType = 4
	Triangle   CellType = 5
	TriStrip   CellType = 6
	Polygon    CellType = 7
	Pixel      CellType = 8
	Quad       CellType = 9
	Tetra      CellType = 10
	Voxel      CellType = 11
	Hexahedron CellType = 12
	Wedge      CellType = 13
	Pyramid    CellType = 14
)

// Cell is a single mesh cell referencing point indices.
type Cell struct {
	Type   CellType
	Points []int
}

// Grid is the geometry of a 3D dataset.
//
// Dims holds point counts with x varying fastest. Image data places point
// (i,j,k) at Origin + (i,j,k)*Spacing; rectilinear grids read the
// coordinates from XCoords, YCoords and ZCoords; meshes list Points
// explicitly and have Dims (len(Points), 1, 1).
type Grid struct {
	Kind    Kind
	Dims    [3]int
	Spacing [3]float64
	Origin  [3]float64

	XCoords, YCoords, ZCoords []float64

	Points []r3.Vec
	Cells  []Cell

	ScalarName string
	ScalarType ndarray.DType
	Scalars    []float64
}

// DefaultScalarName names scalar fields created without a source name.
const DefaultScalarName = "scalars"

// FromArray derives image data from a volume. The last array axis maps to
// x, the one before to y and the remaining axes are folded into z. The array
// values become the point scalars.
func FromArray(a *ndarray.Array) *Grid {
	shape := a.Shape()
	dims := [3]int{1, 1, 1}
	switch n := len(shape); {
	case n >= 3:
		dims[0], dims[1] = shape[n-1], shape[n-2]
		z := 1
		for _, s := range shape[:n-2] {
			z *= s
		}
		dims[2] = z
	case n == 2:
		dims[0], dims[1] = shape[1], shape[0]
	case n == 1:
		dims[0] = shape[0]
	}
	return &Grid{
		Kind:       ImageData,
		Dims:       dims,
		Spacing:    [3]float64{1, 1, 1},
		ScalarName: DefaultScalarName,
		ScalarType: a.DType(),
		Scalars:    append([]float64(nil), a.Data()...),
	}
}

// NewImageData returns uniform image data with unit spacing and zero scalars.
func NewImageData(nx, ny, nz int) *Grid {
	return &Grid{
		Kind:       ImageData,
		Dims:       [3]int{nx, ny, nz},
		Spacing:    [3]float64{1, 1, 1},
		ScalarName: DefaultScalarName,
		ScalarType: ndarray.Float64,
		Scalars:    make([]float64, nx*ny*nz),
	}
}

// NewMesh returns a PolyData or UnstructuredGrid over points. When scalars is
// nil the point elevation (z) is used.
func NewMesh(kind Kind, points []r3.Vec, cells []Cell, scalars []float64) *Grid {
	g := &Grid{
		Kind:       kind,
		Dims:       [3]int{len(points), 1, 1},
		Spacing:    [3]float64{1, 1, 1},
		Points:     points,
		Cells:      cells,
		ScalarName: DefaultScalarName,
		ScalarType: ndarray.Float64,
		Scalars:    scalars,
	}
	if scalars == nil {
		g.ScalarName = "Elevation"
		g.Scalars = make([]float64, len(points))
		for i, p := range points {
			g.Scalars[i] = p.Z
		}
	}
	return g
}

// NumPoints returns the number of grid points.
func (g *Grid) NumPoints() int {
	if g.Kind.IsMesh() {
		return len(g.Points)
	}
	return g.Dims[0] * g.Dims[1] * g.Dims[2]
}

// Point returns the world position of point i.
func (g *Grid) Point(i int) r3.Vec {
	switch g.Kind {
	case PolyData, UnstructuredGrid:
		return g.Points[i]
	}
	x := i % g.Dims[0]
	y := (i / g.Dims[0]) % g.Dims[1]
	z := i / (g.Dims[0] * g.Dims[1])
	return g.pointAt(x, y, z)
}

func (g *Grid) pointAt(x, y, z int) r3.Vec {
	if g.Kind == RectilinearGrid {
		return r3.Vec{X: coord(g.XCoords, x), Y: coord(g.YCoords, y), Z: coord(g.ZCoords, z)}
	}
	return r3.Vec{
		X: g.Origin[0] + float64(x)*g.Spacing[0],
		Y: g.Origin[1] + float64(y)*g.Spacing[1],
		Z: g.Origin[2] + float64(z)*g.Spacing[2],
	}
}

func coord(c []float64, i int) float64 {
	if i < len(c) {
		return c[i]
	}
	return float64(i)
}

// Bounds returns the axis-aligned bounding box of the grid points.
func (g *Grid) Bounds() (lo, hi r3.Vec) {
	if g.Kind.IsMesh() {
		if len(g.Points) == 0 {
			return r3.Vec{}, r3.Vec{}
		}
		lo, hi = g.Points[0], g.Points[0]
		for _, p := range g.Points[1:] {
			lo = r3.Vec{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y), Z: math.Min(lo.Z, p.Z)}
			hi = r3.Vec{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y), Z: math.Max(hi.Z, p.Z)}
		}
		return lo, hi
	}
	a := g.pointAt(0, 0, 0)
	b := g.pointAt(g.Dims[0]-1, g.Dims[1]-1, g.Dims[2]-1)
	lo = r3.Vec{X: math.Min(a.X, b.X), Y: math.Min(a.Y, b.Y), Z: math.Min(a.Z, b.Z)}
	hi = r3.Vec{X: math.Max(a.X, b.X), Y: math.Max(a.Y, b.Y), Z: math.Max(a.Z, b.Z)}
	return lo, hi
}

// Array returns the point scalars as a canonical array. Structured grids are
// shaped (z, y, x); meshes are shaped (1, 1, N).
func (g *Grid) Array() (*ndarray.Array, error) {
	dtype := g.ScalarType
	if dtype == 0 {
		dtype = ndarray.Float64
	}
	if g.Kind.IsMesh() {
		return ndarray.FromSlice(dtype, g.Scalars, 1, 1, len(g.Scalars))
	}
	return ndarray.FromSlice(dtype, g.Scalars, g.Dims[2], g.Dims[1], g.Dims[0])
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	c := *g
	c.XCoords = append([]float64(nil), g.XCoords...)
	c.YCoords = append([]float64(nil), g.YCoords...)
	c.ZCoords = append([]float64(nil), g.ZCoords...)
	c.Points = append([]r3.Vec(nil), g.Points...)
	c.Scalars = append([]float64(nil), g.Scalars...)
	c.Cells = make([]Cell, len(g.Cells))
	for i, cell := range g.Cells {
		c.Cells[i] = Cell{Type: cell.Type, Points: append([]int(nil), cell.Points...)}
	}
	return &c
}

// Validate checks the internal consistency of the grid.
func (g *Grid) Validate() error {
	n := g.NumPoints()
	if len(g.Scalars) != n {
		return fmt.Errorf("%s: %d scalars for %d points", g.Kind, len(g.Scalars), n)
	}
	if g.Kind == RectilinearGrid {
		if len(g.XCoords) != g.Dims[0] || len(g.YCoords) != g.Dims[1] || len(g.ZCoords) != g.Dims[2] {
			return fmt.Errorf("rectilinear coordinates do not match dimensions %v", g.Dims)
		}
	}
	for i, c := range g.Cells {
		for _, p := range c.Points {
			if p < 0 || p >= n {
				return fmt.Errorf("cell %d references point %d of %d", i, p, n)
			}
		}
	}
	return nil
}

// Triangles returns the mesh cells as triangles, fanning polygons and quads.
// Non-surface cells are skipped.
func (g *Grid) Triangles() [][3]int {
	var tris [][3]int
	for _, c := range g.Cells {
		switch c.Type {
		case Triangle, Polygon, Quad:
			for k := 1; k+1 < len(c.Points); k++ {
				tris = append(tris, [3]int{c.Points[0], c.Points[k], c.Points[k+1]})
			}
		case Pixel:
			if len(c.Points) == 4 {
				p := c.Points
				tris = append(tris, [3]int{p[0], p[1], p[3]}, [3]int{p[0], p[3], p[2]})
			}
		case TriStrip:
			for k := 0; k+2 < len(c.Points); k++ {
				if k%2 == 0 {
					tris = append(tris, [3]int{c.Points[k], c.Points[k+1], c.Points[k+2]})
				} else {
					tris = append(tris, [3]int{c.Points[k+1], c.Points[k], c.Points[k+2]})
				}
			}
		}
	}
	return tris
}
