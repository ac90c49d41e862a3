package stl

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"medview/pkg/grid"
)

// ToMesh merges coincident vertices and returns the triangles as PolyData.
// Every point carries the given scalar.
func ToMesh(triangles []Triangle, scalar float64) *grid.Grid {
	index := make(map[[3]float32]int)
	var points []r3.Vec
	cells := make([]grid.Cell, 0, len(triangles))
	id := func(v [3]float32) int {
		if i, ok := index[v]; ok {
			return i
		}
		i := len(points)
		index[v] = i
		points = append(points, r3.Vec{X: float64(v[0]), Y: float64(v[1]), Z: float64(v[2])})
		return i
	}
	for _, t := range triangles {
		cells = append(cells, grid.Cell{
			Type:   grid.Triangle,
			Points: []int{id(t.Vertex1), id(t.Vertex2), id(t.Vertex3)},
		})
	}
	scalars := make([]float64, len(points))
	for i := range scalars {
		scalars[i] = scalar
	}
	return grid.NewMesh(grid.PolyData, points, cells, scalars)
}

// FromMesh triangulates the surface cells of a mesh grid.
func FromMesh(g *grid.Grid) []Triangle {
	tris := g.Triangles()
	out := make([]Triangle, 0, len(tris))
	for _, t := range tris {
		v1, v2, v3 := vec32(g.Points[t[0]]), vec32(g.Points[t[1]]), vec32(g.Points[t[2]])
		out = append(out, Triangle{Normal: FacetNormal(v1, v2, v3), Vertex1: v1, Vertex2: v2, Vertex3: v3})
	}
	return out
}

func vec32(p r3.Vec) [3]float32 {
	return [3]float32{float32(p.X), float32(p.Y), float32(p.Z)}
}

// IsoSurface contours a structured grid at each of values and merges the
// surfaces into one PolyData whose point scalars record the contour value.
func IsoSurface(g *grid.Grid, values []float64) (*grid.Grid, error) {
	if g.Kind.IsMesh() {
		return nil, fmt.Errorf("%s has no voxel lattice", g.Kind)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}

	var (
		points  []r3.Vec
		cells   []grid.Cell
		scalars []float64
	)
	for _, v := range values {
		mc := NewMarchingCubes(g.Scalars, g.Dims[0], g.Dims[1], g.Dims[2], v)
		if g.Kind == grid.ImageData {
			mc.SetScale(float32(g.Spacing[0]), float32(g.Spacing[1]), float32(g.Spacing[2]))
			mc.SetOrigin(float32(g.Origin[0]), float32(g.Origin[1]), float32(g.Origin[2]))
		}
		part := ToMesh(mc.GenerateTriangles(), v)
		offset := len(points)
		for _, p := range part.Points {
			if g.Kind == grid.RectilinearGrid {
				p = r3.Vec{X: along(g.XCoords, p.X), Y: along(g.YCoords, p.Y), Z: along(g.ZCoords, p.Z)}
			}
			points = append(points, p)
		}
		for _, c := range part.Cells {
			ids := make([]int, len(c.Points))
			for i, p := range c.Points {
				ids[i] = p + offset
			}
			cells = append(cells, grid.Cell{Type: c.Type, Points: ids})
		}
		scalars = append(scalars, part.Scalars...)
	}
	return grid.NewMesh(grid.PolyData, points, cells, scalars), nil
}

// along maps a fractional index to a coordinate by linear interpolation.
func along(coords []float64, f float64) float64 {
	n := len(coords)
	if n == 0 {
		return f
	}
	if n == 1 {
		return coords[0]
	}
	i := sort.Search(n-1, func(k int) bool { return float64(k+1) > f })
	if i >= n-1 {
		i = n - 2
	}
	return coords[i] + (f-float64(i))*(coords[i+1]-coords[i])
}
