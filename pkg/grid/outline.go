package grid

import "gonum.org/v1/gonum/spatial/r3"

// outlineEdges lists the twelve box edges over the corner order used by
// Outline: bit 0 selects x, bit 1 y and bit 2 z.
var outlineEdges = [12][2]int{
	{0, 1}, {2, 3}, {4, 5}, {6, 7},
	{0, 2}, {1, 3}, {4, 6}, {5, 7},
	{0, 4}, {1, 5}, {2, 6}, {3, 7},
}

// Outline returns the bounding-box wireframe of g as PolyData with eight
// points and twelve line cells.
func (g *Grid) Outline() *Grid {
	lo, hi := g.Bounds()
	points := make([]r3.Vec, 8)
	for i := range points {
		p := lo
		if i&1 != 0 {
			p.X = hi.X
		}
		if i&2 != 0 {
			p.Y = hi.Y
		}
		if i&4 != 0 {
			p.Z = hi.Z
		}
		points[i] = p
	}
	cells := make([]Cell, len(outlineEdges))
	for i, e := range outlineEdges {
		cells[i] = Cell{Type: Line, Points: []int{e[0], e[1]}}
	}
	return NewMesh(PolyData, points, cells, make([]float64, len(points)))
}
