// Package stl extracts iso-surfaces from volumes and reads and writes them as
// STL triangle meshes.
package stl

import (
	"math"
)

// Triangle is one facet of a surface mesh.
type Triangle struct {
	Normal  [3]float32
	Vertex1 [3]float32
	Vertex2 [3]float32
	Vertex3 [3]float32
}

// cubeCorners are the voxel-corner offsets in the order used by tetrahedra.
var cubeCorners = [8][3]int{
	{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
	{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
}

// tetrahedra split a cube into six tetrahedra sharing the 0-6 diagonal.
var tetrahedra = [6][4]int{
	{0, 5, 1, 6},
	{0, 1, 2, 6},
	{0, 2, 3, 6},
	{0, 3, 7, 6},
	{0, 7, 4, 6},
	{0, 4, 5, 6},
}

// MarchingCubes walks the voxel cells of a volume and emits the triangles of
// the iso-surface at isoLevel. Each cell is decomposed into six tetrahedra,
// which avoids the ambiguous cases of the classic cube table.
type MarchingCubes struct {
	data                   []float64
	width, height, depth   int
	isoLevel               float64
	xScale, yScale, zScale float32
	origin                 [3]float32
}

// NewMarchingCubes creates an extractor over data laid out z-major
// (index z*width*height + y*width + x).
func NewMarchingCubes(data []float64, width, height, depth int, isoLevel float64) *MarchingCubes {
	return &MarchingCubes{
		data:     data,
		width:    width,
		height:   height,
		depth:    depth,
		isoLevel: isoLevel,
		xScale:   1,
		yScale:   1,
		zScale:   1,
	}
}

// SetScale sets the physical size of a voxel along each axis.
func (mc *MarchingCubes) SetScale(x, y, z float32) {
	mc.xScale, mc.yScale, mc.zScale = x, y, z
}

// SetOrigin sets the physical position of voxel (0, 0, 0).
func (mc *MarchingCubes) SetOrigin(x, y, z float32) {
	mc.origin = [3]float32{x, y, z}
}

func (mc *MarchingCubes) value(x, y, z int) float64 {
	return mc.data[z*mc.width*mc.height+y*mc.width+x]
}

func (mc *MarchingCubes) position(x, y, z int) [3]float64 {
	return [3]float64{
		float64(mc.origin[0]) + float64(x)*float64(mc.xScale),
		float64(mc.origin[1]) + float64(y)*float64(mc.yScale),
		float64(mc.origin[2]) + float64(z)*float64(mc.zScale),
	}
}

// GenerateTriangles returns the iso-surface. Normals face from values above
// the iso level towards values below it.
func (mc *MarchingCubes) GenerateTriangles() []Triangle {
	var triangles []Triangle
	var pos [8][3]float64
	var val [8]float64

	for z := 0; z+1 < mc.depth; z++ {
		for y := 0; y+1 < mc.height; y++ {
			for x := 0; x+1 < mc.width; x++ {
				above := 0
				for i, c := range cubeCorners {
					pos[i] = mc.position(x+c[0], y+c[1], z+c[2])
					val[i] = mc.value(x+c[0], y+c[1], z+c[2])
					if val[i] > mc.isoLevel {
						above++
					}
				}
				if above == 0 || above == 8 {
					continue
				}
				for _, tet := range tetrahedra {
					triangles = mc.polygonise(triangles, tet, &pos, &val)
				}
			}
		}
	}
	return triangles
}

func (mc *MarchingCubes) polygonise(out []Triangle, tet [4]int, pos *[8][3]float64, val *[8]float64) []Triangle {
	var in, outIdx []int
	for _, c := range tet {
		if val[c] > mc.isoLevel {
			in = append(in, c)
		} else {
			outIdx = append(outIdx, c)
		}
	}

	edge := func(a, b int) [3]float64 {
		return interpolate(mc.isoLevel, pos[a], pos[b], val[a], val[b])
	}
	// dir points from the region above the iso level to the region below.
	dir := sub(centroid(pos, outIdx), centroid(pos, in))

	switch len(in) {
	case 1:
		a := in[0]
		out = appendOriented(out, dir, edge(a, outIdx[0]), edge(a, outIdx[1]), edge(a, outIdx[2]))
	case 3:
		a := outIdx[0]
		out = appendOriented(out, dir, edge(in[0], a), edge(in[1], a), edge(in[2], a))
	case 2:
		a, b := in[0], in[1]
		c, d := outIdx[0], outIdx[1]
		pac, pad, pbd, pbc := edge(a, c), edge(a, d), edge(b, d), edge(b, c)
		out = appendOriented(out, dir, pac, pad, pbd)
		out = appendOriented(out, dir, pac, pbd, pbc)
	}
	return out
}

func interpolate(iso float64, p1, p2 [3]float64, v1, v2 float64) [3]float64 {
	t := 0.5
	if v1 != v2 {
		t = (iso - v1) / (v2 - v1)
	}
	return [3]float64{
		p1[0] + t*(p2[0]-p1[0]),
		p1[1] + t*(p2[1]-p1[1]),
		p1[2] + t*(p2[2]-p1[2]),
	}
}

func centroid(pos *[8][3]float64, idx []int) [3]float64 {
	var c [3]float64
	for _, i := range idx {
		c[0] += pos[i][0]
		c[1] += pos[i][1]
		c[2] += pos[i][2]
	}
	n := float64(len(idx))
	return [3]float64{c[0] / n, c[1] / n, c[2] / n}
}

func sub(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

// appendOriented appends (p1, p2, p3), swapping the winding when the face
// normal opposes dir. Degenerate triangles are dropped.
func appendOriented(out []Triangle, dir, p1, p2, p3 [3]float64) []Triangle {
	n := cross(sub(p2, p1), sub(p3, p1))
	length := math.Sqrt(dot(n, n))
	if length == 0 {
		return out
	}
	if dot(n, dir) < 0 {
		p2, p3 = p3, p2
		n = [3]float64{-n[0], -n[1], -n[2]}
	}
	return append(out, Triangle{
		Normal:  to32([3]float64{n[0] / length, n[1] / length, n[2] / length}),
		Vertex1: to32(p1),
		Vertex2: to32(p2),
		Vertex3: to32(p3),
	})
}

func to32(v [3]float64) [3]float32 {
	return [3]float32{float32(v[0]), float32(v[1]), float32(v[2])}
}

// FacetNormal computes the unit normal of a triangle from its winding.
func FacetNormal(v1, v2, v3 [3]float32) [3]float32 {
	a := [3]float64{float64(v1[0]), float64(v1[1]), float64(v1[2])}
	b := [3]float64{float64(v2[0]), float64(v2[1]), float64(v2[2])}
	c := [3]float64{float64(v3[0]), float64(v3[1]), float64(v3[2])}
	n := cross(sub(b, a), sub(c, a))
	length := math.Sqrt(dot(n, n))
	if length == 0 {
		return [3]float32{}
	}
	return to32([3]float64{n[0] / length, n[1] / length, n[2] / length})
}
