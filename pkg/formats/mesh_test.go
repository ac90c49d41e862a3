package formats

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"medview/pkg/errs"
	"medview/pkg/grid"
	"medview/pkg/ndarray"
)

func writeFixture(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// TestPLYRoundTrip verifies that binary PLY keeps points, faces, edges and the scalar property
func TestPLYRoundTrip(t *testing.T) {
	ds := meshDataset(grid.PolyData)
	back := roundTrip(t, "out.ply", ds)

	g := back.Grid
	assert.Equal(t, grid.PolyData, g.Kind)
	assert.Equal(t, ds.Grid.Points, g.Points)
	assert.Equal(t, "temperature", g.ScalarName)
	assert.Equal(t, ndarray.Float32, back.Array.DType())
	assert.Equal(t, []float64{10, 20, 30, 40, 50}, back.Array.Data())
	assert.Equal(t, []grid.Cell{
		{Type: grid.Triangle, Points: []int{0, 1, 2}},
		{Type: grid.Triangle, Points: []int{0, 1, 3}},
		{Type: grid.Line, Points: []int{3, 4}},
	}, g.Cells)
}

// TestPLYASCII verifies that normals are not mistaken for scalars
func TestPLYASCII(t *testing.T) {
	src := `ply
format ascii 1.0
comment hand written
element vertex 4
property float x
property float y
property float z
property float nx
property float ny
property float nz
element face 1
property list uchar int vertex_indices
end_header
0 0 1 0 0 1
1 0 2 0 0 1
1 1 3 0 0 1
0 1 4 0 0 1
4 0 1 2 3
`
	ds, err := Decode(writeFixture(t, "quad.ply", []byte(src)))
	require.NoError(t, err)
	assert.Equal(t, "Elevation", ds.Grid.ScalarName)
	assert.Equal(t, []float64{1, 2, 3, 4}, ds.Array.Data())
	assert.Equal(t, []grid.Cell{{Type: grid.Polygon, Points: []int{0, 1, 2, 3}}}, ds.Grid.Cells)
}

// TestPLYBigEndian verifies binary big-endian input with an integer vertex property
func TestPLYBigEndian(t *testing.T) {
	var b bytes.Buffer
	b.WriteString("ply\nformat binary_big_endian 1.0\nelement vertex 4\n" +
		"property float x\nproperty float y\nproperty float z\nproperty uchar intensity\n" +
		"element face 1\nproperty list uchar int vertex_indices\nend_header\n")
	for i, v := range [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {0, 0, 1}} {
		require.NoError(t, binary.Write(&b, binary.BigEndian, v))
		b.WriteByte(byte(100 + i))
	}
	b.WriteByte(3)
	require.NoError(t, binary.Write(&b, binary.BigEndian, []int32{0, 2, 3}))

	ds, err := Decode(writeFixture(t, "be.ply", b.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "intensity", ds.Grid.ScalarName)
	assert.Equal(t, ndarray.Uint8, ds.Array.DType())
	assert.Equal(t, []float64{100, 101, 102, 103}, ds.Array.Data())
	assert.Equal(t, r3.Vec{Z: 1}, ds.Grid.Points[3])
	assert.Equal(t, []grid.Cell{{Type: grid.Triangle, Points: []int{0, 2, 3}}}, ds.Grid.Cells)
}

// TestOBJ verifies vertex references with texture and normal indices and negative offsets
func TestOBJ(t *testing.T) {
	src := `# corner
mtllib corner.mtl
v 0 0 0
v 1 0 0
v 0 1 0
vt 0 0
vn 0 0 1
v 0 0 2
f 1/1/1 2/1/1 3/1/1
f -4 -3 -1
l 1 4
p 2
`
	ds, err := Decode(writeFixture(t, "corner.obj", []byte(src)))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0, 2}, ds.Array.Data())
	assert.Equal(t, []grid.Cell{
		{Type: grid.Triangle, Points: []int{0, 1, 2}},
		{Type: grid.Triangle, Points: []int{0, 1, 3}},
		{Type: grid.Line, Points: []int{0, 3}},
		{Type: grid.Vertex, Points: []int{1}},
	}, ds.Grid.Cells)

	_, err = Decode(writeFixture(t, "bad.obj", []byte("v 0 0 0\nv 1 0 0\nf 1 2 9\n")))
	assert.True(t, errors.Is(err, errs.ErrDecode))
}

// TestOBJRoundTrip verifies that OBJ keeps geometry and falls back to elevation
func TestOBJRoundTrip(t *testing.T) {
	ds := meshDataset(grid.PolyData)
	back := roundTrip(t, "out.obj", ds)
	assert.Equal(t, ds.Grid.Points, back.Grid.Points)
	assert.Equal(t, ds.Grid.Cells, back.Grid.Cells)
	assert.Equal(t, "Elevation", back.Grid.ScalarName)
	assert.Equal(t, []float64{0, 0, 0, 1, 2}, back.Array.Data())
}

// TestSTLRoundTrip verifies that STL output merges shared vertices on reload
func TestSTLRoundTrip(t *testing.T) {
	ds := meshDataset(grid.PolyData)
	back := roundTrip(t, "out.stl", ds)
	g := back.Grid
	assert.Equal(t, ds.Grid.Points[:4], g.Points)
	assert.Equal(t, []grid.Cell{
		{Type: grid.Triangle, Points: []int{0, 1, 2}},
		{Type: grid.Triangle, Points: []int{0, 1, 3}},
	}, g.Cells)
	assert.Equal(t, []float64{0, 0, 0, 1}, back.Array.Data())
}

// TestMeshFormatsRejectStructuredGrids verifies that mesh writers need a mesh
func TestMeshFormatsRejectStructuredGrids(t *testing.T) {
	ds := imageDataset(ndarray.Uint8, 4, 4, 4)
	for _, name := range []string{"out.ply", "out.obj", "out.stl"} {
		err := gridCodec{}.Encode(filepath.Join(t.TempDir(), name), ds, DefaultOptions())
		assert.Error(t, err, name)
	}
}
