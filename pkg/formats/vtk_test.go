package formats

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"medview/pkg/errs"
	"medview/pkg/grid"
	"medview/pkg/ndarray"
)

func imageDataset(dtype ndarray.DType, width, height, depth int) *Dataset {
	vol := rampVolume(dtype, width, height, depth)
	g := grid.FromArray(vol)
	g.Spacing = [3]float64{0.5, 1.5, 2}
	g.Origin = [3]float64{-1, 0, 4}
	g.ScalarName = "density"
	return &Dataset{Array: vol, Grid: g}
}

func rectilinearDataset() *Dataset {
	vol := rampVolume(ndarray.Float32, 4, 3, 5)
	g := grid.FromArray(vol)
	g.Kind = grid.RectilinearGrid
	g.XCoords = []float64{0, 1, 3, 7}
	g.YCoords = []float64{-2, 0, 5}
	g.ZCoords = []float64{0, 0.5, 1, 1.5, 10}
	return &Dataset{Array: vol, Grid: g}
}

func meshDataset(kind grid.Kind) *Dataset {
	points := []r3.Vec{
		{X: 0, Y: 0, Z: 0},
		{X: 1, Y: 0, Z: 0},
		{X: 0, Y: 1, Z: 0},
		{X: 0, Y: 0, Z: 1},
		{X: 2, Y: 2, Z: 2},
	}
	// lines precede polygons in both VTK layouts
	cells := []grid.Cell{
		{Type: grid.Line, Points: []int{3, 4}},
		{Type: grid.Triangle, Points: []int{0, 1, 2}},
		{Type: grid.Triangle, Points: []int{0, 1, 3}},
	}
	if kind == grid.UnstructuredGrid {
		cells = append(cells, grid.Cell{Type: grid.Tetra, Points: []int{0, 1, 2, 3}})
	}
	g := grid.NewMesh(kind, points, cells, []float64{10, 20, 30, 40, 50})
	g.ScalarName = "temperature"
	g.ScalarType = ndarray.Float32
	arr, _ := g.Array()
	return &Dataset{Array: arr, Grid: g}
}

func roundTrip(t *testing.T, name string, ds *Dataset, opts ...Option) *Dataset {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, Encode(path, ds, opts...), name)
	back, err := Decode(path)
	require.NoError(t, err, name)
	return back
}

func assertGridEqual(t *testing.T, want, got *grid.Grid) {
	t.Helper()
	require.NotNil(t, got)
	assert.Equal(t, want.Kind, got.Kind)
	assert.Equal(t, want.Dims, got.Dims)
	assert.Equal(t, want.ScalarName, got.ScalarName)
	assert.Equal(t, want.ScalarType, got.ScalarType)
	assert.Equal(t, want.Scalars, got.Scalars)
	switch want.Kind {
	case grid.ImageData:
		assert.Equal(t, want.Spacing, got.Spacing)
		assert.Equal(t, want.Origin, got.Origin)
	case grid.RectilinearGrid:
		assert.Equal(t, want.XCoords, got.XCoords)
		assert.Equal(t, want.YCoords, got.YCoords)
		assert.Equal(t, want.ZCoords, got.ZCoords)
	default:
		assert.Equal(t, want.Points, got.Points)
		if diff := cmp.Diff(want.Cells, got.Cells); diff != "" {
			t.Errorf("cells mismatch (-want +got):\n%s", diff)
		}
	}
}

// TestLegacyVTKRoundTrip verifies binary legacy files for every grid kind
func TestLegacyVTKRoundTrip(t *testing.T) {
	cases := map[string]*Dataset{
		"image":        imageDataset(ndarray.Int16, 4, 3, 5),
		"rectilinear":  rectilinearDataset(),
		"polydata":     meshDataset(grid.PolyData),
		"unstructured": meshDataset(grid.UnstructuredGrid),
	}
	for name, ds := range cases {
		t.Run(name, func(t *testing.T) {
			back := roundTrip(t, "out.vtk", ds)
			assert.True(t, ds.Array.Equal(back.Array))
			assertGridEqual(t, ds.Grid, back.Grid)
		})
	}
}

// TestLegacyVTKASCII verifies a hand-written ascii polydata file without point data
func TestLegacyVTKASCII(t *testing.T) {
	src := `# vtk DataFile Version 2.0
square
ASCII
DATASET POLYDATA
POINTS 4 float
0 0 1  1 0 2  1 1 3  0 1 4
POLYGONS 1 5
4 0 1 2 3
CELL_DATA 1
SCALARS id int 1
LOOKUP_TABLE default
7
`
	path := filepath.Join(t.TempDir(), "square.vtk")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	ds, err := Decode(path)
	require.NoError(t, err)
	assert.Equal(t, grid.PolyData, ds.Grid.Kind)
	assert.Equal(t, "Elevation", ds.Grid.ScalarName)
	assert.Equal(t, []float64{1, 2, 3, 4}, ds.Array.Data())
	assert.Equal(t, []int{1, 1, 4}, ds.Array.Shape())
	assert.Equal(t, []grid.Cell{{Type: grid.Quad, Points: []int{0, 1, 2, 3}}}, ds.Grid.Cells)
}

// TestXMLRoundTrip verifies serial VTK XML files with and without zlib compression
func TestXMLRoundTrip(t *testing.T) {
	// large enough to span several compressed blocks
	big := imageDataset(ndarray.Float64, 40, 30, 20)

	cases := []struct {
		file string
		ds   *Dataset
	}{
		{"out.vti", big},
		{"out.vti", imageDataset(ndarray.Uint8, 4, 3, 3)},
		{"out.vtr", rectilinearDataset()},
		{"out.vtp", meshDataset(grid.PolyData)},
		{"out.vtu", meshDataset(grid.UnstructuredGrid)},
	}
	for _, c := range cases {
		for _, compress := range []bool{true, false} {
			t.Run(fmt.Sprintf("%s/%v/%v", c.file, c.ds.Grid.Kind, compress), func(t *testing.T) {
				back := roundTrip(t, c.file, c.ds, WithCompression(compress))
				assert.True(t, c.ds.Array.Equal(back.Array))
				assertGridEqual(t, c.ds.Grid, back.Grid)
			})
		}
	}
}

// TestXMLCompressionShrinksOutput verifies that the compressor attribute is written and pays off
func TestXMLCompressionShrinksOutput(t *testing.T) {
	ds := imageDataset(ndarray.Float64, 30, 30, 30)
	dir := t.TempDir()
	plain, packed := filepath.Join(dir, "plain.vti"), filepath.Join(dir, "packed.vti")
	require.NoError(t, Encode(plain, ds, WithCompression(false)))
	require.NoError(t, Encode(packed, ds))

	a, err := os.ReadFile(plain)
	require.NoError(t, err)
	b, err := os.ReadFile(packed)
	require.NoError(t, err)
	assert.NotContains(t, string(a), "compressor")
	assert.Contains(t, string(b), `compressor="vtkZLibDataCompressor"`)
	assert.Less(t, len(b), len(a))
}

// TestParallelRoundTrip verifies that parallel files write one piece beside the index
func TestParallelRoundTrip(t *testing.T) {
	cases := []struct {
		file, piece string
		ds          *Dataset
	}{
		{"out.pvti", "out_0.vti", imageDataset(ndarray.Int32, 5, 4, 3)},
		{"out.pvtr", "out_0.vtr", rectilinearDataset()},
		{"out.pvtu", "out_0.vtu", meshDataset(grid.UnstructuredGrid)},
		{"out.pvtk", "out_0.vtk", imageDataset(ndarray.Int16, 4, 3, 5)},
		{"mesh.pvtk", "mesh_0.vtk", meshDataset(grid.PolyData)},
	}
	for _, c := range cases {
		t.Run(c.file, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, c.file)
			require.NoError(t, Encode(path, c.ds))
			assert.FileExists(t, filepath.Join(dir, c.piece))

			back, err := Decode(path)
			require.NoError(t, err)
			assert.True(t, c.ds.Array.Equal(back.Array))
			assertGridEqual(t, c.ds.Grid, back.Grid)
		})
	}
}

// TestXMLPieceAssembly verifies that pieces are placed by their extents
func TestXMLPieceAssembly(t *testing.T) {
	src := `<?xml version="1.0"?>
<VTKFile type="ImageData" version="0.1" byte_order="LittleEndian">
  <ImageData WholeExtent="0 3 0 1 0 0" Origin="0 0 0" Spacing="1 1 1">
    <Piece Extent="2 3 0 1 0 0">
      <PointData Scalars="v">
        <DataArray type="Int32" Name="v" format="ascii">2 3 12 13</DataArray>
      </PointData>
    </Piece>
    <Piece Extent="0 1 0 1 0 0">
      <PointData Scalars="v">
        <DataArray type="Int32" Name="v" format="ascii">0 1 10 11</DataArray>
      </PointData>
    </Piece>
  </ImageData>
</VTKFile>
`
	path := filepath.Join(t.TempDir(), "pieces.vti")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	ds, err := Decode(path)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 4}, ds.Array.Shape())
	assert.Equal(t, ndarray.Int32, ds.Array.DType())
	assert.Equal(t, []float64{0, 1, 2, 3, 10, 11, 12, 13}, ds.Array.Data())
	assert.Equal(t, "v", ds.Grid.ScalarName)
}

// TestXMLPolyData verifies that a hand-written PolyData file decodes as a mesh
func TestXMLPolyData(t *testing.T) {
	src := `<?xml version="1.0"?>
<VTKFile type="PolyData" version="0.1" byte_order="LittleEndian">
  <PolyData>
    <Piece NumberOfPoints="4" NumberOfVerts="0" NumberOfLines="0" NumberOfStrips="0" NumberOfPolys="1">
      <Points>
        <DataArray type="Float32" NumberOfComponents="3" format="ascii">0 0 1  1 0 2  1 1 3  0 1 4</DataArray>
      </Points>
      <Polys>
        <DataArray type="Int32" Name="connectivity" format="ascii">0 1 2 3</DataArray>
        <DataArray type="Int32" Name="offsets" format="ascii">4</DataArray>
      </Polys>
    </Piece>
  </PolyData>
</VTKFile>
`
	path := filepath.Join(t.TempDir(), "quad.vtp")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	ds, err := Decode(path)
	require.NoError(t, err)
	assert.Equal(t, HasGrid, ds.Kind)
	require.NotNil(t, ds.Grid)
	assert.Equal(t, grid.PolyData, ds.Grid.Kind)
	require.Len(t, ds.Grid.Cells, 1)
	assert.Equal(t, []int{0, 1, 2, 3}, ds.Grid.Cells[0].Points)
	assert.Equal(t, []int{1, 1, 4}, ds.Array.Shape())
	assert.Equal(t, []float64{1, 2, 3, 4}, ds.Array.Data())
}

// TestXMLKind verifies dataset type names and their parallel forms
func TestXMLKind(t *testing.T) {
	cases := []struct {
		typ      string
		kind     grid.Kind
		parallel bool
		ok       bool
	}{
		{"ImageData", grid.ImageData, false, true},
		{"PImageData", grid.ImageData, true, true},
		{"RectilinearGrid", grid.RectilinearGrid, false, true},
		{"PolyData", grid.PolyData, false, true},
		{"PPolyData", grid.PolyData, true, true},
		{"UnstructuredGrid", grid.UnstructuredGrid, false, true},
		{"PUnstructuredGrid", grid.UnstructuredGrid, true, true},
		{"olyData", 0, false, false},
		{"StructuredGrid", 0, false, false},
	}
	for _, c := range cases {
		kind, parallel, ok := xmlKind(c.typ)
		assert.Equal(t, c.ok, ok, c.typ)
		if c.ok {
			assert.Equal(t, c.kind, kind, c.typ)
			assert.Equal(t, c.parallel, parallel, c.typ)
		}
	}
}

// TestXMLAppendedData verifies base64 appended arrays with a 32-bit header
func TestXMLAppendedData(t *testing.T) {
	values := []float32{1.5, -2, 3.25, 8}
	var raw bytes.Buffer
	require.NoError(t, binary.Write(&raw, binary.LittleEndian, uint32(4*len(values))))
	require.NoError(t, binary.Write(&raw, binary.LittleEndian, values))
	payload := base64.StdEncoding.EncodeToString(raw.Bytes())

	src := `<?xml version="1.0"?>
<VTKFile type="ImageData" version="0.1" byte_order="LittleEndian">
  <ImageData WholeExtent="0 1 0 1 0 0" Origin="0 0 0" Spacing="1 1 1">
    <Piece Extent="0 1 0 1 0 0">
      <PointData Scalars="f">
        <DataArray type="Float32" Name="f" format="appended" offset="0"/>
      </PointData>
    </Piece>
  </ImageData>
  <AppendedData encoding="base64">
   _` + payload + `
  </AppendedData>
</VTKFile>
`
	path := filepath.Join(t.TempDir(), "appended.vti")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	ds, err := Decode(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, -2, 3.25, 8}, ds.Array.Data())
	assert.Equal(t, ndarray.Float32, ds.Array.DType())
}

// TestXMLRawAppendedRejected verifies that raw appended data is a decode error
func TestXMLRawAppendedRejected(t *testing.T) {
	src := `<?xml version="1.0"?>
<VTKFile type="ImageData" version="0.1" byte_order="LittleEndian">
  <ImageData WholeExtent="0 1 0 1 0 0" Origin="0 0 0" Spacing="1 1 1">
    <Piece Extent="0 1 0 1 0 0">
      <PointData Scalars="f">
        <DataArray type="Float32" Name="f" format="appended" offset="0"/>
      </PointData>
    </Piece>
  </ImageData>
  <AppendedData encoding="raw">_abcdefgh</AppendedData>
</VTKFile>
`
	path := filepath.Join(t.TempDir(), "raw.vti")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	_, err := Decode(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrDecode))
	assert.True(t, strings.Contains(err.Error(), "raw appended"))
}

// TestGridEncodeRejectsMismatch verifies that grid writers refuse the wrong grid kind
func TestGridEncodeRejectsMismatch(t *testing.T) {
	ds := imageDataset(ndarray.Uint8, 2, 2, 2)
	err := gridCodec{}.Encode(filepath.Join(t.TempDir(), "out.vtp"), ds, DefaultOptions())
	assert.Error(t, err)

	short := &Dataset{Array: ndarray.New(ndarray.Uint8, 1, 1, 2), Grid: ds.Grid}
	err = gridCodec{}.Encode(filepath.Join(t.TempDir(), "out.vti"), short, DefaultOptions())
	assert.Error(t, err)
}
