package formats

import (
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

// TestExtension verifies that the extension is the case-preserved text after the last dot
func TestExtension(t *testing.T) {
	cases := map[string]string{
		"scan.dcm":          "dcm",
		"SCAN.DCM":          "DCM",
		"brain.nii.gz":      "gz",
		"dir.v2/volume":     "",
		`C:\data\head.vti`:  "vti",
		"/tmp/archive.pvtk": "pvtk",
	}
	for path, want := range cases {
		assert.Equal(t, want, Extension(path), path)
	}
}

// TestDecoderFor verifies the extension dispatch table
func TestDecoderFor(t *testing.T) {
	cases := map[string]Strategy{
		"a.DCM":  StrategyDICOM,
		"a.dcm":  StrategyDICOM,
		"a.nii":  StrategyVolume,
		"a.gz":   StrategyVolume,
		"a.slc":  StrategySLC,
		"a.vtk":  StrategyGrid,
		"a.pvtr": StrategyGrid,
		"a.obj":  StrategyGrid,
		"a.stl":  StrategyGrid,
		"a.jpeg": StrategyRaster,
		"a.tif":  StrategyRaster,
	}
	for path, want := range cases {
		got, err := DecoderFor(path)
		require.NoError(t, err, path)
		assert.Equal(t, want, got, path)
	}

	for _, path := range []string{"a.txt", "a.Dcm", "noext", "a.PNG"} {
		_, err := DecoderFor(path)
		assert.True(t, errors.Is(err, errs.ErrUnsupportedFormat), path)
	}
}

// TestEncoderFor verifies encoder selection by extension and grid kind
func TestEncoderFor(t *testing.T) {
	image := grid.NewImageData(2, 2, 2)
	mesh := grid.NewMesh(grid.PolyData, []r3.Vec{{}, {X: 1}, {Y: 1}}, nil, nil)

	ok := []struct {
		path string
		g    *grid.Grid
		want Strategy
	}{
		{"out.nii", nil, StrategyVolume},
		{"out.nii", image, StrategyVolume},
		{"out.gz", mesh, StrategyVolume},
		{"out.vti", image, StrategyGrid},
		{"out.slc", image, StrategySLC},
		{"out.vtp", mesh, StrategyGrid},
		{"out.stl", mesh, StrategyGrid},
		{"out.png", nil, StrategyRaster},
		{"out.DCM", nil, StrategyDICOM},
	}
	for _, c := range ok {
		got, err := EncoderFor(c.path, c.g)
		require.NoError(t, err, c.path)
		assert.Equal(t, c.want, got, c.path)
	}

	bad := []struct {
		path string
		g    *grid.Grid
	}{
		{"out.vtp", image},
		{"out.slc", mesh},
		{"out.vti", mesh},
		{"out.png", image},
		{"out.vtk", nil},
		{"out.xyz", nil},
	}
	for _, c := range bad {
		_, err := EncoderFor(c.path, c.g)
		assert.True(t, errors.Is(err, errs.ErrUnsupportedFormat), c.path)
	}
}

// TestEncodeVolumeWithoutGrid verifies that 3D data needs a grid-capable format
func TestEncodeVolumeWithoutGrid(t *testing.T) {
	vol := ndarray.New(ndarray.Uint8, 4, 4, 4)
	err := Encode(filepath.Join(t.TempDir(), "out.png"), &Dataset{Array: vol})
	assert.True(t, errors.Is(err, errs.ErrUnsupportedFormat))
}

// TestDecodeFailures verifies the error kinds of failed reads
func TestDecodeFailures(t *testing.T) {
	dir := t.TempDir()

	_, err := Decode(filepath.Join(dir, "missing.png"))
	assert.True(t, errors.Is(err, errs.ErrDecode))

	garbage := filepath.Join(dir, "garbage.nii")
	require.NoError(t, os.WriteFile(garbage, []byte("not a volume"), 0o644))
	_, err = Decode(garbage)
	assert.True(t, errors.Is(err, errs.ErrDecode))

	_, err = Decode(filepath.Join(dir, "file.unknown"))
	assert.True(t, errors.Is(err, errs.ErrUnsupportedFormat))
	assert.False(t, errors.Is(err, errs.ErrDecode))
}

// TestNormalize verifies the grid-iff-3D rule applied after decoding
func TestNormalize(t *testing.T) {
	flat := ndarray.New(ndarray.Uint8, 3, 4)
	ds := Normalize(&Dataset{Array: flat, Grid: grid.NewImageData(4, 3, 1)})
	assert.Equal(t, NoGrid, ds.Kind)
	assert.Nil(t, ds.Grid)
	assert.Equal(t, []int{3, 4, 1}, ds.Array.Shape())

	vol := ndarray.New(ndarray.Float32, 5, 6, 7)
	ds = Normalize(&Dataset{Array: vol})
	assert.Equal(t, HasGrid, ds.Kind)
	require.NotNil(t, ds.Grid)
	assert.Equal(t, [3]int{7, 6, 5}, ds.Grid.Dims)
}
