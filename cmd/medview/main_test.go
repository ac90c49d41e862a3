package main

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medview/pkg/config"
	"medview/pkg/errs"
	"medview/pkg/manager"
	"medview/pkg/ndarray"
)

// run parses args the way main does and executes the selected command.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var cli CLI
	parser, err := kong.New(&cli, kong.Name("medview"), kong.Exit(func(int) { t.Fatal("unexpected exit") }))
	require.NoError(t, err)
	ctx, err := parser.Parse(args)
	if err != nil {
		return "", err
	}
	var out bytes.Buffer
	rc, err := newRunContext(&cli, &out)
	require.NoError(t, err)
	err = ctx.Run(rc)
	return out.String(), err
}

func writeImage(t *testing.T, dir, name string) string {
	t.Helper()
	a := ndarray.New(ndarray.Uint8, 24, 32, 1)
	for i := range a.Data() {
		a.Data()[i] = float64(i * 5 % 256)
	}
	path := filepath.Join(dir, name)
	require.NoError(t, manager.New(a).Write(path))
	return path
}

// writeSphere writes a 12^3 binary ball of radius 4 as image data.
func writeSphere(t *testing.T, dir string) string {
	t.Helper()
	a := ndarray.New(ndarray.Float64, 12, 12, 12)
	for z := 0; z < 12; z++ {
		for y := 0; y < 12; y++ {
			for x := 0; x < 12; x++ {
				if math.Hypot(math.Hypot(float64(x)-6, float64(y)-6), float64(z)-6) < 4 {
					a.Set(1, z, y, x)
				}
			}
		}
	}
	path := filepath.Join(dir, "ball.vti")
	require.NoError(t, manager.New(a).Write(path))
	return path
}

func load(t *testing.T, path string) *manager.DataManager {
	t.Helper()
	m := &manager.DataManager{}
	require.NoError(t, m.Read(path))
	return m
}

// TestOps verifies the catalog listing
func TestOps(t *testing.T) {
	out, err := run(t, "ops")
	require.NoError(t, err)
	names := strings.Fields(out)
	assert.Equal(t, manager.OperationNames(), names)
	assert.Contains(t, names, "gaussian_blur")
}

// TestInfo verifies the dataset summary
func TestInfo(t *testing.T) {
	path := writeImage(t, t.TempDir(), "gray.png")
	out, err := run(t, "info", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Mode:     2D")
	assert.Contains(t, out, "Shape:    [24 32 1] (768 elements)")
	assert.Contains(t, out, "BLAKE3:")

	vol := writeSphere(t, t.TempDir())
	out, err = run(t, "info", vol)
	require.NoError(t, err)
	assert.Contains(t, out, "Mode:     3D")
	assert.Contains(t, out, "Grid:     ImageData [12 12 12]")
}

// TestConvert verifies format conversion by extension
func TestConvert(t *testing.T) {
	dir := t.TempDir()
	vol := writeSphere(t, dir)
	out := filepath.Join(dir, "ball.nii.gz")
	_, err := run(t, "convert", vol, out)
	require.NoError(t, err)

	m := load(t, out)
	assert.True(t, m.Is3D())
	assert.Equal(t, []int{12, 12, 12}, m.Array().Shape())
	assert.True(t, m.Array().Equal(load(t, vol).Array()))

	_, err = run(t, "convert", vol, filepath.Join(dir, "ball.xyz"))
	assert.True(t, errors.Is(err, errs.ErrUnsupportedFormat))
}

// TestProcess verifies chained operations and unknown names
func TestProcess(t *testing.T) {
	dir := t.TempDir()
	in := writeImage(t, dir, "gray.png")
	out := filepath.Join(dir, "edges.png")
	_, err := run(t, "process", in, out, "--op", "median_filter", "--op", "sobel")
	require.NoError(t, err)
	assert.Equal(t, []int{24, 32, 1}, load(t, out).Array().Shape())

	_, err = run(t, "process", in, out, "--op", "sharpen,no_such_op")
	assert.True(t, errors.Is(err, errs.ErrInvalidParameter))
}

// TestProcessSeeded verifies that noise is reproducible for a fixed seed
func TestProcessSeeded(t *testing.T) {
	dir := t.TempDir()
	in := writeImage(t, dir, "gray.png")
	a := filepath.Join(dir, "a.png")
	b := filepath.Join(dir, "b.png")
	_, err := run(t, "process", in, a, "--op", "salt_and_pepper")
	require.NoError(t, err)
	_, err = run(t, "process", in, b, "--op", "salt_and_pepper")
	require.NoError(t, err)
	assert.True(t, load(t, a).Array().Equal(load(t, b).Array()))
	assert.False(t, load(t, a).Array().Equal(load(t, in).Array()))
}

// TestHistogramCommand verifies chart output and the text listing
func TestHistogramCommand(t *testing.T) {
	dir := t.TempDir()
	in := writeImage(t, dir, "gray.png")
	chart := filepath.Join(dir, "hist.png")
	out, err := run(t, "histogram", in, chart, "--bins", "8", "--text")
	require.NoError(t, err)
	assert.Contains(t, out, "total\t768")

	data, err := os.ReadFile(chart)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))
}

// TestSliceCommand verifies axis and plane slicing
func TestSliceCommand(t *testing.T) {
	dir := t.TempDir()
	vol := writeSphere(t, dir)

	axis := filepath.Join(dir, "axis.png")
	_, err := run(t, "slice", vol, axis, "--axis", "z", "--position", "6")
	require.NoError(t, err)
	m := load(t, axis)
	assert.Equal(t, []int{12, 12, 1}, m.Array().Shape())
	assert.Equal(t, 1.0, m.Array().At(6, 6, 0))

	plane := filepath.Join(dir, "plane.png")
	_, err = run(t, "slice", vol, plane, "--normal", "0,0,1")
	require.NoError(t, err)
	assert.False(t, load(t, plane).Is3D())

	_, err = run(t, "slice", vol, plane, "--normal", "0,0,0")
	assert.True(t, errors.Is(err, errs.ErrInvalidParameter))

	img := writeImage(t, dir, "gray.png")
	_, err = run(t, "slice", img, plane, "--axis", "z")
	assert.True(t, errors.Is(err, errs.ErrUnavailableOperation))
}

// TestIsosurfaceCommand verifies surface and outline output
func TestIsosurfaceCommand(t *testing.T) {
	dir := t.TempDir()
	vol := writeSphere(t, dir)
	out := filepath.Join(dir, "ball.vtp")
	_, err := run(t, "isosurface", vol, out, "--start", "0.5", "--stop", "0.5", "--opacity", "0.4", "--outline")
	require.NoError(t, err)

	surface := load(t, out)
	require.NotNil(t, surface.Grid())
	assert.NotEmpty(t, surface.Grid().Cells)

	box := load(t, filepath.Join(dir, "ball_outline.vtp"))
	require.NotNil(t, box.Grid())
	assert.Len(t, box.Grid().Points, 8)

	_, err = run(t, "isosurface", vol, out, "--start", "1", "--stop", "0")
	assert.True(t, errors.Is(err, errs.ErrInvalidParameter))
}

// TestBatch verifies concurrent processing into an output directory
func TestBatch(t *testing.T) {
	dir := t.TempDir()
	var files []string
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		files = append(files, writeImage(t, dir, name))
	}
	outDir := filepath.Join(dir, "out")
	args := append([]string{"batch", outDir}, files...)
	args = append(args, "--op", "gamma_low", "--ext", "tiff")
	out, err := run(t, args...)
	require.NoError(t, err)
	assert.Contains(t, out, "Processed 3 files")

	for _, name := range []string{"a.tiff", "b.tiff", "c.tiff"} {
		m := load(t, filepath.Join(outDir, name))
		assert.Equal(t, []int{24, 32, 1}, m.Array().Shape(), name)
	}

	_, err = run(t, "batch", outDir, filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
}

// TestBatchRejectsSharedOutputs verifies that inputs differing only by
// extension are refused before anything is written
func TestBatchRejectsSharedOutputs(t *testing.T) {
	dir := t.TempDir()
	png := writeImage(t, dir, "scan.png")
	bmp := writeImage(t, dir, "scan.bmp")
	outDir := filepath.Join(dir, "out")

	_, err := run(t, "batch", outDir, png, bmp, "--op", "sobel")
	assert.True(t, errors.Is(err, errs.ErrInvalidParameter), "%v", err)
	_, statErr := os.Stat(filepath.Join(outDir, "scan.png"))
	assert.True(t, os.IsNotExist(statErr))
}

// TestConfigFlag verifies that a configuration file reaches the commands
func TestConfigFlag(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "medview.yaml")
	cfg := config.DefaultConfig()
	cfg.Histogram.Bins = 4
	cfg.Noise.Seed = 7
	require.NoError(t, config.SaveConfig(cfg, path))

	in := writeImage(t, dir, "gray.png")
	out, err := run(t, "--config", path, "histogram", in, filepath.Join(dir, "h.png"), "--text")
	require.NoError(t, err)
	assert.Equal(t, 5, strings.Count(out, "\n"), out)

	var cli CLI
	cli.Config = path
	rc, err := newRunContext(&cli, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), rc.cfg.Noise.Seed)
	assert.Len(t, rc.writeOptions(), 2)
}

// TestPathHelpers verifies output name derivation
func TestPathHelpers(t *testing.T) {
	assert.Equal(t, "brain", stem("/data/brain.nii.gz"))
	assert.Equal(t, "scan", stem("scan"))
	assert.Equal(t, ".hidden", stem(".hidden"))
	assert.Equal(t, "out/ball_outline.vtp", outlinePath("out/ball.vtp"))
	assert.Equal(t, "out.d/ball_outline", outlinePath("out.d/ball"))
}
