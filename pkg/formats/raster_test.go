package formats

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medview/pkg/ndarray"
)

func grayImage(h, w int) *ndarray.Array {
	a := ndarray.New(ndarray.Uint8, h, w, 1)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a.Set(float64((x*16+y*8)%256), y, x, 0)
		}
	}
	return a
}

func rgbImage(h, w int) *ndarray.Array {
	a := ndarray.New(ndarray.Uint8, h, w, 3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a.Set(float64(x*20%256), y, x, 0)
			a.Set(float64(y*30%256), y, x, 1)
			a.Set(float64((x+y)*10%256), y, x, 2)
		}
	}
	return a
}

// TestRasterLosslessRoundTrip verifies the lossless raster encoders
func TestRasterLosslessRoundTrip(t *testing.T) {
	for _, name := range []string{"out.png", "out.bmp", "out.tif", "out.tiff"} {
		for _, a := range []*ndarray.Array{grayImage(12, 9), rgbImage(7, 10)} {
			back := roundTrip(t, name, &Dataset{Array: a})
			assert.Equal(t, NoGrid, back.Kind, name)
			assert.Nil(t, back.Grid, name)
			assert.Equal(t, ndarray.Uint8, back.Array.DType(), name)
			assert.True(t, a.Equal(back.Array), "%s %v", name, a.Shape())
		}
	}
}

// TestRasterWideSamples verifies that 16-bit data keeps its precision in PNG and TIFF
func TestRasterWideSamples(t *testing.T) {
	a := ndarray.New(ndarray.Uint16, 4, 5, 1)
	for i := range a.Data() {
		a.Data()[i] = float64(i * 3000)
	}
	for _, name := range []string{"wide.png", "wide.tif"} {
		back := roundTrip(t, name, &Dataset{Array: a})
		assert.Equal(t, ndarray.Uint16, back.Array.DType(), name)
		assert.True(t, a.Equal(back.Array), name)
	}

	// float data is written with 8-bit samples
	back := roundTrip(t, "wide.png", &Dataset{Array: a.Cast(ndarray.Float64)})
	assert.Equal(t, ndarray.Uint8, back.Array.DType())
	lo, hi := back.Array.MinMax()
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 255.0, hi)
}

// TestJPEGRoundTrip verifies lossy output within a tolerance
func TestJPEGRoundTrip(t *testing.T) {
	a := ndarray.New(ndarray.Uint8, 32, 32, 1)
	for i := range a.Data() {
		a.Data()[i] = 128
	}
	back := roundTrip(t, "flat.jpg", &Dataset{Array: a}, WithJPEGQuality(95))
	rmse, err := ndarray.RMSE(a, back.Array)
	require.NoError(t, err)
	assert.Less(t, rmse, 2.0)
}

// TestRasterRank2Normalized verifies that rank-2 arrays gain a unit channel axis on encode and decode
func TestRasterRank2Normalized(t *testing.T) {
	flat, err := grayImage(6, 5).Reshape(6, 5)
	require.NoError(t, err)
	back := roundTrip(t, "flat.png", Normalize(&Dataset{Array: flat}))
	assert.Equal(t, []int{6, 5, 1}, back.Array.Shape())
}

// TestImageToArray verifies channel handling for the decoded image types
func TestImageToArray(t *testing.T) {
	rect := image.Rect(0, 0, 2, 1)

	pal := image.NewPaletted(rect, color.Palette{color.Gray{Y: 0}, color.Gray{Y: 200}})
	pal.SetColorIndex(1, 0, 1)
	a := ImageToArray(pal)
	assert.Equal(t, []int{1, 2, 1}, a.Shape())
	assert.Equal(t, []float64{0, 200}, a.Data())

	rgba := image.NewRGBA(rect)
	rgba.Set(0, 0, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	a = ImageToArray(rgba)
	assert.Equal(t, []int{1, 2, 3}, a.Shape())
	assert.Equal(t, []float64{10, 20, 30}, a.Data()[:3])

	g16 := image.NewGray16(rect)
	g16.SetGray16(0, 0, color.Gray16{Y: 60000})
	a = ImageToArray(g16)
	assert.Equal(t, ndarray.Uint16, a.DType())
	assert.Equal(t, 60000.0, a.At(0, 0, 0))
}
