package formats

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"medview/pkg/errs"
	"medview/pkg/ndarray"
)

type rasterCodec struct{}

func (rasterCodec) Decode(path string) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, err := decodeImage(Extension(path), bufio.NewReader(file))
	if err != nil {
		return nil, err
	}
	return &Dataset{Array: ImageToArray(img)}, nil
}

func decodeImage(ext string, r io.Reader) (image.Image, error) {
	switch ext {
	case "jpg", "jpeg":
		return jpeg.Decode(r)
	case "png":
		return png.Decode(r)
	case "bmp":
		return bmp.Decode(r)
	case "tif", "tiff":
		return tiff.Decode(r)
	}
	return nil, errs.Unsupported("read", "", "no raster decoder for %q", ext)
}

// ImageToArray converts an image to a (rows, cols, channels) array.
// Grayscale images keep one channel; everything else becomes RGB with any
// alpha dropped. 16-bit sources decode to Uint16.
func ImageToArray(img image.Image) *ndarray.Array {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch src := img.(type) {
	case *image.Gray:
		a := ndarray.New(ndarray.Uint8, h, w, 1)
		data := a.Data()
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				data[y*w+x] = float64(src.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
		return a
	case *image.Gray16:
		a := ndarray.New(ndarray.Uint16, h, w, 1)
		data := a.Data()
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				data[y*w+x] = float64(src.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
		return a
	case *image.RGBA64, *image.NRGBA64:
		a := ndarray.New(ndarray.Uint16, h, w, 3)
		data := a.Data()
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.NRGBA64Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
				i := (y*w + x) * 3
				data[i], data[i+1], data[i+2] = float64(c.R), float64(c.G), float64(c.B)
			}
		}
		return a
	case *image.Paletted:
		if grayPalette(src.Palette) {
			a := ndarray.New(ndarray.Uint8, h, w, 1)
			data := a.Data()
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					c := color.GrayModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
					data[y*w+x] = float64(c.Y)
				}
			}
			return a
		}
	}

	a := ndarray.New(ndarray.Uint8, h, w, 3)
	data := a.Data()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			i := (y*w + x) * 3
			data[i], data[i+1], data[i+2] = float64(c.R), float64(c.G), float64(c.B)
		}
	}
	return a
}

// ArrayToImage converts a (rows, cols, 1|3) array into an image, clamping
// and rounding values. wide selects 16-bit samples.
func ArrayToImage(a *ndarray.Array, wide bool) (image.Image, error) {
	if a.Rank() != 3 || a.Is3D() {
		return nil, fmt.Errorf("array %v is not a 2D image", a.Shape())
	}
	h, w, ch := a.Dim(0), a.Dim(1), a.Dim(2)
	data := a.Data()
	rect := image.Rect(0, 0, w, h)

	switch {
	case ch == 1 && wide:
		img := image.NewGray16(rect)
		for i, v := range data {
			img.SetGray16(i%w, i/w, color.Gray16{Y: uint16(clamp(math.Round(v), 0, math.MaxUint16))})
		}
		return img, nil
	case ch == 1:
		img := image.NewGray(rect)
		for i, v := range data {
			img.SetGray(i%w, i/w, color.Gray{Y: uint8(clamp(math.Round(v), 0, math.MaxUint8))})
		}
		return img, nil
	case wide:
		img := image.NewNRGBA64(rect)
		for p := 0; p < w*h; p++ {
			img.SetNRGBA64(p%w, p/w, color.NRGBA64{
				R: uint16(clamp(math.Round(data[p*3]), 0, math.MaxUint16)),
				G: uint16(clamp(math.Round(data[p*3+1]), 0, math.MaxUint16)),
				B: uint16(clamp(math.Round(data[p*3+2]), 0, math.MaxUint16)),
				A: math.MaxUint16,
			})
		}
		return img, nil
	}
	img := image.NewNRGBA(rect)
	for p := 0; p < w*h; p++ {
		img.SetNRGBA(p%w, p/w, color.NRGBA{
			R: uint8(clamp(math.Round(data[p*3]), 0, math.MaxUint8)),
			G: uint8(clamp(math.Round(data[p*3+1]), 0, math.MaxUint8)),
			B: uint8(clamp(math.Round(data[p*3+2]), 0, math.MaxUint8)),
			A: math.MaxUint8,
		})
	}
	return img, nil
}

func grayPalette(p color.Palette) bool {
	for _, c := range p {
		n := color.NRGBAModel.Convert(c).(color.NRGBA)
		if n.R != n.G || n.G != n.B {
			return false
		}
	}
	return true
}

func isWide(d ndarray.DType) bool {
	return d == ndarray.Uint16 || d == ndarray.Int16
}

func (rasterCodec) Encode(path string, ds *Dataset, opts Options) error {
	ext := Extension(path)
	wide := isWide(ds.Array.DType()) && (ext == "png" || ext == "tif" || ext == "tiff")
	img, err := ArrayToImage(ds.Array, wide)
	if err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(file)
	switch ext {
	case "jpg", "jpeg":
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: opts.JPEGQuality})
	case "png":
		err = png.Encode(w, img)
	case "bmp":
		err = bmp.Encode(w, img)
	case "tif", "tiff":
		compression := tiff.Uncompressed
		if opts.Compress {
			compression = tiff.Deflate
		}
		err = tiff.Encode(w, img, &tiff.Options{Compression: compression})
	default:
		err = fmt.Errorf("no raster encoder for %q", ext)
	}
	if err == nil {
		err = w.Flush()
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	return err
}
