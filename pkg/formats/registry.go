package formats

import (
	"fmt"
	"strings"

	"medview/pkg/errs"
	"medview/pkg/grid"
)

// Strategy identifies the adapter variant selected for an extension.
type Strategy uint8

const (
	StrategyDICOM Strategy = iota + 1
	StrategyVolume
	StrategySLC
	StrategyGrid
	StrategyRaster
)

func (s Strategy) String() string {
	switch s {
	case StrategyDICOM:
		return "dicom"
	case StrategyVolume:
		return "volume"
	case StrategySLC:
		return "slc"
	case StrategyGrid:
		return "grid"
	case StrategyRaster:
		return "raster"
	}
	return fmt.Sprintf("strategy(%d)", uint8(s))
}

// Codec decodes and encodes one family of formats.
type Codec interface {
	Decode(path string) (*Dataset, error)
	Encode(path string, ds *Dataset, opts Options) error
}

// Options tune encoders.
type Options struct {
	// JPEGQuality is the JPEG quality in [1, 100].
	JPEGQuality int
	// Compress enables zlib blocks in VTK XML files and deflate in TIFF.
	Compress bool
}

// Option modifies Options.
type Option func(*Options)

// WithJPEGQuality sets the JPEG quality.
func WithJPEGQuality(q int) Option {
	return func(o *Options) { o.JPEGQuality = q }
}

// WithCompression toggles compressed output where the format supports it.
func WithCompression(on bool) Option {
	return func(o *Options) { o.Compress = on }
}

// DefaultOptions returns the encoder defaults.
func DefaultOptions() Options {
	return Options{JPEGQuality: 90, Compress: true}
}

var decoders = map[string]Strategy{
	"DCM":  StrategyDICOM,
	"dcm":  StrategyDICOM,
	"nii":  StrategyVolume,
	"gz":   StrategyVolume,
	"slc":  StrategySLC,
	"vtk":  StrategyGrid,
	"pvtk": StrategyGrid,
	"vti":  StrategyGrid,
	"pvti": StrategyGrid,
	"vtr":  StrategyGrid,
	"pvtr": StrategyGrid,
	"vtu":  StrategyGrid,
	"pvtu": StrategyGrid,
	"vtp":  StrategyGrid,
	"obj":  StrategyGrid,
	"ply":  StrategyGrid,
	"stl":  StrategyGrid,
	"jpg":  StrategyRaster,
	"jpeg": StrategyRaster,
	"png":  StrategyRaster,
	"bmp":  StrategyRaster,
	"tif":  StrategyRaster,
	"tiff": StrategyRaster,
}

var (
	structuredEncoders = map[string]Strategy{
		"vtk":  StrategyGrid,
		"pvtk": StrategyGrid,
		"vti":  StrategyGrid,
		"pvti": StrategyGrid,
		"vtr":  StrategyGrid,
		"pvtr": StrategyGrid,
		"slc":  StrategySLC,
	}
	meshEncoders = map[string]Strategy{
		"vtk":  StrategyGrid,
		"pvtk": StrategyGrid,
		"vtp":  StrategyGrid,
		"vtu":  StrategyGrid,
		"pvtu": StrategyGrid,
		"ply":  StrategyGrid,
		"obj":  StrategyGrid,
		"stl":  StrategyGrid,
	}
	rasterEncoders = map[string]Strategy{
		"jpg":  StrategyRaster,
		"jpeg": StrategyRaster,
		"png":  StrategyRaster,
		"bmp":  StrategyRaster,
		"tif":  StrategyRaster,
		"tiff": StrategyRaster,
		"dcm":  StrategyDICOM,
		"DCM":  StrategyDICOM,
	}
)

var codecs = map[Strategy]Codec{
	StrategyDICOM:  dicomCodec{},
	StrategyVolume: niftiCodec{},
	StrategySLC:    slcCodec{},
	StrategyGrid:   gridCodec{},
	StrategyRaster: rasterCodec{},
}

// Extension returns the case-preserved text after the last '.' of the file
// name, or "" when there is none.
func Extension(path string) string {
	base := path
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	i := strings.LastIndexByte(base, '.')
	if i < 0 {
		return ""
	}
	return base[i+1:]
}

// DecoderFor selects the decode strategy for path.
func DecoderFor(path string) (Strategy, error) {
	ext := Extension(path)
	s, ok := decoders[ext]
	if !ok {
		return 0, errs.Unsupported("read", path, "no decoder for extension %q", ext)
	}
	return s, nil
}

// Decode reads path with the codec selected by its extension and returns the
// normalized dataset.
func Decode(path string) (*Dataset, error) {
	s, err := DecoderFor(path)
	if err != nil {
		return nil, err
	}
	ds, err := codecs[s].Decode(path)
	if err != nil {
		return nil, errs.Decode("read", path, err)
	}
	if ds.Array == nil {
		return nil, errs.Decodef("read", path, "no data")
	}
	return Normalize(ds), nil
}

// EncoderFor selects the encode strategy for path. g is the grid of the
// dataset being written, or nil for raster data.
func EncoderFor(path string, g *grid.Grid) (Strategy, error) {
	ext := Extension(path)
	if ext == "nii" || ext == "gz" {
		return StrategyVolume, nil
	}
	table, what := rasterEncoders, "raster data"
	if g != nil {
		table, what = structuredEncoders, g.Kind.String()
		if g.Kind.IsMesh() {
			table = meshEncoders
		}
	}
	s, ok := table[ext]
	if !ok {
		return 0, errs.Unsupported("write", path, "extension %q cannot hold %s", ext, what)
	}
	return s, nil
}

// Encode writes ds to path.
func Encode(path string, ds *Dataset, opts ...Option) error {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	s, err := EncoderFor(path, ds.Grid)
	if err != nil {
		return err
	}
	if s != StrategyVolume && ds.Grid == nil && ds.Array.Is3D() {
		return errs.Unsupported("write", path, "volumetric data needs a grid-capable format")
	}
	return errs.Encode("write", path, codecs[s].Encode(path, ds, o))
}
