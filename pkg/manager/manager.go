// Package manager owns the canonical state of one dataset. A DataManager
// reads a file through the format adapter layer, exposes the processing
// catalog whose operations each return a new DataManager, and writes its
// state back to disk.
//
// A DataManager is not safe for concurrent use; callers serialize access to
// a given instance. Distinct instances share no state.
package manager

import (
	"fmt"

	"medview/pkg/errs"
	"medview/pkg/formats"
	"medview/pkg/grid"
	"medview/pkg/histogram"
	"medview/pkg/ndarray"
)

// DataManager holds a canonical array, the structured grid of volumetric
// data and the DICOM header of the file it was loaded from.
type DataManager struct {
	array *ndarray.Array
	grid  *grid.Grid
	meta  *formats.Metadata
}

// New wraps a in a manager with no grid and no metadata. The manager takes
// ownership of a; rank-2 arrays gain a trailing unit axis.
func New(a *ndarray.Array) *DataManager {
	if a == nil {
		panic("manager: nil array")
	}
	if a.Rank() == 2 {
		a = a.WithChannelAxis()
	}
	return &DataManager{array: a}
}

// Read loads path, replacing the array, grid and metadata. On failure the
// manager keeps its previous state.
func (m *DataManager) Read(path string) error {
	ds, err := formats.Decode(path)
	if err != nil {
		return err
	}
	m.array = ds.Array
	m.grid = nil
	if ds.Kind == formats.HasGrid {
		m.grid = ds.Grid
	}
	m.meta = ds.Metadata
	return nil
}

// Write encodes the current state to path. Volumetric data without a grid
// is written with a grid derived from the array.
func (m *DataManager) Write(path string, opts ...formats.Option) error {
	if m.array == nil {
		return errs.Unavailable("write", "no data loaded")
	}
	return formats.Encode(path, m.dataset(), opts...)
}

// EncoderFor reports the encoder Write would use for path.
func (m *DataManager) EncoderFor(path string) (formats.Strategy, error) {
	if m.array == nil {
		return 0, errs.Unavailable("write", "no data loaded")
	}
	return formats.EncoderFor(path, m.dataset().Grid)
}

func (m *DataManager) dataset() *formats.Dataset {
	ds := &formats.Dataset{Kind: formats.NoGrid, Array: m.array, Grid: m.grid, Metadata: m.meta}
	if ds.Grid == nil && m.array.Is3D() {
		ds.Grid = grid.FromArray(m.array)
	}
	if ds.Grid != nil {
		ds.Kind = formats.HasGrid
	}
	return ds
}

// Loaded reports whether the manager holds data.
func (m *DataManager) Loaded() bool { return m.array != nil }

// Array returns the canonical array. It must not be modified.
func (m *DataManager) Array() *ndarray.Array { return m.array }

// Grid returns the structured grid, or nil for 2D data and for operation
// results.
func (m *DataManager) Grid() *grid.Grid { return m.grid }

// Metadata returns the DICOM header of the last loaded file, or nil when it
// was not a DICOM file.
func (m *DataManager) Metadata() *formats.Metadata { return m.meta }

// Is3D reports whether the array is volumetric.
func (m *DataManager) Is3D() bool { return m.array != nil && m.array.Is3D() }

// Histogram bins the current array and hands the result to p when p is not
// nil. The manager is unchanged.
func (m *DataManager) Histogram(bins int, p histogram.Presenter) (*histogram.Histogram, error) {
	if err := m.need("histogram"); err != nil {
		return nil, err
	}
	h, err := histogram.Compute(m.array, bins)
	if err != nil {
		return nil, err
	}
	if p != nil {
		if err := p.Present(h); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (m *DataManager) need(op string) error {
	if m.array == nil {
		return errs.Unavailable(op, "no data loaded")
	}
	return nil
}

// String summarizes the manager for logs.
func (m *DataManager) String() string {
	if m.array == nil {
		return "DataManager(empty)"
	}
	mode := "2D"
	if m.array.Is3D() {
		mode = "3D"
	}
	s := fmt.Sprintf("DataManager(%s %v %s", mode, m.array.Shape(), m.array.DType())
	if m.grid != nil {
		s += " " + m.grid.Kind.String()
	}
	if m.meta != nil {
		s += " dicom"
	}
	return s + ")"
}
