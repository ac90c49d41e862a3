// Package formats is the format adapter layer. It maps file extensions to
// codecs, decodes files into a canonical array with optional grid and DICOM
// metadata, and encodes datasets back to disk.
package formats

import (
	"medview/pkg/grid"
	"medview/pkg/ndarray"
)

// Kind tags a decode result.
type Kind uint8

const (
	// NoGrid marks 2D raster data.
	NoGrid Kind = iota
	// HasGrid marks volumetric data carrying a structured grid.
	HasGrid
)

func (k Kind) String() string {
	if k == HasGrid {
		return "HasGrid"
	}
	return "NoGrid"
}

// Dataset is the tagged result of a decode and the input of an encode.
type Dataset struct {
	Kind     Kind
	Array    *ndarray.Array
	Grid     *grid.Grid
	Metadata *Metadata
}

// Metadata is the DICOM header record of a loaded file.
type Metadata struct {
	PatientName      string
	PatientID        string
	PatientSex       string
	PatientBirthDate string
	PatientAge       string
	StudyDate        string
	StudyDescription string
	SeriesNumber     string
	Modality         string
	InstitutionName  string
	Manufacturer     string
	Rows             int
	Columns          int
	BitsAllocated    int
	Frames           int

	// Elements holds every string-valued element keyed by tag name.
	Elements map[string]string
}

// Clone returns a deep copy.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	c := *m
	c.Elements = make(map[string]string, len(m.Elements))
	for k, v := range m.Elements {
		c.Elements[k] = v
	}
	return &c
}

// Normalize enforces the canonical form of a decode result: rank-2 arrays
// gain a trailing unit axis, volumetric arrays carry a grid and raster
// arrays carry none.
func Normalize(ds *Dataset) *Dataset {
	if ds.Array.Rank() == 2 {
		ds.Array = ds.Array.WithChannelAxis()
	}
	if ds.Array.Is3D() {
		if ds.Grid == nil {
			ds.Grid = grid.FromArray(ds.Array)
		}
		ds.Kind = HasGrid
	} else {
		ds.Grid = nil
		ds.Kind = NoGrid
	}
	return ds
}
