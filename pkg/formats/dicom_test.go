package formats

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medview/pkg/ndarray"
)

// TestDICOMRoundTrip verifies pixel data and header fields of written DICOM files
func TestDICOMRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		array *ndarray.Array
		want  ndarray.DType
	}{
		{"gray8.dcm", grayImage(6, 5), ndarray.Uint8},
		{"rgb.DCM", rgbImage(4, 6), ndarray.Uint8},
		{"gray16.dcm", func() *ndarray.Array {
			a := ndarray.New(ndarray.Uint16, 3, 4, 1)
			for i := range a.Data() {
				a.Data()[i] = float64(1000 * i)
			}
			return a
		}(), ndarray.Uint16},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			meta := &Metadata{PatientName: "Doe^Jane", PatientID: "P-17", Modality: "MR"}
			path := filepath.Join(t.TempDir(), c.name)
			require.NoError(t, Encode(path, &Dataset{Array: c.array, Metadata: meta}))

			ds, err := Decode(path)
			require.NoError(t, err)
			assert.Equal(t, NoGrid, ds.Kind)
			assert.Equal(t, c.want, ds.Array.DType())
			assert.Equal(t, c.array.Shape(), ds.Array.Shape())
			assert.True(t, c.array.Equal(ds.Array))

			require.NotNil(t, ds.Metadata)
			assert.Equal(t, "Doe^Jane", ds.Metadata.PatientName)
			assert.Equal(t, "P-17", ds.Metadata.PatientID)
			assert.Equal(t, "MR", ds.Metadata.Modality)
			assert.Equal(t, c.array.Dim(0), ds.Metadata.Rows)
			assert.Equal(t, c.array.Dim(1), ds.Metadata.Columns)
			assert.Equal(t, 1, ds.Metadata.Frames)
		})
	}
}

// TestDICOMClampsFloatData verifies that float data is written as 8-bit samples
func TestDICOMClampsFloatData(t *testing.T) {
	a := ndarray.New(ndarray.Float64, 2, 2, 1)
	copy(a.Data(), []float64{-4, 12.6, 300, 255})
	path := filepath.Join(t.TempDir(), "clamped.dcm")
	require.NoError(t, Encode(path, &Dataset{Array: a}))

	ds, err := Decode(path)
	require.NoError(t, err)
	assert.Equal(t, ndarray.Uint8, ds.Array.DType())
	assert.Equal(t, []float64{0, 13, 255, 255}, ds.Array.Data())
}
