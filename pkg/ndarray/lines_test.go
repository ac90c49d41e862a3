package ndarray

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLinesCoverEveryElement verifies each element is visited exactly once per axis
func TestLinesCoverEveryElement(t *testing.T) {
	shape := []int{2, 3, 4}
	total := 2 * 3 * 4
	for axis := range shape {
		seen := make([]int, total)
		count := 0
		Lines(shape, axis, func(start, stride int) {
			count++
			for k := 0; k < shape[axis]; k++ {
				seen[start+k*stride]++
			}
		})
		assert.Equal(t, total/shape[axis], count, "axis %d", axis)
		for i, s := range seen {
			require.Equal(t, 1, s, "axis %d element %d", axis, i)
		}
	}
}

// TestUnravel verifies the inverse of Index
func TestUnravel(t *testing.T) {
	a := New(Uint8, 2, 3, 4)
	idx := make([]int, 3)
	Unravel(a.Index(1, 2, 3), a.Shape(), idx)
	assert.Equal(t, []int{1, 2, 3}, idx)
}

// TestPlaneRoundTrip verifies channel plane extraction and insertion
func TestPlaneRoundTrip(t *testing.T) {
	a := New(Uint8, 2, 2, 3)
	for i := range a.Data() {
		a.Data()[i] = float64(i)
	}
	p := a.Plane(1)
	assert.Equal(t, []float64{1, 4, 7, 10}, p.Data())

	b := New(Uint8, 2, 2, 3)
	b.SetPlane(1, p)
	assert.Equal(t, 7.0, b.At(1, 0, 1))

	v := New(Uint8, 3, 2, 2)
	v.SetDepth(2, p)
	assert.Equal(t, p.Data(), v.Depth(2).Data())
}
