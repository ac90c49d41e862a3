package ndarray

// Lines calls fn once for every 1-D line running along axis. start is the
// flat offset of the first element of the line and stride the distance
// between consecutive elements; the line holds shape[axis] elements.
func Lines(shape []int, axis int, fn func(start, stride int)) {
	outer := 1
	for _, s := range shape[:axis] {
		outer *= s
	}
	inner := 1
	for _, s := range shape[axis+1:] {
		inner *= s
	}
	n := shape[axis]
	for o := 0; o < outer; o++ {
		base := o * n * inner
		for i := 0; i < inner; i++ {
			fn(base+i, inner)
		}
	}
}

// Unravel converts a flat offset into a multi-index written to idx.
func Unravel(off int, shape []int, idx []int) {
	for i := len(shape) - 1; i >= 0; i-- {
		if shape[i] == 0 {
			idx[i] = 0
			continue
		}
		idx[i] = off % shape[i]
		off /= shape[i]
	}
}

// Plane returns a copy of the 2-D plane a[..., c] for a rank-3 array with
// channel index c, shaped (rows, cols).
func (a *Array) Plane(c int) *Array {
	rows, cols, ch := a.shape[0], a.shape[1], a.shape[2]
	out := New(a.dtype, rows, cols)
	for i := 0; i < rows*cols; i++ {
		out.data[i] = a.data[i*ch+c]
	}
	return out
}

// SetPlane writes a (rows, cols) plane into channel c of a rank-3 array.
func (a *Array) SetPlane(c int, p *Array) {
	ch := a.shape[2]
	for i, v := range p.data {
		a.data[i*ch+c] = v
	}
}

// Depth returns a copy of the 2-D slice a[d] of a rank-3 volume.
func (a *Array) Depth(d int) *Array {
	rows, cols := a.shape[1], a.shape[2]
	out := New(a.dtype, rows, cols)
	copy(out.data, a.data[d*rows*cols:(d+1)*rows*cols])
	return out
}

// SetDepth writes a (rows, cols) slice into depth d of a rank-3 volume.
func (a *Array) SetDepth(d int, p *Array) {
	n := p.Len()
	copy(a.data[d*n:(d+1)*n], p.data)
}

// WithDType returns a copy of a relabelled as dtype without converting values.
func (a *Array) WithDType(dtype DType) *Array {
	c := a.Clone()
	c.dtype = dtype
	return c
}
