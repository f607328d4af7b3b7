package models

// Mask is a boolean voxel grid with the same layout as Volume
type Mask struct {
	Shape Shape
	Data  []bool
}

// NewMask allocates an all-false mask
func NewMask(shape Shape) *Mask {
	return &Mask{
		Shape: shape,
		Data:  make([]bool, shape.Len()),
	}
}

// Index returns the offset of voxel (r, c, k) inside Data
func (m *Mask) Index(r, c, k int) int {
	return k*m.Shape.Rows*m.Shape.Cols + r*m.Shape.Cols + c
}

// Get reports whether voxel (r, c, k) is set
func (m *Mask) Get(r, c, k int) bool {
	return m.Data[m.Index(r, c, k)]
}

// Set marks voxel (r, c, k)
func (m *Mask) Set(r, c, k int) {
	m.Data[m.Index(r, c, k)] = true
}

// Count returns the number of set voxels
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Data {
		if v {
			n++
		}
	}
	return n
}

// SliceCount returns the number of set voxels on slice k
func (m *Mask) SliceCount(k int) int {
	plane := m.Shape.Rows * m.Shape.Cols
	n := 0
	for _, v := range m.Data[k*plane : (k+1)*plane] {
		if v {
			n++
		}
	}
	return n
}

// Or sets every voxel that is set in other. Shapes must match.
func (m *Mask) Or(other *Mask) {
	for i, v := range other.Data {
		if v {
			m.Data[i] = true
		}
	}
}
