package models

// Point3 is a physical patient-space coordinate in millimetres
type Point3 struct {
	X, Y, Z float64
}

// Shape is the voxel extent of a Volume or Mask
type Shape struct {
	Rows, Cols, Slices int
}

// Len returns the number of voxels covered by the shape
func (s Shape) Len() int {
	return s.Rows * s.Cols * s.Slices
}

// Spacing is the physical voxel size in mm along (row, column, slice)
type Spacing struct {
	Row, Col, Slice float64
}

// Slice represents a single axial CT image with the metadata needed to
// place it inside a volume
type Slice struct {
	// Pixels is the raw (unrescaled) pixel buffer in row-major order
	Pixels []float64

	// Rows and Cols are the in-plane dimensions of Pixels
	Rows int
	Cols int

	// Position is ImagePositionPatient, the mm position of the first pixel
	Position    Point3
	HasPosition bool

	// InstanceNumber is the fallback ordering key when Position is absent
	InstanceNumber    int
	HasInstanceNumber bool

	// PixelSpacing is (row spacing, column spacing) in mm
	PixelSpacing    [2]float64
	HasPixelSpacing bool

	// RescaleSlope and RescaleIntercept convert raw values to HU
	RescaleSlope     float64
	RescaleIntercept float64
	HasRescale       bool

	// SeriesUID identifies the parent series
	SeriesUID string

	// PatientID identifies the patient the slice belongs to
	PatientID string

	// Path is the file the slice was read from
	Path string
}

// Geometry is the spatial frame of a Volume: everything needed to map
// physical coordinates to voxel indices
type Geometry struct {
	Shape      Shape
	Spacing    Spacing
	Origin     Point3
	ZPositions []float64
}

// Volume represents a 3D HU volume reconstructed from CT slices
type Volume struct {
	// Data holds HU values, slice-major: k*Rows*Cols + r*Cols + c
	Data []float64

	// Shape is (rows, cols, slices)
	Shape Shape

	// Spacing is (row mm, col mm, slice gap mm)
	Spacing Spacing

	// Origin is the mm position of voxel [0,0,0]
	Origin Point3

	// ZPositions holds the ordered slice positions along the acquisition axis
	ZPositions []float64

	SeriesUID string
	PatientID string
}

// Index returns the offset of voxel (r, c, k) inside Data
func (v *Volume) Index(r, c, k int) int {
	return k*v.Shape.Rows*v.Shape.Cols + r*v.Shape.Cols + c
}

// At returns the HU value of voxel (r, c, k)
func (v *Volume) At(r, c, k int) float64 {
	return v.Data[v.Index(r, c, k)]
}

// Geometry returns the spatial frame of the volume
func (v *Volume) Geometry() Geometry {
	return Geometry{
		Shape:      v.Shape,
		Spacing:    v.Spacing,
		Origin:     v.Origin,
		ZPositions: v.ZPositions,
	}
}
