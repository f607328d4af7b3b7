// Package testutil writes small synthetic CT series and RT structure sets
// for tests that exercise real DICOM decoding.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
)

const explicitVRLittleEndian = "1.2.840.10008.1.2.1"

// CTSlice describes one synthetic CT image
type CTSlice struct {
	PatientID string
	SeriesUID string
	Instance  int
	Z         float64

	Rows, Cols int

	// Spacing is (row, col) in mm; zero leaves PixelSpacing out
	Spacing [2]float64

	// Raw pixel values; nil fills the grid with Fill
	Pixels []int
	Fill   int

	// Signed writes PixelRepresentation 1 and stores values as two's complement
	Signed bool

	Slope, Intercept float64

	// Modality defaults to CT
	Modality string
}

// ROI describes one region of a synthetic structure set
type ROI struct {
	Number int
	Name   string

	// Loops hold flattened x,y,z triplets
	Loops [][]float64
}

// StructureSet describes a synthetic RTSTRUCT document
type StructureSet struct {
	PatientID string
	Label     string

	// SeriesUIDs are written into the referenced series chain; empty omits
	// the chain entirely
	SeriesUIDs []string

	ROIs []ROI
}

// builder creates elements and keeps the first error
type builder struct {
	err error
}

func (b *builder) el(t tag.Tag, value interface{}) *dicom.Element {
	el, err := dicom.NewElement(t, value)
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("failed to create element %v: %w", t, err)
	}
	return el
}

func ds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteCT writes s to path or fails the test
func WriteCT(tb testing.TB, path string, s CTSlice) {
	tb.Helper()
	if err := WriteCTFile(path, s); err != nil {
		tb.Fatal(err)
	}
}

// WriteStructureSet writes ss to path or fails the test
func WriteStructureSet(tb testing.TB, path string, ss StructureSet) {
	tb.Helper()
	if err := WriteStructureSetFile(path, ss); err != nil {
		tb.Fatal(err)
	}
}

// WriteCTFile writes s to path, creating parent directories
func WriteCTFile(path string, s CTSlice) error {
	b := &builder{}

	modality := s.Modality
	if modality == "" {
		modality = "CT"
	}
	signed := 0
	if s.Signed {
		signed = 1
	}

	elems := []*dicom.Element{
		b.el(tag.TransferSyntaxUID, []string{explicitVRLittleEndian}),
		b.el(tag.MediaStorageSOPClassUID, []string{"1.2.840.10008.5.1.4.1.1.2"}),
		b.el(tag.MediaStorageSOPInstanceUID, []string{fmt.Sprintf("%s.%d", s.SeriesUID, s.Instance)}),
		b.el(tag.PatientID, []string{s.PatientID}),
		b.el(tag.Modality, []string{modality}),
		b.el(tag.SeriesInstanceUID, []string{s.SeriesUID}),
		b.el(tag.SOPInstanceUID, []string{fmt.Sprintf("%s.%d", s.SeriesUID, s.Instance)}),
		b.el(tag.InstanceNumber, []string{strconv.Itoa(s.Instance)}),
		b.el(tag.ImagePositionPatient, []string{"0", "0", ds(s.Z)}),
		b.el(tag.Rows, []int{s.Rows}),
		b.el(tag.Columns, []int{s.Cols}),
		b.el(tag.BitsAllocated, []int{16}),
		b.el(tag.BitsStored, []int{16}),
		b.el(tag.HighBit, []int{15}),
		b.el(tag.PixelRepresentation, []int{signed}),
		b.el(tag.SamplesPerPixel, []int{1}),
		b.el(tag.PhotometricInterpretation, []string{"MONOCHROME2"}),
	}
	if s.Spacing[0] > 0 {
		elems = append(elems, b.el(tag.PixelSpacing, []string{ds(s.Spacing[0]), ds(s.Spacing[1])}))
	}
	if s.Slope != 0 {
		elems = append(elems,
			b.el(tag.RescaleSlope, []string{ds(s.Slope)}),
			b.el(tag.RescaleIntercept, []string{ds(s.Intercept)}),
		)
	}

	n := s.Rows * s.Cols
	nf := frame.NewNativeFrame[uint16](16, s.Rows, s.Cols, n, 1)
	for i := 0; i < n; i++ {
		v := s.Fill
		if s.Pixels != nil {
			v = s.Pixels[i]
		}
		if s.Signed {
			nf.RawData[i] = uint16(int16(v))
		} else {
			nf.RawData[i] = uint16(v)
		}
	}
	elems = append(elems, b.el(tag.PixelData, dicom.PixelDataInfo{
		Frames: []*frame.Frame{{Encapsulated: false, NativeData: nf}},
	}))

	if b.err != nil {
		return b.err
	}
	return write(path, elems)
}

// WriteStructureSetFile writes an RTSTRUCT document to path
func WriteStructureSetFile(path string, ss StructureSet) error {
	b := &builder{}

	elems := []*dicom.Element{
		b.el(tag.TransferSyntaxUID, []string{explicitVRLittleEndian}),
		b.el(tag.MediaStorageSOPClassUID, []string{"1.2.840.10008.5.1.4.1.1.481.3"}),
		b.el(tag.MediaStorageSOPInstanceUID, []string{"1.2.826.0.1.3680043.8.498.7"}),
		b.el(tag.PatientID, []string{ss.PatientID}),
		b.el(tag.Modality, []string{"RTSTRUCT"}),
		b.el(tag.StructureSetLabel, []string{ss.Label}),
	}

	if len(ss.SeriesUIDs) > 0 {
		var series [][]*dicom.Element
		for _, uid := range ss.SeriesUIDs {
			series = append(series, []*dicom.Element{b.el(tag.SeriesInstanceUID, []string{uid})})
		}
		study := []*dicom.Element{
			b.el(tag.ReferencedSOPClassUID, []string{"1.2.840.10008.3.1.2.3.1"}),
			b.el(tag.ReferencedSOPInstanceUID, []string{"1.2.826.0.1.3680043.8.498.1"}),
			b.el(tag.RTReferencedSeriesSequence, series),
		}
		frameRef := []*dicom.Element{
			b.el(tag.FrameOfReferenceUID, []string{"1.2.826.0.1.3680043.8.498.2"}),
			b.el(tag.RTReferencedStudySequence, [][]*dicom.Element{study}),
		}
		elems = append(elems, b.el(tag.ReferencedFrameOfReferenceSequence, [][]*dicom.Element{frameRef}))
	}

	var roiItems, contourItems [][]*dicom.Element
	for _, roi := range ss.ROIs {
		roiItems = append(roiItems, []*dicom.Element{
			b.el(tag.ROINumber, []string{strconv.Itoa(roi.Number)}),
			b.el(tag.ROIName, []string{roi.Name}),
		})

		var loops [][]*dicom.Element
		for _, loop := range roi.Loops {
			vals := make([]string, len(loop))
			for i, v := range loop {
				vals[i] = ds(v)
			}
			loops = append(loops, []*dicom.Element{
				b.el(tag.ContourGeometricType, []string{"CLOSED_PLANAR"}),
				b.el(tag.NumberOfContourPoints, []string{strconv.Itoa(len(loop) / 3)}),
				b.el(tag.ContourData, vals),
			})
		}
		item := []*dicom.Element{
			b.el(tag.ReferencedROINumber, []string{strconv.Itoa(roi.Number)}),
		}
		if len(loops) > 0 {
			item = append(item, b.el(tag.ContourSequence, loops))
		}
		contourItems = append(contourItems, item)
	}
	if len(roiItems) > 0 {
		elems = append(elems,
			b.el(tag.StructureSetROISequence, roiItems),
			b.el(tag.ROIContourSequence, contourItems),
		)
	}

	if b.err != nil {
		return b.err
	}
	return write(path, elems)
}

// Square returns a closed axis-aligned loop as flattened triplets
func Square(x0, y0, x1, y1, z float64) []float64 {
	return []float64{
		x0, y0, z,
		x1, y0, z,
		x1, y1, z,
		x0, y1, z,
	}
}

func write(path string, elems []*dicom.Element) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	if err := dicom.Write(f, dicom.Dataset{Elements: elems}); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
