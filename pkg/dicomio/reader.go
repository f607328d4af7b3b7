// Package dicomio maps parsed DICOM datasets to the domain types used by the
// rest of the pipeline: CT slices, RT structure sets and input inventories.
package dicomio

import (
	"context"
	"errors"
	"fmt"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"ctroistats/internal/models"
)

var (
	// ErrNoPixelData is returned for image files without a native pixel frame
	ErrNoPixelData = errors.New("no native pixel data")

	// ErrEncapsulated is returned for compressed pixel data, which is not decoded
	ErrEncapsulated = errors.New("encapsulated (compressed) pixel data is not supported")
)

// Reader decodes CT slices and RT structure sets from files
type Reader struct{}

// NewReader creates a new DICOM reader
func NewReader() *Reader {
	return &Reader{}
}

// ReadSlices reads every path in order. The first failure aborts the set.
func (r *Reader) ReadSlices(ctx context.Context, paths []string) ([]models.Slice, error) {
	slices := make([]models.Slice, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s, err := r.ReadSlice(path)
		if err != nil {
			return nil, err
		}
		slices = append(slices, *s)
	}
	return slices, nil
}

// ReadSlice parses one CT image file
func (r *Reader) ReadSlice(path string) (*models.Slice, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	s, err := sliceFromDataset(ds.Elements)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	s.Path = path
	return s, nil
}

func sliceFromDataset(elems []*dicom.Element) (*models.Slice, error) {
	s := &models.Slice{}
	s.SeriesUID, _ = stringValue(elems, tag.SeriesInstanceUID)
	s.PatientID, _ = stringValue(elems, tag.PatientID)

	rows, ok, err := intValue(elems, tag.Rows)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("missing Rows")
	}
	cols, ok, err := intValue(elems, tag.Columns)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("missing Columns")
	}
	s.Rows, s.Cols = rows, cols

	pos, ok, err := floatValues(elems, tag.ImagePositionPatient)
	if err != nil {
		return nil, err
	}
	if ok && len(pos) >= 3 {
		s.Position = models.Point3{X: pos[0], Y: pos[1], Z: pos[2]}
		s.HasPosition = true
	}

	if s.InstanceNumber, s.HasInstanceNumber, err = intValue(elems, tag.InstanceNumber); err != nil {
		return nil, err
	}

	spacing, ok, err := floatValues(elems, tag.PixelSpacing)
	if err != nil {
		return nil, err
	}
	if ok && len(spacing) >= 2 {
		s.PixelSpacing = [2]float64{spacing[0], spacing[1]}
		s.HasPixelSpacing = true
	}

	slope, hasSlope, err := floatValues(elems, tag.RescaleSlope)
	if err != nil {
		return nil, err
	}
	intercept, hasIntercept, err := floatValues(elems, tag.RescaleIntercept)
	if err != nil {
		return nil, err
	}
	if hasSlope || hasIntercept {
		s.RescaleSlope, s.RescaleIntercept = 1, 0
		if hasSlope {
			s.RescaleSlope = slope[0]
		}
		if hasIntercept {
			s.RescaleIntercept = intercept[0]
		}
		s.HasRescale = true
	}

	signed, _, err := intValue(elems, tag.PixelRepresentation)
	if err != nil {
		return nil, err
	}

	el := find(elems, tag.PixelData)
	if el == nil || el.Value == nil {
		return nil, ErrNoPixelData
	}
	info, ok := el.Value.GetValue().(dicom.PixelDataInfo)
	if !ok || len(info.Frames) == 0 || info.Frames[0] == nil {
		return nil, ErrNoPixelData
	}
	if s.Pixels, err = framePixels(info.Frames[0], signed == 1); err != nil {
		return nil, err
	}
	if len(s.Pixels) != rows*cols {
		return nil, fmt.Errorf("pixel frame holds %d samples, expected %dx%d", len(s.Pixels), rows, cols)
	}
	return s, nil
}

// framePixels converts the first native frame to float64. Signed data
// stored in unsigned containers is reinterpreted as two's complement.
func framePixels(fr *frame.Frame, signed bool) ([]float64, error) {
	if fr.Encapsulated {
		return nil, ErrEncapsulated
	}
	switch nf := fr.NativeData.(type) {
	case *frame.NativeFrame[uint8]:
		if signed {
			return convert(nf.RawData, func(v uint8) float64 { return float64(int8(v)) }), nil
		}
		return convert(nf.RawData, func(v uint8) float64 { return float64(v) }), nil
	case *frame.NativeFrame[uint16]:
		if signed {
			return convert(nf.RawData, func(v uint16) float64 { return float64(int16(v)) }), nil
		}
		return convert(nf.RawData, func(v uint16) float64 { return float64(v) }), nil
	case *frame.NativeFrame[uint32]:
		if signed {
			return convert(nf.RawData, func(v uint32) float64 { return float64(int32(v)) }), nil
		}
		return convert(nf.RawData, func(v uint32) float64 { return float64(v) }), nil
	case nil:
		return nil, ErrNoPixelData
	default:
		return nil, fmt.Errorf("unsupported native frame type %T", nf)
	}
}

func convert[T any](raw []T, f func(T) float64) []float64 {
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = f(v)
	}
	return out
}
