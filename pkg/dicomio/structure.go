package dicomio

import (
	"fmt"
	"math"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"ctroistats/internal/models"
)

// ReadStructureSet parses an RTSTRUCT file.
//
// Decoding problems (bad contour data, duplicate ROI numbers) come back as
// a MalformedDocument SkipError. A missing reference chain is not an error
// here; the matcher decides what to do with it.
func (r *Reader) ReadStructureSet(path string) (*models.StructureSet, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, models.Skipf(models.MalformedDocument, "failed to parse %s: %w", path, err)
	}
	return structureSetFromDataset(ds.Elements, path)
}

func structureSetFromDataset(elems []*dicom.Element, path string) (*models.StructureSet, error) {
	ss := &models.StructureSet{Path: path}
	ss.PatientID, _ = stringValue(elems, tag.PatientID)
	ss.Label, _ = stringValue(elems, tag.StructureSetLabel)

	index := make(map[int]int)
	for i, item := range sequenceItems(elems, tag.StructureSetROISequence) {
		number, ok, err := intValue(item, tag.ROINumber)
		if err != nil || !ok {
			return nil, models.Skipf(models.MalformedDocument, "%s: ROI item %d has no usable ROINumber", path, i)
		}
		if _, dup := index[number]; dup {
			return nil, models.Skipf(models.MalformedDocument, "%s: duplicate ROINumber %d", path, number)
		}
		name, _ := stringValue(item, tag.ROIName)
		index[number] = len(ss.Regions)
		ss.Regions = append(ss.Regions, models.Region{Number: number, Name: name})
	}

	for i, item := range sequenceItems(elems, tag.ROIContourSequence) {
		number, ok, err := intValue(item, tag.ReferencedROINumber)
		if err != nil || !ok {
			return nil, models.Skipf(models.MalformedDocument, "%s: contour item %d has no usable ReferencedROINumber", path, i)
		}
		at, known := index[number]
		if !known {
			// contours for an ROI the document never declares carry no name
			continue
		}

		for j, contour := range sequenceItems(item, tag.ContourSequence) {
			if kind, ok := stringValue(contour, tag.ContourGeometricType); ok && kind == "POINT" {
				continue
			}
			loop, err := contourLoop(contour)
			if err != nil {
				return nil, models.Skipf(models.MalformedDocument, "%s: ROI %d contour %d: %w", path, number, j, err)
			}
			if len(loop.Points) > 0 {
				ss.Regions[at].Loops = append(ss.Regions[at].Loops, loop)
			}
		}
	}

	for _, frameItem := range sequenceItems(elems, tag.ReferencedFrameOfReferenceSequence) {
		frame := models.FrameOfReferenceRef{}
		frame.FrameOfReferenceUID, _ = stringValue(frameItem, tag.FrameOfReferenceUID)
		for _, studyItem := range sequenceItems(frameItem, tag.RTReferencedStudySequence) {
			study := models.StudyRef{}
			study.StudyUID, _ = stringValue(studyItem, tag.ReferencedSOPInstanceUID)
			for _, seriesItem := range sequenceItems(studyItem, tag.RTReferencedSeriesSequence) {
				uid, _ := stringValue(seriesItem, tag.SeriesInstanceUID)
				study.Series = append(study.Series, models.SeriesRef{SeriesUID: uid})
			}
			frame.Studies = append(frame.Studies, study)
		}
		ss.References = append(ss.References, frame)
	}

	return ss, nil
}

// contourLoop decodes ContourData (x1\y1\z1\x2\...) into points
func contourLoop(item []*dicom.Element) (models.ContourLoop, error) {
	vals, ok, err := floatValues(item, tag.ContourData)
	if err != nil {
		return models.ContourLoop{}, err
	}
	if !ok {
		return models.ContourLoop{}, nil
	}
	if len(vals)%3 != 0 {
		return models.ContourLoop{}, fmt.Errorf("ContourData has %d values, not a multiple of 3", len(vals))
	}

	for i, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return models.ContourLoop{}, fmt.Errorf("ContourData value %d is not finite (%g)", i, v)
		}
	}

	loop := models.ContourLoop{Points: make([]models.Point3, 0, len(vals)/3)}
	for i := 0; i < len(vals); i += 3 {
		loop.Points = append(loop.Points, models.Point3{X: vals[i], Y: vals[i+1], Z: vals[i+2]})
	}
	return loop, nil
}
