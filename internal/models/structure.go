package models

import "strings"

// ContourLoop is one closed polygon on a single axial plane
type ContourLoop struct {
	Points []Point3
}

// Z returns the plane of the loop. Structure sets repeat z for every
// point; the first one is authoritative.
func (l ContourLoop) Z() float64 {
	if len(l.Points) == 0 {
		return 0
	}
	return l.Points[0].Z
}

// Region is a named anatomical structure (ROI)
type Region struct {
	Number int
	Name   string
	Loops  []ContourLoop
}

// SeriesRef is one RTReferencedSeriesSequence item
type SeriesRef struct {
	SeriesUID string
}

// StudyRef is one RTReferencedStudySequence item
type StudyRef struct {
	StudyUID string
	Series   []SeriesRef
}

// FrameOfReferenceRef is one ReferencedFrameOfReferenceSequence item
type FrameOfReferenceRef struct {
	FrameOfReferenceUID string
	Studies             []StudyRef
}

// StructureSet is a parsed RTSTRUCT document
type StructureSet struct {
	PatientID string
	Path      string
	Label     string

	// Regions is ordered as in StructureSetROISequence
	Regions []Region

	// References is the frame-of-reference -> study -> series chain that
	// links the document to its source CT series
	References []FrameOfReferenceRef
}

// RegionByName returns the region whose name matches exactly
func (s *StructureSet) RegionByName(name string) (*Region, bool) {
	for i := range s.Regions {
		if s.Regions[i].Name == name {
			return &s.Regions[i], true
		}
	}
	return nil, false
}

// RegionByNumber returns the region with the given ROI number
func (s *StructureSet) RegionByNumber(number int) (*Region, bool) {
	for i := range s.Regions {
		if s.Regions[i].Number == number {
			return &s.Regions[i], true
		}
	}
	return nil, false
}

// RegionNames lists region names in document order
func (s *StructureSet) RegionNames() []string {
	names := make([]string, 0, len(s.Regions))
	for _, r := range s.Regions {
		names = append(names, r.Name)
	}
	return names
}

// ReferencedSeriesUIDs flattens the reference chain. ok is false when any
// link of the chain is missing, which callers treat as malformed.
func (s *StructureSet) ReferencedSeriesUIDs() (uids []string, ok bool) {
	if len(s.References) == 0 {
		return nil, false
	}
	for _, frame := range s.References {
		if len(frame.Studies) == 0 {
			return nil, false
		}
		for _, study := range frame.Studies {
			if len(study.Series) == 0 {
				return nil, false
			}
			for _, series := range study.Series {
				uid := strings.TrimSpace(series.SeriesUID)
				if uid == "" {
					return nil, false
				}
				uids = append(uids, uid)
			}
		}
	}
	return uids, true
}
