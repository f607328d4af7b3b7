package reconstruction

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"ctroistats/internal/models"
)

// ErrEmptySeries is returned when a series has no slices to assemble
var ErrEmptySeries = errors.New("series has no slices")

// sliceShape is the in-plane pixel shape used for majority voting
type sliceShape struct {
	rows, cols int
}

// orderingKey returns the position of a slice along the acquisition axis.
// With byPosition the z component of ImagePositionPatient is used,
// otherwise InstanceNumber; slices without it collapse onto position 0.
func orderingKey(s *models.Slice, byPosition bool) float64 {
	switch {
	case byPosition:
		return s.Position.Z
	case s.HasInstanceNumber:
		return float64(s.InstanceNumber)
	default:
		return 0
	}
}

// allPositioned reports whether every slice carries ImagePositionPatient.
// Millimetre positions and instance numbers are never mixed in one ordering.
func allPositioned(slices []models.Slice) bool {
	for i := range slices {
		if !slices[i].HasPosition {
			return false
		}
	}
	return true
}

// BuildVolume assembles an HU volume from an unordered set of slices that
// belong to a single series.
//
// The build process consists of several steps:
// 1. Ordering slices by their position along the acquisition axis
// 2. Keeping only the slices that share the most common in-plane shape
// 3. Deriving spacing and origin from the first ordered slices
// 4. Rescaling every pixel with the first slice's slope and intercept
//
// Recoverable problems (mixed shapes, missing optional tags, duplicate
// positions) are returned as IntegrityWarning diagnostics. An empty input
// returns ErrEmptySeries.
func BuildVolume(slices []models.Slice) (*models.Volume, []models.Diagnostic, error) {
	if len(slices) == 0 {
		return nil, nil, ErrEmptySeries
	}

	var diags []models.Diagnostic

	// Step 1: order along the acquisition axis
	ordered := make([]models.Slice, len(slices))
	copy(ordered, slices)
	byPosition := allPositioned(ordered)
	sort.SliceStable(ordered, func(i, j int) bool {
		return orderingKey(&ordered[i], byPosition) < orderingKey(&ordered[j], byPosition)
	})
	diags = append(diags, orderingWarnings(ordered)...)

	// Step 2: majority shape
	kept, shape := keepMajorityShape(ordered)
	if dropped := len(ordered) - len(kept); dropped > 0 {
		diags = append(diags, models.Warn(
			"discarded %d of %d slices whose shape differs from the majority %dx%d",
			dropped, len(ordered), shape.rows, shape.cols))
	}
	ordered = kept
	first := &ordered[0]

	if shape.rows <= 0 || shape.cols <= 0 {
		return nil, diags, fmt.Errorf("slice %s has an empty pixel grid (%dx%d)", first.Path, shape.rows, shape.cols)
	}

	// Step 3: geometry
	zs := make([]float64, len(ordered))
	for i := range ordered {
		zs[i] = orderingKey(&ordered[i], byPosition)
	}
	if n := countDuplicates(zs); n > 0 {
		diags = append(diags, models.Warn("%d slices share a position with their neighbour", n))
	}

	spacing := models.Spacing{Row: 1, Col: 1, Slice: 1}
	if first.HasPixelSpacing && first.PixelSpacing[0] > 0 && first.PixelSpacing[1] > 0 {
		spacing.Row = first.PixelSpacing[0]
		spacing.Col = first.PixelSpacing[1]
	} else {
		diags = append(diags, models.Warn("pixel spacing missing on first slice, assuming 1.0 mm"))
	}
	if len(zs) > 1 {
		gap := math.Abs(zs[1] - zs[0])
		if gap > 0 {
			spacing.Slice = gap
		} else {
			diags = append(diags, models.Warn("first two slices share position %g, assuming 1.0 mm slice gap", zs[0]))
		}
	}

	origin := models.Point3{Z: zs[0]}
	if byPosition {
		origin = first.Position
	}

	// Step 4: rescale to HU
	slope, intercept := 1.0, 0.0
	if first.HasRescale {
		slope, intercept = first.RescaleSlope, first.RescaleIntercept
	} else {
		diags = append(diags, models.Warn("rescale slope/intercept missing, using 1/0"))
	}

	plane := shape.rows * shape.cols
	data := make([]float64, plane*len(ordered))
	for k := range ordered {
		s := &ordered[k]
		if len(s.Pixels) != plane {
			return nil, diags, fmt.Errorf("slice %s has %d pixels, expected %d", s.Path, len(s.Pixels), plane)
		}
		offset := k * plane
		for i, raw := range s.Pixels {
			data[offset+i] = raw*slope + intercept
		}
	}

	for i := range diags {
		diags[i].PatientID = first.PatientID
		diags[i].SeriesUID = first.SeriesUID
	}

	return &models.Volume{
		Data:       data,
		Shape:      models.Shape{Rows: shape.rows, Cols: shape.cols, Slices: len(ordered)},
		Spacing:    spacing,
		Origin:     origin,
		ZPositions: zs,
		SeriesUID:  first.SeriesUID,
		PatientID:  first.PatientID,
	}, diags, nil
}

// keepMajorityShape returns the slices sharing the most common shape.
// Ties go to the shape that appears first in the ordered sequence.
func keepMajorityShape(ordered []models.Slice) ([]models.Slice, sliceShape) {
	counts := make(map[sliceShape]int)
	var seen []sliceShape
	for i := range ordered {
		sh := sliceShape{ordered[i].Rows, ordered[i].Cols}
		if counts[sh] == 0 {
			seen = append(seen, sh)
		}
		counts[sh]++
	}

	best := seen[0]
	for _, sh := range seen[1:] {
		if counts[sh] > counts[best] {
			best = sh
		}
	}
	if counts[best] == len(ordered) {
		return ordered, best
	}

	kept := make([]models.Slice, 0, counts[best])
	for _, s := range ordered {
		if s.Rows == best.rows && s.Cols == best.cols {
			kept = append(kept, s)
		}
	}
	return kept, best
}

// orderingWarnings reports slices that could not be ordered by position
func orderingWarnings(ordered []models.Slice) []models.Diagnostic {
	var noPosition, noKey int
	for i := range ordered {
		if !ordered[i].HasPosition {
			noPosition++
		}
		if !ordered[i].HasInstanceNumber {
			noKey++
		}
	}
	if noPosition == 0 {
		return nil
	}

	var diags []models.Diagnostic
	diags = append(diags, models.Warn("%d slices lack ImagePositionPatient, series ordered by InstanceNumber", noPosition))
	if noKey > 0 {
		diags = append(diags, models.Warn("%d slices have no ordering attribute and were placed at position 0", noKey))
	}
	return diags
}

func countDuplicates(sorted []float64) int {
	n := 0
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			n++
		}
	}
	return n
}
