// Package matching pairs RT structure sets with the CT series they were
// drawn on.
package matching

import (
	"errors"
	"fmt"
	"sort"

	"ctroistats/internal/models"
)

// ErrNoMatches is returned when not a single CT series could be paired
var ErrNoMatches = errors.New("no CT series matches any structure set")

// Pair is a CT series together with the structure set that references it
type Pair struct {
	Series       models.SeriesGroup
	StructureSet *models.StructureSet
}

// Result is the outcome of matching one batch
type Result struct {
	Pairs []Pair

	// UnmatchedSeries are CT groups no structure set refers to
	UnmatchedSeries []models.SeriesGroup

	// Orphans are structure sets whose chain resolved but pointed to no
	// available series (or to a series another document already claimed)
	Orphans []*models.StructureSet

	// Malformed are structure sets without a usable reference chain
	Malformed []*models.StructureSet

	Diagnostics []models.Diagnostic
}

// Match pairs CT series with structure sets by exact series UID equality.
//
// A structure set reaches its CT series through
// frame-of-reference -> referenced study -> referenced series; a broken
// chain excludes the document. When several documents claim one series
// the first one by path wins. ErrNoMatches is returned alongside a fully
// populated Result when no pair could be formed.
func Match(series []models.SeriesGroup, sets []*models.StructureSet) (*Result, error) {
	res := &Result{}

	byUID := make(map[string]models.SeriesGroup, len(series))
	for _, g := range series {
		byUID[g.SeriesUID] = g
	}

	ordered := make([]*models.StructureSet, len(sets))
	copy(ordered, sets)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Path < ordered[j].Path
	})

	claimed := make(map[string]*models.StructureSet)
	for _, ss := range ordered {
		uids, ok := ss.ReferencedSeriesUIDs()
		if !ok {
			res.Malformed = append(res.Malformed, ss)
			res.Diagnostics = append(res.Diagnostics, models.Diagnostic{
				Kind:      models.MalformedDocument,
				Severity:  models.Skip,
				PatientID: ss.PatientID,
				Message:   fmt.Sprintf("structure set %s has no usable referenced series chain", ss.Path),
			})
			continue
		}

		matched := false
		for _, uid := range uids {
			g, present := byUID[uid]
			if !present {
				continue
			}
			if owner, taken := claimed[uid]; taken {
				res.Diagnostics = append(res.Diagnostics, models.Diagnostic{
					Kind:      models.OrphanStructureSet,
					Severity:  models.Skip,
					PatientID: ss.PatientID,
					SeriesUID: uid,
					Message:   fmt.Sprintf("structure set %s ignored, series already paired with %s", ss.Path, owner.Path),
				})
				continue
			}
			claimed[uid] = ss
			res.Pairs = append(res.Pairs, Pair{Series: g, StructureSet: ss})
			matched = true
		}

		if !matched {
			res.Orphans = append(res.Orphans, ss)
			res.Diagnostics = append(res.Diagnostics, models.Diagnostic{
				Kind:      models.OrphanStructureSet,
				Severity:  models.Skip,
				PatientID: ss.PatientID,
				Message:   fmt.Sprintf("structure set %s references no available CT series %v", ss.Path, uids),
			})
		}
	}

	for _, g := range series {
		if _, ok := claimed[g.SeriesUID]; ok {
			continue
		}
		res.UnmatchedSeries = append(res.UnmatchedSeries, g)
		res.Diagnostics = append(res.Diagnostics, models.Diagnostic{
			Kind:      models.UnmatchedSeries,
			Severity:  models.Skip,
			PatientID: g.PatientID,
			SeriesUID: g.SeriesUID,
			Message:   "no structure set references this CT series",
		})
	}

	sort.Slice(res.Pairs, func(i, j int) bool {
		a, b := res.Pairs[i].Series, res.Pairs[j].Series
		if a.PatientID != b.PatientID {
			return a.PatientID < b.PatientID
		}
		return a.SeriesUID < b.SeriesUID
	})

	if len(res.Pairs) == 0 {
		return res, ErrNoMatches
	}
	return res, nil
}
