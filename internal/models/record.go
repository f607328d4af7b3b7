package models

// StatsRecord holds HU statistics for one (patient, region) pair.
// Optional fields are nil when the run was configured not to compute them.
type StatsRecord struct {
	PatientID        string
	SeriesUID        string
	Region           string
	RegionNormalized string

	VoxelCount int
	Mean       float64
	Std        float64

	Median *float64
	P5     *float64
	P95    *float64
	Min    *float64
	Max    *float64
}

// SeriesGroup is the set of CT files discovered for one series
type SeriesGroup struct {
	SeriesUID string
	PatientID string
	Paths     []string
}

// Inventory is everything discovery found under an input root
type Inventory struct {
	Series        []SeriesGroup
	StructureSets []*StructureSet
	Diagnostics   []Diagnostic
}

// Empty reports whether discovery found no usable input at all
func (inv *Inventory) Empty() bool {
	return len(inv.Series) == 0 && len(inv.StructureSets) == 0
}
