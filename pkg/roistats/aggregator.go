// Package roistats computes Hounsfield Unit statistics over the voxels a
// region mask selects.
package roistats

import (
	"fmt"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"

	"ctroistats/internal/models"
)

// Options selects the optional statistics. Count, mean and standard
// deviation are always computed.
type Options struct {
	Median      bool
	Percentiles bool
	MinMax      bool
}

// AllStatistics enables every optional field
var AllStatistics = Options{Median: true, Percentiles: true, MinMax: true}

// Aggregator turns (volume, mask) pairs into StatsRecords
type Aggregator struct {
	opts Options
}

// New creates an aggregator
func New(opts Options) *Aggregator {
	return &Aggregator{opts: opts}
}

// Select returns the HU values of every voxel set in mask, in voxel order
func Select(vol *models.Volume, mask *models.Mask) ([]float64, error) {
	if mask.Shape != vol.Shape {
		return nil, models.Skipf(models.ShapeMismatch, "mask %dx%dx%d does not match volume %dx%dx%d",
			mask.Shape.Rows, mask.Shape.Cols, mask.Shape.Slices,
			vol.Shape.Rows, vol.Shape.Cols, vol.Shape.Slices)
	}

	values := make([]float64, 0, 256)
	for i, in := range mask.Data {
		if in {
			values = append(values, vol.Data[i])
		}
	}
	return values, nil
}

// Compute builds the record for one region. The identifying fields
// (patient, series, region names) are copied from vol and the arguments.
//
// A mask that selects nothing yields an EmptyRegion SkipError and a mask on
// a different grid a ShapeMismatch SkipError.
func (a *Aggregator) Compute(vol *models.Volume, mask *models.Mask, region, normalized string) (*models.StatsRecord, error) {
	values, err := Select(vol, mask)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, models.Skipf(models.EmptyRegion, "region %q selects no voxels", region)
	}

	mean, std := stat.PopMeanStdDev(values, nil)
	rec := &models.StatsRecord{
		PatientID:        vol.PatientID,
		SeriesUID:        vol.SeriesUID,
		Region:           region,
		RegionNormalized: normalized,
		VoxelCount:       len(values),
		Mean:             mean,
		Std:              std,
	}

	data := stats.Float64Data(values)
	if a.opts.Median {
		if rec.Median, err = optional(data.Median()); err != nil {
			return nil, fmt.Errorf("median of %q: %w", region, err)
		}
	}
	if a.opts.Percentiles {
		// Nearest rank is defined for every sample size; interpolated
		// Percentile rejects small regions.
		if rec.P5, err = optional(data.PercentileNearestRank(5)); err != nil {
			return nil, fmt.Errorf("5th percentile of %q: %w", region, err)
		}
		if rec.P95, err = optional(data.PercentileNearestRank(95)); err != nil {
			return nil, fmt.Errorf("95th percentile of %q: %w", region, err)
		}
	}
	if a.opts.MinMax {
		if rec.Min, err = optional(data.Min()); err != nil {
			return nil, fmt.Errorf("minimum of %q: %w", region, err)
		}
		if rec.Max, err = optional(data.Max()); err != nil {
			return nil, fmt.Errorf("maximum of %q: %w", region, err)
		}
	}

	return rec, nil
}

func optional(v float64, err error) (*float64, error) {
	if err != nil {
		return nil, err
	}
	return &v, nil
}
