// Package report writes the result table and diagnostics of a batch run.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gocarina/gocsv"

	"ctroistats/internal/models"
)

// Row is one line of the CSV result table. Optional statistics that were
// not computed are left blank.
type Row struct {
	PatientID        string `csv:"patient_id"`
	SeriesUID        string `csv:"series_uid"`
	Region           string `csv:"region"`
	RegionNormalized string `csv:"region_normalized"`
	VoxelCount       int    `csv:"voxel_count"`
	Mean             string `csv:"mean_hu"`
	Std              string `csv:"std_hu"`
	Median           string `csv:"median_hu"`
	P5               string `csv:"p5_hu"`
	P95              string `csv:"p95_hu"`
	Min              string `csv:"min_hu"`
	Max              string `csv:"max_hu"`
}

// NewRow converts a record into its CSV form
func NewRow(rec models.StatsRecord) Row {
	return Row{
		PatientID:        rec.PatientID,
		SeriesUID:        rec.SeriesUID,
		Region:           rec.Region,
		RegionNormalized: rec.RegionNormalized,
		VoxelCount:       rec.VoxelCount,
		Mean:             formatFloat(rec.Mean),
		Std:              formatFloat(rec.Std),
		Median:           formatOptional(rec.Median),
		P5:               formatOptional(rec.P5),
		P95:              formatOptional(rec.P95),
		Min:              formatOptional(rec.Min),
		Max:              formatOptional(rec.Max),
	}
}

// WriteCSV writes records as a CSV table with a header row
func WriteCSV(w io.Writer, records []models.StatsRecord) error {
	rows := make([]*Row, len(records))
	for i, rec := range records {
		row := NewRow(rec)
		rows[i] = &row
	}
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("failed to write CSV: %w", err)
	}
	return nil
}

// SaveCSV writes records to path, creating the parent directory if needed
func SaveCSV(path string, records []models.StatsRecord) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	if err := WriteCSV(f, records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}
