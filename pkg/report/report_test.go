package report

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"ctroistats/internal/models"
)

func f(v float64) *float64 { return &v }

func sampleRecords() []models.StatsRecord {
	return []models.StatsRecord{
		{
			PatientID: "A", SeriesUID: "1.2.3", Region: "GTV", RegionNormalized: "gtv",
			VoxelCount: 8, Mean: 40.25, Std: 1.5,
			Median: f(40), P5: f(38), P95: f(43), Min: f(-1000), Max: f(44.125),
		},
		{
			PatientID: "B", SeriesUID: "1.2.4", Region: "Body", RegionNormalized: "Body",
			VoxelCount: 300, Mean: 50, Std: 0,
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleRecords()); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected 3 lines, got %d: %q", len(lines), buf.String())
	}

	expected := []string{
		"patient_id,series_uid,region,region_normalized,voxel_count,mean_hu,std_hu,median_hu,p5_hu,p95_hu,min_hu,max_hu",
		"A,1.2.3,GTV,gtv,8,40.25,1.5,40,38,43,-1000,44.125",
		"B,1.2.4,Body,Body,300,50,0,,,,,",
	}
	for i, want := range expected {
		if got := strings.TrimRight(lines[i], "\r"); got != want {
			t.Errorf("Line %d: expected %q, got %q", i, want, got)
		}
	}
}

func TestWriteCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, nil); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "patient_id,") {
		t.Errorf("Expected a header row, got %q", buf.String())
	}
}

func TestSaveCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "stats.csv")
	if err := SaveCSV(path, sampleRecords()); err != nil {
		t.Fatalf("SaveCSV failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read CSV: %v", err)
	}
	if strings.Count(string(data), "\n") != 3 {
		t.Errorf("Expected 3 lines, got %q", data)
	}
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "results.db")

	store, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	defer store.Close()

	run := Run{
		StartedAt:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		UnitsTotal:     3,
		UnitsCompleted: 3,
		Records:        sampleRecords(),
		Diagnostics: []models.Diagnostic{
			{Kind: models.UnmatchedSeries, Severity: models.Skip, PatientID: "C", SeriesUID: "1.2.5", Message: "no structure set"},
			{Kind: models.RegionNotFound, Severity: models.Skip, PatientID: "A", Region: "PTV_1", Message: "not found"},
		},
	}

	id, err := store.SaveRun(ctx, run)
	if err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	records, err := store.Records(ctx, id)
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if !reflect.DeepEqual(records, run.Records) {
		t.Errorf("Expected %+v, got %+v", run.Records, records)
	}

	n, err := store.DiagnosticCount(ctx, id, models.UnmatchedSeries)
	if err != nil {
		t.Fatalf("DiagnosticCount failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 unmatched-series diagnostic, got %d", n)
	}

	// a second run gets its own id and leaves the first intact
	second, err := store.SaveRun(ctx, Run{StartedAt: run.StartedAt, Records: run.Records[:1]})
	if err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	if second == id {
		t.Errorf("Expected a new run id, got %d twice", id)
	}
	records, err = store.Records(ctx, id)
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("Expected 2 records for the first run, got %d", len(records))
	}
}

func TestStoreReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "results.db")

	store, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	id, err := store.SaveRun(ctx, Run{StartedAt: time.Now(), Records: sampleRecords()})
	if err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	store.Close()

	store, err = OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	defer store.Close()

	records, err := store.Records(ctx, id)
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("Expected 2 records after reopening, got %d", len(records))
	}
}
