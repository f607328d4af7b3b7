package dicomio

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"ctroistats/internal/models"
	"ctroistats/internal/testutil"
)

// TestReadSlice verifies the attributes the volume builder relies on
func TestReadSlice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ct1.dcm")
	testutil.WriteCT(t, path, testutil.CTSlice{
		PatientID: "P1",
		SeriesUID: "1.2.3",
		Instance:  4,
		Z:         -12.5,
		Rows:      2,
		Cols:      3,
		Spacing:   [2]float64{0.5, 0.75},
		Pixels:    []int{0, 1, 2, 3, 4, 1000},
		Slope:     1,
		Intercept: -1024,
	})

	s, err := NewReader().ReadSlice(path)
	if err != nil {
		t.Fatalf("ReadSlice failed: %v", err)
	}

	if s.Rows != 2 || s.Cols != 3 {
		t.Errorf("Expected 2x3, got %dx%d", s.Rows, s.Cols)
	}
	if !s.HasPosition || s.Position.Z != -12.5 {
		t.Errorf("Expected position z=-12.5, got %+v (present=%v)", s.Position, s.HasPosition)
	}
	if !s.HasInstanceNumber || s.InstanceNumber != 4 {
		t.Errorf("Expected instance 4, got %d", s.InstanceNumber)
	}
	if !s.HasPixelSpacing || s.PixelSpacing != [2]float64{0.5, 0.75} {
		t.Errorf("Unexpected pixel spacing %v", s.PixelSpacing)
	}
	if !s.HasRescale || s.RescaleSlope != 1 || s.RescaleIntercept != -1024 {
		t.Errorf("Unexpected rescale %f/%f", s.RescaleSlope, s.RescaleIntercept)
	}
	if s.SeriesUID != "1.2.3" || s.PatientID != "P1" {
		t.Errorf("Unexpected identifiers %q/%q", s.PatientID, s.SeriesUID)
	}

	want := []float64{0, 1, 2, 3, 4, 1000}
	if len(s.Pixels) != len(want) {
		t.Fatalf("Expected %d pixels, got %d", len(want), len(s.Pixels))
	}
	for i := range want {
		if s.Pixels[i] != want[i] {
			t.Errorf("Pixel %d: expected %f, got %f", i, want[i], s.Pixels[i])
		}
	}
}

// TestReadSliceSigned checks two's complement pixel data
func TestReadSliceSigned(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signed.dcm")
	testutil.WriteCT(t, path, testutil.CTSlice{
		PatientID: "P1",
		SeriesUID: "1.2.3",
		Instance:  1,
		Rows:      1,
		Cols:      3,
		Pixels:    []int{-1000, 0, 40},
		Signed:    true,
	})

	s, err := NewReader().ReadSlice(path)
	if err != nil {
		t.Fatalf("ReadSlice failed: %v", err)
	}
	if s.Pixels[0] != -1000 || s.Pixels[1] != 0 || s.Pixels[2] != 40 {
		t.Errorf("Unexpected signed pixels %v", s.Pixels)
	}
	if s.HasRescale || s.HasPixelSpacing {
		t.Error("Optional attributes should be reported absent")
	}
}

func TestReadSlicesAbortsOnFailure(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.dcm")
	testutil.WriteCT(t, good, testutil.CTSlice{SeriesUID: "1", Instance: 1, Rows: 1, Cols: 1})

	_, err := NewReader().ReadSlices(context.Background(), []string{good, filepath.Join(dir, "missing.dcm")})
	if err == nil {
		t.Fatal("Expected an error for a missing file")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewReader().ReadSlices(ctx, []string{good}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

// TestReadStructureSet decodes regions, loops and the reference chain
func TestReadStructureSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rs.dcm")
	testutil.WriteStructureSet(t, path, testutil.StructureSet{
		PatientID:  "P1",
		Label:      "PLAN",
		SeriesUIDs: []string{"1.2.3"},
		ROIs: []testutil.ROI{
			{Number: 1, Name: "GTV", Loops: [][]float64{
				testutil.Square(0, 0, 4, 4, 0),
				testutil.Square(1, 1, 3, 3, 2),
			}},
			{Number: 2, Name: "Empty"},
		},
	})

	ss, err := NewReader().ReadStructureSet(path)
	if err != nil {
		t.Fatalf("ReadStructureSet failed: %v", err)
	}

	if ss.PatientID != "P1" || ss.Label != "PLAN" || ss.Path != path {
		t.Errorf("Unexpected header %+v", ss)
	}
	if got := ss.RegionNames(); len(got) != 2 || got[0] != "GTV" || got[1] != "Empty" {
		t.Fatalf("Unexpected regions %v", got)
	}

	gtv, _ := ss.RegionByName("GTV")
	if len(gtv.Loops) != 2 {
		t.Fatalf("Expected 2 loops, got %d", len(gtv.Loops))
	}
	if len(gtv.Loops[0].Points) != 4 || gtv.Loops[1].Z() != 2 {
		t.Errorf("Unexpected loops %+v", gtv.Loops)
	}
	if p := gtv.Loops[0].Points[2]; p != (models.Point3{X: 4, Y: 4, Z: 0}) {
		t.Errorf("Unexpected third point %+v", p)
	}

	empty, ok := ss.RegionByNumber(2)
	if !ok || len(empty.Loops) != 0 {
		t.Errorf("Expected region 2 without loops, got %+v", empty)
	}

	uids, ok := ss.ReferencedSeriesUIDs()
	if !ok || len(uids) != 1 || uids[0] != "1.2.3" {
		t.Errorf("Unexpected referenced series %v (ok=%v)", uids, ok)
	}
}

// TestReadStructureSetMalformed covers decode failures reported as skips
func TestReadStructureSetMalformed(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		ss   testutil.StructureSet
	}{
		{"contour data not in triplets", testutil.StructureSet{SeriesUIDs: []string{"1"}, ROIs: []testutil.ROI{
			{Number: 1, Name: "GTV", Loops: [][]float64{{0, 0, 0, 1, 1}}},
		}}},
		{"infinite coordinate", testutil.StructureSet{SeriesUIDs: []string{"1"}, ROIs: []testutil.ROI{
			{Number: 1, Name: "GTV", Loops: [][]float64{{0, 0, 0, math.Inf(1), 0, 0, 1, 1, 0}}},
		}}},
		{"duplicate ROI number", testutil.StructureSet{SeriesUIDs: []string{"1"}, ROIs: []testutil.ROI{
			{Number: 1, Name: "A"}, {Number: 1, Name: "B"},
		}}},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "rs"+string(rune('a'+i))+".dcm")
			testutil.WriteStructureSet(t, path, tt.ss)

			_, err := NewReader().ReadStructureSet(path)
			var skip *models.SkipError
			if !errors.As(err, &skip) || skip.Reason != models.MalformedDocument {
				t.Fatalf("Expected MalformedDocument skip, got %v", err)
			}
		})
	}
}

// TestReadStructureSetWithoutChain leaves the decision to the matcher
func TestReadStructureSetWithoutChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rs.dcm")
	testutil.WriteStructureSet(t, path, testutil.StructureSet{PatientID: "P1", ROIs: []testutil.ROI{{Number: 1, Name: "GTV"}}})

	ss, err := NewReader().ReadStructureSet(path)
	if err != nil {
		t.Fatalf("ReadStructureSet failed: %v", err)
	}
	if _, ok := ss.ReferencedSeriesUIDs(); ok {
		t.Error("Expected the reference chain to be reported missing")
	}
}
