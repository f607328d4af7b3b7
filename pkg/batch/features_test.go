package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/cucumber/godog"

	"ctroistats/internal/models"
	"ctroistats/internal/testutil"
	"ctroistats/pkg/dicomio"
)

// scenario holds state for a single scenario
type scenario struct {
	root    string
	opts    Options
	reports []*Report
	err     error
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: initializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}

func initializeScenario(sc *godog.ScenarioContext) {
	s := &scenario{}

	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		root, err := os.MkdirTemp("", "ctroistats-batch-*")
		if err != nil {
			return ctx, err
		}
		*s = scenario{root: root, opts: DefaultOptions()}
		return ctx, nil
	})

	sc.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		if s.root != "" {
			os.RemoveAll(s.root)
		}
		return ctx, nil
	})

	sc.Step(`^an input directory$`, s.anInputDirectory)
	sc.Step(`^patient "([^"]*)" with CT series "([^"]*)" contoured with "([^"]*)"$`, s.patientContouredWith)
	sc.Step(`^patient "([^"]*)" with CT series "([^"]*)" and no structure set$`, s.patientWithoutStructureSet)
	sc.Step(`^the regions "([^"]*)" are requested$`, s.regionsRequested)
	sc.Step(`^I run the batch$`, s.runBatch)
	sc.Step(`^I run the batch twice$`, s.runBatchTwice)
	sc.Step(`^the run succeeds$`, s.runSucceeds)
	sc.Step(`^the run fails with "([^"]*)"$`, s.runFailsWith)
	sc.Step(`^there are records for (\d+) patients$`, s.recordsForPatients)
	sc.Step(`^there is exactly (\d+) "([^"]*)" diagnostic$`, s.exactlyDiagnostics)
	sc.Step(`^there is no record for region "([^"]*)"$`, s.noRecordForRegion)
	sc.Step(`^region "([^"]*)" of patient "([^"]*)" has (\d+) voxels with mean HU (-?\d+)$`, s.regionHasVoxels)
	sc.Step(`^both runs produce identical records$`, s.identicalRuns)
}

func (s *scenario) anInputDirectory() error {
	_, err := os.Stat(s.root)
	return err
}

// writeSeries writes a 10x10x3 CT series at z = 0, 2, 4 with HU 40
func (s *scenario) writeSeries(patient, uid string) error {
	for k := 0; k < 3; k++ {
		err := testutil.WriteCTFile(filepath.Join(s.root, patient, "images", fmt.Sprintf("im%d.dcm", k)), testutil.CTSlice{
			PatientID: patient,
			SeriesUID: uid,
			Instance:  k + 1,
			Z:         float64(2 * k),
			Rows:      10,
			Cols:      10,
			Spacing:   [2]float64{1, 1},
			Fill:      1064,
			Slope:     1,
			Intercept: -1024,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *scenario) patientContouredWith(patient, uid, region string) error {
	if err := s.writeSeries(patient, uid); err != nil {
		return err
	}
	return testutil.WriteStructureSetFile(filepath.Join(s.root, patient, "rtstruct.dcm"), testutil.StructureSet{
		PatientID:  patient,
		SeriesUIDs: []string{uid},
		ROIs: []testutil.ROI{{
			Number: 1,
			Name:   region,
			Loops:  [][]float64{testutil.Square(1.5, 2.5, 5.5, 4.5, 2)},
		}},
	})
}

func (s *scenario) patientWithoutStructureSet(patient, uid string) error {
	return s.writeSeries(patient, uid)
}

func (s *scenario) regionsRequested(list string) error {
	s.opts.Regions = nil
	for _, name := range strings.Split(list, ",") {
		s.opts.Regions = append(s.opts.Regions, strings.TrimSpace(name))
	}
	return nil
}

func (s *scenario) run() error {
	reader := dicomio.NewReader()
	o, err := NewOrchestrator(s.opts, dicomio.NewScanner(s.root, reader, nil), reader)
	if err != nil {
		return err
	}
	report, err := o.Run(context.Background())
	s.reports = append(s.reports, report)
	s.err = err
	return nil
}

func (s *scenario) runBatch() error {
	return s.run()
}

func (s *scenario) runBatchTwice() error {
	if err := s.run(); err != nil {
		return err
	}
	return s.run()
}

func (s *scenario) last() *Report {
	return s.reports[len(s.reports)-1]
}

func (s *scenario) runSucceeds() error {
	if s.err != nil {
		return fmt.Errorf("expected the run to succeed, got %v", s.err)
	}
	return nil
}

func (s *scenario) runFailsWith(msg string) error {
	if s.err == nil {
		return errors.New("expected the run to fail")
	}
	if !strings.Contains(s.err.Error(), msg) {
		return fmt.Errorf("expected error containing %q, got %v", msg, s.err)
	}
	return nil
}

func (s *scenario) recordsForPatients(n int) error {
	patients := map[string]bool{}
	for _, r := range s.last().Records {
		patients[r.PatientID] = true
	}
	if len(patients) != n {
		return fmt.Errorf("expected records for %d patients, got %v", n, patients)
	}
	return nil
}

func (s *scenario) exactlyDiagnostics(n int, kind string) error {
	got := 0
	for _, d := range s.last().Diagnostics {
		if d.Kind.String() == kind {
			got++
		}
	}
	if got != n {
		return fmt.Errorf("expected %d %s diagnostics, got %d: %v", n, kind, got, s.last().Diagnostics)
	}
	return nil
}

func (s *scenario) noRecordForRegion(region string) error {
	for _, r := range s.last().Records {
		if r.Region == region {
			return fmt.Errorf("unexpected record %+v", r)
		}
	}
	return nil
}

func (s *scenario) regionHasVoxels(region, patient string, voxels, mean int) error {
	var rec *models.StatsRecord
	for i, r := range s.last().Records {
		if r.Region == region && r.PatientID == patient {
			rec = &s.last().Records[i]
		}
	}
	if rec == nil {
		return fmt.Errorf("no record for %s/%s", patient, region)
	}
	if rec.VoxelCount != voxels || rec.Mean != float64(mean) {
		return fmt.Errorf("expected %d voxels with mean %d, got %d with mean %g", voxels, mean, rec.VoxelCount, rec.Mean)
	}
	return nil
}

func (s *scenario) identicalRuns() error {
	if len(s.reports) != 2 {
		return fmt.Errorf("expected 2 runs, got %d", len(s.reports))
	}
	if len(s.reports[0].Records) == 0 {
		return errors.New("runs produced no records")
	}
	if !reflect.DeepEqual(s.reports[0].Records, s.reports[1].Records) {
		return errors.New("records differ between runs")
	}
	return nil
}
