package report

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"ctroistats/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at TEXT NOT NULL,
	units_total INTEGER NOT NULL,
	units_completed INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS records (
	run_id INTEGER NOT NULL REFERENCES runs(id),
	patient_id TEXT NOT NULL,
	series_uid TEXT NOT NULL,
	region TEXT NOT NULL,
	region_normalized TEXT NOT NULL,
	voxel_count INTEGER NOT NULL,
	mean_hu REAL NOT NULL,
	std_hu REAL NOT NULL,
	median_hu REAL,
	p5_hu REAL,
	p95_hu REAL,
	min_hu REAL,
	max_hu REAL
);
CREATE TABLE IF NOT EXISTS diagnostics (
	run_id INTEGER NOT NULL REFERENCES runs(id),
	kind TEXT NOT NULL,
	severity TEXT NOT NULL,
	patient_id TEXT NOT NULL,
	series_uid TEXT NOT NULL,
	region TEXT NOT NULL,
	message TEXT NOT NULL
);`

// Run is what a sink stores for one batch run
type Run struct {
	StartedAt      time.Time
	UnitsTotal     int
	UnitsCompleted int
	Records        []models.StatsRecord
	Diagnostics    []models.Diagnostic
}

// Store appends batch runs to a SQLite database
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the database at path
func OpenStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun writes a run with its records and diagnostics in one transaction
// and returns the run id
func (s *Store) SaveRun(ctx context.Context, run Run) (id int64, retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `INSERT INTO runs(started_at, units_total, units_completed) VALUES(?,?,?)`,
		run.StartedAt.UTC().Format(time.RFC3339), run.UnitsTotal, run.UnitsCompleted)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("run id: %w", err)
	}

	for _, r := range run.Records {
		if _, err := tx.ExecContext(ctx, `INSERT INTO records(run_id, patient_id, series_uid, region, region_normalized,
			voxel_count, mean_hu, std_hu, median_hu, p5_hu, p95_hu, min_hu, max_hu) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			id, r.PatientID, r.SeriesUID, r.Region, r.RegionNormalized, r.VoxelCount, r.Mean, r.Std,
			nullable(r.Median), nullable(r.P5), nullable(r.P95), nullable(r.Min), nullable(r.Max)); err != nil {
			return 0, fmt.Errorf("insert record %s/%s: %w", r.PatientID, r.Region, err)
		}
	}

	for _, d := range run.Diagnostics {
		if _, err := tx.ExecContext(ctx, `INSERT INTO diagnostics(run_id, kind, severity, patient_id, series_uid, region, message)
			VALUES(?,?,?,?,?,?,?)`,
			id, d.Kind.String(), d.Severity.String(), d.PatientID, d.SeriesUID, d.Region, d.Message); err != nil {
			return 0, fmt.Errorf("insert diagnostic: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// Records returns the records stored for a run, in insertion order
func (s *Store) Records(ctx context.Context, runID int64) ([]models.StatsRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT patient_id, series_uid, region, region_normalized, voxel_count,
		mean_hu, std_hu, median_hu, p5_hu, p95_hu, min_hu, max_hu FROM records WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.StatsRecord
	for rows.Next() {
		var r models.StatsRecord
		var median, p5, p95, lo, hi sql.NullFloat64
		if err := rows.Scan(&r.PatientID, &r.SeriesUID, &r.Region, &r.RegionNormalized, &r.VoxelCount,
			&r.Mean, &r.Std, &median, &p5, &p95, &lo, &hi); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		r.Median, r.P5, r.P95, r.Min, r.Max = ptr(median), ptr(p5), ptr(p95), ptr(lo), ptr(hi)
		out = append(out, r)
	}
	return out, rows.Err()
}

// DiagnosticCount returns how many diagnostics of a kind a run stored
func (s *Store) DiagnosticCount(ctx context.Context, runID int64, kind models.DiagnosticKind) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM diagnostics WHERE run_id = ? AND kind = ?`,
		runID, kind.String()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count diagnostics: %w", err)
	}
	return n, nil
}

func nullable(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func ptr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
