// Package batch runs the region statistics pipeline over every matched
// (CT series, structure set) pair found under an input root.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"ctroistats/internal/models"
	"ctroistats/pkg/interpolation"
	"ctroistats/pkg/matching"
	"ctroistats/pkg/rasterize"
	"ctroistats/pkg/reconstruction"
	"ctroistats/pkg/roistats"
)

var (
	// ErrNoInput is returned when discovery finds neither CT series nor structure sets
	ErrNoInput = errors.New("no CT series or structure sets found")

	// ErrNoMatchedPairs is returned when no CT series could be paired with a structure set
	ErrNoMatchedPairs = fmt.Errorf("nothing to analyse: %w", matching.ErrNoMatches)
)

// Source discovers the input of a run
type Source interface {
	Discover(ctx context.Context) (*models.Inventory, error)
}

// SliceDecoder reads the CT slices of one series
type SliceDecoder interface {
	ReadSlices(ctx context.Context, paths []string) ([]models.Slice, error)
}

// Snapshotter receives every emitted record with the data it came from
type Snapshotter interface {
	Snapshot(vol *models.Volume, mask *models.Mask, rec *models.StatsRecord) error
}

// ProgressCallback reports progress after each unit
type ProgressCallback func(completed, total int, message string)

// Report is the outcome of a run
type Report struct {
	// Records is the result table, ordered by unit then region
	Records []models.StatsRecord

	// Diagnostics are kept apart from the result table
	Diagnostics []models.Diagnostic

	UnitsTotal     int
	UnitsCompleted int
}

// Count returns the number of diagnostics of a kind
func (r *Report) Count(kind models.DiagnosticKind) int {
	n := 0
	for _, d := range r.Diagnostics {
		if d.Kind == kind {
			n++
		}
	}
	return n
}

// Orchestrator drives a batch run.
//
// The run consists of several steps:
// 1. Discovering CT series and structure sets
// 2. Matching structure sets to the series they reference
// 3. For every pair: loading the volume (through the cache), then
// rasterizing, aligning and aggregating each selected region
//
// Units run sequentially and a failing unit or region only produces
// diagnostics. Cancellation is observed between units.
type Orchestrator struct {
	opts    Options
	source  Source
	decoder SliceDecoder

	cache      *VolumeCache
	normalizer *Normalizer
	rasterizer *rasterize.Rasterizer
	aggregator *roistats.Aggregator

	logger      *log.Logger
	metrics     *Metrics
	progress    ProgressCallback
	snapshotter Snapshotter
}

// NewOrchestrator creates an orchestrator reading input through source and decoder
func NewOrchestrator(opts Options, source Source, decoder SliceDecoder) (*Orchestrator, error) {
	size := opts.CacheSize
	if size == 0 {
		size = DefaultCacheSize
	}
	cache, err := NewVolumeCache(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create volume cache: %w", err)
	}

	return &Orchestrator{
		opts:       opts,
		source:     source,
		decoder:    decoder,
		cache:      cache,
		normalizer: NewNormalizer(opts.Aliases),
		rasterizer: rasterize.New(opts.Rasterizer),
		aggregator: roistats.New(opts.Statistics),
		logger:     log.New(io.Discard, "", 0),
	}, nil
}

// SetLogger sets the logger for step banners and per-unit messages
func (o *Orchestrator) SetLogger(logger *log.Logger) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	o.logger = logger
}

// SetMetrics attaches Prometheus collectors
func (o *Orchestrator) SetMetrics(m *Metrics) {
	o.metrics = m
}

// SetProgressCallback sets a callback invoked after each unit
func (o *Orchestrator) SetProgressCallback(callback ProgressCallback) {
	o.progress = callback
}

// SetSnapshotter sets a hook that receives every emitted record
func (o *Orchestrator) SetSnapshotter(s Snapshotter) {
	o.snapshotter = s
}

// Run processes the whole input.
//
// ErrNoInput and ErrNoMatchedPairs are fatal and returned together with the
// diagnostics gathered so far. A cancelled context stops the run between
// units and returns the partial report with the context error.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	o.logger.Println("Step 1: Discovering input...")
	inv, err := o.source.Discover(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to discover input: %w", err)
	}
	o.note(report, inv.Diagnostics...)
	if inv.Empty() {
		return report, ErrNoInput
	}
	o.logger.Printf("Found %d CT series and %d structure sets", len(inv.Series), len(inv.StructureSets))

	o.logger.Println("Step 2: Matching structure sets to CT series...")
	res, err := matching.Match(inv.Series, inv.StructureSets)
	o.note(report, res.Diagnostics...)
	if err != nil {
		if errors.Is(err, matching.ErrNoMatches) {
			return report, ErrNoMatchedPairs
		}
		return report, err
	}

	o.logger.Printf("Matched %d pairs (%d unmatched series, %d orphan and %d malformed structure sets)",
		len(res.Pairs), len(res.UnmatchedSeries), len(res.Orphans), len(res.Malformed))

	report.UnitsTotal = len(res.Pairs)
	if o.metrics != nil {
		o.metrics.unitsTotal.Set(float64(report.UnitsTotal))
	}

	o.logger.Printf("Step 3: Analysing %d units...", report.UnitsTotal)
	for i, pair := range res.Pairs {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		start := time.Now()
		n := len(report.Records)
		o.processUnit(ctx, pair, report)
		report.UnitsCompleted++

		if o.metrics != nil {
			o.metrics.unitsCompleted.Inc()
			o.metrics.unitDuration.Observe(time.Since(start).Seconds())
		}
		msg := fmt.Sprintf("%s/%s: %d records", pair.Series.PatientID, pair.Series.SeriesUID, len(report.Records)-n)
		o.logger.Println(msg)
		if o.progress != nil {
			o.progress(i+1, report.UnitsTotal, msg)
		}
	}

	o.logger.Printf("Volume cache holds %d volumes", o.cache.Len())
	return report, nil
}

// processUnit analyses every selected region of one pair
func (o *Orchestrator) processUnit(ctx context.Context, pair matching.Pair, report *Report) {
	vol, err := o.loadVolume(ctx, pair.Series, report)
	if err != nil {
		o.note(report, models.Diagnostic{
			Kind:      models.LoadFailed,
			Severity:  models.Skip,
			PatientID: pair.Series.PatientID,
			SeriesUID: pair.Series.SeriesUID,
			Message:   err.Error(),
		})
		return
	}

	names := o.opts.Regions
	if len(names) == 0 {
		names = pair.StructureSet.RegionNames()
	}

	aligner := interpolation.NewAligner(o.opts.ShareFactors)
	for _, name := range names {
		rec, diags, err := o.processRegion(vol, pair.StructureSet, name, aligner)
		o.note(report, scope(diags, vol, name)...)
		if err != nil {
			o.note(report, regionDiagnostic(err, vol, name))
			continue
		}

		report.Records = append(report.Records, *rec)
		if o.metrics != nil {
			o.metrics.records.Inc()
		}
	}
}

// processRegion runs rasterize -> align -> aggregate for one region
func (o *Orchestrator) processRegion(vol *models.Volume, ss *models.StructureSet, name string, aligner *interpolation.Aligner) (*models.StatsRecord, []models.Diagnostic, error) {
	mask, diags, err := o.rasterizer.Rasterize(ss, name, vol.Geometry())
	if err != nil {
		return nil, diags, err
	}

	mask, err = aligner.Align(mask, vol.Shape)
	if err != nil {
		return nil, diags, err
	}

	rec, err := o.aggregator.Compute(vol, mask, name, o.normalizer.Normalize(name))
	if err != nil {
		return nil, diags, err
	}

	if o.snapshotter != nil {
		if err := o.snapshotter.Snapshot(vol, mask, rec); err != nil {
			o.logger.Printf("Warning: failed to save overlay for %s/%s: %v", rec.PatientID, name, err)
		}
	}
	return rec, diags, nil
}

// loadVolume returns the decoded volume of a series, from the cache when possible
func (o *Orchestrator) loadVolume(ctx context.Context, group models.SeriesGroup, report *Report) (*models.Volume, error) {
	key := CacheKey(group.Paths)
	if hit, ok := o.cache.get(key); ok {
		if o.metrics != nil {
			o.metrics.cacheHits.Inc()
		}
		o.note(report, hit.diagnostics...)
		return hit.volume, nil
	}
	if o.metrics != nil {
		o.metrics.cacheMisses.Inc()
	}

	slices, err := o.decoder.ReadSlices(ctx, group.Paths)
	if err != nil {
		return nil, fmt.Errorf("failed to read series: %w", err)
	}
	vol, diags, err := reconstruction.BuildVolume(slices)
	if err != nil {
		return nil, fmt.Errorf("failed to build volume: %w", err)
	}

	// series keyed by directory name carry no identifiers of their own
	if vol.SeriesUID == "" {
		vol.SeriesUID = group.SeriesUID
	}
	if vol.PatientID == "" {
		vol.PatientID = group.PatientID
	}
	for i := range diags {
		diags[i].PatientID, diags[i].SeriesUID = vol.PatientID, vol.SeriesUID
	}

	o.cache.add(key, cachedVolume{volume: vol, diagnostics: diags})
	o.note(report, diags...)
	return vol, nil
}

// note records diagnostics on the report and in the metrics
func (o *Orchestrator) note(report *Report, diags ...models.Diagnostic) {
	report.Diagnostics = append(report.Diagnostics, diags...)
	o.metrics.observeDiagnostics(diags)
}

// scope fills in missing patient, series and region fields
func scope(diags []models.Diagnostic, vol *models.Volume, region string) []models.Diagnostic {
	for i := range diags {
		if diags[i].PatientID == "" {
			diags[i].PatientID = vol.PatientID
		}
		if diags[i].SeriesUID == "" {
			diags[i].SeriesUID = vol.SeriesUID
		}
		if diags[i].Region == "" {
			diags[i].Region = region
		}
	}
	return diags
}

// regionDiagnostic converts a region failure into a skip diagnostic
func regionDiagnostic(err error, vol *models.Volume, region string) models.Diagnostic {
	d := models.Diagnostic{
		Kind:      models.IntegrityWarning,
		Severity:  models.Skip,
		PatientID: vol.PatientID,
		SeriesUID: vol.SeriesUID,
		Region:    region,
		Message:   err.Error(),
	}
	var skip *models.SkipError
	if errors.As(err, &skip) {
		d.Kind = skip.Reason
		d.Message = skip.Err.Error()
	}
	return d
}
