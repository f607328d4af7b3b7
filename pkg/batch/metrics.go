package batch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"ctroistats/internal/models"
)

// Metrics are the Prometheus collectors of a batch run. They are registered
// on a caller-supplied registry so runs never share global state.
type Metrics struct {
	unitsTotal     prometheus.Gauge
	unitsCompleted prometheus.Counter
	records        prometheus.Counter
	diagnostics    *prometheus.CounterVec
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	unitDuration   prometheus.Histogram
}

// NewMetrics registers the batch collectors on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		unitsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ctroistats_units",
			Help: "Matched (CT series, structure set) pairs in the current run",
		}),
		unitsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "ctroistats_units_completed_total",
			Help: "Units processed, whether or not they produced records",
		}),
		records: factory.NewCounter(prometheus.CounterOpts{
			Name: "ctroistats_records_total",
			Help: "Region statistics records emitted",
		}),
		diagnostics: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ctroistats_diagnostics_total",
			Help: "Diagnostics raised by kind and severity",
		}, []string{"kind", "severity"}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "ctroistats_volume_cache_hits_total",
			Help: "Volumes served from the decoded-volume cache",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "ctroistats_volume_cache_misses_total",
			Help: "Volumes decoded from disk",
		}),
		unitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ctroistats_unit_duration_seconds",
			Help:    "Time spent on one unit",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),
	}
}

func (m *Metrics) observeDiagnostics(diags []models.Diagnostic) {
	if m == nil {
		return
	}
	for _, d := range diags {
		m.diagnostics.WithLabelValues(d.Kind.String(), d.Severity.String()).Inc()
	}
}
