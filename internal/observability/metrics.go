package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges shared by the
// pipeline stages. Batch commands register against the default registry; the
// dashboard exposes it on /metrics.
type Metrics struct {
	RawRowsIngested    prometheus.Counter
	RawRowsRead        prometheus.Counter
	CuratedRowsWritten prometheus.Counter
	FeatureRowsWritten prometheus.Counter
	VectorsExported    prometheus.Counter

	RowsDropped         *prometheus.CounterVec // labels: stage, reason
	DuplicateCollisions prometheus.Counter
	CoercedNulls        prometheus.Counter
	UnscoredRows        prometheus.Counter

	StageDuration *prometheus.HistogramVec // label: stage
	StageFailures *prometheus.CounterVec   // label: stage
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RawRowsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "weatherlab",
			Name:      "raw_rows_ingested_total",
			Help:      "Rows upserted into the raw table by ingest.",
		}),
		RawRowsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "weatherlab",
			Name:      "raw_rows_read_total",
			Help:      "Raw rows read by the preprocessor.",
		}),
		CuratedRowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "weatherlab",
			Name:      "curated_rows_written_total",
			Help:      "Curated rows written by the preprocessor.",
		}),
		FeatureRowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "weatherlab",
			Name:      "feature_rows_written_total",
			Help:      "Feature rows written by the feature engine.",
		}),
		VectorsExported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "weatherlab",
			Name:      "vectors_exported_total",
			Help:      "Embedding vectors written by the exporter.",
		}),
		RowsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weatherlab",
			Name:      "rows_dropped_total",
			Help:      "Rows dropped during a stage, by reason.",
		}, []string{"stage", "reason"}),
		DuplicateCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "weatherlab",
			Name:      "duplicate_collisions_total",
			Help:      "Duplicate (station, timestamp) pairs resolved keep-last.",
		}),
		CoercedNulls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "weatherlab",
			Name:      "coerced_nulls_total",
			Help:      "Measurement fields that failed numeric coercion and became null.",
		}),
		UnscoredRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "weatherlab",
			Name:      "unscored_rows_total",
			Help:      "Curated rows that received a sentinel feature row.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "weatherlab",
			Name:      "stage_duration_seconds",
			Help:      "Duration of a complete stage run.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weatherlab",
			Name:      "stage_failures_total",
			Help:      "Stage runs that aborted with an error.",
		}, []string{"stage"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RawRowsIngested,
		m.RawRowsRead,
		m.CuratedRowsWritten,
		m.FeatureRowsWritten,
		m.VectorsExported,
		m.RowsDropped,
		m.DuplicateCollisions,
		m.CoercedNulls,
		m.UnscoredRows,
		m.StageDuration,
		m.StageFailures,
	}
}
