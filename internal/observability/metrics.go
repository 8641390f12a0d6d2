package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "inmet_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the ingestion pipeline.
type Metrics struct {
	RowsSeen          prometheus.Counter
	RowsAccepted      prometheus.Counter
	RowsRejected      *prometheus.CounterVec // labels: reason
	CellParseFailures *prometheus.CounterVec // labels: field
	FilesProcessed    *prometheus.CounterVec // labels: outcome={normalized,corrupt,unrecognized}
	PipelineRunning   prometheus.Gauge

	// Per-year run metrics.
	Runs         *prometheus.CounterVec // labels: status={succeeded,failed,cancelled}
	YearDuration prometheus.Histogram
	CommitBatch  prometheus.Histogram

	// Collection metrics.
	CollectRetries    prometheus.Counter
	ArchiveBytes      prometheus.Counter
	CollectorBreakers *prometheus.GaugeVec // labels: name; 1 when open

	// Manifest notifications.
	ManifestsPublished *prometheus.CounterVec // labels: outcome={success,error}
}

func newMetrics() *Metrics {
	return &Metrics{
		RowsSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_seen_total",
			Help:      "Total data rows read from station files.",
		}),
		RowsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_accepted_total",
			Help:      "Total observations accepted by validation.",
		}),
		RowsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_rejected_total",
			Help:      "Total rejects by reason.",
		}, []string{"reason"}),
		CellParseFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cell_parse_failures_total",
			Help:      "Cells that could not be parsed and were nulled, by field.",
		}, []string{"field"}),
		FilesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_processed_total",
			Help:      "Station files read from archives by outcome.",
		}, []string{"outcome"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a run is in progress, 0 otherwise.",
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "year_runs_total",
			Help:      "Year runs by final status.",
		}, []string{"status"}),
		YearDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "year_duration_seconds",
			Help:      "Duration of a complete year run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		CommitBatch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_batch_size",
			Help:      "Number of observations per batch appended to a partition.",
			Buckets:   []float64{100, 500, 1000, 2500, 5000, 10000, 25000},
		}),
		CollectRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collect_retries_total",
			Help:      "Archive fetch attempts retried after a source failure.",
		}),
		ArchiveBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_bytes_total",
			Help:      "Bytes of yearly archives downloaded.",
		}),
		CollectorBreakers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "collector_breaker_open",
			Help:      "1 when the archive source circuit breaker is open.",
		}, []string{"name"}),
		ManifestsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manifests_published_total",
			Help:      "Run manifest notifications by outcome.",
		}, []string{"outcome"}),
	}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics that are not registered anywhere, to
// avoid "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RowsSeen,
		m.RowsAccepted,
		m.RowsRejected,
		m.CellParseFailures,
		m.FilesProcessed,
		m.PipelineRunning,
		m.Runs,
		m.YearDuration,
		m.CommitBatch,
		m.CollectRetries,
		m.ArchiveBytes,
		m.CollectorBreakers,
		m.ManifestsPublished,
	}
}
