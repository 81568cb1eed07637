package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "case_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for aggregation runs.
type Metrics struct {
	EventsRead            prometheus.Counter
	RecordsProduced       *prometheus.CounterVec // labels: granularity={daily,weekly}, level={municipality,county,national}
	UnknownLocations      prometheus.Counter
	PopulationUnavailable prometheus.Counter
	PipelineRunning       prometheus.Gauge

	// Run metrics.
	Runs              *prometheus.CounterVec // labels: outcome={success,error}
	RunDuration       prometheus.Histogram
	LastSuccessfulRun prometheus.Gauge

	// Sink metrics.
	SinkDuration *prometheus.HistogramVec // labels: sink
}

func newMetrics() *Metrics {
	return &Metrics{
		EventsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_read_total",
			Help:      "Total case events loaded from the input.",
		}),
		RecordsProduced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_produced_total",
			Help:      "Aggregated records produced by granularity and hierarchy level.",
		}, []string{"granularity", "level"}),
		UnknownLocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unknown_locations_total",
			Help:      "Runs aborted because a case referenced a municipality missing from the location table.",
		}),
		PopulationUnavailable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "population_unavailable_total",
			Help:      "Municipality-day records without a population observation at or before their date.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a run is in progress, 0 otherwise.",
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed runs by outcome.",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete load-aggregate-publish run.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		LastSuccessfulRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}),
		SinkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sink_duration_seconds",
			Help:      "Time spent writing one run's output to a sink.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"sink"}),
	}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.EventsRead,
		m.RecordsProduced,
		m.UnknownLocations,
		m.PopulationUnavailable,
		m.PipelineRunning,
		m.Runs,
		m.RunDuration,
		m.LastSuccessfulRun,
		m.SinkDuration,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
