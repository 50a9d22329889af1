package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "surftomo"

// Metrics holds the Prometheus counters, histograms, and gauges for a download run.
type Metrics struct {
	PipelineRunning prometheus.Gauge
	StageDuration   *prometheus.HistogramVec // labels: stage={fetch,consolidate,process}

	// Fetch metrics.
	ServerFetches *prometheus.CounterVec // labels: server, outcome={success,error}
	TracesFetched *prometheus.CounterVec // labels: server
	FDSNRequests  *prometheus.CounterVec // labels: service={event,station,dataselect}, outcome={success,error,nodata}
	FDSNDuration  *prometheus.HistogramVec

	// Consolidation metrics.
	TracesAccepted   prometheus.Counter
	TracesRejected   *prometheus.CounterVec // labels: reason={duplicate,channel,distance,unreadable}
	MetadataRequests *prometheus.CounterVec // labels: outcome={success,error}
	MetadataCache    *prometheus.CounterVec // labels: result={hit,miss}

	// Processing metrics.
	TracesProcessed *prometheus.CounterVec // labels: outcome={success,error}
	EventsNotified  prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := NewMetricsForTesting()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics that are not registered anywhere, so
// tests can build as many as they need.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a run is in progress, 0 otherwise.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of each pipeline stage.",
			Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 14400},
		}, []string{"stage"}),
		ServerFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_fetches_total",
			Help:      "Per-server fetch attempts by outcome.",
		}, []string{"server", "outcome"}),
		TracesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traces_fetched_total",
			Help:      "Waveform files written to staging, by server.",
		}, []string{"server"}),
		FDSNRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fdsn_requests_total",
			Help:      "FDSN web service requests by service and outcome.",
		}, []string{"service", "outcome"}),
		FDSNDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fdsn_request_duration_seconds",
			Help:      "FDSN web service request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"service"}),
		TracesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traces_accepted_total",
			Help:      "Traces copied into an event raw/ directory.",
		}),
		TracesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traces_rejected_total",
			Help:      "Staged traces not accepted into raw/, by reason.",
		}, []string{"reason"}),
		MetadataRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metadata_requests_total",
			Help:      "Instrument response downloads by outcome.",
		}, []string{"outcome"}),
		MetadataCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metadata_cache_total",
			Help:      "Instrument response cache lookups by result.",
		}, []string{"result"}),
		TracesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traces_processed_total",
			Help:      "Response-removal attempts by outcome.",
		}, []string{"outcome"}),
		EventsNotified: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_notified_total",
			Help:      "Event-ready notifications published.",
		}),
	}
}

// Register adds the metrics to a registry other than the default one.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}
	return nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.PipelineRunning,
		m.StageDuration,
		m.ServerFetches,
		m.TracesFetched,
		m.FDSNRequests,
		m.FDSNDuration,
		m.TracesAccepted,
		m.TracesRejected,
		m.MetadataRequests,
		m.MetadataCache,
		m.TracesProcessed,
		m.EventsNotified,
	}
}

// WriteTextfile dumps the gathered metrics in the node_exporter textfile
// format, for batch runs that exit before they can be scraped.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
