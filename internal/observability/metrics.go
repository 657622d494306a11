package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "census_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the ETL pipeline.
type Metrics struct {
	UnitsProcessed *prometheus.CounterVec // labels: outcome={persisted,failed}
	StatesFailed   prometheus.Counter
	UnitRetries    prometheus.Counter
	UnitDuration   prometheus.Histogram
	FetchErrors    *prometheus.CounterVec // labels: kind={upstream,malformed,canceled,other}
	LabelsDropped  prometheus.Counter
	StatesInFlight prometheus.Gauge
	RunRunning     prometheus.Gauge

	// Census API metrics.
	APIRequests    *prometheus.CounterVec   // labels: op={enumerate,fetch,catalog}, outcome={success,error}
	APIDuration    *prometheus.HistogramVec // labels: op
	EnumerateCache *prometheus.CounterVec   // labels: result={hit,miss}
	RateLimit      prometheus.Gauge
}

func newMetrics(withHelp bool) *Metrics {
	help := func(s string) string {
		if withHelp {
			return s
		}
		return ""
	}
	return &Metrics{
		UnitsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_processed_total",
			Help:      help("Units that reached a terminal state, by outcome."),
		}, []string{"outcome"}),
		StatesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "states_failed_total",
			Help:      help("States that produced no unit results because enumeration failed or the run was canceled."),
		}),
		UnitRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unit_retries_total",
			Help:      help("Unit attempts repeated after a retryable upstream failure."),
		}),
		UnitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "unit_duration_seconds",
			Help:      help("Duration of a unit fetch-normalize-persist cycle, retries included."),
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      help("Unit attempt failures by error kind."),
		}, []string{"kind"}),
		LabelsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "labels_dropped_total",
			Help:      help("Age/gender columns dropped because no age rule matched."),
		}),
		StatesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "states_in_flight",
			Help:      help("States currently being processed by a worker."),
		}),
		RunRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_running",
			Help:      help("1 while a run is active, 0 otherwise."),
		}),
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      help("Census API requests by operation and outcome."),
		}, []string{"op", "outcome"}),
		APIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_duration_seconds",
			Help:      help("Census API request duration in seconds."),
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"op"}),
		EnumerateCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enumerate_cache_total",
			Help:      help("Unit enumeration cache lookups by result."),
		}, []string{"result"}),
		RateLimit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate_limit_rps",
			Help:      help("Current Census API request rate limit."),
		}),
	}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics(true)
	prometheus.MustRegister(
		m.UnitsProcessed,
		m.StatesFailed,
		m.UnitRetries,
		m.UnitDuration,
		m.FetchErrors,
		m.LabelsDropped,
		m.StatesInFlight,
		m.RunRunning,
		m.APIRequests,
		m.APIDuration,
		m.EnumerateCache,
		m.RateLimit,
	)
	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(false)
}
