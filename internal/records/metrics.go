package records

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ai-benchmarks/aiperf/internal/aiperf/model"
)

// PromMetrics exposes the Records Manager's running totals over
// Prometheus exposition format. It replaces the hand-rolled text
// formatter this package's lineage used to carry
// (internal/metrics/prometheus.go's Collector) with the real
// client_golang types — the library three repos in the reference corpus
// depend on for exactly this job. The instruments are updated as each
// record is observed (Observe, SetOutstanding); a scrape reads them as
// they stand and does not consult the Aggregator.
type PromMetrics struct {
	registry    *prometheus.Registry
	completed   *prometheus.CounterVec
	failed      *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	inFlight    prometheus.Gauge
	aggregator  *Aggregator
}

// NewPromMetrics registers the Records Manager's instrument set on a
// fresh, isolated registry (never the global default, so multiple runs
// in one process never collide).
func NewPromMetrics(agg *Aggregator) *PromMetrics {
	reg := prometheus.NewRegistry()
	m := &PromMetrics{
		registry: reg,
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aiperf_requests_completed_total",
			Help: "Total completed requests by phase.",
		}, []string{"phase"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aiperf_requests_failed_total",
			Help: "Total failed requests by phase.",
		}, []string{"phase"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aiperf_request_latency_seconds",
			Help:    "Request end-to-end latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"phase"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aiperf_credits_outstanding",
			Help: "Credits currently outstanding across all phases.",
		}),
		aggregator: agg,
	}
	reg.MustRegister(m.completed, m.failed, m.latency, m.inFlight)
	return m
}

// Observe records one parsed record's outcome into the Prometheus
// instruments, called alongside Aggregator.Add for every record.
func (m *PromMetrics) Observe(p model.ParsedResponseRecord) {
	phase := string(p.Phase)
	if p.Failed {
		m.failed.WithLabelValues(phase).Inc()
		return
	}
	m.completed.WithLabelValues(phase).Inc()
	m.latency.WithLabelValues(phase).Observe(float64(p.E2ENS) / 1e9)
}

// SetOutstanding updates the outstanding-credits gauge from the Timing
// Manager's phase stats.
func (m *PromMetrics) SetOutstanding(n int64) {
	m.inFlight.Set(float64(n))
}

// Handler returns the /metrics HTTP handler, served by the Records
// Manager's embedded net/http mux the way internal/web/embed.go serves
// its own embedded assets from a dedicated handler function.
func (m *PromMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
