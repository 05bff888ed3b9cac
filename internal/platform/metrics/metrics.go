package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application. A nil *Metrics is
// safe everywhere; instrumented components skip recording when unobserved.
type Metrics struct {
	ProviderRequests   *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec
	RecordsHistorical  prometheus.Counter
	RecordsReactivated prometheus.Counter
	RequestDuration    *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics on the default registry.
// Call once from the composition root.
func New() *Metrics {
	return &Metrics{
		ProviderRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "icp_provider_requests_total",
			Help: "Provider lookups by provider and outcome (found, empty, no_data)",
		}, []string{"provider", "outcome"}),
		CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "icp_cache_lookups_total",
			Help: "Record cache lookups by result (hit, miss, stale)",
		}, []string{"result"}),
		RecordsHistorical: promauto.NewCounter(prometheus.CounterOpts{
			Name: "icp_records_marked_historical_total",
			Help: "Records flagged historical because a re-query no longer reported them",
		}),
		RecordsReactivated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "icp_records_reactivated_total",
			Help: "Historical records reactivated by a later provider confirmation",
		}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "icp_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// ObserveProvider records one provider lookup outcome.
func (m *Metrics) ObserveProvider(provider, outcome string) {
	if m == nil {
		return
	}
	m.ProviderRequests.WithLabelValues(provider, outcome).Inc()
}

// ObserveCache records one cache lookup result.
func (m *Metrics) ObserveCache(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// IncHistorical counts a record flipped to historical.
func (m *Metrics) IncHistorical() {
	if m == nil {
		return
	}
	m.RecordsHistorical.Inc()
}

// IncReactivated counts a historical record flipped back to active.
func (m *Metrics) IncReactivated() {
	if m == nil {
		return
	}
	m.RecordsReactivated.Inc()
}

// ObserveRequest records one HTTP request latency sample.
func (m *Metrics) ObserveRequest(route string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(route).Observe(d.Seconds())
}
