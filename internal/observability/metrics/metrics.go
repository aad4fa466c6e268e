package metrics

import "github.com/prometheus/client_golang/prometheus"

// IntegrationMetrics exposes counters/histograms for upstream scheduling calls.
type IntegrationMetrics struct {
	adapterCalls   *prometheus.CounterVec
	adapterLatency *prometheus.HistogramVec
	searchChunks   *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	compensations  *prometheus.CounterVec
}

func NewIntegrationMetrics(reg prometheus.Registerer) *IntegrationMetrics {
	m := &IntegrationMetrics{
		adapterCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduling_integrator",
			Name:      "adapter_calls_total",
			Help:      "Total upstream adapter calls",
		}, []string{"provider", "operation", "status"}),
		adapterLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scheduling_integrator",
			Name:      "adapter_call_duration_seconds",
			Help:      "Latency of upstream adapter calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "operation"}),
		searchChunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduling_integrator",
			Name:      "search_chunks_total",
			Help:      "Schedule search chunk outcomes",
		}, []string{"status"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduling_integrator",
			Name:      "entity_cache_lookups_total",
			Help:      "Entity cache lookups by result",
		}, []string{"entity_type", "result"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduling_integrator",
			Name:      "reschedule_compensations_total",
			Help:      "Reschedule compensations issued after a failed cancel",
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.adapterCalls, m.adapterLatency, m.searchChunks, m.cacheLookups, m.compensations)
	return m
}

func (m *IntegrationMetrics) ObserveAdapterCall(provider, operation, status string, seconds float64) {
	if m == nil {
		return
	}
	m.adapterCalls.WithLabelValues(provider, operation, status).Inc()
	m.adapterLatency.WithLabelValues(provider, operation).Observe(seconds)
}

func (m *IntegrationMetrics) ObserveSearchChunk(status string) {
	if m == nil {
		return
	}
	m.searchChunks.WithLabelValues(status).Inc()
}

func (m *IntegrationMetrics) ObserveCacheLookup(entityType string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(entityType, result).Inc()
}

func (m *IntegrationMetrics) ObserveCompensation(status string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(status).Inc()
}
