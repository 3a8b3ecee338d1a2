package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics encapsulates Prometheus metrics for the server.
type Metrics struct {
	registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  *prometheus.GaugeVec
	ErrorsTotal     *prometheus.CounterVec
	RateLimitHits   *prometheus.CounterVec

	// Pipeline
	Rejections       *prometheus.CounterVec
	ProviderAttempts *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	Deduplicated     prometheus.Counter
	UsageTokens      *prometheus.CounterVec
	UsageCost        *prometheus.CounterVec
	UsageFailures    prometheus.Counter
	ChunksIndexed    prometheus.Counter
}

// NewMetrics creates a new Metrics instance with a custom registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatguard_http_requests_total",
				Help: "Total number of HTTP requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatguard_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		ActiveRequests: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chatguard_http_active_requests",
				Help: "Number of currently active HTTP requests",
			},
			[]string{"endpoint"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatguard_errors_total",
				Help: "Total number of errors by type",
			},
			[]string{"type"},
		),
		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatguard_rate_limit_hits_total",
				Help: "Total number of rate limit hits by limiter",
			},
			[]string{"limiter"},
		),
		Rejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatguard_pipeline_rejections_total",
				Help: "Chat messages rejected by the pipeline, by category",
			},
			[]string{"category"},
		),
		ProviderAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatguard_provider_attempts_total",
				Help: "Generation attempts by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		ProviderLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatguard_provider_latency_seconds",
				Help:    "Latency of generation attempts by provider",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		Deduplicated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chatguard_deduplicated_requests_total",
				Help: "Generations served from an identical in-flight request",
			},
		),
		UsageTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatguard_usage_tokens_total",
				Help: "Estimated prompt tokens billed by provider",
			},
			[]string{"provider"},
		),
		UsageCost: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatguard_usage_cost_total",
				Help: "Estimated prompt cost billed by provider",
			},
			[]string{"provider"},
		),
		UsageFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chatguard_usage_record_failures_total",
				Help: "Usage records that could not be written",
			},
		),
		ChunksIndexed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chatguard_context_chunks_indexed_total",
				Help: "Context chunks indexed from uploaded files",
			},
		),
	}

	// Register default Go metrics
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m.RequestsTotal.WithLabelValues("/api/health", "200").Add(0)
	m.RequestsTotal.WithLabelValues("/metrics", "200").Add(0)
	m.RequestDuration.WithLabelValues("/api/health").Observe(0)
	m.RequestDuration.WithLabelValues("/metrics").Observe(0)

	return m
}

// Registry exposes the registry so components such as circuit breakers can
// register their own collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns a handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: false, // Disable OpenMetrics format to avoid escaping=values
	})
}
