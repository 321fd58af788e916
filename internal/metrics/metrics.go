// Package metrics exposes the gateway's Prometheus instrumentation. All
// collectors live on a private registry so tests can assert on values without
// cross-test pollution.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	RoutesTotal      *prometheus.CounterVec
	RouteDuration    prometheus.Histogram
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	Materializations prometheus.Counter
	Synthesized      prometheus.Counter
	SessionsTotal    *prometheus.CounterVec
	SandboxInFlight  prometheus.Gauge
	ConnectedServers prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RoutesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toolgate",
			Name:      "routes_total",
			Help:      "Routing decisions by mode.",
		}, []string{"mode"}),
		RouteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "toolgate",
			Name:      "route_duration_seconds",
			Help:      "End-to-end latency of intelligent_route.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "toolgate",
			Name:      "route_cache_hits_total",
			Help:      "Routing decisions served from the fingerprint cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "toolgate",
			Name:      "route_cache_misses_total",
			Help:      "Fingerprint cache lookups that missed.",
		}),
		Materializations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "toolgate",
			Name:      "materializations_total",
			Help:      "Catalog entries promoted to materialized.",
		}),
		Synthesized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "toolgate",
			Name:      "synthesized_workflows_total",
			Help:      "Workflows synthesized and registered.",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toolgate",
			Name:      "sessions_total",
			Help:      "Workflow execution sessions by terminal status.",
		}, []string{"status"}),
		SandboxInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "toolgate",
			Name:      "sandbox_sessions_in_flight",
			Help:      "Sessions currently queued or running in the sandbox pool.",
		}),
		ConnectedServers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "toolgate",
			Name:      "connected_tool_servers",
			Help:      "Tool servers with a live connection.",
		}),
	}
	m.registry.MustRegister(
		m.RoutesTotal, m.RouteDuration,
		m.CacheHits, m.CacheMisses,
		m.Materializations, m.Synthesized,
		m.SessionsTotal, m.SandboxInFlight, m.ConnectedServers,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
