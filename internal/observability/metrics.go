// Package observability provides the Prometheus metrics and OpenTelemetry
// tracing used across the detection pipeline. Metrics cover cycle
// throughput, per-agent latency and failures, anomaly counts by severity,
// and knowledge-graph size; traces span whole cycles and individual agents.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's Prometheus instruments.
type Metrics struct {
	registry *prometheus.Registry

	CyclesTotal       prometheus.Counter
	CycleDuration     prometheus.Histogram
	AnomaliesTotal    *prometheus.CounterVec
	ReportsPublished  prometheus.Counter
	AgentDuration     *prometheus.HistogramVec
	AgentFailures     *prometheus.CounterVec
	GraphNodes        prometheus.Gauge
	GraphEdges        prometheus.Gauge
	Subscribers       prometheus.Gauge
	IngestedPoints    prometheus.Counter
	BroadcastsDropped prometheus.Counter
}

// NewMetrics registers the pipeline instruments on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		CyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamlens_cycles_total",
			Help: "Completed analysis cycles.",
		}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamlens_cycle_duration_seconds",
			Help:    "Wall-clock duration of analysis cycles.",
			Buckets: prometheus.DefBuckets,
		}),
		AnomaliesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamlens_anomalies_total",
			Help: "Accepted anomaly reports by severity.",
		}, []string{"severity"}),
		ReportsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamlens_reports_published_total",
			Help: "Reports pushed to subscribers and the event bus.",
		}),
		AgentDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "streamlens_agent_duration_seconds",
			Help:    "Per-agent analysis duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"agent"}),
		AgentFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamlens_agent_failures_total",
			Help: "Agent analyses that errored, panicked, or timed out.",
		}, []string{"agent"}),
		GraphNodes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "streamlens_graph_nodes",
			Help: "Knowledge graph node count.",
		}),
		GraphEdges: factory.NewGauge(prometheus.GaugeOpts{
			Name: "streamlens_graph_edges",
			Help: "Knowledge graph edge count.",
		}),
		Subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "streamlens_subscribers",
			Help: "Active result-stream subscribers.",
		}),
		IngestedPoints: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamlens_ingested_points_total",
			Help: "Data points accepted by Ingest.",
		}),
		BroadcastsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamlens_broadcasts_dropped_total",
			Help: "Stale cycle results superseded before a subscriber read them.",
		}),
	}
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
