package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "graphpower"

// Metrics holds the server's Prometheus collectors. It satisfies the
// observer interfaces of the mcp, orchestrator, graph and discovery
// packages.
type Metrics struct {
	registry *prometheus.Registry

	rpcTotal        *prometheus.CounterVec
	rpcDuration     *prometheus.HistogramVec
	toolCalls       *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
	graphRequests   *prometheus.CounterVec
	graphDuration   *prometheus.HistogramVec
	graphRetries    *prometheus.CounterVec
	discoveryLookup *prometheus.CounterVec
}

// NewMetrics registers collectors on reg. A nil reg gets a fresh registry.
func NewMetrics(reg *prometheus.Registry, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		rpcTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "JSON-RPC requests by method and error code (0 for success)",
		}, []string{"method", "code"}),
		rpcDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_request_duration_seconds",
			Help:      "JSON-RPC request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		toolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls by tool and outcome",
		}, []string{"tool", "outcome"}),
		toolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call latency including Graph retries",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"tool"}),
		graphRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_requests_total",
			Help:      "Graph HTTP attempts by method and status",
		}, []string{"method", "status"}),
		graphDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "graph_request_duration_seconds",
			Help:      "Graph HTTP attempt latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		graphRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_retries_total",
			Help:      "Graph retries by triggering status",
		}, []string{"status"}),
		discoveryLookup: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_lookups_total",
			Help:      "discover_graph lookups by outcome (hit, miss, fallback)",
		}, []string{"outcome"}),
	}
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) ObserveRPC(method string, code int, d time.Duration) {
	m.rpcTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) ObserveToolCall(tool, outcome string, d time.Duration) {
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

func (m *Metrics) ObserveGraphRequest(method string, status int, d time.Duration) {
	m.graphRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.graphDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) ObserveGraphRetry(status int) {
	m.graphRetries.WithLabelValues(strconv.Itoa(status)).Inc()
}

func (m *Metrics) ObserveDiscovery(outcome string) {
	m.discoveryLookup.WithLabelValues(outcome).Inc()
}
