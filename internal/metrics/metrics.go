// Package metrics holds the Prometheus collectors of one gateway instance.
//
// Collectors live on a private registry so several gateways (and tests) can
// coexist in one process. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickchristie/sqlgate-mcp/internal/pool"
)

const namespace = "sqlgate"

// StatSource reports pool usage.
type StatSource interface {
	Stat() pool.Stat
}

// Metrics records tool, query and pool activity.
type Metrics struct {
	registry *prometheus.Registry

	toolCalls        *prometheus.CounterVec
	toolDuration     *prometheus.HistogramVec
	queryDuration    *prometheus.HistogramVec
	rowsReturned     *prometheus.CounterVec
	policyRejections *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	exportBytes      *prometheus.CounterVec

	mu    sync.Mutex
	pools map[string]bool
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		toolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Total number of MCP tool calls",
			},
			[]string{"tool", "status"},
		),
		toolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_call_duration_seconds",
				Help:      "MCP tool call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		queryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_seconds",
				Help:      "Statement execution time including fetch, in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"operation"},
		),
		rowsReturned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_returned_total",
				Help:      "Total number of rows returned to clients",
			},
			[]string{"operation"},
		),
		policyRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_rejections_total",
				Help:      "Total number of statements rejected before execution",
			},
			[]string{"stage"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of failed operations by error kind",
			},
			[]string{"operation", "kind"},
		),
		exportBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "export_bytes_total",
				Help:      "Total number of exported bytes",
			},
			[]string{"format", "sink"},
		),
		pools: make(map[string]bool),
	}
}

// RegisterPool exposes gauges for a named pool. Registering a name twice is
// a no-op, so a metadata pool that aliases the primary pool is reported once.
func (m *Metrics) RegisterPool(name string, src StatSource) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pools[name] {
		return
	}
	m.pools[name] = true

	factory := promauto.With(m.registry)
	labels := prometheus.Labels{"pool": name}
	gauge := func(metric, help string, value func(pool.Stat) float64) {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "pool",
			Name:        metric,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return value(src.Stat()) })
	}
	gauge("sessions_total", "Open sessions", func(s pool.Stat) float64 { return float64(s.Total) })
	gauge("sessions_idle", "Idle sessions", func(s pool.Stat) float64 { return float64(s.Idle) })
	gauge("sessions_leased", "Sessions leased by in-flight requests", func(s pool.Stat) float64 { return float64(s.Leased) })
	gauge("sessions_max", "Configured maximum sessions", func(s pool.Stat) float64 { return float64(s.Max) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   "pool",
		Name:        "sessions_evicted_total",
		Help:        "Sessions closed instead of being returned to the pool",
		ConstLabels: labels,
	}, func() float64 { return float64(src.Stat().Evicted) })
}

// RecordToolCall records one MCP tool invocation.
func (m *Metrics) RecordToolCall(tool string, failed bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if failed {
		status = "error"
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// RecordQuery records a statement that ran to completion.
func (m *Metrics) RecordQuery(operation string, d time.Duration, rows int) {
	if m == nil {
		return
	}
	m.queryDuration.WithLabelValues(operation).Observe(d.Seconds())
	m.rowsReturned.WithLabelValues(operation).Add(float64(rows))
}

// RecordRejection records a statement denied at stage (classifier, parser,
// policy).
func (m *Metrics) RecordRejection(stage string) {
	if m == nil {
		return
	}
	m.policyRejections.WithLabelValues(stage).Inc()
}

// RecordError records a failed operation by error kind.
func (m *Metrics) RecordError(operation, kind string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(operation, kind).Inc()
}

// RecordExport records an encoded export payload.
func (m *Metrics) RecordExport(format, sink string, size int) {
	if m == nil {
		return
	}
	m.exportBytes.WithLabelValues(format, sink).Add(float64(size))
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
