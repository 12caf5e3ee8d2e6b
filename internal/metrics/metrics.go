package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds the pipeline's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec
	LLMRetriesTotal    *prometheus.CounterVec

	MethodsProcessedTotal *prometheus.CounterVec
	ParseFailuresTotal    *prometheus.CounterVec
	ToolsTotal            *prometheus.CounterVec
	ViolationsTotal       *prometheus.CounterVec
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,

		LLMRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capgen_llm_requests_total",
			Help: "Completion attempts by outcome.",
		}, []string{"model", "outcome"}),

		LLMRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "capgen_llm_request_duration_seconds",
			Help:    "Completion attempt latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"model"}),

		LLMRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capgen_llm_retries_total",
			Help: "Retries after transient completion faults.",
		}, []string{"model"}),

		MethodsProcessedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capgen_methods_processed_total",
			Help: "API methods processed per stage.",
		}, []string{"stage"}),

		ParseFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capgen_parse_failures_total",
			Help: "Model outputs that could not be parsed per stage.",
		}, []string{"stage"}),

		ToolsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capgen_tools_total",
			Help: "Tools handled per stage and result (done, skipped, failed).",
		}, []string{"stage", "result"}),

		ViolationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capgen_constraint_violations_total",
			Help: "Constraint violations found by category.",
		}, []string{"category"}),
	}
	reg.MustRegister(
		m.LLMRequestsTotal,
		m.LLMRequestDuration,
		m.LLMRetriesTotal,
		m.MethodsProcessedTotal,
		m.ParseFailuresTotal,
		m.ToolsTotal,
		m.ViolationsTotal,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile dumps the registry for the node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

func (m *Metrics) LLMRequest(model, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.LLMRequestsTotal.WithLabelValues(model, outcome).Inc()
	m.LLMRequestDuration.WithLabelValues(model).Observe(d.Seconds())
}

func (m *Metrics) LLMRetry(model string) {
	if m == nil {
		return
	}
	m.LLMRetriesTotal.WithLabelValues(model).Inc()
}

func (m *Metrics) MethodsProcessed(stage string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.MethodsProcessedTotal.WithLabelValues(stage).Add(float64(n))
}

func (m *Metrics) ParseFailures(stage string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ParseFailuresTotal.WithLabelValues(stage).Add(float64(n))
}

func (m *Metrics) Tool(stage, result string) {
	if m == nil {
		return
	}
	m.ToolsTotal.WithLabelValues(stage, result).Inc()
}

func (m *Metrics) Violations(category string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ViolationsTotal.WithLabelValues(category).Add(float64(n))
}

// Snapshot sums every counter family by metric name.
func (m *Metrics) Snapshot() (map[string]float64, error) {
	out := make(map[string]float64)
	if m == nil {
		return out, nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}
	for _, mf := range families {
		if mf.GetType() != dto.MetricType_COUNTER {
			continue
		}
		var total float64
		for _, metric := range mf.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
		out[mf.GetName()] = total
	}
	return out, nil
}
