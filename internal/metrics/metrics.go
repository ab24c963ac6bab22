// Package metrics exposes classification counters and latencies to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/a3tai/pdf-doc-classifier/internal/intelligence"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pdf_classifier"

// ClassifierMetrics implements the classifier and batch recorders
type ClassifierMetrics struct {
	registry *prometheus.Registry

	classificationsTotal *prometheus.CounterVec
	classifyDuration     *prometheus.HistogramVec
	methodErrorsTotal    *prometheus.CounterVec
	batchDocumentsTotal  *prometheus.CounterVec
	toolCallsTotal       *prometheus.CounterVec
}

// New creates the metric set on a private registry
func New() *ClassifierMetrics {
	registry := prometheus.NewRegistry()

	classificationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "classifications_total",
			Help:      "Classified documents by final type and arbitration path.",
		},
		[]string{"type", "path"},
	)
	classifyDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "classification_duration_seconds",
			Help:      "Time spent classifying one document, by arbitration path.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"path"},
	)
	methodErrorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "method_errors_total",
			Help:      "Optional scorer failures by method.",
		},
		[]string{"method"},
	)
	batchDocumentsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "documents_total",
			Help:      "Batch documents processed by status.",
		},
		[]string{"status"},
	)
	toolCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mcp",
			Name:      "tool_calls_total",
			Help:      "MCP tool invocations by tool and outcome.",
		},
		[]string{"tool", "status"},
	)

	registry.MustRegister(classificationsTotal, classifyDuration, methodErrorsTotal, batchDocumentsTotal, toolCallsTotal)

	return &ClassifierMetrics{
		registry:             registry,
		classificationsTotal: classificationsTotal,
		classifyDuration:     classifyDuration,
		methodErrorsTotal:    methodErrorsTotal,
		batchDocumentsTotal:  batchDocumentsTotal,
		toolCallsTotal:       toolCallsTotal,
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *ClassifierMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *ClassifierMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *ClassifierMetrics) ObserveClassification(dt intelligence.DocumentType, path string, elapsed time.Duration) {
	m.classificationsTotal.WithLabelValues(string(dt), path).Inc()
	m.classifyDuration.WithLabelValues(path).Observe(elapsed.Seconds())
}

func (m *ClassifierMetrics) ObserveMethodError(method intelligence.Method) {
	m.methodErrorsTotal.WithLabelValues(string(method)).Inc()
}

func (m *ClassifierMetrics) ObserveDocument(status string) {
	m.batchDocumentsTotal.WithLabelValues(status).Inc()
}

// ObserveToolCall counts an MCP tool invocation
func (m *ClassifierMetrics) ObserveToolCall(tool string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.toolCallsTotal.WithLabelValues(tool, status).Inc()
}
