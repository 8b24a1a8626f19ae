package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Global metrics, registered on the default registry through promauto.

var (
	// 1. HTTP Requests Total (Counter)
	// Labeled by method, route pattern and status code.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jqf_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// 2. HTTP Request Duration (Histogram)
	// Buckets reach up to a minute because /query waits on remote models.
	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jqf_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)

	// 3. Query Runs (Counter)
	// outcome is "ok" or "error" (the expression failed and the error object
	// was written downstream).
	QueryRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jqf_query_runs_total",
			Help: "Total number of query node executions",
		},
		[]string{"outcome"},
	)

	// 4. LLM Attempts (Counter)
	// One increment per backend call, including retries.
	LLMAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jqf_llm_attempts_total",
			Help: "Total number of model calls by provider, model and outcome",
		},
		[]string{"provider", "model", "outcome"},
	)

	// 5. Graph Size (Gauge)
	GraphNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jqf_graph_nodes",
			Help: "Number of nodes in the most recently mutated graph",
		},
	)
)
