// Package metrics provides Prometheus-based metrics recording for the query
// pipeline and model calls, plus a query service for aggregation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder records pipeline metrics via Prometheus.
type Recorder struct {
	queriesTotal      *prometheus.CounterVec
	queryDuration     *prometheus.HistogramVec
	correctionsTotal  *prometheus.CounterVec
	preventionsTotal  *prometheus.CounterVec
	llmRequestsTotal  *prometheus.CounterVec
	llmTokensTotal    *prometheus.CounterVec
	llmRequestSeconds *prometheus.HistogramVec
}

// NewRecorder creates a Prometheus-backed recorder. Metrics register on the
// default registry, so create at most one per process.
func NewRecorder() *Recorder {
	return &Recorder{
		queriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sap_queries_total",
				Help: "Total number of natural-language queries by entity and status",
			},
			[]string{"entity", "status"},
		),
		queryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sap_query_duration_seconds",
				Help:    "End-to-end duration of query pipeline runs",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"entity"},
		),
		correctionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sap_corrections_total",
				Help: "URL correction attempts by rule origin and outcome",
			},
			[]string{"origin", "outcome"},
		),
		preventionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sap_preventions_total",
				Help: "Preventive URL fixes applied before execution",
			},
			[]string{"fix_code", "outcome"},
		),
		llmRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Total number of model requests by model, stage, and status",
			},
			[]string{"model", "stage", "status"},
		),
		llmTokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Total number of tokens used in model requests",
			},
			[]string{"model", "stage", "type"},
		),
		llmRequestSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_request_duration_seconds",
				Help:    "Duration of model requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model", "stage"},
		),
	}
}

// ObserveQuery records one pipeline run.
func (r *Recorder) ObserveQuery(entity string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	r.queriesTotal.WithLabelValues(entity, status).Inc()
	r.queryDuration.WithLabelValues(entity).Observe(duration.Seconds())
}

// ObserveCorrection records a correction attempt. origin is "static",
// "learned", or "validator".
func (r *Recorder) ObserveCorrection(origin string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	r.correctionsTotal.WithLabelValues(origin, outcome).Inc()
}

// ObservePrevention records a preventive fix application.
func (r *Recorder) ObservePrevention(fixCode string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	r.preventionsTotal.WithLabelValues(fixCode, outcome).Inc()
}

// ObserveLLMRequest records one model call.
func (r *Recorder) ObserveLLMRequest(model, stage string, promptTokens, completionTokens int, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	r.llmRequestsTotal.WithLabelValues(model, stage, status).Inc()
	if success {
		r.llmTokensTotal.WithLabelValues(model, stage, "prompt").Add(float64(promptTokens))
		r.llmTokensTotal.WithLabelValues(model, stage, "completion").Add(float64(completionTokens))
	}
	r.llmRequestSeconds.WithLabelValues(model, stage).Observe(duration.Seconds())
}

// Serve exposes /metrics on addr. Blocks; run in a goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	//nolint:gosec // Internal metrics endpoint, no timeout hardening needed
	return http.ListenAndServe(addr, mux)
}
