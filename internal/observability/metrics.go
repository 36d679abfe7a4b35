package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// JobsAdmittedTotal counts jobs admitted by kind.
	JobsAdmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_admitted_total",
			Help: "Total number of jobs admitted to the orchestrator",
		},
		[]string{"kind"},
	)
	// JobsRunning is a gauge of the number of currently running jobs by kind.
	JobsRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_running",
			Help: "Number of jobs currently running",
		},
		[]string{"kind"},
	)
	// JobsQueueDepth is a gauge of the number of jobs waiting for an admission slot.
	JobsQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_queue_depth",
			Help: "Number of jobs queued awaiting admission",
		},
		[]string{"kind"},
	)
	// JobsCompletedTotal counts jobs completed by kind.
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed",
		},
		[]string{"kind"},
	)
	// JobsFailedTotal counts jobs failed by kind and error_kind.
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs failed",
		},
		[]string{"kind", "error_kind"},
	)
	// StageDuration records per-stage duration for the recon pipeline.
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recon_stage_duration_seconds",
			Help:    "Duration of each recon pipeline stage",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"stage"},
	)
	// AnalysisMarkdownRenderDuration records the Aggregator's render latency.
	AnalysisMarkdownRenderDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "analysis_markdown_render_duration_seconds",
			Help:    "Duration of ProductVerdict markdown rendering",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
	)
	// AnalyzerTokensEstimated tracks the AnalyzerClient's pre-call token estimate.
	AnalyzerTokensEstimated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_tokens_estimated_total",
			Help: "Estimated prompt tokens sent to the vision model",
		},
		[]string{"operation"},
	)
	// AnalyzerParseFallbackTotal counts AnalyzerClient's JSON-parse-fallback path
	// (the "Defaulted" arm of the tagged sum), so this silent recovery is visible.
	AnalyzerParseFallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_parse_fallback_total",
			Help: "Total AnalyzerClient responses that fell back to the default verdict",
		},
		[]string{"reason"},
	)
	// CircuitBreakerStatus tracks circuit breaker state.
	CircuitBreakerStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_status",
			Help: "Circuit breaker status (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service", "operation"},
	)
	// ReconciliationFailuresTotal counts StatusReconciler writes that failed
	// (best-effort; these never roll back JobStore).
	ReconciliationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_failures_total",
			Help: "Total external DB reconciliation write failures",
		},
		[]string{"op"},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(JobsAdmittedTotal)
	prometheus.MustRegister(JobsRunning)
	prometheus.MustRegister(JobsQueueDepth)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(StageDuration)
	prometheus.MustRegister(AnalysisMarkdownRenderDuration)
	prometheus.MustRegister(AnalyzerTokensEstimated)
	prometheus.MustRegister(AnalyzerParseFallbackTotal)
	prometheus.MustRegister(CircuitBreakerStatus)
	prometheus.MustRegister(ReconciliationFailuresTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}

// AdmitJob increments the admitted counter for the given kind.
func AdmitJob(kind string) {
	JobsAdmittedTotal.WithLabelValues(kind).Inc()
}

// StartRunningJob increments the running gauge for the given kind.
func StartRunningJob(kind string) {
	JobsRunning.WithLabelValues(kind).Inc()
}

// CompleteJob marks a job complete: decrements running, increments completed.
func CompleteJob(kind string) {
	JobsRunning.WithLabelValues(kind).Dec()
	JobsCompletedTotal.WithLabelValues(kind).Inc()
}

// FailJob marks a job failed: decrements running, increments failed by error_kind.
func FailJob(kind, errorKind string) {
	JobsRunning.WithLabelValues(kind).Dec()
	JobsFailedTotal.WithLabelValues(kind, errorKind).Inc()
}

// RecordCircuitBreakerStatus records circuit breaker state.
func RecordCircuitBreakerStatus(service, operation string, status int) {
	CircuitBreakerStatus.WithLabelValues(service, operation).Set(float64(status))
}

// RecordReconciliationFailure increments the reconciliation failure counter.
func RecordReconciliationFailure(op string) {
	ReconciliationFailuresTotal.WithLabelValues(op).Inc()
}
