// Package metrics provides Prometheus metrics for casefiles.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Remote document API
	remoteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casefiles_remote_requests_total",
			Help: "Total number of document API calls",
		},
		[]string{"operation", "status"},
	)

	remoteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "casefiles_remote_request_duration_seconds",
			Help:    "Document API call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	casesSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "casefiles_cases_skipped_total",
			Help: "Lists dropped from case listings because their drive could not be resolved",
		},
	)

	// Navigation
	breadcrumbDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "casefiles_breadcrumb_depth",
			Help:    "Number of breadcrumb segments produced per folder load",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16, 32},
		},
	)

	// Uploads
	uploadTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casefiles_upload_tasks_total",
			Help: "Upload tasks by terminal status",
		},
		[]string{"status"},
	)

	uploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "casefiles_upload_bytes_total",
			Help: "Total bytes uploaded successfully",
		},
	)

	uploadBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "casefiles_upload_batch_duration_seconds",
			Help:    "Time until every task in a batch reached a terminal state",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Permissions
	permissionChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casefiles_permission_changes_total",
			Help: "Grant and revoke operations",
		},
		[]string{"operation", "status"},
	)

	// Auth
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casefiles_auth_attempts_total",
			Help: "Authentication attempts by provider",
		},
		[]string{"provider", "result"},
	)

	viewModeTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casefiles_view_mode_transitions_total",
			Help: "Session view mode changes",
		},
		[]string{"mode"},
	)

	// Local API
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casefiles_http_requests_total",
			Help: "Total number of local API requests",
		},
		[]string{"method", "status"},
	)

	sseSubscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "casefiles_sse_subscribers",
			Help: "Active event stream subscribers",
		},
		[]string{"topic"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordRemoteCall records one document API call. status is the HTTP status, or 0 on transport failure.
func RecordRemoteCall(operation string, status int, duration time.Duration) {
	remoteRequestsTotal.WithLabelValues(operation, statusClass(status)).Inc()
	remoteRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCaseSkipped counts a list omitted from a case listing.
func RecordCaseSkipped() {
	casesSkippedTotal.Inc()
}

// RecordBreadcrumbDepth records the length of a rebuilt breadcrumb chain.
func RecordBreadcrumbDepth(depth int) {
	breadcrumbDepth.Observe(float64(depth))
}

// RecordUploadTask records a task reaching a terminal state.
func RecordUploadTask(bytes int64, success bool) {
	uploadTasksTotal.WithLabelValues(result(success)).Inc()
	if success {
		uploadBytesTotal.Add(float64(bytes))
	}
}

// RecordUploadBatch records how long a batch took to settle.
func RecordUploadBatch(duration time.Duration) {
	uploadBatchDuration.Observe(duration.Seconds())
}

// RecordPermissionChange records a grant or revoke.
func RecordPermissionChange(operation string, success bool) {
	permissionChangesTotal.WithLabelValues(operation, result(success)).Inc()
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(provider string, success bool) {
	authAttemptsTotal.WithLabelValues(provider, result(success)).Inc()
}

// RecordViewMode records a session view mode transition.
func RecordViewMode(mode string) {
	viewModeTransitions.WithLabelValues(mode).Inc()
}

// AddSubscribers moves the subscriber count for a topic by delta. Several
// broadcasters can share a topic, so each reports only its own changes.
func AddSubscribers(topic string, delta int) {
	sseSubscribers.WithLabelValues(topic).Add(float64(delta))
}

func statusClass(status int) string {
	switch {
	case status == 0:
		return "transport_error"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		httpRequestsTotal.WithLabelValues(r.Method, statusClass(rw.statusCode)).Inc()
	})
}
