// Package observability holds the Prometheus metrics for the settlement
// service and the HTTP middleware that feeds the request-level ones.
package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks HTTP requests by route and status code.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "code"},
	)

	// RequestDuration tracks request duration per route.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "settlement_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// ActiveRequests tracks currently active requests per route.
	ActiveRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "settlement_http_active_requests",
			Help: "Number of active HTTP requests",
		},
		[]string{"route"},
	)

	// UploadsTotal tracks accepted uploads by channel and area.
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_uploads_total",
			Help: "Total number of accepted settlement file uploads",
		},
		[]string{"channel", "area"},
	)

	// JobsTotal tracks finished processing jobs by channel and outcome.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_jobs_total",
			Help: "Total number of finished settlement processing jobs",
		},
		[]string{"channel", "status"},
	)

	// ActiveJobs tracks jobs currently being parsed.
	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "settlement_active_jobs",
			Help: "Number of settlement jobs currently processing",
		},
	)

	// JobDuration tracks how long a settlement file takes to parse.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "settlement_job_duration_seconds",
			Help:    "Settlement job processing duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"channel"},
	)

	// LinesParsed tracks raw settlement lines seen per channel.
	LinesParsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_lines_parsed_total",
			Help: "Total number of settlement file lines parsed",
		},
		[]string{"channel"},
	)

	// LinesSkipped tracks lines dropped during parsing, by reason.
	LinesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_lines_skipped_total",
			Help: "Total number of settlement file lines skipped during parsing",
		},
		[]string{"channel", "reason"},
	)

	// ReportsBuilt counts generated report archives.
	ReportsBuilt = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_reports_built_total",
			Help: "Total number of report archives generated",
		},
	)
)

// NewMetricsMiddleware records request count, duration, and in-flight gauge
// for every request.
func NewMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := metricRoute(r.URL.Path)

		ActiveRequests.WithLabelValues(route).Inc()
		defer ActiveRequests.WithLabelValues(route).Dec()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
	})
}

// metricRoute collapses per-job paths so job and run ids do not blow up
// label cardinality.
func metricRoute(path string) string {
	const statusPrefix = "/api/processing-status/"
	if strings.HasPrefix(path, statusPrefix) {
		return statusPrefix + ":id"
	}
	const runsPrefix = "/api/runs/"
	if strings.HasPrefix(path, runsPrefix) {
		return runsPrefix + ":id"
	}
	return path
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
