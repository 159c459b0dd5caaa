package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fundwatch",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fundwatch",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fundwatch",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	reportsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fundwatch",
			Subsystem: "reports",
			Name:      "submitted_total",
			Help:      "Total number of citizen reports recorded.",
		},
		[]string{"type"},
	)

	statusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fundwatch",
			Subsystem: "transactions",
			Name:      "status_transitions_total",
			Help:      "Total number of transaction status transitions.",
		},
		[]string{"status", "trigger"},
	)

	commentsPosted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fundwatch",
			Subsystem: "comments",
			Name:      "posted_total",
			Help:      "Total number of comments accepted.",
		},
	)

	commentsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fundwatch",
			Subsystem: "comments",
			Name:      "rejected_total",
			Help:      "Total number of comment submissions rejected.",
		},
		[]string{"reason"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		reportsSubmitted,
		statusTransitions,
		commentsPosted,
		commentsRejected,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordReport counts an accepted citizen report.
func RecordReport(reportType string) {
	if reportType == "" {
		reportType = "unknown"
	}
	reportsSubmitted.WithLabelValues(reportType).Inc()
}

// RecordStatusTransition counts a transaction status change. trigger is
// "threshold" for report-driven transitions and "moderation" for admin ones.
func RecordStatusTransition(status, trigger string) {
	statusTransitions.WithLabelValues(status, trigger).Inc()
}

// RecordCommentPosted counts an accepted comment.
func RecordCommentPosted() {
	commentsPosted.Inc()
}

// RecordCommentRejected counts a rejected comment submission by reason.
func RecordCommentRejected(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	commentsRejected.WithLabelValues(reason).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses resource identifiers so metric cardinality stays
// bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "api" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/api"
	}
	out := []string{"api", parts[1]}
	for _, part := range parts[2:] {
		switch part {
		case "reports", "comments", "status", "analytics", "me", "register", "login", "audit":
			out = append(out, part)
		default:
			out = append(out, ":id")
		}
	}
	return "/" + strings.Join(out, "/")
}
