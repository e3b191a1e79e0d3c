// Package metrics provides Prometheus metrics for the server.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts total HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeact_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration tracks request latency
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codeact_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ActiveSessions tracks currently active sessions
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "codeact_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// GenerationsTotal counts completed generation passes by outcome
	GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeact_generations_total",
			Help: "Total number of completed generation passes",
		},
		[]string{"outcome"},
	)

	// GenerationDuration tracks how long generation passes run
	GenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "codeact_generation_duration_seconds",
			Help:    "Generation pass duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	// SandboxCalls counts sandbox executions by outcome kind
	SandboxCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeact_sandbox_calls_total",
			Help: "Total number of sandbox execution calls",
		},
		[]string{"kind"},
	)

	// SandboxCallDuration tracks sandbox call latency
	SandboxCallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "codeact_sandbox_call_duration_seconds",
			Help:    "Sandbox call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// EventsEmitted counts stream events emitted to clients by type
	EventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeact_events_emitted_total",
			Help: "Total number of stream events emitted",
		},
		[]string{"type"},
	)

	// EventBufferDrops tracks dropped events due to buffer overflow
	EventBufferDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "codeact_event_buffer_drops_total",
			Help: "Total number of events dropped due to buffer overflow",
		},
	)
)

// RecordSessionStart updates metrics when a session is registered
func RecordSessionStart() {
	ActiveSessions.Inc()
}

// RecordSessionEnd updates metrics when a session is removed
func RecordSessionEnd() {
	ActiveSessions.Dec()
}

// RecordGeneration records a completed generation pass
func RecordGeneration(outcome string, durationSeconds float64) {
	GenerationsTotal.WithLabelValues(outcome).Inc()
	GenerationDuration.Observe(durationSeconds)
}

// RecordSandboxCall records a sandbox execution by outcome kind
func RecordSandboxCall(kind string, durationSeconds float64) {
	SandboxCalls.WithLabelValues(kind).Inc()
	SandboxCallDuration.Observe(durationSeconds)
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher for SSE support
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware creates an HTTP middleware that records metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		RequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// normalizePath collapses session-specific path segments to keep label
// cardinality bounded.
func normalizePath(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if len(p) == 36 && strings.Count(p, "-") == 4 {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
