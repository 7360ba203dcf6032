package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Domain metrics for the authorization and federation core.
var (
	authzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sidra_authz_decisions_total",
			Help: "Authorization decisions by outcome and deny reason.",
		},
		[]string{"operation", "outcome", "reason"},
	)

	federations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sidra_federations_total",
			Help: "Patient federation attempts by result.",
		},
		[]string{"result"},
	)

	sequenceAllocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sidra_sequence_allocations_total",
			Help: "Patient code allocations by birth-year partition.",
		},
		[]string{"partition"},
	)

	realtimeDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sidra_realtime_frames_denied_total",
			Help: "Realtime frames dropped by the destination policy.",
		},
		[]string{"direction"},
	)
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		authzDecisions, federations, sequenceAllocations, realtimeDenied,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAuthzDecision counts one authorization decision. Reason is empty
// for allows.
func RecordAuthzDecision(operation string, allowed bool, reason string) {
	outcome := "allow"
	if !allowed {
		outcome = "deny"
	}
	authzDecisions.WithLabelValues(operation, outcome, reason).Inc()
}

// RecordFederation counts a federation attempt: "created", "deduplicated"
// or "failed".
func RecordFederation(result string) {
	federations.WithLabelValues(result).Inc()
}

// RecordSequenceAllocation counts one allocated patient code.
func RecordSequenceAllocation(partition string) {
	sequenceAllocations.WithLabelValues(partition).Inc()
}

// RecordRealtimeDenied counts a frame dropped by the destination policy.
func RecordRealtimeDenied(direction string) {
	realtimeDenied.WithLabelValues(direction).Inc()
}

// CanonicalPath collapses per-entity path segments so that metric labels
// stay low-cardinality.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	// /v1/patients/<id>[/federate]
	if len(parts) >= 4 && parts[1] == "v1" && parts[2] == "patients" {
		switch {
		case len(parts) == 4 && parts[3] != "search" && parts[3] != "external":
			return "/v1/patients/:id"
		case len(parts) == 5 && parts[4] == "federate":
			return "/v1/patients/:id/federate"
		}
	}
	return path
}

// Instrument wraps a handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for metrics labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer so streaming responses (SSE)
// keep flushing through the instrumentation layer.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
