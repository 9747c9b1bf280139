package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

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

	trustOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trust_operations_total",
			Help: "Trust operations processed by the dispatcher, by outcome.",
		},
		[]string{"operation", "outcome"},
	)

	rateLimitRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rate_limit_rejections_total",
		Help: "Operations rejected by the per-user/per-organization rate limiter.",
	})

	securityViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_violations_total",
			Help: "Detected security violations, by category.",
		},
		[]string{"category"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the service considers itself ready.",
	})
)

// Init registers metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		trustOperationsTotal, rateLimitRejections, securityViolations,
		ready,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady flips the readiness gauge.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
	} else {
		ready.Set(0)
	}
}

// ObserveTrustOperation records a dispatcher outcome.
func ObserveTrustOperation(operation string, valid bool) {
	outcome := "valid"
	if !valid {
		outcome = "invalid"
	}
	trustOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveRateLimitRejection counts a rate-limited operation.
func ObserveRateLimitRejection() {
	rateLimitRejections.Inc()
}

// ObserveSecurityViolation counts a detected violation by category
// (e.g. "sql_injection", "replay", "integrity").
func ObserveSecurityViolation(category string) {
	securityViolations.WithLabelValues(category).Inc()
}

// Instrument wraps a handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
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

// statusWriter captures the response code for labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
