package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	operationDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	serverDurationBuckets    = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1}
)

// Metrics holds the Prometheus instruments of the client runtime. All
// recording methods are no-ops on a nil *Metrics.
type Metrics struct {
	// Operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	PagesFetchedTotal *prometheus.CounterVec

	// Pipeline metrics
	RequestsTotal       *prometheus.CounterVec
	RetriesTotal        *prometheus.CounterVec
	CircuitBreakerState prometheus.Gauge
	InFlightRequests    prometheus.Gauge
	CacheHitsTotal      *prometheus.CounterVec
	CacheMissesTotal    *prometheus.CounterVec

	// Descriptor tables
	OperationsIndexed *prometheus.GaugeVec

	// Mock server
	ServerRequestsTotal   *prometheus.CounterVec
	ServerRequestDuration *prometheus.HistogramVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "restkit_operations_total",
			Help: "Total number of operation invocations by outcome.",
		}, []string{"operation", "outcome"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "restkit_operation_duration_seconds",
			Help:    "Operation invocation duration in seconds.",
			Buckets: operationDurationBuckets,
		}, []string{"operation"}),
		PagesFetchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "restkit_pages_fetched_total",
			Help: "Total number of list pages fetched.",
		}, []string{"operation"}),

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "restkit_http_requests_total",
			Help: "Total number of HTTP exchanges sent by the pipeline.",
		}, []string{"method", "status"}),
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "restkit_http_retries_total",
			Help: "Total number of retried HTTP exchanges.",
		}, []string{"method"}),
		CircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "restkit_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
		InFlightRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "restkit_http_in_flight_requests",
			Help: "Number of HTTP exchanges currently in flight.",
		}),
		CacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "restkit_response_cache_hits_total",
			Help: "Total conditional requests answered from the response cache.",
		}, []string{"driver"}),
		CacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "restkit_response_cache_misses_total",
			Help: "Total cacheable requests not answered from the response cache.",
		}, []string{"driver"}),

		OperationsIndexed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "restkit_operations_indexed",
			Help: "Number of operation descriptors built from OpenAPI documents.",
		}, []string{"service_id"}),

		ServerRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "restkit_mock_requests_total",
			Help: "Total number of requests served by the mock service.",
		}, []string{"method", "path_pattern", "status"}),
		ServerRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "restkit_mock_request_duration_seconds",
			Help:    "Mock service request duration in seconds.",
			Buckets: serverDurationBuckets,
		}, []string{"method", "path_pattern"}),
	}

	reg.MustRegister(
		m.OperationsTotal,
		m.OperationDuration,
		m.PagesFetchedTotal,
		m.RequestsTotal,
		m.RetriesTotal,
		m.CircuitBreakerState,
		m.InFlightRequests,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.OperationsIndexed,
		m.ServerRequestsTotal,
		m.ServerRequestDuration,
	)

	return m
}

// --- Recording helpers ---

// RecordOperation records one invocation. Outcome is "success" or an error
// kind in snake case.
func (m *Metrics) RecordOperation(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, outcome).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordPage records a fetched list page.
func (m *Metrics) RecordPage(operation string) {
	if m == nil {
		return
	}
	m.PagesFetchedTotal.WithLabelValues(operation).Inc()
}

// RecordRequest records one HTTP exchange. Status 0 marks a transport
// failure.
func (m *Metrics) RecordRequest(method string, status int) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// RecordRetry records a retried exchange.
func (m *Metrics) RecordRetry(method string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(method).Inc()
}

// SetCircuitBreakerState sets the breaker gauge. State: 0=closed,
// 1=half-open, 2=open.
func (m *Metrics) SetCircuitBreakerState(state float64) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.Set(state)
}

// AddInFlight adjusts the in-flight gauge by delta.
func (m *Metrics) AddInFlight(delta float64) {
	if m == nil {
		return
	}
	m.InFlightRequests.Add(delta)
}

// RecordCacheHit records a response cache hit.
func (m *Metrics) RecordCacheHit(driver string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(driver).Inc()
}

// RecordCacheMiss records a response cache miss.
func (m *Metrics) RecordCacheMiss(driver string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(driver).Inc()
}

// SetOperationsIndexed sets the number of descriptors built for a service.
func (m *Metrics) SetOperationsIndexed(serviceID string, count float64) {
	if m == nil {
		return
	}
	m.OperationsIndexed.WithLabelValues(serviceID).Set(count)
}

// RecordServerRequest records a request served by the mock service.
func (m *Metrics) RecordServerRequest(method, pathPattern string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.ServerRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.ServerRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordServerRequest(r.Method, routePattern(r), sw.status, time.Since(start))
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns a /metrics handler serving the given gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}
