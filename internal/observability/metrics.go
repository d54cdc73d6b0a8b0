// Package observability holds the Prometheus registry and the domain
// counters the access-control core reports on.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	permissionDenials  *prometheus.CounterVec
	auditWrites        *prometheus.CounterVec
	integrityFailures  *prometheus.CounterVec
	transactionFailures prometheus.Counter
}

// NewMetrics initializes the registry with HTTP and domain metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meridian_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	denials := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_permission_denials_total",
		Help: "Permission assertions that failed, by permission code.",
	}, []string{"code"})
	audits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_audit_writes_total",
		Help: "Audit records written, by trail flavor.",
	}, []string{"flavor"})
	integrity := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_audit_integrity_failures_total",
		Help: "Audit records whose integrity hash failed re-validation.",
	}, []string{"flavor"})
	txFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_transaction_failures_total",
		Help: "Atomic units of work that failed to commit.",
	})
	registry.MustRegister(requests, duration, denials, audits, integrity, txFailures)
	return &Metrics{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:      requests,
		requestDuration:    duration,
		permissionDenials:  denials,
		auditWrites:        audits,
		integrityFailures:  integrity,
		transactionFailures: txFailures,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// PermissionDenied counts a failed permission assertion.
func (m *Metrics) PermissionDenied(code string) {
	if m == nil {
		return
	}
	m.permissionDenials.WithLabelValues(code).Inc()
}

// AuditWrite counts an audit record written for the given flavor.
func (m *Metrics) AuditWrite(flavor string) {
	if m == nil {
		return
	}
	m.auditWrites.WithLabelValues(flavor).Inc()
}

// IntegrityFailure counts a stored record failing hash re-validation.
func (m *Metrics) IntegrityFailure(flavor string) {
	if m == nil {
		return
	}
	m.integrityFailures.WithLabelValues(flavor).Inc()
}

// TransactionFailure counts a failed commit of an atomic unit of work.
func (m *Metrics) TransactionFailure() {
	if m == nil {
		return
	}
	m.transactionFailures.Inc()
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
