package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk HTTP dan domain order/revenue.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	transitions *prometheus.CounterVec
	mutations   *prometheus.CounterVec
	reports     *prometheus.CounterVec
	reportBuild *prometheus.HistogramVec
}

// NewMetrics menginisialisasi registry beserta seluruh collector.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "salespulse_http_requests_total",
		Help: "HTTP requests by route pattern and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "salespulse_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "salespulse_order_transitions_total",
		Help: "Order status transitions by edge and outcome (applied, rejected, failed).",
	}, []string{"from", "to", "outcome"})
	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "salespulse_optimistic_mutations_total",
		Help: "Optimistic order mutations by outcome, including rollbacks.",
	}, []string{"outcome"})
	reports := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "salespulse_revenue_reports_total",
		Help: "Revenue reports served by policy and cache result.",
	}, []string{"policy", "cache"})
	build := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "salespulse_revenue_report_duration_seconds",
		Help:    "Time to serve a revenue report, cache hits included.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"policy"})
	registry.MustRegister(requests, duration, transitions, mutations, reports, build)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		transitions:     transitions,
		mutations:       mutations,
		reports:         reports,
		reportBuild:     build,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
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

// Registerer exposes the registry for collectors owned by other packages.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// ObserveTransition counts one order status transition attempt.
func (m *Metrics) ObserveTransition(from, to, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to, outcome).Inc()
}

// ObserveMutation counts one optimistic mutation outcome.
func (m *Metrics) ObserveMutation(outcome string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(outcome).Inc()
}

// ObserveReport records a served revenue report.
func (m *Metrics) ObserveReport(policy string, cached bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	cache := "miss"
	if cached {
		cache = "hit"
	}
	m.reports.WithLabelValues(policy, cache).Inc()
	m.reportBuild.WithLabelValues(policy).Observe(elapsed.Seconds())
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
