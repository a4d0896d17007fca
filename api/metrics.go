package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/variance"
)

// Metrics holds the service's Prometheus collectors. Each instance registers
// against its own registry so tests can build as many routers as they like.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge

	calculations  prometheus.Counter
	auditResults  *prometheus.CounterVec
	alertsCreated *prometheus.CounterVec
	auditRuns     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		httpInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Number of HTTP requests currently being served",
		}),
		calculations: f.NewCounter(prometheus.CounterOpts{
			Name: "commission_calculations_total",
			Help: "Commission calculation passes run",
		}),
		auditResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "commission_audit_results_total",
			Help: "Audit results by status",
		}, []string{"status"}),
		alertsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "variance_alerts_created_total",
			Help: "Variance alerts raised by severity",
		}, []string{"severity"}),
		auditRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "commission_audit_runs_total",
			Help: "Audit passes by trigger (api or scheduler) and outcome",
		}, []string{"trigger", "outcome"}),
	}
}

// Middleware records request count, latency and in-flight requests. The
// route label is chi's pattern so ids do not blow up cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		labels := prometheus.Labels{"method": r.Method, "route": route, "status": strconv.Itoa(status)}
		m.httpRequests.With(labels).Inc()
		m.httpDuration.With(labels).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveCalculation() {
	m.calculations.Inc()
}

func (m *Metrics) ObserveAudit(trigger string, results []commission.AuditResult, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.auditRuns.WithLabelValues(trigger, outcome).Inc()
	for _, r := range results {
		m.auditResults.WithLabelValues(string(r.Status)).Inc()
	}
}

func (m *Metrics) ObserveAlerts(alerts []variance.VarianceAlert) {
	for _, a := range alerts {
		m.alertsCreated.WithLabelValues(string(a.Severity)).Inc()
	}
}
