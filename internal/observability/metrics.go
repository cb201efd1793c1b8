package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/schoolhub/schoolhub/internal/auth"
	jobmetrics "github.com/schoolhub/schoolhub/internal/jobs"
	"github.com/schoolhub/schoolhub/internal/permission"
)

// Metrics collects the Prometheus metrics of the web front end.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	decisions       *prometheus.CounterVec
	sessionEvents   *prometheus.CounterVec
	jobs            *jobmetrics.Metrics
}

// NewMetrics initialises the registry and its collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "schoolhub_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "schoolhub_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "schoolhub_permission_decisions_total",
		Help: "Permission decisions by entity, operation and verdict.",
	}, []string{"entity", "operation", "verdict"})
	sessionEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "schoolhub_session_events_total",
		Help: "Session lifecycle events.",
	}, []string{"event"})
	registry.MustRegister(requests, duration, decisions, sessionEvents)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		decisions:       decisions,
		sessionEvents:   sessionEvents,
		jobs:            jobmetrics.NewMetrics(registry),
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency per route pattern.
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

// ObserveDecision counts one permission decision. It is meant to be passed
// to permission.WithObserver.
func (m *Metrics) ObserveDecision(d permission.Decision) {
	if m == nil {
		return
	}
	entity, operation := string(d.Entity), string(d.Operation)
	if d.Route != "" {
		entity, operation = "ROUTE", "READ"
	}
	verdict := "deny"
	if d.Allowed {
		verdict = "allow"
	}
	m.decisions.WithLabelValues(entity, operation, verdict).Inc()
}

// SessionRecorder returns an auth.EventRecorder counting session events.
func (m *Metrics) SessionRecorder() auth.EventRecorder {
	return auth.RecorderFunc(func(_ context.Context, ev auth.Event) error {
		if m != nil {
			m.sessionEvents.WithLabelValues(string(ev.Kind)).Inc()
		}
		return nil
	})
}

// Jobs exposes the background job collectors sharing this registry.
func (m *Metrics) Jobs() *jobmetrics.Metrics {
	if m == nil {
		return nil
	}
	return m.jobs
}

// Registerer exposes the registry for custom collectors.
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
