package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolhub/schoolhub/internal/auth"
	"github.com/schoolhub/schoolhub/internal/permission"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	assert.Contains(t, body, `schoolhub_http_requests_total{code="418",route="/test"} 1`)
	assert.Contains(t, body, `schoolhub_http_request_duration_seconds_bucket{route="/test"`)
}

type role permission.Role

func (r role) SubjectRole() (permission.Role, bool) { return permission.Role(r), true }

func TestPermissionDecisionsAreCounted(t *testing.T) {
	metrics := NewMetrics()
	ev := permission.NewEvaluator(nil, permission.WithObserver(metrics.ObserveDecision))

	viewer := role(permission.RoleViewer)
	assert.True(t, ev.Can(viewer, permission.EntityStudent, permission.OpRead))
	assert.False(t, ev.Can(viewer, permission.EntityStudent, permission.OpDelete))
	assert.False(t, ev.Can(nil, permission.EntityStudent, permission.OpDelete))
	assert.False(t, ev.CheckRoute(viewer, "/audit"))

	body := scrape(t, metrics)
	assert.Contains(t, body, `schoolhub_permission_decisions_total{entity="STUDENT",operation="READ",verdict="allow"} 1`)
	assert.Contains(t, body, `schoolhub_permission_decisions_total{entity="STUDENT",operation="DELETE",verdict="deny"} 2`)
	assert.Contains(t, body, `schoolhub_permission_decisions_total{entity="ROUTE",operation="READ",verdict="deny"} 1`)
}

func TestSessionRecorderCountsEvents(t *testing.T) {
	metrics := NewMetrics()
	rec := metrics.SessionRecorder()
	ctx := context.Background()

	require.NoError(t, rec.Record(ctx, auth.Event{Kind: auth.EventLogin}))
	require.NoError(t, rec.Record(ctx, auth.Event{Kind: auth.EventLogin}))
	require.NoError(t, rec.Record(ctx, auth.Event{Kind: auth.EventRefreshFailed}))

	body := scrape(t, metrics)
	assert.Contains(t, body, `schoolhub_session_events_total{event="login"} 2`)
	assert.Contains(t, body, `schoolhub_session_events_total{event="refresh_failed"} 1`)
}

func TestJobMetricsShareRegistry(t *testing.T) {
	metrics := NewMetrics()
	_ = metrics.Jobs().Track("auth:logout_notify").End(nil)

	assert.Contains(t, scrape(t, metrics), `schoolhub_jobs_total{job="auth:logout_notify",status="success"} 1`)
}

func TestNilMetricsHandler(t *testing.T) {
	var m *Metrics
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	m.ObserveDecision(permission.Decision{})
}
