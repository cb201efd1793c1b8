package perf

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	jobmetrics "github.com/schoolhub/schoolhub/internal/jobs"
	"github.com/schoolhub/schoolhub/internal/remote"
	"github.com/schoolhub/schoolhub/jobs"
)

// flakyLogouter fails every failEvery-th call with a transport error and
// answers 401 for revoked tokens.
type flakyLogouter struct {
	calls     int
	failEvery int
}

func (f *flakyLogouter) Logout(_ context.Context, token string) error {
	f.calls++
	if token == "revoked" {
		return remote.ErrUnauthorized
	}
	if f.failEvery > 0 && f.calls%f.failEvery == 0 {
		return errors.New("connection reset")
	}
	return nil
}

func logoutTask(t *testing.T, token string) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(jobs.LogoutNotifyPayload{AccessToken: token, UserID: "7"})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return asynq.NewTask(jobs.TaskLogoutNotify, data)
}

func TestLogoutNotifyThroughputAndReliability(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	logouter := &flakyLogouter{failEvery: 25}
	job := jobs.NewLogoutNotifyJob(logouter, nil, metrics)
	ctx := context.Background()

	failures := 0
	for i := 0; i < 100; i++ {
		if err := job.Handle(ctx, logoutTask(t, "tok")); err != nil {
			failures++
		}
	}
	if failures != 4 {
		t.Fatalf("expected 4 retryable failures, got %d", failures)
	}

	// Revoked tokens are done, not retried.
	for i := 0; i < 10; i++ {
		if err := job.Handle(ctx, logoutTask(t, "revoked")); err != nil {
			t.Fatalf("revoked token should not fail: %v", err)
		}
	}

	// Malformed payloads are dropped without retry.
	err := job.Handle(ctx, asynq.NewTask(jobs.TaskLogoutNotify, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	success := metricValue(t, families, "schoolhub_jobs_total", map[string]string{"job": jobs.TaskLogoutNotify, "status": "success"})
	failure := metricValue(t, families, "schoolhub_jobs_total", map[string]string{"job": jobs.TaskLogoutNotify, "status": "failure"})
	if success != 106 || failure != 5 {
		t.Fatalf("unexpected job counts: success=%v failure=%v", success, failure)
	}
	ratio := success / (success + failure)
	if ratio < 0.9 {
		t.Fatalf("logout notify success ratio too low: %f", ratio)
	}

	mean := histogramMean(t, families, "schoolhub_job_duration_seconds", map[string]string{"job": jobs.TaskLogoutNotify})
	if mean > 0.5 {
		t.Fatalf("logout notify duration above budget: %f", mean)
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				if fam.GetType() == dto.MetricType_COUNTER {
					return metric.GetCounter().GetValue()
				}
				if fam.GetType() == dto.MetricType_GAUGE {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				hist := metric.GetHistogram()
				if hist == nil || hist.GetSampleCount() == 0 {
					t.Fatalf("histogram %s missing samples", name)
				}
				return hist.GetSampleSum() / float64(hist.GetSampleCount())
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	for _, lp := range metric.GetLabel() {
		if val, ok := labels[lp.GetName()]; ok {
			if lp.GetValue() != val {
				return false
			}
		}
	}
	for key := range labels {
		found := false
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == key {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
