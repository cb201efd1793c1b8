package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/schoolhub/schoolhub/internal/jobs"
	"github.com/schoolhub/schoolhub/internal/remote"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLogoutNotify tells the data service that a token was signed out.
	TaskLogoutNotify = "auth:logout_notify"
	// TaskPruneAuthEvents trims the auth event trail.
	TaskPruneAuthEvents = "auth:prune_events"

	logoutNotifyRetries = 3
)

// LogoutNotifyPayload carries the token to revoke.
type LogoutNotifyPayload struct {
	AccessToken string `json:"accessToken"`
	UserID      string `json:"userId,omitempty"`
}

// NewLogoutNotifyTask constructs an Asynq task.
func NewLogoutNotifyTask(payload LogoutNotifyPayload) (*asynq.Task, error) {
	if payload.AccessToken == "" {
		return nil, errors.New("jobs: logout notify requires a token")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLogoutNotify, data, asynq.MaxRetry(logoutNotifyRetries), asynq.Timeout(30*time.Second)), nil
}

// Logouter is the part of the data service client the job needs.
type Logouter interface {
	Logout(ctx context.Context, accessToken string) error
}

// LogoutNotifyJob posts queued logouts to the data service.
type LogoutNotifyJob struct {
	remote  Logouter
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewLogoutNotifyJob constructs the job handler.
func NewLogoutNotifyJob(r Logouter, logger *slog.Logger, metrics *jobmetrics.Metrics) *LogoutNotifyJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogoutNotifyJob{remote: r, logger: logger, metrics: metrics}
}

// Handle processes TaskLogoutNotify tasks. A 401 means the token is already
// dead on the service side, which is the outcome the task wants.
func (j *LogoutNotifyJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track(TaskLogoutNotify)
	var payload LogoutNotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.AccessToken == "" {
		return tracker.End(fmt.Errorf("jobs: decode logout payload: %w", asynq.SkipRetry))
	}
	err := j.remote.Logout(ctx, payload.AccessToken)
	switch {
	case err == nil:
		j.logger.Debug("logout notified", slog.String("user_id", payload.UserID))
		return tracker.End(nil)
	case errors.Is(err, remote.ErrUnauthorized):
		j.logger.Debug("logout token already revoked", slog.String("user_id", payload.UserID))
		return tracker.End(nil)
	default:
		j.logger.Warn("logout notify failed", slog.String("user_id", payload.UserID), slog.Any("error", err))
		return tracker.End(err)
	}
}
