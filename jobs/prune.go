package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgconn"

	jobmetrics "github.com/schoolhub/schoolhub/internal/jobs"
)

// PrunePayload sets how long auth events are kept.
type PrunePayload struct {
	RetentionDays int `json:"retentionDays"`
}

// NewPruneAuthEventsTask constructs the nightly prune task.
func NewPruneAuthEventsTask(retentionDays int) (*asynq.Task, error) {
	if retentionDays <= 0 {
		return nil, fmt.Errorf("jobs: retention must be positive, got %d", retentionDays)
	}
	data, err := json.Marshal(PrunePayload{RetentionDays: retentionDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPruneAuthEvents, data), nil
}

// Execer is satisfied by *pgxpool.Pool.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PruneAuthEventsJob deletes auth events past their retention.
type PruneAuthEventsJob struct {
	db      Execer
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
	now     func() time.Time
}

// NewPruneAuthEventsJob constructs the job handler.
func NewPruneAuthEventsJob(db Execer, logger *slog.Logger, metrics *jobmetrics.Metrics) *PruneAuthEventsJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &PruneAuthEventsJob{db: db, logger: logger, metrics: metrics, now: time.Now}
}

// Handle processes TaskPruneAuthEvents tasks.
func (j *PruneAuthEventsJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track(TaskPruneAuthEvents)
	var payload PrunePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.RetentionDays <= 0 {
		return tracker.End(fmt.Errorf("jobs: decode prune payload: %w", asynq.SkipRetry))
	}
	cutoff := j.now().UTC().AddDate(0, 0, -payload.RetentionDays)
	tag, err := j.db.Exec(ctx, `DELETE FROM auth_events WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return tracker.End(fmt.Errorf("jobs: prune auth events: %w", err))
	}
	j.logger.Info("auth events pruned", slog.Int64("rows", tag.RowsAffected()), slog.Time("cutoff", cutoff))
	return tracker.End(nil)
}
