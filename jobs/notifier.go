package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/schoolhub/schoolhub/internal/auth"
)

// Enqueuer is the part of Client the notifier needs.
type Enqueuer interface {
	EnqueueLogoutNotify(ctx context.Context, payload LogoutNotifyPayload) (*asynq.TaskInfo, error)
}

// Notifier defers the remote logout to the worker. When the queue is
// unreachable it falls back to the inline notifier, if one is set.
type Notifier struct {
	queue    Enqueuer
	fallback auth.LogoutNotifier
	logger   *slog.Logger
}

var _ auth.LogoutNotifier = (*Notifier)(nil)

// NewNotifier constructs a queue-backed notifier. fallback may be nil.
func NewNotifier(queue Enqueuer, fallback auth.LogoutNotifier, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{queue: queue, fallback: fallback, logger: logger}
}

// NotifyLogout enqueues the notification.
func (n *Notifier) NotifyLogout(ctx context.Context, accessToken, userID string) error {
	_, err := n.queue.EnqueueLogoutNotify(ctx, LogoutNotifyPayload{AccessToken: accessToken, UserID: userID})
	if err == nil || n.fallback == nil {
		return err
	}
	n.logger.Warn("enqueue logout notify, calling inline", slog.Any("error", err))
	return n.fallback.NotifyLogout(ctx, accessToken, userID)
}
