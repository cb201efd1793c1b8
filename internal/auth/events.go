package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EventKind names a session lifecycle transition.
type EventKind string

const (
	EventLogin         EventKind = "login"
	EventLoginFailed   EventKind = "login_failed"
	EventLogout        EventKind = "logout"
	EventRefresh       EventKind = "refresh"
	EventRefreshFailed EventKind = "refresh_failed"
	EventRestore       EventKind = "restore"
)

// Event is one lifecycle record.
type Event struct {
	ID       uuid.UUID
	Kind     EventKind
	ClientID string
	UserID   string
	Email    string
	Detail   string
	At       time.Time
}

// EventRecorder receives lifecycle events. Failures never abort the
// operation that produced the event.
type EventRecorder interface {
	Record(ctx context.Context, e Event) error
}

// RecorderFunc adapts a function to EventRecorder.
type RecorderFunc func(ctx context.Context, e Event) error

// Record implements EventRecorder.
func (f RecorderFunc) Record(ctx context.Context, e Event) error { return f(ctx, e) }

// NopRecorder drops every event.
type NopRecorder struct{}

// Record implements EventRecorder.
func (NopRecorder) Record(context.Context, Event) error { return nil }

// MultiRecorder fans an event out to every recorder and joins their errors.
func MultiRecorder(recorders ...EventRecorder) EventRecorder {
	return RecorderFunc(func(ctx context.Context, e Event) error {
		var errs []error
		for _, r := range recorders {
			if r == nil {
				continue
			}
			if err := r.Record(ctx, e); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// PGEventRecorder writes events into auth_events.
type PGEventRecorder struct {
	pool *pgxpool.Pool
}

// NewPGEventRecorder returns a recorder backed by pool.
func NewPGEventRecorder(pool *pgxpool.Pool) *PGEventRecorder {
	return &PGEventRecorder{pool: pool}
}

// Record implements EventRecorder.
func (r *PGEventRecorder) Record(ctx context.Context, e Event) error {
	if r == nil || r.pool == nil {
		return errors.New("auth event recorder not initialised")
	}
	if e.Kind == "" {
		return errors.New("auth event requires kind")
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	var at *time.Time
	if !e.At.IsZero() {
		at = &e.At
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO auth_events (id, kind, client_id, user_id, email, detail, occurred_at) VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`,
		e.ID, string(e.Kind), e.ClientID, e.UserID, e.Email, e.Detail, at)
	return err
}

// EventSchema creates the auth_events table written by PGEventRecorder.
var EventSchema = []string{
	`CREATE TABLE IF NOT EXISTS auth_events (
		id UUID PRIMARY KEY,
		kind TEXT NOT NULL,
		client_id TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS auth_events_user_idx ON auth_events (user_id, occurred_at DESC)`,
}
