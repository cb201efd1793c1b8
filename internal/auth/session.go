package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/schoolhub/schoolhub/internal/permission"
	"github.com/schoolhub/schoolhub/internal/remote"
)

// Remote is the subset of the data service the session talks to.
type Remote interface {
	Login(ctx context.Context, email, password string) (*remote.LoginResponse, error)
	Logout(ctx context.Context, accessToken string) error
	Refresh(ctx context.Context, refreshToken string) (*remote.TokenPair, error)
}

// Authorizer owns the default credential header of the shared HTTP client.
type Authorizer interface {
	SetBearer(token string)
	ClearBearer()
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRecorder sets the lifecycle event recorder.
func WithRecorder(r EventRecorder) Option {
	return func(s *Session) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithNotifier replaces the inline logout notification.
func WithNotifier(n LogoutNotifier) Option {
	return func(s *Session) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithClientID tags recorded events with the owning client.
func WithClientID(id string) Option {
	return func(s *Session) {
		s.clientID = id
	}
}

// WithRefreshSkew sets how close to expiry EnsureFresh starts a refresh.
func WithRefreshSkew(d time.Duration) Option {
	return func(s *Session) {
		s.skew = d
	}
}

// WithSignedOut registers a callback run at the end of every Logout.
func WithSignedOut(fn func()) Option {
	return func(s *Session) {
		s.onSignedOut = fn
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

var (
	credentialValidator = validator.New()
	roleSwitch          = permission.NewEvaluator(nil)
)

// Session is the single source of truth for who is signed in on one
// client. Memory and the persisted blob only change inside Login, Logout,
// RefreshSession and InitializeAuth.
type Session struct {
	remote   Remote
	authz    Authorizer
	store    Storage
	notifier LogoutNotifier
	recorder EventRecorder
	logger   *slog.Logger

	clientID    string
	skew        time.Duration
	now         func() time.Time
	onSignedOut func()

	flight  singleflight.Group
	loading atomic.Int32

	mu           sync.RWMutex
	user         *User
	accessToken  string
	refreshToken string
	errMsg       string
}

// NewSession builds an anonymous session.
func NewSession(r Remote, authz Authorizer, store Storage, opts ...Option) *Session {
	s := &Session{
		remote:   r,
		authz:    authz,
		store:    store,
		recorder: NopRecorder{},
		logger:   slog.Default(),
		skew:     30 * time.Second,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = NewDirectNotifier(r)
	}
	return s
}

// Login authenticates creds against the service. On success the blob, the
// bearer header and memory are updated together and the raw response is
// returned. An AuthError leaves the session as it was.
func (s *Session) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	s.loading.Add(1)
	defer s.loading.Add(-1)

	if err := credentialValidator.Struct(creds); err != nil {
		return nil, &AuthError{Err: fmt.Errorf("%w: %v", ErrInvalidCredentials, err)}
	}

	res, err := s.remote.Login(ctx, creds.Email, creds.Password)
	if err != nil {
		if errors.Is(err, remote.ErrUnauthorized) {
			err = ErrInvalidCredentials
		}
		s.record(ctx, Event{Kind: EventLoginFailed, Email: creds.Email, Detail: err.Error()})
		return nil, &AuthError{Err: err}
	}
	if res == nil || res.User == nil || res.Token == "" {
		s.record(ctx, Event{Kind: EventLoginFailed, Email: creds.Email, Detail: ErrMalformedResponse.Error()})
		return nil, &AuthError{Err: ErrMalformedResponse}
	}
	user := normalizeUser(res.User)
	if user.ID == "" || user.Email == "" {
		s.record(ctx, Event{Kind: EventLoginFailed, Email: creds.Email, Detail: ErrMalformedResponse.Error()})
		return nil, &AuthError{Err: ErrMalformedResponse}
	}

	s.mu.Lock()
	err = s.commitLocked(ctx, &user, res.Token, res.RefreshToken)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.record(ctx, Event{Kind: EventLogin, UserID: user.ID, Email: user.Email})
	return res, nil
}

// Logout signs the client out. The remote notification is best effort;
// the blob, the bearer header and memory are always cleared.
func (s *Session) Logout(ctx context.Context) {
	s.loading.Add(1)
	defer s.loading.Add(-1)

	s.mu.RLock()
	token := s.accessToken
	var user User
	if s.user != nil {
		user = *s.user
	}
	s.mu.RUnlock()

	if token != "" {
		if err := s.notifier.NotifyLogout(ctx, token, user.ID); err != nil {
			s.logger.Warn("logout notification failed", slog.String("user_id", user.ID), slog.Any("error", err))
		}
	}

	s.mu.Lock()
	s.clearLocked(ctx)
	s.errMsg = ""
	s.mu.Unlock()

	if token != "" {
		s.record(ctx, Event{Kind: EventLogout, UserID: user.ID, Email: user.Email})
	}
	if s.onSignedOut != nil {
		s.onSignedOut()
	}
}

// RefreshSession rotates the credential pair. Concurrent callers share a
// single in-flight attempt and all receive its result. On failure the
// session is cleared, Err reports "session expired" and a *RefreshError is
// returned. Failing to store the rotated pair counts as a failure.
func (s *Session) RefreshSession(ctx context.Context) (Tokens, error) {
	ch := s.flight.DoChan("refresh", func() (any, error) {
		return s.refresh(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Tokens{}, res.Err
		}
		return res.Val.(Tokens), nil
	case <-ctx.Done():
		return Tokens{}, ctx.Err()
	}
}

func (s *Session) refresh(ctx context.Context) (Tokens, error) {
	s.loading.Add(1)
	defer s.loading.Add(-1)

	s.mu.RLock()
	refreshToken := s.refreshToken
	s.mu.RUnlock()

	if refreshToken == "" {
		return Tokens{}, s.expire(ctx, ErrNoRefreshToken)
	}
	pair, err := s.remote.Refresh(ctx, refreshToken)
	if err != nil {
		return Tokens{}, s.expire(ctx, err)
	}
	if pair == nil || pair.AccessToken == "" {
		return Tokens{}, s.expire(ctx, ErrMalformedResponse)
	}
	tokens := Tokens{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}

	s.mu.Lock()
	if s.user == nil {
		s.mu.Unlock()
		return Tokens{}, &RefreshError{Err: errors.New("session signed out during refresh")}
	}
	user := *s.user
	if err := s.commitLocked(ctx, &user, tokens.AccessToken, tokens.RefreshToken); err != nil {
		s.mu.Unlock()
		return Tokens{}, s.expire(ctx, fmt.Errorf("auth: persist refreshed session: %w", err))
	}
	s.mu.Unlock()

	s.record(ctx, Event{Kind: EventRefresh, UserID: user.ID, Email: user.Email})
	return tokens, nil
}

func (s *Session) expire(ctx context.Context, cause error) error {
	s.mu.Lock()
	var user User
	if s.user != nil {
		user = *s.user
	}
	s.clearLocked(ctx)
	s.errMsg = SessionExpired
	s.mu.Unlock()

	s.logger.Warn("session refresh failed", slog.String("user_id", user.ID), slog.Any("error", cause))
	s.record(ctx, Event{Kind: EventRefreshFailed, UserID: user.ID, Email: user.Email, Detail: cause.Error()})
	return &RefreshError{Err: cause}
}

// InitializeAuth restores the session from the persisted blob. A valid blob
// restores memory and the bearer header and returns true. Otherwise the
// session ends anonymous: an unreadable or incomplete blob is removed, and a
// storage read error leaves the blob in place for the next attempt.
// Calling it again with an unchanged blob yields the same state.
func (s *Session) InitializeAuth(ctx context.Context) bool {
	s.loading.Add(1)
	defer s.loading.Add(-1)

	data, err := s.store.Load(ctx, StorageKey)
	if err != nil {
		if !errors.Is(err, ErrBlobNotFound) {
			s.logger.Warn("load session blob", slog.Any("error", err))
		}
		s.mu.Lock()
		s.resetLocked()
		s.mu.Unlock()
		return false
	}

	var b blob
	if err := json.Unmarshal(data, &b); err != nil || !b.valid() {
		s.mu.Lock()
		s.clearLocked(ctx)
		s.mu.Unlock()
		return false
	}

	s.mu.Lock()
	restored := s.accessToken != b.AccessToken
	s.user = b.User
	s.accessToken = b.AccessToken
	s.refreshToken = b.RefreshToken
	s.errMsg = ""
	s.authz.SetBearer(b.AccessToken)
	s.mu.Unlock()

	if restored {
		s.record(ctx, Event{Kind: EventRestore, UserID: b.User.ID, Email: b.User.Email})
	}
	return true
}

// EnsureFresh refreshes the credential when the access token is a JWT that
// expires within the configured skew. Opaque tokens are left alone.
func (s *Session) EnsureFresh(ctx context.Context) error {
	token := s.AccessToken()
	if token == "" {
		return nil
	}
	exp, ok := TokenExpiry(token)
	if !ok {
		return nil
	}
	if exp.Sub(s.now()) > s.skew {
		return nil
	}
	_, err := s.RefreshSession(ctx)
	return err
}

// commitLocked writes the blob first; memory and the header only change
// once it is stored.
func (s *Session) commitLocked(ctx context.Context, user *User, accessToken, refreshToken string) error {
	data, err := json.Marshal(blob{User: user, AccessToken: accessToken, RefreshToken: refreshToken})
	if err != nil {
		return fmt.Errorf("auth: encode blob: %w", err)
	}
	if err := s.store.Save(ctx, StorageKey, data); err != nil {
		return err
	}
	s.authz.SetBearer(accessToken)
	s.user = user
	s.accessToken = accessToken
	s.refreshToken = refreshToken
	s.errMsg = ""
	return nil
}

func (s *Session) clearLocked(ctx context.Context) {
	if err := s.store.Remove(ctx, StorageKey); err != nil {
		s.logger.Warn("remove session blob", slog.Any("error", err))
	}
	s.resetLocked()
}

func (s *Session) resetLocked() {
	s.authz.ClearBearer()
	s.user = nil
	s.accessToken = ""
	s.refreshToken = ""
}

func (s *Session) record(ctx context.Context, e Event) {
	e.ClientID = s.clientID
	if e.At.IsZero() {
		e.At = s.now()
	}
	if err := s.recorder.Record(ctx, e); err != nil {
		s.logger.Warn("record auth event", slog.String("kind", string(e.Kind)), slog.Any("error", err))
	}
}

// State returns a snapshot of the session.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := State{
		AccessToken: s.accessToken,
		IsLoading:   s.loading.Load() > 0,
		Error:       s.errMsg,
	}
	if s.user != nil {
		u := *s.user
		st.User = &u
	}
	return st
}

// User returns a copy of the current user, or nil when anonymous.
func (s *Session) User() *User {
	return s.State().User
}

// AccessToken returns the current access credential.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// IsAuthenticated reports whether a user and token are held.
func (s *Session) IsAuthenticated() bool {
	return s.State().IsAuthenticated()
}

// IsLoading reports whether a lifecycle call is in progress.
func (s *Session) IsLoading() bool {
	return s.loading.Load() > 0
}

// Err returns the last lifecycle error message, "session expired" after a
// failed refresh.
func (s *Session) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errMsg
}

// SubjectRole implements permission.Subject.
func (s *Session) SubjectRole() (permission.Role, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return "", false
	}
	return s.user.Role, s.user.Role != ""
}

// HasPermission applies the authentication module's own role rule, which
// is not the table consulted by pages and guards.
func (s *Session) HasPermission(entity, operation string) bool {
	return roleSwitch.CheckPermission(s, entity, operation)
}
