package auth

import "context"

// LogoutNotifier tells the remote service a credential is no longer used.
type LogoutNotifier interface {
	NotifyLogout(ctx context.Context, accessToken, userID string) error
}

// DirectNotifier calls the service inline.
type DirectNotifier struct {
	remote Remote
}

// NewDirectNotifier returns a notifier calling r.Logout.
func NewDirectNotifier(r Remote) *DirectNotifier {
	return &DirectNotifier{remote: r}
}

// NotifyLogout implements LogoutNotifier.
func (n *DirectNotifier) NotifyLogout(ctx context.Context, accessToken, _ string) error {
	return n.remote.Logout(ctx, accessToken)
}
