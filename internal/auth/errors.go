package auth

import (
	"errors"
	"fmt"
)

// SessionExpired is the error message a session carries after a failed refresh.
const SessionExpired = "session expired"

var (
	// ErrInvalidCredentials indicates the service rejected the login.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrMalformedResponse indicates a login answer without user or token.
	ErrMalformedResponse = errors.New("malformed login response")
	// ErrNoRefreshToken indicates a refresh was attempted without a credential.
	ErrNoRefreshToken = errors.New("no refresh token")
	// ErrBlobNotFound is returned by Storage when the key is absent.
	ErrBlobNotFound = errors.New("session blob not found")
)

// AuthError reports a failed login. Session state is left untouched.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth: login: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RefreshError reports a failed refresh. The session has been cleared by
// the time the caller sees it.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("auth: refresh: %v", e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// IsRefreshError reports whether err is, or wraps, a RefreshError.
func IsRefreshError(err error) bool {
	var re *RefreshError
	return errors.As(err, &re)
}
