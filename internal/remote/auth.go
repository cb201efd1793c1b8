package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
)

// ID accepts both numeric and string identifiers from the service.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// Int64 parses the identifier as a number.
func (id ID) Int64() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	return n, err == nil
}

// User is the account record returned by the auth endpoints.
type User struct {
	ID         ID     `json:"id"`
	Email      string `json:"email"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Role       string `json:"role"`
	StaffType  string `json:"staffType,omitempty"`
	Department string `json:"department,omitempty"`
}

// LoginResponse is the body of POST /auth/login.
type LoginResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken,omitempty"`
	User         *User  `json:"user"`
}

// TokenPair is the rotated credential pair from POST /auth/refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	Tokens *TokenPair `json:"tokens"`
}

// Login exchanges credentials for an access token. The default bearer is
// not touched; callers install it once the result is accepted.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	var out LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", loginRequest{Email: email, Password: password}, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout revokes accessToken on the service. The token is sent explicitly
// so deferred notifications work after the default bearer is gone.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", struct{}{}, accessToken, nil)
}

// Refresh rotates the credential pair. A response without tokens yields an
// empty pair; callers treat that as a rejection.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	var out refreshResponse
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: refreshToken}, "", &out); err != nil {
		return nil, err
	}
	if out.Tokens == nil {
		return &TokenPair{}, nil
	}
	return out.Tokens, nil
}
