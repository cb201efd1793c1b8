// Package remote talks to the SchoolHub data service over HTTP/JSON. The
// client owns the default bearer credential attached to every request.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrUnauthorized is returned when the service answers 401.
var ErrUnauthorized = errors.New("remote: unauthorized")

// StatusError carries any other failing HTTP status.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote: status %d", e.Status)
	}
	return fmt.Sprintf("remote: status %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the service.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// Client wraps interactions with the data service.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu     sync.RWMutex
	bearer string
}

// New constructs a client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetBearer installs the default Authorization header.
func (c *Client) SetBearer(token string) {
	c.mu.Lock()
	c.bearer = token
	c.mu.Unlock()
}

// ClearBearer drops the default Authorization header.
func (c *Client) ClearBearer() {
	c.mu.Lock()
	c.bearer = ""
	c.mu.Unlock()
}

// Bearer returns the token currently attached to requests.
func (c *Client) Bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bearer
}

// GetJSON fetches path and decodes the body into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, c.Bearer(), out)
}

// PostJSON sends in as the body and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPost, path, in, c.Bearer(), out)
}

// PutJSON replaces the resource at path with in.
func (c *Client) PutJSON(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPut, path, in, c.Bearer(), out)
}

// Delete issues a DELETE request against path.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, c.Bearer(), nil)
}

func (c *Client) do(ctx context.Context, method, path string, in any, token string, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("remote: encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("remote: %s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusUnauthorized {
		_, _ = io.Copy(io.Discard, resp.Body)
		return ErrUnauthorized
	}
	if resp.StatusCode >= 400 {
		return &StatusError{Status: resp.StatusCode, Message: readMessage(resp.Body)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("remote: decode %s %s: %w", method, path, err)
	}
	return nil
}

// readMessage pulls a human readable message out of an error body. The
// service answers {"message": "..."} or {"error": "..."}; anything else is
// returned trimmed.
func readMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4<<10))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
