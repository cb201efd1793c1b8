package shared

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"time"
)

const (
	// CSRFClientKey is the key used to persist tokens on the client record.
	CSRFClientKey = "csrf_token"
	// CSRFFormField is the form field name carrying the CSRF token.
	CSRFFormField = "csrf_token"
	// CSRFHeader is accepted in place of the form field.
	CSRFHeader = "X-CSRF-Token"
)

// CSRFManager issues and verifies CSRF tokens bound to a browser client.
type CSRFManager struct {
	secret []byte
	now    func() time.Time
}

// NewCSRFManager returns a CSRFManager using the provided secret key.
func NewCSRFManager(secret string) *CSRFManager {
	return &CSRFManager{secret: []byte(secret), now: time.Now}
}

// EnsureToken retrieves or generates a CSRF token for the client.
func (m *CSRFManager) EnsureToken(ctx context.Context, c *Client) (string, error) {
	if c == nil {
		return "", ErrClientMissing
	}
	if token := c.Get(CSRFClientKey); token != "" {
		return token, nil
	}
	token := m.generateToken(c.ID)
	c.Set(CSRFClientKey, token)
	return token, nil
}

// VerifyToken compares the supplied token with the client token.
func (m *CSRFManager) VerifyToken(ctx context.Context, c *Client, token string) error {
	if c == nil {
		return ErrCSRFTokenMissing
	}
	expected := c.Get(CSRFClientKey)
	if expected == "" || token == "" {
		return ErrCSRFTokenMissing
	}
	if !hmac.Equal([]byte(expected), []byte(token)) {
		return ErrCSRFTokenMismatch
	}
	return nil
}

func (m *CSRFManager) generateToken(clientID string) string {
	mac := hmac.New(sha256.New, m.secret)
	_, _ = mac.Write([]byte(clientID))
	_, _ = mac.Write([]byte{'|'})
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(m.now().UnixNano()))
	_, _ = mac.Write(buf)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
