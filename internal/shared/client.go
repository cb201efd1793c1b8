package shared

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// FlashMessage is a one-time notification shown on the next page.
type FlashMessage struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ClientManager tracks browser clients through a signed cookie holding an
// opaque client id. Per-client values and flashes live in Redis.
type ClientManager struct {
	client     *redis.Client
	cookieName string
	secret     []byte
	ttl        time.Duration
	secure     bool
}

// Client is the per-request view of one browser client.
type Client struct {
	ID        string
	values    map[string]string
	flashes   []FlashMessage
	isNew     bool
	dirty     bool
	destroyed bool
}

type clientPayload struct {
	Values  map[string]string `json:"values"`
	Flashes []FlashMessage    `json:"flashes"`
}

// NewClientManager constructs a ClientManager.
func NewClientManager(client *redis.Client, cookieName, secret string, ttl time.Duration, secure bool) *ClientManager {
	return &ClientManager{
		client:     client,
		cookieName: cookieName,
		secret:     []byte(secret),
		ttl:        ttl,
		secure:     secure,
	}
}

// Load resolves the client of r, creating a fresh one when the cookie is
// missing or points at an unknown id.
func (cm *ClientManager) Load(ctx context.Context, r *http.Request) (*Client, error) {
	cookie, err := r.Cookie(cm.cookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return cm.newClient(), nil
		}
		return nil, err
	}
	id, ok := cm.verify(cookie.Value)
	if !ok {
		return cm.newClient(), nil
	}

	payload, err := cm.client.Get(ctx, cm.redisKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c := cm.newClient()
			c.ID = id
			return c, nil
		}
		return nil, err
	}

	var stored clientPayload
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, err
	}
	c := &Client{
		ID:      id,
		values:  stored.Values,
		flashes: stored.Flashes,
	}
	if c.values == nil {
		c.values = make(map[string]string)
	}
	return c, nil
}

// Commit persists the client and refreshes the cookie.
func (cm *ClientManager) Commit(ctx context.Context, w http.ResponseWriter, c *Client) error {
	if c == nil {
		return nil
	}

	if c.destroyed {
		if err := cm.client.Del(ctx, cm.redisKey(c.ID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		http.SetCookie(w, &http.Cookie{
			Name:     cm.cookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   cm.secure,
			SameSite: http.SameSiteLaxMode,
		})
		return nil
	}

	if c.dirty || c.isNew {
		data, err := json.Marshal(clientPayload{Values: c.values, Flashes: c.flashes})
		if err != nil {
			return err
		}
		if err := cm.client.Set(ctx, cm.redisKey(c.ID), data, cm.ttl).Err(); err != nil {
			return err
		}
		c.dirty = false
		c.isNew = false
	}

	http.SetCookie(w, &http.Cookie{
		Name:     cm.cookieName,
		Value:    cm.sign(c.ID),
		Path:     "/",
		HttpOnly: true,
		Secure:   cm.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(cm.ttl),
	})
	return nil
}

// Destroy marks the client for deletion on Commit.
func (cm *ClientManager) Destroy(c *Client) {
	if c == nil {
		return
	}
	c.destroyed = true
}

// TTL exposes the configured client lifetime.
func (cm *ClientManager) TTL() time.Duration {
	return cm.ttl
}

// CookieName returns the cookie carrying the client id.
func (cm *ClientManager) CookieName() string {
	return cm.cookieName
}

// Set stores a key-value pair.
func (c *Client) Set(key, value string) {
	if c.values == nil {
		c.values = make(map[string]string)
	}
	c.values[key] = value
	c.dirty = true
}

// Get retrieves a value.
func (c *Client) Get(key string) string {
	if c.values == nil {
		return ""
	}
	return c.values[key]
}

// Delete removes a value.
func (c *Client) Delete(key string) {
	if c.values == nil {
		return
	}
	delete(c.values, key)
	c.dirty = true
}

// AddFlash queues a flash message.
func (c *Client) AddFlash(msg FlashMessage) {
	c.flashes = append(c.flashes, msg)
	c.dirty = true
}

// PopFlash retrieves and clears the oldest flash message.
func (c *Client) PopFlash() *FlashMessage {
	if len(c.flashes) == 0 {
		return nil
	}
	msg := c.flashes[0]
	c.flashes = c.flashes[1:]
	c.dirty = true
	return &msg
}

func (cm *ClientManager) newClient() *Client {
	return &Client{
		ID:     uuid.NewString(),
		values: make(map[string]string),
		isNew:  true,
		dirty:  true,
	}
}

func (cm *ClientManager) redisKey(id string) string {
	return "client:" + id
}

func (cm *ClientManager) mac(id string) string {
	h := hmac.New(sha256.New, cm.secret)
	_, _ = h.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

func (cm *ClientManager) sign(id string) string {
	return id + "." + cm.mac(id)
}

// verify returns the client id of a signed cookie value.
func (cm *ClientManager) verify(value string) (string, bool) {
	id, sig, ok := strings.Cut(value, ".")
	if !ok {
		return "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	if !hmac.Equal([]byte(sig), []byte(cm.mac(id))) {
		return "", false
	}
	return id, true
}
