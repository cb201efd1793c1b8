package shared

import "context"

type clientContextKey struct{}

// ContextWithClient stores the browser client in context.
func ContextWithClient(ctx context.Context, c *Client) context.Context {
	return context.WithValue(ctx, clientContextKey{}, c)
}

// ClientFromContext extracts the browser client from context.
func ClientFromContext(ctx context.Context) *Client {
	c, _ := ctx.Value(clientContextKey{}).(*Client)
	return c
}
