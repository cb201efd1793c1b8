package auth

import (
	"context"
	"net/http"

	"github.com/schoolhub/schoolhub/internal/permission"
	"github.com/schoolhub/schoolhub/internal/shared"
	"github.com/schoolhub/schoolhub/internal/view"
)

type clientSessionKey struct{}

// ContextWithClientSession stores the client session in context.
func ContextWithClientSession(ctx context.Context, cs *ClientSession) context.Context {
	return context.WithValue(ctx, clientSessionKey{}, cs)
}

// ClientSessionFromContext extracts the client session from context.
func ClientSessionFromContext(ctx context.Context) *ClientSession {
	cs, _ := ctx.Value(clientSessionKey{}).(*ClientSession)
	return cs
}

// SubjectFromRequest returns a snapshot of the requesting user for
// permission checks, or nil when the request carries no session.
func SubjectFromRequest(r *http.Request) permission.Subject {
	cs := ClientSessionFromContext(r.Context())
	if cs == nil {
		return nil
	}
	return cs.Session.State()
}

// PageData assembles the values every page template expects.
func PageData(r *http.Request, csrf *shared.CSRFManager, title string, data any) view.TemplateData {
	td := view.TemplateData{
		Title:       title,
		CurrentPath: r.URL.Path,
		Data:        data,
	}
	if c := shared.ClientFromContext(r.Context()); c != nil {
		if csrf != nil {
			td.CSRFToken, _ = csrf.EnsureToken(r.Context(), c)
		}
		td.Flash = c.PopFlash()
	}
	if cs := ClientSessionFromContext(r.Context()); cs != nil {
		st := cs.Session.State()
		if st.IsAuthenticated() {
			td.Subject = st
			td.UserName = st.User.DisplayName()
			td.UserRole = string(st.User.Role)
		}
	}
	return td
}
