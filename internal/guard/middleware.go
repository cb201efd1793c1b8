package guard

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/schoolhub/schoolhub/internal/permission"
)

// SubjectFunc resolves the subject of a request; nil means anonymous.
type SubjectFunc func(r *http.Request) permission.Subject

// LoginPath is where anonymous visitors are sent.
const LoginPath = "/login"

// Middleware gates chi routes with a Guard.
type Middleware struct {
	guard   *Guard
	subject SubjectFunc
	denied  http.Handler
}

// NewMiddleware builds route gates. denied renders the 403 response; nil
// falls back to a plain text error.
func NewMiddleware(g *Guard, subject SubjectFunc, denied http.Handler) *Middleware {
	if denied == nil {
		denied = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
	return &Middleware{guard: g, subject: subject, denied: denied}
}

// RequireRoute serves the request only when the subject may view its path.
func (m *Middleware) RequireRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub := m.subject(r)
		if !authenticated(sub) {
			redirectToLogin(w, r)
			return
		}
		if !m.guard.AllowsRoute(sub, r.URL.Path) {
			m.guard.logger.Debug("route denied", slog.String("path", r.URL.Path))
			m.denied.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireEntity serves the request only when the subject may perform
// operation on entity.
func (m *Middleware) RequireEntity(entity permission.Entity, operation permission.Operation) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sub := m.subject(r)
			if !authenticated(sub) {
				redirectToLogin(w, r)
				return
			}
			if !m.guard.Allows(sub, string(entity), string(operation)) {
				m.guard.logger.Debug("operation denied",
					slog.String("entity", string(entity)),
					slog.String("operation", string(operation)),
					slog.String("path", r.URL.Path))
				m.denied.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func authenticated(sub permission.Subject) bool {
	if sub == nil {
		return false
	}
	_, ok := sub.SubjectRole()
	return ok
}

// LoginURL returns the login path carrying next as the return target.
func LoginURL(next string) string {
	if next == "" || next == LoginPath {
		return LoginPath
	}
	return LoginPath + "?next=" + url.QueryEscape(next)
}

func redirectToLogin(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Path
	if r.Method != http.MethodGet {
		target = ""
	} else if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	http.Redirect(w, r, LoginURL(target), http.StatusSeeOther)
}
