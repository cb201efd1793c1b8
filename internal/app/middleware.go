package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/schoolhub/schoolhub/internal/auth"
	"github.com/schoolhub/schoolhub/internal/guard"
	"github.com/schoolhub/schoolhub/internal/observability"
	"github.com/schoolhub/schoolhub/internal/shared"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger        *slog.Logger
	Config        *Config
	ClientManager *shared.ClientManager
	Sessions      *auth.Manager
	CSRFManager   *shared.CSRFManager
	Metrics       *observability.Metrics
}

type responseWriterWithCommit struct {
	http.ResponseWriter
	client        *shared.Client
	manager       *shared.ClientManager
	logger        *slog.Logger
	ctx           context.Context
	headerWritten bool
}

func (w *responseWriterWithCommit) WriteHeader(statusCode int) {
	if !w.headerWritten {
		w.headerWritten = true
		if err := w.manager.Commit(w.ctx, w.ResponseWriter, w.client); err != nil {
			w.logger.Error("commit client", slog.Any("error", err))
		}
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriterWithCommit) Write(data []byte) (int, error) {
	if !w.headerWritten {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(data)
}

// clientMiddleware loads the browser client and commits it before the first
// byte of the response.
func clientMiddleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			c, err := cfg.ClientManager.Load(ctx, r)
			if err != nil {
				cfg.Logger.Error("failed to load client", slog.Any("error", err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			ctx = shared.ContextWithClient(ctx, c)
			wrapped := &responseWriterWithCommit{
				ResponseWriter: w,
				client:         c,
				manager:        cfg.ClientManager,
				logger:         cfg.Logger,
				ctx:            ctx,
			}
			next.ServeHTTP(wrapped, r.WithContext(ctx))
		})
	}
}

// sessionMiddleware attaches the client's auth session, restoring it from
// storage on first sight and refreshing a token about to expire. A failed
// refresh ends the session and sends the browser to the login page.
func sessionMiddleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := shared.ClientFromContext(r.Context())
			if c == nil || cfg.Sessions == nil {
				next.ServeHTTP(w, r)
				return
			}
			cs := cfg.Sessions.Acquire(r.Context(), c.ID)
			end := cs.Begin()
			defer end()
			if err := cs.Session.EnsureFresh(r.Context()); err != nil {
				if auth.IsRefreshError(err) {
					c.AddFlash(shared.FlashMessage{Kind: "warning", Message: auth.SessionExpired})
					target := ""
					if r.Method == http.MethodGet {
						target = r.URL.RequestURI()
					}
					http.Redirect(w, r, guard.LoginURL(target), http.StatusSeeOther)
					return
				}
				cfg.Logger.Warn("ensure fresh token", slog.Any("error", err))
			}
			ctx := auth.ContextWithClientSession(r.Context(), cs)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func csrfMiddleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			c := shared.ClientFromContext(r.Context())
			if c == nil {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			token := r.PostFormValue(shared.CSRFFormField)
			if token == "" {
				token = r.Header.Get(shared.CSRFHeader)
			}
			if err := cfg.CSRFManager.VerifyToken(r.Context(), c, token); err != nil {
				cfg.Logger.Warn("csrf validation failed", slog.String("path", r.URL.Path))
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MiddlewareStack installs the SchoolHub middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'self'; script-src 'self' 'unsafe-inline'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:         cfg.Config == nil || !cfg.Config.IsProduction(),
	})

	timeout := 30 * time.Second
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		clientMiddleware(cfg),
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					cfg.Logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		middleware.Compress(5),
		httprate.Limit(120, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
		csrfMiddleware(cfg),
		sessionMiddleware(cfg),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, cfg.Metrics.Middleware)
	}
	return middlewares
}
