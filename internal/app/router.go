package app

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/schoolhub/schoolhub/internal/auth"
	"github.com/schoolhub/schoolhub/internal/guard"
	"github.com/schoolhub/schoolhub/internal/observability"
	"github.com/schoolhub/schoolhub/internal/permission"
	"github.com/schoolhub/schoolhub/internal/platform/httpx"
	"github.com/schoolhub/schoolhub/internal/school"
	"github.com/schoolhub/schoolhub/internal/shared"
	"github.com/schoolhub/schoolhub/jobs"
	"github.com/schoolhub/schoolhub/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger        *slog.Logger
	Config        *Config
	ClientManager *shared.ClientManager
	Sessions      *auth.Manager
	CSRFManager   *shared.CSRFManager
	Guard         *guard.Guard
	AuthHandler   *auth.Handler
	SchoolHandler *school.Handler
	JobHandler    *jobs.Handler
	Metrics       *observability.Metrics
}

// NewRouter constructs the chi.Router with SchoolHub defaults.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	r := chi.NewRouter()

	// Probes and assets skip the client cookie and session stack.
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	r.Group(func(r chi.Router) {
		for _, mw := range MiddlewareStack(MiddlewareConfig{
			Logger:        params.Logger,
			Config:        params.Config,
			ClientManager: params.ClientManager,
			Sessions:      params.Sessions,
			CSRFManager:   params.CSRFManager,
			Metrics:       params.Metrics,
		}) {
			r.Use(mw)
		}
		r.Use(chimw.Logger)

		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			if cs := auth.ClientSessionFromContext(r.Context()); cs != nil && cs.Session.IsAuthenticated() {
				http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
				return
			}
			http.Redirect(w, r, guard.LoginPath, http.StatusSeeOther)
		})
		r.Get("/api/permissions", permissionsHandler(params.Guard))

		if params.AuthHandler != nil {
			params.AuthHandler.MountRoutes(r)
		}
		if params.SchoolHandler != nil {
			params.SchoolHandler.MountRoutes(r)
		}
	})

	return r
}

type permissionsView struct {
	Role     permission.Role                              `json:"role"`
	Entities map[permission.Entity][]permission.Operation `json:"entities"`
	Routes   []string                                     `json:"routes"`
}

// permissionsHandler reports what the signed-in user may do, for scripts
// that hide controls client-side.
func permissionsHandler(g *guard.Guard) http.HandlerFunc {
	if g == nil {
		g = guard.New(nil, nil)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		sub := auth.SubjectFromRequest(r)
		role, ok := permission.Role(""), false
		if sub != nil {
			role, ok = sub.SubjectRole()
		}
		if !ok {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		ev := g.Evaluator()
		out := permissionsView{Role: role, Entities: make(map[permission.Entity][]permission.Operation)}
		for _, entity := range ev.Table().Entities() {
			if ops := ev.AllowedOperations(sub, entity); len(ops) > 0 {
				out.Entities[entity] = ops
			}
		}
		for _, rule := range ev.Table().Routes() {
			if rule.Roles.Contains(role) {
				out.Routes = append(out.Routes, rule.Pattern.String())
			}
		}
		httpx.JSON(w, http.StatusOK, out)
	}
}

// staticCacheHandler wraps a file server with Cache-Control headers.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
