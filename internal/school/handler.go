package school

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/schoolhub/schoolhub/internal/auth"
	"github.com/schoolhub/schoolhub/internal/guard"
	"github.com/schoolhub/schoolhub/internal/permission"
	"github.com/schoolhub/schoolhub/internal/remote"
	"github.com/schoolhub/schoolhub/internal/shared"
	"github.com/schoolhub/schoolhub/internal/view"
)

const (
	defaultPerPage  = 25
	submissionField = "submission_id"
)

// Handler serves the staff pages. Every GET route is gated by the route
// table and every mutation by the entity table.
type Handler struct {
	logger      *slog.Logger
	templates   *view.Engine
	csrfManager *shared.CSRFManager
	guard       *guard.Guard
	gates       *guard.Middleware
	validator   *validator.Validate
	submissions *shared.IdempotencyStore
}

// NewHandler constructs a Handler. submissions may be nil, in which case
// create forms are not deduplicated.
func NewHandler(logger *slog.Logger, templates *view.Engine, csrf *shared.CSRFManager, g *guard.Guard, submissions *shared.IdempotencyStore) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		logger:      logger,
		templates:   templates,
		csrfManager: csrf,
		guard:       g,
		validator:   validator.New(),
		submissions: submissions,
	}
	h.gates = guard.NewMiddleware(g, auth.SubjectFromRequest, http.HandlerFunc(h.forbidden))
	return h
}

// MountRoutes registers the page routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.gates.RequireRoute)
		r.Get("/dashboard", h.dashboard)

		r.Get("/students", h.listStudents)
		r.Get("/students/new", h.newStudent)
		r.Get("/students/edit", h.editStudent)
		r.Get("/students/{id}", h.showStudent)

		r.Get("/interventions", h.listInterventions)
		r.Get("/interventions/new", h.newIntervention)
		r.Get("/interventions/edit", h.editIntervention)
		r.Get("/interventions/{id}", h.showIntervention)

		r.Get("/users", h.listUsers)
		r.Get("/users/new", h.newUser)
		r.Get("/users/edit", h.editUser)
		r.Get("/users/{id}", h.showUser)

		r.Get("/audit", h.listAudit)
		r.Get("/audit/{id}", h.showAudit)
	})

	r.With(h.gates.RequireEntity(permission.EntityStudent, permission.OpCreate)).Post("/students/new", h.createStudent)
	r.With(h.gates.RequireEntity(permission.EntityStudent, permission.OpUpdate)).Post("/students/edit", h.updateStudent)
	r.With(h.gates.RequireEntity(permission.EntityStudent, permission.OpDelete)).Post("/students/{id}/delete", h.deleteStudent)

	r.With(h.gates.RequireEntity(permission.EntityIntervention, permission.OpCreate)).Post("/interventions/new", h.createIntervention)
	r.With(h.gates.RequireEntity(permission.EntityIntervention, permission.OpUpdate)).Post("/interventions/edit", h.updateIntervention)
	r.With(h.gates.RequireEntity(permission.EntityIntervention, permission.OpDelete)).Post("/interventions/{id}/delete", h.deleteIntervention)
	r.With(h.gates.RequireEntity(permission.EntityComment, permission.OpCreate)).Post("/interventions/{id}/comments", h.createComment)
	r.With(h.gates.RequireEntity(permission.EntityComment, permission.OpUpdate)).Post("/interventions/{id}/comments/{commentID}/edit", h.updateComment)
	r.With(h.gates.RequireEntity(permission.EntityComment, permission.OpDelete)).Post("/interventions/{id}/comments/{commentID}/delete", h.deleteComment)

	r.With(h.gates.RequireEntity(permission.EntityUser, permission.OpCreate)).Post("/users/new", h.createUser)
	r.With(h.gates.RequireEntity(permission.EntityUser, permission.OpUpdate)).Post("/users/edit", h.updateUser)
	r.With(h.gates.RequireEntity(permission.EntityUser, permission.OpDelete)).Post("/users/{id}/delete", h.deleteUser)
}

type errorPage struct {
	Status  int
	Message string
}

// call runs fn against the session's directory. A 401 from the service
// triggers one refresh and a single retry.
func (h *Handler) call(r *http.Request, fn func(ctx context.Context, d *Directory) error) error {
	cs := auth.ClientSessionFromContext(r.Context())
	if cs == nil {
		return shared.ErrClientMissing
	}
	dir := NewDirectory(cs.API)
	err := fn(r.Context(), dir)
	if !errors.Is(err, remote.ErrUnauthorized) {
		return err
	}
	if _, rerr := cs.Session.RefreshSession(r.Context()); rerr != nil {
		return rerr
	}
	return fn(r.Context(), dir)
}

// fail turns a directory error into a response.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var se *remote.StatusError
	switch {
	case auth.IsRefreshError(err), errors.Is(err, remote.ErrUnauthorized):
		h.expired(w, r)
	case errors.Is(err, shared.ErrNotFound):
		h.renderError(w, r, http.StatusNotFound, "The record you asked for does not exist.")
	case errors.As(err, &se) && se.Status == http.StatusForbidden:
		h.forbidden(w, r)
	default:
		h.logger.Error("remote call failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		h.renderError(w, r, http.StatusBadGateway, "The school service is unavailable, try again shortly.")
	}
}

// failMutation reports a failed write on the page the user came from.
func (h *Handler) failMutation(w http.ResponseWriter, r *http.Request, err error, back string) {
	var se *remote.StatusError
	if errors.As(err, &se) && se.Status != http.StatusForbidden && se.Status != http.StatusNotFound {
		h.flash(r, "error", mutationMessage(se))
		http.Redirect(w, r, back, http.StatusSeeOther)
		return
	}
	h.fail(w, r, err)
}

func mutationMessage(se *remote.StatusError) string {
	if se.Message != "" {
		return se.Message
	}
	return "The change could not be saved."
}

func (h *Handler) expired(w http.ResponseWriter, r *http.Request) {
	h.flash(r, "warning", auth.SessionExpired)
	next := r.URL.Path
	if r.Method != http.MethodGet {
		next = ""
	}
	http.Redirect(w, r, guard.LoginURL(next), http.StatusSeeOther)
}

func (h *Handler) forbidden(w http.ResponseWriter, r *http.Request) {
	h.renderStatus(w, r, http.StatusForbidden, "pages/forbidden.html", "Access denied", nil)
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	h.renderStatus(w, r, status, "pages/error.html", http.StatusText(status), errorPage{Status: status, Message: message})
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, name, title string, data any) {
	h.renderStatus(w, r, http.StatusOK, name, title, data)
}

func (h *Handler) renderStatus(w http.ResponseWriter, r *http.Request, status int, name, title string, data any) {
	td := auth.PageData(r, h.csrfManager, title, data)
	if status != http.StatusOK {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
	}
	if err := h.templates.Render(w, name, td); err != nil {
		h.logger.Error("render page", slog.String("template", name), slog.Any("error", err))
		if status == http.StatusOK {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	}
}

// claimSubmission lets a create form through once per submission id. The
// returned release undoes the claim when the create fails.
func (h *Handler) claimSubmission(w http.ResponseWriter, r *http.Request, module, back string) (release func(), ok bool) {
	key := form(r, submissionField)
	if h.submissions == nil || key == "" {
		return func() {}, true
	}
	err := h.submissions.CheckAndInsert(r.Context(), key, module)
	switch {
	case err == nil:
		return func() {
			if err := h.submissions.Delete(context.WithoutCancel(r.Context()), key, module); err != nil {
				h.logger.Warn("release submission", slog.String("module", module), slog.Any("error", err))
			}
		}, true
	case errors.Is(err, shared.ErrIdempotencyConflict):
		h.flash(r, "info", "This form was already submitted.")
		http.Redirect(w, r, back, http.StatusSeeOther)
		return nil, false
	default:
		h.logger.Warn("claim submission", slog.String("module", module), slog.Any("error", err))
		return func() {}, true
	}
}

func (h *Handler) flash(r *http.Request, kind, message string) {
	if c := shared.ClientFromContext(r.Context()); c != nil {
		c.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
}

func (h *Handler) validate(v any) map[string]string {
	errs := make(map[string]string)
	if err := h.validator.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs[fe.Field()] = fieldMessage(fe)
			}
		}
	}
	return errs
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Enter a valid email address"
	case "max":
		return "Must be at most " + fe.Param() + " characters"
	case "oneof":
		return "Choose one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "datetime":
		return "Use the format YYYY-MM-DD"
	default:
		return fe.Error()
	}
}

func listParams(r *http.Request) ListParams {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	return ListParams{
		Search:  strings.TrimSpace(r.URL.Query().Get("q")),
		Page:    page,
		PerPage: defaultPerPage,
	}
}

// editID reads the record id of an /edit route from its query string.
func editID(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get("id"))
}

func form(r *http.Request, key string) string {
	return strings.TrimSpace(r.PostFormValue(key))
}
