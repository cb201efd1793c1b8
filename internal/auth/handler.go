package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/schoolhub/schoolhub/internal/shared"
	"github.com/schoolhub/schoolhub/internal/view"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger      *slog.Logger
	templates   *view.Engine
	csrfManager *shared.CSRFManager
	validator   *validator.Validate
	loginLimit  int
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, templates *view.Engine, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:      logger,
		templates:   templates,
		csrfManager: csrf,
		validator:   validator.New(),
		loginLimit:  10,
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.With(httprate.LimitByIP(h.loginLimit, time.Minute)).Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
}

type loginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

type loginPageData struct {
	Form   loginForm
	Next   string
	Errors map[string]string
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	next := safeNext(r.URL.Query().Get("next"))
	if cs := ClientSessionFromContext(r.Context()); cs != nil && cs.Session.IsAuthenticated() {
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}
	data := loginPageData{Next: r.URL.Query().Get("next")}
	if err := h.templates.Render(w, "pages/login.html", PageData(r, h.csrfManager, "Sign in", data)); err != nil {
		h.logger.Error("render login", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	cs := ClientSessionFromContext(r.Context())
	if cs == nil {
		h.logger.Error("client session missing during login")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	form := loginForm{
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
	}
	next := r.PostFormValue("next")
	errs := make(map[string]string)
	if err := h.validator.Struct(form); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fieldErr := range verrs {
				errs[fieldErr.Field()] = fieldMessage(fieldErr)
			}
		}
	}

	if len(errs) == 0 {
		_, err := cs.Session.Login(r.Context(), Credentials{Email: form.Email, Password: form.Password})
		if err == nil {
			if c := shared.ClientFromContext(r.Context()); c != nil {
				// A fresh token per sign-in.
				c.Delete(shared.CSRFClientKey)
				c.AddFlash(shared.FlashMessage{Kind: "success", Message: "Welcome back, " + cs.Session.User().DisplayName()})
			}
			http.Redirect(w, r, safeNext(next), http.StatusSeeOther)
			return
		}
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			errs["general"] = "Invalid email or password"
		case errors.Is(err, ErrMalformedResponse):
			errs["general"] = "The school service returned an unexpected answer"
		default:
			var authErr *AuthError
			if errors.As(err, &authErr) {
				errs["general"] = "The school service is unavailable, try again shortly"
			} else {
				h.logger.Error("login", slog.Any("error", err))
				errs["general"] = "Could not start a session"
			}
		}
	}

	data := loginPageData{Form: loginForm{Email: form.Email}, Next: next, Errors: errs}
	w.WriteHeader(http.StatusBadRequest)
	if err := h.templates.Render(w, "pages/login.html", PageData(r, h.csrfManager, "Sign in", data)); err != nil {
		h.logger.Error("render login invalid", slog.Any("error", err))
	}
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cs := ClientSessionFromContext(r.Context()); cs != nil {
		cs.Session.Logout(r.Context())
	}
	if c := shared.ClientFromContext(r.Context()); c != nil {
		c.Delete(shared.CSRFClientKey)
		c.AddFlash(shared.FlashMessage{Kind: "info", Message: "You have been signed out"})
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return "Enter a valid email address"
	default:
		return fe.Error()
	}
}

// safeNext only accepts local absolute paths as redirect targets.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/dashboard"
	}
	u, err := url.Parse(next)
	if err != nil || u.IsAbs() || u.Host != "" || u.Path == "/login" {
		return "/dashboard"
	}
	return next
}

// ShowLoginForTest exposes the GET handler for tests.
func (h *Handler) ShowLoginForTest(w http.ResponseWriter, r *http.Request) {
	h.showLogin(w, r)
}

// HandleLoginForTest exposes the POST handler for tests.
func (h *Handler) HandleLoginForTest(w http.ResponseWriter, r *http.Request) {
	h.handleLogin(w, r)
}

// HandleLogoutForTest exposes the logout handler for tests.
func (h *Handler) HandleLogoutForTest(w http.ResponseWriter, r *http.Request) {
	h.handleLogout(w, r)
}
