package school

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/schoolhub/schoolhub/internal/permission"
	"github.com/schoolhub/schoolhub/internal/shared"
)

type usersPage struct {
	Users      []StaffUser
	Search     string
	Pagination shared.Pagination
}

type userFormPage struct {
	ID         string
	Form       UserInput
	Errors     map[string]string
	Roles      []permission.Role
	Submission string
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	params := listParams(r)
	var page Page[StaffUser]
	err := h.call(r, func(ctx context.Context, d *Directory) (err error) {
		page, err = d.ListUsers(ctx, params)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "pages/users.html", "Staff", usersPage{
		Users:      page.Items,
		Search:     params.Search,
		Pagination: shared.NewPagination(params.Page, params.PerPage, page.Total),
	})
}

func (h *Handler) showUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var user StaffUser
	err := h.call(r, func(ctx context.Context, d *Directory) (err error) {
		user, err = d.User(ctx, id)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "pages/user.html", user.FullName(), user)
}

func (h *Handler) newUser(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "pages/user_form.html", "New staff account", userFormPage{
		Form:       UserInput{Role: string(permission.RoleViewer)},
		Roles:      permission.Roles(),
		Submission: shared.NewIdempotencyKey(),
	})
}

func (h *Handler) editUser(w http.ResponseWriter, r *http.Request) {
	id := editID(r)
	if id == "" {
		h.renderError(w, r, http.StatusBadRequest, "Choose a staff account to edit.")
		return
	}
	var user StaffUser
	err := h.call(r, func(ctx context.Context, d *Directory) (err error) {
		user, err = d.User(ctx, id)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "pages/user_form.html", "Edit staff account", userFormPage{
		ID: id,
		Form: UserInput{
			Email:      user.Email,
			FirstName:  user.FirstName,
			LastName:   user.LastName,
			Role:       user.Role,
			StaffType:  user.StaffType,
			Department: user.Department,
		},
		Roles: permission.Roles(),
	})
}

// userInput canonicalises the role so "admin" from a hand-edited form
// still validates.
func userInput(r *http.Request) UserInput {
	in := UserInput{
		Email:      form(r, "email"),
		FirstName:  form(r, "firstName"),
		LastName:   form(r, "lastName"),
		Role:       form(r, "role"),
		StaffType:  form(r, "staffType"),
		Department: form(r, "department"),
	}
	if role, err := permission.ParseRole(in.Role); err == nil {
		in.Role = string(role)
	}
	return in
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	in := userInput(r)
	if errs := h.validate(in); len(errs) > 0 {
		h.renderStatus(w, r, http.StatusUnprocessableEntity, "pages/user_form.html", "New staff account", userFormPage{Form: in, Errors: errs, Roles: permission.Roles(), Submission: form(r, submissionField)})
		return
	}
	release, ok := h.claimSubmission(w, r, "users", "/users")
	if !ok {
		return
	}
	var created StaffUser
	err := h.call(r, func(ctx context.Context, d *Directory) (err error) {
		created, err = d.CreateUser(ctx, in)
		return err
	})
	if err != nil {
		release()
		h.failMutation(w, r, err, "/users/new")
		return
	}
	h.flash(r, "success", "Account for "+created.Email+" created")
	http.Redirect(w, r, "/users/"+url.PathEscape(string(created.ID)), http.StatusSeeOther)
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	id := editID(r)
	if id == "" {
		h.renderError(w, r, http.StatusBadRequest, "Choose a staff account to edit.")
		return
	}
	in := userInput(r)
	if errs := h.validate(in); len(errs) > 0 {
		h.renderStatus(w, r, http.StatusUnprocessableEntity, "pages/user_form.html", "Edit staff account", userFormPage{ID: id, Form: in, Errors: errs, Roles: permission.Roles()})
		return
	}
	err := h.call(r, func(ctx context.Context, d *Directory) error {
		_, err := d.UpdateUser(ctx, id, in)
		return err
	})
	if err != nil {
		h.failMutation(w, r, err, "/users/edit?id="+url.QueryEscape(id))
		return
	}
	h.flash(r, "success", "Account updated")
	http.Redirect(w, r, "/users/"+url.PathEscape(id), http.StatusSeeOther)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if self := currentUserID(r); self != "" && self == id {
		h.flash(r, "error", "You cannot delete your own account")
		http.Redirect(w, r, "/users/"+url.PathEscape(id), http.StatusSeeOther)
		return
	}
	err := h.call(r, func(ctx context.Context, d *Directory) error {
		return d.DeleteUser(ctx, id)
	})
	if err != nil {
		h.failMutation(w, r, err, "/users/"+url.PathEscape(id))
		return
	}
	h.flash(r, "success", "Account deleted")
	http.Redirect(w, r, "/users", http.StatusSeeOther)
}
