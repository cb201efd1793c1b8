package school

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/schoolhub/schoolhub/internal/shared"
)

type interventionsPage struct {
	Interventions []Intervention
	Search        string
	Pagination    shared.Pagination
}

type interventionPage struct {
	Intervention Intervention
	Comments     []Comment
	CommentForm  CommentInput
	Errors       map[string]string
}

type interventionFormPage struct {
	ID         string
	Form       InterventionInput
	Errors     map[string]string
	Kinds      []string
	Statuses   []string
	Submission string
}

func (h *Handler) listInterventions(w http.ResponseWriter, r *http.Request) {
	params := listParams(r)
	var page Page[Intervention]
	err := h.call(r, func(ctx context.Context, d *Directory) (err error) {
		page, err = d.ListInterventions(ctx, params)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "pages/interventions.html", "Interventions", interventionsPage{
		Interventions: page.Items,
		Search:        params.Search,
		Pagination:    shared.NewPagination(params.Page, params.PerPage, page.Total),
	})
}

func (h *Handler) loadIntervention(r *http.Request, id string) (interventionPage, error) {
	var data interventionPage
	err := h.call(r, func(ctx context.Context, d *Directory) (err error) {
		if data.Intervention, err = d.Intervention(ctx, id); err != nil {
			return err
		}
		data.Comments, err = d.Comments(ctx, id)
		return err
	})
	return data, err
}

func (h *Handler) showIntervention(w http.ResponseWriter, r *http.Request) {
	data, err := h.loadIntervention(r, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "pages/intervention.html", data.Intervention.Title, data)
}

func (h *Handler) interventionForm(id string, in InterventionInput, errs map[string]string) interventionFormPage {
	return interventionFormPage{
		ID:       id,
		Form:     in,
		Errors:   errs,
		Kinds:    InterventionKinds,
		Statuses: InterventionStatuses,
	}
}

func (h *Handler) newIntervention(w http.ResponseWriter, r *http.Request) {
	in := InterventionInput{StudentID: r.URL.Query().Get("student"), Status: "open"}
	page := h.interventionForm("", in, nil)
	page.Submission = shared.NewIdempotencyKey()
	h.render(w, r, "pages/intervention_form.html", "New intervention", page)
}

func (h *Handler) editIntervention(w http.ResponseWriter, r *http.Request) {
	id := editID(r)
	if id == "" {
		h.renderError(w, r, http.StatusBadRequest, "Choose an intervention to edit.")
		return
	}
	var item Intervention
	err := h.call(r, func(ctx context.Context, d *Directory) (err error) {
		item, err = d.Intervention(ctx, id)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	in := InterventionInput{
		StudentID:   string(item.StudentID),
		Title:       item.Title,
		Kind:        item.Kind,
		Status:      item.Status,
		Description: item.Description,
		StartDate:   item.StartDate,
		EndDate:     item.EndDate,
	}
	h.render(w, r, "pages/intervention_form.html", "Edit intervention", h.interventionForm(id, in, nil))
}

func interventionInput(r *http.Request) InterventionInput {
	return InterventionInput{
		StudentID:   form(r, "studentId"),
		Title:       form(r, "title"),
		Kind:        form(r, "type"),
		Status:      form(r, "status"),
		Description: form(r, "description"),
		StartDate:   form(r, "startDate"),
		EndDate:     form(r, "endDate"),
	}
}

func (h *Handler) createIntervention(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	in := interventionInput(r)
	if errs := h.validate(in); len(errs) > 0 {
		page := h.interventionForm("", in, errs)
		page.Submission = form(r, submissionField)
		h.renderStatus(w, r, http.StatusUnprocessableEntity, "pages/intervention_form.html", "New intervention", page)
		return
	}
	release, ok := h.claimSubmission(w, r, "interventions", "/interventions")
	if !ok {
		return
	}
	var created Intervention
	err := h.call(r, func(ctx context.Context, d *Directory) (err error) {
		created, err = d.CreateIntervention(ctx, in)
		return err
	})
	if err != nil {
		release()
		h.failMutation(w, r, err, "/interventions/new")
		return
	}
	h.flash(r, "success", "Intervention created")
	http.Redirect(w, r, "/interventions/"+url.PathEscape(string(created.ID)), http.StatusSeeOther)
}

func (h *Handler) updateIntervention(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	id := editID(r)
	if id == "" {
		h.renderError(w, r, http.StatusBadRequest, "Choose an intervention to edit.")
		return
	}
	in := interventionInput(r)
	if errs := h.validate(in); len(errs) > 0 {
		h.renderStatus(w, r, http.StatusUnprocessableEntity, "pages/intervention_form.html", "Edit intervention", h.interventionForm(id, in, errs))
		return
	}
	err := h.call(r, func(ctx context.Context, d *Directory) error {
		_, err := d.UpdateIntervention(ctx, id, in)
		return err
	})
	if err != nil {
		h.failMutation(w, r, err, "/interventions/edit?id="+url.QueryEscape(id))
		return
	}
	h.flash(r, "success", "Intervention updated")
	http.Redirect(w, r, "/interventions/"+url.PathEscape(id), http.StatusSeeOther)
}

func (h *Handler) deleteIntervention(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.call(r, func(ctx context.Context, d *Directory) error {
		return d.DeleteIntervention(ctx, id)
	})
	if err != nil {
		h.failMutation(w, r, err, "/interventions/"+url.PathEscape(id))
		return
	}
	h.flash(r, "success", "Intervention deleted")
	http.Redirect(w, r, "/interventions", http.StatusSeeOther)
}

func (h *Handler) createComment(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")
	in := CommentInput{Body: form(r, "body")}
	if errs := h.validate(in); len(errs) > 0 {
		data, err := h.loadIntervention(r, id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		data.CommentForm, data.Errors = in, errs
		h.renderStatus(w, r, http.StatusUnprocessableEntity, "pages/intervention.html", data.Intervention.Title, data)
		return
	}
	err := h.call(r, func(ctx context.Context, d *Directory) error {
		_, err := d.AddComment(ctx, id, in)
		return err
	})
	back := "/interventions/" + url.PathEscape(id)
	if err != nil {
		h.failMutation(w, r, err, back)
		return
	}
	h.flash(r, "success", "Comment added")
	http.Redirect(w, r, back, http.StatusSeeOther)
}

// updateComment edits a comment in place; an invalid body is reported as a
// flash on the intervention page.
func (h *Handler) updateComment(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")
	commentID := chi.URLParam(r, "commentID")
	back := "/interventions/" + url.PathEscape(id)
	in := CommentInput{Body: form(r, "body")}
	if errs := h.validate(in); len(errs) > 0 {
		h.flash(r, "error", "Comment: "+errs["Body"])
		http.Redirect(w, r, back, http.StatusSeeOther)
		return
	}
	err := h.call(r, func(ctx context.Context, d *Directory) error {
		_, err := d.UpdateComment(ctx, id, commentID, in)
		return err
	})
	if err != nil {
		h.failMutation(w, r, err, back)
		return
	}
	h.flash(r, "success", "Comment updated")
	http.Redirect(w, r, back, http.StatusSeeOther)
}

func (h *Handler) deleteComment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	commentID := chi.URLParam(r, "commentID")
	err := h.call(r, func(ctx context.Context, d *Directory) error {
		return d.DeleteComment(ctx, id, commentID)
	})
	back := "/interventions/" + url.PathEscape(id)
	if err != nil {
		h.failMutation(w, r, err, back)
		return
	}
	h.flash(r, "success", "Comment deleted")
	http.Redirect(w, r, back, http.StatusSeeOther)
}
