package school

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/schoolhub/schoolhub/internal/shared"
)

type studentsPage struct {
	Students   []Student
	Search     string
	Pagination shared.Pagination
}

type studentPage struct {
	Student       Student
	Interventions []Intervention
}

type studentFormPage struct {
	ID         string
	Form       StudentInput
	Errors     map[string]string
	Submission string
}

func (h *Handler) listStudents(w http.ResponseWriter, r *http.Request) {
	params := listParams(r)
	var page Page[Student]
	err := h.call(r, func(ctx context.Context, d *Directory) (err error) {
		page, err = d.ListStudents(ctx, params)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "pages/students.html", "Students", studentsPage{
		Students:   page.Items,
		Search:     params.Search,
		Pagination: shared.NewPagination(params.Page, params.PerPage, page.Total),
	})
}

func (h *Handler) showStudent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var data studentPage
	err := h.call(r, func(ctx context.Context, d *Directory) (err error) {
		if data.Student, err = d.Student(ctx, id); err != nil {
			return err
		}
		data.Interventions, err = d.StudentInterventions(ctx, id)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "pages/student.html", data.Student.FullName(), data)
}

func (h *Handler) newStudent(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "pages/student_form.html", "New student", studentFormPage{Submission: shared.NewIdempotencyKey()})
}

func (h *Handler) editStudent(w http.ResponseWriter, r *http.Request) {
	id := editID(r)
	if id == "" {
		h.renderError(w, r, http.StatusBadRequest, "Choose a student to edit.")
		return
	}
	var student Student
	err := h.call(r, func(ctx context.Context, d *Directory) (err error) {
		student, err = d.Student(ctx, id)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "pages/student_form.html", "Edit student", studentFormPage{
		ID: id,
		Form: StudentInput{
			FirstName:   student.FirstName,
			LastName:    student.LastName,
			Grade:       student.Grade,
			Homeroom:    student.Homeroom,
			DateOfBirth: student.DateOfBirth,
		},
	})
}

func studentInput(r *http.Request) StudentInput {
	return StudentInput{
		FirstName:   form(r, "firstName"),
		LastName:    form(r, "lastName"),
		Grade:       form(r, "grade"),
		Homeroom:    form(r, "homeroom"),
		DateOfBirth: form(r, "dateOfBirth"),
	}
}

func (h *Handler) createStudent(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	in := studentInput(r)
	if errs := h.validate(in); len(errs) > 0 {
		h.renderStatus(w, r, http.StatusUnprocessableEntity, "pages/student_form.html", "New student", studentFormPage{Form: in, Errors: errs, Submission: form(r, submissionField)})
		return
	}
	release, ok := h.claimSubmission(w, r, "students", "/students")
	if !ok {
		return
	}
	var created Student
	err := h.call(r, func(ctx context.Context, d *Directory) (err error) {
		created, err = d.CreateStudent(ctx, in)
		return err
	})
	if err != nil {
		release()
		h.failMutation(w, r, err, "/students/new")
		return
	}
	h.flash(r, "success", "Student "+created.FullName()+" created")
	http.Redirect(w, r, "/students/"+url.PathEscape(string(created.ID)), http.StatusSeeOther)
}

func (h *Handler) updateStudent(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	id := editID(r)
	if id == "" {
		h.renderError(w, r, http.StatusBadRequest, "Choose a student to edit.")
		return
	}
	in := studentInput(r)
	if errs := h.validate(in); len(errs) > 0 {
		h.renderStatus(w, r, http.StatusUnprocessableEntity, "pages/student_form.html", "Edit student", studentFormPage{ID: id, Form: in, Errors: errs})
		return
	}
	err := h.call(r, func(ctx context.Context, d *Directory) error {
		_, err := d.UpdateStudent(ctx, id, in)
		return err
	})
	if err != nil {
		h.failMutation(w, r, err, "/students/edit?id="+url.QueryEscape(id))
		return
	}
	h.flash(r, "success", "Student updated")
	http.Redirect(w, r, "/students/"+url.PathEscape(id), http.StatusSeeOther)
}

func (h *Handler) deleteStudent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.call(r, func(ctx context.Context, d *Directory) error {
		return d.DeleteStudent(ctx, id)
	})
	if err != nil {
		h.failMutation(w, r, err, "/students/"+url.PathEscape(id))
		return
	}
	h.flash(r, "success", "Student deleted")
	http.Redirect(w, r, "/students", http.StatusSeeOther)
}
