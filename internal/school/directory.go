package school

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/schoolhub/schoolhub/internal/remote"
	"github.com/schoolhub/schoolhub/internal/shared"
)

// API is the transport the directory reads through; *remote.Client
// satisfies it with the session's bearer header attached.
type API interface {
	GetJSON(ctx context.Context, path string, out any) error
	PostJSON(ctx context.Context, path string, in, out any) error
	PutJSON(ctx context.Context, path string, in, out any) error
	Delete(ctx context.Context, path string) error
}

// ListParams narrows list endpoints.
type ListParams struct {
	Search  string
	Page    int
	PerPage int
}

func (p ListParams) query() string {
	v := url.Values{}
	if p.Search != "" {
		v.Set("search", p.Search)
	}
	if p.Page > 0 {
		v.Set("page", strconv.Itoa(p.Page))
	}
	if p.PerPage > 0 {
		v.Set("perPage", strconv.Itoa(p.PerPage))
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

// Page is a list response.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

// Directory reads and writes school records on the data service.
type Directory struct {
	api API
}

// NewDirectory builds a directory over api.
func NewDirectory(api API) *Directory {
	return &Directory{api: api}
}

func (d *Directory) get(ctx context.Context, path string, out any) error {
	if err := d.api.GetJSON(ctx, path, out); err != nil {
		if remote.IsNotFound(err) {
			return shared.ErrNotFound
		}
		return err
	}
	return nil
}

func (d *Directory) remove(ctx context.Context, path string) error {
	if err := d.api.Delete(ctx, path); err != nil {
		if remote.IsNotFound(err) {
			return shared.ErrNotFound
		}
		return err
	}
	return nil
}

// Summary loads the dashboard counters.
func (d *Directory) Summary(ctx context.Context) (DashboardSummary, error) {
	var out DashboardSummary
	err := d.get(ctx, "/dashboard/summary", &out)
	return out, err
}

// ListStudents pages through students.
func (d *Directory) ListStudents(ctx context.Context, p ListParams) (Page[Student], error) {
	var out Page[Student]
	err := d.get(ctx, "/students"+p.query(), &out)
	return out, err
}

// Student loads one student.
func (d *Directory) Student(ctx context.Context, id string) (Student, error) {
	var out Student
	err := d.get(ctx, "/students/"+url.PathEscape(id), &out)
	return out, err
}

// StudentInterventions lists the interventions opened for a student.
func (d *Directory) StudentInterventions(ctx context.Context, id string) ([]Intervention, error) {
	var out []Intervention
	err := d.get(ctx, "/students/"+url.PathEscape(id)+"/interventions", &out)
	return out, err
}

// CreateStudent stores a new student.
func (d *Directory) CreateStudent(ctx context.Context, in StudentInput) (Student, error) {
	var out Student
	err := d.api.PostJSON(ctx, "/students", in, &out)
	return out, err
}

// UpdateStudent replaces a student record.
func (d *Directory) UpdateStudent(ctx context.Context, id string, in StudentInput) (Student, error) {
	var out Student
	err := d.api.PutJSON(ctx, "/students/"+url.PathEscape(id), in, &out)
	return out, err
}

// DeleteStudent removes a student.
func (d *Directory) DeleteStudent(ctx context.Context, id string) error {
	return d.remove(ctx, "/students/"+url.PathEscape(id))
}

// ListInterventions pages through interventions.
func (d *Directory) ListInterventions(ctx context.Context, p ListParams) (Page[Intervention], error) {
	var out Page[Intervention]
	err := d.get(ctx, "/interventions"+p.query(), &out)
	return out, err
}

// Intervention loads one intervention.
func (d *Directory) Intervention(ctx context.Context, id string) (Intervention, error) {
	var out Intervention
	err := d.get(ctx, "/interventions/"+url.PathEscape(id), &out)
	return out, err
}

// Comments lists the comments of an intervention, oldest first.
func (d *Directory) Comments(ctx context.Context, interventionID string) ([]Comment, error) {
	var out []Comment
	err := d.get(ctx, "/interventions/"+url.PathEscape(interventionID)+"/comments", &out)
	return out, err
}

// CreateIntervention stores a new intervention.
func (d *Directory) CreateIntervention(ctx context.Context, in InterventionInput) (Intervention, error) {
	var out Intervention
	err := d.api.PostJSON(ctx, "/interventions", in, &out)
	return out, err
}

// UpdateIntervention replaces an intervention.
func (d *Directory) UpdateIntervention(ctx context.Context, id string, in InterventionInput) (Intervention, error) {
	var out Intervention
	err := d.api.PutJSON(ctx, "/interventions/"+url.PathEscape(id), in, &out)
	return out, err
}

// DeleteIntervention removes an intervention and its comments.
func (d *Directory) DeleteIntervention(ctx context.Context, id string) error {
	return d.remove(ctx, "/interventions/"+url.PathEscape(id))
}

// AddComment appends a comment to an intervention.
func (d *Directory) AddComment(ctx context.Context, interventionID string, in CommentInput) (Comment, error) {
	var out Comment
	err := d.api.PostJSON(ctx, "/interventions/"+url.PathEscape(interventionID)+"/comments", in, &out)
	return out, err
}

// UpdateComment rewrites the body of a comment.
func (d *Directory) UpdateComment(ctx context.Context, interventionID, commentID string, in CommentInput) (Comment, error) {
	var out Comment
	err := d.api.PutJSON(ctx, fmt.Sprintf("/interventions/%s/comments/%s", url.PathEscape(interventionID), url.PathEscape(commentID)), in, &out)
	return out, err
}

// DeleteComment removes a comment.
func (d *Directory) DeleteComment(ctx context.Context, interventionID, commentID string) error {
	return d.remove(ctx, fmt.Sprintf("/interventions/%s/comments/%s", url.PathEscape(interventionID), url.PathEscape(commentID)))
}

// ListUsers pages through staff accounts.
func (d *Directory) ListUsers(ctx context.Context, p ListParams) (Page[StaffUser], error) {
	var out Page[StaffUser]
	err := d.get(ctx, "/users"+p.query(), &out)
	return out, err
}

// User loads one staff account.
func (d *Directory) User(ctx context.Context, id string) (StaffUser, error) {
	var out StaffUser
	err := d.get(ctx, "/users/"+url.PathEscape(id), &out)
	return out, err
}

// CreateUser stores a new staff account.
func (d *Directory) CreateUser(ctx context.Context, in UserInput) (StaffUser, error) {
	var out StaffUser
	err := d.api.PostJSON(ctx, "/users", in, &out)
	return out, err
}

// UpdateUser replaces a staff account.
func (d *Directory) UpdateUser(ctx context.Context, id string, in UserInput) (StaffUser, error) {
	var out StaffUser
	err := d.api.PutJSON(ctx, "/users/"+url.PathEscape(id), in, &out)
	return out, err
}

// DeleteUser removes a staff account.
func (d *Directory) DeleteUser(ctx context.Context, id string) error {
	return d.remove(ctx, "/users/"+url.PathEscape(id))
}

// ListAudit pages through the audit trail, newest first.
func (d *Directory) ListAudit(ctx context.Context, p ListParams) (Page[AuditEntry], error) {
	var out Page[AuditEntry]
	err := d.get(ctx, "/audit"+p.query(), &out)
	return out, err
}

// AuditEntry loads one audit record.
func (d *Directory) AuditEntry(ctx context.Context, id string) (AuditEntry, error) {
	var out AuditEntry
	err := d.get(ctx, "/audit/"+url.PathEscape(id), &out)
	return out, err
}
