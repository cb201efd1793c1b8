// Package school renders the staff pages over the remote data service:
// dashboard, students, interventions with their comments, staff users and
// the audit trail.
package school

import (
	"time"

	"github.com/schoolhub/schoolhub/internal/remote"
)

// Student is a pupil record.
type Student struct {
	ID          remote.ID `json:"id"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	Grade       string    `json:"grade"`
	Homeroom    string    `json:"homeroom,omitempty"`
	DateOfBirth string    `json:"dateOfBirth,omitempty"`
	Status      string    `json:"status,omitempty"`
}

// FullName joins the student's names.
func (s Student) FullName() string { return s.FirstName + " " + s.LastName }

// Intervention tracks a behavioural or academic support plan.
type Intervention struct {
	ID          remote.ID  `json:"id"`
	StudentID   remote.ID  `json:"studentId"`
	StudentName string     `json:"studentName,omitempty"`
	Title       string     `json:"title"`
	Kind        string     `json:"type"`
	Status      string     `json:"status"`
	Description string     `json:"description,omitempty"`
	AssignedTo  string     `json:"assignedTo,omitempty"`
	StartDate   string     `json:"startDate,omitempty"`
	EndDate     string     `json:"endDate,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

// Comment is a note left on an intervention.
type Comment struct {
	ID             remote.ID `json:"id"`
	InterventionID remote.ID `json:"interventionId"`
	AuthorName     string    `json:"authorName"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"createdAt"`
}

// StaffUser is a staff account as listed by the service.
type StaffUser struct {
	ID         remote.ID `json:"id"`
	Email      string    `json:"email"`
	FirstName  string    `json:"firstName"`
	LastName   string    `json:"lastName"`
	Role       string    `json:"role"`
	StaffType  string    `json:"staffType,omitempty"`
	Department string    `json:"department,omitempty"`
	Active     bool      `json:"active"`
}

// FullName joins the user's names.
func (u StaffUser) FullName() string { return u.FirstName + " " + u.LastName }

// AuditEntry is one audited change.
type AuditEntry struct {
	ID         remote.ID      `json:"id"`
	ActorEmail string         `json:"actorEmail"`
	Action     string         `json:"action"`
	Entity     string         `json:"entity"`
	EntityID   string         `json:"entityId"`
	OccurredAt time.Time      `json:"occurredAt"`
	Changes    map[string]any `json:"changes,omitempty"`
}

// DashboardSummary feeds the landing page.
type DashboardSummary struct {
	Students            int            `json:"students"`
	OpenInterventions   int            `json:"openInterventions"`
	ClosedInterventions int            `json:"closedInterventions"`
	RecentInterventions []Intervention `json:"recentInterventions"`
}

// StudentInput is the create/update form of a student.
type StudentInput struct {
	FirstName   string `json:"firstName" validate:"required,max=80"`
	LastName    string `json:"lastName" validate:"required,max=80"`
	Grade       string `json:"grade" validate:"required,max=20"`
	Homeroom    string `json:"homeroom,omitempty" validate:"max=40"`
	DateOfBirth string `json:"dateOfBirth,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// InterventionInput is the create/update form of an intervention.
type InterventionInput struct {
	StudentID   string `json:"studentId" validate:"required"`
	Title       string `json:"title" validate:"required,max=120"`
	Kind        string `json:"type" validate:"required,oneof=behavioural academic attendance wellbeing"`
	Status      string `json:"status" validate:"required,oneof=open monitoring closed"`
	Description string `json:"description,omitempty" validate:"max=2000"`
	StartDate   string `json:"startDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate     string `json:"endDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// CommentInput is the body of a new or edited comment.
type CommentInput struct {
	Body string `json:"body" validate:"required,max=2000"`
}

// UserInput is the create/update form of a staff user.
type UserInput struct {
	Email      string `json:"email" validate:"required,email"`
	FirstName  string `json:"firstName" validate:"required,max=80"`
	LastName   string `json:"lastName" validate:"required,max=80"`
	Role       string `json:"role" validate:"required,oneof=Admin User Viewer"`
	StaffType  string `json:"staffType,omitempty" validate:"max=40"`
	Department string `json:"department,omitempty" validate:"max=80"`
}

// InterventionKinds lists the accepted intervention types.
var InterventionKinds = []string{"behavioural", "academic", "attendance", "wellbeing"}

// InterventionStatuses lists the accepted intervention statuses.
var InterventionStatuses = []string{"open", "monitoring", "closed"}
