// Package auth owns the signed-in state of one SchoolHub client: the
// current user, the access credential and their persisted mirror.
package auth

import (
	"strings"

	"github.com/schoolhub/schoolhub/internal/permission"
	"github.com/schoolhub/schoolhub/internal/remote"
)

// StorageKey names the persisted session blob.
const StorageKey = "auth"

// User is the normalised account record kept in memory and in the blob.
type User struct {
	ID         string          `json:"id"`
	Email      string          `json:"email"`
	FirstName  string          `json:"firstName"`
	LastName   string          `json:"lastName"`
	Role       permission.Role `json:"role"`
	StaffType  string          `json:"staffType,omitempty"`
	Department string          `json:"department,omitempty"`
}

// DisplayName joins first and last name, falling back to the email.
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// Credentials is the login form payload.
type Credentials struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

// LoginResult is the raw response of a successful login.
type LoginResult = remote.LoginResponse

// Tokens is a rotated credential pair.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// State is a point-in-time copy of a Session.
type State struct {
	User        *User
	AccessToken string
	IsLoading   bool
	Error       string
}

// IsAuthenticated reports whether the snapshot carries a user and token.
func (s State) IsAuthenticated() bool {
	return s.User != nil && s.AccessToken != ""
}

// SubjectRole implements permission.Subject.
func (s State) SubjectRole() (permission.Role, bool) {
	if s.User == nil {
		return "", false
	}
	return s.User.Role, s.User.Role != ""
}

type blob struct {
	User         *User  `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

func (b blob) valid() bool {
	return b.User != nil && b.User.ID != "" && b.User.Email != "" && b.AccessToken != ""
}

// normalizeUser trims the wire record and resolves the role. An unknown
// role is kept verbatim so every table lookup denies it.
func normalizeUser(u *remote.User) User {
	out := User{
		ID:         strings.TrimSpace(string(u.ID)),
		Email:      strings.ToLower(strings.TrimSpace(u.Email)),
		FirstName:  strings.TrimSpace(u.FirstName),
		LastName:   strings.TrimSpace(u.LastName),
		StaffType:  strings.TrimSpace(u.StaffType),
		Department: strings.TrimSpace(u.Department),
	}
	if role, err := permission.ParseRole(u.Role); err == nil {
		out.Role = role
	} else {
		out.Role = permission.Role(strings.TrimSpace(u.Role))
	}
	return out
}
