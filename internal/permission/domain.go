// Package permission holds the SchoolHub authorization matrix and the
// evaluator every page, link and button consults before rendering.
package permission

import (
	"errors"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Role is the coarse-grained classification of a staff account.
type Role string

const (
	RoleAdmin  Role = "Admin"
	RoleUser   Role = "User"
	RoleViewer Role = "Viewer"
)

// Entity names a protected resource class.
type Entity string

const (
	EntityStudent      Entity = "STUDENT"
	EntityIntervention Entity = "INTERVENTION"
	EntityComment      Entity = "COMMENT"
	EntityUser         Entity = "USER"
	EntityDashboard    Entity = "DASHBOARD"
	EntityAudit        Entity = "AUDIT"
)

// Operation is an action performed on an entity.
type Operation string

const (
	OpRead   Operation = "READ"
	OpCreate Operation = "CREATE"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

var (
	// ErrUnknownRole is returned when a role tag is not recognised.
	ErrUnknownRole = errors.New("permission: unknown role")
	// ErrUnknownEntity is returned when an entity tag is empty or not recognised.
	ErrUnknownEntity = errors.New("permission: unknown entity")
	// ErrUnknownOperation is returned when an operation tag is empty or not recognised.
	ErrUnknownOperation = errors.New("permission: unknown operation")
)

var (
	allRoles      = []Role{RoleAdmin, RoleUser, RoleViewer}
	allEntities   = []Entity{EntityStudent, EntityIntervention, EntityComment, EntityUser, EntityDashboard, EntityAudit}
	allOperations = []Operation{OpRead, OpCreate, OpUpdate, OpDelete}
)

// Roles lists every known role.
func Roles() []Role { return slices.Clone(allRoles) }

// Operations lists every known operation in display order.
func Operations() []Operation { return slices.Clone(allOperations) }

// ParseRole resolves a role name case-insensitively ("admin", "ADMIN", "Admin").
func ParseRole(raw string) (Role, error) {
	key := normalize(raw)
	for _, r := range allRoles {
		if normalize(string(r)) == key && key != "" {
			return r, nil
		}
	}
	return "", ErrUnknownRole
}

// ParseEntity resolves an entity tag, accepting any letter case.
func ParseEntity(raw string) (Entity, error) {
	key := Entity(normalize(raw))
	if slices.Contains(allEntities, key) {
		return key, nil
	}
	return "", ErrUnknownEntity
}

// ParseOperation resolves an operation tag, accepting any letter case.
func ParseOperation(raw string) (Operation, error) {
	key := Operation(normalize(raw))
	if slices.Contains(allOperations, key) {
		return key, nil
	}
	return "", ErrUnknownOperation
}

// Casers keep state between calls, so each normalisation gets its own.
func normalize(raw string) string {
	return cases.Upper(language.Und).String(strings.TrimSpace(raw))
}

// RoleSet is an ordered set of roles. Values handed out by the table are
// copies; mutating them never changes the matrix.
type RoleSet []Role

// Contains reports whether r is a member of the set.
func (s RoleSet) Contains(r Role) bool {
	return slices.Contains(s, r)
}

// Empty reports whether the set grants nothing.
func (s RoleSet) Empty() bool { return len(s) == 0 }

// String renders the set as a comma separated list, "-" when empty.
func (s RoleSet) String() string {
	if len(s) == 0 {
		return "-"
	}
	parts := make([]string, len(s))
	for i, r := range s {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}

func roles(rs ...Role) RoleSet { return RoleSet(rs) }
