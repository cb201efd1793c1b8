package permission

import "strings"

// Subject is anything carrying the role of the current user. An anonymous
// subject reports ok == false.
type Subject interface {
	SubjectRole() (role Role, ok bool)
}

// Decision describes one evaluated check; observers receive it after the
// verdict is known.
type Decision struct {
	Entity    Entity
	Operation Operation
	Route     string
	Role      Role
	Anonymous bool
	Allowed   bool
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithObserver registers a callback invoked for every table-driven decision.
func WithObserver(fn func(Decision)) Option {
	return func(e *Evaluator) {
		e.observer = fn
	}
}

// Evaluator decides allow/deny against a Table. It holds no per-call state
// and is safe for concurrent use.
type Evaluator struct {
	table    *Table
	observer func(Decision)
}

// NewEvaluator builds an evaluator over table, or over DefaultTable when
// table is nil.
func NewEvaluator(table *Table, opts ...Option) *Evaluator {
	if table == nil {
		table = DefaultTable()
	}
	e := &Evaluator{table: table}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Table exposes the matrix the evaluator reads.
func (e *Evaluator) Table() *Table { return e.table }

// Decide parses entity and operation and evaluates them for sub. Unknown
// tags come back as ErrUnknownEntity / ErrUnknownOperation so callers can
// tell a typo from a denial; the verdict is false in both cases.
func (e *Evaluator) Decide(sub Subject, entity, operation string) (bool, error) {
	ent, err := ParseEntity(entity)
	if err != nil {
		return false, err
	}
	op, err := ParseOperation(operation)
	if err != nil {
		return false, err
	}
	return e.Can(sub, ent, op), nil
}

// CheckEntity is the fail-closed boolean form of Decide.
func (e *Evaluator) CheckEntity(sub Subject, entity, operation string) bool {
	allowed, err := e.Decide(sub, entity, operation)
	return err == nil && allowed
}

// Can evaluates typed tags. Admin holds no implicit privilege: it is
// allowed only where the table lists it.
func (e *Evaluator) Can(sub Subject, entity Entity, op Operation) bool {
	d := Decision{Entity: entity, Operation: op}
	role, ok := subjectRole(sub)
	if !ok {
		d.Anonymous = true
		e.observe(d)
		return false
	}
	d.Role = role
	d.Allowed = e.table.EntityRoles(entity, op).Contains(role)
	e.observe(d)
	return d.Allowed
}

// CheckRoute reports whether sub may view route.
func (e *Evaluator) CheckRoute(sub Subject, route string) bool {
	d := Decision{Route: route}
	role, ok := subjectRole(sub)
	if !ok {
		d.Anonymous = true
		e.observe(d)
		return false
	}
	d.Role = role
	d.Allowed = e.table.RouteRoles(route).Contains(role)
	e.observe(d)
	return d.Allowed
}

// AllowedOperations lists the operations sub may perform on entity, in
// READ, CREATE, UPDATE, DELETE order.
func (e *Evaluator) AllowedOperations(sub Subject, entity Entity) []Operation {
	role, ok := subjectRole(sub)
	if !ok {
		return nil
	}
	var out []Operation
	for _, op := range allOperations {
		if e.table.EntityRoles(entity, op).Contains(role) {
			out = append(out, op)
		}
	}
	return out
}

// CheckPermission is the role rule the authentication layer applies on its
// own, independent of the table:
//
//	Admin  - everything
//	User   - everything except DELETE
//	Viewer - READ on student; READ, CREATE, UPDATE on intervention and comment
//
// It disagrees with the table in places (Viewer on DASHBOARD, User on USER
// writes); page gating always goes through CheckEntity.
func (e *Evaluator) CheckPermission(sub Subject, entity, operation string) bool {
	role, ok := subjectRole(sub)
	if !ok {
		return false
	}
	op := strings.ToUpper(strings.TrimSpace(operation))
	switch role {
	case RoleAdmin:
		return true
	case RoleUser:
		return op != string(OpDelete)
	case RoleViewer:
		switch strings.ToLower(strings.TrimSpace(entity)) {
		case "student":
			return op == string(OpRead)
		case "intervention", "comment":
			return op == string(OpRead) || op == string(OpCreate) || op == string(OpUpdate)
		}
	}
	return false
}

func (e *Evaluator) observe(d Decision) {
	if e.observer != nil {
		e.observer(d)
	}
}

func subjectRole(sub Subject) (Role, bool) {
	if sub == nil {
		return "", false
	}
	role, ok := sub.SubjectRole()
	if !ok || role == "" {
		return "", false
	}
	return role, true
}
