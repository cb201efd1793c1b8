package permission

import "slices"

// RouteRule binds a route pattern to the roles allowed to view it.
type RouteRule struct {
	Pattern RoutePattern
	Roles   RoleSet
}

// Table is the immutable authorization matrix. Build it once with
// NewTable or DefaultTable; there are no mutators.
type Table struct {
	entities map[Entity]map[Operation]RoleSet
	routes   []RouteRule
}

// EntityGrant declares the role set of one (entity, operation) cell.
type EntityGrant struct {
	Entity    Entity
	Operation Operation
	Roles     RoleSet
}

// RouteGrant declares the role set of one route pattern.
type RouteGrant struct {
	Pattern string
	Roles   RoleSet
}

// NewTable assembles a table from grants. Route grants keep their order:
// the first pattern that matches a path decides.
func NewTable(entityGrants []EntityGrant, routeGrants []RouteGrant) (*Table, error) {
	t := &Table{entities: make(map[Entity]map[Operation]RoleSet)}
	for _, g := range entityGrants {
		ops, ok := t.entities[g.Entity]
		if !ok {
			ops = make(map[Operation]RoleSet)
			t.entities[g.Entity] = ops
		}
		ops[g.Operation] = slices.Clone(g.Roles)
	}
	for _, g := range routeGrants {
		pattern, err := CompileRoute(g.Pattern)
		if err != nil {
			return nil, err
		}
		t.routes = append(t.routes, RouteRule{Pattern: pattern, Roles: slices.Clone(g.Roles)})
	}
	return t, nil
}

// EntityRoles returns the roles allowed to perform op on entity. Unknown
// entities and operations yield an empty set.
func (t *Table) EntityRoles(entity Entity, op Operation) RoleSet {
	if t == nil {
		return nil
	}
	ops, ok := t.entities[entity]
	if !ok {
		return nil
	}
	return slices.Clone(ops[op])
}

// RouteRoles returns the role set of the first pattern matching route, or
// an empty set when nothing matches.
func (t *Table) RouteRoles(route string) RoleSet {
	if rule, ok := t.MatchRoute(route); ok {
		return rule.Roles
	}
	return nil
}

// MatchRoute returns the first rule whose pattern matches route.
func (t *Table) MatchRoute(route string) (RouteRule, bool) {
	if t == nil {
		return RouteRule{}, false
	}
	for _, rule := range t.routes {
		if rule.Pattern.Match(route) {
			return RouteRule{Pattern: rule.Pattern, Roles: slices.Clone(rule.Roles)}, true
		}
	}
	return RouteRule{}, false
}

// Routes lists the route rules in evaluation order.
func (t *Table) Routes() []RouteRule {
	if t == nil {
		return nil
	}
	out := make([]RouteRule, len(t.routes))
	for i, rule := range t.routes {
		out[i] = RouteRule{Pattern: rule.Pattern, Roles: slices.Clone(rule.Roles)}
	}
	return out
}

// Entities lists the entities that carry at least one grant, in catalog order.
func (t *Table) Entities() []Entity {
	if t == nil {
		return nil
	}
	var out []Entity
	for _, e := range allEntities {
		if _, ok := t.entities[e]; ok {
			out = append(out, e)
		}
	}
	return out
}

var defaultTable = mustDefaultTable()

// DefaultTable returns the SchoolHub authorization matrix.
func DefaultTable() *Table { return defaultTable }

func mustDefaultTable() *Table {
	all := roles(RoleAdmin, RoleUser, RoleViewer)
	staff := roles(RoleAdmin, RoleUser)
	admin := roles(RoleAdmin)

	entities := []EntityGrant{
		{EntityStudent, OpRead, all},
		{EntityStudent, OpCreate, staff},
		{EntityStudent, OpUpdate, staff},
		{EntityStudent, OpDelete, admin},

		{EntityIntervention, OpRead, all},
		{EntityIntervention, OpCreate, all},
		{EntityIntervention, OpUpdate, all},
		{EntityIntervention, OpDelete, admin},

		{EntityComment, OpRead, all},
		{EntityComment, OpCreate, all},
		{EntityComment, OpUpdate, all},
		{EntityComment, OpDelete, admin},

		{EntityUser, OpRead, staff},
		{EntityUser, OpCreate, admin},
		{EntityUser, OpUpdate, admin},
		{EntityUser, OpDelete, admin},

		{EntityDashboard, OpRead, all},

		{EntityAudit, OpRead, admin},
	}

	// Literal routes precede their :id siblings so "/students/new" is never
	// captured by "/students/:id".
	routes := []RouteGrant{
		{"/dashboard", all},
		{"/students", all},
		{"/students/new", staff},
		{"/students/edit", staff},
		{"/students/:id", all},
		{"/interventions", all},
		{"/interventions/new", all},
		{"/interventions/edit", all},
		{"/interventions/:id", all},
		{"/users", staff},
		{"/users/new", admin},
		{"/users/edit", admin},
		{"/users/:id", admin},
		{"/audit", admin},
		{"/audit/:id", admin},
	}

	t, err := NewTable(entities, routes)
	if err != nil {
		panic(err)
	}
	return t
}
