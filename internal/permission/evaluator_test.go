package permission

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type role Role

func (r role) SubjectRole() (Role, bool) { return Role(r), r != "" }

var (
	admin  = role(RoleAdmin)
	user   = role(RoleUser)
	viewer = role(RoleViewer)
)

func TestCheckEntityFollowsTable(t *testing.T) {
	ev := NewEvaluator(nil)
	table := ev.Table()
	for _, sub := range []role{admin, user, viewer} {
		for _, ent := range table.Entities() {
			for _, op := range Operations() {
				want := table.EntityRoles(ent, op).Contains(Role(sub))
				assert.Equal(t, want, ev.CheckEntity(sub, string(ent), string(op)), "%s %s %s", sub, ent, op)
			}
		}
	}
}

func TestCheckEntityScenarios(t *testing.T) {
	ev := NewEvaluator(nil)

	assert.True(t, ev.CheckEntity(viewer, "student", "read"))
	assert.False(t, ev.CheckEntity(viewer, "student", "create"))
	assert.True(t, ev.CheckEntity(user, "STUDENT", "UPDATE"))
	assert.False(t, ev.CheckEntity(user, "STUDENT", "DELETE"))
	assert.True(t, ev.CheckEntity(admin, "Student", "Delete"))
	assert.False(t, ev.CheckEntity(user, "AUDIT", "READ"))
}

func TestCheckEntityFailsClosed(t *testing.T) {
	ev := NewEvaluator(nil)

	assert.False(t, ev.CheckEntity(nil, "STUDENT", "READ"))
	assert.False(t, ev.CheckEntity(role(""), "STUDENT", "READ"))
	assert.False(t, ev.CheckEntity(admin, "", "READ"))
	assert.False(t, ev.CheckEntity(admin, "STUDENT", ""))
	// Admin holds no implicit privilege outside the table.
	assert.False(t, ev.CheckEntity(admin, "GRADE", "READ"))
	assert.False(t, ev.CheckEntity(admin, "DASHBOARD", "DELETE"))
	assert.False(t, ev.CheckEntity(admin, "STUDENT", "ARCHIVE"))
}

func TestDecideReportsParseErrors(t *testing.T) {
	ev := NewEvaluator(nil)

	allowed, err := ev.Decide(admin, "grade", "read")
	assert.False(t, allowed)
	assert.ErrorIs(t, err, ErrUnknownEntity)

	allowed, err = ev.Decide(admin, "student", "archive")
	assert.False(t, allowed)
	assert.ErrorIs(t, err, ErrUnknownOperation)

	allowed, err = ev.Decide(nil, "student", "read")
	assert.NoError(t, err)
	assert.False(t, allowed)
}

func TestCheckRoute(t *testing.T) {
	ev := NewEvaluator(nil)

	assert.True(t, ev.CheckRoute(viewer, "/students/42"))
	assert.False(t, ev.CheckRoute(viewer, "/students/42/extra"))
	assert.False(t, ev.CheckRoute(viewer, "/students/new"))
	assert.True(t, ev.CheckRoute(user, "/students/new"))
	assert.True(t, ev.CheckRoute(user, "/users"))
	assert.False(t, ev.CheckRoute(user, "/users/7"))
	assert.True(t, ev.CheckRoute(admin, "/users/7"))
	assert.False(t, ev.CheckRoute(admin, "/users/7/editar"))
	assert.False(t, ev.CheckRoute(admin, "/reports"))
	assert.False(t, ev.CheckRoute(nil, "/dashboard"))
}

func TestCheckPermissionRoleSwitch(t *testing.T) {
	ev := NewEvaluator(nil)

	assert.True(t, ev.CheckPermission(admin, "anything", "DELETE"))
	assert.True(t, ev.CheckPermission(user, "student", "UPDATE"))
	assert.False(t, ev.CheckPermission(user, "student", "DELETE"))
	assert.True(t, ev.CheckPermission(viewer, "student", "read"))
	assert.False(t, ev.CheckPermission(viewer, "student", "UPDATE"))
	assert.True(t, ev.CheckPermission(viewer, "Intervention", "create"))
	assert.True(t, ev.CheckPermission(viewer, "comment", "UPDATE"))
	assert.False(t, ev.CheckPermission(viewer, "comment", "DELETE"))
	assert.False(t, ev.CheckPermission(nil, "student", "READ"))
}

// The role switch and the table disagree on a few cells; pin both answers.
func TestCheckPermissionDivergesFromTable(t *testing.T) {
	ev := NewEvaluator(nil)

	assert.True(t, ev.CheckEntity(viewer, "DASHBOARD", "READ"))
	assert.False(t, ev.CheckPermission(viewer, "dashboard", "READ"))

	assert.False(t, ev.CheckEntity(user, "USER", "CREATE"))
	assert.True(t, ev.CheckPermission(user, "user", "CREATE"))

	assert.False(t, ev.CheckEntity(admin, "AUDIT", "DELETE"))
	assert.True(t, ev.CheckPermission(admin, "audit", "DELETE"))
}

func TestAllowedOperations(t *testing.T) {
	ev := NewEvaluator(nil)

	assert.Equal(t, []Operation{OpRead}, ev.AllowedOperations(viewer, EntityStudent))
	assert.Equal(t, []Operation{OpRead, OpCreate, OpUpdate}, ev.AllowedOperations(user, EntityStudent))
	assert.Equal(t, []Operation{OpRead, OpCreate, OpUpdate, OpDelete}, ev.AllowedOperations(admin, EntityUser))
	assert.Empty(t, ev.AllowedOperations(viewer, EntityAudit))
	assert.Nil(t, ev.AllowedOperations(nil, EntityStudent))
}

func TestObserverSeesDecisions(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []Decision
	)
	ev := NewEvaluator(nil, WithObserver(func(d Decision) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, d)
	}))

	ev.CheckEntity(user, "student", "delete")
	ev.CheckRoute(nil, "/audit")
	ev.CheckEntity(user, "grade", "read")

	require.Len(t, seen, 2)
	assert.Equal(t, Decision{Entity: EntityStudent, Operation: OpDelete, Role: RoleUser}, seen[0])
	assert.Equal(t, Decision{Route: "/audit", Anonymous: true}, seen[1])
}

func TestEvaluatorIsDeterministicUnderConcurrency(t *testing.T) {
	ev := NewEvaluator(nil)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if !ev.CheckEntity(viewer, "intervention", "update") || ev.CheckEntity(viewer, "student", "delete") {
					t.Error("unexpected verdict")
					return
				}
			}
		}()
	}
	wg.Wait()
}
