package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeRole(t *testing.T) {
	tests := []struct {
		raw  string
		want Role
	}{
		{"admin", RoleAdmin},
		{"ADMIN", RoleAdmin},
		{"role_admin", RoleAdmin},
		{"ROLE_ADMIN", RoleAdmin},
		{"Supervisor", RoleSupervisor},
		{"ROLE_analyst", RoleAnalyst},
		{" viewer ", RoleViewer},
		{"", RoleNone},
		{"   ", RoleNone},
		{"auditor", RoleNone},
		{"ROLE_", RoleNone},
		{"ROLE_ROLE_ADMIN", RoleNone},
		{"ADMINISTRATOR", RoleNone},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeRole(tt.raw), "raw %q", tt.raw)
	}
}

func TestNormalizeRole_Idempotent(t *testing.T) {
	for _, raw := range []string{"admin", "Role_Supervisor", "ANALYST", "viewer", "unknown", ""} {
		once := NormalizeRole(raw)
		assert.Equal(t, once, NormalizeRole(once.String()), "raw %q", raw)
	}
}

func TestNormalizeRole_CaseAndPrefixInsensitive(t *testing.T) {
	for _, role := range Roles() {
		name := role.Name()
		assert.Equal(t, role, NormalizeRole(name))
		assert.Equal(t, NormalizeRole(name), NormalizeRole(RolePrefix+name))
		assert.Equal(t, NormalizeRole(name), NormalizeRole(role.String()))
	}
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole("supervisor")
	assert.NoError(t, err)
	assert.Equal(t, RoleSupervisor, role)

	role, err = ParseRole("guest")
	assert.ErrorIs(t, err, ErrInvalidRole)
	assert.Equal(t, RoleNone, role)
}

func TestRole_Name(t *testing.T) {
	assert.Equal(t, "admin", RoleAdmin.Name())
	assert.Equal(t, "viewer", RoleViewer.Name())
	assert.Equal(t, "", RoleNone.Name())
}

func TestRole_DashboardPath(t *testing.T) {
	assert.Equal(t, "/admin/dashboard", RoleAdmin.DashboardPath())
	assert.Equal(t, "/supervisor/dashboard", RoleSupervisor.DashboardPath())
	assert.Equal(t, "/analyst/dashboard", RoleAnalyst.DashboardPath())
	assert.Equal(t, "/viewer/dashboard", RoleViewer.DashboardPath())
	assert.Equal(t, "", RoleNone.DashboardPath())
	assert.Equal(t, "", Role("ROLE_AUDITOR").DashboardPath())
}

func TestRoles_ReturnsCopy(t *testing.T) {
	all := Roles()
	assert.Equal(t, []Role{RoleAdmin, RoleSupervisor, RoleAnalyst, RoleViewer}, all)

	all[0] = RoleNone
	assert.Equal(t, RoleAdmin, Roles()[0])
}
