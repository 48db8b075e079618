package rbac

import (
	"fmt"
	"strings"
)

// RolePrefix is prepended to every canonical role tag.
const RolePrefix = "ROLE_"

// Role is a canonical role tag such as "ROLE_ADMIN". The zero value is the
// absence of a role.
type Role string

const (
	RoleNone       Role = ""
	RoleAdmin      Role = "ROLE_ADMIN"
	RoleSupervisor Role = "ROLE_SUPERVISOR"
	RoleAnalyst    Role = "ROLE_ANALYST"
	RoleViewer     Role = "ROLE_VIEWER"
)

var roles = []Role{RoleAdmin, RoleSupervisor, RoleAnalyst, RoleViewer}

// Roles returns the closed role set in declaration order.
func Roles() []Role {
	return append(make([]Role, 0, len(roles)), roles...)
}

// NormalizeRole canonicalizes any textual role representation ("admin",
// "ADMIN", "role_admin", "ROLE_ADMIN"). Empty and unrecognized input yields
// RoleNone.
func NormalizeRole(raw string) Role {
	r := strings.ToUpper(strings.TrimSpace(raw))
	if r == "" {
		return RoleNone
	}
	if !strings.HasPrefix(r, RolePrefix) {
		r = RolePrefix + r
	}
	if role := Role(r); role.Valid() {
		return role
	}
	return RoleNone
}

func ParseRole(raw string) (Role, error) {
	if role := NormalizeRole(raw); role != RoleNone {
		return role, nil
	}
	return RoleNone, fmt.Errorf(`%w: "%s" is not one of %v`, ErrInvalidRole, raw, roles)
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleSupervisor, RoleAnalyst, RoleViewer:
		return true
	default:
		return false
	}
}

func (r Role) String() string {
	return string(r)
}

// Name returns the lowercase role name without the prefix, e.g. "admin".
func (r Role) Name() string {
	return strings.ToLower(strings.TrimPrefix(string(r), RolePrefix))
}

// DashboardPath is the landing page of the role, e.g. "/admin/dashboard".
// Login redirects and guard role-mismatch redirects both go through it.
func (r Role) DashboardPath() string {
	if !r.Valid() {
		return ""
	}
	return "/" + r.Name() + "/dashboard"
}
