package rbac

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

var ErrEmptyAction = errors.New("action is empty")

// Matrix maps each declared action to the roles allowed to perform it. It is
// read-only once built.
type Matrix struct {
	entries map[Action]map[Role]struct{}
	order   []Action
}

// Entry declares the roles allowed to perform one action.
type Entry struct {
	Action Action
	Roles  []Role
}

var defaultEntries = []Entry{
	{ActionViewDashboard, []Role{RoleAdmin, RoleSupervisor, RoleAnalyst, RoleViewer}},
	{ActionViewAlerts, []Role{RoleAdmin, RoleSupervisor, RoleAnalyst, RoleViewer}},
	{ActionExportAlerts, []Role{RoleAdmin, RoleSupervisor}},
	{ActionEscalateAlerts, []Role{RoleSupervisor}},
	{ActionUploadTransactions, []Role{RoleAdmin, RoleAnalyst}},
	{ActionCreateUser, []Role{RoleAdmin}},
	{ActionManageUsers, []Role{RoleAdmin}},
	{ActionViewUsers, []Role{RoleAdmin, RoleSupervisor}},
	{ActionGenerateReport, []Role{RoleAdmin, RoleSupervisor}},
	{ActionSystemSettings, []Role{RoleAdmin}},
	{ActionViewRiskAssessment, []Role{RoleAnalyst, RoleSupervisor}},
}

var defaultMatrix = func() *Matrix {
	m := &Matrix{entries: make(map[Action]map[Role]struct{}, len(defaultEntries))}
	for _, e := range defaultEntries {
		m.set(e.Action, e.Roles)
	}
	return m
}()

// DefaultMatrix returns the console's built-in permission matrix.
func DefaultMatrix() *Matrix {
	return defaultMatrix
}

// NewMatrix validates entries and builds a matrix from them. Every action
// must map to a non-empty set of roles from the closed role set. A map has no
// order, so Actions of the result come back sorted; use NewMatrixFromEntries
// to keep a declaration order.
func NewMatrix(entries map[Action][]Role) (*Matrix, error) {
	ordered := make([]Entry, 0, len(entries))
	for _, action := range slices.Sorted(maps.Keys(entries)) {
		ordered = append(ordered, Entry{Action: action, Roles: entries[action]})
	}
	return NewMatrixFromEntries(ordered)
}

// NewMatrixFromEntries is NewMatrix for an ordered declaration. Actions of the
// result follow the first appearance of each action; repeated actions merge
// their roles.
func NewMatrixFromEntries(entries []Entry) (*Matrix, error) {
	m := &Matrix{entries: make(map[Action]map[Role]struct{}, len(entries))}

	for _, e := range entries {
		if e.Action == "" {
			return nil, ErrEmptyAction
		}
		if len(e.Roles) == 0 {
			return nil, fmt.Errorf(`%w: action "%s" has no roles`, ErrInvalidRole, e.Action)
		}
		for _, role := range e.Roles {
			if !role.Valid() {
				return nil, fmt.Errorf(`%w: action "%s" lists role "%s"`, ErrInvalidRole, e.Action, role)
			}
		}
		m.set(e.Action, e.Roles)
	}
	return m, nil
}

func (m *Matrix) set(action Action, allowed []Role) {
	set, ok := m.entries[action]
	if !ok {
		set = make(map[Role]struct{}, len(allowed))
		m.entries[action] = set
		m.order = append(m.order, action)
	}
	for _, role := range allowed {
		set[role] = struct{}{}
	}
}

func (m *Matrix) Has(action Action) bool {
	_, ok := m.entries[action]
	return ok
}

// Contains reports whether role is listed for action. Both must already be
// canonical; unknown actions and RoleNone are never contained.
func (m *Matrix) Contains(action Action, role Role) bool {
	set, ok := m.entries[action]
	if !ok {
		return false
	}
	_, ok = set[role]
	return ok
}

// Allowed returns the roles of action in closed-set order, nil for unknown
// actions.
func (m *Matrix) Allowed(action Action) []Role {
	set, ok := m.entries[action]
	if !ok {
		return nil
	}
	allowed := make([]Role, 0, len(set))
	for _, role := range roles {
		if _, ok := set[role]; ok {
			allowed = append(allowed, role)
		}
	}
	return allowed
}

// Actions returns the declared actions in declaration order.
func (m *Matrix) Actions() []Action {
	return slices.Clone(m.order)
}
