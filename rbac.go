package rbac

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidRole   = errors.New("role must be one of the console roles")
	ErrUnknownAction = errors.New("action not declared in the permission matrix")
)

type Assertion interface {
	Assert(ctx context.Context, role Role, action Action) bool
}

type AssertionFunc func(ctx context.Context, role Role, action Action) bool

func (f AssertionFunc) Assert(ctx context.Context, role Role, action Action) bool {
	return f(ctx, role, action)
}

type AuthorizationChecker interface {
	CanAccess(role string, action Action) bool
	IsGranted(ctx context.Context, role any, action Action, assertions ...Assertion) bool
}

var _ AuthorizationChecker = (*RBAC)(nil)

// RBAC answers access questions against a permission matrix. Unknown actions
// and absent roles are always denied.
type RBAC struct {
	matrix *Matrix
}

func New() *RBAC {
	return &RBAC{matrix: DefaultMatrix()}
}

func NewWithMatrix(matrix *Matrix) *RBAC {
	if matrix == nil {
		matrix = DefaultMatrix()
	}
	return &RBAC{matrix: matrix}
}

func (rbac *RBAC) Matrix() *Matrix {
	return rbac.matrix
}

// CanAccess normalizes role and reports whether it may perform action.
func (rbac *RBAC) CanAccess(role string, action Action) bool {
	return rbac.matrix.Contains(action, NormalizeRole(role))
}

func (rbac *RBAC) IsGranted(ctx context.Context, role any, action Action, assertions ...Assertion) bool {
	granted, err := rbac.IsGrantedE(ctx, role, action, assertions...)
	return granted && err == nil
}

func (rbac *RBAC) IsGrantedE(ctx context.Context, role any, action Action, assertions ...Assertion) (granted bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			granted = false
			var ok bool
			if err, ok = rec.(error); !ok {
				err = fmt.Errorf("%v", rec)
			}
		}
	}()

	if !rbac.matrix.Has(action) {
		return false, fmt.Errorf(`%w: "%s"`, ErrUnknownAction, action)
	}

	r, err := roleOf(role)
	if err != nil {
		return false, err
	}

	if !rbac.matrix.Contains(action, r) {
		return false, nil
	}

	for _, assertion := range assertions {
		if ok := assertion.Assert(ctx, r, action); !ok {
			return false, nil
		}
	}

	return true, nil
}

func roleOf(role any) (Role, error) {
	var r Role
	switch role := role.(type) {
	case string:
		r = NormalizeRole(role)
	case Role:
		r = NormalizeRole(string(role))
	case fmt.Stringer:
		r = NormalizeRole(role.String())
	default:
		return RoleNone, ErrInvalidRole
	}
	if r == RoleNone {
		return RoleNone, fmt.Errorf(`%w: "%v"`, ErrInvalidRole, role)
	}
	return r, nil
}

// CanAccess checks role and action against the default matrix.
func CanAccess(role string, action Action) bool {
	return DefaultMatrix().Contains(action, NormalizeRole(role))
}
