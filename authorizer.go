package rbac

import (
	"context"
	"errors"
	"fmt"
)

var ErrDeny = errors.New("deny")

// Subject is whoever holds the console session. Role may be in any textual
// form; it is normalized before every decision.
type Subject interface {
	Identifier() string
	Role() string
}

type Claims struct {
	Subject  Subject
	Metadata map[string]any
}

// Role returns the canonical role of the subject, RoleNone when there is
// none.
func (c *Claims) Role() Role {
	if c == nil || c.Subject == nil {
		return RoleNone
	}
	return NormalizeRole(c.Subject.Role())
}

func (c *Claims) identifier() string {
	if c == nil || c.Subject == nil {
		return ""
	}
	return c.Subject.Identifier()
}

// Target is the action a subject asks to perform, with any extra predicates
// that must also hold.
type Target struct {
	Action     Action
	Assertions []Assertion
	Metadata   map[string]any
}

func (t *Target) reset() {
	*t = Target{}
}

type Decision int8

const (
	DecisionDeny Decision = iota + 1
	DecisionAllow
)

func (d Decision) Allowed() bool {
	return d == DecisionAllow
}

func (d Decision) String() string {
	switch d {
	case DecisionDeny:
		return "deny"
	case DecisionAllow:
		return "allow"
	default:
		return "unknown"
	}
}

type Authorizer interface {
	Authorize(ctx context.Context, claims *Claims, target *Target) (Decision, error)
}

type AuthorizerFunc func(ctx context.Context, claims *Claims, target *Target) (Decision, error)

func (f AuthorizerFunc) Authorize(ctx context.Context, claims *Claims, target *Target) (Decision, error) {
	return f(ctx, claims, target)
}

// DefaultAuthorizer decides with the RBAC matrix. Every deny carries
// ErrDeny, wrapped with the reason when there is one.
type DefaultAuthorizer struct {
	rbac *RBAC
}

func NewDefaultAuthorizer(rbac *RBAC) *DefaultAuthorizer {
	return &DefaultAuthorizer{rbac: rbac}
}

func (a *DefaultAuthorizer) Authorize(ctx context.Context, claims *Claims, target *Target) (Decision, error) {
	if target == nil || target.Action == "" {
		return DecisionDeny, fmt.Errorf("%w: no target action", ErrDeny)
	}

	role := claims.Role()
	if role == RoleNone {
		return DecisionDeny, fmt.Errorf("%w: %s: %w", ErrDeny, claims.identifier(), ErrInvalidRole)
	}

	granted, err := a.rbac.IsGrantedE(ctx, role, target.Action, target.Assertions...)
	switch {
	case err != nil:
		return DecisionDeny, fmt.Errorf("%w: %s: %w", ErrDeny, claims.identifier(), err)
	case !granted:
		return DecisionDeny, ErrDeny
	default:
		return DecisionAllow, nil
	}
}
