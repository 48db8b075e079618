// Package session holds the console's process-wide authentication state. The
// state is replaced as a whole on every transition, so readers always see a
// consistent snapshot.
package session

import (
	"github.com/gowool/aml-rbac"
	"github.com/gowool/aml-rbac/token"
)

type User struct {
	Username string
	Name     string
	Role     rbac.Role
}

// Session is an immutable snapshot of the authentication state.
type Session struct {
	ID            string
	Authenticated bool
	Token         string
	User          User
	Claims        *token.Claims
	Loading       bool
	Error         string
}

// Role returns the canonical role of the session, RoleNone when
// unauthenticated.
func (s Session) Role() rbac.Role {
	if !s.Authenticated {
		return rbac.RoleNone
	}
	return s.User.Role
}

// Subject adapts the session for rbac authorizers.
func (s Session) Subject() rbac.Subject {
	return subject{username: s.User.Username, role: s.Role()}
}

// RBACClaims returns rbac claims carrying the session subject.
func (s Session) RBACClaims() *rbac.Claims {
	return &rbac.Claims{
		Subject:  s.Subject(),
		Metadata: map[string]any{"session": s.ID},
	}
}

type subject struct {
	username string
	role     rbac.Role
}

func (s subject) Identifier() string {
	return s.username
}

func (s subject) Role() string {
	return s.role.String()
}

var unauthenticated = Session{}

// Reason explains why a session was destroyed.
type Reason string

const (
	ReasonLogout       Reason = "logout"
	ReasonExpired      Reason = "expired"
	ReasonUnauthorized Reason = "unauthorized"
)

// LoginResult is the outcome of a successful backend login.
type LoginResult struct {
	Token    string
	Username string
	Name     string
	// Role is the raw role claim as returned by the backend.
	Role string
}
