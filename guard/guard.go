// Package guard decides whether a protected console screen may render for
// the current session, and where to send the operator when it may not.
package guard

import (
	"strings"
	"sync"
	"time"

	"github.com/gowool/aml-rbac"
	"github.com/gowool/aml-rbac/session"
	"github.com/gowool/aml-rbac/token"
)

// LoginPath is the login entry point.
const LoginPath = "/login"

type State int8

const (
	StateLoading State = iota + 1
	StateUnauthenticated
	StateRoleMismatch
	StateAuthorized
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateRoleMismatch:
		return "role_mismatch"
	case StateAuthorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// Requirement describes what a screen demands beyond authentication. The zero
// value only requires a valid session.
type Requirement struct {
	Role   rbac.Role
	Action rbac.Action
}

// RequireRole accepts any textual role form, e.g. "ADMIN". An unrecognized
// role is kept as given so that no session satisfies it.
func RequireRole(role string) Requirement {
	if r := rbac.NormalizeRole(role); r != rbac.RoleNone {
		return Requirement{Role: r}
	}
	return Requirement{Role: rbac.Role(strings.TrimSpace(role))}
}

func RequireAction(action rbac.Action) Requirement {
	return Requirement{Action: action}
}

func (r Requirement) restricted() bool {
	return r.Role != rbac.RoleNone || r.Action != ""
}

type Verdict struct {
	State    State
	Redirect string
}

// Evaluate computes the verdict for sess at now. It never consults earlier
// verdicts.
//
// A loading session waits. An unauthenticated session, or one whose token is
// expired or undecodable, goes to the login page. A session that lacks the
// required role or action goes to its own dashboard.
func Evaluate(checker rbac.AuthorizationChecker, sess session.Session, req Requirement, now time.Time) Verdict {
	if sess.Loading {
		return Verdict{State: StateLoading}
	}

	if !sess.Authenticated || token.Expired(sess.Token, now) {
		return Verdict{State: StateUnauthenticated, Redirect: LoginPath}
	}

	role := sess.Role()
	if role == rbac.RoleNone {
		return Verdict{State: StateUnauthenticated, Redirect: LoginPath}
	}

	if req.restricted() && !satisfies(checker, role, req) {
		return Verdict{State: StateRoleMismatch, Redirect: role.DashboardPath()}
	}

	return Verdict{State: StateAuthorized}
}

func satisfies(checker rbac.AuthorizationChecker, role rbac.Role, req Requirement) bool {
	if req.Role != rbac.RoleNone && rbac.NormalizeRole(req.Role.String()) != role {
		return false
	}
	if req.Action != "" && !checker.CanAccess(role.String(), req.Action) {
		return false
	}
	return true
}

// Watch recomputes the verdict for req on every session transition of store
// and hands it to fn, starting with the current session. Calls to fn are
// serialized and always evaluate the latest session, so the last verdict fn
// received is never older than the store. fn must not change the session.
func Watch(store *session.Store, checker rbac.AuthorizationChecker, req Requirement, fn func(Verdict)) (cancel func()) {
	var mu sync.Mutex
	emit := func() {
		mu.Lock()
		defer mu.Unlock()
		fn(Evaluate(checker, store.Snapshot(), req, store.Now()))
	}

	cancel = store.Subscribe(func(session.Session) {
		emit()
	})
	emit()
	return cancel
}
