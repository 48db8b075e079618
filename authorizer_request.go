package rbac

import (
	"net/http"
	"net/url"
	"sync"
)

// RequestInfo is the part of an HTTP request visible to authorizers and
// assertions through CtxRequestInfo.
type RequestInfo struct {
	Method     string
	Host       string
	RequestURI string
	Pattern    string
	RemoteAddr string
	Header     http.Header
	URL        url.URL
	IsTLS      bool
}

func requestInfo(r *http.Request) RequestInfo {
	return RequestInfo{
		Method:     r.Method,
		Host:       r.Host,
		RequestURI: r.RequestURI,
		Pattern:    r.Pattern,
		RemoteAddr: r.RemoteAddr,
		Header:     r.Header,
		URL:        *r.URL,
		IsTLS:      r.TLS != nil,
	}
}

// ActionResolver lists the actions that would each justify a request.
type ActionResolver func(*http.Request) []Action

var targets = sync.Pool{
	New: func() any {
		return new(Target)
	},
}

// RequestAuthorizer returns a request check that passes when the claims in
// the request context are granted the pinned context target, or else any
// action from actions. With neither the request is denied.
func RequestAuthorizer(authorizer Authorizer, actions ActionResolver) func(*http.Request) error {
	if actions == nil {
		actions = noActions
	}

	return func(r *http.Request) error {
		ctx := WithRequestInfo(r.Context(), requestInfo(r))
		claims := CtxClaims(ctx)
		assertions := CtxAssertions(ctx)

		target := targets.Get().(*Target)
		defer func() {
			target.reset()
			targets.Put(target)
		}()

		if pinned := CtxTarget(ctx); pinned != nil {
			target.Action = pinned.Action
			target.Metadata = pinned.Metadata
			target.Assertions = append(assertions, pinned.Assertions...)

			decision, err := authorizer.Authorize(ctx, claims, target)
			if decision.Allowed() {
				return nil
			}
			return denied(err)
		}

		var err error
		target.Assertions = assertions
		for _, action := range actions(r) {
			target.Action = action

			var decision Decision
			if decision, err = authorizer.Authorize(ctx, claims, target); decision.Allowed() {
				return nil
			}
		}
		return denied(err)
	}
}

func denied(err error) error {
	if err == nil {
		return ErrDeny
	}
	return err
}

// RequireAction is a middleware that answers 403 unless the session in the
// request context is granted action.
func RequireAction(authorizer Authorizer, action Action, assertions ...Assertion) func(http.Handler) http.Handler {
	check := RequestAuthorizer(authorizer, nil)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithTarget(r.Context(), &Target{Action: action, Assertions: assertions})
			if err := check(r.WithContext(ctx)); err != nil {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func noActions(*http.Request) []Action {
	return nil
}
