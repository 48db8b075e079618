package rbac

import "context"

type (
	claimsKey      struct{}
	targetKey      struct{}
	assertionsKey  struct{}
	requestInfoKey struct{}
)

func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// CtxClaims returns the claims of the authorized subject, nil when the
// request was never authorized.
func CtxClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey{}).(*Claims)
	return claims
}

// CtxRole returns the canonical role of the subject in ctx.
func CtxRole(ctx context.Context) Role {
	return CtxClaims(ctx).Role()
}

// WithTarget pins the action a request is authorized for, overriding any
// action resolver.
func WithTarget(ctx context.Context, target *Target) context.Context {
	return context.WithValue(ctx, targetKey{}, target)
}

func CtxTarget(ctx context.Context) *Target {
	target, _ := ctx.Value(targetKey{}).(*Target)
	return target
}

func WithAssertions(ctx context.Context, assertions ...Assertion) context.Context {
	return context.WithValue(ctx, assertionsKey{}, assertions)
}

// CtxAssertions returns a copy of the assertions in ctx.
func CtxAssertions(ctx context.Context) []Assertion {
	assertions, _ := ctx.Value(assertionsKey{}).([]Assertion)
	if len(assertions) == 0 {
		return nil
	}
	return append([]Assertion(nil), assertions...)
}

func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

func CtxRequestInfo(ctx context.Context) RequestInfo {
	info, _ := ctx.Value(requestInfoKey{}).(RequestInfo)
	return info
}
