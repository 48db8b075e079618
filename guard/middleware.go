package guard

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/gowool/aml-rbac"
	"github.com/gowool/aml-rbac/session"
)

type sessionKey struct{}

// WithSession attaches the session snapshot a request was authorized with.
func WithSession(ctx context.Context, sess session.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

func CtxSession(ctx context.Context) (session.Session, bool) {
	sess, ok := ctx.Value(sessionKey{}).(session.Session)
	return sess, ok
}

type Option func(*Guard)

func WithLogger(logger *zap.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(g *Guard) {
		g.metrics = metrics
	}
}

// WithLoadingHandler replaces the page served while a login is in flight.
func WithLoadingHandler(h http.Handler) Option {
	return func(g *Guard) {
		if h != nil {
			g.loading = h
		}
	}
}

// Guard protects console screens with verdicts computed from the store's
// current session on every request.
type Guard struct {
	store   *session.Store
	checker rbac.AuthorizationChecker
	logger  *zap.Logger
	metrics *Metrics
	loading http.Handler
}

func New(store *session.Store, checker rbac.AuthorizationChecker, opts ...Option) *Guard {
	g := &Guard{
		store:   store,
		checker: checker,
		logger:  zap.NewNop(),
		loading: http.HandlerFunc(loadingPage),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.Named("guard")
	return g
}

// Verdict evaluates req against the current session.
func (g *Guard) Verdict(req Requirement) (Verdict, session.Session) {
	sess := g.store.Snapshot()
	return Evaluate(g.checker, sess, req, g.store.Now()), sess
}

// Protect returns a middleware enforcing req.
func (g *Guard) Protect(req Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			verdict, sess := g.Verdict(req)
			g.metrics.observe(verdict.State)

			switch verdict.State {
			case StateLoading:
				g.loading.ServeHTTP(w, r)
			case StateUnauthenticated:
				if sess.Authenticated {
					g.store.Expire(r.Context())
				}
				http.Redirect(w, r, verdict.Redirect, http.StatusFound)
			case StateRoleMismatch:
				g.logger.Debug("role mismatch",
					zap.String("path", r.URL.Path),
					zap.Stringer("role", sess.Role()),
					zap.Stringer("requiredRole", req.Role),
					zap.Stringer("requiredAction", req.Action),
				)
				http.Redirect(w, r, verdict.Redirect, http.StatusFound)
			default:
				ctx := WithSession(r.Context(), sess)
				ctx = rbac.WithClaims(ctx, sess.RBACClaims())
				next.ServeHTTP(w, r.WithContext(ctx))
			}
		})
	}
}

// Authenticated enforces a valid session without any role requirement.
func (g *Guard) Authenticated() func(http.Handler) http.Handler {
	return g.Protect(Requirement{})
}

const loadingHTML = `<!doctype html>
<html><head><meta http-equiv="refresh" content="1"><title>Loading</title></head>
<body><p>Loading&hellip;</p></body></html>
`

func loadingPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Retry-After", "1")
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte(loadingHTML))
}
