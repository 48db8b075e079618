// Package console serves the single-operator AML admin console: login,
// role dashboards, the protected screens and the authenticated backend
// proxies.
package console

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"
	"go.uber.org/zap"

	"github.com/gowool/aml-rbac"
	"github.com/gowool/aml-rbac/backend"
	"github.com/gowool/aml-rbac/guard"
	"github.com/gowool/aml-rbac/nav"
	"github.com/gowool/aml-rbac/session"
)

type Options struct {
	// LoginRate is the number of login attempts allowed per minute and client.
	LoginRate  int
	Production bool
	Metrics    http.Handler
	// Authorizer gates action-bound endpoints; it defaults to the RBAC
	// matrix.
	Authorizer rbac.Authorizer
}

type Console struct {
	store      *session.Store
	rbac       *rbac.RBAC
	authorizer rbac.Authorizer
	guard      *guard.Guard
	client     *backend.Client
	logger     *zap.Logger
	opts       Options
}

func New(store *session.Store, r *rbac.RBAC, g *guard.Guard, client *backend.Client, logger *zap.Logger, opts Options) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.LoginRate <= 0 {
		opts.LoginRate = 10
	}
	if opts.Authorizer == nil {
		opts.Authorizer = rbac.NewDefaultAuthorizer(r)
	}
	return &Console{
		store:      store,
		rbac:       r,
		authorizer: opts.Authorizer,
		guard:      g,
		client:     client,
		logger:     logger.Named("console"),
		opts:       opts,
	}
}

// Tokens is the backend.TokenSource of the console session: the session the
// request was authorized with, else the current one.
func (c *Console) Tokens(ctx context.Context) string {
	sess, ok := guard.CtxSession(ctx)
	if !ok {
		sess = c.store.Snapshot()
	}
	if !sess.Authenticated {
		return ""
	}
	return sess.Token
}

func (c *Console) Routes() http.Handler {
	r := chi.NewRouter()

	sec := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "same-origin",
		ContentSecurityPolicy: "default-src 'self'",
		IsDevelopment:         !c.opts.Production,
	})

	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		sec.Handler,
	)

	r.Get("/login", c.loginPage)
	r.With(httprate.Limit(c.opts.LoginRate, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))).
		Post("/login", c.login)
	r.Post("/logout", c.logout)

	r.With(c.guard.Authenticated()).Get("/", c.home)

	for _, role := range rbac.Roles() {
		r.With(c.guard.Protect(guard.Requirement{Role: role})).
			Get(role.DashboardPath(), c.dashboard(role))
	}

	r.Route("/ingest", func(r chi.Router) {
		r.Use(c.guard.Protect(guard.RequireAction(rbac.ActionUploadTransactions)))
		r.Get("/", c.page("Transaction Ingestion"))
		r.With(rbac.RequireAction(c.authorizer, rbac.ActionUploadTransactions)).
			Post("/", c.client.Proxy(backend.PortalAPI, c.Tokens).ServeHTTP)
	})

	r.Route("/alerts", func(r chi.Router) {
		r.Use(c.guard.Protect(guard.RequireAction(rbac.ActionViewAlerts)))
		r.Get("/", c.page("Alerts",
			c.action(rbac.ActionExportAlerts, button{Label: "Export", Method: http.MethodGet, Path: "/api/admin/alerts/export"}),
		))
		r.Get("/{id}", c.alert)
		r.With(rbac.RequireAction(c.authorizer, rbac.ActionEscalateAlerts)).
			Post("/{id}/escalate", c.escalate)
	})

	r.With(c.guard.Protect(guard.RequireAction(rbac.ActionViewRiskAssessment))).
		Get("/risk-assessment", c.page("Risk Assessment"))
	r.With(c.guard.Protect(guard.RequireAction(rbac.ActionViewUsers))).
		Get("/users", c.page("User Management",
			c.action(rbac.ActionCreateUser, button{Label: "Create user", Method: http.MethodGet, Path: "/users"}),
		))
	r.With(c.guard.Protect(guard.RequireAction(rbac.ActionGenerateReport))).
		Get("/reports", c.page("Reports"))
	r.With(c.guard.Protect(guard.RequireAction(rbac.ActionSystemSettings))).
		Get("/settings", c.page("Settings"))

	r.Route("/api", func(r chi.Router) {
		r.Use(c.guard.Authenticated())
		r.Handle("/admin/*", http.StripPrefix("/api/admin", c.client.Proxy(backend.AdminAPI, c.Tokens)))
		r.Handle("/portal/*", http.StripPrefix("/api/portal", c.client.Proxy(backend.PortalAPI, c.Tokens)))
	})

	if c.opts.Metrics != nil {
		r.Handle("/metrics", c.opts.Metrics)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/", http.StatusFound)
	})

	return r
}

// LogoutOnUnauthorized is the backend hook for 401 answers: the session the
// request was made under is over and its stored token is erased. A session
// installed since then is left alone.
func LogoutOnUnauthorized(store *session.Store) func(context.Context) {
	return func(ctx context.Context) {
		ctx = context.WithoutCancel(ctx)
		if sess, ok := guard.CtxSession(ctx); ok {
			store.LogoutSession(ctx, sess.ID, session.ReasonUnauthorized)
			return
		}
		store.Logout(ctx, session.ReasonUnauthorized)
	}
}

func (c *Console) loginPage(w http.ResponseWriter, r *http.Request) {
	sess := c.store.Snapshot()
	if v := guard.Evaluate(c.rbac, sess, guard.Requirement{}, c.store.Now()); v.State == guard.StateAuthorized {
		http.Redirect(w, r, sess.Role().DashboardPath(), http.StatusFound)
		return
	}

	c.render(w, http.StatusOK, pageData{Title: "Sign in", Error: sess.Error, Login: true})
	if sess.Error != "" {
		c.store.ClearError()
	}
}

func (c *Console) login(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.PostFormValue("username"))
	password := r.PostFormValue("password")
	if username == "" || password == "" {
		c.render(w, http.StatusBadRequest, pageData{Title: "Sign in", Error: "Username and password are required", Login: true})
		return
	}

	ctx := r.Context()
	ticket := c.store.LoginStart()

	resp, err := c.client.Login(ctx, username, password)
	if err != nil {
		status, message := loginFailure(err)
		c.logger.Info("login failed", zap.String("username", username), zap.Error(err))
		if err := c.store.LoginFailure(ctx, ticket, message); errors.Is(err, session.ErrStaleLogin) {
			http.Redirect(w, r, guard.LoginPath, http.StatusSeeOther)
			return
		}
		c.render(w, status, pageData{Title: "Sign in", Error: message, Login: true})
		c.store.ClearError()
		return
	}

	err = c.store.LoginSuccess(ctx, ticket, session.LoginResult{
		Token:    resp.Token,
		Username: resp.User.Username,
		Name:     resp.User.Name,
		Role:     resp.User.Role,
	})
	switch {
	case errors.Is(err, session.ErrStaleLogin):
		http.Redirect(w, r, guard.LoginPath, http.StatusSeeOther)
	case err != nil:
		c.logger.Warn("login rejected", zap.String("username", username), zap.Error(err))
		c.render(w, http.StatusUnauthorized, pageData{Title: "Sign in", Error: "Login failed", Login: true})
		c.store.ClearError()
	default:
		http.Redirect(w, r, c.store.Snapshot().Role().DashboardPath(), http.StatusSeeOther)
	}
}

func loginFailure(err error) (int, string) {
	var apiErr *backend.APIError
	switch {
	case errors.Is(err, backend.ErrUnavailable):
		return http.StatusServiceUnavailable, "Login service unavailable, try again later"
	case errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError && apiErr.Message != "":
		return http.StatusUnauthorized, apiErr.Message
	default:
		return http.StatusUnauthorized, "Login failed"
	}
}

func (c *Console) logout(w http.ResponseWriter, r *http.Request) {
	c.store.Logout(r.Context(), session.ReasonLogout)
	http.Redirect(w, r, guard.LoginPath, http.StatusSeeOther)
}

func (c *Console) home(w http.ResponseWriter, r *http.Request) {
	sess, _ := guard.CtxSession(r.Context())
	http.Redirect(w, r, sess.Role().DashboardPath(), http.StatusFound)
}

func (c *Console) dashboard(role rbac.Role) http.HandlerFunc {
	title := strings.ToUpper(role.Name()[:1]) + role.Name()[1:] + " Dashboard"
	return c.page(title,
		c.action(rbac.ActionUploadTransactions, button{Label: "Upload transactions", Method: http.MethodGet, Path: "/ingest"}),
		c.action(rbac.ActionGenerateReport, button{Label: "Generate report", Method: http.MethodGet, Path: "/reports"}),
		c.action(rbac.ActionManageUsers, button{Label: "Manage users", Method: http.MethodGet, Path: "/users"}),
	)
}

// gated is an inline button shown only to roles allowed action.
type gated struct {
	action rbac.Action
	button button
}

func (c *Console) action(action rbac.Action, b button) gated {
	return gated{action: action, button: b}
}

func (c *Console) buttons(role rbac.Role, candidates []gated) []button {
	visible := make([]button, 0, len(candidates))
	for _, g := range candidates {
		if c.rbac.CanAccess(role.String(), g.action) {
			visible = append(visible, g.button)
		}
	}
	return visible
}

func (c *Console) page(title string, actions ...gated) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, _ := guard.CtxSession(r.Context())
		role := sess.Role()
		c.render(w, http.StatusOK, pageData{
			Title:   title,
			User:    sess.User,
			Nav:     nav.Sidebar(c.rbac, role),
			Buttons: c.buttons(role, actions),
		})
	}
}

func (c *Console) alert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c.page("Alert "+id,
		c.action(rbac.ActionEscalateAlerts, button{Label: "Escalate", Method: http.MethodPost, Path: "/alerts/" + id + "/escalate"}),
	)(w, r)
}

func (c *Console) escalate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, _ := guard.CtxSession(r.Context())

	if err := c.client.UpdateAlertStatus(r.Context(), sess.Token, id, backend.AlertStatusEscalated); err != nil {
		if backend.Unauthorized(err) {
			http.Redirect(w, r, guard.LoginPath, http.StatusSeeOther)
			return
		}
		c.logger.Error("failed to escalate alert", zap.String("alert", id), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	c.logger.Info("alert escalated", zap.String("alert", id), zap.String("username", sess.User.Username))
	http.Redirect(w, r, "/alerts/"+id, http.StatusSeeOther)
}
