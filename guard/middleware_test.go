package guard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"github.com/gowool/aml-rbac"
	"github.com/gowool/aml-rbac/session"
	"github.com/gowool/aml-rbac/tokenstore"
)

type middlewareSuit struct {
	suite.Suite
	clock   time.Time
	storage *tokenstore.Memory
	store   *session.Store
	metrics *Metrics
	guard   *Guard
}

func TestMiddlewareSuite(t *testing.T) {
	s := new(middlewareSuit)
	suite.Run(t, s)
}

func (s *middlewareSuit) SetupTest() {
	s.clock = now
	s.storage = tokenstore.NewMemory()
	s.store = session.NewStore(s.storage, session.WithClock(func() time.Time { return s.clock }))
	s.metrics = NewMetrics(prometheus.NewRegistry())
	s.guard = New(s.store, rbac.New(), WithMetrics(s.metrics))
}

func (s *middlewareSuit) login(role string) {
	ticket := s.store.LoginStart()
	s.Require().NoError(s.store.LoginSuccess(context.Background(), ticket, session.LoginResult{
		Token: signToken(s.T(), role, s.clock.Add(time.Hour)),
	}))
}

func (s *middlewareSuit) serve(req Requirement) (*httptest.ResponseRecorder, *http.Request) {
	var reached *http.Request
	handler := s.guard.Protect(req)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = r
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/protected", nil))
	return rec, reached
}

func (s *middlewareSuit) TestAuthorized() {
	s.login("admin")

	rec, reached := s.serve(RequireRole("ADMIN"))
	s.Equal(http.StatusOK, rec.Code)
	s.Require().NotNil(reached)

	sess, ok := CtxSession(reached.Context())
	s.True(ok)
	s.Equal(rbac.RoleAdmin, sess.Role())
	s.Equal(rbac.RoleAdmin, rbac.CtxRole(reached.Context()))
}

func (s *middlewareSuit) TestUnauthenticated() {
	rec, reached := s.serve(Requirement{})
	s.Nil(reached)
	s.Equal(http.StatusFound, rec.Code)
	s.Equal(LoginPath, rec.Header().Get("Location"))
}

func (s *middlewareSuit) TestRoleMismatch() {
	s.login("viewer")

	rec, reached := s.serve(RequireRole("ADMIN"))
	s.Nil(reached)
	s.Equal(http.StatusFound, rec.Code)
	s.Equal("/viewer/dashboard", rec.Header().Get("Location"))
}

func (s *middlewareSuit) TestLoading() {
	s.store.LoginStart()

	rec, reached := s.serve(Requirement{})
	s.Nil(reached)
	s.Equal(http.StatusServiceUnavailable, rec.Code)
	s.Equal("1", rec.Header().Get("Retry-After"))
}

func (s *middlewareSuit) TestCustomLoadingHandler() {
	s.guard = New(s.store, rbac.New(), WithLoadingHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})))
	s.store.LoginStart()

	rec, _ := s.serve(Requirement{})
	s.Equal(http.StatusAccepted, rec.Code)
}

func (s *middlewareSuit) TestExpiryLogsOut() {
	s.login("admin")
	s.clock = s.clock.Add(2 * time.Hour)

	rec, reached := s.serve(RequireRole("ADMIN"))
	s.Nil(reached)
	s.Equal(LoginPath, rec.Header().Get("Location"))

	s.False(s.store.Snapshot().Authenticated)
	_, err := s.storage.Load(context.Background())
	s.ErrorIs(err, tokenstore.ErrNotFound)
}

func (s *middlewareSuit) TestVerdictRecomputedPerRequest() {
	s.login("analyst")

	rec, _ := s.serve(Requirement{})
	s.Equal(http.StatusOK, rec.Code)

	s.store.Logout(context.Background(), session.ReasonLogout)

	rec, _ = s.serve(Requirement{})
	s.Equal(http.StatusFound, rec.Code)
}

func (s *middlewareSuit) TestAuthenticated() {
	s.login("viewer")

	var reached bool
	handler := s.guard.Authenticated()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		reached = true
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	s.True(reached)
}

func (s *middlewareSuit) TestMetrics() {
	s.serve(Requirement{})
	s.login("viewer")
	s.serve(Requirement{})
	s.serve(RequireRole("ADMIN"))

	s.Equal(1.0, testutil.ToFloat64(s.metrics.decisions.WithLabelValues("unauthenticated")))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.decisions.WithLabelValues("authorized")))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.decisions.WithLabelValues("role_mismatch")))
}

func (s *middlewareSuit) TestGuardVerdict() {
	s.login("supervisor")

	v, sess := s.guard.Verdict(RequireAction(rbac.ActionEscalateAlerts))
	s.Equal(StateAuthorized, v.State)
	s.Equal(rbac.RoleSupervisor, sess.Role())
}
