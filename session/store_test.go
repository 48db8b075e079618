package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/gowool/aml-rbac"
	"github.com/gowool/aml-rbac/token"
	"github.com/gowool/aml-rbac/tokenstore"
)

func signToken(t *testing.T, role string, exp time.Time) string {
	t.Helper()
	claims := token.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "jdoe"},
		Name:             "John Doe",
		Role:             role,
	}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return raw
}

type failingStorage struct {
	tokenstore.Storage
}

func (failingStorage) Load(context.Context) (string, error) {
	return "", errors.New("disk on fire")
}

type storeSuit struct {
	suite.Suite
	now      time.Time
	storage  *tokenstore.Memory
	registry *prometheus.Registry
	store    *Store
}

func TestStoreSuite(t *testing.T) {
	s := new(storeSuit)
	suite.Run(t, s)
}

func (s *storeSuit) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.storage = tokenstore.NewMemory()
	s.registry = prometheus.NewRegistry()
	s.store = NewStore(s.storage,
		WithClock(func() time.Time { return s.now }),
		WithMetrics(NewMetrics(s.registry)),
	)
}

func (s *storeSuit) stored() string {
	raw, err := s.storage.Load(context.Background())
	if errors.Is(err, tokenstore.ErrNotFound) {
		return ""
	}
	s.Require().NoError(err)
	return raw
}

func (s *storeSuit) login(role string) string {
	raw := signToken(s.T(), role, s.now.Add(time.Hour))
	ticket := s.store.LoginStart()
	s.Require().NoError(s.store.LoginSuccess(context.Background(), ticket, LoginResult{Token: raw, Username: "jdoe", Role: role}))
	return raw
}

func (s *storeSuit) TestInitialState() {
	sess := s.store.Snapshot()
	s.False(sess.Authenticated)
	s.False(sess.Loading)
	s.Empty(sess.Token)
	s.Equal(rbac.RoleNone, sess.Role())
}

func (s *storeSuit) TestRehydrateEmpty() {
	sess := s.store.Rehydrate(context.Background())
	s.False(sess.Authenticated)
}

func (s *storeSuit) TestRehydrateValidToken() {
	raw := signToken(s.T(), "supervisor", s.now.Add(time.Hour))
	s.Require().NoError(s.storage.Save(context.Background(), raw))

	sess := s.store.Rehydrate(context.Background())
	s.True(sess.Authenticated)
	s.Equal(raw, sess.Token)
	s.Equal(rbac.RoleSupervisor, sess.Role())
	s.Equal("jdoe", sess.User.Username)
	s.Equal("John Doe", sess.User.Name)
	s.NotEmpty(sess.ID)
	s.Equal(sess, s.store.Snapshot())
}

func (s *storeSuit) TestRehydrateErasesUnusableTokens() {
	for name, raw := range map[string]string{
		"expired":     signToken(s.T(), "admin", s.now.Add(-time.Second)),
		"no expiry":   signToken(s.T(), "admin", time.Time{}),
		"undecodable": "garbage",
		"no role":     signToken(s.T(), "", s.now.Add(time.Hour)),
		"bad role":    signToken(s.T(), "auditor", s.now.Add(time.Hour)),
	} {
		s.Require().NoError(s.storage.Save(context.Background(), raw))

		sess := s.store.Rehydrate(context.Background())
		s.False(sess.Authenticated, name)
		s.Empty(s.stored(), name)
	}
}

func (s *storeSuit) TestRehydrateStorageFailure() {
	store := NewStore(failingStorage{Storage: s.storage})
	s.False(store.Rehydrate(context.Background()).Authenticated)
}

func (s *storeSuit) TestLoginStart() {
	s.store.LoginStart()

	sess := s.store.Snapshot()
	s.True(sess.Loading)
	s.False(sess.Authenticated)
	s.Empty(sess.Error)
}

func (s *storeSuit) TestLoginSuccess() {
	raw := s.login("ROLE_ANALYST")

	sess := s.store.Snapshot()
	s.True(sess.Authenticated)
	s.False(sess.Loading)
	s.Empty(sess.Error)
	s.Equal(raw, sess.Token)
	s.Equal(rbac.RoleAnalyst, sess.Role())
	s.Equal(raw, s.stored())
}

func (s *storeSuit) TestLoginSuccessResultRoleWins() {
	raw := signToken(s.T(), "viewer", s.now.Add(time.Hour))
	ticket := s.store.LoginStart()

	err := s.store.LoginSuccess(context.Background(), ticket, LoginResult{Token: raw, Username: "boss", Name: "The Boss", Role: "ADMIN"})
	s.NoError(err)

	sess := s.store.Snapshot()
	s.Equal(rbac.RoleAdmin, sess.Role())
	s.Equal(User{Username: "boss", Name: "The Boss", Role: rbac.RoleAdmin}, sess.User)
}

func (s *storeSuit) TestLoginSuccessInvalidToken() {
	s.Require().NoError(s.storage.Save(context.Background(), "previous"))

	ticket := s.store.LoginStart()
	err := s.store.LoginSuccess(context.Background(), ticket, LoginResult{Token: "garbage", Role: "admin"})
	s.ErrorIs(err, ErrInvalidToken)

	sess := s.store.Snapshot()
	s.False(sess.Authenticated)
	s.False(sess.Loading)
	s.NotEmpty(sess.Error)
	s.Empty(s.stored())
}

func (s *storeSuit) TestLoginSuccessExpiredToken() {
	ticket := s.store.LoginStart()
	err := s.store.LoginSuccess(context.Background(), ticket, LoginResult{
		Token: signToken(s.T(), "admin", s.now.Add(-time.Minute)),
	})
	s.ErrorIs(err, ErrInvalidToken)
	s.False(s.store.Snapshot().Authenticated)
}

func (s *storeSuit) TestLoginSuccessUnknownRole() {
	ticket := s.store.LoginStart()
	err := s.store.LoginSuccess(context.Background(), ticket, LoginResult{
		Token: signToken(s.T(), "auditor", s.now.Add(time.Hour)),
		Role:  "auditor",
	})
	s.ErrorIs(err, rbac.ErrInvalidRole)
	s.False(s.store.Snapshot().Authenticated)
	s.Empty(s.stored())
}

func (s *storeSuit) TestLoginFailure() {
	s.Require().NoError(s.storage.Save(context.Background(), "previous"))

	ticket := s.store.LoginStart()
	s.NoError(s.store.LoginFailure(context.Background(), ticket, "Invalid credentials"))

	sess := s.store.Snapshot()
	s.False(sess.Authenticated)
	s.False(sess.Loading)
	s.Equal("Invalid credentials", sess.Error)
	s.Empty(s.stored())
}

func (s *storeSuit) TestStaleLoginAfterLogout() {
	ctx := context.Background()
	ticket := s.store.LoginStart()

	s.store.Logout(ctx, ReasonLogout)

	err := s.store.LoginSuccess(ctx, ticket, LoginResult{Token: signToken(s.T(), "admin", s.now.Add(time.Hour))})
	s.ErrorIs(err, ErrStaleLogin)
	s.False(s.store.Snapshot().Authenticated)
	s.Empty(s.stored())

	s.ErrorIs(s.store.LoginFailure(ctx, ticket, "late"), ErrStaleLogin)
	s.Empty(s.store.Snapshot().Error)
}

func (s *storeSuit) TestStaleLoginSuperseded() {
	ctx := context.Background()
	first := s.store.LoginStart()
	second := s.store.LoginStart()

	s.ErrorIs(s.store.LoginFailure(ctx, first, "late"), ErrStaleLogin)
	s.True(s.store.Snapshot().Loading)

	s.NoError(s.store.LoginSuccess(ctx, second, LoginResult{Token: signToken(s.T(), "viewer", s.now.Add(time.Hour))}))
	s.Equal(rbac.RoleViewer, s.store.Snapshot().Role())
}

func (s *storeSuit) TestTicketCompletesOnce() {
	ctx := context.Background()
	ticket := s.store.LoginStart()

	s.NoError(s.store.LoginSuccess(ctx, ticket, LoginResult{Token: signToken(s.T(), "viewer", s.now.Add(time.Hour))}))
	s.ErrorIs(s.store.LoginFailure(ctx, ticket, "replayed"), ErrStaleLogin)
	s.True(s.store.Snapshot().Authenticated)
}

func (s *storeSuit) TestLogout() {
	s.login("admin")

	s.store.Logout(context.Background(), ReasonLogout)

	sess := s.store.Snapshot()
	s.False(sess.Authenticated)
	s.Empty(sess.Token)
	s.Empty(s.stored())
}

func (s *storeSuit) TestExpire() {
	ctx := context.Background()
	s.False(s.store.Expire(ctx))

	s.login("admin")
	s.False(s.store.Expire(ctx))
	s.True(s.store.Snapshot().Authenticated)

	s.now = s.now.Add(time.Hour)
	s.True(s.store.Expire(ctx))
	s.False(s.store.Snapshot().Authenticated)
	s.Empty(s.stored())
}

func (s *storeSuit) TestClearError() {
	ticket := s.store.LoginStart()
	s.Require().NoError(s.store.LoginFailure(context.Background(), ticket, "nope"))

	s.store.ClearError()
	s.Empty(s.store.Snapshot().Error)

	// no transition without an error
	s.store.ClearError()
	s.Equal(1.0, testutil.ToFloat64(s.store.metrics.transitions.WithLabelValues("clear_error")))
}

func (s *storeSuit) TestSubscribe() {
	var (
		mu   sync.Mutex
		seen []Session
	)
	cancel := s.store.Subscribe(func(sess Session) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, sess)
	})

	s.login("supervisor")

	mu.Lock()
	s.Len(seen, 2)
	s.True(seen[0].Loading)
	s.True(seen[1].Authenticated)
	mu.Unlock()

	cancel()
	s.store.Logout(context.Background(), ReasonLogout)

	mu.Lock()
	s.Len(seen, 2)
	mu.Unlock()
}

func (s *storeSuit) TestSubscriberMayReadStore() {
	var observed Session
	cancel := s.store.Subscribe(func(Session) {
		observed = s.store.Snapshot()
	})
	defer cancel()

	s.login("viewer")
	s.True(observed.Authenticated)
}

func (s *storeSuit) TestSlowSubscriberEndsOnLatestSession() {
	var (
		mu      sync.Mutex
		seen    []Session
		blocked bool
	)
	entered := make(chan struct{})
	release := make(chan struct{})

	cancel := s.store.Subscribe(func(sess Session) {
		mu.Lock()
		block := sess.Authenticated && !blocked
		blocked = blocked || block
		mu.Unlock()

		if block {
			close(entered)
			<-release
		}

		mu.Lock()
		seen = append(seen, sess)
		mu.Unlock()
	})
	defer cancel()

	ctx := context.Background()
	raw := signToken(s.T(), "admin", s.now.Add(time.Hour))
	ticket := s.store.LoginStart()
	done := make(chan error, 1)
	go func() {
		done <- s.store.LoginSuccess(ctx, ticket, LoginResult{Token: raw})
	}()

	<-entered
	s.store.Logout(ctx, ReasonLogout)
	close(release)
	s.Require().NoError(<-done)

	mu.Lock()
	defer mu.Unlock()
	s.Require().Len(seen, 3)
	s.True(seen[0].Loading)
	s.True(seen[1].Authenticated)
	s.False(seen[2].Authenticated)
	s.False(s.store.Snapshot().Authenticated)
}

func (s *storeSuit) TestSubscriberNeverSeesOlderSession() {
	var (
		mu   sync.Mutex
		seen []Session
	)
	cancel := s.store.Subscribe(func(sess Session) {
		mu.Lock()
		seen = append(seen, sess)
		mu.Unlock()
	})
	defer cancel()

	raw := signToken(s.T(), "viewer", s.now.Add(time.Hour))
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ticket := s.store.LoginStart()
			_ = s.store.LoginSuccess(context.Background(), ticket, LoginResult{Token: raw})
		}()
		go func() {
			defer wg.Done()
			s.store.Logout(context.Background(), ReasonLogout)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	s.Require().NotEmpty(seen)
	final := s.store.Snapshot()
	last := seen[len(seen)-1]
	s.Equal(final.Authenticated, last.Authenticated)
	s.Equal(final.Loading, last.Loading)
	s.Equal(final.ID, last.ID)
}

func (s *storeSuit) TestLogoutSession() {
	s.login("analyst")
	old := s.store.Snapshot().ID

	s.store.Logout(context.Background(), ReasonLogout)
	raw := s.login("viewer")

	// a late answer for the first session leaves the second alone
	s.False(s.store.LogoutSession(context.Background(), old, ReasonUnauthorized))
	s.True(s.store.Snapshot().Authenticated)
	s.Equal(raw, s.stored())

	s.True(s.store.LogoutSession(context.Background(), s.store.Snapshot().ID, ReasonUnauthorized))
	s.False(s.store.Snapshot().Authenticated)
	s.Empty(s.stored())
	s.Equal(1.0, testutil.ToFloat64(s.store.metrics.transitions.WithLabelValues("logout_unauthorized")))
}

func (s *storeSuit) TestExpireDoesNotEndSessionInstalledMeanwhile() {
	base := s.now
	clock := base
	var (
		fired atomic.Bool
		done  = make(chan error, 1)
		fresh = signToken(s.T(), "supervisor", base.Add(3*time.Hour))
	)

	store := NewStore(tokenstore.NewMemory(), WithClock(func() time.Time { return clock }))
	ticket := store.LoginStart()
	s.Require().NoError(store.LoginSuccess(context.Background(), ticket, LoginResult{Token: signToken(s.T(), "viewer", base.Add(time.Hour))}))

	clock = base.Add(2 * time.Hour)
	store.now = func() time.Time {
		// the first reading comes from Expire; a login racing it must not be
		// logged out by it
		if fired.CompareAndSwap(false, true) {
			go func() {
				next := store.LoginStart()
				done <- store.LoginSuccess(context.Background(), next, LoginResult{Token: fresh})
			}()
			select {
			case err := <-done:
				done <- err
			case <-time.After(50 * time.Millisecond):
			}
		}
		return clock
	}

	s.True(store.Expire(context.Background()))
	s.Require().NoError(<-done)

	sess := store.Snapshot()
	s.True(sess.Authenticated)
	s.Equal(fresh, sess.Token)
}

func (s *storeSuit) TestMetrics() {
	s.login("viewer")
	s.store.Logout(context.Background(), ReasonExpired)

	s.Equal(1.0, testutil.ToFloat64(s.store.metrics.transitions.WithLabelValues("login_start")))
	s.Equal(1.0, testutil.ToFloat64(s.store.metrics.transitions.WithLabelValues("login_success")))
	s.Equal(1.0, testutil.ToFloat64(s.store.metrics.transitions.WithLabelValues("logout_expired")))
}

func (s *storeSuit) TestSessionClaims() {
	s.login("analyst")

	sess := s.store.Snapshot()
	claims := sess.RBACClaims()
	s.Equal("jdoe", claims.Subject.Identifier())
	s.Equal("ROLE_ANALYST", claims.Subject.Role())
	s.Equal(sess.ID, claims.Metadata["session"])
}

func (s *storeSuit) TestConcurrentTransitions() {
	raw := signToken(s.T(), "viewer", s.now.Add(time.Hour))
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ticket := s.store.LoginStart()
			_ = s.store.LoginSuccess(context.Background(), ticket, LoginResult{Token: raw})
		}()
		go func() {
			defer wg.Done()
			_ = s.store.Snapshot()
			s.store.Logout(context.Background(), ReasonLogout)
		}()
	}
	wg.Wait()

	sess := s.store.Snapshot()
	s.False(sess.Loading)
	s.Equal(sess.Authenticated, sess.Token != "")
	s.Equal(sess.Token, s.stored())
}
