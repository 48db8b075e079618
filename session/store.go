package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gowool/aml-rbac"
	"github.com/gowool/aml-rbac/token"
	"github.com/gowool/aml-rbac/tokenstore"
)

var (
	ErrStaleLogin   = errors.New("session: login completed after the session changed")
	ErrInvalidToken = errors.New("session: login token is invalid or expired")
)

// Ticket identifies one login attempt. A ticket completes at most once, and
// completions carrying a ticket older than the latest LoginStart or Logout
// are discarded.
type Ticket struct {
	generation uint64
}

type Option func(*Store)

// delivery is one session handed to the subscribers registered when it was
// installed. seq orders deliveries by transition.
type delivery struct {
	seq         uint64
	session     Session
	subscribers []func(Session)
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(s *Store) {
		s.metrics = metrics
	}
}

// Store owns the process-wide Session. Transitions are serialized; Snapshot
// never blocks.
type Store struct {
	mu          sync.Mutex
	current     atomic.Pointer[Session]
	generation  uint64
	storage     tokenstore.Storage
	logger      *zap.Logger
	metrics     *Metrics
	now         func() time.Time
	subscribers map[uint64]func(Session)
	nextSub     uint64
	seq         uint64

	notifyMu   sync.Mutex
	pending    *delivery
	delivered  uint64
	delivering bool
}

func NewStore(storage tokenstore.Storage, opts ...Option) *Store {
	if storage == nil {
		storage = tokenstore.NewMemory()
	}
	s := &Store{
		storage:     storage,
		logger:      zap.NewNop(),
		now:         time.Now,
		subscribers: map[uint64]func(Session){},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("session")
	s.current.Store(&unauthenticated)
	return s
}

// Snapshot returns the current session.
func (s *Store) Snapshot() Session {
	return *s.current.Load()
}

// Subscribe registers fn to be called with the new session after every
// transition. Calls are never concurrent and never go back in time: when
// transitions race, fn may skip to the latest session but never sees an
// older one after a newer. The returned func removes the subscription.
func (s *Store) Subscribe(fn func(Session)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

// Rehydrate restores the session from durable storage. Expired, undecodable
// or roleless tokens are erased; storage failures leave the console logged
// out.
func (s *Store) Rehydrate(ctx context.Context) Session {
	s.mu.Lock()

	next := unauthenticated
	raw, err := s.storage.Load(ctx)
	switch {
	case errors.Is(err, tokenstore.ErrNotFound):
	case err != nil:
		s.logger.Warn("failed to read stored token", zap.Error(err))
	default:
		if sess, err := s.fromToken(raw, LoginResult{Token: raw}); err != nil {
			s.logger.Info("discarding stored token", zap.Error(err))
			s.clearStorage(ctx)
		} else {
			next = sess
		}
	}

	s.generation++
	notify := s.replace("rehydrate", next)
	s.mu.Unlock()

	notify()
	return next
}

// LoginStart marks a login as in flight.
func (s *Store) LoginStart() Ticket {
	s.mu.Lock()

	s.generation++
	ticket := Ticket{generation: s.generation}

	next := s.Snapshot()
	next.Loading = true
	next.Error = ""
	notify := s.replace("login_start", next)
	s.mu.Unlock()

	notify()
	return ticket
}

// LoginSuccess installs the authenticated session and persists its token.
func (s *Store) LoginSuccess(ctx context.Context, ticket Ticket, result LoginResult) error {
	s.mu.Lock()

	if ticket.generation != s.generation {
		s.mu.Unlock()
		s.logger.Info("ignoring stale login success", zap.String("username", result.Username))
		return ErrStaleLogin
	}

	next, err := s.fromToken(result.Token, result)
	if err != nil {
		s.generation++
		s.clearStorage(ctx)
		notify := s.replace("login_failure", Session{Error: err.Error()})
		s.mu.Unlock()

		notify()
		return err
	}

	if err := s.storage.Save(ctx, result.Token); err != nil {
		s.logger.Warn("failed to persist token", zap.Error(err))
	}
	s.generation++
	notify := s.replace("login_success", next)
	s.mu.Unlock()

	s.logger.Info("login succeeded",
		zap.String("username", next.User.Username),
		zap.Stringer("role", next.User.Role),
	)
	notify()
	return nil
}

// LoginFailure records a failed login and erases any stored token.
func (s *Store) LoginFailure(ctx context.Context, ticket Ticket, message string) error {
	s.mu.Lock()

	if ticket.generation != s.generation {
		s.mu.Unlock()
		return ErrStaleLogin
	}

	s.generation++
	s.clearStorage(ctx)
	notify := s.replace("login_failure", Session{Error: message})
	s.mu.Unlock()

	notify()
	return nil
}

// Logout destroys the session, erases the stored token and invalidates any
// login still in flight.
func (s *Store) Logout(ctx context.Context, reason Reason) {
	s.mu.Lock()
	prev, notify := s.logout(ctx, reason)
	s.mu.Unlock()

	s.loggedOut(prev, reason)
	notify()
}

// LogoutSession logs out only while id is still the current session and
// reports whether it did. Answers that belong to an older session cannot end
// a newer one.
func (s *Store) LogoutSession(ctx context.Context, id string, reason Reason) bool {
	s.mu.Lock()
	if cur := s.Snapshot(); !cur.Authenticated || cur.ID != id {
		s.mu.Unlock()
		s.logger.Debug("ignoring logout of a replaced session", zap.String("session", id), zap.String("reason", string(reason)))
		return false
	}
	prev, notify := s.logout(ctx, reason)
	s.mu.Unlock()

	s.loggedOut(prev, reason)
	notify()
	return true
}

// Expire logs out when the current token is expired at the store's clock and
// reports whether it did.
func (s *Store) Expire(ctx context.Context) bool {
	s.mu.Lock()
	if cur := s.Snapshot(); !cur.Authenticated || !token.Expired(cur.Token, s.now()) {
		s.mu.Unlock()
		return false
	}
	prev, notify := s.logout(ctx, ReasonExpired)
	s.mu.Unlock()

	s.loggedOut(prev, ReasonExpired)
	notify()
	return true
}

// logout installs the unauthenticated session. Callers hold s.mu.
func (s *Store) logout(ctx context.Context, reason Reason) (Session, func()) {
	prev := s.Snapshot()
	s.generation++
	s.clearStorage(ctx)
	return prev, s.replace("logout_"+string(reason), unauthenticated)
}

func (s *Store) loggedOut(prev Session, reason Reason) {
	if prev.Authenticated {
		s.logger.Info("logged out",
			zap.String("username", prev.User.Username),
			zap.String("reason", string(reason)),
		)
	}
}

func (s *Store) ClearError() {
	s.mu.Lock()

	next := s.Snapshot()
	if next.Error == "" {
		s.mu.Unlock()
		return
	}
	next.Error = ""
	notify := s.replace("clear_error", next)
	s.mu.Unlock()

	notify()
}

// Now is the store's clock.
func (s *Store) Now() time.Time {
	return s.now()
}

func (s *Store) fromToken(raw string, result LoginResult) (Session, error) {
	claims, err := token.Decode(raw)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.ExpiredAt(s.now()) {
		return Session{}, fmt.Errorf("%w: expired", ErrInvalidToken)
	}

	role := rbac.NormalizeRole(result.Role)
	if role == rbac.RoleNone {
		role = claims.NormalizedRole()
	}
	if role == rbac.RoleNone {
		return Session{}, fmt.Errorf("%w: no recognized role", rbac.ErrInvalidRole)
	}

	username := result.Username
	if username == "" {
		username = claims.User()
	}
	name := result.Name
	if name == "" {
		name = claims.Name
	}

	return Session{
		ID:            uuid.NewString(),
		Authenticated: true,
		Token:         raw,
		User:          User{Username: username, Name: name, Role: role},
		Claims:        claims,
	}, nil
}

func (s *Store) clearStorage(ctx context.Context) {
	if err := s.storage.Clear(ctx); err != nil {
		s.logger.Warn("failed to erase stored token", zap.Error(err))
	}
}

// replace swaps in next and returns the subscriber notification to run once
// the lock is released. Callers hold s.mu.
func (s *Store) replace(transition string, next Session) func() {
	s.current.Store(&next)
	s.metrics.observe(transition)

	s.seq++
	d := &delivery{
		seq:         s.seq,
		session:     next,
		subscribers: make([]func(Session), 0, len(s.subscribers)),
	}
	for _, fn := range s.subscribers {
		d.subscribers = append(d.subscribers, fn)
	}
	return func() {
		s.deliver(d)
	}
}

// deliver queues d unless a newer session is already queued or delivered.
// A single caller drains the queue at a time; the others return at once and
// their sessions reach subscribers from the draining goroutine.
func (s *Store) deliver(d *delivery) {
	s.notifyMu.Lock()
	if d.seq <= s.delivered || (s.pending != nil && d.seq <= s.pending.seq) {
		s.notifyMu.Unlock()
		return
	}
	s.pending = d
	if s.delivering {
		s.notifyMu.Unlock()
		return
	}
	s.delivering = true
	s.notifyMu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			s.notifyMu.Lock()
			s.delivering = false
			s.notifyMu.Unlock()
			panic(rec)
		}
	}()

	for {
		s.notifyMu.Lock()
		next := s.pending
		if next == nil {
			s.delivering = false
			s.notifyMu.Unlock()
			return
		}
		s.pending = nil
		s.delivered = next.seq
		s.notifyMu.Unlock()

		for _, fn := range next.subscribers {
			fn(next.session)
		}
	}
}
