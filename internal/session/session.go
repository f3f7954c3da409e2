// Package session owns the authenticated session: the token pair, the user
// derived from it, renewal before expiry and the persisted session record.
// One Session is built at startup and handed to everything that needs auth.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"schedule-client/internal/apperr"
	"schedule-client/internal/auth"
	"schedule-client/internal/metrics"
	"schedule-client/internal/model"
	"schedule-client/internal/reactive"
	"schedule-client/internal/store"
)

const (
	DefaultLead       = 5 * time.Minute
	backgroundTimeout = 15 * time.Second
)

type State int

const (
	LoggedOut State = iota
	Active
	Refreshing
	Expired
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Refreshing:
		return "refreshing"
	case Expired:
		return "expired"
	default:
		return "logged out"
	}
}

// Reason tells why a session ended.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonUser          Reason = "user"
	ReasonRefreshFailed Reason = "refresh_failed"
	ReasonUnauthorized  Reason = "unauthorized"
)

// Snapshot is what subscribers observe after each transition.
type Snapshot struct {
	State  State
	User   *model.User
	Reason Reason
}

// NeedsLogin reports whether the session ended in a way the user must act on.
func (s Snapshot) NeedsLogin() bool {
	return s.State == LoggedOut && (s.Reason == ReasonRefreshFailed || s.Reason == ReasonUnauthorized)
}

// Identity is the identity provider.
type Identity interface {
	Token(ctx context.Context, username, password string) (model.TokenPair, error)
	RefreshToken(ctx context.Context, refresh string) (string, error)
	CurrentUser(ctx context.Context, access string) (*model.User, error)
}

type Option func(*Session)

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithLead sets how long before expiry the renewal fires.
func WithLead(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.lead = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

func WithAfterFunc(f AfterFunc) Option {
	return func(s *Session) { s.after = f }
}

type Session struct {
	id      Identity
	store   store.SessionStore
	log     *slog.Logger
	metrics *metrics.Metrics
	lead    time.Duration
	now     func() time.Time
	after   AfterFunc

	mu  sync.Mutex
	rec store.Record
	gen uint64 // bumped by login, restore and logout

	state *reactive.Cell[Snapshot]
	renew *Renewal
	sf    singleflight.Group
	wg    sync.WaitGroup
}

func New(id Identity, st store.SessionStore, opts ...Option) *Session {
	s := &Session{
		id:    id,
		store: st,
		log:   slog.Default(),
		lead:  DefaultLead,
		now:   time.Now,
		state: reactive.NewCell(Snapshot{State: LoggedOut}),
	}
	for _, o := range opts {
		o(s)
	}
	s.renew = NewRenewal(s.after, s.renewNow)
	return s
}

// Restore loads the persisted record. An expired access token is refreshed
// right away; an unreadable one ends the session.
func (s *Session) Restore(ctx context.Context) error {
	const op = "restore session"
	rec, err := s.store.Load(ctx)
	if err != nil {
		s.log.Warn("session record unreadable, clearing", "error", err)
		_ = s.end(ctx, ReasonNone)
		return fmt.Errorf("%s: %w", op, err)
	}
	if rec.AccessToken == "" {
		return nil
	}
	claims, err := auth.Decode(rec.AccessToken)
	if err != nil {
		_ = s.end(ctx, ReasonNone)
		return apperr.Wrap(apperr.Malformed, op, err)
	}
	if rec.User == nil {
		rec.User = claims.ProvisionalUser()
	}

	s.mu.Lock()
	s.rec = rec
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	s.publish(Active, rec.User, ReasonNone)
	s.log.Info("session restored", "user", rec.User.Username)

	if _, err := s.ScheduleRenewal(); err != nil {
		return err
	}
	if s.State() == Expired {
		s.renew.Cancel()
		return s.Refresh(ctx)
	}
	s.reconcileAsync(ctx, gen, rec.AccessToken)
	return nil
}

// Login exchanges credentials for a token pair. The user is first taken from
// the token claims, then replaced by the provider's record in the background.
func (s *Session) Login(ctx context.Context, username, password string) error {
	const op = "login"
	pair, err := s.id.Token(ctx, username, password)
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.InvalidCredentials:
			return err
		case apperr.Unauthorized:
			return apperr.Wrap(apperr.InvalidCredentials, op, err)
		case 0:
			return apperr.Wrap(apperr.Transport, op, err)
		default:
			return err
		}
	}
	claims, err := auth.Decode(pair.Access)
	if err != nil {
		return apperr.Wrap(apperr.Malformed, op, err)
	}
	rec := store.Record{
		AccessToken:  pair.Access,
		RefreshToken: pair.Refresh,
		User:         claims.ProvisionalUser(),
	}

	s.mu.Lock()
	if err := s.store.Save(ctx, rec); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%s: persist session: %w", op, err)
	}
	s.rec = rec
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	s.publish(Active, rec.User, ReasonNone)
	s.log.Info("logged in", "user", rec.User.Username)

	if _, err := s.ScheduleRenewal(); err != nil {
		s.log.Warn("renewal not scheduled", "error", err)
	}
	s.reconcileAsync(ctx, gen, pair.Access)
	return nil
}

func (s *Session) reconcileAsync(ctx context.Context, gen uint64, access string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundTimeout)
		defer cancel()
		s.reconcile(ctx, gen, access)
	}()
}

func (s *Session) reconcile(ctx context.Context, gen uint64, access string) {
	u, err := s.id.CurrentUser(ctx, access)
	if err != nil {
		if errors.Is(err, apperr.ErrUnauthorized) {
			s.log.Warn("current user rejected token, logging out")
			s.endIf(ctx, gen, ReasonUnauthorized)
			return
		}
		s.log.Warn("user reconciliation failed, keeping token claims", "error", err)
		return
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	next := s.rec
	next.User = u
	if err := s.store.Save(ctx, next); err != nil {
		s.mu.Unlock()
		s.log.Warn("persist reconciled user failed", "error", err)
		return
	}
	s.rec = next
	state := s.state.Get().State
	s.mu.Unlock()

	s.publish(state, u, ReasonNone)
	s.log.Debug("user reconciled", "user", u.Username, "role", auth.RoleOf(u))
}

// ScheduleRenewal arms the renewal timer lead before the access token
// expires. An already expired token moves the session to Expired and fires
// the renewal immediately.
func (s *Session) ScheduleRenewal() (time.Duration, error) {
	const op = "schedule renewal"
	s.mu.Lock()
	access := s.rec.AccessToken
	user := s.rec.User
	s.mu.Unlock()
	if access == "" {
		return 0, apperr.New(apperr.Unauthorized, op, "not logged in")
	}
	exp, err := auth.Expiry(access)
	if err != nil {
		return 0, apperr.Wrap(apperr.Malformed, op, err)
	}

	ttl := exp.Sub(s.now())
	if ttl <= 0 {
		s.publish(Expired, user, ReasonNone)
		s.renew.Arm(0)
		return 0, nil
	}
	d := max(0, ttl-s.lead)
	s.renew.Arm(d)
	s.log.Debug("renewal armed", "in", d)
	return d, nil
}

func (s *Session) renewNow() {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
	defer cancel()
	if err := s.Refresh(ctx); err != nil {
		s.log.Warn("scheduled renewal failed", "error", err)
	}
}

// Refresh trades the refresh token for a new access token. Concurrent calls
// share one request. Any failure is fatal for the session: the record is
// cleared and the session ends with ReasonRefreshFailed.
func (s *Session) Refresh(ctx context.Context) error {
	_, err, _ := s.sf.Do("refresh", func() (any, error) {
		return nil, s.refresh(ctx)
	})
	return err
}

func (s *Session) refresh(ctx context.Context) error {
	const op = "refresh"
	s.mu.Lock()
	rt := s.rec.RefreshToken
	user := s.rec.User
	gen := s.gen
	s.mu.Unlock()
	if rt == "" {
		s.endIf(ctx, gen, ReasonRefreshFailed)
		return apperr.New(apperr.TokenRefresh, op, "no refresh token")
	}

	s.publish(Refreshing, user, ReasonNone)
	access, err := s.id.RefreshToken(ctx, rt)
	s.metrics.ObserveRefresh(err)
	if err != nil {
		s.log.Warn("token refresh failed, logging out", "error", err)
		s.endIf(ctx, gen, ReasonRefreshFailed)
		return apperr.Wrap(apperr.TokenRefresh, op, err)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return apperr.New(apperr.TokenRefresh, op, "session changed during refresh")
	}
	next := s.rec
	next.AccessToken = access
	if err := s.store.Save(ctx, next); err != nil {
		s.mu.Unlock()
		// the stored record would hold the old access token
		s.log.Warn("persist renewed token failed, logging out", "error", err)
		s.endIf(ctx, gen, ReasonRefreshFailed)
		return apperr.Wrap(apperr.TokenRefresh, op, fmt.Errorf("persist session: %w", err))
	}
	s.rec = next
	s.mu.Unlock()

	s.publish(Active, next.User, ReasonNone)
	s.log.Debug("access token renewed")
	if _, err := s.ScheduleRenewal(); err != nil {
		s.log.Warn("renewal not scheduled", "error", err)
	}
	return nil
}

// Logout clears the persisted record and cancels the renewal.
func (s *Session) Logout(ctx context.Context) error {
	s.log.Info("logged out")
	return s.end(ctx, ReasonUser)
}

// Invalidate ends the session after the server rejected it.
func (s *Session) Invalidate(ctx context.Context) error {
	s.log.Warn("session rejected by server")
	return s.end(ctx, ReasonUnauthorized)
}

func (s *Session) end(ctx context.Context, reason Reason) error {
	s.mu.Lock()
	s.gen++
	s.renew.Cancel()
	s.rec = store.Record{}
	err := s.store.Clear(ctx)
	s.mu.Unlock()

	s.publish(LoggedOut, nil, reason)
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// endIf ends the session only if nobody logged in or out since gen.
func (s *Session) endIf(ctx context.Context, gen uint64, reason Reason) {
	s.mu.Lock()
	current := s.gen == gen
	s.mu.Unlock()
	if !current {
		return
	}
	if err := s.end(ctx, reason); err != nil {
		s.log.Error("clear session failed", "error", err)
	}
}

func (s *Session) publish(st State, u *model.User, reason Reason) {
	s.state.Set(Snapshot{State: st, User: u, Reason: reason})
}

func (s *Session) Snapshot() Snapshot { return s.state.Get() }

func (s *Session) State() State { return s.state.Get().State }

func (s *Session) CurrentUser() *model.User { return s.state.Get().User }

// CurrentRole is derived from the current user on every call.
func (s *Session) CurrentRole() model.Role {
	return auth.RoleOf(s.CurrentUser())
}

func (s *Session) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.AccessToken
}

// Subscribe is notified after every transition.
func (s *Session) Subscribe(fn func(Snapshot)) (cancel func()) {
	return s.state.Subscribe(fn)
}

// Token implements oauth2.TokenSource. An expired access token is refreshed
// first.
func (s *Session) Token() (*oauth2.Token, error) {
	access := s.AccessToken()
	if access == "" {
		return nil, apperr.New(apperr.Unauthorized, "token", "not logged in")
	}
	exp, _ := auth.Expiry(access)
	if !exp.IsZero() && !exp.After(s.now()) {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		if err := s.Refresh(ctx); err != nil {
			return nil, err
		}
		access = s.AccessToken()
		exp, _ = auth.Expiry(access)
	}
	return &oauth2.Token{AccessToken: access, TokenType: "Bearer", Expiry: exp}, nil
}

// Wait blocks until background reconciliation has finished.
func (s *Session) Wait() { s.wg.Wait() }

// Reconciled is Wait bounded by ctx.
func (s *Session) Reconciled(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels the renewal and waits for background work.
func (s *Session) Close() {
	s.renew.Cancel()
	s.wg.Wait()
}
