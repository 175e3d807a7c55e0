package session

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-auth-client/auth"
	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/jrsteele09/go-auth-client/tokenstore"
	"github.com/jrsteele09/go-auth-client/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const DefaultLandingPath = "/"

var (
	NoTokenErr         = errors.New("cannot set a user without a stored access token")
	IdentityChangedErr = errors.New("account identity or role changed during the session")
	LoggingOutErr      = errors.New("session is logging out")
)

// Identity is the subset of auth.Service the store drives.
type Identity interface {
	LoginAs(ctx context.Context, email, password string, role users.RoleType) (*auth.AuthResult, error)
	Logout(ctx context.Context)
}

// ProfileSource answers "who am I" for the current token.
type ProfileSource interface {
	CurrentUser(ctx context.Context) (*users.User, error)
}

// TokenWatcher reports changes to the persisted token made outside this process.
type TokenWatcher interface {
	Watch(ctx context.Context, onChange func()) error
}

// Navigator moves the application to path after a logout.
type Navigator interface {
	Navigate(path string)
}

type NavigatorFunc func(path string)

func (f NavigatorFunc) Navigate(path string) { f(path) }

// Listener receives a snapshot after every change.
type Listener func(Snapshot)

// Store is the single source of truth for who is logged in.
type Store struct {
	tokens   *tokenstore.TokenStore
	identity Identity
	profile  ProfileSource
	nav      Navigator
	landing  string
	log      zerolog.Logger
	metrics  *metrics.Metrics

	mu         sync.Mutex
	state      State
	user       *users.User
	loading    int // operations currently holding the loading flag
	loggingOut bool
	listeners  map[int]Listener
	nextID     int
}

type Option func(*Store)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) {
		s.log = log
	}
}

func WithNavigator(nav Navigator) Option {
	return func(s *Store) {
		s.nav = nav
	}
}

func WithLandingPath(path string) Option {
	return func(s *Store) {
		s.landing = path
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// New creates a store in the Uninitialized state. Call Start to bootstrap it.
func New(tokens *tokenstore.TokenStore, identity Identity, profile ProfileSource, options ...Option) (*Store, error) {
	if tokens == nil {
		return nil, errors.New("[session.New] token store is required")
	}
	if identity == nil {
		return nil, errors.New("[session.New] identity service is required")
	}
	if profile == nil {
		return nil, errors.New("[session.New] profile source is required")
	}
	s := &Store{
		tokens:    tokens,
		identity:  identity,
		profile:   profile,
		nav:       NavigatorFunc(func(string) {}),
		landing:   DefaultLandingPath,
		log:       zerolog.Nop(),
		state:     StateUninitialized,
		listeners: make(map[int]Listener),
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Snapshot returns the current session.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers l and returns a function that removes it.
func (s *Store) Subscribe(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Start bootstraps the session: a stored token triggers a profile fetch, no token means
// Anonymous. Only the first call has any effect.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateUninitialized {
		s.mu.Unlock()
		return nil
	}
	if !s.tokens.Has(ctx) {
		s.state = StateAnonymous
		s.mu.Unlock()
		s.log.Debug().Msg("no stored token, starting anonymous")
		s.notify()
		return nil
	}
	// Loading must be visible in the same step as the state change.
	s.state = StateLoading
	s.loading++
	s.mu.Unlock()
	s.notify()

	done := s.endLoading()
	defer done()
	return s.FetchCurrentUser(ctx)
}

// FetchCurrentUser re-syncs the user from the backend. It can be called at any time, for
// example after a profile edit. A failed fetch leaves the session Anonymous.
func (s *Store) FetchCurrentUser(ctx context.Context) error {
	user, err := s.profile.CurrentUser(ctx)
	if err != nil {
		s.log.Info().Err(err).Msg("fetching current user failed")
		s.update(func() {
			s.user = nil
			if s.state != StateLoggingOut {
				s.state = StateAnonymous
			}
		})
		return errors.Wrap(err, "Store.FetchCurrentUser")
	}

	previous := s.Snapshot().User
	if previous != nil && !previous.SameIdentity(user) {
		s.log.Warn().Str("previousRole", string(previous.Role)).Str("role", string(user.Role)).
			Str("email", user.Email).Msg("identity changed mid-session, forcing logout")
		s.ForceLogout(ctx, IdentityChangedErr)
		return IdentityChangedErr
	}

	if err := s.SetUser(user); err != nil {
		// The token went away while the fetch was in flight.
		return errors.Wrap(err, "Store.FetchCurrentUser")
	}
	return nil
}

// SetUser installs user after a successful login. A nil user makes the session Anonymous.
func (s *Store) SetUser(user *users.User) error {
	if user != nil && !s.tokens.Has(context.Background()) {
		return NoTokenErr
	}
	var err error
	s.update(func() {
		switch {
		case user == nil:
			s.user = nil
			s.state = StateAnonymous
		case s.loggingOut:
			err = LoggingOutErr
		default:
			u := *user
			s.user = &u
			s.state = StateAuthenticated
		}
	})
	return err
}

// Login authenticates and installs the returned user. Loading is held for the duration.
func (s *Store) Login(ctx context.Context, email, password string) (*auth.AuthResult, error) {
	return s.LoginAs(ctx, email, password, users.RoleNone)
}

// LoginAs is Login restricted to accounts holding role.
func (s *Store) LoginAs(ctx context.Context, email, password string, role users.RoleType) (*auth.AuthResult, error) {
	done := s.beginLoading()
	defer done()

	result, err := s.identity.LoginAs(ctx, email, password, role)
	switch {
	case err != nil:
		s.countLogin("error")
		return nil, err
	case !result.Success:
		s.countLogin("rejected")
		return result, nil
	}
	if err := s.SetUser(result.User); err != nil {
		s.countLogin("error")
		return nil, errors.Wrap(err, "Store.LoginAs")
	}
	s.countLogin("success")
	s.log.Info().Str("email", result.User.Email).Str("role", string(result.User.Role)).Msg("logged in")
	return result, nil
}

// Logout ends the session. The local teardown always happens, whatever the backend says,
// and the application is sent to the landing view.
func (s *Store) Logout(ctx context.Context) {
	s.teardown(ctx, true, nil)
}

// ForceLogout ends the session because it can no longer be trusted, for example after a
// failed token refresh.
func (s *Store) ForceLogout(ctx context.Context, cause error) {
	s.log.Info().Err(cause).Msg("forced logout")
	s.teardown(ctx, true, cause)
}

// WatchTokens follows token changes made by other processes sharing the same store: a
// removed token ends the session locally, a new token while Anonymous triggers a fetch.
func (s *Store) WatchTokens(ctx context.Context, watcher TokenWatcher) error {
	return watcher.Watch(ctx, func() {
		has := s.tokens.Has(ctx)
		snap := s.Snapshot()
		switch {
		case !has && snap.User != nil && !snap.IsLoggingOut:
			s.log.Info().Msg("token removed elsewhere, ending session")
			s.teardown(ctx, false, nil)
		case has && snap.State == StateAnonymous:
			s.log.Info().Msg("token stored elsewhere, loading session")
			_ = s.FetchCurrentUser(ctx)
		}
	})
}

func (s *Store) teardown(ctx context.Context, revoke bool, cause error) {
	s.mu.Lock()
	if s.loggingOut {
		s.mu.Unlock()
		return
	}
	s.loggingOut = true
	s.state = StateLoggingOut
	s.mu.Unlock()
	s.notify()

	ctx = context.WithoutCancel(ctx)
	if revoke {
		s.identity.Logout(ctx)
	}
	if err := s.tokens.Clear(ctx); err != nil {
		s.log.Error().Err(err).Msg("clearing token")
	}

	s.update(func() {
		s.user = nil
		s.loggingOut = false
		s.state = StateAnonymous
	})
	if cause != nil {
		s.log.Debug().Err(cause).Str("to", s.landing).Msg("session ended")
	}
	s.nav.Navigate(s.landing)
}

func (s *Store) beginLoading() func() {
	s.update(func() { s.loading++ })
	return s.endLoading()
}

// endLoading returns the release for one loading count. Extra calls are no-ops.
func (s *Store) endLoading() func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			s.update(func() { s.loading-- })
		})
	}
}

func (s *Store) countLogin(outcome string) {
	if s.metrics != nil {
		s.metrics.Logins.WithLabelValues(outcome).Inc()
	}
}

// update applies fn under the lock and then notifies listeners outside it.
func (s *Store) update(fn func()) {
	s.mu.Lock()
	fn()
	s.mu.Unlock()
	s.notify()
}

func (s *Store) notify() {
	s.mu.Lock()
	snap := s.snapshotLocked()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:        s.state,
		Loading:      s.loading > 0,
		IsLoggingOut: s.loggingOut,
	}
	if s.user != nil {
		u := *s.user
		snap.User = &u
	}
	return snap
}
