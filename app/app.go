// Package app assembles the session subsystem from configuration: token store, identity
// service, authenticating transport, session store and the local gateway.
package app

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"os"
	"path/filepath"

	"github.com/jrsteele09/go-auth-client/apiclient"
	"github.com/jrsteele09/go-auth-client/auth"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/jrsteele09/go-auth-client/server"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/jrsteele09/go-auth-client/tokenstore"
	"github.com/jrsteele09/go-auth-client/transport"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/net/publicsuffix"
)

var UnknownTokenStoreErr = errors.New("unknown token store")

// App holds the wired subsystem. Close releases the token store.
type App struct {
	Config    config.Config
	Log       zerolog.Logger
	Metrics   *metrics.Metrics
	Tokens    *tokenstore.TokenStore
	Auth      *auth.Service
	Transport *transport.AuthTransport
	API       *apiclient.Client // Authenticated calls go through Transport
	Session   *session.Store

	watcher session.TokenWatcher // Set for the file backend only
	closers []func() error
}

type Option func(*options)

type options struct {
	kv  tokenstore.KeyValueStore
	nav session.Navigator
}

// WithKeyValueStore bypasses the configured token backend.
func WithKeyValueStore(kv tokenstore.KeyValueStore) Option {
	return func(o *options) {
		o.kv = kv
	}
}

func WithNavigator(nav session.Navigator) Option {
	return func(o *options) {
		o.nav = nav
	}
}

func New(ctx context.Context, cfg config.Config, log zerolog.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("[app New] config is required")
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Log: log, Metrics: metrics.New()}
	kv := o.kv
	if kv == nil {
		var err error
		if kv, err = a.openStore(ctx); err != nil {
			return nil, err
		}
	}
	if secret := cfg.GetEncryptionSecret(); secret != "" {
		sealed, err := tokenstore.NewEncryptedStore(kv, []byte(secret))
		if err != nil {
			_ = a.Close()
			return nil, errors.Wrap(err, "[app New] NewEncryptedStore")
		}
		kv = sealed
	}
	a.Tokens = tokenstore.New(kv)

	// Both clients share the jar so the refresh cookie set at login is sent on refresh.
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		_ = a.Close()
		return nil, errors.Wrap(err, "[app New] cookiejar")
	}
	raw, err := apiclient.New(cfg.GetBaseURL(), &http.Client{Jar: jar, Timeout: cfg.GetHTTPTimeout()}, apiclient.WithLogger(log))
	if err != nil {
		_ = a.Close()
		return nil, errors.Wrap(err, "[app New] raw client")
	}
	if a.Auth, err = auth.NewService(raw, a.Tokens, auth.WithLogger(log)); err != nil {
		_ = a.Close()
		return nil, errors.Wrap(err, "[app New] NewService")
	}
	if a.Transport, err = transport.New(nil, a.Tokens, a.Auth, transport.WithLogger(log), transport.WithMetrics(a.Metrics)); err != nil {
		_ = a.Close()
		return nil, errors.Wrap(err, "[app New] transport")
	}
	a.API, err = apiclient.New(cfg.GetBaseURL(), &http.Client{Jar: jar, Transport: a.Transport, Timeout: cfg.GetHTTPTimeout()}, apiclient.WithLogger(log))
	if err != nil {
		_ = a.Close()
		return nil, errors.Wrap(err, "[app New] api client")
	}

	storeOpts := []session.Option{session.WithLogger(log), session.WithMetrics(a.Metrics)}
	if o.nav != nil {
		storeOpts = append(storeOpts, session.WithNavigator(o.nav))
	}
	if a.Session, err = session.New(a.Tokens, a.Auth, a.API, storeOpts...); err != nil {
		_ = a.Close()
		return nil, errors.Wrap(err, "[app New] session store")
	}
	a.Transport.OnSessionExpired(a.Session.ForceLogout)
	return a, nil
}

func (a *App) openStore(ctx context.Context) (tokenstore.KeyValueStore, error) {
	cfg := a.Config
	switch cfg.GetTokenStore() {
	case config.TokenStoreMemory:
		return tokenstore.NewMemoryStore(), nil
	case config.TokenStoreFile:
		path := cfg.GetTokenFile()
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, errors.Wrap(err, "[app openStore] MkdirAll")
		}
		fs, err := tokenstore.NewFileStore(path, tokenstore.WithFileStoreLogger(a.Log))
		if err != nil {
			return nil, errors.Wrap(err, "[app openStore] NewFileStore")
		}
		a.watcher = fs
		return fs, nil
	case config.TokenStoreRedis:
		rs, err := tokenstore.NewRedisStore(ctx, tokenstore.RedisOptions{
			Addr:     cfg.GetRedisAddr(),
			Password: cfg.GetRedisPassword(),
			DB:       cfg.GetRedisDB(),
			Prefix:   cfg.GetRedisPrefix(),
		})
		if err != nil {
			return nil, errors.Wrap(err, "[app openStore] NewRedisStore")
		}
		a.closers = append(a.closers, rs.Close)
		return rs, nil
	}
	return nil, errors.Wrapf(UnknownTokenStoreErr, "%q", cfg.GetTokenStore())
}

// Start bootstraps the session and, for the file backend, follows token changes made by
// other processes until ctx ends. A failed profile fetch leaves the session Anonymous and
// is not an error.
func (a *App) Start(ctx context.Context) error {
	if err := a.Session.Start(ctx); err != nil {
		a.Log.Info().Err(err).Msg("stored session could not be restored")
	}
	if a.watcher == nil {
		return nil
	}
	return errors.Wrap(a.Session.WatchTokens(ctx, a.watcher), "App.Start WatchTokens")
}

// Server builds the local gateway over this app.
func (a *App) Server() (*server.Server, error) {
	return server.New(a.Config, server.Deps{
		Session: a.Session,
		Auth:    a.Auth,
		Tokens:  a.Tokens,
		Backend: a.Transport,
		BaseURL: a.Config.GetBaseURL(),
		Metrics: a.Metrics,
		Log:     a.Log,
	})
}

func (a *App) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
