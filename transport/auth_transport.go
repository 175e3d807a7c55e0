package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-client/auth"
	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/jrsteele09/go-auth-client/tokenstore"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	RequestIDHeader = "X-Request-ID"

	refreshKey = "refresh"
	maxReplays = 1
)

// Refresher renews the access token. It must not itself go through an AuthTransport.
type Refresher interface {
	RefreshAccessToken(ctx context.Context) (string, error)
}

// ExpiredHandler tears the session down after a refresh has failed.
type ExpiredHandler func(ctx context.Context, cause error)

// AuthTransport decorates a RoundTripper with bearer authentication and transparent
// re-authentication. Concurrent 401s share one refresh.
type AuthTransport struct {
	base      http.RoundTripper
	tokens    *tokenstore.TokenStore
	refresher Refresher
	flight    singleflight.Group
	log       zerolog.Logger
	metrics   *metrics.Metrics

	mu        sync.RWMutex
	onExpired []ExpiredHandler
}

var _ http.RoundTripper = (*AuthTransport)(nil)

type Option func(*AuthTransport)

func WithLogger(log zerolog.Logger) Option {
	return func(t *AuthTransport) {
		t.log = log
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *AuthTransport) {
		t.metrics = m
	}
}

// New wraps base (http.DefaultTransport when nil).
func New(base http.RoundTripper, tokens *tokenstore.TokenStore, refresher Refresher, options ...Option) (*AuthTransport, error) {
	if tokens == nil {
		return nil, errors.New("[transport.New] token store is required")
	}
	if refresher == nil {
		return nil, errors.New("[transport.New] refresher is required")
	}
	if base == nil {
		base = http.DefaultTransport
	}
	t := &AuthTransport{
		base:      base,
		tokens:    tokens,
		refresher: refresher,
		log:       zerolog.Nop(),
	}
	for _, opt := range options {
		opt(t)
	}
	return t, nil
}

// OnSessionExpired registers h to run when a refresh fails. Handlers run once per failed
// refresh, before any waiting request is rejected.
func (t *AuthTransport) OnSessionExpired(h ExpiredHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onExpired = append(t.onExpired, h)
}

func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	prepared, err := prepare(req)
	if err != nil {
		return nil, err
	}
	token, _ := t.currentToken(req.Context())
	return t.send(prepared, 0, token)
}

// send issues req with token. attempt counts replays already made for this call.
func (t *AuthTransport) send(req *http.Request, attempt int, token string) (*http.Response, error) {
	out := req
	if attempt > 0 {
		out = req.Clone(req.Context())
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, errors.Wrap(err, "AuthTransport.send GetBody")
			}
			out.Body = body
		}
	}
	if token != "" {
		tokenstore.BearerToken(token).SetAuthHeader(out)
	}

	resp, err := t.base.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || attempt >= maxReplays {
		return resp, nil
	}

	discard(resp)
	renewed, err := t.renew(req.Context(), token)
	if err != nil {
		return nil, err
	}

	if t.metrics != nil {
		t.metrics.Replays.Inc()
	}
	t.log.Debug().Str("method", req.Method).Str("path", req.URL.Path).
		Str("requestId", req.Header.Get(RequestIDHeader)).Msg("replaying request with renewed token")
	return t.send(req, attempt+1, renewed)
}

// renew returns a token newer than sentWith, refreshing at most once across all callers.
func (t *AuthTransport) renew(ctx context.Context, sentWith string) (string, error) {
	v, err, shared := t.flight.Do(refreshKey, func() (any, error) {
		current, ok := t.currentToken(ctx)
		switch {
		case ok && current != sentWith:
			return current, nil
		case !ok && sentWith != "":
			return "", &auth.ResponseError{Kind: auth.SessionExpiredErr, Msg: "session ended while the request was in flight"}
		}

		if t.metrics != nil {
			t.metrics.Refreshes.Inc()
		}
		gen := t.tokens.Generation()
		// The first caller's cancellation must not fail every other waiter.
		token, err := t.refresher.RefreshAccessToken(context.WithoutCancel(ctx))
		if err != nil {
			if t.metrics != nil {
				t.metrics.RefreshFailures.Inc()
			}
			// A logout that cleared the store mid-refresh already ended the session.
			if t.tokens.Generation() == gen {
				t.expire(context.WithoutCancel(ctx), err)
			}
			return "", err
		}
		return token, nil
	})
	if err != nil {
		return "", err
	}
	t.log.Debug().Bool("shared", shared).Msg("token renewed")
	return v.(string), nil
}

func (t *AuthTransport) expire(ctx context.Context, cause error) {
	t.mu.RLock()
	handlers := append([]ExpiredHandler(nil), t.onExpired...)
	t.mu.RUnlock()

	t.log.Info().Err(cause).Int("handlers", len(handlers)).Msg("refresh failed, ending session")
	if t.metrics != nil {
		t.metrics.ForcedLogouts.Inc()
	}
	for _, h := range handlers {
		h(ctx, cause)
	}
}

func (t *AuthTransport) currentToken(ctx context.Context) (string, bool) {
	token, ok, err := t.tokens.Get(ctx)
	if err != nil {
		t.log.Warn().Err(err).Msg("reading access token, sending unauthenticated")
		return "", false
	}
	return token, ok
}

// prepare clones req, tags it with a request ID and makes its body replayable.
func prepare(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())
	if out.Header.Get(RequestIDHeader) == "" {
		out.Header.Set(RequestIDHeader, uuid.NewString())
	}
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return out, nil
	}

	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, errors.Wrap(err, "AuthTransport.prepare read body")
	}
	out.Body = io.NopCloser(bytes.NewReader(data))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	out.ContentLength = int64(len(data))
	return out, nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	_ = resp.Body.Close()
}
