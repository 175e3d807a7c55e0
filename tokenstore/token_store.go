package tokenstore

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// AccessTokenKey is the fixed slot the access token lives under.
const AccessTokenKey = "accessToken"

var (
	EmptyTokenErr = errors.New("empty access token")
	NoTokenErr    = errors.New("no access token stored")
	ClearedErr    = errors.New("token store cleared since generation")
)

// KeyValueStore is the durable medium behind the token slot. Implementations must make a
// completed Set visible to every later Get in the process.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// TokenStore holds exactly one opaque bearer token. A missing token means "anonymous".
// Every Clear starts a new generation so writes begun before it can be refused.
type TokenStore struct {
	kv  KeyValueStore
	key string

	mu         sync.Mutex
	generation uint64
}

var _ oauth2.TokenSource = (*TokenStore)(nil)

// New wraps kv. A nil kv falls back to an in-memory store.
func New(kv KeyValueStore) *TokenStore {
	if kv == nil {
		kv = NewMemoryStore()
	}
	return &TokenStore{kv: kv, key: AccessTokenKey}
}

// Get returns the current token and whether one exists.
func (s *TokenStore) Get(ctx context.Context) (string, bool, error) {
	token, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return "", false, errors.Wrap(err, "TokenStore.Get")
	}
	if !ok || strings.TrimSpace(token) == "" {
		return "", false, nil
	}
	return token, true, nil
}

// Has reports whether a token is stored. Read errors count as "no token".
func (s *TokenStore) Has(ctx context.Context) bool {
	_, ok, err := s.Get(ctx)
	return err == nil && ok
}

// Set overwrites the stored token.
func (s *TokenStore) Set(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return EmptyTokenErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(ctx, token)
}

// Generation identifies the current clear epoch. It changes on every Clear.
func (s *TokenStore) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// SetIfGeneration writes token only if the store has not been cleared since gen was read.
// Otherwise it returns ClearedErr and leaves the store untouched.
func (s *TokenStore) SetIfGeneration(ctx context.Context, token string, gen uint64) error {
	if strings.TrimSpace(token) == "" {
		return EmptyTokenErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return ClearedErr
	}
	return s.setLocked(ctx, token)
}

func (s *TokenStore) setLocked(ctx context.Context, token string) error {
	if err := s.kv.Set(ctx, s.key, token); err != nil {
		return errors.Wrap(err, "TokenStore.Set")
	}
	return nil
}

// Clear removes the token. Clearing an empty store is not an error.
func (s *TokenStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	if err := s.kv.Delete(ctx, s.key); err != nil {
		return errors.Wrap(err, "TokenStore.Clear")
	}
	return nil
}

// Token implements oauth2.TokenSource so the persisted token can back other API clients.
func (s *TokenStore) Token() (*oauth2.Token, error) {
	token, ok, err := s.Get(context.Background())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NoTokenErr
	}
	return BearerToken(token), nil
}

// BearerToken wraps a raw access token so it can stamp request headers.
func BearerToken(token string) *oauth2.Token {
	return &oauth2.Token{AccessToken: token, TokenType: "Bearer"}
}
