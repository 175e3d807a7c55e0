package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-client/apiclient"
	"github.com/jrsteele09/go-auth-client/tokenstore"
	"github.com/jrsteele09/go-auth-client/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// AuthResult is the normalised outcome of a login or signup call.
type AuthResult struct {
	Success     bool
	AccessToken string
	User        *users.User
	Msg         string
	ReceivedAt  time.Time
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Success     bool        `json:"success"`
	AccessToken string      `json:"accessToken"`
	User        *users.User `json:"user"`
	Msg         string      `json:"msg"`
}

type refreshResponse struct {
	AccessToken string `json:"accessToken"`
}

// Service performs the identity operations against the backend. It owns no session state;
// the only thing it writes is the persisted access token.
type Service struct {
	api     *apiclient.Client     // Must not route through the refreshing transport
	tokens  *tokenstore.TokenStore
	log     zerolog.Logger
	nowTime func() time.Time
}

// ServiceOption defines a function type to modify the Service instance.
type ServiceOption func(*Service)

func WithLogger(log zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.log = log
	}
}

// WithNowFunc sets the clock (primarily for testing)
func WithNowFunc(nowFunc func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowTime = nowFunc
	}
}

// NewService creates the identity service. api must be a client whose transport does NOT
// refresh on 401, otherwise a failed refresh would recurse into itself.
func NewService(api *apiclient.Client, tokens *tokenstore.TokenStore, options ...ServiceOption) (*Service, error) {
	if api == nil {
		return nil, errors.New("[NewService] api client is required")
	}
	if tokens == nil {
		return nil, errors.New("[NewService] token store is required")
	}
	s := &Service{
		api:     api,
		tokens:  tokens,
		log:     zerolog.Nop(),
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Login sends credentials and persists the returned token on success. A 2xx reply with
// success=false is reported through the result, not as an error.
func (s *Service) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	result, err := s.login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if result.Success {
		if err := s.tokens.Set(ctx, result.AccessToken); err != nil {
			return nil, errors.Wrap(err, "Service.Login persist token")
		}
	}
	return result, nil
}

// LoginAs is Login restricted to one role. A valid login for another role is rejected with
// RoleDeniedErr and leaves the token store untouched.
func (s *Service) LoginAs(ctx context.Context, email, password string, role users.RoleType) (*AuthResult, error) {
	result, err := s.login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return result, nil
	}
	if !result.User.HasRole(role) {
		s.log.Info().Str("email", email).Str("required", string(role)).
			Str("actual", string(result.User.Role)).Msg("login denied for role")
		return nil, &ResponseError{Kind: RoleDeniedErr, Msg: "Access denied. Only " + string(role) + " accounts can sign in here."}
	}
	if err := s.tokens.Set(ctx, result.AccessToken); err != nil {
		return nil, errors.Wrap(err, "Service.LoginAs persist token")
	}
	return result, nil
}

func (s *Service) login(ctx context.Context, email, password string) (*AuthResult, error) {
	var resp authResponse
	err := s.api.DoJSON(ctx, http.MethodPost, apiclient.PathLogin, credentials{Email: email, Password: password}, &resp)
	if err != nil {
		classified := classify(opLogin, err)
		s.log.Debug().Err(classified).Str("email", email).Msg("login failed")
		return nil, classified
	}

	result := &AuthResult{
		Success:     resp.Success,
		AccessToken: resp.AccessToken,
		User:        resp.User,
		Msg:         resp.Msg,
		ReceivedAt:  s.nowTime(),
	}
	// A success without a usable token or user is not a session.
	if result.Success && (strings.TrimSpace(result.AccessToken) == "" || result.User == nil) {
		result.Success = false
		if result.Msg == "" {
			result.Msg = "login response did not include a session"
		}
	}
	if result.Success && !result.User.Role.Valid() {
		return nil, &ResponseError{Kind: LoginFailedErr, Msg: "unknown role " + string(result.User.Role)}
	}
	return result, nil
}

// Signup registers a new account. It is a pass-through: the form is not validated here and
// no local state changes.
func (s *Service) Signup(ctx context.Context, form users.SignupForm) (*AuthResult, error) {
	var parts []apiclient.Part
	if form.Image != nil {
		parts = append(parts, apiclient.Part{
			Field:       "image",
			Filename:    form.Image.Filename,
			ContentType: form.Image.ContentType,
			Data:        form.Image.Data,
		})
	}

	var resp authResponse
	if err := s.api.PostMultipart(ctx, apiclient.PathSignup, form.Fields(), parts, &resp); err != nil {
		classified := classify(opSignup, err)
		s.log.Debug().Err(classified).Str("email", form.Email).Msg("signup failed")
		return nil, classified
	}
	return &AuthResult{Success: resp.Success, Msg: resp.Msg, User: resp.User, ReceivedAt: s.nowTime()}, nil
}

// RefreshAccessToken exchanges the ambient refresh cookie for a new access token and
// persists it. Every failure is reported as SessionExpiredErr. A token that arrives after
// the session was cleared is revoked and never stored.
func (s *Service) RefreshAccessToken(ctx context.Context) (string, error) {
	gen := s.tokens.Generation()
	var resp refreshResponse
	if err := s.api.DoJSON(ctx, http.MethodPost, apiclient.PathRefresh, nil, &resp); err != nil {
		classified := classify(opRefresh, err)
		s.log.Info().Err(classified).Msg("token refresh failed")
		return "", classified
	}
	if strings.TrimSpace(resp.AccessToken) == "" {
		return "", &ResponseError{Kind: SessionExpiredErr, Msg: "refresh response had no token"}
	}
	if err := s.tokens.SetIfGeneration(ctx, resp.AccessToken, gen); err != nil {
		if errors.Is(err, tokenstore.ClearedErr) {
			s.log.Info().Msg("session cleared during refresh, discarding new token")
			if rerr := s.revoke(context.WithoutCancel(ctx), resp.AccessToken); rerr != nil {
				s.log.Warn().Err(rerr).Msg("revoking discarded token")
			}
			return "", &ResponseError{Kind: SessionExpiredErr, Msg: "session ended during refresh", Cause: err}
		}
		return "", &ResponseError{Kind: SessionExpiredErr, Cause: errors.Wrap(err, "Service.RefreshAccessToken persist token")}
	}
	s.log.Debug().Msg("access token refreshed")
	return resp.AccessToken, nil
}

// Logout revokes the session remotely on a best-effort basis and always clears the local
// token. Nothing is returned because there is nothing for the caller to handle.
func (s *Service) Logout(ctx context.Context) {
	token, ok, err := s.tokens.Get(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("reading token for logout")
	}

	if ok {
		if err := s.revoke(ctx, token); err != nil {
			s.log.Warn().Err(err).Msg("remote logout failed, clearing local session anyway")
		}
	}

	// The caller's context may already be cancelled; the local clear must still happen.
	if err := s.tokens.Clear(context.WithoutCancel(ctx)); err != nil {
		s.log.Error().Err(err).Msg("clearing token on logout")
	}
}

func (s *Service) revoke(ctx context.Context, token string) error {
	req, err := s.api.NewRequest(ctx, http.MethodPost, apiclient.PathLogout, nil)
	if err != nil {
		return err
	}
	tokenstore.BearerToken(token).SetAuthHeader(req)
	return s.api.Do(req, nil)
}
