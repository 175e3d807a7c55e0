package auth_test

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/apiclient"
	"github.com/jrsteele09/go-auth-client/apiclient/apifake"
	"github.com/jrsteele09/go-auth-client/auth"
	"github.com/jrsteele09/go-auth-client/tokenstore"
	"github.com/jrsteele09/go-auth-client/users"
	"github.com/stretchr/testify/require"
)

const (
	testUserEmail    = "jane.doe@example.com"
	testUserPassword = "Secret@123"
)

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

type testFixture struct {
	backend *apifake.Backend
	tokens  *tokenstore.TokenStore
	service *auth.Service
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	backend := apifake.New()
	t.Cleanup(backend.Close)
	backend.AddUser(users.User{ID: "user-1", Email: testUserEmail, FullName: "Jane Doe", Role: users.RoleDoctor}, testUserPassword)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	api, err := apiclient.New(backend.URL(), &http.Client{Jar: jar})
	require.NoError(t, err)

	tokens := tokenstore.New(nil)
	service, err := auth.NewService(api, tokens, auth.WithNowFunc(func() time.Time { return fixedNow }))
	require.NoError(t, err)

	return &testFixture{backend: backend, tokens: tokens, service: service}
}

func TestNewService_RequiresDependencies(t *testing.T) {
	_, err := auth.NewService(nil, tokenstore.New(nil))
	require.Error(t, err)

	api, err := apiclient.New("http://localhost", nil)
	require.NoError(t, err)
	_, err = auth.NewService(api, nil)
	require.Error(t, err)
}

func TestLogin_Success(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	result, err := f.service.Login(ctx, testUserEmail, testUserPassword)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.NotEmpty(t, result.AccessToken)
	require.NotNil(t, result.User)
	require.Contains(t, users.Roles(), result.User.Role)
	require.Equal(t, fixedNow, result.ReceivedAt)

	stored, ok, err := f.tokens.Get(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, result.AccessToken, stored)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	require.NoError(t, f.tokens.Set(ctx, "previous-token"))

	result, err := f.service.Login(ctx, testUserEmail, "wrong")
	require.Nil(t, result)
	require.ErrorIs(t, err, auth.InvalidCredentialsErr)
	require.Equal(t, "Invalid credentials. Please try again.", auth.UserMessage(err))

	var respErr *auth.ResponseError
	require.ErrorAs(t, err, &respErr)
	require.Equal(t, http.StatusUnauthorized, respErr.StatusCode)

	stored, _, err := f.tokens.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "previous-token", stored, "a failed login leaves the token store untouched")
}

func TestLogin_RateLimited(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.RateLimitLogin.Store(true)

	_, err := f.service.Login(context.Background(), testUserEmail, testUserPassword)
	require.ErrorIs(t, err, auth.RateLimitedErr)
	require.Equal(t, "Too many login attempts. Please try again later.", auth.UserMessage(err))
	require.False(t, f.tokens.Has(context.Background()))
}

func TestLogin_NetworkError(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.Close()

	_, err := f.service.Login(context.Background(), testUserEmail, testUserPassword)
	require.ErrorIs(t, err, auth.NetworkErr)
	require.Equal(t, "Network error. Please try again.", auth.UserMessage(err))
}

func TestLoginAs(t *testing.T) {
	t.Run("matching role persists", func(t *testing.T) {
		f := setupTestFixture(t)
		result, err := f.service.LoginAs(context.Background(), testUserEmail, testUserPassword, users.RoleDoctor)
		require.NoError(t, err)
		require.True(t, result.Success)
		require.True(t, f.tokens.Has(context.Background()))
	})

	t.Run("other role denied", func(t *testing.T) {
		f := setupTestFixture(t)
		result, err := f.service.LoginAs(context.Background(), testUserEmail, testUserPassword, users.RoleAdmin)
		require.Nil(t, result)
		require.ErrorIs(t, err, auth.RoleDeniedErr)
		require.False(t, f.tokens.Has(context.Background()))
	})
}

func TestSignup(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	form := users.SignupForm{
		Email:        "new.patient@example.com",
		FullName:     "New Patient",
		Password:     "Another@123",
		MobileNumber: "+441234567890",
		Role:         users.RolePatient,
		Address:      "1 High Street",
		Image:        &users.FileUpload{Filename: "me.png", ContentType: "image/png", Data: []byte("png-bytes")},
	}

	result, err := f.service.Signup(ctx, form)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "User registered successfully", result.Msg)
	require.False(t, f.tokens.Has(ctx), "signup does not log in")

	rec := f.backend.LastSignup()
	require.NotNil(t, rec)
	require.Equal(t, form.Email, rec.Fields["email"])
	require.Equal(t, "New Patient", rec.Fields["fullName"])
	require.Equal(t, "Patient", rec.Fields["role"])
	require.Equal(t, "1 High Street", rec.Fields["address"])
	require.Equal(t, "me.png", rec.ImageName)
	require.Equal(t, []byte("png-bytes"), rec.Image)

	t.Run("duplicate passes server message through", func(t *testing.T) {
		_, err := f.service.Signup(ctx, form)
		require.ErrorIs(t, err, auth.SignupValidationErr)
		require.Equal(t, "User already exists", auth.UserMessage(err))
	})
}

func TestRefreshAccessToken(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	first, err := f.service.Login(ctx, testUserEmail, testUserPassword)
	require.NoError(t, err)

	token, err := f.service.RefreshAccessToken(ctx)
	require.NoError(t, err)
	require.NotEqual(t, first.AccessToken, token)
	stored, _, err := f.tokens.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, token, stored)

	t.Run("rejected refresh is session expired", func(t *testing.T) {
		f.backend.FailRefresh.Store(true)
		_, err := f.service.RefreshAccessToken(ctx)
		require.ErrorIs(t, err, auth.SessionExpiredErr)
		require.Equal(t, "Your session has expired. Please log in again.", auth.UserMessage(err))
	})

	t.Run("unreachable backend is session expired", func(t *testing.T) {
		f.backend.Close()
		_, err := f.service.RefreshAccessToken(ctx)
		require.ErrorIs(t, err, auth.SessionExpiredErr)
		require.NotErrorIs(t, err, auth.NetworkErr)
	})
}

func TestRefreshAccessToken_ClearedMidFlight(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	_, err := f.service.Login(ctx, testUserEmail, testUserPassword)
	require.NoError(t, err)

	f.backend.RefreshDelay = 200 * time.Millisecond
	errs := make(chan error, 1)
	go func() {
		_, err := f.service.RefreshAccessToken(ctx)
		errs <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, f.tokens.Clear(ctx))

	err = <-errs
	require.ErrorIs(t, err, auth.SessionExpiredErr)
	require.False(t, f.tokens.Has(ctx), "a cleared session stays cleared")
	require.Equal(t, int32(1), f.backend.LogoutCalls.Load(), "the discarded token is revoked")
}

func TestRefreshAccessToken_WithoutCookie(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.service.RefreshAccessToken(context.Background())
	require.ErrorIs(t, err, auth.SessionExpiredErr)
}

func TestLogout(t *testing.T) {
	t.Run("revokes and clears", func(t *testing.T) {
		f := setupTestFixture(t)
		ctx := context.Background()
		result, err := f.service.Login(ctx, testUserEmail, testUserPassword)
		require.NoError(t, err)

		f.service.Logout(ctx)
		require.False(t, f.tokens.Has(ctx))
		require.Equal(t, int32(1), f.backend.LogoutCalls.Load())
		require.False(t, f.backend.TokenValid(result.AccessToken))
	})

	t.Run("remote failure still clears", func(t *testing.T) {
		f := setupTestFixture(t)
		ctx := context.Background()
		_, err := f.service.Login(ctx, testUserEmail, testUserPassword)
		require.NoError(t, err)

		f.backend.FailLogout.Store(true)
		f.service.Logout(ctx)
		require.False(t, f.tokens.Has(ctx))

		f.service.Logout(ctx)
		require.False(t, f.tokens.Has(ctx))
		require.Equal(t, int32(1), f.backend.LogoutCalls.Load(), "no revoke is attempted without a token")
	})

	t.Run("cancelled context still clears", func(t *testing.T) {
		f := setupTestFixture(t)
		require.NoError(t, f.tokens.Set(context.Background(), "abc"))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		f.service.Logout(ctx)
		require.False(t, f.tokens.Has(context.Background()))
	})
}

func TestUserMessage(t *testing.T) {
	require.Equal(t, "", auth.UserMessage(nil))
	require.Equal(t, "Login failed. Please try again.", auth.UserMessage(auth.LoginFailedErr))
	require.Equal(t, "Registration failed. Please try again.", auth.UserMessage(auth.SignupValidationErr))
	require.Equal(t, "Server says no", auth.UserMessage(&auth.ResponseError{Kind: auth.LoginFailedErr, Msg: "Server says no"}))
}
