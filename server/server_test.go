package server_test

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/jrsteele09/go-auth-client/apiclient"
	"github.com/jrsteele09/go-auth-client/apiclient/apifake"
	"github.com/jrsteele09/go-auth-client/auth"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/jrsteele09/go-auth-client/server"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/jrsteele09/go-auth-client/tokenstore"
	"github.com/jrsteele09/go-auth-client/transport"
	"github.com/jrsteele09/go-auth-client/users"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	doctorEmail    = "dr.who@example.com"
	doctorPassword = "Tardis@1963"
	trustedOrigin  = "https://app.example.com"
	foreignOrigin  = "https://evil.example"
)

type testConfig struct {
	config.EnvVars
	config.Cors
}

type testFixture struct {
	backend *apifake.Backend
	tokens  *tokenstore.TokenStore
	store   *session.Store
	gateway *httptest.Server
	client  *http.Client
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	t.Setenv("ENV", "TEST")
	t.Setenv("CORS_ALLOWED_ORIGINS", trustedOrigin)

	backend := apifake.New()
	t.Cleanup(backend.Close)
	backend.AddUser(users.User{ID: "doc-1", Email: doctorEmail, FullName: "Dr Who", Role: users.RoleDoctor}, doctorPassword)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	raw, err := apiclient.New(backend.URL(), &http.Client{Jar: jar})
	require.NoError(t, err)

	m := metrics.New()
	tokens := tokenstore.New(tokenstore.NewMemoryStore())
	service, err := auth.NewService(raw, tokens)
	require.NoError(t, err)
	tr, err := transport.New(nil, tokens, service, transport.WithMetrics(m))
	require.NoError(t, err)
	api, err := apiclient.New(backend.URL(), &http.Client{Jar: jar, Transport: tr})
	require.NoError(t, err)
	store, err := session.New(tokens, service, api, session.WithMetrics(m))
	require.NoError(t, err)
	tr.OnSessionExpired(store.ForceLogout)
	require.NoError(t, store.Start(context.Background()))

	srv, err := server.New(testConfig{}, server.Deps{
		Session: store,
		Auth:    service,
		Tokens:  tokens,
		Backend: tr,
		BaseURL: backend.URL(),
		Metrics: m,
		Log:     zerolog.Nop(),
	})
	require.NoError(t, err)
	gateway := httptest.NewServer(srv)
	t.Cleanup(gateway.Close)

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	return &testFixture{backend: backend, tokens: tokens, store: store, gateway: gateway, client: client}
}

func (f *testFixture) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := f.client.Get(f.gateway.URL + path)
	require.NoError(t, err)
	return resp, readBody(t, resp)
}

func (f *testFixture) postForm(t *testing.T, path string, form url.Values) (*http.Response, string) {
	t.Helper()
	resp, err := f.client.PostForm(f.gateway.URL+path, form)
	require.NoError(t, err)
	return resp, readBody(t, resp)
}

func (f *testFixture) login(t *testing.T) {
	t.Helper()
	resp, _ := f.postForm(t, server.RouteLogin, url.Values{"email": {doctorEmail}, "password": {doctorPassword}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, server.RouteDoctor, resp.Header.Get("Location"))
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := server.New(testConfig{}, server.Deps{})
	require.Error(t, err)
}

func TestServer_GatesAnonymousVisitors(t *testing.T) {
	f := setupTestFixture(t)

	for _, path := range []string{server.RouteDoctor, server.RouteAdmin + "/users", server.RouteProfile} {
		resp, _ := f.get(t, path)
		require.Equal(t, http.StatusSeeOther, resp.StatusCode, path)
		require.Equal(t, "/", resp.Header.Get("Location"), path)
	}

	resp, body := f.get(t, server.RouteLanding)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "Go Auth Client")
	require.Equal(t, "SAMEORIGIN", resp.Header.Get("X-Frame-Options"))
}

func TestServer_LoginAndRoleGating(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)

	resp, body := f.get(t, server.RouteDoctor)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "Dr Who")
	require.Contains(t, body, `<form method="post" action="/logout"`)
	require.NotContains(t, body, `href="/logout"`)

	resp, _ = f.get(t, server.RouteDoctor+"/patients")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.get(t, server.RouteAdmin)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, server.RouteUnauthorized, resp.Header.Get("Location"))

	resp, _ = f.get(t, server.RouteUnauthorized)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = f.get(t, server.RouteProfile)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, doctorEmail)
}

func TestServer_LoginRejected(t *testing.T) {
	f := setupTestFixture(t)

	resp, body := f.postForm(t, server.RouteLogin, url.Values{"email": {doctorEmail}, "password": {"wrong"}})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Contains(t, body, "Invalid credentials. Please try again.")
	require.Contains(t, body, doctorEmail)
	require.False(t, f.tokens.Has(context.Background()))
}

func TestServer_AdminLoginDeniesOtherRoles(t *testing.T) {
	f := setupTestFixture(t)

	resp, body := f.postForm(t, server.RouteAdminLogin, url.Values{"email": {doctorEmail}, "password": {doctorPassword}})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Contains(t, body, "Access denied.")
	require.False(t, f.tokens.Has(context.Background()))
	require.Nil(t, f.store.Snapshot().User)
}

func TestServer_Signup(t *testing.T) {
	f := setupTestFixture(t)

	t.Run("invalid form is not sent", func(t *testing.T) {
		resp, body := f.postForm(t, server.RouteSignup, url.Values{"email": {"not-an-email"}, "role": {"Patient"}})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Contains(t, body, "not-an-email")
		require.Nil(t, f.backend.LastSignup())
	})

	t.Run("multipart form with image", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fields := map[string]string{
			"email":        "jane.doe@example.com",
			"fullName":     "Jane Doe",
			"password":     "Str0ng!Pass",
			"mobileNumber": "+447700900123",
			"role":         "patient",
			"address":      "1 Clinic Road",
		}
		for k, v := range fields {
			require.NoError(t, mw.WriteField(k, v))
		}
		part, err := mw.CreateFormFile("image", "me.png")
		require.NoError(t, err)
		_, err = part.Write([]byte("png-bytes"))
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		resp, err := f.client.Post(f.gateway.URL+server.RouteSignup, mw.FormDataContentType(), &buf)
		require.NoError(t, err)
		readBody(t, resp)
		require.Equal(t, http.StatusSeeOther, resp.StatusCode)
		require.Equal(t, server.RouteLogin+"?registered=1", resp.Header.Get("Location"))

		record := f.backend.LastSignup()
		require.NotNil(t, record)
		require.Equal(t, "Patient", record.Fields["role"])
		require.Equal(t, "me.png", record.ImageName)
		require.Equal(t, []byte("png-bytes"), record.Image)

		_, body := f.get(t, server.RouteLogin+"?registered=1")
		require.Contains(t, body, "Registration successful")
	})
}

func TestServer_Logout(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)

	resp, _ := f.postForm(t, server.RouteLogout, nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/", resp.Header.Get("Location"))
	require.Equal(t, int32(1), f.backend.LogoutCalls.Load())
	require.False(t, f.tokens.Has(context.Background()))
	require.Equal(t, session.StateAnonymous, f.store.Snapshot().State)

	resp, _ = f.get(t, server.RouteDoctor)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
}

func (f *testFixture) do(t *testing.T, method, path string, headers map[string]string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, f.gateway.URL+path, strings.NewReader("payload"))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := f.client.Do(req)
	require.NoError(t, err)
	return resp, readBody(t, resp)
}

func TestServer_RejectsCrossSiteRequests(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	ctx := context.Background()
	proxied := server.RouteAPIProxy + "api/data"

	tests := []struct {
		name    string
		method  string
		path    string
		headers map[string]string
	}{
		{name: "proxy post from foreign origin", method: http.MethodPost, path: proxied, headers: map[string]string{"Origin": foreignOrigin}},
		{name: "proxy delete from foreign origin", method: http.MethodDelete, path: proxied, headers: map[string]string{"Origin": foreignOrigin}},
		{name: "proxy get marked cross-site", method: http.MethodGet, path: proxied, headers: map[string]string{"Sec-Fetch-Site": "cross-site"}},
		{name: "proxy post from opaque origin", method: http.MethodPost, path: proxied, headers: map[string]string{"Origin": "null"}},
		{name: "logout form from foreign origin", method: http.MethodPost, path: server.RouteLogout, headers: map[string]string{"Origin": foreignOrigin}},
		{name: "session refresh marked cross-site", method: http.MethodPost, path: server.RouteAPISessionRefresh, headers: map[string]string{"Sec-Fetch-Site": "cross-site"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := f.do(t, tt.method, tt.path, tt.headers)
			require.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}

	require.Equal(t, int32(0), f.backend.DataCalls.Load(), "nothing reached the backend")
	require.Equal(t, int32(0), f.backend.LogoutCalls.Load())
	require.True(t, f.tokens.Has(ctx))
	require.Equal(t, session.StateAuthenticated, f.store.Snapshot().State)

	t.Run("logout is not reachable by link", func(t *testing.T) {
		resp, _ := f.do(t, http.MethodGet, server.RouteLogout, map[string]string{"Sec-Fetch-Site": "cross-site"})
		require.NotEqual(t, http.StatusSeeOther, resp.StatusCode)
		require.Equal(t, int32(0), f.backend.LogoutCalls.Load())
		require.True(t, f.tokens.Has(ctx))
		require.Equal(t, session.StateAuthenticated, f.store.Snapshot().State)
	})

	t.Run("same origin passes", func(t *testing.T) {
		resp, _ := f.do(t, http.MethodPost, proxied, map[string]string{"Origin": f.gateway.URL, "Sec-Fetch-Site": "same-origin"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, int32(1), f.backend.DataCalls.Load())
	})

	t.Run("trusted origin passes with cors headers", func(t *testing.T) {
		resp, _ := f.do(t, http.MethodPost, proxied, map[string]string{"Origin": trustedOrigin, "Sec-Fetch-Site": "cross-site"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, trustedOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
		require.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
	})

	t.Run("preflight from trusted origin", func(t *testing.T) {
		resp, _ := f.do(t, http.MethodOptions, proxied, map[string]string{
			"Origin":                        trustedOrigin,
			"Access-Control-Request-Method": http.MethodPost,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, trustedOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight from foreign origin gets no grant", func(t *testing.T) {
		resp, _ := f.do(t, http.MethodOptions, proxied, map[string]string{
			"Origin":                        foreignOrigin,
			"Access-Control-Request-Method": http.MethodPost,
		})
		require.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	})
}

func TestServer_SessionAPI(t *testing.T) {
	f := setupTestFixture(t)

	var view map[string]any
	resp, body := f.get(t, server.RouteAPISession)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	require.NoError(t, json.Unmarshal([]byte(body), &view))
	require.Equal(t, "anonymous", view["state"])
	require.Nil(t, view["user"])

	f.login(t)
	_, body = f.get(t, server.RouteAPISession)
	view = nil
	require.NoError(t, json.Unmarshal([]byte(body), &view))
	require.Equal(t, "authenticated", view["state"])
	require.Equal(t, server.RouteDoctor, view["homePath"])
	require.NotNil(t, view["token"])

	t.Run("refresh failure reports anonymous", func(t *testing.T) {
		f.backend.FailMe.Store(true)
		resp, err := f.client.Post(f.gateway.URL+server.RouteAPISessionRefresh, "application/json", nil)
		require.NoError(t, err)
		body := readBody(t, resp)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Contains(t, body, `"state":"anonymous"`)
	})
}

func TestServer_BackendProxy(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	token, _, err := f.tokens.Get(context.Background())
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, f.gateway.URL+server.RouteAPIProxy+"api/data", strings.NewReader("payload"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer forged")
	resp, err := f.client.Do(req)
	require.NoError(t, err)
	body := readBody(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var echoed map[string]string
	require.NoError(t, json.Unmarshal([]byte(body), &echoed))
	require.Equal(t, token, echoed["token"])
	require.Equal(t, "payload", echoed["body"])
	require.NotEmpty(t, echoed["requestId"])

	t.Run("expired access token is refreshed", func(t *testing.T) {
		f.backend.ExpireAccessTokens()
		resp, body := f.get(t, server.RouteAPIProxy+"api/data")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, int32(1), f.backend.RefreshCalls.Load())

		var echoed map[string]string
		require.NoError(t, json.Unmarshal([]byte(body), &echoed))
		require.NotEqual(t, token, echoed["token"])
	})

	t.Run("failed refresh ends the session", func(t *testing.T) {
		f.backend.ExpireAccessTokens()
		f.backend.FailRefresh.Store(true)
		resp, body := f.get(t, server.RouteAPIProxy+"api/data")
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Contains(t, body, "Your session has expired")
		require.False(t, f.tokens.Has(context.Background()))
		require.Nil(t, f.store.Snapshot().User)
	})
}

func TestServer_MetricsAndHealth(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	f.get(t, server.RouteAdmin)

	resp, body := f.get(t, server.RouteMetrics)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, `auth_client_logins_total{outcome="success"} 1`)
	require.Contains(t, body, `auth_client_gateway_requests_total{decision="redirect-unauthorized",route="/admin"} 1`)

	resp, body = f.get(t, server.RouteHealth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"status":"ok"}`, body)
}
