// Package apifake is an in-process stand-in for the identity backend, for tests.
package apifake

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-client/apiclient"
	"github.com/jrsteele09/go-auth-client/users"
)

const (
	RefreshCookie  = "refreshToken"
	DataPath       = "/api/data"
	AccessTokenTTL = 15 * time.Minute
)

type account struct {
	password string
	user     users.User
}

// SignupRecord is what the backend received on the last signup.
type SignupRecord struct {
	Fields    map[string]string
	ImageName string
	ImageType string
	Image     []byte
}

// Backend serves the auth endpoints plus DataPath, a protected resource that echoes the
// bearer token it accepted.
type Backend struct {
	Server *httptest.Server

	mu          sync.Mutex
	accounts    map[string]account // by email
	accessOwner map[string]string  // access token -> email
	refreshOf   map[string]string  // refresh cookie -> email
	seq         int
	signingKey  []byte
	lastSignup  *SignupRecord

	RefreshCalls atomic.Int32
	LogoutCalls  atomic.Int32
	MeCalls      atomic.Int32
	DataCalls    atomic.Int32

	// Behaviour switches. Set them before issuing the requests they affect.
	RefreshDelay   time.Duration
	FailRefresh    atomic.Bool
	FailLogout     atomic.Bool
	FailMe         atomic.Bool
	RateLimitLogin atomic.Bool
}

// New starts a backend. Call Close when done.
func New() *Backend {
	b := &Backend{
		accounts:    make(map[string]account),
		accessOwner: make(map[string]string),
		refreshOf:   make(map[string]string),
		signingKey:  []byte(uuid.NewString()),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+apiclient.PathLogin, b.login)
	mux.HandleFunc("POST "+apiclient.PathSignup, b.signup)
	mux.HandleFunc("POST "+apiclient.PathRefresh, b.refresh)
	mux.HandleFunc("POST "+apiclient.PathLogout, b.logout)
	mux.HandleFunc("GET "+apiclient.PathMe, b.me)
	mux.HandleFunc(DataPath, b.data)
	b.Server = httptest.NewServer(mux)
	return b
}

func (b *Backend) URL() string { return b.Server.URL }
func (b *Backend) Close()      { b.Server.Close() }

// AddUser registers an account that can log in.
func (b *Backend) AddUser(user users.User, password string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts[strings.ToLower(user.Email)] = account{password: password, user: user}
}

// SetRole changes an account's role server-side.
func (b *Backend) SetRole(email string, role users.RoleType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc := b.accounts[strings.ToLower(email)]
	acc.user.Role = role
	b.accounts[strings.ToLower(email)] = acc
}

// IssueToken mints an access token for email without a login round trip.
func (b *Backend) IssueToken(email string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.issueLocked(strings.ToLower(email))
}

// ExpireAccessTokens invalidates every access token. Refresh cookies stay valid.
func (b *Backend) ExpireAccessTokens() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accessOwner = make(map[string]string)
}

// TokenValid reports whether token is a live access token.
func (b *Backend) TokenValid(token string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.accessOwner[token]
	return ok
}

func (b *Backend) LastSignup() *SignupRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSignup
}

// issueLocked mints a signed JWT access token. Validity is still decided by accessOwner so
// tokens can be expired on demand.
func (b *Backend) issueLocked(email string) string {
	user := b.accounts[email].user
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   user.ID,
		"email": user.Email,
		"role":  string(user.Role),
		"iat":   now.Unix(),
		"exp":   now.Add(AccessTokenTTL).Unix(),
		"jti":   uuid.NewString(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.signingKey)
	if err != nil {
		panic("apifake: signing access token: " + err.Error())
	}
	b.accessOwner[token] = email
	return token
}

func (b *Backend) bearer(r *http.Request) (users.User, string, bool) {
	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found {
		return users.User{}, "", false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	email, ok := b.accessOwner[token]
	if !ok {
		return users.User{}, "", false
	}
	return b.accounts[email].user, token, true
}

func (b *Backend) login(w http.ResponseWriter, r *http.Request) {
	if b.RateLimitLogin.Load() {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"msg": "Too many login attempts"})
		return
	}
	var creds struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"msg": "bad request"})
		return
	}

	b.mu.Lock()
	email := strings.ToLower(creds.Email)
	acc, ok := b.accounts[email]
	if !ok || acc.password != creds.Password {
		b.mu.Unlock()
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "msg": "Invalid credentials"})
		return
	}
	token := b.issueLocked(email)
	b.seq++
	refresh := fmt.Sprintf("refresh-%d", b.seq)
	b.refreshOf[refresh] = email
	b.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: RefreshCookie, Value: refresh, Path: "/", HttpOnly: true})
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"accessToken": token,
		"user":        acc.user,
		"msg":         "Login successful",
	})
}

func (b *Backend) signup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"msg": "expected multipart form"})
		return
	}
	rec := &SignupRecord{Fields: make(map[string]string)}
	for k, v := range r.MultipartForm.Value {
		if len(v) > 0 {
			rec.Fields[k] = v[0]
		}
	}
	if file, hdr, err := r.FormFile("image"); err == nil {
		rec.Image, _ = io.ReadAll(file)
		_ = file.Close()
		rec.ImageName = hdr.Filename
		rec.ImageType = hdr.Header.Get("Content-Type")
	}

	b.mu.Lock()
	b.lastSignup = rec
	email := strings.ToLower(rec.Fields["email"])
	if _, exists := b.accounts[email]; exists {
		b.mu.Unlock()
		writeJSON(w, http.StatusConflict, map[string]any{"success": false, "msg": "User already exists"})
		return
	}
	b.seq++
	b.accounts[email] = account{
		password: rec.Fields["password"],
		user: users.User{
			ID:       fmt.Sprintf("user-%d", b.seq),
			Email:    rec.Fields["email"],
			FullName: rec.Fields["fullName"],
			Role:     users.RoleType(rec.Fields["role"]),
		},
	}
	b.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "msg": "User registered successfully"})
}

func (b *Backend) refresh(w http.ResponseWriter, r *http.Request) {
	b.RefreshCalls.Add(1)
	if b.RefreshDelay > 0 {
		time.Sleep(b.RefreshDelay)
	}
	if b.FailRefresh.Load() {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"msg": "Refresh token expired"})
		return
	}
	cookie, err := r.Cookie(RefreshCookie)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"msg": "No refresh token"})
		return
	}
	b.mu.Lock()
	email, ok := b.refreshOf[cookie.Value]
	var token string
	if ok {
		token = b.issueLocked(email)
	}
	b.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"msg": "Invalid refresh token"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accessToken": token})
}

func (b *Backend) logout(w http.ResponseWriter, r *http.Request) {
	b.LogoutCalls.Add(1)
	if b.FailLogout.Load() {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"msg": "logout unavailable"})
		return
	}
	if _, token, ok := b.bearer(r); ok {
		b.mu.Lock()
		delete(b.accessOwner, token)
		b.mu.Unlock()
	}
	if cookie, err := r.Cookie(RefreshCookie); err == nil {
		b.mu.Lock()
		delete(b.refreshOf, cookie.Value)
		b.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{Name: RefreshCookie, Value: "", Path: "/", MaxAge: -1})
	writeJSON(w, http.StatusOK, map[string]any{"msg": "Logged out"})
}

func (b *Backend) me(w http.ResponseWriter, r *http.Request) {
	b.MeCalls.Add(1)
	if b.FailMe.Load() {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"msg": "profile unavailable"})
		return
	}
	user, _, ok := b.bearer(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"msg": "Unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (b *Backend) data(w http.ResponseWriter, r *http.Request) {
	b.DataCalls.Add(1)
	if r.URL.Query().Get("status") != "" {
		var code int
		_, _ = fmt.Sscanf(r.URL.Query().Get("status"), "%d", &code)
		writeJSON(w, code, map[string]any{"msg": "forced status"})
		return
	}
	_, token, ok := b.bearer(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"msg": "Unauthorized"})
		return
	}
	body, _ := io.ReadAll(r.Body)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     token,
		"body":      string(body),
		"requestId": r.Header.Get("X-Request-ID"),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
