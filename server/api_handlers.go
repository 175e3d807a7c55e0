package server

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/jrsteele09/go-auth-client/auth"
	"github.com/jrsteele09/go-auth-client/routegate"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/jrsteele09/go-auth-client/tokenstore"
	"github.com/jrsteele09/go-auth-client/users"
)

type tokenView struct {
	Opaque    bool       `json:"opaque"`
	Subject   string     `json:"subject,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Expired   bool       `json:"expired"`
}

type sessionView struct {
	State        string           `json:"state"`
	Loading      bool             `json:"loading"`
	IsLoggingOut bool             `json:"isLoggingOut"`
	User         *users.User      `json:"user"`
	HomePath     string           `json:"homePath"`
	NavLinks     []routegate.Link `json:"navLinks"`
	Token        *tokenView       `json:"token,omitempty"`
	Error        string           `json:"error,omitempty"`
}

func (s *Server) sessionView(r *http.Request, snap session.Snapshot) sessionView {
	view := sessionView{
		State:        snap.State.String(),
		Loading:      snap.Loading,
		IsLoggingOut: snap.IsLoggingOut,
		User:         snap.User,
		HomePath:     routegate.HomePath(snap.Role()),
		NavLinks:     routegate.NavLinks(snap.Role()),
	}
	if token, ok, err := s.tokens.Get(r.Context()); err == nil && ok {
		info := tokenstore.Inspect(token)
		view.Token = &tokenView{Opaque: info.Opaque, Subject: info.Subject, Expired: info.Expired(time.Now())}
		if !info.ExpiresAt.IsZero() {
			view.Token.ExpiresAt = &info.ExpiresAt
		}
	}
	return view
}

// SessionHandler reports the current session as JSON.
func (s *Server) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.sessionView(r, s.session.Snapshot()))
	}
}

// SessionRefreshHandler re-syncs the user with the backend and reports the result.
func (s *Server) SessionRefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := s.session.FetchCurrentUser(r.Context())
		snap := s.session.Snapshot()
		view := s.sessionView(r, snap)
		status := http.StatusOK
		if err != nil {
			view.Error = auth.UserMessage(err)
			status = http.StatusBadGateway
			if snap.User == nil {
				status = http.StatusUnauthorized
			}
		}
		writeJSON(w, status, view)
	}
}

// PreflightHandler answers OPTIONS requests the CORS middleware did not treat as preflights.
func (s *Server) PreflightHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
