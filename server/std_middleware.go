package server

import (
	"fmt"
	"net/http"
	"net/url"
	"runtime/debug"

	"github.com/jrsteele09/go-auth-client/routegate"
)

func ChainMiddleware(routeFunction http.HandlerFunc, mw ...func(http.HandlerFunc) http.HandlerFunc) http.HandlerFunc {
	chainedHandler := routeFunction
	// Apply middleware in reverse order
	for i := len(mw) - 1; i >= 0; i-- {
		chainedHandler = mw[i](chainedHandler)
	}
	return chainedHandler
}

func (s *Server) HTMLMiddleWare(mw ...func(http.HandlerFunc) http.HandlerFunc) []func(http.HandlerFunc) http.HandlerFunc {
	chainedMiddleWare := []func(http.HandlerFunc) http.HandlerFunc{
		s.LoggingMiddleware,
		s.RecoverMiddleware,
		s.FrameSecurityMiddleware,
	}
	return append(chainedMiddleWare, mw...)
}

func (s *Server) APIMiddleware() []func(http.HandlerFunc) http.HandlerFunc {
	return []func(http.HandlerFunc) http.HandlerFunc{
		s.LoggingMiddleware,
		s.RecoverMiddleware,
		s.CorsMiddleware,
		s.OriginGuardMiddleware,
		s.NoStoreMiddleware,
	}
}

// GuardMiddleware applies the role route table to the request path.
func (s *Server) GuardMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return routegate.Guard(s.session, s.metrics)(next).ServeHTTP
}

// RequireMiddleware gates a single route whatever path it was reached by.
func (s *Server) RequireMiddleware(route routegate.Route) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return routegate.Require(s.session, route, s.metrics)(next).ServeHTTP
	}
}

// CorsMiddleware answers preflights and sets the CORS headers for the configured origins.
func (s *Server) CorsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return s.cors(next).ServeHTTP
}

// OriginGuardMiddleware rejects requests a browser sent on behalf of another site. The
// gateway acts with the stored session, so they must not reach the handler.
func (s *Server) OriginGuardMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.sameOrigin(r) {
			s.log.Warn().Str("method", r.Method).Str("path", r.URL.Path).
				Str("origin", r.Header.Get("Origin")).Str("fetchSite", r.Header.Get("Sec-Fetch-Site")).
				Msg("cross-site request rejected")
			http.Error(w, "403 - Forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

// sameOrigin trusts the Origin header when present and falls back to Sec-Fetch-Site.
// Requests carrying neither come from non-browser clients.
func (s *Server) sameOrigin(r *http.Request) bool {
	if origin := r.Header.Get("Origin"); origin != "" {
		if s.allowedOrigins.IsAllowedOrigin(origin) {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host != "" && u.Host == r.Host
	}
	switch r.Header.Get("Sec-Fetch-Site") {
	case "", "same-origin", "none":
		return true
	}
	return false
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) LoggingMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		if s.env == "DEV" {
			s.logRoute(r.Method, r.URL.Path, statusColour(rec.status)+fmt.Sprint(rec.status)+ResetColor)
			return
		}
		s.log.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", rec.status).Msg("request")
	}
}

func (s *Server) FrameSecurityMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "SAMEORIGIN")
		w.Header().Set("Content-Security-Policy", "frame-ancestors 'self'")
		next(w, r)
	}
}

func (s *Server) NoStoreMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next(w, r)
	}
}

func (s *Server) RecoverMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.log.Error().Interface("panic", rec).Str("path", r.URL.Path).
					Bytes("stack", debug.Stack()).Msg("handler panicked")
				http.Error(w, "500 - Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next(w, r)
	}
}
