package server

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/go-chi/cors"
	"github.com/jrsteele09/go-auth-client/auth"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/jrsteele09/go-auth-client/tokenstore"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Deps are the session subsystem pieces the gateway serves.
type Deps struct {
	Session *session.Store
	Auth    *auth.Service
	Tokens  *tokenstore.TokenStore
	Backend http.RoundTripper // Authenticating transport used by the backend proxy
	BaseURL string
	Metrics *metrics.Metrics
	Log     zerolog.Logger
}

// Server is the local app shell: HTML pages gated by role, a JSON view of the session and a
// proxy that forwards /api/backend/ calls through the authenticating transport.
type Server struct {
	env     string
	appName string
	mux     *http.ServeMux
	routes  []string
	session *session.Store
	auth    *auth.Service
	tokens  *tokenstore.TokenStore
	metrics *metrics.Metrics
	proxy   *httputil.ReverseProxy
	log     zerolog.Logger

	allowedOrigins config.AllowedOrigins
	cors           func(http.Handler) http.Handler
}

func New(cfg config.ServerConfig, deps Deps) (*Server, error) {
	switch {
	case deps.Session == nil:
		return nil, errors.New("[Server New] session store is required")
	case deps.Auth == nil:
		return nil, errors.New("[Server New] auth service is required")
	case deps.Tokens == nil:
		return nil, errors.New("[Server New] token store is required")
	case deps.Backend == nil:
		return nil, errors.New("[Server New] backend transport is required")
	}
	target, err := url.Parse(deps.BaseURL)
	if err != nil || target.Host == "" {
		return nil, fmt.Errorf("[Server New] invalid backend URL %q", deps.BaseURL)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}

	s := &Server{
		env:     cfg.GetEnv(),
		appName: cfg.GetAppName(),
		mux:     http.NewServeMux(),
		session: deps.Session,
		auth:    deps.Auth,
		tokens:  deps.Tokens,
		metrics: deps.Metrics,
		log:     deps.Log,

		allowedOrigins: cfg.GetAllowedOrigins(),
	}
	s.cors = cors.Handler(cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			return s.allowedOrigins.IsAllowedOrigin(origin)
		},
		AllowedMethods:   cfg.GetAllowedMethods(),
		AllowedHeaders:   cfg.GetAllowedHeaders(),
		AllowCredentials: true,
		MaxAge:           86400,
	})
	s.proxy = s.newBackendProxy(target, deps.Backend)

	s.initRoutes()
	s.logRoutes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) > 1 {
			s.logRoute(parts[0], parts[1], "")
		} else {
			s.logRoute("", parts[0], "")
		}
	}
}

func (s *Server) logRoute(method, path, suffix string) {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	colour, ok := methodColors[method]
	if !ok {
		colour = Gray
	}
	s.log.Info().Msgf("[%s] %s %s", colour+paddedMethod+ResetColor, path, suffix)
}

func (s *Server) newBackendProxy(target *url.URL, transport http.RoundTripper) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Path = "/" + strings.TrimPrefix(pr.In.URL.Path, RouteAPIProxy)
			pr.Out.URL.RawPath = ""
			pr.SetURL(target)
			// Credentials come from the token store, never from the browser.
			pr.Out.Header.Del("Authorization")
			pr.Out.Header.Del("Cookie")
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, auth.SessionExpiredErr) {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": auth.UserMessage(err)})
				return
			}
			s.log.Warn().Err(err).Str("path", r.URL.Path).Msg("backend proxy failed")
			writeJSON(w, http.StatusBadGateway, map[string]string{"msg": "Network error. Please try again."})
		},
	}
}
