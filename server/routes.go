package server

import (
	"net/http"

	"github.com/jrsteele09/go-auth-client/routegate"
	"github.com/jrsteele09/go-auth-client/users"
)

var proxiedMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}

func (s *Server) initRoutes() {
	// Anything unmatched falls back to the landing page, still behind the role table.
	s.RegisterRouteFunc("GET /", ChainMiddleware(s.LandingHandler(), s.HTMLMiddleWare(s.GuardMiddleware)...))

	// LOGIN / SIGNUP / LOGOUT
	// Forms that change the session are refused when another site submits them.
	s.RegisterRouteFunc("GET "+RouteLogin, ChainMiddleware(s.LoginPageHandler(RouteLogin, users.RoleNone), s.HTMLMiddleWare()...))
	s.RegisterRouteFunc("POST "+RouteLogin, ChainMiddleware(s.LoginSubmissionHandler(RouteLogin, users.RoleNone), s.HTMLMiddleWare(s.OriginGuardMiddleware)...))
	s.RegisterRouteFunc("GET "+RouteAdminLogin, ChainMiddleware(s.LoginPageHandler(RouteAdminLogin, users.RoleAdmin), s.HTMLMiddleWare()...))
	s.RegisterRouteFunc("POST "+RouteAdminLogin, ChainMiddleware(s.LoginSubmissionHandler(RouteAdminLogin, users.RoleAdmin), s.HTMLMiddleWare(s.OriginGuardMiddleware)...))
	s.RegisterRouteFunc("GET "+RouteSignup, ChainMiddleware(s.SignupGetHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteFunc("POST "+RouteSignup, ChainMiddleware(s.SignupPostHandler(), s.HTMLMiddleWare(s.OriginGuardMiddleware)...))
	s.RegisterRouteFunc("POST "+RouteLogout, ChainMiddleware(s.LogoutHandler(), s.HTMLMiddleWare(s.OriginGuardMiddleware)...))
	s.RegisterRouteFunc("GET "+RouteUnauthorized, ChainMiddleware(s.UnauthorizedHandler(), s.HTMLMiddleWare()...))

	// Role gated pages
	s.RegisterRouteFunc("GET "+RouteAdmin, ChainMiddleware(s.DashboardHandler("Admin Dashboard"), s.HTMLMiddleWare(s.gated(RouteAdmin))...))
	s.RegisterRouteFunc("GET "+RouteAdmin+"/{section}", ChainMiddleware(s.DashboardHandler("Admin Dashboard"), s.HTMLMiddleWare(s.gated(RouteAdmin))...))
	s.RegisterRouteFunc("GET "+RouteDoctor, ChainMiddleware(s.DashboardHandler("Doctor Dashboard"), s.HTMLMiddleWare(s.gated(RouteDoctor))...))
	s.RegisterRouteFunc("GET "+RouteDoctor+"/{section}", ChainMiddleware(s.DashboardHandler("Doctor Dashboard"), s.HTMLMiddleWare(s.gated(RouteDoctor))...))
	s.RegisterRouteFunc("GET "+RoutePatient, ChainMiddleware(s.DashboardHandler("Patient Dashboard"), s.HTMLMiddleWare(s.gated(RoutePatient))...))
	s.RegisterRouteFunc("GET "+RoutePatient+"/{section}", ChainMiddleware(s.DashboardHandler("Patient Dashboard"), s.HTMLMiddleWare(s.gated(RoutePatient))...))
	s.RegisterRouteFunc("GET "+RouteProfile, ChainMiddleware(s.ProfileHandler(), s.HTMLMiddleWare(s.gated(RouteProfile))...))
	s.RegisterRouteFunc("POST "+RouteProfileReload, ChainMiddleware(s.ProfileReloadHandler(), s.HTMLMiddleWare(s.OriginGuardMiddleware, s.gated(RouteProfile))...))

	// JSON API
	s.RegisterRouteFunc("OPTIONS /api/", ChainMiddleware(s.PreflightHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("GET "+RouteAPISession, ChainMiddleware(s.SessionHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("POST "+RouteAPISessionRefresh, ChainMiddleware(s.SessionRefreshHandler(), s.APIMiddleware()...))
	for _, method := range proxiedMethods {
		s.RegisterRouteFunc(method+" "+RouteAPIProxy, ChainMiddleware(s.proxy.ServeHTTP, s.APIMiddleware()...))
	}

	s.RegisterRouteHandler("GET "+RouteMetrics, s.metrics.Handler())
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())
}

// gated looks up the role table entry for prefix so the page and the table cannot disagree.
func (s *Server) gated(prefix string) func(http.HandlerFunc) http.HandlerFunc {
	route, ok := routegate.Match(prefix)
	if !ok {
		route = routegate.Route{Prefix: prefix, Role: users.RoleNone}
	}
	return s.RequireMiddleware(route)
}
