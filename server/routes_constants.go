package server

// Route path constants
const (
	RouteLanding       = "/"
	RouteLogin         = "/login"
	RouteAdminLogin    = "/login/admin"
	RouteSignup        = "/signup"
	RouteLogout        = "/logout"
	RouteUnauthorized  = "/unauthorized"
	RouteProfile       = "/profile"
	RouteProfileReload = "/profile/reload"

	// Role dashboards; everything below each is gated to the role.
	RouteAdmin   = "/admin"
	RouteDoctor  = "/doctor"
	RoutePatient = "/patient"

	// JSON API for scripts and the CLI
	RouteAPISession        = "/api/session"
	RouteAPISessionRefresh = "/api/session/refresh"
	RouteAPIProxy          = "/api/backend/"

	RouteMetrics = "/metrics"
	RouteHealth  = "/healthz"
)
