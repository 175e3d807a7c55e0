package apiclient

// Backend endpoint paths used by the session layer.
const (
	PathLogin   = "/auth/login"
	PathSignup  = "/auth/signup"
	PathRefresh = "/auth/"
	PathLogout  = "/auth/logout"
	PathMe      = "/auth/me"
)
