package routegate

import (
	"net/http"
	"strings"

	"github.com/jrsteele09/go-auth-client/users"
)

// Route protects Prefix and everything below it.
type Route struct {
	Prefix string
	Role   users.RoleType // RoleNone: any signed-in user
}

// Link is one navigation entry. Method is set for entries that change state and must be
// submitted as a form rather than followed.
type Link struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Method string `json:"method,omitempty"`
}

// Routes is the protected route table of the app shell.
var Routes = []Route{
	{Prefix: "/admin", Role: users.RoleAdmin},
	{Prefix: "/doctor", Role: users.RoleDoctor},
	{Prefix: "/patient", Role: users.RolePatient},
	{Prefix: "/profile", Role: users.RoleNone},
}

var roleLinks = map[users.RoleType][]Link{
	users.RoleAdmin: {
		{Name: "Manage Users", Path: "/admin/users"},
		{Name: "Manage Images", Path: "/admin/images"},
		{Name: "Manage Secrets", Path: "/admin/secrets"},
	},
	users.RoleDoctor: {
		{Name: "View Patient Images", Path: "/doctor/images"},
	},
	users.RolePatient: {
		{Name: "Upload Image", Path: "/patient/upload"},
		{Name: "View My Images", Path: "/patient/images"},
	},
}

// Match finds the most specific route covering path.
func Match(path string) (Route, bool) {
	var (
		best  Route
		found bool
	)
	for _, r := range Routes {
		if path != r.Prefix && !strings.HasPrefix(path, r.Prefix+"/") {
			continue
		}
		if !found || len(r.Prefix) > len(best.Prefix) {
			best, found = r, true
		}
	}
	return best, found
}

// HomePath is the dashboard for role, or the landing page for anyone else.
func HomePath(role users.RoleType) string {
	switch role {
	case users.RoleAdmin:
		return "/admin"
	case users.RoleDoctor:
		return "/doctor"
	case users.RolePatient:
		return "/patient"
	}
	return LandingPath
}

// NavLinks is the navigation for role. It is rebuilt on every call, never cached.
func NavLinks(role users.RoleType) []Link {
	if !role.Valid() {
		return nil
	}
	links := []Link{{Name: "Dashboard", Path: HomePath(role)}}
	links = append(links, roleLinks[role]...)
	return append(links, Link{Name: "Profile", Path: "/profile"}, Link{Name: "Logout", Path: "/logout", Method: http.MethodPost})
}
