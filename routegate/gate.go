package routegate

import (
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/jrsteele09/go-auth-client/users"
)

const (
	LandingPath      = "/"
	UnauthorizedPath = "/unauthorized"
)

type Outcome int

const (
	Placeholder Outcome = iota
	RedirectLanding
	RedirectUnauthorized
	Render
)

func (o Outcome) String() string {
	switch o {
	case Placeholder:
		return "placeholder"
	case RedirectLanding:
		return "redirect-landing"
	case RedirectUnauthorized:
		return "redirect-unauthorized"
	case Render:
		return "render"
	}
	return "unknown"
}

// Decision is what a protected route should do for one request.
type Decision struct {
	Outcome    Outcome
	RedirectTo string // Set for the redirect outcomes
}

// Evaluate gates a route requiring role (RoleNone for any signed-in user) against snap.
// It holds no state and is evaluated afresh on every navigation. A session that has not
// started yet counts as loading.
func Evaluate(snap session.Snapshot, role users.RoleType) Decision {
	switch {
	case snap.Loading, snap.State == session.StateUninitialized:
		return Decision{Outcome: Placeholder}
	case snap.User == nil:
		return Decision{Outcome: RedirectLanding, RedirectTo: LandingPath}
	case !snap.User.HasRole(role):
		return Decision{Outcome: RedirectUnauthorized, RedirectTo: UnauthorizedPath}
	}
	return Decision{Outcome: Render}
}
