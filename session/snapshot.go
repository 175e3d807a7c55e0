package session

import "github.com/jrsteele09/go-auth-client/users"

type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateAuthenticated
	StateAnonymous
	StateLoggingOut
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	case StateLoggingOut:
		return "logging-out"
	}
	return "unknown"
}

// Snapshot is an immutable copy of the session at one moment.
type Snapshot struct {
	State        State
	User         *users.User
	Loading      bool
	IsLoggingOut bool
}

// Authenticated reports whether a user is present.
func (s Snapshot) Authenticated() bool {
	return s.User != nil
}

// Role is the user's role, or RoleNone when anonymous.
func (s Snapshot) Role() users.RoleType {
	if s.User == nil {
		return users.RoleNone
	}
	return s.User.Role
}
