package users

import (
	"strings"

	"github.com/pkg/errors"
)

// RoleType is the application role a user signs up with. It never changes during a session.
type RoleType string

const (
	RoleAdmin   RoleType = "Admin"
	RoleDoctor  RoleType = "Doctor"
	RolePatient RoleType = "Patient"
)

// RoleNone marks a route or request that accepts any authenticated user.
const RoleNone RoleType = ""

var InvalidRoleErr = errors.New("invalid role")

// Roles lists every known role in display order.
func Roles() []RoleType {
	return []RoleType{RoleAdmin, RoleDoctor, RolePatient}
}

// Valid reports whether r is one of the known roles.
func (r RoleType) Valid() bool {
	switch r {
	case RoleAdmin, RoleDoctor, RolePatient:
		return true
	}
	return false
}

// ParseRole matches a role name case-insensitively ("ADMIN", "admin" and "Admin" are the same role).
func ParseRole(s string) (RoleType, error) {
	for _, r := range Roles() {
		if strings.EqualFold(strings.TrimSpace(s), string(r)) {
			return r, nil
		}
	}
	return RoleNone, errors.Wrapf(InvalidRoleErr, "%q", s)
}

// User is the identity returned by the login and "who am I" endpoints.
type User struct {
	ID           string   `json:"id,omitempty"`           // Backend identifier
	Email        string   `json:"email"`                  // Login email
	FullName     string   `json:"fullName"`               // Display name
	Role         RoleType `json:"role"`                   // Admin, Doctor or Patient
	MobileNumber *string  `json:"mobileNumber,omitempty"` // Optional contact number
	ProfileImage *string  `json:"profileImage,omitempty"` // Optional image URL
}

// HasRole reports whether the user holds role. RoleNone matches any user.
func (u *User) HasRole(role RoleType) bool {
	if u == nil {
		return false
	}
	if role == RoleNone {
		return true
	}
	return strings.EqualFold(string(u.Role), string(role))
}

// SameIdentity reports whether other describes the same account with the same role.
func (u *User) SameIdentity(other *User) bool {
	if u == nil || other == nil {
		return u == other
	}
	return u.ID == other.ID && u.Email == other.Email && u.HasRole(other.Role)
}
