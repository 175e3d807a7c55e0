package tokenstore

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenInfo is what can be read from a token without verifying it. It is for display only;
// the backend remains the sole judge of whether a token is valid.
type TokenInfo struct {
	Opaque    bool      // Not a decodable JWT
	Subject   string    // "sub" claim, if any
	IssuedAt  time.Time // "iat" claim, zero if absent
	ExpiresAt time.Time // "exp" claim, zero if absent
}

// Expired reports whether the exp claim is in the past. Opaque tokens never report expiry.
func (i TokenInfo) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}

// Inspect decodes the claims of a JWT-shaped token without checking its signature.
func Inspect(raw string) TokenInfo {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return TokenInfo{Opaque: true}
	}

	info := TokenInfo{Subject: claims.Subject}
	if claims.IssuedAt != nil {
		info.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	return info
}
