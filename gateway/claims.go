package gateway

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are read without signature verification: the client only uses them for
// display, the API remains the authority on token validity.
func parseClaims(token string) (*jwt.RegisteredClaims, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, false
	}
	return claims, true
}

// TokenExpiry returns the exp claim of a JWT access token.
func TokenExpiry(token string) (time.Time, bool) {
	claims, ok := parseClaims(token)
	if !ok || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// TokenSubject returns the sub claim of a JWT access token, or "".
func TokenSubject(token string) string {
	claims, ok := parseClaims(token)
	if !ok {
		return ""
	}
	return claims.Subject
}
