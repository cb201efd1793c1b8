package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// TokenExpiry reads the exp claim of a JWT access token without verifying
// its signature. Opaque tokens report ok == false.
func TokenExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
