package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the token fields the client reads. The signature is never
// verified client-side; the server does that on every request.
type Claims struct {
	jwt.RegisteredClaims
}

// ParseClaims decodes the claims of token without verifying it.
func ParseClaims(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parsing token claims: %w", err)
	}
	return claims, nil
}

// ExpiredAt reports whether token is unusable at now: empty, malformed,
// lacking an exp claim, or past its expiry.
func ExpiredAt(token string, now time.Time) bool {
	if token == "" {
		return true
	}
	claims, err := ParseClaims(token)
	if err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return true
	}
	return !now.Before(claims.ExpiresAt.Time)
}
