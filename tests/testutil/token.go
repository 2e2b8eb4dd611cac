package testutil

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSecret signs every token minted by the test helpers. The client
// never verifies signatures, so any key works.
const TokenSecret = "insync-test-secret"

// MintToken returns an HS256 token for sub expiring at exp. A zero exp
// omits the exp claim.
func MintToken(t testing.TB, sub string, exp time.Time) string {
	t.Helper()

	claims := jwt.RegisteredClaims{Subject: sub}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(TokenSecret))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return tok
}

// ValidToken returns a token for sub that expires in an hour.
func ValidToken(t testing.TB, sub string) string {
	t.Helper()
	return MintToken(t, sub, time.Now().Add(time.Hour))
}

// ExpiredToken returns a token for sub that expired a minute ago.
func ExpiredToken(t testing.TB, sub string) string {
	t.Helper()
	return MintToken(t, sub, time.Now().Add(-time.Minute))
}
