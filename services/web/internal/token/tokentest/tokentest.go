// Package tokentest builds access tokens shaped like the marketplace API's.
package tokentest

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const secret = "test-secret"

// New signs an HS256 token carrying user_id, role and exp. A zero exp omits
// the claim.
func New(t testing.TB, userID, role string, exp time.Time) string {
	t.Helper()

	claims := jwt.MapClaims{
		"user_id": userID,
		"role":    role,
	}
	if !exp.IsZero() {
		claims["exp"] = exp.Unix()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// Valid returns a token for userID and role that expires in an hour.
func Valid(t testing.TB, userID, role string) string {
	t.Helper()
	return New(t, userID, role, time.Now().Add(time.Hour))
}
