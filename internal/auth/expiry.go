package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultExpiryBuffer is how long before its expiry a token stops being used.
const DefaultExpiryBuffer = 5 * time.Minute

var parser = jwt.NewParser()

// Expiry decodes the exp claim without verifying the signature.
func Expiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// IsExpired reports whether token expires at or before now+buffer.
// Tokens that cannot be decoded count as expired.
func IsExpired(token string, now time.Time, buffer time.Duration) bool {
	exp, ok := Expiry(token)
	if !ok {
		return true
	}
	return !exp.After(now.Add(buffer))
}
