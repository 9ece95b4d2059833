package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpiry reads the expiry claim from a JWT without verifying its
// signature. Verification is the server's job; the client only needs
// the expiry to schedule a refresh before it lapses.
func TokenExpiry(raw string) (time.Time, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.RegisteredClaims{}
	if _, _, err := parser.ParseUnverified(raw, &claims); err != nil {
		return time.Time{}, fmt.Errorf("parsing token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return claims.ExpiresAt.Time, nil
}

// NeedsRefresh reports whether the access token expires within leeway.
// Tokens without a readable expiry never report stale; the server's 401
// drives re-authentication in that case.
func (t Tokens) NeedsRefresh(leeway time.Duration) bool {
	expiry := t.ExpiresAt
	if expiry.IsZero() {
		parsed, err := TokenExpiry(t.AccessToken)
		if err != nil || parsed.IsZero() {
			return false
		}
		expiry = parsed
	}
	return time.Until(expiry) <= leeway
}
