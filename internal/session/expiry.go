package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	TeamTTL         = 90 * 24 * time.Hour
	CommissionerTTL = 24 * time.Hour
)

func (k Kind) ttl() time.Duration {
	if k == KindCommissioner {
		return CommissionerTTL
	}
	return TeamTTL
}

// tokenExpiry reads the exp claim of a JWT-shaped token without verifying
// it. The API owns the signing key; the claim is only a hint for how long to
// keep the record.
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// expiryFor picks the granted expiry, then the token's own exp, then the
// per-kind TTL.
func expiryFor(s Session, now time.Time) time.Time {
	if !s.ExpiresAt.IsZero() {
		return s.ExpiresAt
	}
	if exp, ok := tokenExpiry(s.Token); ok {
		return exp
	}
	return now.Add(s.Kind.ttl())
}
