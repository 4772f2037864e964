package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSafetyMargin is subtracted from a token's expiry so a request is never
// sent with a token that will lapse while it is in flight.
const DefaultSafetyMargin = 30 * time.Second

var (
	ErrMalformedToken = errors.New("malformed token")
	ErrMissingExpiry  = errors.New("token has no expiry")
)

// Inspector reads token claims without verifying signatures. Verification is
// the backend's job; the edge only needs to know whether a token is worth sending.
type Inspector struct {
	margin time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

type InspectorOption func(*Inspector)

// WithClock overrides the time source.
func WithClock(now func() time.Time) InspectorOption {
	return func(i *Inspector) {
		i.now = now
	}
}

func NewInspector(margin time.Duration, opts ...InspectorOption) *Inspector {
	if margin < 0 {
		margin = 0
	}
	i := &Inspector{
		margin: margin,
		now:    time.Now,
		parser: jwt.NewParser(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Decode returns the token's claims. It never panics on garbage input.
func (i *Inspector) Decode(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrMalformedToken
	}

	var claims Claims
	if _, _, err := i.parser.ParseUnverified(tokenString, &claims); err != nil {
		return nil, errors.Join(ErrMalformedToken, err)
	}
	return &claims, nil
}

func (i *Inspector) HasValidStructure(tokenString string) bool {
	_, err := i.Decode(tokenString)
	return err == nil
}

// ExpirationTime reports the declared expiry, or false when the token is
// malformed or carries no exp claim.
func (i *Inspector) ExpirationTime(tokenString string) (time.Time, bool) {
	claims, err := i.Decode(tokenString)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// IsExpired fails closed: malformed tokens and tokens without exp are expired.
// A token is usable only while now+margin is strictly before its expiry.
func (i *Inspector) IsExpired(tokenString string) bool {
	exp, ok := i.ExpirationTime(tokenString)
	if !ok {
		return true
	}
	return !i.now().Add(i.margin).Before(exp)
}

func (i *Inspector) usable(tokenString string) bool {
	return tokenString != "" && !i.IsExpired(tokenString)
}

// IsAuthenticated is true when the access token is usable, or failing that
// when the refresh token is usable and the caller can mint a new access token.
func (i *Inspector) IsAuthenticated(access, refresh string) bool {
	if i.usable(access) {
		return true
	}
	return i.usable(refresh)
}

// Remaining is how long the token stays usable, zero when it already is not.
func (i *Inspector) Remaining(tokenString string) time.Duration {
	exp, ok := i.ExpirationTime(tokenString)
	if !ok {
		return 0
	}
	left := exp.Sub(i.now().Add(i.margin))
	if left < 0 {
		return 0
	}
	return left
}
