package token

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of the backend's token payload the edge cares about.
// Anything else the backend puts in the token is ignored.
type Claims struct {
	Email string `json:"email,omitempty"`
	Type  string `json:"type,omitempty"`
	jwt.RegisteredClaims
}
