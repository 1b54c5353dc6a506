package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthClaims is what the rest of the system sees of a validated access token.
type AuthClaims interface {
	Subject() string
	Username() string
	Expires() time.Time
	IssuedAt() time.Time
}

// JWTClaims is the concrete implementation of AuthClaims. The subject is the
// username; tokens carry identity only, no authorization payload.
type JWTClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string `json:"username,omitempty"`
}

var _ AuthClaims = (*JWTClaims)(nil)

// Subject returns the subject claim
func (c *JWTClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// Username returns the username claim, falling back to the subject
func (c *JWTClaims) Username() string {
	if c.PreferredUsername != "" {
		return c.PreferredUsername
	}
	return c.Subject()
}

// Expires returns the expiration time
func (c *JWTClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *JWTClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}
