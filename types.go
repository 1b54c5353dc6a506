package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Identity holds the attributes of an authenticated identity
type Identity interface {
	ID() string
	Username() string
	Email() string
}

// Authenticator drives the register, step-up verification, login, and
// session refresh flows
type Authenticator interface {
	Register(ctx context.Context, username, email, password string) (*RegistrationChallenge, error)
	VerifyRegistration(ctx context.Context, username, code string) error
	Login(ctx context.Context, username, password, fingerprint string) (*LoginResult, error)
	VerifyLogin(ctx context.Context, username, code, fingerprint string) (*SessionTokens, error)
	RefreshSession(ctx context.Context, refreshToken string) (*SessionTokens, error)
}

// TokenService mints and validates signed access tokens
type TokenService interface {
	Generate(identity Identity) (string, error)
	Validate(tokenString string) (AuthClaims, error)
}

// UserStore is the credential store surface the orchestrator needs. Lookups
// return a not-found error (goerrors.IsNotFound) when no user matches. Each
// mutation is a targeted update so concurrent writers on the same user cannot
// clobber unrelated fields.
type UserStore interface {
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByRefreshToken(ctx context.Context, value string) (*User, error)

	// Promote persists a staged registration. It re-checks the username and
	// email uniqueness invariants inside the same transaction as the insert.
	Promote(ctx context.Context, user *User) (*User, error)

	SaveLoginChallenge(ctx context.Context, id uuid.UUID, code string, expiresAt time.Time) error
	SaveRefreshToken(ctx context.Context, id uuid.UUID, value string, expiresAt time.Time) error
	// RotateRefreshToken swaps oldValue for newValue conditionally: it fails
	// with a not-found error when the stored value no longer matches oldValue.
	RotateRefreshToken(ctx context.Context, id uuid.UUID, oldValue, newValue string, expiresAt time.Time) error
	TrustDevice(ctx context.Context, id uuid.UUID, fingerprint string) error
}

// Mailer delivers verification messages. Delivery is best effort from the
// orchestrator's point of view: failures are logged and audited, never fatal.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// MailerFunc adapts a function into a Mailer.
type MailerFunc func(ctx context.Context, to, subject, body string) error

// Send satisfies the Mailer interface.
func (f MailerFunc) Send(ctx context.Context, to, subject, body string) error {
	if f == nil {
		return nil
	}
	return f(ctx, to, subject, body)
}

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetSigningMethod() string
	GetContextKey() string
	GetTokenExpiration() int
	GetRefreshExpiration() int
	GetCodeTTL() time.Duration
	GetTokenLookup() string
	GetAuthScheme() string
	GetIssuer() string
	GetAudience() []string
	GetRefreshCookieName() string
}

type noopMailer struct{}

func (noopMailer) Send(context.Context, string, string, string) error {
	return nil
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
