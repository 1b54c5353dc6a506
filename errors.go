package auth

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

// Text codes surfaced on structured errors so HTTP layers can branch without
// string matching.
const (
	TextCodeInvalidCreds         = "INVALID_CREDENTIALS"
	TextCodeUsernameTaken        = "USERNAME_TAKEN"
	TextCodeEmailTaken           = "EMAIL_IN_USE"
	TextCodeRegistrationNotFound = "REGISTRATION_NOT_FOUND"
	TextCodeVerificationCode     = "INVALID_VERIFICATION_CODE"
	TextCodeRefreshToken         = "REFRESH_TOKEN_INVALID"
	TextCodeTokenExpired         = "TOKEN_EXPIRED"
	TextCodeTokenMalformed       = "TOKEN_MALFORMED"
	TextCodeSigningKeyMissing    = "SIGNING_KEY_MISSING"
	TextCodePersistenceFailure   = "PERSISTENCE_FAILURE"
	TextCodeEmptyPassword        = "EMPTY_PASSWORD"
)

// ErrIdentityNotFound is returned for lookups that match no persisted user
var ErrIdentityNotFound = goerrors.New("identity not found", goerrors.CategoryNotFound)

// ErrMismatchedHashAndPassword is the constant-content credential failure.
// Unknown usernames and wrong passwords both map here so callers cannot
// enumerate accounts.
var ErrMismatchedHashAndPassword = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeInvalidCreds)

// ErrUsernameTaken rejects a registration against an existing username
var ErrUsernameTaken = goerrors.New("username is already taken", goerrors.CategoryConflict).
	WithCode(goerrors.CodeConflict).
	WithTextCode(TextCodeUsernameTaken)

// ErrEmailTaken rejects a registration against an existing email
var ErrEmailTaken = goerrors.New("email is already in use", goerrors.CategoryConflict).
	WithCode(goerrors.CodeConflict).
	WithTextCode(TextCodeEmailTaken)

// ErrRegistrationNotFound covers both "never registered" and "staged entry
// expired or already consumed"; the two are deliberately indistinguishable.
var ErrRegistrationNotFound = goerrors.New("registration not found or expired", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeRegistrationNotFound)

// ErrVerificationCode rejects a wrong or expired one-time code
var ErrVerificationCode = goerrors.New("invalid or expired verification code", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeVerificationCode)

// ErrRefreshTokenInvalid rejects unknown, expired, and already-rotated
// refresh tokens alike
var ErrRefreshTokenInvalid = goerrors.New("refresh token is invalid or expired", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeRefreshToken)

// ErrTokenExpired flags an access token whose signature checked out but whose
// expiry has passed. The request gate keys its refresh attempt off this one.
var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeTokenExpired)

// ErrTokenMalformed covers every other token validation failure
var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeTokenMalformed)

// ErrSigningKeyMissing is a startup configuration failure, not a runtime one
var ErrSigningKeyMissing = goerrors.New("signing key is not configured", goerrors.CategoryValidation).
	WithTextCode(TextCodeSigningKeyMissing)

// ErrNoEmptyString rejects empty passwords before hashing
var ErrNoEmptyString = goerrors.New("value must not be an empty string", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword)

// WrapPersistenceFailure marks a storage error during a mutation that had to
// be durable before returning.
func WrapPersistenceFailure(err error, msg string) *goerrors.Error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg).
		WithTextCode(TextCodePersistenceFailure)
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.TextCode == TextCodeTokenExpired {
		return true
	}

	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.TextCode == TextCodeTokenMalformed {
		return true
	}

	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}

// IsConflictError reports whether err is a duplicate username/email rejection
func IsConflictError(err error) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.Category == goerrors.CategoryConflict
	}
	return false
}

// isStoreNotFound classifies a UserStore miss. The bun-backed store reports
// misses under the repository layer's own category, which IsNotFound does
// not cover; in-memory stores use the plain not-found category.
func isStoreNotFound(err error) bool {
	return goerrors.IsNotFound(err) || repository.IsRecordNotFound(err)
}
