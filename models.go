package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the persisted credential record. The two-factor code slots, the
// device fingerprint, and the refresh token live inline on the row; every
// mutation path updates only its own column group.
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`

	ID           uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Username     string    `bun:"username,notnull,unique" json:"username,omitempty"`
	Email        string    `bun:"email,notnull,unique" json:"email,omitempty"`
	Phone        string    `bun:"phone_number" json:"phone_number,omitempty"`
	PasswordHash string    `bun:"password_hash,notnull" json:"-"`

	// DeviceFingerprint is the last trusted client identifier. Empty means no
	// device has completed a step-up yet.
	DeviceFingerprint string `bun:"device_fingerprint" json:"device_fingerprint,omitempty"`

	RegisterCode          string     `bun:"two_factor_register_code" json:"-"`
	RegisterCodeExpiresAt *time.Time `bun:"two_factor_register_expires_at,nullzero" json:"-"`
	LoginCode             string     `bun:"two_factor_login_code" json:"-"`
	LoginCodeExpiresAt    *time.Time `bun:"two_factor_login_expires_at,nullzero" json:"-"`

	RefreshToken          string     `bun:"refresh_token" json:"-"`
	RefreshTokenExpiresAt *time.Time `bun:"refresh_token_expires_at,nullzero" json:"-"`
	RefreshTokenActive    bool       `bun:"refresh_token_active" json:"-"`

	CreatedAt *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// Identity adapts the record to the Identity interface.
func (u *User) Identity() Identity {
	return userIdentity{user: u}
}

// HasTrustedDevice reports whether fingerprint matches the stored one. An
// empty stored fingerprint never matches: the first login always steps up.
func (u *User) HasTrustedDevice(fingerprint string) bool {
	return u.DeviceFingerprint != "" && u.DeviceFingerprint == fingerprint
}

// RegisterCodeMatches checks the registration code slot against code at now.
func (u *User) RegisterCodeMatches(code string, now time.Time) bool {
	if u.RegisterCode == "" || u.RegisterCode != code {
		return false
	}
	return deadlineValid(u.RegisterCodeExpiresAt, now)
}

// LoginCodeMatches checks the login code slot against code at now.
func (u *User) LoginCodeMatches(code string, now time.Time) bool {
	if u.LoginCode == "" || u.LoginCode != code {
		return false
	}
	return deadlineValid(u.LoginCodeExpiresAt, now)
}

// RefreshTokenUsable reports whether the stored refresh token can still be
// exchanged at now. Expiry at or before now is a rejection.
func (u *User) RefreshTokenUsable(now time.Time) bool {
	if u.RefreshToken == "" || !u.RefreshTokenActive {
		return false
	}
	return deadlineValid(u.RefreshTokenExpiresAt, now)
}

type userIdentity struct {
	user *User
}

func (i userIdentity) ID() string {
	return i.user.ID.String()
}

func (i userIdentity) Username() string {
	return i.user.Username
}

func (i userIdentity) Email() string {
	return i.user.Email
}

// RegistrationChallenge acknowledges a staged registration. The code itself
// only travels by mail.
type RegistrationChallenge struct {
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	CodeExpiresAt time.Time `json:"code_expires_at"`
}

// LoginResult is either a step-up challenge or a token pair, never both.
type LoginResult struct {
	TwoFactorRequired bool           `json:"requires_two_factor"`
	CodeExpiresAt     time.Time      `json:"code_expires_at,omitempty"`
	Tokens            *SessionTokens `json:"tokens,omitempty"`
}

// SessionTokens carries an access/refresh pair plus the refresh expiry so
// HTTP layers can mirror it onto the session cookie.
type SessionTokens struct {
	AccessToken      string    `json:"token"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// GetAccessToken returns the access token.
func (s *SessionTokens) GetAccessToken() string {
	return s.AccessToken
}

// GetRefreshToken returns the refresh token value.
func (s *SessionTokens) GetRefreshToken() string {
	return s.RefreshToken
}

// GetRefreshExpiry returns when the refresh token stops being exchangeable.
func (s *SessionTokens) GetRefreshExpiry() time.Time {
	return s.RefreshExpiresAt
}
