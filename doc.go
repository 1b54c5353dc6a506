// Package auth provides the authentication and session lifecycle core for a
// resource-serving backend: password login with a device-aware two-factor
// step-up, email-verified registration staged in memory until the code is
// confirmed, and JWT access tokens that are transparently renewed through a
// rotating refresh token carried in an HTTP-only cookie.
//
// Flows:
//   - Register stages a candidate user keyed by username and mails a 6-digit
//     code; VerifyRegistration promotes the staged record into the store.
//   - Login compares the caller's device fingerprint against the stored one.
//     Unknown devices get a login code challenge instead of tokens;
//     VerifyLogin trades the code for tokens and trusts the device.
//   - RefreshSession exchanges an unexpired refresh token for a new access
//     token. Refresh tokens are single use: every exchange rotates the value.
//
// The request gate lives in middleware/jwtware. It validates bearer tokens,
// and when a token is merely expired it attempts exactly one refresh using the
// session cookie before rejecting the request.
package auth
