package auth

import "time"

// deadlineValid reports whether expiresAt is set and still ahead of now.
// A nil deadline fails closed: a slot without an expiry never validates.
func deadlineValid(expiresAt *time.Time, now time.Time) bool {
	return expiresAt != nil && expiresAt.After(now)
}

// deadlinePassed reports whether expiresAt is at or before now.
func deadlinePassed(expiresAt, now time.Time) bool {
	return !expiresAt.After(now)
}
