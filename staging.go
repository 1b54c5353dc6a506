package auth

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// PendingRegistrations stages fully populated user candidates keyed by
// username while their email code is outstanding. It is an explicit,
// constructed dependency with a lifecycle owned by whoever builds the
// Authenticator, not package state.
//
// Entries are overwritten by a newer registration for the same username and
// evicted lazily: an expired entry lingers until a read touches it.
type PendingRegistrations struct {
	entries *xsync.MapOf[string, pendingEntry]
	ttl     time.Duration
	now     func() time.Time
}

type pendingEntry struct {
	user      *User
	expiresAt time.Time
}

type PendingOption func(*PendingRegistrations)

// WithPendingTTL overrides the staging lifetime.
func WithPendingTTL(ttl time.Duration) PendingOption {
	return func(p *PendingRegistrations) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

// WithPendingClock overrides the clock, for tests.
func WithPendingClock(now func() time.Time) PendingOption {
	return func(p *PendingRegistrations) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPendingRegistrations creates an empty staging area. The default TTL
// matches the verification code lifetime.
func NewPendingRegistrations(opts ...PendingOption) *PendingRegistrations {
	p := &PendingRegistrations{
		entries: xsync.NewMapOf[string, pendingEntry](),
		ttl:     DefaultCodeTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Put stages user under its username, replacing any prior entry.
func (p *PendingRegistrations) Put(user *User) {
	p.entries.Store(user.Username, pendingEntry{
		user:      user,
		expiresAt: p.now().Add(p.ttl),
	})
}

// Get returns the staged candidate for username if one exists and has not
// expired. Expired entries are evicted on the spot.
func (p *PendingRegistrations) Get(username string) (*User, bool) {
	entry, ok := p.entries.Load(username)
	if !ok {
		return nil, false
	}

	if deadlinePassed(entry.expiresAt, p.now()) {
		p.entries.Delete(username)
		return nil, false
	}

	return entry.user, true
}

// Take removes and returns the staged candidate for username. Of two
// concurrent callers at most one receives the entry, which is what makes
// promotion single-shot under racing verification requests.
func (p *PendingRegistrations) Take(username string) (*User, bool) {
	entry, ok := p.entries.LoadAndDelete(username)
	if !ok {
		return nil, false
	}

	if deadlinePassed(entry.expiresAt, p.now()) {
		return nil, false
	}

	return entry.user, true
}

// Remove drops any staged entry for username.
func (p *PendingRegistrations) Remove(username string) {
	p.entries.Delete(username)
}

// Len counts staged entries, including ones past expiry that no read has
// evicted yet.
func (p *PendingRegistrations) Len() int {
	return p.entries.Size()
}
