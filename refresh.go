package auth

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// refreshStripes bounds the per-token lock table. Exchanges on different
// token values proceed in parallel; two exchanges of the same value serialize
// so exactly one of them wins the rotation.
const refreshStripes = 64

// RefreshService issues long lived refresh tokens and exchanges them for new
// session token pairs. Every successful exchange rotates the stored value, so
// a refresh token is single use.
type RefreshService struct {
	store  UserStore
	tokens TokenService
	logger Logger
	days   int
	locks  [refreshStripes]sync.Mutex
}

// NewRefreshService creates a RefreshService. days is the refresh token
// lifetime; zero or negative falls back to the default.
func NewRefreshService(store UserStore, tokens TokenService, days int, logger Logger) *RefreshService {
	if days <= 0 {
		days = DefaultRefreshExpirationDays
	}

	if logger == nil {
		logger = defLogger{}
	}

	return &RefreshService{
		store:  store,
		tokens: tokens,
		logger: logger,
		days:   days,
	}
}

// Issue mints a fresh refresh token for user and persists it, replacing any
// token the user held before. Logging in on a new device revokes the previous
// device's refresh token as a side effect.
func (rs *RefreshService) Issue(ctx context.Context, user *User) (*SessionTokens, error) {
	accessToken, err := rs.tokens.Generate(user.Identity())
	if err != nil {
		return nil, err
	}

	value := uuid.NewString()
	expiresAt := time.Now().AddDate(0, 0, rs.days)

	if err := rs.store.SaveRefreshToken(ctx, user.ID, value, expiresAt); err != nil {
		return nil, WrapPersistenceFailure(err, "failed to persist refresh token")
	}

	return &SessionTokens{
		AccessToken:      accessToken,
		RefreshToken:     value,
		RefreshExpiresAt: expiresAt,
	}, nil
}

// Exchange validates a presented refresh token value, mints a new access
// token, and rotates the stored refresh token. The old value is unusable
// afterwards. Unknown, revoked, or expired values all report the same
// ErrRefreshTokenInvalid so callers cannot probe which one it was.
func (rs *RefreshService) Exchange(ctx context.Context, value string) (*SessionTokens, error) {
	if value == "" {
		return nil, ErrRefreshTokenInvalid
	}

	lock := &rs.locks[rs.stripe(value)]
	lock.Lock()
	defer lock.Unlock()

	user, err := rs.store.GetByRefreshToken(ctx, value)
	if err != nil {
		rs.logger.Debug("refresh token lookup failed: %s", err)
		return nil, ErrRefreshTokenInvalid
	}

	now := time.Now()
	if !user.RefreshTokenUsable(now) {
		rs.logger.Info("rejected refresh for user %s: token revoked or expired", user.Username)
		return nil, ErrRefreshTokenInvalid
	}

	accessToken, err := rs.tokens.Generate(user.Identity())
	if err != nil {
		return nil, err
	}

	next := uuid.NewString()
	expiresAt := now.AddDate(0, 0, rs.days)

	if err := rs.store.RotateRefreshToken(ctx, user.ID, value, next, expiresAt); err != nil {
		// A concurrent exchange already rotated this value out from under us.
		rs.logger.Info("refresh rotation lost the race for user %s", user.Username)
		return nil, ErrRefreshTokenInvalid
	}

	return &SessionTokens{
		AccessToken:      accessToken,
		RefreshToken:     next,
		RefreshExpiresAt: expiresAt,
	}, nil
}

func (rs *RefreshService) stripe(value string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(value))
	return h.Sum32() % refreshStripes
}
