package auth_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	auth "github.com/goliatone/go-device-auth"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const sqliteCreateUsers = `CREATE TABLE users (
    id TEXT NOT NULL PRIMARY KEY,
    username TEXT NOT NULL UNIQUE,
    email TEXT NOT NULL UNIQUE,
    phone_number TEXT,
    password_hash TEXT NOT NULL,
    device_fingerprint TEXT,
    two_factor_register_code TEXT,
    two_factor_register_expires_at TIMESTAMP NULL,
    two_factor_login_code TEXT,
    two_factor_login_expires_at TIMESTAMP NULL,
    refresh_token TEXT,
    refresh_token_expires_at TIMESTAMP NULL,
    refresh_token_active BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP,
    deleted_at TIMESTAMP NULL
);`

func setupUsersRepo(t *testing.T) (auth.Users, *bun.DB, func()) {
	t.Helper()

	db, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())

	_, err = bunDB.Exec(sqliteCreateUsers)
	require.NoError(t, err)

	repo := auth.NewUsersRepository(bunDB)

	return repo, bunDB, func() {
		bunDB.Close()
	}
}

func seedUser(t *testing.T, repo auth.Users, username, email string) *auth.User {
	t.Helper()

	record, err := repo.Create(context.Background(), &auth.User{
		Username:     username,
		Email:        email,
		PasswordHash: "$2a$04$notarealhashnotarealhashnotareal",
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, record.ID)

	return record
}

func TestUsersRepository_Lookups(t *testing.T) {
	repo, _, cleanup := setupUsersRepo(t)
	defer cleanup()

	ctx := context.Background()
	seeded := seedUser(t, repo, "lookup", "lookup@example.com")

	t.Run("by username", func(t *testing.T) {
		found, err := repo.GetByUsername(ctx, "lookup")
		require.NoError(t, err)
		assert.Equal(t, seeded.ID, found.ID)
		assert.Equal(t, "lookup@example.com", found.Email)
	})

	t.Run("by email", func(t *testing.T) {
		found, err := repo.GetByEmail(ctx, "lookup@example.com")
		require.NoError(t, err)
		assert.Equal(t, seeded.ID, found.ID)
	})

	t.Run("unknown username is not found", func(t *testing.T) {
		_, err := repo.GetByUsername(ctx, "nobody")
		require.Error(t, err)
		assert.True(t, repository.IsRecordNotFound(err))
	})

	t.Run("by refresh token", func(t *testing.T) {
		expiresAt := time.Now().Add(7 * 24 * time.Hour).UTC()
		require.NoError(t, repo.SaveRefreshToken(ctx, seeded.ID, "rt-lookup", expiresAt))

		found, err := repo.GetByRefreshToken(ctx, "rt-lookup")
		require.NoError(t, err)
		assert.Equal(t, seeded.ID, found.ID)
		assert.True(t, found.RefreshTokenActive)

		_, err = repo.GetByRefreshToken(ctx, "rt-unknown")
		require.Error(t, err)
		assert.True(t, repository.IsRecordNotFound(err))
	})
}

func TestUsersRepository_Promote(t *testing.T) {
	repo, _, cleanup := setupUsersRepo(t)
	defer cleanup()

	ctx := context.Background()

	promoted, err := repo.Promote(ctx, &auth.User{
		Username:     "pat",
		Email:        "pat@example.com",
		PasswordHash: "$2a$04$notarealhashnotarealhashnotareal",
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, promoted.ID)

	t.Run("id is derived from the email", func(t *testing.T) {
		derived, err := hashid.NewUUID("pat@example.com")
		require.NoError(t, err)
		assert.Equal(t, derived, promoted.ID)
	})

	found, err := repo.GetByUsername(ctx, "pat")
	require.NoError(t, err)
	assert.Equal(t, promoted.ID, found.ID)

	t.Run("duplicate username", func(t *testing.T) {
		_, err := repo.Promote(ctx, &auth.User{
			Username:     "pat",
			Email:        "other@example.com",
			PasswordHash: "x",
		})
		assert.ErrorIs(t, err, auth.ErrUsernameTaken)
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, err := repo.Promote(ctx, &auth.User{
			Username:     "other",
			Email:        "pat@example.com",
			PasswordHash: "x",
		})
		assert.ErrorIs(t, err, auth.ErrEmailTaken)
	})
}

func TestUsersRepository_SaveLoginChallenge(t *testing.T) {
	repo, _, cleanup := setupUsersRepo(t)
	defer cleanup()

	ctx := context.Background()
	seeded := seedUser(t, repo, "challenge", "challenge@example.com")

	expiresAt := time.Now().Add(5 * time.Minute).UTC()
	require.NoError(t, repo.SaveLoginChallenge(ctx, seeded.ID, "123456", expiresAt))

	found, err := repo.GetByUsername(ctx, "challenge")
	require.NoError(t, err)
	assert.True(t, found.LoginCodeMatches("123456", time.Now()))
	assert.False(t, found.LoginCodeMatches("654321", time.Now()))

	err = repo.SaveLoginChallenge(ctx, uuid.New(), "123456", expiresAt)
	require.Error(t, err)
	assert.True(t, repository.IsRecordNotFound(err))
}

func TestUsersRepository_RefreshTokenRotation(t *testing.T) {
	repo, _, cleanup := setupUsersRepo(t)
	defer cleanup()

	ctx := context.Background()
	seeded := seedUser(t, repo, "rotate", "rotate@example.com")
	expiresAt := time.Now().Add(7 * 24 * time.Hour).UTC()

	require.NoError(t, repo.SaveRefreshToken(ctx, seeded.ID, "rt-old", expiresAt))

	t.Run("rotates while old value holds", func(t *testing.T) {
		err := repo.RotateRefreshToken(ctx, seeded.ID, "rt-old", "rt-new", expiresAt)
		require.NoError(t, err)

		found, err := repo.GetByRefreshToken(ctx, "rt-new")
		require.NoError(t, err)
		assert.Equal(t, seeded.ID, found.ID)

		_, err = repo.GetByRefreshToken(ctx, "rt-old")
		assert.True(t, repository.IsRecordNotFound(err))
	})

	t.Run("stale old value loses", func(t *testing.T) {
		err := repo.RotateRefreshToken(ctx, seeded.ID, "rt-old", "rt-stale", expiresAt)
		require.Error(t, err)
		assert.True(t, repository.IsRecordNotFound(err))
	})

	t.Run("unknown id", func(t *testing.T) {
		err := repo.SaveRefreshToken(ctx, uuid.New(), "rt-ghost", expiresAt)
		require.Error(t, err)
		assert.True(t, repository.IsRecordNotFound(err))
	})
}

func TestUsersRepository_TrustDevice(t *testing.T) {
	repo, _, cleanup := setupUsersRepo(t)
	defer cleanup()

	ctx := context.Background()
	seeded := seedUser(t, repo, "trusted", "trusted@example.com")

	expiresAt := time.Now().Add(5 * time.Minute).UTC()
	require.NoError(t, repo.SaveLoginChallenge(ctx, seeded.ID, "123456", expiresAt))
	require.NoError(t, repo.TrustDevice(ctx, seeded.ID, "device-abc"))

	found, err := repo.GetByUsername(ctx, "trusted")
	require.NoError(t, err)
	assert.True(t, found.HasTrustedDevice("device-abc"))
	assert.False(t, found.HasTrustedDevice("device-xyz"))
	assert.Empty(t, found.LoginCode)
	assert.False(t, found.LoginCodeMatches("123456", time.Now()))
}

func TestRepositoryManager(t *testing.T) {
	_, bunDB, cleanup := setupUsersRepo(t)
	defer cleanup()

	manager := auth.NewRepositoryManager(bunDB)
	require.NoError(t, manager.Validate())
	require.NotNil(t, manager.Users())

	t.Run("runs work in a transaction", func(t *testing.T) {
		err := manager.RunInTx(context.Background(), &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
			_, err := manager.Users().PromoteTx(ctx, tx, &auth.User{
				Username:     "txuser",
				Email:        "txuser@example.com",
				PasswordHash: "x",
			})
			return err
		})
		require.NoError(t, err)

		found, err := manager.Users().GetByUsername(context.Background(), "txuser")
		require.NoError(t, err)
		assert.Equal(t, "txuser@example.com", found.Email)
	})

	t.Run("honors canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := manager.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
