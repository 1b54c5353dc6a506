package auth

import (
	"context"
	"database/sql"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Users is the persistence surface for credential records. It layers the
// flow-specific mutations the Authenticator needs on top of the generic
// repository operations.
type Users interface {
	repository.Repository[*User]
	UserStore

	PromoteTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)
	Create(ctx context.Context, record *User, criteria ...repository.InsertCriteria) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *User, criteria ...repository.InsertCriteria) (*User, error)
}

type users struct {
	repository.Repository[*User]
	db *bun.DB
}

var (
	_ Users                        = (*users)(nil)
	_ UserStore                    = (*users)(nil)
	_ repository.Repository[*User] = (*users)(nil)
)

func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "username"
		},
		GetIdentifierValue: func(u *User) string {
			if u == nil {
				return ""
			}
			return u.Username
		},
	})

	return &users{
		Repository: repo,
		db:         db,
	}
}

func (a *users) GetByUsername(ctx context.Context, username string) (*User, error) {
	return a.getByColumn(ctx, a.db, "username", username)
}

func (a *users) GetByEmail(ctx context.Context, email string) (*User, error) {
	return a.getByColumn(ctx, a.db, "email", email)
}

func (a *users) GetByRefreshToken(ctx context.Context, value string) (*User, error) {
	return a.getByColumn(ctx, a.db, "refresh_token", value)
}

func (a *users) getByColumn(ctx context.Context, tx bun.IDB, column, value string) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					column: value,
				})
		}
		return nil, err
	}

	return record, nil
}

// Promote inserts a verified registration. The uniqueness invariants are
// re-checked inside the insert transaction since the candidate sat in memory
// while someone else may have claimed the same username or email.
func (a *users) Promote(ctx context.Context, user *User) (*User, error) {
	var promoted *User

	err := a.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		record, err := a.PromoteTx(ctx, tx, user)
		if err != nil {
			return err
		}
		promoted = record
		return nil
	})

	if err != nil {
		return nil, err
	}

	return promoted, nil
}

func (a *users) PromoteTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	if _, err := a.getByColumn(ctx, tx, "username", user.Username); err == nil {
		return nil, ErrUsernameTaken
	} else if !repository.IsRecordNotFound(err) {
		return nil, err
	}

	if _, err := a.getByColumn(ctx, tx, "email", user.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !repository.IsRecordNotFound(err) {
		return nil, err
	}

	return a.CreateTx(ctx, tx, user)
}

func (a *users) Create(ctx context.Context, record *User, criteria ...repository.InsertCriteria) (*User, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *users) CreateTx(ctx context.Context, tx bun.IDB, record *User, criteria ...repository.InsertCriteria) (*User, error) {
	prepareUserDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

// SaveLoginChallenge writes a fresh login code, replacing any outstanding
// one. A targeted UPDATE keeps this from clobbering unrelated columns.
func (a *users) SaveLoginChallenge(ctx context.Context, id uuid.UUID, code string, expiresAt time.Time) error {
	res, err := a.db.NewRaw(`
		UPDATE "users" AS "usr"
		SET
			"two_factor_login_code" = ?,
			"two_factor_login_expires_at" = ?,
			"updated_at" = ?
		WHERE
			("usr".id = ?)
			AND "usr"."deleted_at" IS NULL;
	`, code, expiresAt, time.Now(), id).Exec(ctx)

	if err != nil {
		return err
	}

	return requireAffected(res, id)
}

// SaveRefreshToken replaces the stored refresh token unconditionally. A login
// on a new device invalidates whatever token the previous device held.
func (a *users) SaveRefreshToken(ctx context.Context, id uuid.UUID, value string, expiresAt time.Time) error {
	res, err := a.db.NewRaw(`
		UPDATE "users" AS "usr"
		SET
			"refresh_token" = ?,
			"refresh_token_expires_at" = ?,
			"refresh_token_active" = TRUE,
			"updated_at" = ?
		WHERE
			("usr".id = ?)
			AND "usr"."deleted_at" IS NULL;
	`, value, expiresAt, time.Now(), id).Exec(ctx)

	if err != nil {
		return err
	}

	return requireAffected(res, id)
}

// RotateRefreshToken swaps oldValue for newValue only while oldValue is still
// the stored token. The conditional WHERE is what makes concurrent exchanges
// of the same value single-winner.
func (a *users) RotateRefreshToken(ctx context.Context, id uuid.UUID, oldValue, newValue string, expiresAt time.Time) error {
	res, err := a.db.NewRaw(`
		UPDATE "users" AS "usr"
		SET
			"refresh_token" = ?,
			"refresh_token_expires_at" = ?,
			"refresh_token_active" = TRUE,
			"updated_at" = ?
		WHERE
			("usr".id = ?)
			AND ("usr".refresh_token = ?)
			AND "usr"."deleted_at" IS NULL;
	`, newValue, expiresAt, time.Now(), id, oldValue).Exec(ctx)

	if err != nil {
		return err
	}

	return requireAffected(res, id)
}

// TrustDevice records fingerprint as the trusted device and clears the login
// challenge in the same statement, so a spent code cannot be replayed.
func (a *users) TrustDevice(ctx context.Context, id uuid.UUID, fingerprint string) error {
	res, err := a.db.NewRaw(`
		UPDATE "users" AS "usr"
		SET
			"device_fingerprint" = ?,
			"two_factor_login_code" = '',
			"two_factor_login_expires_at" = NULL,
			"updated_at" = ?
		WHERE
			("usr".id = ?)
			AND "usr"."deleted_at" IS NULL;
	`, fingerprint, time.Now(), id).Exec(ctx)

	if err != nil {
		return err
	}

	return requireAffected(res, id)
}

func requireAffected(res sql.Result, id uuid.UUID) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return nil
}

// prepareUserDefaults derives the ID from the email, so a replayed promotion
// of the same registration maps to the same row. Random IDs are the fallback.
func prepareUserDefaults(record *User) {
	if record.ID != uuid.Nil {
		return
	}

	if id, err := hashid.NewUUID(record.Email); err == nil {
		record.ID = id
		return
	}

	record.ID = uuid.New()
}
