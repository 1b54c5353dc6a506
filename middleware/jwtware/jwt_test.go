package jwtware_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-device-auth/middleware/jwtware"
)

var (
	errExpired   = errors.New("token is expired")
	errMalformed = errors.New("token is malformed")
)

// stubClaims satisfies jwtware.AuthClaims.
type stubClaims struct {
	subject string
}

func (c stubClaims) Subject() string     { return c.subject }
func (c stubClaims) Username() string    { return c.subject }
func (c stubClaims) Expires() time.Time  { return time.Now().Add(time.Hour) }
func (c stubClaims) IssuedAt() time.Time { return time.Now() }

// stubValidator resolves tokens by literal value.
type stubValidator struct{}

func (stubValidator) Validate(tokenString string) (jwtware.AuthClaims, error) {
	switch tokenString {
	case "valid-token", "refreshed-token":
		return stubClaims{subject: "goliatone"}, nil
	case "expired-token":
		return nil, errExpired
	default:
		return nil, errMalformed
	}
}

type stubSession struct {
	access  string
	refresh string
}

func (s stubSession) GetAccessToken() string     { return s.access }
func (s stubSession) GetRefreshToken() string    { return s.refresh }
func (s stubSession) GetRefreshExpiry() time.Time { return time.Now().Add(7 * 24 * time.Hour) }

func passthroughError(ctx router.Context, err error) error {
	return err
}

func next(ctx router.Context) error {
	return ctx.Next()
}

func baseConfig() jwtware.Config {
	return jwtware.Config{
		SigningKey: jwtware.SigningKey{
			Key:    []byte("test-secret"),
			JWTAlg: jwt.SigningMethodHS256.Alg(),
		},
		TokenValidator: stubValidator{},
		ErrorHandler:   passthroughError,
	}
}

func TestJWTWare_ValidToken(t *testing.T) {
	handler := jwtware.New(baseConfig())(next)

	ctx := router.NewMockContext()
	ctx.HeadersM["Authorization"] = "Bearer valid-token"
	ctx.On("GetString", "Authorization", "").Return("Bearer valid-token")
	ctx.On("Locals", "user", mock.Anything).Return(nil)

	err := handler(ctx)

	require.NoError(t, err)
	assert.True(t, ctx.NextCalled)
}

func TestJWTWare_MissingToken(t *testing.T) {
	t.Run("required mode rejects", func(t *testing.T) {
		handler := jwtware.New(baseConfig())(next)

		ctx := router.NewMockContext()
		ctx.On("GetString", "Authorization", "").Return("")

		err := handler(ctx)

		require.Error(t, err)
		assert.ErrorContains(t, err, jwtware.ErrJWTMissingOrMalformed.Error())
		assert.False(t, ctx.NextCalled)
	})

	t.Run("optional mode passes through anonymously", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Optional = true
		handler := jwtware.New(cfg)(next)

		ctx := router.NewMockContext()
		ctx.On("GetString", "Authorization", "").Return("")

		err := handler(ctx)

		require.NoError(t, err)
		assert.True(t, ctx.NextCalled)
		ctx.AssertNotCalled(t, "Locals", "user", mock.Anything)
	})
}

func TestJWTWare_MalformedToken(t *testing.T) {
	t.Run("required mode rejects", func(t *testing.T) {
		handler := jwtware.New(baseConfig())(next)

		ctx := router.NewMockContext()
		ctx.HeadersM["Authorization"] = "Bearer garbage"
		ctx.On("GetString", "Authorization", "").Return("Bearer garbage")

		err := handler(ctx)

		assert.ErrorIs(t, err, errMalformed)
		assert.False(t, ctx.NextCalled)
	})

	t.Run("optional mode still rejects a bad credential", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Optional = true
		handler := jwtware.New(cfg)(next)

		ctx := router.NewMockContext()
		ctx.HeadersM["Authorization"] = "Bearer garbage"
		ctx.On("GetString", "Authorization", "").Return("Bearer garbage")

		err := handler(ctx)

		assert.ErrorIs(t, err, errMalformed)
		assert.False(t, ctx.NextCalled)
	})
}

func TestJWTWare_ExpiredWithoutRefresher(t *testing.T) {
	handler := jwtware.New(baseConfig())(next)

	ctx := router.NewMockContext()
	ctx.HeadersM["Authorization"] = "Bearer expired-token"
	ctx.On("GetString", "Authorization", "").Return("Bearer expired-token")

	err := handler(ctx)

	assert.ErrorIs(t, err, errExpired)
	assert.False(t, ctx.NextCalled)
}

func TestJWTWare_TransparentRefresh(t *testing.T) {
	t.Run("expired token with cookie refreshes and proceeds", func(t *testing.T) {
		var exchanged string
		cfg := baseConfig()
		cfg.Refresher = jwtware.RefresherFunc(func(ctx context.Context, refreshToken string) (jwtware.RefreshedSession, error) {
			exchanged = refreshToken
			return stubSession{access: "refreshed-token", refresh: "rotated-cookie"}, nil
		})

		handler := jwtware.New(cfg)(next)

		ctx := router.NewMockContext()
		ctx.HeadersM["Authorization"] = "Bearer expired-token"
		ctx.On("GetString", "Authorization", "").Return("Bearer expired-token")
		ctx.CookiesM["refresh_token"] = "old-cookie"
		ctx.On("Context").Return(context.Background())
		ctx.On("SetHeader", router.HeaderAuthorization, "Bearer refreshed-token").Return(ctx)
		ctx.On("Cookie", mock.MatchedBy(func(c *router.Cookie) bool {
			return c.Name == "refresh_token" && c.Value == "rotated-cookie" && c.HTTPOnly
		})).Return(nil)
		ctx.On("Locals", "user", mock.Anything).Return(nil)

		err := handler(ctx)

		require.NoError(t, err)
		assert.True(t, ctx.NextCalled)
		assert.Equal(t, "old-cookie", exchanged)
		assert.Equal(t, "rotated-cookie", ctx.CookiesM["refresh_token"])
		ctx.AssertCalled(t, "SetHeader", router.HeaderAuthorization, "Bearer refreshed-token")
	})

	t.Run("expired token without cookie demands a refresh token", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Refresher = jwtware.RefresherFunc(func(ctx context.Context, refreshToken string) (jwtware.RefreshedSession, error) {
			t.Fatal("refresher must not run without a cookie")
			return nil, nil
		})

		handler := jwtware.New(cfg)(next)

		ctx := router.NewMockContext()
		ctx.HeadersM["Authorization"] = "Bearer expired-token"
		ctx.On("GetString", "Authorization", "").Return("Bearer expired-token")

		err := handler(ctx)

		assert.ErrorIs(t, err, jwtware.ErrRefreshTokenRequired)
		assert.False(t, ctx.NextCalled)
	})

	t.Run("failed exchange rejects the request", func(t *testing.T) {
		rejected := errors.New("refresh token is invalid or expired")
		cfg := baseConfig()
		cfg.Refresher = jwtware.RefresherFunc(func(ctx context.Context, refreshToken string) (jwtware.RefreshedSession, error) {
			return nil, rejected
		})

		handler := jwtware.New(cfg)(next)

		ctx := router.NewMockContext()
		ctx.HeadersM["Authorization"] = "Bearer expired-token"
		ctx.On("GetString", "Authorization", "").Return("Bearer expired-token")
		ctx.CookiesM["refresh_token"] = "old-cookie"
		ctx.On("Context").Return(context.Background())

		err := handler(ctx)

		assert.ErrorIs(t, err, rejected)
		assert.False(t, ctx.NextCalled)
	})

	t.Run("refresh happens at most once per request", func(t *testing.T) {
		calls := 0
		cfg := baseConfig()
		cfg.Refresher = jwtware.RefresherFunc(func(ctx context.Context, refreshToken string) (jwtware.RefreshedSession, error) {
			calls++
			// hand back a still-expired access token; must not loop
			return stubSession{access: "expired-token", refresh: "rotated-cookie"}, nil
		})

		handler := jwtware.New(cfg)(next)

		ctx := router.NewMockContext()
		ctx.HeadersM["Authorization"] = "Bearer expired-token"
		ctx.On("GetString", "Authorization", "").Return("Bearer expired-token")
		ctx.CookiesM["refresh_token"] = "old-cookie"
		ctx.On("Context").Return(context.Background())
		ctx.On("SetHeader", mock.Anything, mock.Anything).Return(ctx)
		ctx.On("Cookie", mock.Anything).Return(nil)

		err := handler(ctx)

		assert.ErrorIs(t, err, errExpired)
		assert.Equal(t, 1, calls)
		assert.False(t, ctx.NextCalled)
	})
}

func TestJWTWare_Filter(t *testing.T) {
	cfg := baseConfig()
	cfg.Filter = func(ctx router.Context) bool {
		return true
	}

	handler := jwtware.New(cfg)(next)

	ctx := router.NewMockContext()

	err := handler(ctx)

	require.NoError(t, err)
	assert.True(t, ctx.NextCalled)
}

func TestJWTWare_ValidationListeners(t *testing.T) {
	t.Run("listeners run on success", func(t *testing.T) {
		var seen []string
		cfg := baseConfig()
		cfg.ValidationListeners = []jwtware.ValidationListener{
			func(ctx router.Context, claims jwtware.AuthClaims) error {
				seen = append(seen, claims.Username())
				return nil
			},
		}

		handler := jwtware.New(cfg)(next)

		ctx := router.NewMockContext()
		ctx.HeadersM["Authorization"] = "Bearer valid-token"
		ctx.On("GetString", "Authorization", "").Return("Bearer valid-token")
		ctx.On("Locals", "user", mock.Anything).Return(nil)

		require.NoError(t, handler(ctx))
		assert.Equal(t, []string{"goliatone"}, seen)
	})

	t.Run("listener failure rejects the request", func(t *testing.T) {
		boom := errors.New("listener rejected")
		cfg := baseConfig()
		cfg.ValidationListeners = []jwtware.ValidationListener{
			func(ctx router.Context, claims jwtware.AuthClaims) error {
				return boom
			},
		}

		handler := jwtware.New(cfg)(next)

		ctx := router.NewMockContext()
		ctx.HeadersM["Authorization"] = "Bearer valid-token"
		ctx.On("GetString", "Authorization", "").Return("Bearer valid-token")

		err := handler(ctx)

		assert.ErrorIs(t, err, boom)
		assert.False(t, ctx.NextCalled)
	})
}

func TestGetExtractors(t *testing.T) {
	t.Run("parses a chain of sources", func(t *testing.T) {
		extractors := jwtware.GetExtractors("header:Authorization,cookie:jwt,query:auth_token", "Bearer")
		assert.Len(t, extractors, 3)
	})

	t.Run("defaults scheme to Bearer", func(t *testing.T) {
		extractors := jwtware.GetExtractors("header:Authorization")
		assert.Len(t, extractors, 1)
	})
}
