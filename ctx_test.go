package auth_test

import (
	"context"
	"testing"

	auth "github.com/goliatone/go-device-auth"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserContext(t *testing.T) {
	user := &auth.User{Username: "goliatone"}

	ctx := auth.WithContext(context.Background(), user)

	found, ok := auth.FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "goliatone", found.Username)

	_, ok = auth.FromContext(context.Background())
	assert.False(t, ok)
}

func TestClaimsContext(t *testing.T) {
	service, err := auth.NewTokenService([]byte("test-signing-key"), 60, "", nil, nil)
	require.NoError(t, err)

	identity := &MockIdentity{}
	identity.On("Username").Return("goliatone")

	tokenString, err := service.Generate(identity)
	require.NoError(t, err)

	claims, err := service.Validate(tokenString)
	require.NoError(t, err)

	ctx := auth.WithClaimsContext(context.Background(), claims)

	found, ok := auth.GetClaims(ctx)
	require.True(t, ok)
	assert.Equal(t, "goliatone", found.Subject())

	_, ok = auth.GetClaims(context.Background())
	assert.False(t, ok)
}

func TestGetRouterClaims(t *testing.T) {
	service, err := auth.NewTokenService([]byte("test-signing-key"), 60, "", nil, nil)
	require.NoError(t, err)

	identity := &MockIdentity{}
	identity.On("Username").Return("goliatone")

	tokenString, err := service.Generate(identity)
	require.NoError(t, err)

	claims, err := service.Validate(tokenString)
	require.NoError(t, err)

	t.Run("returns stored claims", func(t *testing.T) {
		ctx := router.NewMockContext()
		ctx.LocalsMock["user"] = claims

		found, ok := auth.GetRouterClaims(ctx, "")
		require.True(t, ok)
		assert.Equal(t, "goliatone", found.Username())
	})

	t.Run("missing claims", func(t *testing.T) {
		ctx := router.NewMockContext()

		_, ok := auth.GetRouterClaims(ctx, "")
		assert.False(t, ok)
	})
}
