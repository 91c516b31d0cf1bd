package auth

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/tenantguard/pkg/tenant"
)

func TestTenantFromContext(t *testing.T) {
	tc := tenant.New(uuid.New(), uuid.New(), false)

	got, ok := TenantFromContext(WithTenant(context.Background(), tc))
	require.True(t, ok)
	assert.Equal(t, tc, got)

	_, ok = TenantFromContext(context.Background())
	assert.False(t, ok)
}

func TestGetUserIDFromContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), ClaimsKey, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	})

	assert.Equal(t, "user-1", GetUserIDFromContext(ctx))
	assert.Equal(t, "", GetUserIDFromContext(context.Background()))
}

func TestRequireUserUUIDFromContext(t *testing.T) {
	id := uuid.New()
	ctx := context.WithValue(context.Background(), ClaimsKey, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: id.String()},
	})

	got, err := RequireUserUUIDFromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = RequireUserUUIDFromContext(context.Background())
	assert.Error(t, err)
}
