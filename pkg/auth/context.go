package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ekaya-inc/tenantguard/pkg/tenant"
)

// WithTenant stores the resolved tenant context for the request.
// The identity layer calls this exactly once, before any lease is requested.
func WithTenant(ctx context.Context, tc tenant.Context) context.Context {
	return context.WithValue(ctx, TenantKey, tc)
}

// TenantFromContext returns the tenant context resolved for this request.
func TenantFromContext(ctx context.Context) (tenant.Context, bool) {
	tc, ok := ctx.Value(TenantKey).(tenant.Context)
	return tc, ok
}

// GetUserIDFromContext extracts the user ID from JWT claims in the context.
// Returns empty string if not authenticated or claims are missing.
func GetUserIDFromContext(ctx context.Context) string {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return ""
	}
	return claims.Subject
}

// RequireUserUUIDFromContext extracts the user ID from context as a UUID and returns
// an error if not found or invalid.
func RequireUserUUIDFromContext(ctx context.Context) (uuid.UUID, error) {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return uuid.Nil, fmt.Errorf("authentication required: no claims in context")
	}
	return claims.UserUUID()
}
