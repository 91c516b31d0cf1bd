// Package auth resolves the caller's identity and tenant for a request.
// It validates JWTs against JWKS endpoints and produces the tenant.Context a
// request's database lease is bound to.
package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// ClaimsKey is the context key for storing JWT claims.
	ClaimsKey contextKey = "claims"
	// TokenKey is the context key for storing the raw JWT token string.
	TokenKey contextKey = "token"
	// TenantKey is the context key for the resolved tenant.Context.
	TenantKey contextKey = "tenant"
)

// Claims represents the JWT claims issued by the identity provider.
// Subject is the user UUID.
type Claims struct {
	jwt.RegisteredClaims
	OrgID string   `json:"org,omitempty"`   // Default organization UUID
	Email string   `json:"email,omitempty"` // User email address
	Roles []string `json:"roles,omitempty"` // Platform-level roles (e.g. "super_admin")
}

// UserUUID parses the subject as a user UUID.
func (c *Claims) UserUUID() (uuid.UUID, error) {
	if c.Subject == "" {
		return uuid.Nil, ErrMissingSubject
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, ErrInvalidSubject
	}
	return id, nil
}

// GetClaims retrieves JWT claims from the request context.
// Returns nil and false if claims are not present.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}

// GetToken retrieves the raw JWT token string from the request context.
// Returns empty string and false if token is not present.
func GetToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(TokenKey).(string)
	return token, ok
}
