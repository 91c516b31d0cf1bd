// Package tenant describes whose data a unit of work may see.
//
// A Context is built once per request by the identity layer and never mutated.
// A request that needs a different scope acquires a new lease with a new Context.
package tenant

import (
	"github.com/google/uuid"
	"go.uber.org/zap/zapcore"

	"github.com/ekaya-inc/tenantguard/pkg/apperrors"
)

// Context is the immutable security context bound to a database connection.
// uuid.Nil means the corresponding identifier is absent.
type Context struct {
	orgID      uuid.UUID
	userID     uuid.UUID
	superAdmin bool
}

// New creates a Context. Pass uuid.Nil for an absent organization or user.
func New(orgID, userID uuid.UUID, superAdmin bool) Context {
	return Context{orgID: orgID, userID: userID, superAdmin: superAdmin}
}

// ForRole creates a Context whose super-admin flag is derived from the role.
func ForRole(orgID, userID uuid.UUID, role Role) Context {
	return New(orgID, userID, role.BypassesRowSecurity())
}

// ForUser creates a Context scoped to a single user with no organization.
// Used for lookups where the caller may only see its own rows (e.g. memberships).
func ForUser(userID uuid.UUID) Context {
	return New(uuid.Nil, userID, false)
}

// OrgID returns the organization ID and whether it is present.
func (c Context) OrgID() (uuid.UUID, bool) {
	return c.orgID, c.orgID != uuid.Nil
}

// UserID returns the user ID and whether it is present.
func (c Context) UserID() (uuid.UUID, bool) {
	return c.userID, c.userID != uuid.Nil
}

// IsSuperAdmin reports whether the context bypasses row filtering.
func (c Context) IsSuperAdmin() bool {
	return c.superAdmin
}

// IsEmpty reports whether the context carries no identity and no bypass.
// An empty context is indistinguishable from "no context" once bound.
func (c Context) IsEmpty() bool {
	return c.orgID == uuid.Nil && c.userID == uuid.Nil && !c.superAdmin
}

// Validate rejects contexts that must never be bound to a connection.
func (c Context) Validate() error {
	if c.IsEmpty() {
		return apperrors.ErrInvalidContext
	}
	return nil
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (c Context) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	if c.orgID != uuid.Nil {
		enc.AddString("org_id", c.orgID.String())
	}
	if c.userID != uuid.Nil {
		enc.AddString("user_id", c.userID.String())
	}
	enc.AddBool("super_admin", c.superAdmin)
	return nil
}
