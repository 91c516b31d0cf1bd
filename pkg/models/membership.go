package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/tenantguard/pkg/tenant"
)

// Membership links a user to an organization with a role.
type Membership struct {
	OrgID     uuid.UUID   `json:"org_id"`
	UserID    uuid.UUID   `json:"user_id"`
	Role      tenant.Role `json:"role"`
	CreatedAt time.Time   `json:"created_at"`
}
