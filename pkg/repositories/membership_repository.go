package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ekaya-inc/tenantguard/pkg/apperrors"
	"github.com/ekaya-inc/tenantguard/pkg/database"
	"github.com/ekaya-inc/tenantguard/pkg/models"
	"github.com/ekaya-inc/tenantguard/pkg/tenant"
)

// MembershipRepository reads organization memberships. It runs before a tenant is
// resolved, so it acquires its own user-scoped lease: the store shows the caller
// only their own membership rows.
type MembershipRepository interface {
	// Role returns the user's role in the organization, or apperrors.ErrNotMember.
	Role(ctx context.Context, userID, orgID uuid.UUID) (tenant.Role, error)

	// ListForUser returns every organization the user belongs to.
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.Membership, error)
}

type membershipRepository struct {
	pool   *database.ScopedPool
	logger *zap.Logger
}

// NewMembershipRepository creates a new membership repository.
func NewMembershipRepository(pool *database.ScopedPool, logger *zap.Logger) MembershipRepository {
	return &membershipRepository{pool: pool, logger: logger}
}

func (r *membershipRepository) Role(ctx context.Context, userID, orgID uuid.UUID) (tenant.Role, error) {
	lease, err := r.pool.AcquireScoped(ctx, tenant.ForUser(userID), 0)
	if err != nil {
		return "", fmt.Errorf("acquire membership lease: %w", err)
	}
	defer r.release(ctx, lease)

	query := `
		SELECT role
		FROM organization_members
		WHERE org_id = $1 AND user_id = $2`

	var raw string
	if err := lease.Conn().QueryRow(ctx, query, orgID, userID).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperrors.ErrNotMember
		}
		return "", fmt.Errorf("failed to get membership role: %w", err)
	}

	role, err := tenant.ParseRole(raw)
	if err != nil {
		r.logger.Warn("Unknown role stored for membership; treating as guest",
			zap.String("user_id", userID.String()),
			zap.String("org_id", orgID.String()),
			zap.String("role", raw))
		return tenant.RoleGuest, nil
	}
	return role, nil
}

func (r *membershipRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.Membership, error) {
	lease, err := r.pool.AcquireScoped(ctx, tenant.ForUser(userID), 0)
	if err != nil {
		return nil, fmt.Errorf("acquire membership lease: %w", err)
	}
	defer r.release(ctx, lease)

	query := `
		SELECT org_id, user_id, role, created_at
		FROM organization_members
		WHERE user_id = $1
		ORDER BY created_at ASC`

	rows, err := lease.Conn().Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var memberships []*models.Membership
	for rows.Next() {
		var m models.Membership
		var raw string
		if err := rows.Scan(&m.OrgID, &m.UserID, &raw, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		if m.Role, err = tenant.ParseRole(raw); err != nil {
			m.Role = tenant.RoleGuest
		}
		memberships = append(memberships, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memberships: %w", err)
	}

	return memberships, nil
}

func (r *membershipRepository) release(ctx context.Context, lease *database.Lease) {
	if err := lease.Release(ctx); err != nil {
		r.logger.Warn("Membership lease release failed", zap.Error(err))
	}
}
