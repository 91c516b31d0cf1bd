package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/tenantguard/pkg/apperrors"
	"github.com/ekaya-inc/tenantguard/pkg/tenant"
)

// Common authentication errors.
var (
	ErrMissingAuthorization = errors.New("missing authorization")
	ErrInvalidAuthFormat    = errors.New("invalid authorization header format")
	ErrMissingSubject       = errors.New("missing subject in token")
	ErrInvalidSubject       = errors.New("subject is not a valid user ID")
	ErrMissingTenant        = errors.New("missing tenant selector")
	ErrInvalidTenant        = errors.New("tenant selector is not a valid organization ID")
)

// MembershipStore looks up a user's role in an organization.
// It returns apperrors.ErrNotMember when the user does not belong to it.
type MembershipStore interface {
	Role(ctx context.Context, userID, orgID uuid.UUID) (tenant.Role, error)
}

// AuthService resolves identity and tenant for a request.
type AuthService interface {
	// ValidateRequest extracts and validates a JWT from the Authorization header.
	// Returns the validated claims, the raw token string, or an error.
	ValidateRequest(r *http.Request) (*Claims, string, error)

	// ResolveTenant decides the tenant context for an authenticated request.
	// The organization comes from the tenant header, falling back to the token's
	// org claim. Platform roles in the token grant super-admin without membership;
	// everyone else must be a member of the organization.
	ResolveTenant(ctx context.Context, r *http.Request, claims *Claims) (tenant.Context, error)
}

type authService struct {
	validator    TokenValidator
	memberships  MembershipStore
	tenantHeader string
	logger       *zap.Logger
}

// NewAuthService creates a new AuthService.
func NewAuthService(validator TokenValidator, memberships MembershipStore, tenantHeader string, logger *zap.Logger) AuthService {
	if tenantHeader == "" {
		tenantHeader = "X-Tenant-ID"
	}
	return &authService{
		validator:    validator,
		memberships:  memberships,
		tenantHeader: tenantHeader,
		logger:       logger,
	}
}

func (s *authService) ValidateRequest(r *http.Request) (*Claims, string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		s.logger.Debug("No JWT found in request",
			zap.String("path", r.URL.Path),
			zap.String("method", r.Method))
		return nil, "", ErrMissingAuthorization
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		s.logger.Debug("Invalid Authorization header format", zap.String("path", r.URL.Path))
		return nil, "", ErrInvalidAuthFormat
	}

	claims, err := s.validator.ValidateToken(parts[1])
	if err != nil {
		s.logger.Debug("JWT validation failed",
			zap.Error(err),
			zap.String("path", r.URL.Path))
		return nil, "", err
	}

	return claims, parts[1], nil
}

func (s *authService) ResolveTenant(ctx context.Context, r *http.Request, claims *Claims) (tenant.Context, error) {
	userID, err := claims.UserUUID()
	if err != nil {
		return tenant.Context{}, err
	}

	selector := strings.TrimSpace(r.Header.Get(s.tenantHeader))
	if selector == "" {
		selector = claims.OrgID
	}
	if selector == "" {
		return tenant.Context{}, ErrMissingTenant
	}
	orgID, err := uuid.Parse(selector)
	if err != nil || orgID == uuid.Nil {
		return tenant.Context{}, ErrInvalidTenant
	}

	if platformRole := tenant.HighestRole(claims.Roles); platformRole.BypassesRowSecurity() {
		s.logger.Debug("Platform role resolved without membership check",
			zap.String("user_id", userID.String()),
			zap.String("org_id", orgID.String()),
			zap.Stringer("role", platformRole))
		return tenant.ForRole(orgID, userID, platformRole), nil
	}

	role, err := s.memberships.Role(ctx, userID, orgID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotMember) {
			s.logger.Warn("User is not a member of requested organization",
				zap.String("user_id", userID.String()),
				zap.String("org_id", orgID.String()))
		}
		return tenant.Context{}, fmt.Errorf("resolve membership: %w", err)
	}

	return tenant.ForRole(orgID, userID, role), nil
}

var _ AuthService = (*authService)(nil)
