package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/tenantguard/pkg/auth"
	"github.com/ekaya-inc/tenantguard/pkg/repositories"
)

// MembershipHandler lists the caller's organizations. It needs no tenant: the
// repository runs on a lease scoped to the user alone.
type MembershipHandler struct {
	memberships repositories.MembershipRepository
	logger      *zap.Logger
}

// NewMembershipHandler creates a new membership handler.
func NewMembershipHandler(memberships repositories.MembershipRepository, logger *zap.Logger) *MembershipHandler {
	return &MembershipHandler{memberships: memberships, logger: logger}
}

// RegisterRoutes registers the membership routes behind authentication.
func (h *MembershipHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /api/memberships", authMiddleware.RequireAuth(h.List))
}

// List handles GET /api/memberships
func (h *MembershipHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUserUUIDFromContext(r.Context())
	if err != nil {
		if err := ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Token does not identify a user"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	memberships, err := h.memberships.ListForUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to list memberships", zap.String("user_id", userID.String()), zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to list memberships"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: map[string]any{"memberships": memberships}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
