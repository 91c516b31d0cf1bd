package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/tenantguard/pkg/auth"
	"github.com/ekaya-inc/tenantguard/pkg/database"
)

const sessionQuery = `
	SELECT COALESCE(current_setting('app.current_org_id', true), ''),
	       COALESCE(current_setting('app.current_user_id', true), ''),
	       COALESCE(current_setting('app.is_super_admin', true), '')`

// SessionResponse shows the tenant context resolved for the request next to the
// values the database session actually holds. They must agree.
type SessionResponse struct {
	OrgID      string       `json:"org_id,omitempty"`
	UserID     string       `json:"user_id,omitempty"`
	SuperAdmin bool         `json:"super_admin"`
	ConnID     uint32       `json:"conn_id"`
	Store      StoreSession `json:"store"`
}

// StoreSession holds the raw session settings read back from the database.
type StoreSession struct {
	OrgID      string `json:"org_id"`
	UserID     string `json:"user_id"`
	SuperAdmin string `json:"super_admin"`
}

// SessionHandler reports the tenant context bound to the request's connection.
type SessionHandler struct {
	logger *zap.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(logger *zap.Logger) *SessionHandler {
	return &SessionHandler{logger: logger}
}

// RegisterRoutes registers the session route behind tenant resolution and a tenant lease.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	mux.HandleFunc("GET /api/session", authMiddleware.RequireTenant(tenantMiddleware(h.Get)))
}

// Get handles GET /api/session
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	lease := database.MustLease(r.Context())
	tc := lease.Context()

	var store StoreSession
	err := lease.Conn().QueryRow(r.Context(), sessionQuery).Scan(&store.OrgID, &store.UserID, &store.SuperAdmin)
	if err != nil {
		h.logger.Error("Failed to read session settings", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to read session"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	resp := SessionResponse{
		SuperAdmin: tc.IsSuperAdmin(),
		ConnID:     lease.ConnID(),
		Store:      store,
	}
	if orgID, ok := tc.OrgID(); ok {
		resp.OrgID = orgID.String()
	}
	if userID, ok := tc.UserID(); ok {
		resp.UserID = userID.String()
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: resp}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
