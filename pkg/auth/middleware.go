package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/tenantguard/pkg/apperrors"
)

// Middleware provides HTTP authentication middleware.
// It is thin and delegates authentication logic to AuthService.
type Middleware struct {
	authService AuthService
	logger      *zap.Logger
}

// NewMiddleware creates a new auth middleware with the given AuthService.
func NewMiddleware(authService AuthService, logger *zap.Logger) *Middleware {
	return &Middleware{
		authService: authService,
		logger:      logger,
	}
}

// RequireAuth validates the JWT and stores claims and token in the context.
// It does not resolve a tenant; use RequireTenant for tenant-scoped routes.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, token, err := m.authService.ValidateRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsKey, claims)
		ctx = context.WithValue(ctx, TokenKey, token)
		next(w, r.WithContext(ctx))
	}
}

// RequireTenant validates the JWT and resolves the request's tenant context.
// The decision is complete before next runs; any failure ends the request here,
// so no database lease is ever requested for it.
func (m *Middleware) RequireTenant(next http.HandlerFunc) http.HandlerFunc {
	return m.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := GetClaims(r.Context())

		tc, err := m.authService.ResolveTenant(r.Context(), r, claims)
		if err != nil {
			m.rejectTenant(w, r, err)
			return
		}

		next(w, r.WithContext(WithTenant(r.Context(), tc)))
	})
}

func (m *Middleware) rejectTenant(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrMissingSubject), errors.Is(err, ErrInvalidSubject):
		writeError(w, http.StatusUnauthorized, "unauthorized", "Token does not identify a user")
	case errors.Is(err, ErrMissingTenant):
		writeError(w, http.StatusBadRequest, "missing_tenant", "Tenant selector required for this resource")
	case errors.Is(err, ErrInvalidTenant):
		writeError(w, http.StatusBadRequest, "invalid_tenant", "Invalid tenant ID format")
	case errors.Is(err, apperrors.ErrNotMember):
		writeError(w, http.StatusForbidden, "forbidden", "Not a member of this organization")
	default:
		m.logger.Error("Failed to resolve tenant",
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to resolve tenant")
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}
