package database

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/tenantguard/pkg/apperrors"
	"github.com/ekaya-inc/tenantguard/pkg/auth"
	"github.com/ekaya-inc/tenantguard/pkg/logging"
	"github.com/ekaya-inc/tenantguard/pkg/retry"
)

// WithTenantLease acquires a tenant-scoped lease for the request and releases it when
// the handler returns, including when it panics. It runs after auth.RequireTenant
// and uses the tenant context resolved there.
//
// Capacity errors are retried under retryCfg and then answered with 503. Handlers
// reach the lease through MustLease.
func WithTenantLease(pool *ScopedPool, retryCfg *retry.Config, logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			tc, ok := auth.TenantFromContext(r.Context())
			if !ok {
				logger.Error("Missing tenant context; RequireTenant not applied",
					zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal_error", "Missing tenant context")
				return
			}

			lease, err := retry.DoWithResultIfRetryable(r.Context(), retryCfg, func() (*Lease, error) {
				return pool.AcquireScoped(r.Context(), tc, 0)
			})
			if err != nil {
				writeAcquireError(w, r, logger, err)
				return
			}
			defer releaseLease(lease.Release, r, logger)

			next(w, r.WithContext(SetLease(r.Context(), lease)))
		}
	}
}

// WithPublicLease acquires a public lease for routes that are not tenant-scoped.
func WithPublicLease(pool *ScopedPool, retryCfg *retry.Config, logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			lease, err := retry.DoWithResultIfRetryable(r.Context(), retryCfg, func() (*PublicLease, error) {
				return pool.AcquirePublic(r.Context(), 0)
			})
			if err != nil {
				writeAcquireError(w, r, logger, err)
				return
			}
			defer releaseLease(lease.Release, r, logger)

			next(w, r.WithContext(withPublicLease(r.Context(), lease)))
		}
	}
}

// releaseLease releases on the way out. Release never fails the response; a clear
// failure has already discarded the connection.
func releaseLease(release func(context.Context) error, r *http.Request, logger *zap.Logger) {
	if err := release(r.Context()); err != nil {
		logger.Warn("Lease release reported an error",
			zap.String("path", r.URL.Path),
			zap.String("error", logging.SanitizeError(err)))
	}
}

func writeAcquireError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, apperrors.ErrInvalidContext):
		writeError(w, http.StatusForbidden, "forbidden", "No tenant context for this request")
	case IsRetryable(err):
		logger.Warn("Connection pool saturated",
			zap.String("path", r.URL.Path),
			zap.Error(err))
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "unavailable", "Database busy, retry shortly")
	case r.Context().Err() != nil:
		// Client went away; nothing was acquired.
		logger.Debug("Request cancelled while acquiring connection", zap.String("path", r.URL.Path))
	default:
		logger.Error("Failed to acquire database connection",
			zap.String("path", r.URL.Path),
			zap.String("error", logging.SanitizeError(err)))
		writeError(w, http.StatusInternalServerError, "database_error", "Database connection error")
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
