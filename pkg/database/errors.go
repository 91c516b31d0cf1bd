package database

import (
	"errors"
	"fmt"

	"github.com/ekaya-inc/tenantguard/pkg/apperrors"
)

// PoolError describes a failed acquisition or release.
// Kind is one of the apperrors connection lifecycle sentinels; errors.Is matches it.
type PoolError struct {
	Op     string // "acquire_scoped", "acquire_public", "release"
	Kind   error
	ConnID uint32
	Err    error
}

func (e *PoolError) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.ConnID != 0 {
		msg += fmt.Sprintf(" (conn %d)", e.ConnID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause.
func (e *PoolError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsRetryable reports whether the caller may back off and try again.
// Only capacity errors are retryable; a bind failure already cost a connection.
func (e *PoolError) IsRetryable() bool {
	return e.Kind == apperrors.ErrPoolExhausted || e.Kind == apperrors.ErrAcquireTimeout
}

// IsRetryable reports whether err is a retryable pool capacity error.
func IsRetryable(err error) bool {
	var pe *PoolError
	if errors.As(err, &pe) {
		return pe.IsRetryable()
	}
	return false
}
