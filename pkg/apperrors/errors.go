package apperrors

import "errors"

var (
	ErrNotFound  = errors.New("not found")
	ErrNotMember = errors.New("user is not a member of the organization")

	// Connection lifecycle errors.
	ErrPoolExhausted      = errors.New("connection pool exhausted")
	ErrAcquireTimeout     = errors.New("timed out acquiring connection")
	ErrConnectFailed      = errors.New("failed to obtain a database connection")
	ErrContextBindFailed  = errors.New("failed to bind tenant context to connection")
	ErrContextClearFailed = errors.New("failed to clear tenant context from connection")
	ErrInvalidContext     = errors.New("tenant context has no organization, user or super-admin grant")
	ErrUseAfterRelease    = errors.New("connection lease used after release")
)
