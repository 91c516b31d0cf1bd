package database

import (
	"context"
)

type contextKey string

const (
	leaseKey       contextKey = "lease"
	publicLeaseKey contextKey = "publicLease"
)

// LeaseFromContext retrieves the request's tenant lease.
// Returns nil and false if the route was not wrapped with WithTenantLease.
func LeaseFromContext(ctx context.Context) (*Lease, bool) {
	lease, ok := ctx.Value(leaseKey).(*Lease)
	return lease, ok && lease != nil
}

// MustLease retrieves the request's tenant lease and panics if it is missing.
// Only use it in handlers mounted behind WithTenantLease.
func MustLease(ctx context.Context) *Lease {
	lease, ok := LeaseFromContext(ctx)
	if !ok {
		panic("tenant lease missing from context: WithTenantLease not applied")
	}
	return lease
}

// PublicLeaseFromContext retrieves the request's public lease.
func PublicLeaseFromContext(ctx context.Context) (*PublicLease, bool) {
	lease, ok := ctx.Value(publicLeaseKey).(*PublicLease)
	return lease, ok && lease != nil
}

// SetLease returns a context carrying the lease. WithTenantLease does this for
// HTTP routes; background jobs and tests that hold their own lease use it directly.
func SetLease(ctx context.Context, lease *Lease) context.Context {
	return context.WithValue(ctx, leaseKey, lease)
}

func withPublicLease(ctx context.Context, lease *PublicLease) context.Context {
	return context.WithValue(ctx, publicLeaseKey, lease)
}
