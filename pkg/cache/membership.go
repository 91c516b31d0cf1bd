// Package cache keeps tenant resolution off the database on the hot path.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ekaya-inc/tenantguard/pkg/auth"
	"github.com/ekaya-inc/tenantguard/pkg/metrics"
	"github.com/ekaya-inc/tenantguard/pkg/tenant"
)

var tracer = otel.Tracer("github.com/ekaya-inc/tenantguard/pkg/cache")

const keyPrefix = "tenantguard:membership:"

// MembershipCache wraps a MembershipStore with a Redis read-through cache.
//
// Only positive results are cached. A non-member is always checked against the
// store, so a new membership takes effect immediately; a revoked one lingers for
// at most the TTL unless Invalidate is called. Redis failures fall through to the
// store.
type MembershipCache struct {
	client *redis.Client
	store  auth.MembershipStore
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger
}

// NewMembershipCache creates a cache in front of store. With a nil client or a
// non-positive ttl every lookup goes to the store.
func NewMembershipCache(client *redis.Client, store auth.MembershipStore, ttl time.Duration, logger *zap.Logger) *MembershipCache {
	return &MembershipCache{
		client: client,
		store:  store,
		ttl:    ttl,
		logger: logger.Named("membership-cache"),
	}
}

func key(userID, orgID uuid.UUID) string {
	return keyPrefix + userID.String() + ":" + orgID.String()
}

// Role implements auth.MembershipStore.
func (c *MembershipCache) Role(ctx context.Context, userID, orgID uuid.UUID) (tenant.Role, error) {
	if c.client == nil || c.ttl <= 0 {
		return c.store.Role(ctx, userID, orgID)
	}

	k := key(userID, orgID)
	ctx, span := tracer.Start(ctx, "cache.MembershipRole", trace.WithAttributes(attribute.String("cache.key", k)))
	defer span.End()

	raw, err := c.client.Get(ctx, k).Result()
	switch {
	case err == nil:
		if role, perr := tenant.ParseRole(raw); perr == nil {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			metrics.MembershipLookups.WithLabelValues(metrics.CacheHit).Inc()
			return role, nil
		}
		c.logger.Warn("Discarding unparseable cached role", zap.String("key", k), zap.String("value", raw))
	case errors.Is(err, redis.Nil):
	default:
		span.RecordError(err)
		metrics.MembershipLookups.WithLabelValues(metrics.CacheError).Inc()
		c.logger.Warn("Membership cache read failed; using store", zap.Error(err))
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))
	metrics.MembershipLookups.WithLabelValues(metrics.CacheMiss).Inc()

	// Concurrent misses for the same key share one store lookup.
	v, err, _ := c.group.Do(k, func() (any, error) {
		role, err := c.store.Role(ctx, userID, orgID)
		if err != nil {
			return tenant.Role(""), err
		}
		if setErr := c.client.Set(ctx, k, role.String(), c.ttl).Err(); setErr != nil {
			c.logger.Warn("Membership cache write failed", zap.Error(setErr))
		}
		return role, nil
	})
	if err != nil {
		return "", err
	}
	return v.(tenant.Role), nil
}

// Invalidate drops the cached role for a user in an organization.
func (c *MembershipCache) Invalidate(ctx context.Context, userID, orgID uuid.UUID) error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, key(userID, orgID)).Err(); err != nil {
		return fmt.Errorf("invalidate membership: %w", err)
	}
	return nil
}

var _ auth.MembershipStore = (*MembershipCache)(nil)
