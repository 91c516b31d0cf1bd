package database

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/ekaya-inc/tenantguard/pkg/apperrors"
	"github.com/ekaya-inc/tenantguard/pkg/logging"
	"github.com/ekaya-inc/tenantguard/pkg/metrics"
	"github.com/ekaya-inc/tenantguard/pkg/tenant"
)

// Lease is exclusive, temporary ownership of one pooled connection with a tenant
// context bound to it. It is Bound until the first Release and Released afterwards.
type Lease struct {
	tenant  tenant.Context
	h       *handle
	cleanup runtime.Cleanup
}

// Conn returns the handle for running statements under the lease's context.
// It panics with apperrors.ErrUseAfterRelease once the lease is released, and so
// does every statement issued through a handle retained past Release.
func (l *Lease) Conn() Querier {
	l.h.active()
	return l.h
}

// Context returns the tenant context bound to the connection.
func (l *Lease) Context() tenant.Context {
	return l.tenant
}

// ConnID identifies the physical connection, for diagnostics.
func (l *Lease) ConnID() uint32 {
	return l.h.connID
}

// Released reports whether Release has been called.
func (l *Lease) Released() bool {
	return l.h.isReleased()
}

// Release clears the tenant context and returns the connection to the pool.
// It is safe to call more than once; calls after the first return nil.
// If clearing fails the connection is discarded instead of returned, and the
// error is returned for logging only.
func (l *Lease) Release(ctx context.Context) error {
	l.cleanup.Stop()
	return l.h.release(ctx)
}

// PublicLease owns a pooled connection with no tenant context bound. The store
// shows it no tenant-scoped rows.
type PublicLease struct {
	h       *handle
	cleanup runtime.Cleanup
}

// Conn returns the handle for running statements. Panics after Release.
func (l *PublicLease) Conn() Querier {
	l.h.active()
	return l.h
}

// ConnID identifies the physical connection, for diagnostics.
func (l *PublicLease) ConnID() uint32 {
	return l.h.connID
}

// Released reports whether Release has been called.
func (l *PublicLease) Released() bool {
	return l.h.isReleased()
}

// Release clears any session state the caller set and returns the connection.
// Idempotent, with the same discard-on-failure rule as Lease.Release.
func (l *PublicLease) Release(ctx context.Context) error {
	l.cleanup.Stop()
	return l.h.release(ctx)
}

// handle holds the connection for a Lease or PublicLease. It never references the
// lease itself, so an unreachable lease can be collected and its cleanup run.
type handle struct {
	pool       *ScopedPool
	kind       string
	tenant     tenant.Context
	connID     uint32
	acquiredAt time.Time

	mu   sync.Mutex
	conn PooledConn // nil once released
}

func (p *ScopedPool) newHandle(conn PooledConn, tc tenant.Context, kind string) *handle {
	return &handle{
		pool:       p,
		kind:       kind,
		tenant:     tc,
		connID:     conn.ID(),
		acquiredAt: time.Now(),
		conn:       conn,
	}
}

func (h *handle) active() PooledConn {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		panic(apperrors.ErrUseAfterRelease)
	}
	return conn
}

func (h *handle) isReleased() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn == nil
}

// take transfers ownership of the connection out of the handle exactly once.
func (h *handle) take() PooledConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn := h.conn
	h.conn = nil
	return conn
}

func (h *handle) release(ctx context.Context) error {
	conn := h.take()
	if conn == nil {
		return nil
	}
	p := h.pool
	p.outstanding.Add(-1)
	metrics.LeasesOutstanding.WithLabelValues(h.kind).Dec()

	clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.ClearTimeout)
	defer cancel()

	if err := ClearContext(clearCtx, conn); err != nil {
		p.clearFailures.Add(1)
		p.discard(clearCtx, conn, metrics.DiscardClearFailed)
		p.logger.Error("Failed to clear tenant context on release; connection discarded",
			zap.String("kind", h.kind),
			zap.Uint32("conn_id", h.connID),
			zap.Object("tenant", h.tenant),
			zap.String("error", logging.SanitizeError(err)))
		return &PoolError{Op: "release", Kind: apperrors.ErrContextClearFailed, ConnID: h.connID, Err: err}
	}

	conn.Release()
	p.released.Add(1)
	metrics.LeasesReleased.WithLabelValues(h.kind).Inc()
	p.logger.Debug("Tenant context cleared; connection returned",
		zap.String("kind", h.kind),
		zap.Uint32("conn_id", h.connID),
		zap.Duration("held", time.Since(h.acquiredAt)))
	return nil
}

// abandon runs when a lease becomes unreachable without Release. Cleanup functions
// cannot block on the database, so the connection is discarded in the background
// rather than cleared and reused. Every call is a defect at the call site.
func (h *handle) abandon() {
	conn := h.take()
	if conn == nil {
		return
	}
	p := h.pool
	p.outstanding.Add(-1)
	p.abandoned.Add(1)
	metrics.LeasesOutstanding.WithLabelValues(h.kind).Dec()
	metrics.LeasesAbandoned.WithLabelValues(h.kind).Inc()

	p.logger.Error("Lease dropped without Release; discarding connection",
		zap.String("kind", h.kind),
		zap.Uint32("conn_id", h.connID),
		zap.Object("tenant", h.tenant),
		zap.Duration("held", time.Since(h.acquiredAt)))

	go p.discard(context.Background(), conn, metrics.DiscardAbandoned)
}

// Querier implementation; each call re-checks that the lease is still held.

func (h *handle) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return h.active().Exec(ctx, sql, args...)
}

func (h *handle) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return h.active().Query(ctx, sql, args...)
}

func (h *handle) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return h.active().QueryRow(ctx, sql, args...)
}
