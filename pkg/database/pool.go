package database

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ekaya-inc/tenantguard/pkg/apperrors"
	"github.com/ekaya-inc/tenantguard/pkg/logging"
	"github.com/ekaya-inc/tenantguard/pkg/metrics"
	"github.com/ekaya-inc/tenantguard/pkg/tenant"
)

var tracer = otel.Tracer("github.com/ekaya-inc/tenantguard/pkg/database")

const (
	DefaultAcquireTimeout = 5 * time.Second
	DefaultClearTimeout   = 2 * time.Second
)

// PoolConfig tunes ScopedPool. Zero values fall back to the defaults above.
type PoolConfig struct {
	// AcquireTimeout bounds checkout plus bind when the caller passes no timeout.
	AcquireTimeout time.Duration
	// ClearTimeout bounds the clear issued on release. It is detached from the
	// request context so a cancelled request still clears its connection.
	ClearTimeout time.Duration
}

// Stats is a snapshot of ScopedPool counters.
type Stats struct {
	Acquired      int64 `json:"acquired"`
	Released      int64 `json:"released"`
	Abandoned     int64 `json:"abandoned"`
	Discarded     int64 `json:"discarded"`
	BindFailures  int64 `json:"bind_failures"`
	ClearFailures int64 `json:"clear_failures"`
	Outstanding   int64 `json:"outstanding"`
}

// ScopedPool hands out connections only as leases. Holding a *ScopedPool does not
// let code run a query: there is no method returning a raw connection.
type ScopedPool struct {
	pool   ConnPool
	cfg    PoolConfig
	logger *zap.Logger

	acquired      atomic.Int64
	released      atomic.Int64
	abandoned     atomic.Int64
	discarded     atomic.Int64
	bindFailures  atomic.Int64
	clearFailures atomic.Int64
	outstanding   atomic.Int64
}

// NewScopedPool wraps pool. The ScopedPool takes ownership and closes it on Close.
func NewScopedPool(pool ConnPool, cfg PoolConfig, logger *zap.Logger) *ScopedPool {
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	if cfg.ClearTimeout <= 0 {
		cfg.ClearTimeout = DefaultClearTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScopedPool{
		pool:   pool,
		cfg:    cfg,
		logger: logger.Named("rls"),
	}
}

// AcquireScoped checks out a connection and binds tc to it.
//
// An empty context is rejected with ErrInvalidContext before any connection is
// touched. Checkout waits at most timeout (the configured default when timeout <= 0)
// and fails with the retryable ErrPoolExhausted or ErrAcquireTimeout; a timeout that
// expires during the bind is reported the same way. Any other checkout failure is
// ErrConnectFailed and is not retryable. If binding fails the connection is discarded
// and ErrContextBindFailed is returned.
//
// The returned lease must be released on every exit path:
//
//	lease, err := pool.AcquireScoped(ctx, tc, 0)
//	if err != nil {
//		return err
//	}
//	defer lease.Release(ctx)
func (p *ScopedPool) AcquireScoped(ctx context.Context, tc tenant.Context, timeout time.Duration) (*Lease, error) {
	if err := tc.Validate(); err != nil {
		metrics.AcquireFailures.WithLabelValues(metrics.KindScoped, "invalid_context").Inc()
		return nil, &PoolError{Op: "acquire_scoped", Kind: apperrors.ErrInvalidContext}
	}

	ctx, span := tracer.Start(ctx, "database.AcquireScoped", trace.WithAttributes(
		attribute.Bool("tenant.super_admin", tc.IsSuperAdmin()),
	))
	defer span.End()

	start := time.Now()
	conn, err := p.checkout(ctx, "acquire_scoped", metrics.KindScoped, timeout, func(ctx context.Context, conn PooledConn) error {
		return BindContext(ctx, conn, tc)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "acquire failed")
		return nil, err
	}
	metrics.AcquireDuration.WithLabelValues(metrics.KindScoped).Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int64("db.conn_id", int64(conn.ID())))

	h := p.newHandle(conn, tc, metrics.KindScoped)
	lease := &Lease{tenant: tc, h: h}
	lease.cleanup = runtime.AddCleanup(lease, (*handle).abandon, h)

	p.logger.Debug("Tenant context bound to connection",
		zap.Uint32("conn_id", conn.ID()),
		zap.Object("tenant", tc))
	return lease, nil
}

// AcquirePublic checks out a connection for a tenant-agnostic operation (health
// checks, public search, authentication). No context is bound; the connection is
// cleared at checkout so it never carries a previous caller's context.
func (p *ScopedPool) AcquirePublic(ctx context.Context, timeout time.Duration) (*PublicLease, error) {
	ctx, span := tracer.Start(ctx, "database.AcquirePublic")
	defer span.End()

	start := time.Now()
	conn, err := p.checkout(ctx, "acquire_public", metrics.KindPublic, timeout, func(ctx context.Context, conn PooledConn) error {
		return ClearContext(ctx, conn)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "acquire failed")
		return nil, err
	}
	metrics.AcquireDuration.WithLabelValues(metrics.KindPublic).Observe(time.Since(start).Seconds())

	h := p.newHandle(conn, tenant.Context{}, metrics.KindPublic)
	lease := &PublicLease{h: h}
	lease.cleanup = runtime.AddCleanup(lease, (*handle).abandon, h)
	return lease, nil
}

// checkout acquires a connection and runs prepare on it. A prepare failure
// discards the connection. Cancellation by the caller is returned as-is: no
// connection was taken and nothing is owed.
func (p *ScopedPool) checkout(
	ctx context.Context,
	op, kind string,
	timeout time.Duration,
	prepare func(context.Context, PooledConn) error,
) (PooledConn, error) {
	if timeout <= 0 {
		timeout = p.cfg.AcquireTimeout
	}
	acqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := p.pool.Acquire(acqCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errKind, reason := apperrors.ErrConnectFailed, "connect_failed"
		if isDeadline(err) {
			errKind, reason = apperrors.ErrAcquireTimeout, "timeout"
			if p.pool.Saturated() {
				errKind, reason = apperrors.ErrPoolExhausted, "exhausted"
			}
		}
		metrics.AcquireFailures.WithLabelValues(kind, reason).Inc()
		p.logger.Warn("Failed to check out connection",
			zap.String("op", op),
			zap.Duration("timeout", timeout),
			zap.String("error", logging.SanitizeError(err)))
		return nil, &PoolError{Op: op, Kind: errKind, Err: err}
	}

	if err := prepare(acqCtx, conn); err != nil {
		// A statement interrupted mid-flight leaves the session in an unknown state,
		// so the connection is discarded whatever the cause.
		id := conn.ID()
		reason := metrics.DiscardBindFailed
		if kind == metrics.KindPublic {
			reason = metrics.DiscardClearFailed
		}
		p.discard(ctx, conn, reason)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if acqCtx.Err() != nil {
			// The wait used up the budget before prepare could finish. That is
			// a capacity problem, not a broken connection.
			metrics.AcquireFailures.WithLabelValues(kind, "timeout").Inc()
			p.logger.Warn("Acquire deadline reached while preparing connection",
				zap.String("op", op),
				zap.Uint32("conn_id", id),
				zap.Duration("timeout", timeout))
			return nil, &PoolError{Op: op, Kind: apperrors.ErrAcquireTimeout, ConnID: id, Err: err}
		}

		errKind := apperrors.ErrContextBindFailed
		if kind == metrics.KindPublic {
			errKind = apperrors.ErrContextClearFailed
			p.clearFailures.Add(1)
		} else {
			p.bindFailures.Add(1)
		}
		metrics.AcquireFailures.WithLabelValues(kind, reason).Inc()
		p.logger.Error("Failed to prepare connection; discarded",
			zap.String("op", op),
			zap.Uint32("conn_id", id),
			zap.String("error", logging.SanitizeError(err)))
		return nil, &PoolError{Op: op, Kind: errKind, ConnID: id, Err: err}
	}

	p.acquired.Add(1)
	p.outstanding.Add(1)
	metrics.LeasesAcquired.WithLabelValues(kind).Inc()
	metrics.LeasesOutstanding.WithLabelValues(kind).Inc()
	return conn, nil
}

// discard removes conn from circulation. The pool opens a replacement on demand.
func (p *ScopedPool) discard(ctx context.Context, conn PooledConn, reason string) {
	conn.Discard(ctx)
	p.discarded.Add(1)
	metrics.ConnectionsDiscarded.WithLabelValues(reason).Inc()
}

// Stats returns a snapshot of lease counters.
func (p *ScopedPool) Stats() Stats {
	return Stats{
		Acquired:      p.acquired.Load(),
		Released:      p.released.Load(),
		Abandoned:     p.abandoned.Load(),
		Discarded:     p.discarded.Load(),
		BindFailures:  p.bindFailures.Load(),
		ClearFailures: p.clearFailures.Load(),
		Outstanding:   p.outstanding.Load(),
	}
}

// Close closes the underlying pool. Outstanding leases must be released first.
func (p *ScopedPool) Close() {
	if n := p.outstanding.Load(); n > 0 {
		p.logger.Warn("Closing pool with outstanding leases", zap.Int64("outstanding", n))
	}
	p.pool.Close()
}
