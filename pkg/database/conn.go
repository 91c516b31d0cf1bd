package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the statement surface a lease exposes to business code.
// *pgxpool.Conn, *pgx.Conn and pgx.Tx all satisfy it.
//
// pgx.Rows.Conn() returns the underlying *pgx.Conn. Do not keep or use it: a
// statement run through it is not checked against the lease and still runs after
// Release, on a connection that may since have been bound to another tenant.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PooledConn is one checked-out physical connection.
type PooledConn interface {
	Querier

	// Release returns the connection to the pool's idle set.
	Release()
	// Discard removes the connection from circulation and closes it.
	// The pool opens a replacement on demand.
	Discard(ctx context.Context)
	// ID identifies the physical connection (the backend PID for PostgreSQL).
	ID() uint32
}

// ConnPool is the generic pool ScopedPool wraps. Checkout exclusivity is its job.
type ConnPool interface {
	Acquire(ctx context.Context) (PooledConn, error)
	// Saturated reports whether every connection is checked out.
	Saturated() bool
	Close()
}

// pgxConnPool adapts *pgxpool.Pool to ConnPool.
type pgxConnPool struct {
	pool *pgxpool.Pool
}

// NewPgxConnPool wraps a pgx pool. The pool should be built by NewConnection so that
// its checkin hook neutralizes tenant context.
func NewPgxConnPool(pool *pgxpool.Pool) ConnPool {
	return &pgxConnPool{pool: pool}
}

func (p *pgxConnPool) Acquire(ctx context.Context) (PooledConn, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &pgxPooledConn{Conn: conn}, nil
}

func (p *pgxConnPool) Saturated() bool {
	stat := p.pool.Stat()
	return stat.AcquiredConns() >= stat.MaxConns()
}

func (p *pgxConnPool) Close() {
	p.pool.Close()
}

type pgxPooledConn struct {
	*pgxpool.Conn
}

func (c *pgxPooledConn) Discard(ctx context.Context) {
	// Hijack takes the connection out of the pool; closing it frees the slot.
	raw := c.Hijack()
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_ = raw.Close(closeCtx)
}

func (c *pgxPooledConn) ID() uint32 {
	return c.Conn.Conn().PgConn().PID()
}

// isDeadline reports whether err came from an expired deadline rather than caller cancellation.
func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
