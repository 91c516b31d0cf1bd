package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/tenantguard/pkg/logging"
	"github.com/ekaya-inc/tenantguard/pkg/metrics"
)

// DB owns a pgxpool connection pool whose checkin path neutralizes tenant context.
// The pool itself is not exported; application code reaches connections only
// through a ScopedPool built on ConnPool.
type DB struct {
	pool *pgxpool.Pool
}

// Config holds database connection configuration.
type Config struct {
	URL             string
	MaxConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	// ClearTimeout bounds the checkin clear run by the pool on every released connection.
	ClearTimeout time.Duration
}

// NewConnection creates a new database connection pool.
//
// Every connection returned to the pool is cleared again by the AfterRelease hook,
// whether or not the lease that held it cleared it. A connection that cannot be
// cleared is destroyed instead of returned idle.
func NewConnection(ctx context.Context, cfg *Config, logger *zap.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConnections
	if poolConfig.MaxConns == 0 {
		poolConfig.MaxConns = 25
	}

	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	if poolConfig.MaxConnLifetime == 0 {
		poolConfig.MaxConnLifetime = time.Hour
	}

	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	if poolConfig.MaxConnIdleTime == 0 {
		poolConfig.MaxConnIdleTime = time.Minute * 30
	}

	clearTimeout := cfg.ClearTimeout
	if clearTimeout == 0 {
		clearTimeout = DefaultClearTimeout
	}
	poolConfig.AfterRelease = checkinHook(clearTimeout, logger.Named("rls"))

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %s", logging.SanitizeError(err))
	}

	return &DB{pool: pool}, nil
}

// checkinHook clears tenant context on every connection returned to the pool.
// Returning false makes pgxpool destroy the connection.
func checkinHook(timeout time.Duration, logger *zap.Logger) func(*pgx.Conn) bool {
	return func(conn *pgx.Conn) bool {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := ClearContext(ctx, conn); err != nil {
			metrics.ConnectionsDiscarded.WithLabelValues(metrics.DiscardCheckin).Inc()
			logger.Warn("Checkin clear failed; destroying connection",
				zap.Uint32("conn_id", conn.PgConn().PID()),
				zap.String("error", logging.SanitizeError(err)))
			return false
		}
		return true
	}
}

// ConnPool returns the pool behind the ConnPool seam, for wrapping in a ScopedPool.
func (db *DB) ConnPool() ConnPool {
	return NewPgxConnPool(db.pool)
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}
