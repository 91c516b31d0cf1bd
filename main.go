package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ekaya-inc/tenantguard/migrations"
	"github.com/ekaya-inc/tenantguard/pkg/auth"
	"github.com/ekaya-inc/tenantguard/pkg/cache"
	"github.com/ekaya-inc/tenantguard/pkg/config"
	"github.com/ekaya-inc/tenantguard/pkg/database"
	"github.com/ekaya-inc/tenantguard/pkg/handlers"
	"github.com/ekaya-inc/tenantguard/pkg/logging"
	"github.com/ekaya-inc/tenantguard/pkg/middleware"
	"github.com/ekaya-inc/tenantguard/pkg/repositories"
	"github.com/ekaya-inc/tenantguard/pkg/retry"
	"github.com/ekaya-inc/tenantguard/pkg/tracing"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.String("error", logging.SanitizeError(err)))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connURL := cfg.Database.ConnectionURL()
	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", logging.SanitizeConnectionString(connURL)),
		zap.Int32("max_connections", cfg.Database.MaxConnections),
		zap.String("redis_host", cfg.Redis.Host))

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName: "tenantguard",
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRate:  cfg.Tracing.SampleRate,
		Enabled:     cfg.Tracing.Enabled,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}()

	if cfg.Database.MigrateOnStart {
		if err := migrate(connURL, logger); err != nil {
			return err
		}
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:             connURL,
		MaxConnections:  cfg.Database.MaxConnections,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		ClearTimeout:    cfg.Database.ClearTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	pool := database.NewScopedPool(db.ConnPool(), database.PoolConfig{
		AcquireTimeout: cfg.Database.AcquireTimeout,
		ClearTimeout:   cfg.Database.ClearTimeout,
	}, logger)

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	} else {
		logger.Info("Redis not configured, membership cache disabled")
	}

	validator, err := auth.NewJWKSClient(&auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
	})
	if err != nil {
		return fmt.Errorf("create JWKS client: %w", err)
	}
	defer validator.Close()

	memberships := repositories.NewMembershipRepository(pool, logger)
	membershipCache := cache.NewMembershipCache(redisClient, memberships, cfg.Tenancy.MembershipCacheTTL, logger)
	authService := auth.NewAuthService(validator, membershipCache, cfg.Tenancy.TenantHeader, logger)
	authMiddleware := auth.NewMiddleware(authService, logger)

	retryCfg := &retry.Config{
		MaxRetries:   cfg.Retry.MaxRetries,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
	tenantMiddleware := handlers.TenantMiddleware(database.WithTenantLease(pool, retryCfg, logger))

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, pool, logger).RegisterRoutes(mux, database.WithPublicLease(pool, retryCfg, logger))
	handlers.NewSessionHandler(logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewNoteHandler(repositories.NewNoteRepository(), logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewMembershipHandler(memberships, logger).RegisterRoutes(mux, authMiddleware)
	mux.Handle("GET /metrics", promhttp.Handler())

	handler := middleware.Recoverer(logger)(middleware.RequestLogger(logger)(mux))

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting tenantguard", zap.String("addr", server.Addr), zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	stats := pool.Stats()
	logger.Info("Server stopped",
		zap.Int64("leases_acquired", stats.Acquired),
		zap.Int64("leases_abandoned", stats.Abandoned),
		zap.Int64("connections_discarded", stats.Discarded))
	return nil
}

func migrate(connURL string, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", connURL)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, migrations.FS, logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
