package testhelpers

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ekaya-inc/tenantguard/migrations"
	"github.com/ekaya-inc/tenantguard/pkg/database"
)

// PostgresImage is the server image used by integration tests.
const PostgresImage = "postgres:17-alpine"

// AppRole is the role the application connects as. It owns nothing and cannot
// bypass row-level security, so policies apply to it the way they do in production.
const AppRole = "tenantguard_app"

// TestDB holds a shared PostgreSQL container with migrations applied.
type TestDB struct {
	Container testcontainers.Container
	// Owner connects as the superuser that ran migrations. Use it for fixtures only;
	// row-level security does not apply to it.
	Owner *pgxpool.Pool
	// DB connects as AppRole through NewConnection, checkin hook included.
	DB         *database.DB
	AppConnStr string
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared PostgreSQL container for integration tests.
// The container is created once and reused across all tests in the run.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

// NewScopedPool wraps the shared database in a ScopedPool for one test.
// The pool is not closed with the test since the underlying pgx pool is shared.
func (db *TestDB) NewScopedPool(cfg database.PoolConfig, logger *zap.Logger) *database.ScopedPool {
	return database.NewScopedPool(db.DB.ConnPool(), cfg, logger)
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "tenantguard_test",
			"POSTGRES_USER":     "owner",
			"POSTGRES_PASSWORD": "test_password",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	ownerConnStr := fmt.Sprintf("postgres://owner:test_password@%s:%s/tenantguard_test?sslmode=disable",
		host, port.Port())
	appConnStr := fmt.Sprintf("postgres://%s:app_password@%s:%s/tenantguard_test?sslmode=disable",
		AppRole, host, port.Port())

	// Run migrations using database/sql (required by golang-migrate)
	sqlDB, err := sql.Open("pgx", ownerConnStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open sql connection: %w", err)
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, migrations.FS, zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	owner, err := pgxpool.New(ctx, ownerConnStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create owner pool: %w", err)
	}

	setupRole := `
		CREATE ROLE ` + AppRole + ` LOGIN PASSWORD 'app_password' NOSUPERUSER NOBYPASSRLS;
		GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA public TO ` + AppRole + `;
		GRANT EXECUTE ON ALL FUNCTIONS IN SCHEMA public TO ` + AppRole + `;`
	if _, err := owner.Exec(ctx, setupRole); err != nil {
		owner.Close()
		return nil, fmt.Errorf("failed to create application role: %w", err)
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            appConnStr,
		MaxConnections: 4,
	}, zap.NewNop())
	if err != nil {
		owner.Close()
		return nil, fmt.Errorf("failed to connect as application role: %w", err)
	}

	return &TestDB{
		Container:  container,
		Owner:      owner,
		DB:         db,
		AppConnStr: appConnStr,
	}, nil
}
