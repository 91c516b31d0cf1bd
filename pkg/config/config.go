package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for tenantguard.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`

	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Tenancy  TenancyConfig  `yaml:"tenancy"`
	Redis    RedisConfig    `yaml:"redis"`
	Retry    RetryConfig    `yaml:"retry"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether JWT signatures are validated.
	// Set to false for local development without an auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	// Format: "issuer1=url1,issuer2=url2"
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:""`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`
}

// DatabaseConfig holds PostgreSQL connection and lease configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"tenantguard_app"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"tenantguard"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`

	// AcquireTimeout bounds how long a request waits for a connection.
	AcquireTimeout time.Duration `yaml:"acquire_timeout" env:"PG_ACQUIRE_TIMEOUT" env-default:"5s"`
	// ClearTimeout bounds the context clear issued when a connection is returned.
	ClearTimeout time.Duration `yaml:"clear_timeout" env:"PG_CLEAR_TIMEOUT" env-default:"2s"`
	// MaxConnLifetime recycles physical connections regardless of use.
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" env:"PG_MAX_CONN_LIFETIME" env-default:"1h"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"PG_MAX_CONN_IDLE_TIME" env-default:"30m"`

	// MigrateOnStart applies embedded migrations before serving. The configured
	// user must own the schema when this is set.
	MigrateOnStart bool `yaml:"migrate_on_start" env:"PG_MIGRATE_ON_START"`
}

// TenancyConfig controls how requests select a tenant.
type TenancyConfig struct {
	// TenantHeader carries the organization a request operates on.
	TenantHeader string `yaml:"tenant_header" env:"TENANT_HEADER" env-default:"X-Tenant-ID"`
	// MembershipCacheTTL is how long a resolved membership is trusted.
	MembershipCacheTTL time.Duration `yaml:"membership_cache_ttl" env:"MEMBERSHIP_CACHE_TTL" env-default:"1m"`
}

// RedisConfig holds Redis configuration. An empty host disables Redis.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// RetryConfig controls retries of retryable connection acquisition failures.
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries" env:"ACQUIRE_MAX_RETRIES" env-default:"2"`
	InitialDelay time.Duration `yaml:"initial_delay" env:"ACQUIRE_RETRY_INITIAL_DELAY" env-default:"50ms"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"ACQUIRE_RETRY_MAX_DELAY" env-default:"500ms"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	cfg.Auth.JWKSEndpoints = parseJWKSEndpoints(cfg.Auth.JWKSEndpointsStr)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks settings the connection lifecycle depends on.
func (c *Config) Validate() error {
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database.max_connections must be positive, got %d", c.Database.MaxConnections)
	}
	if c.Database.AcquireTimeout <= 0 {
		return fmt.Errorf("database.acquire_timeout must be positive")
	}
	if c.Database.ClearTimeout <= 0 {
		return fmt.Errorf("database.clear_timeout must be positive")
	}
	if strings.TrimSpace(c.Tenancy.TenantHeader) == "" {
		return fmt.Errorf("tenancy.tenant_header must not be empty")
	}
	if c.Auth.EnableVerification && len(c.Auth.JWKSEndpoints) == 0 {
		return fmt.Errorf("auth.jwks_endpoints is required when verification is enabled")
	}
	return nil
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2"
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}

	pairs := strings.Split(value, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) == 2 {
			endpoints[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return endpoints
}

// ConnectionURL returns a PostgreSQL connection URL.
func (c *DatabaseConfig) ConnectionURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

// TracingConfig controls OpenTelemetry trace export.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled" env:"OTEL_TRACING_ENABLED"`
	Endpoint   string  `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT" env-default:"localhost:4317"`
	SampleRate float64 `yaml:"sample_rate" env:"OTEL_SAMPLE_RATE" env-default:"1.0"`
}
