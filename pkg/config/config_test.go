package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig writes config.yaml into a temp dir and chdirs into it for the test.
// JWT verification is disabled via env because cleanenv treats a YAML false as unset.
func writeConfig(t *testing.T, yamlContent string) {
	t.Helper()
	t.Setenv("AUTH_ENABLE_VERIFICATION", "false")

	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	originalDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		os.Chdir(originalDir)
	})
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	writeConfig(t, `
port: "3443"
env: "test"
database:
  host: "db.example.com"
  port: 5432
  user: "testuser"
  database: "testdb"
  max_connections: 10
`)

	os.Unsetenv("PGHOST")
	t.Setenv("PORT", "4443")
	t.Setenv("PGMAX_CONNECTIONS", "3")

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "4443" {
		t.Errorf("expected Port=4443 (from env), got %s", cfg.Port)
	}
	if cfg.Database.MaxConnections != 3 {
		t.Errorf("expected MaxConnections=3 (from env), got %d", cfg.Database.MaxConnections)
	}
	if cfg.Database.Host != "db.example.com" {
		t.Errorf("expected Database.Host=db.example.com (from yaml), got %s", cfg.Database.Host)
	}
	if cfg.Version != "test-version" {
		t.Errorf("expected Version=test-version, got %s", cfg.Version)
	}
}

func TestLoad_LeaseDefaults(t *testing.T) {
	writeConfig(t, `
env: "test"
`)

	cfg, err := Load("dev")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Database.AcquireTimeout != 5*time.Second {
		t.Errorf("expected AcquireTimeout=5s, got %v", cfg.Database.AcquireTimeout)
	}
	if cfg.Database.ClearTimeout != 2*time.Second {
		t.Errorf("expected ClearTimeout=2s, got %v", cfg.Database.ClearTimeout)
	}
	if cfg.Database.MaxConnLifetime != time.Hour {
		t.Errorf("expected MaxConnLifetime=1h, got %v", cfg.Database.MaxConnLifetime)
	}
	if cfg.Tenancy.TenantHeader != "X-Tenant-ID" {
		t.Errorf("expected TenantHeader=X-Tenant-ID, got %s", cfg.Tenancy.TenantHeader)
	}
	if cfg.Retry.MaxRetries != 2 {
		t.Errorf("expected Retry.MaxRetries=2, got %d", cfg.Retry.MaxRetries)
	}
	if cfg.Redis.Host != "" {
		t.Errorf("expected Redis disabled by default, got host %q", cfg.Redis.Host)
	}
}

func TestLoad_DurationsFromYAML(t *testing.T) {
	writeConfig(t, `
database:
  acquire_timeout: 250ms
  clear_timeout: 1s
tenancy:
  membership_cache_ttl: 10s
`)

	cfg, err := Load("dev")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Database.AcquireTimeout != 250*time.Millisecond {
		t.Errorf("expected AcquireTimeout=250ms, got %v", cfg.Database.AcquireTimeout)
	}
	if cfg.Tenancy.MembershipCacheTTL != 10*time.Second {
		t.Errorf("expected MembershipCacheTTL=10s, got %v", cfg.Tenancy.MembershipCacheTTL)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	originalDir, _ := os.Getwd()
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() { os.Chdir(originalDir) })

	if _, err := Load("dev"); err == nil {
		t.Error("expected error when config.yaml is missing")
	}
}

func TestLoad_VerificationRequiresJWKS(t *testing.T) {
	writeConfig(t, `
port: "3443"
`)
	t.Setenv("AUTH_ENABLE_VERIFICATION", "true")
	os.Unsetenv("JWKS_ENDPOINTS")

	_, err := Load("dev")
	if err == nil || !strings.Contains(err.Error(), "jwks_endpoints") {
		t.Errorf("expected jwks_endpoints error, got %v", err)
	}
}

func TestValidate_RejectsBadPoolSettings(t *testing.T) {
	base := func() *Config {
		return &Config{
			Database: DatabaseConfig{MaxConnections: 5, AcquireTimeout: time.Second, ClearTimeout: time.Second},
			Tenancy:  TenancyConfig{TenantHeader: "X-Tenant-ID"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero pool", func(c *Config) { c.Database.MaxConnections = 0 }, "max_connections"},
		{"zero acquire timeout", func(c *Config) { c.Database.AcquireTimeout = 0 }, "acquire_timeout"},
		{"zero clear timeout", func(c *Config) { c.Database.ClearTimeout = 0 }, "clear_timeout"},
		{"blank header", func(c *Config) { c.Tenancy.TenantHeader = " " }, "tenant_header"},
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestParseJWKSEndpoints(t *testing.T) {
	got := parseJWKSEndpoints("https://a.example.com=https://a.example.com/jwks.json?x=1, https://b=https://b/jwks")

	if got["https://a.example.com"] != "https://a.example.com/jwks.json?x=1" {
		t.Errorf("unexpected endpoint for a: %q", got["https://a.example.com"])
	}
	if got["https://b"] != "https://b/jwks" {
		t.Errorf("unexpected endpoint for b: %q", got["https://b"])
	}
	if len(parseJWKSEndpoints("")) != 0 {
		t.Error("expected empty map for empty input")
	}
}

func TestDatabaseConfig_ConnectionURL(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5433, User: "app", Password: "p@ss", Database: "tg", SSLMode: "require"}

	got := c.ConnectionURL()
	want := "postgres://app:p%40ss@db:5433/tg?sslmode=require"
	if got != want {
		t.Errorf("ConnectionURL() = %q, want %q", got, want)
	}
}
