package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Server.Host != "0.0.0.0" {
		t.Fatalf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 3000 {
		t.Fatalf("Server.Port = %d, want 3000", cfg.Server.Port)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Fatalf("Database.Driver = %q, want %q", cfg.Database.Driver, "sqlite")
	}
	if cfg.Storage.Path != "data/objects" {
		t.Fatalf("Storage.Path = %q, want %q", cfg.Storage.Path, "data/objects")
	}
	if cfg.Auth.JWTSecret != "change-me-in-production" {
		t.Fatalf("Auth.JWTSecret = %q, want default", cfg.Auth.JWTSecret)
	}
	if cfg.Tiering.HotToWarmAge != "72h" {
		t.Fatalf("Tiering.HotToWarmAge = %q, want %q", cfg.Tiering.HotToWarmAge, "72h")
	}
	if cfg.Tiering.WarmToColdAge != "720h" {
		t.Fatalf("Tiering.WarmToColdAge = %q, want %q", cfg.Tiering.WarmToColdAge, "720h")
	}
	if cfg.Migration.Interval != "15m" {
		t.Fatalf("Migration.Interval = %q, want %q", cfg.Migration.Interval, "15m")
	}
	if cfg.Migration.BatchSize != 50 {
		t.Fatalf("Migration.BatchSize = %d, want 50", cfg.Migration.BatchSize)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("GITCELLAR_HOST", "127.0.0.1")
	t.Setenv("GITCELLAR_PORT", "4000")
	t.Setenv("GITCELLAR_TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.10")
	t.Setenv("GITCELLAR_DB_DRIVER", "postgres")
	t.Setenv("GITCELLAR_DB_DSN", "postgres://example")
	t.Setenv("GITCELLAR_STORAGE_PATH", "/tmp/objects")
	t.Setenv("GITCELLAR_STORAGE_COLD_BUCKET", "cold-bucket")
	t.Setenv("GITCELLAR_JWT_SECRET", "unit-test-secret-123")
	t.Setenv("GITCELLAR_TOKEN_DURATION", "1h")
	t.Setenv("GITCELLAR_HOT_TO_WARM_AGE", "24h")
	t.Setenv("GITCELLAR_WARM_TO_COLD_AGE", "168h")
	t.Setenv("GITCELLAR_HOT_MAX_OBJECTS", "500")
	t.Setenv("GITCELLAR_MIGRATION_INTERVAL", "1m")
	t.Setenv("GITCELLAR_MIGRATION_BATCH_SIZE", "10")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Fatalf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 4000 {
		t.Fatalf("Server.Port = %d, want 4000", cfg.Server.Port)
	}
	if len(cfg.Server.TrustedProxies) != 2 {
		t.Fatalf("Server.TrustedProxies length = %d, want 2", len(cfg.Server.TrustedProxies))
	}
	if cfg.Server.TrustedProxies[0] != "10.0.0.0/8" {
		t.Fatalf("Server.TrustedProxies[0] = %q, want %q", cfg.Server.TrustedProxies[0], "10.0.0.0/8")
	}
	if cfg.Server.TrustedProxies[1] != "192.168.1.10" {
		t.Fatalf("Server.TrustedProxies[1] = %q, want %q", cfg.Server.TrustedProxies[1], "192.168.1.10")
	}
	if cfg.Database.Driver != "postgres" {
		t.Fatalf("Database.Driver = %q, want %q", cfg.Database.Driver, "postgres")
	}
	if cfg.Database.DSN != "postgres://example" {
		t.Fatalf("Database.DSN = %q, want %q", cfg.Database.DSN, "postgres://example")
	}
	if cfg.Storage.Path != "/tmp/objects" {
		t.Fatalf("Storage.Path = %q, want %q", cfg.Storage.Path, "/tmp/objects")
	}
	if cfg.Storage.ColdBucket != "cold-bucket" {
		t.Fatalf("Storage.ColdBucket = %q, want %q", cfg.Storage.ColdBucket, "cold-bucket")
	}
	if cfg.Auth.JWTSecret != "unit-test-secret-123" {
		t.Fatalf("Auth.JWTSecret = %q, want override", cfg.Auth.JWTSecret)
	}
	if cfg.Auth.TokenDuration != "1h" {
		t.Fatalf("Auth.TokenDuration = %q, want %q", cfg.Auth.TokenDuration, "1h")
	}
	if cfg.Tiering.HotToWarmAge != "24h" {
		t.Fatalf("Tiering.HotToWarmAge = %q, want %q", cfg.Tiering.HotToWarmAge, "24h")
	}
	if cfg.Tiering.WarmToColdAge != "168h" {
		t.Fatalf("Tiering.WarmToColdAge = %q, want %q", cfg.Tiering.WarmToColdAge, "168h")
	}
	if cfg.Tiering.HotMaxObjects != 500 {
		t.Fatalf("Tiering.HotMaxObjects = %d, want 500", cfg.Tiering.HotMaxObjects)
	}
	if cfg.Migration.Interval != "1m" {
		t.Fatalf("Migration.Interval = %q, want %q", cfg.Migration.Interval, "1m")
	}
	if cfg.Migration.BatchSize != 10 {
		t.Fatalf("Migration.BatchSize = %d, want 10", cfg.Migration.BatchSize)
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
server:
  host: 127.0.0.1
  port: 5555
  trusted_proxies:
    - 10.0.0.0/8
    - 192.168.1.10
database:
  driver: sqlite
  dsn: test.db
storage:
  path: data/objects
  cold_bucket: gitcellar-cold
auth:
  jwt_secret: yaml-secret-123456
  token_duration: 12h
tiering:
  hot_to_warm_age: 48h
  warm_to_cold_age: 336h
  hot_max_objects: 1000
migration:
  interval: 5m
  batch_size: 25
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(path): %v", err)
	}

	if cfg.Server.Port != 5555 {
		t.Fatalf("Server.Port = %d, want 5555", cfg.Server.Port)
	}
	if len(cfg.Server.TrustedProxies) != 2 {
		t.Fatalf("Server.TrustedProxies length = %d, want 2", len(cfg.Server.TrustedProxies))
	}
	if cfg.Server.TrustedProxies[0] != "10.0.0.0/8" {
		t.Fatalf("Server.TrustedProxies[0] = %q, want %q", cfg.Server.TrustedProxies[0], "10.0.0.0/8")
	}
	if cfg.Server.TrustedProxies[1] != "192.168.1.10" {
		t.Fatalf("Server.TrustedProxies[1] = %q, want %q", cfg.Server.TrustedProxies[1], "192.168.1.10")
	}
	if cfg.Storage.ColdBucket != "gitcellar-cold" {
		t.Fatalf("Storage.ColdBucket = %q, want %q", cfg.Storage.ColdBucket, "gitcellar-cold")
	}
	if cfg.Auth.TokenDuration != "12h" {
		t.Fatalf("Auth.TokenDuration = %q, want %q", cfg.Auth.TokenDuration, "12h")
	}
	if cfg.Tiering.HotToWarmAge != "48h" {
		t.Fatalf("Tiering.HotToWarmAge = %q, want %q", cfg.Tiering.HotToWarmAge, "48h")
	}
	if cfg.Tiering.WarmToColdAge != "336h" {
		t.Fatalf("Tiering.WarmToColdAge = %q, want %q", cfg.Tiering.WarmToColdAge, "336h")
	}
	if cfg.Tiering.HotMaxObjects != 1000 {
		t.Fatalf("Tiering.HotMaxObjects = %d, want 1000", cfg.Tiering.HotMaxObjects)
	}
	if cfg.Migration.Interval != "5m" {
		t.Fatalf("Migration.Interval = %q, want %q", cfg.Migration.Interval, "5m")
	}
	if cfg.Migration.BatchSize != 25 {
		t.Fatalf("Migration.BatchSize = %d, want 25", cfg.Migration.BatchSize)
	}
}

func TestTieringConfigPolicy(t *testing.T) {
	tc := TieringConfig{HotToWarmAge: "72h", WarmToColdAge: "720h", HotMaxObjects: 1000}
	policy, err := tc.Policy()
	if err != nil {
		t.Fatalf("Policy: %v", err)
	}
	if policy.HotMaxObjects != 1000 {
		t.Fatalf("HotMaxObjects = %d, want 1000", policy.HotMaxObjects)
	}
	if policy.HotToWarmAge.String() != "72h0m0s" {
		t.Fatalf("HotToWarmAge = %v, want 72h0m0s", policy.HotToWarmAge)
	}
	if policy.WarmToColdAge.String() != "720h0m0s" {
		t.Fatalf("WarmToColdAge = %v, want 720h0m0s", policy.WarmToColdAge)
	}
}

func TestTieringConfigPolicyRejectsBadDuration(t *testing.T) {
	tc := TieringConfig{HotToWarmAge: "not-a-duration"}
	if _, err := tc.Policy(); err == nil {
		t.Fatal("Policy() error = nil, want error")
	}
}

func TestTieringConfigBloomOptions(t *testing.T) {
	tc := Default().Tiering
	opts := tc.BloomOptions()
	if opts.FilterBits != tc.BloomFilterBits {
		t.Fatalf("FilterBits = %d, want %d", opts.FilterBits, tc.BloomFilterBits)
	}
	if opts.HashCount != tc.BloomHashCount {
		t.Fatalf("HashCount = %d, want %d", opts.HashCount, tc.BloomHashCount)
	}
	if opts.MaxSegments != tc.BloomMaxSegments {
		t.Fatalf("MaxSegments = %d, want %d", opts.MaxSegments, tc.BloomMaxSegments)
	}
}

func TestMigrationConfigSchedulerOptions(t *testing.T) {
	mc := MigrationConfig{Interval: "15m", BatchSize: 50, BackoffBase: "1s", BackoffMax: "5m"}
	opts, err := mc.SchedulerOptions()
	if err != nil {
		t.Fatalf("SchedulerOptions: %v", err)
	}
	if opts.BatchSize != 50 {
		t.Fatalf("BatchSize = %d, want 50", opts.BatchSize)
	}
	if opts.CycleInterval.String() != "15m0s" {
		t.Fatalf("CycleInterval = %v, want 15m0s", opts.CycleInterval)
	}
	if opts.Backoff.Base.String() != "1s" {
		t.Fatalf("Backoff.Base = %v, want 1s", opts.Backoff.Base)
	}
	if opts.Backoff.Max.String() != "5m0s" {
		t.Fatalf("Backoff.Max = %v, want 5m0s", opts.Backoff.Max)
	}
}

func TestMigrationConfigSchedulerOptionsRejectsBadDuration(t *testing.T) {
	mc := MigrationConfig{Interval: "bogus"}
	if _, err := mc.SchedulerOptions(); err == nil {
		t.Fatal("SchedulerOptions() error = nil, want error")
	}
}
