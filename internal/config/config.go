// Package config loads gitcellar's YAML configuration file and applies
// GITCELLAR_* environment variable overrides, the same two-stage
// Default/Load/applyEnv shape the teacher uses for its own config.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/odvcencio/gitcellar/internal/bloomindex"
	"github.com/odvcencio/gitcellar/internal/tieredstore"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Storage    StorageConfig    `yaml:"storage"`
	Auth       AuthConfig       `yaml:"auth"`
	Tiering    TieringConfig    `yaml:"tiering"`
	Migration  MigrationConfig  `yaml:"migration"`
	Compaction CompactionConfig `yaml:"compaction"`
}

type ServerConfig struct {
	Host               string   `yaml:"host"`
	Port               int      `yaml:"port"`
	TrustedProxies     []string `yaml:"trusted_proxies"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

// DatabaseConfig selects and connects to the catalog backend
// (internal/catalog) that tracks bundles and their object manifests.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`    // file path for sqlite, connection string for postgres
}

// StorageConfig names the local filesystem root that holds the warm
// tier's bundle files (Path/warm) and the ref store (Path/refs), and the
// cold-tier bucket objects migrate into. The hot tier is held in memory
// and does not use Path. A blank ColdBucket keeps the cold tier on the
// local filesystem (under Path/cold); setting it switches the cold tier
// to S3/minio.
type StorageConfig struct {
	Path       string `yaml:"path"`        // local filesystem root for warm bundles, refs and a local cold tier
	ColdBucket string `yaml:"cold_bucket"` // S3/minio bucket name for the cold tier

	S3Endpoint  string `yaml:"s3_endpoint"`
	S3Region    string `yaml:"s3_region"`
	S3AccessKey string `yaml:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key"`
	S3UseSSL    bool   `yaml:"s3_use_ssl"`
}

type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	TokenDuration string `yaml:"token_duration"` // e.g. "24h"
}

// TieringConfig parameterizes the tiered object store's hot→warm→cold
// migration policy and the bloom index that answers "is this object
// definitely absent" ahead of the hot→warm→cold existence search; it
// does not say which tier holds an object.
type TieringConfig struct {
	HotToWarmAge  string `yaml:"hot_to_warm_age"`  // e.g. "72h"
	WarmToColdAge string `yaml:"warm_to_cold_age"` // e.g. "720h"
	HotMaxObjects int    `yaml:"hot_max_objects"`

	BloomFilterBits       int `yaml:"bloom_filter_bits"`
	BloomHashCount        int `yaml:"bloom_hash_count"`
	BloomSegmentThreshold int `yaml:"bloom_segment_threshold"`
	BloomMaxSegments      int `yaml:"bloom_max_segments"`
	BloomExactCacheSize   int `yaml:"bloom_exact_cache_size"`
}

// Policy converts the YAML/env duration strings into a
// tieredstore.Policy, the form the scheduler actually consumes.
func (t TieringConfig) Policy() (tieredstore.Policy, error) {
	hotToWarm, err := parseDuration(t.HotToWarmAge)
	if err != nil {
		return tieredstore.Policy{}, fmt.Errorf("tiering.hot_to_warm_age: %w", err)
	}
	warmToCold, err := parseDuration(t.WarmToColdAge)
	if err != nil {
		return tieredstore.Policy{}, fmt.Errorf("tiering.warm_to_cold_age: %w", err)
	}
	return tieredstore.Policy{
		HotToWarmAge:  hotToWarm,
		WarmToColdAge: warmToCold,
		HotMaxObjects: t.HotMaxObjects,
	}, nil
}

// BloomOptions converts the YAML/env bloom-index fields into
// bloomindex.Options.
func (t TieringConfig) BloomOptions() bloomindex.Options {
	return bloomindex.Options{
		FilterBits:       t.BloomFilterBits,
		HashCount:        t.BloomHashCount,
		SegmentThreshold: t.BloomSegmentThreshold,
		MaxSegments:      t.BloomMaxSegments,
		ExactCacheSize:   t.BloomExactCacheSize,
	}
}

// MigrationConfig parameterizes the background migration scheduler's
// cadence and retry backoff.
type MigrationConfig struct {
	Interval    string `yaml:"interval"`     // e.g. "15m"
	BatchSize   int    `yaml:"batch_size"`
	BackoffBase string `yaml:"backoff_base"` // e.g. "1s"
	BackoffMax  string `yaml:"backoff_max"`  // e.g. "5m"
}

// SchedulerOptions converts the YAML/env fields into the
// tieredstore.SchedulerOptions subset this config controls (Clock,
// Policy, and Logger are supplied by the caller at wiring time).
func (m MigrationConfig) SchedulerOptions() (tieredstore.SchedulerOptions, error) {
	interval, err := parseDuration(m.Interval)
	if err != nil {
		return tieredstore.SchedulerOptions{}, fmt.Errorf("migration.interval: %w", err)
	}
	base, err := parseDuration(m.BackoffBase)
	if err != nil {
		return tieredstore.SchedulerOptions{}, fmt.Errorf("migration.backoff_base: %w", err)
	}
	max, err := parseDuration(m.BackoffMax)
	if err != nil {
		return tieredstore.SchedulerOptions{}, fmt.Errorf("migration.backoff_max: %w", err)
	}
	return tieredstore.SchedulerOptions{
		CycleInterval: interval,
		BatchSize:     m.BatchSize,
		Backoff:       tieredstore.Backoff{Base: base, Max: max},
	}, nil
}

// CompactionConfig parameterizes the background bundle-compaction
// loop's cadence, concurrency, and the dead-byte fraction a sealed
// bundle must reach before it's rewritten.
type CompactionConfig struct {
	Interval         string  `yaml:"interval"` // e.g. "10m"
	Concurrency      int     `yaml:"concurrency"`
	MinFragmentRatio float64 `yaml:"min_fragment_ratio"`
}

// IntervalOrDefault parses Interval, falling back to 10 minutes when
// unset.
func (c CompactionConfig) IntervalOrDefault() (time.Duration, error) {
	d, err := parseDuration(c.Interval)
	if err != nil {
		return 0, fmt.Errorf("compaction.interval: %w", err)
	}
	if d <= 0 {
		d = 10 * time.Minute
	}
	return d, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ValidateServe rejects configuration unsafe to serve with: an unset or
// default JWT secret, and an unset storage root.
func (c *Config) ValidateServe() error {
	if c == nil {
		return fmt.Errorf("config is required")
	}
	if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "change-me-in-production" {
		return fmt.Errorf("GITCELLAR_JWT_SECRET must be set to a non-default value (example: GITCELLAR_JWT_SECRET=dev-jwt-secret-change-this)")
	}
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("GITCELLAR_JWT_SECRET must be at least 16 characters (current length: %d)", len(c.Auth.JWTSecret))
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path must be configured")
	}
	return nil
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "gitcellar.db",
		},
		Storage: StorageConfig{
			Path: "data/objects",
		},
		Auth: AuthConfig{
			JWTSecret:     "change-me-in-production",
			TokenDuration: "24h",
		},
		Tiering: TieringConfig{
			HotToWarmAge:          "72h",
			WarmToColdAge:         "720h",
			HotMaxObjects:         0,
			BloomFilterBits:       1 << 20,
			BloomHashCount:        7,
			BloomSegmentThreshold: 100_000,
			BloomMaxSegments:      4,
			BloomExactCacheSize:   4096,
		},
		Migration: MigrationConfig{
			Interval:    "15m",
			BatchSize:   50,
			BackoffBase: "1s",
			BackoffMax:  "5m",
		},
		Compaction: CompactionConfig{
			Interval:         "10m",
			Concurrency:      4,
			MinFragmentRatio: 0.3,
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("GITCELLAR_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("GITCELLAR_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("GITCELLAR_TRUSTED_PROXIES"); v != "" {
		cfg.Server.TrustedProxies = parseCSV(v)
	}
	if v := os.Getenv("GITCELLAR_CORS_ALLOW_ORIGINS"); v != "" {
		cfg.Server.CORSAllowedOrigins = parseCSV(v)
	}
	if v := os.Getenv("GITCELLAR_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("GITCELLAR_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("GITCELLAR_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("GITCELLAR_STORAGE_COLD_BUCKET"); v != "" {
		cfg.Storage.ColdBucket = v
	}
	if v := os.Getenv("GITCELLAR_STORAGE_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3Endpoint = v
	}
	if v := os.Getenv("GITCELLAR_STORAGE_S3_REGION"); v != "" {
		cfg.Storage.S3Region = v
	}
	if v := os.Getenv("GITCELLAR_STORAGE_S3_ACCESS_KEY"); v != "" {
		cfg.Storage.S3AccessKey = v
	}
	if v := os.Getenv("GITCELLAR_STORAGE_S3_SECRET_KEY"); v != "" {
		cfg.Storage.S3SecretKey = v
	}
	if v := os.Getenv("GITCELLAR_STORAGE_S3_USE_SSL"); v != "" {
		cfg.Storage.S3UseSSL = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("GITCELLAR_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("GITCELLAR_TOKEN_DURATION"); v != "" {
		cfg.Auth.TokenDuration = v
	}
	if v := os.Getenv("GITCELLAR_HOT_TO_WARM_AGE"); v != "" {
		cfg.Tiering.HotToWarmAge = v
	}
	if v := os.Getenv("GITCELLAR_WARM_TO_COLD_AGE"); v != "" {
		cfg.Tiering.WarmToColdAge = v
	}
	if v := os.Getenv("GITCELLAR_HOT_MAX_OBJECTS"); v != "" {
		if value, err := strconv.Atoi(v); err == nil && value >= 0 {
			cfg.Tiering.HotMaxObjects = value
		}
	}
	if v := os.Getenv("GITCELLAR_MIGRATION_INTERVAL"); v != "" {
		cfg.Migration.Interval = v
	}
	if v := os.Getenv("GITCELLAR_MIGRATION_BATCH_SIZE"); v != "" {
		if value, err := strconv.Atoi(v); err == nil && value > 0 {
			cfg.Migration.BatchSize = value
		}
	}
	if v := os.Getenv("GITCELLAR_COMPACTION_INTERVAL"); v != "" {
		cfg.Compaction.Interval = v
	}
	if v := os.Getenv("GITCELLAR_COMPACTION_CONCURRENCY"); v != "" {
		if value, err := strconv.Atoi(v); err == nil && value > 0 {
			cfg.Compaction.Concurrency = value
		}
	}
	if v := os.Getenv("GITCELLAR_COMPACTION_MIN_FRAGMENT_RATIO"); v != "" {
		if value, err := strconv.ParseFloat(v, 64); err == nil && value > 0 {
			cfg.Compaction.MinFragmentRatio = value
		}
	}
}

func parseCSV(v string) []string {
	raw := strings.TrimSpace(v)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value == "" {
			continue
		}
		out = append(out, value)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
