package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/rolekeeper/pkg/observability"
	"github.com/platinummonkey/rolekeeper/pkg/storage"
)

// EnvPrefix prefixes every environment variable read by LoadConfig
const EnvPrefix = "ROLEKEEPER_"

// Config holds all application configuration
type Config struct {
	// Server configuration for rolekeeper serve
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// CatalogPath is an optional YAML catalog; the built-in catalog is used when empty
	CatalogPath string

	Audit         AuditConfig
	Checker       CheckerConfig
	Snapshot      SnapshotConfig
	Observability ObservabilityConfig
}

// ServerConfig holds the ops HTTP server configuration
type ServerConfig struct {
	MetricsAddr     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// AuditConfig configures the optional activity log file mirror
type AuditConfig struct {
	FileDir      string
	FileMaxSize  int64
	FileMaxFiles int
}

// CheckerConfig configures the effective permission cache
type CheckerConfig struct {
	CacheSize int
	CacheTTL  time.Duration
}

// SnapshotConfig configures scheduled role snapshots. An empty Schedule
// disables them.
type SnapshotConfig struct {
	Schedule string
	Dir      string

	S3Bucket       string
	S3Prefix       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		CatalogPath:   getEnv("CATALOG_PATH", ""),
		Audit:         loadAuditConfig(),
		Checker:       loadCheckerConfig(),
		Snapshot:      loadSnapshotConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		MetricsAddr:     getEnv("METRICS_ADDR", ":9090"),
		ReadTimeout:     getEnvDuration("READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	cfg.Type = getEnv("STORAGE", cfg.Type)
	cfg.DatabaseURL = getEnv("DATABASE_URL", "")
	if maxConns := getEnvInt("DATABASE_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns := getEnvInt("DATABASE_MIN_CONNS", 0); minConns > 0 {
		cfg.MinConns = minConns
	}
	if timeout := getEnvDuration("DATABASE_TIMEOUT", 0); timeout > 0 {
		cfg.Timeout = timeout
	}

	cfg.RedisURL = getEnv("REDIS_URL", "")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	if redisDB := getEnvInt("REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if poolSize := getEnvInt("REDIS_POOL_SIZE", 0); poolSize > 0 {
		cfg.RedisPoolSize = poolSize
	}

	return cfg
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		FileDir:      getEnv("AUDIT_FILE_DIR", ""),
		FileMaxSize:  getEnvInt64("AUDIT_FILE_MAX_SIZE", 100*1024*1024),
		FileMaxFiles: getEnvInt("AUDIT_FILE_MAX_FILES", 10),
	}
}

func loadCheckerConfig() CheckerConfig {
	return CheckerConfig{
		CacheSize: getEnvInt("CHECKER_CACHE_SIZE", 1024),
		CacheTTL:  getEnvDuration("CHECKER_CACHE_TTL", 5*time.Minute),
	}
}

func loadSnapshotConfig() SnapshotConfig {
	return SnapshotConfig{
		Schedule:       getEnv("SNAPSHOT_SCHEDULE", ""),
		Dir:            getEnv("SNAPSHOT_DIR", ""),
		S3Bucket:       getEnv("SNAPSHOT_S3_BUCKET", ""),
		S3Prefix:       getEnv("SNAPSHOT_S3_PREFIX", "snapshots"),
		S3Region:       getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:     getEnv("S3_ENDPOINT", ""),
		S3AccessKey:    getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("S3_SECRET_KEY", ""),
		S3UsePathStyle: getEnvBool("S3_USE_PATH_STYLE", false),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("OTEL_SERVICE_NAME", "rolekeeper"),
		OTelServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return err
	}

	if c.Server.MetricsAddr == "" {
		return fmt.Errorf("metrics address is required")
	}

	if c.Checker.CacheSize < 0 {
		return fmt.Errorf("checker cache size must not be negative")
	}

	if c.Audit.FileDir != "" && c.Audit.FileMaxFiles < 1 {
		return fmt.Errorf("audit file max files must be at least 1")
	}

	if c.Snapshot.Schedule != "" {
		if c.Snapshot.Dir == "" && c.Snapshot.S3Bucket == "" {
			return fmt.Errorf("snapshot schedule requires a snapshot directory or S3 bucket")
		}
	}
	if c.Snapshot.S3Bucket != "" && c.Snapshot.S3Region == "" {
		return fmt.Errorf("S3 region is required for S3 snapshots")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string, falling back to info
func parseLogLevel(level string) observability.LogLevel {
	parsed, err := observability.ParseLogLevel(level)
	if err != nil {
		return observability.InfoLevel
	}
	return parsed
}

// getEnv returns the prefixed environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
