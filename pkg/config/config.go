package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Store backends.
const (
	StoreBackendMemory = "memory"
	StoreBackendRedis  = "redis"
)

// Config holds all application configuration
type Config struct {
	// Permission store configuration
	Store StoreConfig

	// Hierarchy store configuration
	Hierarchy HierarchyConfig

	// Engine configuration
	Engine EngineConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// StoreConfig holds permission store configuration
type StoreConfig struct {
	Backend string

	RedisURL       string
	RedisPassword  string
	RedisDB        int
	RedisPoolSize  int
	RedisKeyPrefix string
}

// HierarchyConfig holds principal hierarchy store configuration
type HierarchyConfig struct {
	PostgresURL      string
	PostgresMaxConns int
}

// EngineConfig holds authorization engine configuration
type EngineConfig struct {
	// Size of the LRU cache mapping securable objects to their types
	TypeCacheSize int

	// Buffer size for the materialization change sink
	NotifyBuffer int

	// Maximum events kept by the in-memory audit logger
	AuditCapacity int

	// Expired entry sweeper
	SweeperEnabled  bool
	SweeperSchedule string

	// Timeout for fire-and-forget background tasks
	BackgroundTimeout time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       logrus.Level
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Store:         loadStoreConfig(),
		Hierarchy:     loadHierarchyConfig(),
		Engine:        loadEngineConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadStoreConfig loads permission store configuration from environment
func loadStoreConfig() StoreConfig {
	return StoreConfig{
		Backend:        getEnv("GATEKEEPER_STORE_BACKEND", StoreBackendMemory),
		RedisURL:       getEnv("GATEKEEPER_REDIS_URL", ""),
		RedisPassword:  getEnv("GATEKEEPER_REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("GATEKEEPER_REDIS_DB", 0),
		RedisPoolSize:  getEnvInt("GATEKEEPER_REDIS_POOL_SIZE", 10),
		RedisKeyPrefix: getEnv("GATEKEEPER_REDIS_KEY_PREFIX", "gatekeeper"),
	}
}

// loadHierarchyConfig loads hierarchy store configuration from environment
func loadHierarchyConfig() HierarchyConfig {
	return HierarchyConfig{
		PostgresURL:      getEnv("GATEKEEPER_POSTGRES_URL", ""),
		PostgresMaxConns: getEnvInt("GATEKEEPER_POSTGRES_MAX_CONNS", 20),
	}
}

// loadEngineConfig loads engine configuration from environment
func loadEngineConfig() EngineConfig {
	return EngineConfig{
		TypeCacheSize:     getEnvInt("GATEKEEPER_TYPE_CACHE_SIZE", 4096),
		NotifyBuffer:      getEnvInt("GATEKEEPER_NOTIFY_BUFFER", 256),
		AuditCapacity:     getEnvInt("GATEKEEPER_AUDIT_CAPACITY", 10000),
		SweeperEnabled:    getEnvBool("GATEKEEPER_SWEEPER_ENABLED", true),
		SweeperSchedule:   getEnv("GATEKEEPER_SWEEPER_SCHEDULE", "@every 10m"),
		BackgroundTimeout: getEnvDuration("GATEKEEPER_BACKGROUND_TIMEOUT", 5*time.Second),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       parseLogLevel(getEnv("GATEKEEPER_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("GATEKEEPER_METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreBackendMemory:
	case StoreBackendRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis store backend")
		}
	default:
		return fmt.Errorf("invalid store backend: %s (must be memory or redis)", c.Store.Backend)
	}

	if c.Engine.TypeCacheSize <= 0 {
		return fmt.Errorf("type cache size must be positive")
	}
	if c.Engine.NotifyBuffer < 0 {
		return fmt.Errorf("notify buffer must not be negative")
	}

	if c.Engine.SweeperEnabled {
		if _, err := cron.ParseStandard(c.Engine.SweeperSchedule); err != nil {
			return fmt.Errorf("invalid sweeper schedule %q: %w", c.Engine.SweeperSchedule, err)
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
