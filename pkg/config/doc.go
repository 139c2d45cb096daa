// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Permission store settings:
//
//	GATEKEEPER_STORE_BACKEND="redis"  # memory, redis
//	GATEKEEPER_REDIS_URL="redis://localhost:6379"
//	GATEKEEPER_REDIS_PASSWORD=""
//	GATEKEEPER_REDIS_DB="0"
//	GATEKEEPER_REDIS_POOL_SIZE="10"
//	GATEKEEPER_REDIS_KEY_PREFIX="gatekeeper"
//
// Hierarchy store settings:
//
//	GATEKEEPER_POSTGRES_URL="postgres://localhost/gatekeeper"
//	GATEKEEPER_POSTGRES_MAX_CONNS="20"
//
// Engine settings:
//
//	GATEKEEPER_TYPE_CACHE_SIZE="4096"
//	GATEKEEPER_NOTIFY_BUFFER="256"
//	GATEKEEPER_AUDIT_CAPACITY="10000"
//	GATEKEEPER_SWEEPER_ENABLED="true"
//	GATEKEEPER_SWEEPER_SCHEDULE="@every 10m"
//
// Observability settings:
//
//	GATEKEEPER_LOG_LEVEL="info"  # debug, info, warn, error
//	GATEKEEPER_METRICS_ENABLED="true"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Store: %s\n", cfg.Store.Backend)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/store: Uses permission store configuration
//   - pkg/hierarchy: Uses hierarchy store configuration
//   - pkg/engine: Uses engine configuration
package config
