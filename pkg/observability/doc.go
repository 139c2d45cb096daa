// Package observability provides Prometheus metrics and health checks.
//
// # Overview
//
// This package instruments the authorization engine with Prometheus metrics
// and exposes liveness and readiness checks over the backing stores.
//
// # Metrics
//
// Decision metrics:
//
//	gatekeeper_authz_decisions_total{operation, decision}
//	gatekeeper_authz_duration_seconds{operation}
//
// Mutation metrics:
//
//	gatekeeper_mutations_total{operation, status}
//	gatekeeper_constraint_violations_total{operation}
//
// Store metrics:
//
//	gatekeeper_store_operations_total{operation, backend, status}
//	gatekeeper_store_operation_duration_seconds{operation, backend}
//
// Diff and notification metrics:
//
//	gatekeeper_diff_duration_seconds
//	gatekeeper_diff_users_affected
//	gatekeeper_notifications_total{status}
//	gatekeeper_sweeper_removed_total
//
// # Health Checks
//
// HealthChecker pings PostgreSQL and Redis with a timeout and reports
// healthy, degraded or unhealthy plus per-dependency latency.
//
// # Related Packages
//
//   - pkg/engine: Records decision and mutation metrics
//   - pkg/diff: Records diff metrics
package observability
