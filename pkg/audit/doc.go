// Package audit provides audit logging for permission mutations and access checks.
//
// # Overview
//
// Every mutation of the permission store and every denied access check can be
// recorded as an audit event. Emission is best-effort: a failing audit sink
// never fails the operation that produced the event.
//
// # Key Types
//
// Event: A single audit log entry
//
//	event := audit.NewEvent(audit.EventTypePermissionGrant, audit.EventStatusSuccess)
//	event.Principal = "USER:alice"
//	event.Object = "catalog/sales"
//	logger.Log(ctx, event)
//
// Logger: Interface for audit sinks
//
//   - NopLogger: discards events
//   - MemoryLogger: in-memory ring, searchable, used by tests
//   - LogrusLogger: structured log output
//   - MultiLogger: fans out to several sinks
//
// # Related Packages
//
//   - pkg/engine: Emits events for grants, revokes, replaces and deletes
//   - pkg/diff: Emits events for hierarchy diff computations
package audit
