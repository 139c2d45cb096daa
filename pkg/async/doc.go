// Package async provides safe goroutine execution for fire-and-forget work.
//
// # Overview
//
// Background tasks such as materialization-change notifications and audit
// emission must never crash the process or leak goroutines. SafeGo wraps a
// task with panic recovery, a per-task timeout, and error logging.
//
// # Key Functions
//
// SafeGo: Execute function in goroutine with safety features
//
//	async.SafeGo(ctx, 5*time.Second, log, "audit emit", func(ctx context.Context) error {
//		return auditor.Emit(ctx, event)
//	})
//
// # Related Packages
//
//   - pkg/engine: Uses SafeGo for notifications and audit events
package async
