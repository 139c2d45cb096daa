// Package engine implements the authorization engine over the permission and
// hierarchy stores.
//
// # Overview
//
// The engine is a passive library: many callers invoke it concurrently and
// all blocking happens at the store boundary. Mutations go through the
// permission store's atomic per-key Mutate; batch operations are not
// transactional across keys, a crash mid-batch can leave a prefix applied.
//
// # Key Operations
//
// Granting and revoking:
//
//	err := eng.Grant(ctx, object, principal, acl.NewPermissionSet(acl.PermissionRead), nil)
//	err = eng.RevokeBatch(ctx, []acl.Acl{{Object: object, Aces: aces}})
//
// Revokes enforce the owner invariant: an object keeps at least one USER-kind
// entry holding exactly {OWNER}, or the whole revoke for that object fails
// with a constraint violation. The check and the clear are not serialized
// against concurrent revokes; two racing callers can jointly strand an
// object ownerless. Known limitation.
//
// Evaluation:
//
//	results, err := eng.Authorize(ctx, requests, principals)
//	ok, err := eng.CheckIfHasPermissions(ctx, object, principals, required)
//
// Evaluation unions grants across the supplied principal set, so callers
// pass the full principal closure (the user plus every container it is a
// transitive member of). Expired entries hold nothing at evaluation time.
//
// # Background Work
//
// MATERIALIZE grants to ORGANIZATION principals on materialization-sensitive
// object types emit a materialization change, fire-and-forget. The optional
// Sweeper tombstones expired entries on a cron schedule; evaluation-time
// filtering remains the correctness contract either way.
//
// # Related Packages
//
//   - pkg/store: Atomic permission storage
//   - pkg/hierarchy: Principal existence and containment
//   - pkg/diff: Reconciles hierarchy changes against grants
package engine
