// Package acl defines the core data model for the Gatekeeper authorization
// engine: securable object references, principals, permissions, and access
// control entries.
//
// # Overview
//
// Gatekeeper controls access to hierarchically-identified securable objects
// (catalogs, schemas, tables, views) in a multi-tenant data platform. The
// vocabulary here is deliberately small:
//
//   1. ObjectRef: ordered path identifying a securable object (e.g. ["sales", "orders"])
//   2. Principal: a user, role, or organization that can hold permissions
//   3. Permission: a single capability (READ, WRITE, OWNER, MATERIALIZE, LINK, DISCOVER)
//   4. Ace: the permission set + expiration one principal holds on one object
//   5. Acl: an object paired with all of its Aces
//
// # Access Entries
//
// Exactly one Ace exists per (ObjectRef, Principal) pair. Grants union
// permissions into the existing entry; revokes clear bits. An Ace whose
// permission set becomes empty is a tombstone: it is retained in storage but
// excluded from listing results, and is only removed when the whole object
// or the whole principal is deleted.
//
// # Error Kinds
//
// The package defines the error taxonomy shared by all Gatekeeper packages:
//
//	ErrConstraintViolation - owner invariant or referential check failed
//	ErrNotFound            - no entry at the requested key
//	ErrTypeMismatch        - principal has the wrong kind for the operation
//	ErrBackingStore        - I/O failure from a backing store
//
// Concrete error values wrap these sentinels, so callers match with
// errors.Is and inspect details with errors.As.
package acl
