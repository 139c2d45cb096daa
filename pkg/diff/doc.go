// Package diff computes the effective permissions users lose when a
// principal is detached from its containers in the principal hierarchy.
//
// # Overview
//
// Grants attach to roles and organizations as well as to users, and a user's
// effective permissions are the union of the grants held by every container
// reachable upward from the user. Detaching a principal from a container
// therefore silently revokes access for every user underneath the detached
// principal. ComputeRevoked makes that loss explicit: it returns the exact
// (object, user, permission) triples that were reachable through the removed
// edges and are not reachable any other way.
//
// The engine runs after the hierarchy change has been applied. It
// over-approximates the set of grants that flowed through the removed edges,
// then subtracts everything each affected user still reaches through the
// live hierarchy, so unrelated surviving paths never show up as losses.
//
// # Key Functions
//
//   - New: construct an Engine over a permission store and hierarchy store.
//   - Engine.ComputeRevoked: the lost-access computation.
//   - Result.Lost: lookup of the lost permissions for one (object, user).
//
// # Related Packages
//
//   - pkg/store: permission entries the grants are read from.
//   - pkg/hierarchy: containment graph the closures are walked on.
//   - pkg/engine: the authorization engine whose decisions this explains.
package diff
