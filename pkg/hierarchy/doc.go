// Package hierarchy provides the Principal Hierarchy Store: the containment
// graph mapping a role or organization to the securable identities of its
// member principals.
//
// # Overview
//
// Edges are managed by external hierarchy-management operations; this package
// reads and traverses them. Four traversal primitives are exposed:
//
//   1. Members / MembersOf: direct children of one or many parents
//   2. ParentsContaining: reverse lookup backed by a real index on the
//      member column (never a forward scan)
//   3. ExpandDescendants: breadth-first downward closure
//   4. ContainedUsers: USER-kind principals within a set of refs and their
//      members, direct or transitive
//
// # Cycles
//
// The graph is not guaranteed acyclic. Every traversal tracks visited nodes
// and only expands the unvisited frontier, so a malformed hierarchy (a role
// reachable from itself) terminates instead of looping.
//
// # Implementations
//
// SQLStore persists principals and edges in two indexed tables over
// database/sql (PostgreSQL in production, SQLite in tests). MemoryStore keeps
// forward and reverse adjacency maps for embedded use and tests.
package hierarchy
