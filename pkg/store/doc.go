// Package store provides the Permission Store: an indexed associative store
// of access control entries keyed by (object, principal).
//
// # Overview
//
// The store exposes three primitives the authorization engine is built on:
//
//   1. Mutate: applies a pure function to the single entry at a key,
//      atomically at the store. Concurrent mutations of the same key never
//      lose an update; client-side read-modify-write is forbidden.
//   2. Scan: returns entries matching a conjunction of filters (object,
//      object set, principal, principal set, object type, principal kind,
//      exact permission set), backed by secondary indexes.
//   3. Get / GetAll: tombstone-aware point reads.
//
// Two implementations are provided: MemoryStore (mutex-guarded maps with
// explicit index maps, for tests and embedded use) and RedisStore (go-redis
// with WATCH/MULTI optimistic transactions and SET-based indexes).
//
// The store is purely data access: it enforces no authorization invariants
// itself. The owner invariant and batch validation live in pkg/engine.
package store
