package hierarchy

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/platinummonkey/gatekeeper/pkg/acl"
)

// SQLStore is a hierarchy Store over database/sql. Production deployments
// use PostgreSQL; tests run the same queries against SQLite, which accepts
// the $N placeholder style.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a store on an existing database handle. The schema
// must already be applied (see RunMigrations).
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Open connects to PostgreSQL, configures the pool, and applies migrations.
func Open(ctx context.Context, url string, maxConns int) (*SQLStore, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open hierarchy database: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 2)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping hierarchy database: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return NewSQLStore(db), nil
}

// DB exposes the underlying handle for health checks.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Members returns the direct children of parent.
func (s *SQLStore) Members(ctx context.Context, parent acl.ObjectRef) (RefSet, error) {
	return s.membersOf(ctx, NewRefSet(parent))
}

// MembersOf returns the union of direct children of every parent in one
// query.
func (s *SQLStore) MembersOf(ctx context.Context, parents RefSet) (RefSet, error) {
	return s.membersOf(ctx, parents)
}

// ParentsContaining returns every parent whose member set intersects
// children, via the index on member_ref.
func (s *SQLStore) ParentsContaining(ctx context.Context, children RefSet) (RefSet, error) {
	nodes, err := s.parentsOf(ctx, children)
	if err != nil {
		return nil, err
	}
	out := NewRefSet()
	for _, n := range nodes {
		out.Add(n.Ref)
	}
	return out, nil
}

// ExpandDescendants returns the cycle-tolerant downward closure from roots.
func (s *SQLStore) ExpandDescendants(ctx context.Context, roots RefSet) (RefSet, error) {
	return expandDescendants(ctx, s, roots)
}

// ContainedUsers resolves USER-kind principals within refs and their
// members, transitively when recursive is true.
func (s *SQLStore) ContainedUsers(ctx context.Context, refs RefSet, recursive bool) ([]acl.Principal, error) {
	return containedUsers(ctx, s, refs, recursive)
}

// Principals resolves refs to their registered principals.
func (s *SQLStore) Principals(ctx context.Context, refs RefSet) ([]acl.Principal, error) {
	return resolvePrincipals(ctx, s, refs, "")
}

// Exists reports whether the principal is registered with a matching kind.
func (s *SQLStore) Exists(ctx context.Context, principal acl.Principal) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM principals WHERE ref = $1 AND kind = $2",
		principal.Ref().Key(), string(principal.Kind),
	).Scan(&count)
	if err != nil {
		return false, &acl.BackingStoreError{Op: "principal exists", Err: err}
	}
	return count > 0, nil
}

// AddPrincipal registers a principal, updating the kind on re-registration.
func (s *SQLStore) AddPrincipal(ctx context.Context, principal acl.Principal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO principals (ref, kind) VALUES ($1, $2)
		ON CONFLICT (ref) DO UPDATE SET kind = EXCLUDED.kind
	`, principal.Ref().Key(), string(principal.Kind))
	if err != nil {
		return &acl.BackingStoreError{Op: "add principal", Err: err}
	}
	return nil
}

// AddMember records that parent directly contains member.
func (s *SQLStore) AddMember(ctx context.Context, parent, member acl.ObjectRef) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO principal_edges (parent_ref, member_ref) VALUES ($1, $2)
		ON CONFLICT (parent_ref, member_ref) DO NOTHING
	`, parent.Key(), member.Key())
	if err != nil {
		return &acl.BackingStoreError{Op: "add member", Err: err}
	}
	return nil
}

// RemoveMember detaches member from parent.
func (s *SQLStore) RemoveMember(ctx context.Context, parent, member acl.ObjectRef) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM principal_edges WHERE parent_ref = $1 AND member_ref = $2",
		parent.Key(), member.Key())
	if err != nil {
		return &acl.BackingStoreError{Op: "remove member", Err: err}
	}
	return nil
}

// RemovePrincipal deletes the principal row and every edge touching it.
func (s *SQLStore) RemovePrincipal(ctx context.Context, principal acl.Principal) error {
	refKey := principal.Ref().Key()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &acl.BackingStoreError{Op: "remove principal", Err: err}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM principal_edges WHERE parent_ref = $1 OR member_ref = $1", refKey); err != nil {
		tx.Rollback()
		return &acl.BackingStoreError{Op: "remove principal", Err: err}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM principals WHERE ref = $1", refKey); err != nil {
		tx.Rollback()
		return &acl.BackingStoreError{Op: "remove principal", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &acl.BackingStoreError{Op: "remove principal", Err: err}
	}
	return nil
}

func (s *SQLStore) membersOf(ctx context.Context, parents RefSet) (RefSet, error) {
	if parents.Len() == 0 {
		return NewRefSet(), nil
	}
	keys, args := refArgs(parents)
	query := fmt.Sprintf(
		"SELECT DISTINCT member_ref FROM principal_edges WHERE parent_ref IN (%s)",
		placeholders(len(keys)),
	)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &acl.BackingStoreError{Op: "members", Err: err}
	}
	defer rows.Close()

	out := NewRefSet()
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, &acl.BackingStoreError{Op: "members", Err: err}
		}
		ref, err := acl.ParseKey(key)
		if err != nil {
			return nil, &acl.BackingStoreError{Op: "members", Err: err}
		}
		out.Add(ref)
	}
	if err := rows.Err(); err != nil {
		return nil, &acl.BackingStoreError{Op: "members", Err: err}
	}
	return out, nil
}

func (s *SQLStore) parentsOf(ctx context.Context, children RefSet) ([]node, error) {
	if children.Len() == 0 {
		return nil, nil
	}
	keys, args := refArgs(children)
	query := fmt.Sprintf(`
		SELECT DISTINCT p.ref, p.kind
		FROM principals p
		JOIN principal_edges e ON p.ref = e.parent_ref
		WHERE e.member_ref IN (%s)
	`, placeholders(len(keys)))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &acl.BackingStoreError{Op: "parents", Err: err}
	}
	defer rows.Close()

	var out []node
	for rows.Next() {
		var key, kind string
		if err := rows.Scan(&key, &kind); err != nil {
			return nil, &acl.BackingStoreError{Op: "parents", Err: err}
		}
		ref, err := acl.ParseKey(key)
		if err != nil {
			return nil, &acl.BackingStoreError{Op: "parents", Err: err}
		}
		out = append(out, node{Ref: ref, Kind: acl.PrincipalKind(kind)})
	}
	if err := rows.Err(); err != nil {
		return nil, &acl.BackingStoreError{Op: "parents", Err: err}
	}
	return out, nil
}

func (s *SQLStore) kindsOf(ctx context.Context, refs RefSet) (map[string]acl.PrincipalKind, error) {
	if refs.Len() == 0 {
		return map[string]acl.PrincipalKind{}, nil
	}
	keys, args := refArgs(refs)
	query := fmt.Sprintf(
		"SELECT ref, kind FROM principals WHERE ref IN (%s)",
		placeholders(len(keys)),
	)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &acl.BackingStoreError{Op: "principal kinds", Err: err}
	}
	defer rows.Close()

	out := make(map[string]acl.PrincipalKind)
	for rows.Next() {
		var key, kind string
		if err := rows.Scan(&key, &kind); err != nil {
			return nil, &acl.BackingStoreError{Op: "principal kinds", Err: err}
		}
		out[key] = acl.PrincipalKind(kind)
	}
	if err := rows.Err(); err != nil {
		return nil, &acl.BackingStoreError{Op: "principal kinds", Err: err}
	}
	return out, nil
}

func refArgs(refs RefSet) ([]string, []interface{}) {
	keys := make([]string, 0, refs.Len())
	args := make([]interface{}, 0, refs.Len())
	for key := range refs {
		keys = append(keys, key)
		args = append(args, key)
	}
	return keys, args
}

func placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(parts, ", ")
}
