package hierarchy

import (
	"context"

	"github.com/platinummonkey/gatekeeper/pkg/acl"
)

// RefSet is a set of ObjectRefs keyed by their canonical encoding.
type RefSet map[string]acl.ObjectRef

// NewRefSet builds a set from the given refs.
func NewRefSet(refs ...acl.ObjectRef) RefSet {
	s := make(RefSet, len(refs))
	for _, r := range refs {
		s.Add(r)
	}
	return s
}

// Add inserts a ref.
func (s RefSet) Add(ref acl.ObjectRef) {
	s[ref.Key()] = ref
}

// Contains reports membership.
func (s RefSet) Contains(ref acl.ObjectRef) bool {
	_, ok := s[ref.Key()]
	return ok
}

// Len returns the number of members.
func (s RefSet) Len() int {
	return len(s)
}

// Refs returns the members as a slice.
func (s RefSet) Refs() []acl.ObjectRef {
	out := make([]acl.ObjectRef, 0, len(s))
	for _, r := range s {
		out = append(out, r)
	}
	return out
}

// Clone returns a shallow copy of the set.
func (s RefSet) Clone() RefSet {
	out := make(RefSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Union adds all members of other in place.
func (s RefSet) Union(other RefSet) {
	for k, v := range other {
		s[k] = v
	}
}

// Store is the read contract over the principal containment graph, plus the
// principal-existence check batch validation depends on. I/O failures
// surface as *acl.BackingStoreError.
type Store interface {
	// Members returns the direct children of parent, possibly empty.
	Members(ctx context.Context, parent acl.ObjectRef) (RefSet, error)

	// MembersOf returns the union of the direct children of every parent in
	// one round trip. Traversal loops use this to fetch a whole BFS frontier
	// at once.
	MembersOf(ctx context.Context, parents RefSet) (RefSet, error)

	// ParentsContaining returns every parent whose member set intersects
	// children.
	ParentsContaining(ctx context.Context, children RefSet) (RefSet, error)

	// ExpandDescendants returns the downward closure reachable from roots,
	// cycle tolerant. The roots themselves appear in the result only when
	// reachable through an edge.
	ExpandDescendants(ctx context.Context, roots RefSet) (RefSet, error)

	// ContainedUsers resolves the USER-kind principals found within the
	// given refs and their direct members, or their whole downward closure
	// when recursive is true.
	ContainedUsers(ctx context.Context, refs RefSet, recursive bool) ([]acl.Principal, error)

	// Principals resolves refs to their registered principals. Unregistered
	// refs are skipped.
	Principals(ctx context.Context, refs RefSet) ([]acl.Principal, error)

	// Exists reports whether the principal is registered.
	Exists(ctx context.Context, principal acl.Principal) (bool, error)
}

// node pairs a ref with the registered kind of the principal it identifies.
type node struct {
	Ref  acl.ObjectRef
	Kind acl.PrincipalKind
}

// graph is the minimal batch surface the shared traversals run over.
type graph interface {
	membersOf(ctx context.Context, parents RefSet) (RefSet, error)
	parentsOf(ctx context.Context, children RefSet) ([]node, error)
	kindsOf(ctx context.Context, refs RefSet) (map[string]acl.PrincipalKind, error)
}

// expandDescendants walks the graph breadth first. Each round fetches only
// the not-yet-expanded frontier; a node is never expanded twice, which is
// what guarantees termination on cyclic input.
func expandDescendants(ctx context.Context, g graph, roots RefSet) (RefSet, error) {
	discovered := NewRefSet()
	expanded := roots.Clone()
	frontier := roots.Clone()

	for frontier.Len() > 0 {
		members, err := g.membersOf(ctx, frontier)
		if err != nil {
			return nil, err
		}
		frontier = NewRefSet()
		for key, ref := range members {
			discovered[key] = ref
			if _, seen := expanded[key]; !seen {
				expanded[key] = ref
				frontier[key] = ref
			}
		}
	}
	return discovered, nil
}

// containedUsers collects USER-kind principals within refs and their
// members: only the direct layer when recursive is false, the whole
// downward closure otherwise.
func containedUsers(ctx context.Context, g graph, refs RefSet, recursive bool) ([]acl.Principal, error) {
	candidates := refs.Clone()
	if recursive {
		closure, err := expandDescendants(ctx, g, refs)
		if err != nil {
			return nil, err
		}
		candidates.Union(closure)
	} else {
		members, err := g.membersOf(ctx, refs)
		if err != nil {
			return nil, err
		}
		candidates.Union(members)
	}
	return resolvePrincipals(ctx, g, candidates, acl.PrincipalUser)
}

// resolvePrincipals maps refs back to registered principals, optionally
// restricted to one kind ("" matches all).
func resolvePrincipals(ctx context.Context, g graph, refs RefSet, kind acl.PrincipalKind) ([]acl.Principal, error) {
	kinds, err := g.kindsOf(ctx, refs)
	if err != nil {
		return nil, err
	}
	out := make([]acl.Principal, 0, len(kinds))
	for key, k := range kinds {
		if kind != "" && k != kind {
			continue
		}
		ref := refs[key]
		out = append(out, acl.Principal{Kind: k, ID: ref[len(ref)-1]})
	}
	return out, nil
}
