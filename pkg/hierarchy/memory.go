package hierarchy

import (
	"context"
	"sync"

	"github.com/platinummonkey/gatekeeper/pkg/acl"
)

// MemoryStore is an in-process hierarchy Store. A reverse adjacency map
// serves as the membership index so ParentsContaining never walks the
// forward edges.
type MemoryStore struct {
	mu sync.RWMutex

	// kinds is principal ref key -> kind.
	kinds map[string]acl.PrincipalKind
	// refs keeps a parseable ref per key.
	refs map[string]acl.ObjectRef
	// children is parent key -> set of member keys.
	children map[string]map[string]struct{}
	// parents is member key -> set of parent keys (reverse index).
	parents map[string]map[string]struct{}
}

// NewMemoryStore creates an empty in-memory hierarchy store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		kinds:    make(map[string]acl.PrincipalKind),
		refs:     make(map[string]acl.ObjectRef),
		children: make(map[string]map[string]struct{}),
		parents:  make(map[string]map[string]struct{}),
	}
}

// AddPrincipal registers a principal.
func (s *MemoryStore) AddPrincipal(principal acl.Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := principal.Ref().Key()
	s.kinds[key] = principal.Kind
	s.refs[key] = principal.Ref()
}

// AddMember records that parent directly contains member.
func (s *MemoryStore) AddMember(parent, member acl.ObjectRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	parentKey, memberKey := parent.Key(), member.Key()
	s.refs[parentKey] = parent
	s.refs[memberKey] = member
	if _, ok := s.children[parentKey]; !ok {
		s.children[parentKey] = make(map[string]struct{})
	}
	s.children[parentKey][memberKey] = struct{}{}
	if _, ok := s.parents[memberKey]; !ok {
		s.parents[memberKey] = make(map[string]struct{})
	}
	s.parents[memberKey][parentKey] = struct{}{}
}

// RemoveMember detaches member from parent.
func (s *MemoryStore) RemoveMember(parent, member acl.ObjectRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.children[parent.Key()], member.Key())
	delete(s.parents[member.Key()], parent.Key())
}

// Members returns the direct children of parent.
func (s *MemoryStore) Members(ctx context.Context, parent acl.ObjectRef) (RefSet, error) {
	return s.MembersOf(ctx, NewRefSet(parent))
}

// MembersOf returns the union of direct children of every parent.
func (s *MemoryStore) MembersOf(ctx context.Context, parents RefSet) (RefSet, error) {
	return s.membersOf(ctx, parents)
}

// ParentsContaining returns every parent whose member set intersects
// children, via the reverse index.
func (s *MemoryStore) ParentsContaining(ctx context.Context, children RefSet) (RefSet, error) {
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
func (s *MemoryStore) ExpandDescendants(ctx context.Context, roots RefSet) (RefSet, error) {
	return expandDescendants(ctx, s, roots)
}

// ContainedUsers resolves USER-kind principals within refs and their
// members, transitively when recursive is true.
func (s *MemoryStore) ContainedUsers(ctx context.Context, refs RefSet, recursive bool) ([]acl.Principal, error) {
	return containedUsers(ctx, s, refs, recursive)
}

// Principals resolves refs to their registered principals.
func (s *MemoryStore) Principals(ctx context.Context, refs RefSet) ([]acl.Principal, error) {
	return resolvePrincipals(ctx, s, refs, "")
}

// Exists reports whether the principal is registered with a matching kind.
func (s *MemoryStore) Exists(ctx context.Context, principal acl.Principal) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kind, ok := s.kinds[principal.Ref().Key()]
	return ok && kind == principal.Kind, nil
}

func (s *MemoryStore) membersOf(ctx context.Context, parents RefSet) (RefSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := NewRefSet()
	for parentKey := range parents {
		for memberKey := range s.children[parentKey] {
			out[memberKey] = s.refs[memberKey]
		}
	}
	return out, nil
}

func (s *MemoryStore) kindsOf(ctx context.Context, refs RefSet) (map[string]acl.PrincipalKind, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]acl.PrincipalKind)
	for key := range refs {
		if kind, ok := s.kinds[key]; ok {
			out[key] = kind
		}
	}
	return out, nil
}

func (s *MemoryStore) parentsOf(ctx context.Context, children RefSet) ([]node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []node
	for childKey := range children {
		for parentKey := range s.parents[childKey] {
			if _, ok := seen[parentKey]; ok {
				continue
			}
			seen[parentKey] = struct{}{}
			out = append(out, node{Ref: s.refs[parentKey], Kind: s.kinds[parentKey]})
		}
	}
	return out, nil
}
