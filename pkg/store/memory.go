package store

import (
	"context"
	"sync"

	"github.com/platinummonkey/gatekeeper/pkg/acl"
)

// MemoryStore is an in-process PermissionStore guarded by a single mutex.
// Secondary indexes are maintained explicitly so Scan never walks the full
// entry space when a narrowing filter is present, mirroring how the Redis
// backend behaves.
type MemoryStore struct {
	mu sync.RWMutex

	// entries is objectKey -> principal string -> entry.
	entries map[string]map[string]acl.Ace
	// objects keeps a parseable ref per object key.
	objects map[string]acl.ObjectRef
	// byPrincipal is principal string -> set of object keys (index).
	byPrincipal map[string]map[string]struct{}
	// byType is object type -> set of object keys (index).
	byType map[acl.SecurableObjectType]map[string]struct{}
	// types is objectKey -> registered type.
	types map[string]acl.SecurableObjectType
}

// NewMemoryStore creates an empty in-memory permission store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:     make(map[string]map[string]acl.Ace),
		objects:     make(map[string]acl.ObjectRef),
		byPrincipal: make(map[string]map[string]struct{}),
		byType:      make(map[acl.SecurableObjectType]map[string]struct{}),
		types:       make(map[string]acl.SecurableObjectType),
	}
}

// Mutate atomically applies fn to the entry at (object, principal).
func (s *MemoryStore) Mutate(ctx context.Context, object acl.ObjectRef, principal acl.Principal, fn MutateFunc) (acl.Ace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	objectKey := object.Key()
	principalKey := principal.String()

	var old *acl.Ace
	if byPrincipal, ok := s.entries[objectKey]; ok {
		if existing, ok := byPrincipal[principalKey]; ok {
			clone := existing.Clone()
			old = &clone
		}
	}

	updated, err := fn(old)
	if err != nil {
		return acl.Ace{}, err
	}
	if updated == nil {
		// Entries are tombstoned, never removed, by mutation.
		return acl.Ace{}, &acl.BackingStoreError{Op: "mutate", Err: errNilEntry}
	}
	stored := updated.Clone()
	stored.Principal = principal

	if _, ok := s.entries[objectKey]; !ok {
		s.entries[objectKey] = make(map[string]acl.Ace)
		s.objects[objectKey] = append(acl.ObjectRef(nil), object...)
	}
	s.entries[objectKey][principalKey] = stored

	if _, ok := s.byPrincipal[principalKey]; !ok {
		s.byPrincipal[principalKey] = make(map[string]struct{})
	}
	s.byPrincipal[principalKey][objectKey] = struct{}{}

	return stored.Clone(), nil
}

// Get returns the entry at the key, tombstone included.
func (s *MemoryStore) Get(ctx context.Context, object acl.ObjectRef, principal acl.Principal) (acl.Ace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if byPrincipal, ok := s.entries[object.Key()]; ok {
		if ace, ok := byPrincipal[principal.String()]; ok {
			return ace.Clone(), nil
		}
	}
	return acl.Ace{}, &acl.NotFoundError{Object: object, Principal: principal}
}

// GetAll returns the entries present at the given keys.
func (s *MemoryStore) GetAll(ctx context.Context, keys []Key) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, k := range keys {
		if byPrincipal, ok := s.entries[k.Object.Key()]; ok {
			if ace, ok := byPrincipal[k.Principal.String()]; ok {
				out = append(out, Entry{Object: append(acl.ObjectRef(nil), k.Object...), Ace: ace.Clone()})
			}
		}
	}
	return out, nil
}

// Scan returns every entry matching the filter.
func (s *MemoryStore) Scan(ctx context.Context, filter Filter) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, objectKey := range s.candidateObjects(filter) {
		object := s.objects[objectKey]
		objectType := s.typeOf(objectKey)
		for _, ace := range s.entries[objectKey] {
			if filter.matches(object, ace, objectType) {
				out = append(out, Entry{Object: append(acl.ObjectRef(nil), object...), Ace: ace.Clone()})
			}
		}
	}
	return out, nil
}

// candidateObjects narrows the scanned object keys using whichever index the
// filter allows, falling back to all objects only for unindexed filters.
func (s *MemoryStore) candidateObjects(filter Filter) []string {
	switch {
	case filter.Object != nil:
		return []string{filter.Object.Key()}
	case len(filter.ObjectIn) > 0:
		keys := make([]string, 0, len(filter.ObjectIn))
		for _, o := range filter.ObjectIn {
			keys = append(keys, o.Key())
		}
		return keys
	case filter.Principal != nil:
		return setKeys(s.byPrincipal[filter.Principal.String()])
	case len(filter.PrincipalIn) > 0:
		merged := make(map[string]struct{})
		for _, p := range filter.PrincipalIn {
			for k := range s.byPrincipal[p.String()] {
				merged[k] = struct{}{}
			}
		}
		return setKeys(merged)
	case filter.ObjectType != "":
		return setKeys(s.byType[filter.ObjectType])
	default:
		keys := make([]string, 0, len(s.entries))
		for k := range s.entries {
			keys = append(keys, k)
		}
		return keys
	}
}

// DeleteObject removes the type registration and every entry on the object.
func (s *MemoryStore) DeleteObject(ctx context.Context, object acl.ObjectRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	objectKey := object.Key()
	for principalKey := range s.entries[objectKey] {
		delete(s.byPrincipal[principalKey], objectKey)
		if len(s.byPrincipal[principalKey]) == 0 {
			delete(s.byPrincipal, principalKey)
		}
	}
	delete(s.entries, objectKey)
	delete(s.objects, objectKey)
	if t, ok := s.types[objectKey]; ok {
		delete(s.byType[t], objectKey)
		delete(s.types, objectKey)
	}
	return nil
}

// DeletePrincipal removes every entry held by the principal.
func (s *MemoryStore) DeletePrincipal(ctx context.Context, principal acl.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	principalKey := principal.String()
	for objectKey := range s.byPrincipal[principalKey] {
		delete(s.entries[objectKey], principalKey)
		if len(s.entries[objectKey]) == 0 {
			delete(s.entries, objectKey)
			delete(s.objects, objectKey)
		}
	}
	delete(s.byPrincipal, principalKey)
	return nil
}

// SetObjectType registers the securable object type for an object.
func (s *MemoryStore) SetObjectType(ctx context.Context, object acl.ObjectRef, t acl.SecurableObjectType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	objectKey := object.Key()
	if prev, ok := s.types[objectKey]; ok {
		delete(s.byType[prev], objectKey)
	}
	s.types[objectKey] = t
	if _, ok := s.byType[t]; !ok {
		s.byType[t] = make(map[string]struct{})
	}
	s.byType[t][objectKey] = struct{}{}
	if _, ok := s.objects[objectKey]; !ok {
		s.objects[objectKey] = append(acl.ObjectRef(nil), object...)
	}
	return nil
}

// ObjectType returns the registered type for an object.
func (s *MemoryStore) ObjectType(ctx context.Context, object acl.ObjectRef) (acl.SecurableObjectType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, ok := s.types[object.Key()]; ok {
		return t, nil
	}
	return acl.ObjectTypeUnknown, &acl.NotFoundError{Object: object}
}

func (s *MemoryStore) typeOf(objectKey string) acl.SecurableObjectType {
	if t, ok := s.types[objectKey]; ok {
		return t
	}
	return acl.ObjectTypeUnknown
}

func setKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
