package store

import (
	"context"
	"errors"

	"github.com/platinummonkey/gatekeeper/pkg/acl"
)

// errNilEntry guards the mutation contract: entries are tombstoned by
// clearing permissions, never removed by returning nil.
var errNilEntry = errors.New("mutate function returned nil entry")

// Key addresses a single access entry.
type Key struct {
	Object    acl.ObjectRef
	Principal acl.Principal
}

// Entry pairs an access entry with the object it is granted on.
type Entry struct {
	Object acl.ObjectRef
	Ace    acl.Ace
}

// MutateFunc transforms the entry at a key. old is nil when no entry exists
// yet; the function must return the replacement entry. It must be pure: the
// store may call it more than once under optimistic concurrency.
type MutateFunc func(old *acl.Ace) (*acl.Ace, error)

// Filter is a conjunction of scan predicates. Zero-valued fields match
// everything.
type Filter struct {
	// Object matches entries on exactly this object.
	Object acl.ObjectRef
	// ObjectIn matches entries on any of these objects.
	ObjectIn []acl.ObjectRef
	// Principal matches entries held by exactly this principal.
	Principal *acl.Principal
	// PrincipalIn matches entries held by any of these principals.
	PrincipalIn []acl.Principal
	// ObjectType matches entries on objects of this registered type.
	ObjectType acl.SecurableObjectType
	// PrincipalKind matches entries held by principals of this kind.
	PrincipalKind acl.PrincipalKind
	// PermissionsEqual matches entries whose permission set equals this set
	// exactly (not superset). Tombstones never match a non-empty set.
	PermissionsEqual acl.PermissionSet
}

// PermissionStore is the data-access contract for access control entries.
// All errors from backing I/O surface as *acl.BackingStoreError; absent
// point reads surface as *acl.NotFoundError.
type PermissionStore interface {
	// Mutate atomically applies fn to the entry at (object, principal) and
	// returns the stored result.
	Mutate(ctx context.Context, object acl.ObjectRef, principal acl.Principal, fn MutateFunc) (acl.Ace, error)

	// Get returns the entry at the key, tombstone included.
	Get(ctx context.Context, object acl.ObjectRef, principal acl.Principal) (acl.Ace, error)

	// GetAll returns the entries present at the given keys; absent keys are
	// skipped, not errors.
	GetAll(ctx context.Context, keys []Key) ([]Entry, error)

	// Scan returns every entry matching the filter conjunction.
	Scan(ctx context.Context, filter Filter) ([]Entry, error)

	// DeleteObject removes the object's type registration and every entry
	// keyed by the object.
	DeleteObject(ctx context.Context, object acl.ObjectRef) error

	// DeletePrincipal removes every entry held by the principal across all
	// objects.
	DeletePrincipal(ctx context.Context, principal acl.Principal) error

	// SetObjectType registers the securable object type for an object.
	SetObjectType(ctx context.Context, object acl.ObjectRef, t acl.SecurableObjectType) error

	// ObjectType returns the registered type, or *acl.NotFoundError when the
	// object has no registration.
	ObjectType(ctx context.Context, object acl.ObjectRef) (acl.SecurableObjectType, error)
}

// matches applies the non-index portions of a filter to a single entry.
// Implementations use their indexes to narrow candidates first, then run
// every predicate here so the result is identical across backends.
func (f Filter) matches(object acl.ObjectRef, ace acl.Ace, objectType acl.SecurableObjectType) bool {
	if f.Object != nil && !f.Object.Equal(object) {
		return false
	}
	if len(f.ObjectIn) > 0 {
		found := false
		for _, o := range f.ObjectIn {
			if o.Equal(object) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Principal != nil && *f.Principal != ace.Principal {
		return false
	}
	if len(f.PrincipalIn) > 0 {
		found := false
		for _, p := range f.PrincipalIn {
			if p == ace.Principal {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ObjectType != "" && f.ObjectType != objectType {
		return false
	}
	if f.PrincipalKind != "" && f.PrincipalKind != ace.Principal.Kind {
		return false
	}
	if f.PermissionsEqual != nil && !ace.Permissions.Equal(f.PermissionsEqual) {
		return false
	}
	return true
}
