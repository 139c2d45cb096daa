package acl

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ObjectRef is the ordered, non-empty path identifying a securable object.
// Two refs are equal iff their segments are equal in order. A principal's
// securable identity is also an ObjectRef (see Principal.Ref).
type ObjectRef []string

// NewObjectRef builds an ObjectRef from path segments.
func NewObjectRef(segments ...string) (ObjectRef, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("object ref requires at least one segment")
	}
	for i, s := range segments {
		if s == "" {
			return nil, fmt.Errorf("object ref segment %d is empty", i)
		}
	}
	ref := make(ObjectRef, len(segments))
	copy(ref, segments)
	return ref, nil
}

// MustObjectRef is NewObjectRef that panics on invalid input. Test helper.
func MustObjectRef(segments ...string) ObjectRef {
	ref, err := NewObjectRef(segments...)
	if err != nil {
		panic(err)
	}
	return ref
}

// Key returns the canonical string encoding of the ref, suitable for use as
// a map or Redis key. Segments are path-escaped so a "/" inside a segment
// cannot collide with the separator.
func (r ObjectRef) Key() string {
	escaped := make([]string, len(r))
	for i, s := range r {
		escaped[i] = url.PathEscape(s)
	}
	return strings.Join(escaped, "/")
}

// ParseKey is the inverse of Key.
func ParseKey(key string) (ObjectRef, error) {
	if key == "" {
		return nil, fmt.Errorf("empty object key")
	}
	parts := strings.Split(key, "/")
	ref := make(ObjectRef, len(parts))
	for i, p := range parts {
		s, err := url.PathUnescape(p)
		if err != nil {
			return nil, fmt.Errorf("invalid object key %q: %w", key, err)
		}
		if s == "" {
			return nil, fmt.Errorf("invalid object key %q: empty segment", key)
		}
		ref[i] = s
	}
	return ref, nil
}

// Equal reports order-sensitive segment equality.
func (r ObjectRef) Equal(other ObjectRef) bool {
	if len(r) != len(other) {
		return false
	}
	for i := range r {
		if r[i] != other[i] {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer.
func (r ObjectRef) String() string {
	return r.Key()
}

// PrincipalKind discriminates the three identity categories.
type PrincipalKind string

const (
	PrincipalUser         PrincipalKind = "USER"
	PrincipalRole         PrincipalKind = "ROLE"
	PrincipalOrganization PrincipalKind = "ORGANIZATION"
)

// Valid reports whether the kind is one of the known values.
func (k PrincipalKind) Valid() bool {
	switch k {
	case PrincipalUser, PrincipalRole, PrincipalOrganization:
		return true
	}
	return false
}

// Principal is an identity that can hold permissions. Identity is the
// (Kind, ID) pair.
type Principal struct {
	Kind PrincipalKind `json:"kind"`
	ID   string        `json:"id"`
}

// String returns the "KIND:id" form used in logs and index keys.
func (p Principal) String() string {
	return string(p.Kind) + ":" + p.ID
}

// Ref returns the principal's own securable identity, used as a node in the
// principal hierarchy graph.
func (p Principal) Ref() ObjectRef {
	return ObjectRef{p.ID}
}

// RequireKind returns a TypeMismatchError unless the principal has the
// wanted kind.
func (p Principal) RequireKind(want PrincipalKind) error {
	if p.Kind != want {
		return &TypeMismatchError{Principal: p, Want: want}
	}
	return nil
}

// Ace is the access entry one principal holds on one object. ExpiresAt nil
// means the entry never expires.
type Ace struct {
	Principal   Principal     `json:"principal"`
	Permissions PermissionSet `json:"permissions"`
	ExpiresAt   *time.Time    `json:"expires_at,omitempty"`
}

// NewAce builds an Ace with no expiration.
func NewAce(principal Principal, perms ...Permission) Ace {
	return Ace{Principal: principal, Permissions: NewPermissionSet(perms...)}
}

// Expired reports whether the entry expired strictly before now.
func (a Ace) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

// Tombstone reports whether all permission bits have been cleared. Tombstones
// stay in storage but are excluded from listings.
func (a Ace) Tombstone() bool {
	return len(a.Permissions) == 0
}

// Clone returns a deep copy of the Ace.
func (a Ace) Clone() Ace {
	out := Ace{Principal: a.Principal, Permissions: a.Permissions.Clone()}
	if a.ExpiresAt != nil {
		t := *a.ExpiresAt
		out.ExpiresAt = &t
	}
	return out
}

// Acl is a convenience aggregate of an object and all of its entries. It is
// never persisted as a unit.
type Acl struct {
	Object ObjectRef `json:"object"`
	Aces   []Ace     `json:"aces"`
}

// SecurableObjectType classifies a securable object. The classification is
// supplied by an external collaborator and defaults to ObjectTypeUnknown. It
// never denies an operation; it only decides whether a permission change
// raises a materialization-change notification.
type SecurableObjectType string

const (
	ObjectTypeUnknown          SecurableObjectType = "unknown"
	ObjectTypeCatalog          SecurableObjectType = "catalog"
	ObjectTypeSchema           SecurableObjectType = "schema"
	ObjectTypeTable            SecurableObjectType = "table"
	ObjectTypeView             SecurableObjectType = "view"
	ObjectTypeMaterializedView SecurableObjectType = "materialized_view"
	ObjectTypeFunction         SecurableObjectType = "function"
)

// MaterializationSensitive reports whether MATERIALIZE grants on objects of
// this type affect downstream materialized views.
func (t SecurableObjectType) MaterializationSensitive() bool {
	switch t {
	case ObjectTypeTable, ObjectTypeView, ObjectTypeMaterializedView:
		return true
	}
	return false
}
