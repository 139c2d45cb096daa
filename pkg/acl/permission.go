package acl

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Permission is a single capability on a securable object.
type Permission string

const (
	PermissionRead        Permission = "READ"
	PermissionWrite       Permission = "WRITE"
	PermissionOwner       Permission = "OWNER"
	PermissionMaterialize Permission = "MATERIALIZE"
	PermissionLink        Permission = "LINK"
	PermissionDiscover    Permission = "DISCOVER"
)

// AllPermissions lists every known permission.
func AllPermissions() []Permission {
	return []Permission{
		PermissionRead,
		PermissionWrite,
		PermissionOwner,
		PermissionMaterialize,
		PermissionLink,
		PermissionDiscover,
	}
}

// Valid reports whether the permission is one of the known values.
func (p Permission) Valid() bool {
	switch p {
	case PermissionRead, PermissionWrite, PermissionOwner,
		PermissionMaterialize, PermissionLink, PermissionDiscover:
		return true
	}
	return false
}

// PermissionSet is an unordered, duplicate-free set of permissions.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from the given permissions.
func NewPermissionSet(perms ...Permission) PermissionSet {
	s := make(PermissionSet, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

// Add inserts a permission in place.
func (s PermissionSet) Add(p Permission) {
	s[p] = struct{}{}
}

// Remove deletes a permission in place.
func (s PermissionSet) Remove(p Permission) {
	delete(s, p)
}

// Contains reports membership of a single permission.
func (s PermissionSet) Contains(p Permission) bool {
	_, ok := s[p]
	return ok
}

// ContainsAll reports whether every permission in other is present.
func (s PermissionSet) ContainsAll(other PermissionSet) bool {
	for p := range other {
		if !s.Contains(p) {
			return false
		}
	}
	return true
}

// Equal reports exact set equality.
func (s PermissionSet) Equal(other PermissionSet) bool {
	return len(s) == len(other) && s.ContainsAll(other)
}

// Empty reports whether the set has no members.
func (s PermissionSet) Empty() bool {
	return len(s) == 0
}

// Union returns a new set containing members of both sets.
func (s PermissionSet) Union(other PermissionSet) PermissionSet {
	out := make(PermissionSet, len(s)+len(other))
	for p := range s {
		out[p] = struct{}{}
	}
	for p := range other {
		out[p] = struct{}{}
	}
	return out
}

// Diff returns a new set with members of s that are not in other.
func (s PermissionSet) Diff(other PermissionSet) PermissionSet {
	out := make(PermissionSet)
	for p := range s {
		if !other.Contains(p) {
			out[p] = struct{}{}
		}
	}
	return out
}

// Clone returns a copy of the set.
func (s PermissionSet) Clone() PermissionSet {
	out := make(PermissionSet, len(s))
	for p := range s {
		out[p] = struct{}{}
	}
	return out
}

// Slice returns the members sorted lexically, for stable output.
func (s PermissionSet) Slice() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// String returns a stable "{READ,WRITE}" form for logs.
func (s PermissionSet) String() string {
	parts := make([]string, 0, len(s))
	for _, p := range s.Slice() {
		parts = append(parts, string(p))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// MarshalJSON encodes the set as a sorted array.
func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

// UnmarshalJSON decodes an array form, rejecting unknown permissions.
func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var perms []Permission
	if err := json.Unmarshal(data, &perms); err != nil {
		return err
	}
	out := make(PermissionSet, len(perms))
	for _, p := range perms {
		if !p.Valid() {
			return fmt.Errorf("unknown permission %q", p)
		}
		out[p] = struct{}{}
	}
	*s = out
	return nil
}
