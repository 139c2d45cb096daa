package acl

import (
	"errors"
	"fmt"
)

// Sentinel targets for errors.Is matching. Concrete error values below carry
// detail and report Is against these.
var (
	ErrConstraintViolation = errors.New("constraint violation")
	ErrNotFound            = errors.New("not found")
	ErrTypeMismatch        = errors.New("principal kind mismatch")
	ErrBackingStore        = errors.New("backing store failure")
)

// ConstraintViolationError signals that an operation would violate a safety
// invariant (owner invariant) or a referential constraint (batch naming a
// principal that does not exist). The affected unit of work is left
// unmutated.
type ConstraintViolationError struct {
	Reason string
}

func (e *ConstraintViolationError) Error() string {
	return "constraint violation: " + e.Reason
}

func (e *ConstraintViolationError) Is(target error) bool {
	return target == ErrConstraintViolation
}

// NotFoundError signals a point lookup with no entry at the key. It is
// distinct from an entry that exists with an empty permission set.
type NotFoundError struct {
	Object    ObjectRef
	Principal Principal
}

func (e *NotFoundError) Error() string {
	if e.Principal.ID != "" {
		return fmt.Sprintf("no access entry for %s on %s", e.Principal, e.Object)
	}
	return fmt.Sprintf("no access entries for %s", e.Object)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// TypeMismatchError signals a principal of the wrong kind for a
// kind-specific operation.
type TypeMismatchError struct {
	Principal Principal
	Want      PrincipalKind
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("principal %s is not of kind %s", e.Principal, e.Want)
}

func (e *TypeMismatchError) Is(target error) bool {
	return target == ErrTypeMismatch
}

// BackingStoreError wraps an I/O failure from the permission or hierarchy
// store. It is never retried internally; the caller owns retry policy.
type BackingStoreError struct {
	Op  string
	Err error
}

func (e *BackingStoreError) Error() string {
	return fmt.Sprintf("backing store: %s: %v", e.Op, e.Err)
}

func (e *BackingStoreError) Is(target error) bool {
	return target == ErrBackingStore
}

func (e *BackingStoreError) Unwrap() error {
	return e.Err
}
