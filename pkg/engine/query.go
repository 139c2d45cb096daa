package engine

import (
	"context"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/acl"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/store"
)

// AccessRequest asks whether a set of permissions is held on one object.
type AccessRequest struct {
	Object      acl.ObjectRef
	Permissions acl.PermissionSet
}

// AccessResult maps each requested permission to whether it is held.
type AccessResult map[acl.Permission]bool

// Authorize evaluates every request against the union of permissions the
// supplied principals hold. A permission flips to true when any principal in
// the set holds it; entries that are absent, tombstoned or expired hold
// nothing. Callers pass the full principal closure: the user plus every
// container it is a transitive member of.
//
// The result is keyed by each object's canonical key.
func (e *Engine) Authorize(ctx context.Context, requests []AccessRequest, principals []acl.Principal) (map[string]AccessResult, error) {
	timer := e.startTimer("authorize")
	defer timer()

	held, err := e.heldPermissions(ctx, requestObjects(requests), principals)
	if err != nil {
		return nil, err
	}

	results := make(map[string]AccessResult, len(requests))
	for _, req := range requests {
		key := req.Object.Key()
		result := make(AccessResult, len(req.Permissions))
		for _, p := range req.Permissions.Slice() {
			granted := held[key].Contains(p)
			result[p] = granted
			decision := "denied"
			if granted {
				decision = "allowed"
			}
			e.metrics.AuthzDecisionsTotal.WithLabelValues("authorize", decision).Inc()
		}
		results[key] = result
	}
	return results, nil
}

// CheckIfHasPermissions reports whether the union of permissions held by the
// principals on the object contains every required permission.
func (e *Engine) CheckIfHasPermissions(ctx context.Context, object acl.ObjectRef, principals []acl.Principal, required acl.PermissionSet) (bool, error) {
	timer := e.startTimer("check")
	defer timer()

	held, err := e.heldPermissions(ctx, []acl.ObjectRef{object}, principals)
	if err != nil {
		return false, err
	}
	ok := held[object.Key()].ContainsAll(required)

	decision := "denied"
	if ok {
		decision = "allowed"
	}
	e.metrics.AuthzDecisionsTotal.WithLabelValues("check", decision).Inc()
	if !ok {
		e.emitDeniedAudit(ctx, object, principals, required)
	}
	return ok, nil
}

// AuthorizedPrincipals returns the principals holding exactly perms on the
// object (exact-set match, not superset). Expired entries are excluded.
func (e *Engine) AuthorizedPrincipals(ctx context.Context, object acl.ObjectRef, perms acl.PermissionSet) ([]acl.Principal, error) {
	timer := e.startTimer("authorized_principals")
	defer timer()

	entries, err := e.perms.Scan(ctx, store.Filter{
		Object:           object,
		PermissionsEqual: perms,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	out := make([]acl.Principal, 0, len(entries))
	for _, entry := range entries {
		if entry.Ace.Expired(now) {
			continue
		}
		out = append(out, entry.Ace.Principal)
	}
	return out, nil
}

// AuthorizedObjectsOfType streams the distinct objects of the given type on
// which any of the principals holds exactly perms. The channel closes when
// the scan is exhausted or ctx is done; a scan failure is delivered on the
// error channel after the object channel closes.
func (e *Engine) AuthorizedObjectsOfType(ctx context.Context, principals []acl.Principal, objectType acl.SecurableObjectType, perms acl.PermissionSet) (<-chan acl.ObjectRef, <-chan error) {
	objects := make(chan acl.ObjectRef)
	errc := make(chan error, 1)

	go func() {
		defer close(objects)
		defer close(errc)

		timer := e.startTimer("authorized_objects")
		defer timer()

		entries, err := e.perms.Scan(ctx, store.Filter{
			PrincipalIn:      principals,
			ObjectType:       objectType,
			PermissionsEqual: perms,
		})
		if err != nil {
			errc <- err
			return
		}

		now := time.Now()
		seen := make(map[string]struct{})
		for _, entry := range entries {
			if entry.Ace.Expired(now) {
				continue
			}
			key := entry.Object.Key()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			select {
			case objects <- entry.Object:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()

	return objects, errc
}

// AllPermissions returns every non-tombstoned entry on the object.
func (e *Engine) AllPermissions(ctx context.Context, object acl.ObjectRef) (acl.Acl, error) {
	acls, err := e.AllPermissionsMulti(ctx, []acl.ObjectRef{object})
	if err != nil {
		return acl.Acl{}, err
	}
	for _, a := range acls {
		if a.Object.Equal(object) {
			return a, nil
		}
	}
	return acl.Acl{Object: object}, nil
}

// AllPermissionsMulti returns the non-tombstoned entries of each object,
// grouped per object. Objects without entries yield no element.
func (e *Engine) AllPermissionsMulti(ctx context.Context, objects []acl.ObjectRef) ([]acl.Acl, error) {
	timer := e.startTimer("all_permissions")
	defer timer()

	entries, err := e.perms.Scan(ctx, store.Filter{ObjectIn: objects})
	if err != nil {
		return nil, err
	}

	grouped := make(map[string]*acl.Acl)
	order := make([]string, 0, len(objects))
	for _, entry := range entries {
		if entry.Ace.Tombstone() {
			continue
		}
		key := entry.Object.Key()
		group, ok := grouped[key]
		if !ok {
			group = &acl.Acl{Object: entry.Object}
			grouped[key] = group
			order = append(order, key)
		}
		group.Aces = append(group.Aces, entry.Ace)
	}

	out := make([]acl.Acl, 0, len(order))
	for _, key := range order {
		out = append(out, *grouped[key])
	}
	return out, nil
}

// Owners returns, per object key, every principal holding exactly {OWNER}.
// Expired entries are excluded, as in AuthorizedPrincipals.
func (e *Engine) Owners(ctx context.Context, objects []acl.ObjectRef) (map[string][]acl.Principal, error) {
	timer := e.startTimer("owners")
	defer timer()

	entries, err := e.perms.Scan(ctx, store.Filter{
		ObjectIn:         objects,
		PermissionsEqual: acl.NewPermissionSet(acl.PermissionOwner),
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	out := make(map[string][]acl.Principal)
	for _, entry := range entries {
		if entry.Ace.Expired(now) {
			continue
		}
		key := entry.Object.Key()
		out[key] = append(out[key], entry.Ace.Principal)
	}
	return out, nil
}

// heldPermissions unions the live permissions each principal holds per
// object, filtering tombstones and expired entries.
func (e *Engine) heldPermissions(ctx context.Context, objects []acl.ObjectRef, principals []acl.Principal) (map[string]acl.PermissionSet, error) {
	keys := make([]store.Key, 0, len(objects)*len(principals))
	for _, object := range objects {
		for _, principal := range principals {
			keys = append(keys, store.Key{Object: object, Principal: principal})
		}
	}

	entries, err := e.perms.GetAll(ctx, keys)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	held := make(map[string]acl.PermissionSet, len(objects))
	for _, entry := range entries {
		if entry.Ace.Tombstone() || entry.Ace.Expired(now) {
			continue
		}
		key := entry.Object.Key()
		if held[key] == nil {
			held[key] = acl.NewPermissionSet()
		}
		held[key] = held[key].Union(entry.Ace.Permissions)
	}
	return held, nil
}

// requestObjects collects the distinct objects referenced by the requests.
func requestObjects(requests []AccessRequest) []acl.ObjectRef {
	seen := make(map[string]struct{}, len(requests))
	out := make([]acl.ObjectRef, 0, len(requests))
	for _, req := range requests {
		key := req.Object.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, req.Object)
	}
	return out
}

// emitDeniedAudit records a denied access check, best-effort.
func (e *Engine) emitDeniedAudit(ctx context.Context, object acl.ObjectRef, principals []acl.Principal, required acl.PermissionSet) {
	event := audit.NewEvent(audit.EventTypeAccessDenied, audit.EventStatusDenied)
	event.Object = object.String()
	if len(principals) > 0 {
		event.Principal = principals[0].String()
		if len(principals) > 1 {
			event.Metadata["principal_closure_size"] = len(principals)
		}
	}
	for _, p := range required.Slice() {
		event.Permissions = append(event.Permissions, string(p))
	}
	if err := e.audit.Log(ctx, event); err != nil {
		e.log.WithError(err).Warn("audit emission failed")
	}
}
