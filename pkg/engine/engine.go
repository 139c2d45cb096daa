package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeeper/pkg/acl"
	"github.com/platinummonkey/gatekeeper/pkg/async"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/hierarchy"
	"github.com/platinummonkey/gatekeeper/pkg/notify"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/store"
)

// errEntryAbsent aborts a mutation that targets a key with no entry. Revokes
// treat it as nothing-to-clear.
var errEntryAbsent = errors.New("no entry at key")

// Options configures optional engine collaborators. Zero values get safe
// defaults: no notifications, no audit trail, discarded metrics.
type Options struct {
	Classifier        TypeClassifier
	Sink              notify.Sink
	Audit             audit.Logger
	Logger            *logrus.Logger
	Metrics           *observability.Metrics
	BackgroundTimeout time.Duration
}

// Engine is the authorization engine. It is safe for concurrent use; all
// state lives in the injected stores.
type Engine struct {
	perms      store.PermissionStore
	hierarchy  hierarchy.Store
	classifier TypeClassifier
	sink       notify.Sink
	audit      audit.Logger
	log        *logrus.Logger
	metrics    *observability.Metrics
	bgTimeout  time.Duration
}

// New creates an engine over the given stores.
func New(perms store.PermissionStore, h hierarchy.Store, opts Options) (*Engine, error) {
	if perms == nil {
		return nil, fmt.Errorf("permission store is required")
	}
	if h == nil {
		return nil, fmt.Errorf("hierarchy store is required")
	}
	e := &Engine{
		perms:      perms,
		hierarchy:  h,
		classifier: opts.Classifier,
		sink:       opts.Sink,
		audit:      opts.Audit,
		log:        opts.Logger,
		metrics:    opts.Metrics,
		bgTimeout:  opts.BackgroundTimeout,
	}
	if e.classifier == nil {
		classifier, err := NewCachedClassifier(perms, 4096, opts.Metrics)
		if err != nil {
			return nil, err
		}
		e.classifier = classifier
	}
	if e.audit == nil {
		e.audit = audit.NopLogger{}
	}
	if e.log == nil {
		e.log = logrus.New()
	}
	if e.metrics == nil {
		e.metrics = observability.NopMetrics()
	}
	if e.bgTimeout <= 0 {
		e.bgTimeout = 5 * time.Second
	}
	return e, nil
}

// Grant unions perms into the entry at (object, principal) and overwrites its
// expiration (nil = never expires). The object's type is looked up for
// notification purposes only; an unregistered object logs a warning and is
// treated as unknown.
func (e *Engine) Grant(ctx context.Context, object acl.ObjectRef, principal acl.Principal, perms acl.PermissionSet, expiresAt *time.Time) error {
	timer := e.startTimer("grant")
	defer timer()

	if len(object) == 0 {
		return &acl.ConstraintViolationError{Reason: "empty object ref"}
	}
	if perms.Empty() {
		return &acl.ConstraintViolationError{Reason: "empty permission set in grant"}
	}

	objType, err := e.objectType(ctx, object)
	if err != nil {
		e.recordMutation("grant", err)
		return err
	}

	ace := acl.Ace{Principal: principal, Permissions: perms, ExpiresAt: expiresAt}
	err = e.applyGrant(ctx, object, ace, objType)
	e.recordMutation("grant", err)
	e.emitMutationAudit(ctx, audit.EventTypePermissionGrant, object, ace.Principal, perms, err)
	return err
}

// GrantBatch validates that every principal referenced anywhere in the batch
// exists, then performs one atomic union merge per (object, principal) pair.
// Validation failure rejects the whole batch before any mutation. The merges
// themselves are not transactional across keys.
func (e *Engine) GrantBatch(ctx context.Context, acls []acl.Acl) error {
	timer := e.startTimer("grant_batch")
	defer timer()

	if err := e.validatePrincipals(ctx, acls); err != nil {
		e.recordMutation("grant_batch", err)
		return err
	}

	for _, a := range acls {
		objType, err := e.objectType(ctx, a.Object)
		if err != nil {
			e.recordMutation("grant_batch", err)
			return err
		}
		for _, ace := range a.Aces {
			if err := e.applyGrant(ctx, a.Object, ace, objType); err != nil {
				e.recordMutation("grant_batch", err)
				e.emitMutationAudit(ctx, audit.EventTypePermissionGrant, a.Object, ace.Principal, ace.Permissions, err)
				return err
			}
			e.emitMutationAudit(ctx, audit.EventTypePermissionGrant, a.Object, ace.Principal, ace.Permissions, nil)
		}
	}
	e.recordMutation("grant_batch", nil)
	return nil
}

// RevokeBatch clears exactly the named permission bits per (object,
// principal) pair. Each object in the batch is an independent unit of work:
// if clearing would leave an object that has unexpired USER-kind entries
// holding OWNER with none surviving, that object's entire revoke fails with
// a constraint violation and no bits are cleared for it, while other objects
// proceed.
//
// The owner check and the clears are not serialized against concurrent
// revokes of the same object.
func (e *Engine) RevokeBatch(ctx context.Context, acls []acl.Acl) error {
	timer := e.startTimer("revoke_batch")
	defer timer()

	var errs []error
	for _, a := range acls {
		err := e.revokeObject(ctx, a)
		if err != nil {
			if errors.Is(err, acl.ErrConstraintViolation) {
				e.metrics.ConstraintViolationsTotal.WithLabelValues("revoke_batch").Inc()
				errs = append(errs, err)
				continue
			}
			e.recordMutation("revoke_batch", err)
			return err
		}
	}
	err := errors.Join(errs...)
	e.recordMutation("revoke_batch", err)
	return err
}

// revokeObject enforces the owner invariant for one object, then clears the
// requested bits.
func (e *Engine) revokeObject(ctx context.Context, a acl.Acl) error {
	// Principals losing OWNER through this revoke.
	losingOwner := make(map[acl.Principal]struct{})
	for _, ace := range a.Aces {
		if ace.Permissions.Contains(acl.PermissionOwner) {
			losingOwner[ace.Principal] = struct{}{}
		}
	}

	if len(losingOwner) > 0 {
		entries, err := e.perms.Scan(ctx, store.Filter{
			Object:        a.Object,
			PrincipalKind: acl.PrincipalUser,
		})
		if err != nil {
			return err
		}
		// An owner is any user entry holding the OWNER bit, whatever else it
		// holds alongside. Expired entries hold nothing.
		now := time.Now()
		owners := 0
		surviving := 0
		for _, entry := range entries {
			if !entry.Ace.Permissions.Contains(acl.PermissionOwner) || entry.Ace.Expired(now) {
				continue
			}
			owners++
			if _, removed := losingOwner[entry.Ace.Principal]; !removed {
				surviving++
			}
		}
		if owners > 0 && surviving == 0 {
			err := &acl.ConstraintViolationError{
				Reason: fmt.Sprintf("revoke would leave %s without a user owner", a.Object),
			}
			e.emitMutationAudit(ctx, audit.EventTypePermissionRevoke, a.Object, acl.Principal{}, nil, err)
			return err
		}
	}

	for _, ace := range a.Aces {
		toClear := ace.Permissions
		_, err := e.perms.Mutate(ctx, a.Object, ace.Principal, func(old *acl.Ace) (*acl.Ace, error) {
			if old == nil {
				return nil, errEntryAbsent
			}
			updated := old.Clone()
			updated.Permissions = updated.Permissions.Diff(toClear)
			return &updated, nil
		})
		if err != nil && !errors.Is(err, errEntryAbsent) {
			return err
		}
		e.emitMutationAudit(ctx, audit.EventTypePermissionRevoke, a.Object, ace.Principal, ace.Permissions, nil)
	}
	return nil
}

// ReplaceBatch validates every referenced principal exists, then overwrites
// the permission set and expiration of every named (object, principal) pair.
// Notifications are emitted exactly as for Grant.
//
// Unlike RevokeBatch, a replacement is not checked against the owner
// invariant: an overwrite that drops the OWNER bit from the last user owner
// goes through. Callers replacing owner entries carry that responsibility.
func (e *Engine) ReplaceBatch(ctx context.Context, acls []acl.Acl) error {
	timer := e.startTimer("replace_batch")
	defer timer()

	if err := e.validatePrincipals(ctx, acls); err != nil {
		e.recordMutation("replace_batch", err)
		return err
	}

	for _, a := range acls {
		objType, err := e.objectType(ctx, a.Object)
		if err != nil {
			e.recordMutation("replace_batch", err)
			return err
		}
		for _, ace := range a.Aces {
			replacement := ace.Clone()
			_, err := e.perms.Mutate(ctx, a.Object, ace.Principal, func(old *acl.Ace) (*acl.Ace, error) {
				r := replacement.Clone()
				return &r, nil
			})
			if err != nil {
				e.recordMutation("replace_batch", err)
				e.emitMutationAudit(ctx, audit.EventTypePermissionReplace, a.Object, ace.Principal, ace.Permissions, err)
				return err
			}
			e.emitMutationAudit(ctx, audit.EventTypePermissionReplace, a.Object, ace.Principal, ace.Permissions, nil)
			e.maybeNotify(a.Object, ace, objType)
		}
	}
	e.recordMutation("replace_batch", nil)
	return nil
}

// DeleteObject removes the object's type registration and cascades over
// every entry keyed by it.
func (e *Engine) DeleteObject(ctx context.Context, object acl.ObjectRef) error {
	timer := e.startTimer("delete_object")
	defer timer()

	err := e.perms.DeleteObject(ctx, object)
	if err == nil {
		if c, ok := e.classifier.(*CachedClassifier); ok {
			c.Invalidate(object)
		}
	}
	e.recordMutation("delete_object", err)
	e.emitMutationAudit(ctx, audit.EventTypeObjectDelete, object, acl.Principal{}, nil, err)
	return err
}

// DeletePrincipal cascades over every entry the principal holds across all
// objects.
func (e *Engine) DeletePrincipal(ctx context.Context, principal acl.Principal) error {
	timer := e.startTimer("delete_principal")
	defer timer()

	err := e.perms.DeletePrincipal(ctx, principal)
	e.recordMutation("delete_principal", err)
	e.emitMutationAudit(ctx, audit.EventTypePrincipalDelete, nil, principal, nil, err)
	return err
}

// applyGrant merges one ace into the store and emits a notification when the
// grant is materialization relevant.
func (e *Engine) applyGrant(ctx context.Context, object acl.ObjectRef, ace acl.Ace, objType acl.SecurableObjectType) error {
	granted := ace.Permissions.Clone()
	expiresAt := ace.ExpiresAt
	_, err := e.perms.Mutate(ctx, object, ace.Principal, func(old *acl.Ace) (*acl.Ace, error) {
		if old == nil {
			return &acl.Ace{Principal: ace.Principal, Permissions: granted.Clone(), ExpiresAt: expiresAt}, nil
		}
		updated := old.Clone()
		updated.Permissions = updated.Permissions.Union(granted)
		updated.ExpiresAt = expiresAt
		return &updated, nil
	})
	if err != nil {
		return err
	}
	e.maybeNotify(object, ace, objType)
	return nil
}

// validatePrincipals rejects a batch referencing any unregistered principal.
func (e *Engine) validatePrincipals(ctx context.Context, acls []acl.Acl) error {
	seen := make(map[acl.Principal]struct{})
	for _, a := range acls {
		for _, ace := range a.Aces {
			if _, ok := seen[ace.Principal]; ok {
				continue
			}
			seen[ace.Principal] = struct{}{}
			exists, err := e.hierarchy.Exists(ctx, ace.Principal)
			if err != nil {
				return err
			}
			if !exists {
				e.metrics.ConstraintViolationsTotal.WithLabelValues("batch_validate").Inc()
				return &acl.ConstraintViolationError{
					Reason: fmt.Sprintf("principal %s does not exist", ace.Principal),
				}
			}
		}
	}
	return nil
}

// objectType resolves the object's registered type, logging once per call
// when it is unknown.
func (e *Engine) objectType(ctx context.Context, object acl.ObjectRef) (acl.SecurableObjectType, error) {
	t, err := e.classifier.Lookup(ctx, object)
	if err != nil {
		return acl.ObjectTypeUnknown, err
	}
	if t == acl.ObjectTypeUnknown {
		e.log.WithField("object", object.String()).Warn("object has no registered type, treating as unknown")
	}
	return t, nil
}

// maybeNotify emits a materialization change, fire-and-forget, when a
// MATERIALIZE grant lands on an ORGANIZATION principal over a
// materialization-sensitive object type.
func (e *Engine) maybeNotify(object acl.ObjectRef, ace acl.Ace, objType acl.SecurableObjectType) {
	if e.sink == nil {
		return
	}
	if !ace.Permissions.Contains(acl.PermissionMaterialize) {
		return
	}
	if ace.Principal.Kind != acl.PrincipalOrganization {
		return
	}
	if !objType.MaterializationSensitive() {
		return
	}
	change := notify.NewMaterializationChange(ace.Principal, object, objType)
	async.SafeGo(context.Background(), e.bgTimeout, e.log, "materialization notify", func(ctx context.Context) error {
		e.sink.Notify(change)
		e.metrics.NotificationsTotal.WithLabelValues("emitted").Inc()
		return nil
	})
}

// emitMutationAudit records an audit event for a mutation, best-effort.
func (e *Engine) emitMutationAudit(ctx context.Context, eventType audit.EventType, object acl.ObjectRef, principal acl.Principal, perms acl.PermissionSet, opErr error) {
	status := audit.EventStatusSuccess
	if opErr != nil {
		status = audit.EventStatusFailure
		if errors.Is(opErr, acl.ErrConstraintViolation) {
			status = audit.EventStatusDenied
		}
	}
	event := audit.NewEvent(eventType, status)
	if object != nil {
		event.Object = object.String()
	}
	if principal.ID != "" {
		event.Principal = principal.String()
	}
	if perms != nil {
		for _, p := range perms.Slice() {
			event.Permissions = append(event.Permissions, string(p))
		}
	}
	if opErr != nil {
		event.ErrorMessage = opErr.Error()
	}
	if err := e.audit.Log(ctx, event); err != nil {
		e.log.WithError(err).Warn("audit emission failed")
	}
}

// startTimer returns a stop function recording operation latency.
func (e *Engine) startTimer(operation string) func() {
	start := time.Now()
	return func() {
		e.metrics.AuthzDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

// recordMutation counts a mutation outcome.
func (e *Engine) recordMutation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	e.metrics.MutationsTotal.WithLabelValues(operation, status).Inc()
}
