package diff

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/gatekeeper/pkg/acl"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/hierarchy"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/store"
)

const defaultMaxWorkers = 8

// Key identifies one user's loss on one object.
type Key struct {
	ObjectKey string
	User      acl.Principal
}

// Result maps each affected (object, user) pair to the permissions the user
// no longer holds on the object. An empty result means the hierarchy change
// revoked nothing.
type Result map[Key]acl.PermissionSet

// Lost returns the permissions the user lost on the object, or nil.
func (r Result) Lost(object acl.ObjectRef, user acl.Principal) acl.PermissionSet {
	return r[Key{ObjectKey: object.Key(), User: user}]
}

// Options configures optional collaborators of the Engine.
type Options struct {
	Logger  *logrus.Logger
	Metrics *observability.Metrics
	Audit   audit.Logger

	// MaxWorkers bounds the concurrent per-user closure walks.
	MaxWorkers int
}

// Engine computes lost-access diffs. It only reads; it never mutates the
// permission store or the hierarchy.
type Engine struct {
	perms      store.PermissionStore
	hierarchy  hierarchy.Store
	log        *logrus.Logger
	metrics    *observability.Metrics
	audit      audit.Logger
	maxWorkers int
}

// New returns a diff engine over the given stores.
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
		log:        opts.Logger,
		metrics:    opts.Metrics,
		audit:      opts.Audit,
		maxWorkers: opts.MaxWorkers,
	}
	if e.log == nil {
		e.log = logrus.New()
	}
	if e.metrics == nil {
		e.metrics = observability.NopMetrics()
	}
	if e.audit == nil {
		e.audit = audit.NopLogger{}
	}
	if e.maxWorkers <= 0 {
		e.maxWorkers = defaultMaxWorkers
	}
	return e, nil
}

// ComputeRevoked reports the permissions users underneath moved no longer
// hold after moved was detached from the containers in detachedFrom. The
// detach must already be applied to the hierarchy store; the engine walks
// the live graph to decide what each user still reaches.
func (e *Engine) ComputeRevoked(ctx context.Context, moved acl.ObjectRef, detachedFrom hierarchy.RefSet) (Result, error) {
	if len(moved) == 0 {
		return nil, &acl.ConstraintViolationError{Reason: "moved principal ref is empty"}
	}

	start := time.Now()
	defer func() {
		e.metrics.DiffDuration.Observe(time.Since(start).Seconds())
	}()

	// Everything the removed edges could have carried: the detached subtree
	// root, the old containers, and all of their ancestors. Surviving paths
	// into this set are subtracted per user below, so including too much
	// here only costs scan time, never correctness.
	removedTree, err := e.upwardClosure(ctx, hierarchy.NewRefSet(moved))
	if err != nil {
		return nil, err
	}
	oldSide, err := e.upwardClosure(ctx, detachedFrom)
	if err != nil {
		return nil, err
	}
	removedTree.Union(oldSide)

	usersStart := time.Now()
	users, err := e.hierarchy.ContainedUsers(ctx, hierarchy.NewRefSet(moved), true)
	e.metrics.HierarchyTraversalDuration.WithLabelValues("contained_users").Observe(time.Since(usersStart).Seconds())
	if err != nil {
		return nil, err
	}
	e.metrics.DiffUsersAffected.Observe(float64(len(users)))
	if len(users) == 0 {
		e.emitAudit(ctx, moved, detachedFrom, 0, 0)
		return Result{}, nil
	}

	removedPrincipals, err := e.hierarchy.Principals(ctx, removedTree)
	if err != nil {
		return nil, err
	}
	removedGrants, err := e.grantsByObject(ctx, removedPrincipals)
	if err != nil {
		return nil, err
	}
	if len(removedGrants) == 0 {
		e.emitAudit(ctx, moved, detachedFrom, len(users), 0)
		return Result{}, nil
	}

	result := Result{}
	var mu sync.Mutex

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(e.maxWorkers)
	for _, user := range users {
		user := user
		eg.Go(func() error {
			kept, err := e.reachableGrants(egCtx, user)
			if err != nil {
				return err
			}
			for objectKey, removedPerms := range removedGrants {
				lost := removedPerms.Diff(kept[objectKey])
				if lost.Empty() {
					continue
				}
				mu.Lock()
				result[Key{ObjectKey: objectKey, User: user}] = lost
				mu.Unlock()
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	e.emitAudit(ctx, moved, detachedFrom, len(users), len(result))
	return result, nil
}

// reachableGrants aggregates the grants the user still reaches through the
// live hierarchy, unioned per object.
func (e *Engine) reachableGrants(ctx context.Context, user acl.Principal) (map[string]acl.PermissionSet, error) {
	closure, err := e.upwardClosure(ctx, hierarchy.NewRefSet(user.Ref()))
	if err != nil {
		return nil, err
	}
	principals, err := e.hierarchy.Principals(ctx, closure)
	if err != nil {
		return nil, err
	}
	return e.grantsByObject(ctx, principals)
}

// upwardClosure returns the seeds plus every container reachable from them
// by repeated parent lookups. Safe on cyclic graphs.
func (e *Engine) upwardClosure(ctx context.Context, seeds hierarchy.RefSet) (hierarchy.RefSet, error) {
	start := time.Now()
	defer func() {
		e.metrics.HierarchyTraversalDuration.WithLabelValues("upward_closure").Observe(time.Since(start).Seconds())
	}()

	visited := seeds.Clone()
	frontier := seeds.Clone()
	for frontier.Len() > 0 {
		parents, err := e.hierarchy.ParentsContaining(ctx, frontier)
		if err != nil {
			return nil, err
		}
		next := hierarchy.NewRefSet()
		for _, p := range parents.Refs() {
			if visited.Contains(p) {
				continue
			}
			visited.Add(p)
			next.Add(p)
		}
		frontier = next
	}
	return visited, nil
}

// grantsByObject unions the live permissions the principals hold, keyed by
// object. Tombstoned and expired entries hold nothing.
func (e *Engine) grantsByObject(ctx context.Context, principals []acl.Principal) (map[string]acl.PermissionSet, error) {
	grants := make(map[string]acl.PermissionSet)
	if len(principals) == 0 {
		return grants, nil
	}

	entries, err := e.perms.Scan(ctx, store.Filter{PrincipalIn: principals})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	for _, entry := range entries {
		if entry.Ace.Tombstone() || entry.Ace.Expired(now) {
			continue
		}
		key := entry.Object.Key()
		grants[key] = grants[key].Union(entry.Ace.Permissions)
	}
	return grants, nil
}

func (e *Engine) emitAudit(ctx context.Context, moved acl.ObjectRef, detachedFrom hierarchy.RefSet, usersAffected, revocations int) {
	event := audit.NewEvent(audit.EventTypeHierarchyDiff, audit.EventStatusSuccess)
	event.Object = moved.Key()
	event.Message = "hierarchy detach diff computed"
	event.Metadata["detached_from"] = detachedFrom.Len()
	event.Metadata["users_affected"] = usersAffected
	event.Metadata["revocations"] = revocations
	if err := e.audit.Log(ctx, event); err != nil {
		e.log.WithError(err).Warn("failed to record hierarchy diff audit event")
	}
}
