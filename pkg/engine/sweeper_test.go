package engine

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/acl"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/store"
)

func TestSweeperRemovesExpiredEntries(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	objLive := acl.MustObjectRef("catalog", "live")
	objDead := acl.MustObjectRef("catalog", "dead")

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	require.NoError(t, env.engine.Grant(ctx, objLive, userU1, acl.NewPermissionSet(acl.PermissionRead), &future))
	require.NoError(t, env.engine.Grant(ctx, objDead, userU1, acl.NewPermissionSet(acl.PermissionRead), &past))

	metrics := observability.NopMetrics()
	sweeper, err := NewSweeper(env.perms, "@every 10m", quietLogger(), metrics)
	require.NoError(t, err)

	removed, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SweeperRemovedTotal))

	ace, err := env.perms.Get(ctx, objDead, userU1)
	require.NoError(t, err)
	assert.True(t, ace.Tombstone())

	ace, err = env.perms.Get(ctx, objLive, userU1)
	require.NoError(t, err)
	assert.True(t, ace.Permissions.Contains(acl.PermissionRead))
}

func TestSweeperSkipsTombstones(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	obj := acl.MustObjectRef("catalog", "t")

	require.NoError(t, env.engine.Grant(ctx, obj, userU1, acl.NewPermissionSet(acl.PermissionRead), nil))
	require.NoError(t, env.engine.RevokeBatch(ctx, []acl.Acl{{
		Object: obj,
		Aces:   []acl.Ace{acl.NewAce(userU1, acl.PermissionRead)},
	}}))

	sweeper, err := NewSweeper(env.perms, "@every 10m", quietLogger(), observability.NopMetrics())
	require.NoError(t, err)

	removed, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestSweeperRecheckInsideMutate(t *testing.T) {
	// An entry re-granted between the scan and the mutate survives the sweep.
	ctx := context.Background()
	perms := &regrantingStore{MemoryStore: store.NewMemoryStore()}
	obj := acl.MustObjectRef("catalog", "t")
	past := time.Now().Add(-time.Minute)

	_, err := perms.Mutate(ctx, obj, userU1, func(old *acl.Ace) (*acl.Ace, error) {
		return &acl.Ace{Principal: userU1, Permissions: acl.NewPermissionSet(acl.PermissionRead), ExpiresAt: &past}, nil
	})
	require.NoError(t, err)
	perms.obj = obj

	sweeper, err := NewSweeper(perms, "@every 10m", quietLogger(), observability.NopMetrics())
	require.NoError(t, err)

	removed, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)

	ace, err := perms.Get(ctx, obj, userU1)
	require.NoError(t, err)
	assert.True(t, ace.Permissions.Contains(acl.PermissionRead))
}

func TestSweeperStartStop(t *testing.T) {
	sweeper, err := NewSweeper(store.NewMemoryStore(), "@every 10m", quietLogger(), observability.NopMetrics())
	require.NoError(t, err)
	sweeper.Start()
	sweeper.Stop()
}

func TestNewSweeperRejectsBadSchedule(t *testing.T) {
	_, err := NewSweeper(store.NewMemoryStore(), "not a schedule", quietLogger(), observability.NopMetrics())
	require.Error(t, err)
}

// regrantingStore renews the expiration the first time the sweeper mutates,
// simulating a concurrent re-grant landing between scan and mutate.
type regrantingStore struct {
	*store.MemoryStore
	obj      acl.ObjectRef
	regranted bool
}

func (s *regrantingStore) Mutate(ctx context.Context, object acl.ObjectRef, principal acl.Principal, fn store.MutateFunc) (acl.Ace, error) {
	if !s.regranted && s.obj.Key() == object.Key() {
		s.regranted = true
		future := time.Now().Add(time.Hour)
		_, err := s.MemoryStore.Mutate(ctx, object, principal, func(old *acl.Ace) (*acl.Ace, error) {
			renewed := old.Clone()
			renewed.ExpiresAt = &future
			return &renewed, nil
		})
		if err != nil {
			return acl.Ace{}, err
		}
	}
	return s.MemoryStore.Mutate(ctx, object, principal, fn)
}
