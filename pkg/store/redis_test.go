package store

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/acl"
)

func newTestRedisStore(t *testing.T) PermissionStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "gatekeeper_test")
}

func TestRedisStoreConformance(t *testing.T) {
	runStoreConformance(t, newTestRedisStore)
}

func TestRedisStoreConcurrentMutate(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()
	obj := acl.MustObjectRef("catalog", "hot")

	// Each writer unions a distinct permission; WATCH retries must ensure
	// none of them is lost.
	perms := []acl.Permission{acl.PermissionRead, acl.PermissionWrite, acl.PermissionDiscover}
	var wg sync.WaitGroup
	for _, p := range perms {
		wg.Add(1)
		go func(p acl.Permission) {
			defer wg.Done()
			_, err := s.Mutate(ctx, obj, user1, func(old *acl.Ace) (*acl.Ace, error) {
				ace := acl.NewAce(user1)
				if old != nil {
					ace = old.Clone()
				}
				ace.Permissions.Add(p)
				return &ace, nil
			})
			assert.NoError(t, err)
		}(p)
	}
	wg.Wait()

	ace, err := s.Get(ctx, obj, user1)
	require.NoError(t, err)
	assert.True(t, ace.Permissions.Equal(acl.NewPermissionSet(perms...)),
		"lost updates under concurrency: %s", ace.Permissions)
}

func TestRedisStoreSurfacesBackingStoreError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	s := NewRedisStore(client, "")

	ctx := context.Background()
	obj := acl.MustObjectRef("catalog", "table1")
	grantPerms(t, s, obj, user1, acl.PermissionRead)

	mr.Close()

	_, err := s.Get(ctx, obj, user1)
	assert.ErrorIs(t, err, acl.ErrBackingStore)

	_, err = s.Scan(ctx, Filter{Object: obj})
	assert.ErrorIs(t, err, acl.ErrBackingStore)

	_, err = s.Mutate(ctx, obj, user1, func(old *acl.Ace) (*acl.Ace, error) {
		ace := acl.NewAce(user1, acl.PermissionWrite)
		return &ace, nil
	})
	assert.ErrorIs(t, err, acl.ErrBackingStore)
}

func TestRedisStoreEntriesSurviveReconnect(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()

	client := redis.NewClient(&redis.Options{Addr: addr})
	s := NewRedisStore(client, "")
	obj := acl.MustObjectRef("catalog", "table1")
	grantPerms(t, s, obj, user1, acl.PermissionRead)
	require.NoError(t, client.Close())

	// A fresh client over the same backing data sees the same entry.
	client2 := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client2.Close() })
	s2 := NewRedisStore(client2, "")

	ace, err := s2.Get(context.Background(), obj, user1)
	require.NoError(t, err)
	assert.True(t, ace.Permissions.Contains(acl.PermissionRead))
}
