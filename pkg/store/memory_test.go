package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/acl"
)

var (
	user1 = acl.Principal{Kind: acl.PrincipalUser, ID: "u1"}
	user2 = acl.Principal{Kind: acl.PrincipalUser, ID: "u2"}
	role1 = acl.Principal{Kind: acl.PrincipalRole, ID: "r1"}
	org1  = acl.Principal{Kind: acl.PrincipalOrganization, ID: "acme"}
)

// grantPerms unions permissions into the entry at (object, principal).
func grantPerms(t *testing.T, s PermissionStore, object acl.ObjectRef, p acl.Principal, perms ...acl.Permission) {
	t.Helper()
	_, err := s.Mutate(context.Background(), object, p, func(old *acl.Ace) (*acl.Ace, error) {
		ace := acl.NewAce(p)
		if old != nil {
			ace = old.Clone()
		}
		ace.Permissions = ace.Permissions.Union(acl.NewPermissionSet(perms...))
		return &ace, nil
	})
	require.NoError(t, err)
}

// runStoreConformance exercises the PermissionStore contract against any
// backend. Both MemoryStore and RedisStore run this suite so their observable
// behavior cannot drift apart.
func runStoreConformance(t *testing.T, newStore func(t *testing.T) PermissionStore) {
	ctx := context.Background()

	t.Run("mutate creates then merges", func(t *testing.T) {
		s := newStore(t)
		obj := acl.MustObjectRef("catalog", "table1")

		grantPerms(t, s, obj, user1, acl.PermissionRead)
		grantPerms(t, s, obj, user1, acl.PermissionWrite)

		ace, err := s.Get(ctx, obj, user1)
		require.NoError(t, err)
		assert.True(t, ace.Permissions.Equal(acl.NewPermissionSet(acl.PermissionRead, acl.PermissionWrite)))
		assert.Equal(t, user1, ace.Principal)
	})

	t.Run("mutate propagates function error without mutation", func(t *testing.T) {
		s := newStore(t)
		obj := acl.MustObjectRef("catalog", "table1")
		rejected := errors.New("rejected")

		_, err := s.Mutate(ctx, obj, user1, func(old *acl.Ace) (*acl.Ace, error) {
			return nil, rejected
		})
		assert.ErrorIs(t, err, rejected)

		_, err = s.Get(ctx, obj, user1)
		assert.ErrorIs(t, err, acl.ErrNotFound)
	})

	t.Run("get distinguishes absent from tombstone", func(t *testing.T) {
		s := newStore(t)
		obj := acl.MustObjectRef("catalog", "table1")

		_, err := s.Get(ctx, obj, user1)
		assert.ErrorIs(t, err, acl.ErrNotFound)

		// Clear to a tombstone; the entry must remain readable.
		grantPerms(t, s, obj, user1, acl.PermissionRead)
		_, err = s.Mutate(ctx, obj, user1, func(old *acl.Ace) (*acl.Ace, error) {
			ace := old.Clone()
			ace.Permissions = acl.NewPermissionSet()
			return &ace, nil
		})
		require.NoError(t, err)

		ace, err := s.Get(ctx, obj, user1)
		require.NoError(t, err)
		assert.True(t, ace.Tombstone())
	})

	t.Run("getall skips absent keys", func(t *testing.T) {
		s := newStore(t)
		obj := acl.MustObjectRef("catalog", "table1")
		grantPerms(t, s, obj, user1, acl.PermissionRead)

		entries, err := s.GetAll(ctx, []Key{
			{Object: obj, Principal: user1},
			{Object: obj, Principal: user2},
		})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, user1, entries[0].Ace.Principal)
	})

	t.Run("scan filter conjunctions", func(t *testing.T) {
		s := newStore(t)
		table := acl.MustObjectRef("catalog", "table1")
		view := acl.MustObjectRef("catalog", "view1")
		require.NoError(t, s.SetObjectType(ctx, table, acl.ObjectTypeTable))
		require.NoError(t, s.SetObjectType(ctx, view, acl.ObjectTypeView))

		grantPerms(t, s, table, user1, acl.PermissionOwner)
		grantPerms(t, s, table, role1, acl.PermissionRead)
		grantPerms(t, s, view, user1, acl.PermissionRead)
		grantPerms(t, s, view, org1, acl.PermissionMaterialize)

		entries, err := s.Scan(ctx, Filter{Object: table})
		require.NoError(t, err)
		assert.Len(t, entries, 2)

		entries, err = s.Scan(ctx, Filter{Principal: &user1})
		require.NoError(t, err)
		assert.Len(t, entries, 2)

		entries, err = s.Scan(ctx, Filter{
			PrincipalIn:   []acl.Principal{user1, org1},
			ObjectType:    acl.ObjectTypeView,
			PrincipalKind: acl.PrincipalOrganization,
		})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, org1, entries[0].Ace.Principal)

		entries, err = s.Scan(ctx, Filter{
			Object:           table,
			PrincipalKind:    acl.PrincipalUser,
			PermissionsEqual: acl.NewPermissionSet(acl.PermissionOwner),
		})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, user1, entries[0].Ace.Principal)

		entries, err = s.Scan(ctx, Filter{ObjectIn: []acl.ObjectRef{table, view}})
		require.NoError(t, err)
		assert.Len(t, entries, 4)
	})

	t.Run("delete object cascades", func(t *testing.T) {
		s := newStore(t)
		table := acl.MustObjectRef("catalog", "table1")
		other := acl.MustObjectRef("catalog", "table2")
		require.NoError(t, s.SetObjectType(ctx, table, acl.ObjectTypeTable))
		grantPerms(t, s, table, user1, acl.PermissionOwner)
		grantPerms(t, s, other, user1, acl.PermissionRead)

		require.NoError(t, s.DeleteObject(ctx, table))

		_, err := s.Get(ctx, table, user1)
		assert.ErrorIs(t, err, acl.ErrNotFound)
		_, err = s.ObjectType(ctx, table)
		assert.ErrorIs(t, err, acl.ErrNotFound)

		// Principal index must not keep pointing at the deleted object.
		entries, err := s.Scan(ctx, Filter{Principal: &user1})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.True(t, entries[0].Object.Equal(other))
	})

	t.Run("delete principal cascades", func(t *testing.T) {
		s := newStore(t)
		table := acl.MustObjectRef("catalog", "table1")
		view := acl.MustObjectRef("catalog", "view1")
		grantPerms(t, s, table, user1, acl.PermissionOwner)
		grantPerms(t, s, view, user1, acl.PermissionRead)
		grantPerms(t, s, table, user2, acl.PermissionRead)

		require.NoError(t, s.DeletePrincipal(ctx, user1))

		entries, err := s.Scan(ctx, Filter{Principal: &user1})
		require.NoError(t, err)
		assert.Empty(t, entries)

		ace, err := s.Get(ctx, table, user2)
		require.NoError(t, err)
		assert.True(t, ace.Permissions.Contains(acl.PermissionRead))
	})

	t.Run("object type registry", func(t *testing.T) {
		s := newStore(t)
		table := acl.MustObjectRef("catalog", "table1")

		_, err := s.ObjectType(ctx, table)
		assert.ErrorIs(t, err, acl.ErrNotFound)

		require.NoError(t, s.SetObjectType(ctx, table, acl.ObjectTypeTable))
		got, err := s.ObjectType(ctx, table)
		require.NoError(t, err)
		assert.Equal(t, acl.ObjectTypeTable, got)

		// Reclassification moves the object between type indexes.
		require.NoError(t, s.SetObjectType(ctx, table, acl.ObjectTypeView))
		grantPerms(t, s, table, user1, acl.PermissionRead)

		entries, err := s.Scan(ctx, Filter{ObjectType: acl.ObjectTypeTable})
		require.NoError(t, err)
		assert.Empty(t, entries)
		entries, err = s.Scan(ctx, Filter{ObjectType: acl.ObjectTypeView})
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})
}

func TestMemoryStoreConformance(t *testing.T) {
	runStoreConformance(t, func(t *testing.T) PermissionStore {
		return NewMemoryStore()
	})
}

func TestMemoryStoreConcurrentMutate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	obj := acl.MustObjectRef("catalog", "hot")

	perms := acl.AllPermissions()
	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
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
		}(perms[i%len(perms)])
	}
	wg.Wait()

	ace, err := s.Get(ctx, obj, user1)
	require.NoError(t, err)
	assert.True(t, ace.Permissions.Equal(acl.NewPermissionSet(perms...)),
		"lost updates under concurrency: %s", ace.Permissions)
}

func TestMemoryStoreMutateReturnsClone(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	obj := acl.MustObjectRef("catalog", "table1")

	grantPerms(t, s, obj, user1, acl.PermissionRead)
	ace, err := s.Get(ctx, obj, user1)
	require.NoError(t, err)

	// Mutating the returned copy must not reach the store.
	ace.Permissions.Add(acl.PermissionOwner)
	again, err := s.Get(ctx, obj, user1)
	require.NoError(t, err)
	assert.False(t, again.Permissions.Contains(acl.PermissionOwner))
}
