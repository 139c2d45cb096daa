package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/acl"
)

func TestAuthorizeEndToEnd(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	objA := acl.MustObjectRef("objA")

	require.NoError(t, env.engine.Grant(ctx, objA, userU1, acl.NewPermissionSet(acl.PermissionRead), nil))

	requests := []AccessRequest{{
		Object:      objA,
		Permissions: acl.NewPermissionSet(acl.PermissionRead, acl.PermissionWrite),
	}}

	results, err := env.engine.Authorize(ctx, requests, []acl.Principal{userU1})
	require.NoError(t, err)
	assert.Equal(t, AccessResult{acl.PermissionRead: true, acl.PermissionWrite: false}, results[objA.Key()])

	// Revoke READ, then the same query denies everything.
	require.NoError(t, env.engine.RevokeBatch(ctx, []acl.Acl{{
		Object: objA,
		Aces:   []acl.Ace{acl.NewAce(userU1, acl.PermissionRead)},
	}}))

	results, err = env.engine.Authorize(ctx, requests, []acl.Principal{userU1})
	require.NoError(t, err)
	assert.Equal(t, AccessResult{acl.PermissionRead: false, acl.PermissionWrite: false}, results[objA.Key()])
}

func TestAuthorizeUnionsAcrossPrincipals(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	obj := acl.MustObjectRef("catalog", "t")

	require.NoError(t, env.engine.Grant(ctx, obj, userU1, acl.NewPermissionSet(acl.PermissionRead), nil))
	require.NoError(t, env.engine.Grant(ctx, obj, roleR1, acl.NewPermissionSet(acl.PermissionWrite), nil))

	requests := []AccessRequest{{
		Object:      obj,
		Permissions: acl.NewPermissionSet(acl.PermissionRead, acl.PermissionWrite),
	}}

	// The user alone holds only READ.
	results, err := env.engine.Authorize(ctx, requests, []acl.Principal{userU1})
	require.NoError(t, err)
	assert.False(t, results[obj.Key()][acl.PermissionWrite])

	// The closure (user + role) unions in WRITE.
	results, err = env.engine.Authorize(ctx, requests, []acl.Principal{userU1, roleR1})
	require.NoError(t, err)
	assert.True(t, results[obj.Key()][acl.PermissionRead])
	assert.True(t, results[obj.Key()][acl.PermissionWrite])
}

func TestAuthorizeMonotonicity(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	obj := acl.MustObjectRef("catalog", "t")
	requests := []AccessRequest{{
		Object:      obj,
		Permissions: acl.NewPermissionSet(acl.PermissionRead, acl.PermissionWrite, acl.PermissionDiscover),
	}}
	closure := []acl.Principal{userU1, roleR1}

	require.NoError(t, env.engine.Grant(ctx, obj, userU1, acl.NewPermissionSet(acl.PermissionRead), nil))
	before, err := env.engine.Authorize(ctx, requests, closure)
	require.NoError(t, err)

	// Adding a grant to any principal in the set never flips true to false.
	require.NoError(t, env.engine.Grant(ctx, obj, roleR1, acl.NewPermissionSet(acl.PermissionWrite), nil))
	after, err := env.engine.Authorize(ctx, requests, closure)
	require.NoError(t, err)

	for perm, was := range before[obj.Key()] {
		if was {
			assert.True(t, after[obj.Key()][perm], "permission %s flipped true to false", perm)
		}
	}
	assert.True(t, after[obj.Key()][acl.PermissionWrite])
}

func TestAuthorizeFiltersExpired(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	obj := acl.MustObjectRef("catalog", "t")

	past := time.Now().Add(-time.Minute)
	require.NoError(t, env.engine.Grant(ctx, obj, userU1, acl.NewPermissionSet(acl.PermissionRead), &past))

	results, err := env.engine.Authorize(ctx, []AccessRequest{{
		Object:      obj,
		Permissions: acl.NewPermissionSet(acl.PermissionRead),
	}}, []acl.Principal{userU1})
	require.NoError(t, err)
	assert.False(t, results[obj.Key()][acl.PermissionRead], "expired grant holds nothing")

	// Re-granting without expiration restores access.
	require.NoError(t, env.engine.Grant(ctx, obj, userU1, acl.NewPermissionSet(acl.PermissionRead), nil))
	results, err = env.engine.Authorize(ctx, []AccessRequest{{
		Object:      obj,
		Permissions: acl.NewPermissionSet(acl.PermissionRead),
	}}, []acl.Principal{userU1})
	require.NoError(t, err)
	assert.True(t, results[obj.Key()][acl.PermissionRead])
}

func TestCheckIfHasPermissions(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	obj := acl.MustObjectRef("catalog", "t")

	require.NoError(t, env.engine.Grant(ctx, obj, userU1, acl.NewPermissionSet(acl.PermissionRead), nil))
	require.NoError(t, env.engine.Grant(ctx, obj, roleR1, acl.NewPermissionSet(acl.PermissionWrite), nil))

	ok, err := env.engine.CheckIfHasPermissions(ctx, obj, []acl.Principal{userU1, roleR1}, acl.NewPermissionSet(acl.PermissionRead, acl.PermissionWrite))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = env.engine.CheckIfHasPermissions(ctx, obj, []acl.Principal{userU1}, acl.NewPermissionSet(acl.PermissionRead, acl.PermissionWrite))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAuthorizedPrincipalsExactMatch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	obj := acl.MustObjectRef("catalog", "t")

	require.NoError(t, env.engine.Grant(ctx, obj, userU1, acl.NewPermissionSet(acl.PermissionRead), nil))
	require.NoError(t, env.engine.Grant(ctx, obj, userU2, acl.NewPermissionSet(acl.PermissionRead, acl.PermissionWrite), nil))

	// Exact-set match, not superset.
	principals, err := env.engine.AuthorizedPrincipals(ctx, obj, acl.NewPermissionSet(acl.PermissionRead))
	require.NoError(t, err)
	assert.Equal(t, []acl.Principal{userU1}, principals)
}

func TestAuthorizedPrincipalsExcludesExpired(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	obj := acl.MustObjectRef("catalog", "t")

	past := time.Now().Add(-time.Minute)
	require.NoError(t, env.engine.Grant(ctx, obj, userU1, acl.NewPermissionSet(acl.PermissionRead), &past))
	require.NoError(t, env.engine.Grant(ctx, obj, userU2, acl.NewPermissionSet(acl.PermissionRead), nil))

	principals, err := env.engine.AuthorizedPrincipals(ctx, obj, acl.NewPermissionSet(acl.PermissionRead))
	require.NoError(t, err)
	assert.Equal(t, []acl.Principal{userU2}, principals)
}

func TestAuthorizedObjectsOfType(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	t1 := acl.MustObjectRef("catalog", "t1")
	t2 := acl.MustObjectRef("catalog", "t2")
	v1 := acl.MustObjectRef("catalog", "v1")

	require.NoError(t, env.perms.SetObjectType(ctx, t1, acl.ObjectTypeTable))
	require.NoError(t, env.perms.SetObjectType(ctx, t2, acl.ObjectTypeTable))
	require.NoError(t, env.perms.SetObjectType(ctx, v1, acl.ObjectTypeView))

	readOnly := acl.NewPermissionSet(acl.PermissionRead)
	require.NoError(t, env.engine.Grant(ctx, t1, userU1, readOnly, nil))
	require.NoError(t, env.engine.Grant(ctx, t2, roleR1, readOnly, nil))
	require.NoError(t, env.engine.Grant(ctx, v1, userU1, readOnly, nil))

	objects, errc := env.engine.AuthorizedObjectsOfType(ctx, []acl.Principal{userU1, roleR1}, acl.ObjectTypeTable, readOnly)

	var got []string
	for obj := range objects {
		got = append(got, obj.Key())
	}
	require.NoError(t, <-errc)
	assert.ElementsMatch(t, []string{t1.Key(), t2.Key()}, got)
}

func TestAuthorizedObjectsOfTypeHonorsCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	obj := acl.MustObjectRef("catalog", "t")
	require.NoError(t, env.perms.SetObjectType(context.Background(), obj, acl.ObjectTypeTable))
	require.NoError(t, env.engine.Grant(context.Background(), obj, userU1, acl.NewPermissionSet(acl.PermissionRead), nil))

	objects, errc := env.engine.AuthorizedObjectsOfType(ctx, []acl.Principal{userU1}, acl.ObjectTypeTable, acl.NewPermissionSet(acl.PermissionRead))
	cancel()

	// Drain; the stream must terminate.
	for range objects {
	}
	<-errc
}

func TestOwnersMultimap(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	t1 := acl.MustObjectRef("catalog", "t1")
	t2 := acl.MustObjectRef("catalog", "t2")

	require.NoError(t, env.engine.Grant(ctx, t1, userU1, acl.NewPermissionSet(acl.PermissionOwner), nil))
	require.NoError(t, env.engine.Grant(ctx, t1, userU2, acl.NewPermissionSet(acl.PermissionOwner), nil))
	// Holding more than {OWNER} is not an exact match.
	require.NoError(t, env.engine.Grant(ctx, t2, userU1, acl.NewPermissionSet(acl.PermissionOwner, acl.PermissionWrite), nil))

	owners, err := env.engine.Owners(ctx, []acl.ObjectRef{t1, t2})
	require.NoError(t, err)
	assert.ElementsMatch(t, []acl.Principal{userU1, userU2}, owners[t1.Key()])
	assert.Empty(t, owners[t2.Key()])
}

func TestOwnersExcludesExpired(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	obj := acl.MustObjectRef("catalog", "t")

	past := time.Now().Add(-time.Minute)
	require.NoError(t, env.engine.Grant(ctx, obj, userU1, acl.NewPermissionSet(acl.PermissionOwner), nil))
	require.NoError(t, env.engine.Grant(ctx, obj, userU2, acl.NewPermissionSet(acl.PermissionOwner), &past))

	owners, err := env.engine.Owners(ctx, []acl.ObjectRef{obj})
	require.NoError(t, err)
	assert.Equal(t, []acl.Principal{userU1}, owners[obj.Key()])
}
