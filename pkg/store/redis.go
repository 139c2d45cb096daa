package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/gatekeeper/pkg/acl"
)

// DefaultKeyPrefix namespaces all gatekeeper keys in a shared Redis.
const DefaultKeyPrefix = "gatekeeper"

// mutateRetries bounds the optimistic transaction loop in Mutate.
const mutateRetries = 8

// RedisStore is a PermissionStore backed by Redis. Entries are JSON values
// under one key per (object, principal); membership sets serve as the
// secondary indexes Scan narrows with. Mutate uses WATCH/MULTI so concurrent
// writers to the same key retry instead of losing updates.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a RedisStore on an existing client. prefix may be
// empty to use DefaultKeyPrefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) aceKey(objectKey, principal string) string {
	return s.prefix + ":ace:" + objectKey + "|" + principal
}

func (s *RedisStore) objectIndexKey(objectKey string) string {
	return s.prefix + ":idx:object:" + objectKey
}

func (s *RedisStore) principalIndexKey(principal string) string {
	return s.prefix + ":idx:principal:" + principal
}

func (s *RedisStore) typeIndexKey(t acl.SecurableObjectType) string {
	return s.prefix + ":idx:type:" + string(t)
}

func (s *RedisStore) typeKey(objectKey string) string {
	return s.prefix + ":type:" + objectKey
}

func (s *RedisStore) objectsKey() string {
	return s.prefix + ":idx:objects"
}

// Mutate atomically applies fn to the entry at (object, principal) using an
// optimistic WATCH transaction. fn may run more than once.
func (s *RedisStore) Mutate(ctx context.Context, object acl.ObjectRef, principal acl.Principal, fn MutateFunc) (acl.Ace, error) {
	objectKey := object.Key()
	principalKey := principal.String()
	key := s.aceKey(objectKey, principalKey)

	var result acl.Ace
	var fnErr error

	txf := func(tx *redis.Tx) error {
		fnErr = nil
		data, err := tx.Get(ctx, key).Result()
		var old *acl.Ace
		switch {
		case err == redis.Nil:
			old = nil
		case err != nil:
			return err
		default:
			var existing acl.Ace
			if err := json.Unmarshal([]byte(data), &existing); err != nil {
				return fmt.Errorf("corrupt entry at %s: %w", key, err)
			}
			old = &existing
		}

		updated, err := fn(old)
		if err != nil {
			fnErr = err
			return err
		}
		if updated == nil {
			return errNilEntry
		}
		stored := updated.Clone()
		stored.Principal = principal
		payload, err := json.Marshal(stored)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.SAdd(ctx, s.objectIndexKey(objectKey), principalKey)
			pipe.SAdd(ctx, s.principalIndexKey(principalKey), objectKey)
			pipe.SAdd(ctx, s.objectsKey(), objectKey)
			return nil
		})
		if err == nil {
			result = stored
		}
		return err
	}

	for i := 0; i < mutateRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if err == redis.TxFailedErr {
			continue
		}
		if fnErr != nil {
			// The caller's function rejected the mutation; pass it through.
			return acl.Ace{}, fnErr
		}
		return acl.Ace{}, &acl.BackingStoreError{Op: "mutate", Err: err}
	}
	return acl.Ace{}, &acl.BackingStoreError{Op: "mutate", Err: fmt.Errorf("transaction contention on %s after %d attempts", key, mutateRetries)}
}

// Get returns the entry at the key, tombstone included.
func (s *RedisStore) Get(ctx context.Context, object acl.ObjectRef, principal acl.Principal) (acl.Ace, error) {
	data, err := s.client.Get(ctx, s.aceKey(object.Key(), principal.String())).Result()
	if err == redis.Nil {
		return acl.Ace{}, &acl.NotFoundError{Object: object, Principal: principal}
	}
	if err != nil {
		return acl.Ace{}, &acl.BackingStoreError{Op: "get", Err: err}
	}
	var ace acl.Ace
	if err := json.Unmarshal([]byte(data), &ace); err != nil {
		return acl.Ace{}, &acl.BackingStoreError{Op: "get", Err: err}
	}
	return ace, nil
}

// GetAll returns the entries present at the given keys via a single MGET.
func (s *RedisStore) GetAll(ctx context.Context, keys []Key) ([]Entry, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = s.aceKey(k.Object.Key(), k.Principal.String())
	}
	values, err := s.client.MGet(ctx, redisKeys...).Result()
	if err != nil {
		return nil, &acl.BackingStoreError{Op: "getall", Err: err}
	}

	var out []Entry
	for i, v := range values {
		if v == nil {
			continue
		}
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var ace acl.Ace
		if err := json.Unmarshal([]byte(raw), &ace); err != nil {
			return nil, &acl.BackingStoreError{Op: "getall", Err: err}
		}
		out = append(out, Entry{Object: append(acl.ObjectRef(nil), keys[i].Object...), Ace: ace})
	}
	return out, nil
}

// Scan returns every entry matching the filter. The narrowest available
// index picks the candidate objects; remaining predicates run client-side
// via Filter.matches so results are identical to MemoryStore.
func (s *RedisStore) Scan(ctx context.Context, filter Filter) ([]Entry, error) {
	objectKeys, err := s.candidateObjects(ctx, filter)
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, objectKey := range objectKeys {
		object, err := acl.ParseKey(objectKey)
		if err != nil {
			return nil, &acl.BackingStoreError{Op: "scan", Err: err}
		}

		principals, err := s.candidatePrincipals(ctx, objectKey, filter)
		if err != nil {
			return nil, err
		}
		if len(principals) == 0 {
			continue
		}

		objectType, err := s.objectTypeOrUnknown(ctx, objectKey)
		if err != nil {
			return nil, err
		}

		aceKeys := make([]string, len(principals))
		for i, p := range principals {
			aceKeys[i] = s.aceKey(objectKey, p)
		}
		values, err := s.client.MGet(ctx, aceKeys...).Result()
		if err != nil {
			return nil, &acl.BackingStoreError{Op: "scan", Err: err}
		}
		for _, v := range values {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			var ace acl.Ace
			if err := json.Unmarshal([]byte(raw), &ace); err != nil {
				return nil, &acl.BackingStoreError{Op: "scan", Err: err}
			}
			if filter.matches(object, ace, objectType) {
				out = append(out, Entry{Object: object, Ace: ace})
			}
		}
	}
	return out, nil
}

func (s *RedisStore) candidateObjects(ctx context.Context, filter Filter) ([]string, error) {
	switch {
	case filter.Object != nil:
		return []string{filter.Object.Key()}, nil
	case len(filter.ObjectIn) > 0:
		keys := make([]string, 0, len(filter.ObjectIn))
		for _, o := range filter.ObjectIn {
			keys = append(keys, o.Key())
		}
		return keys, nil
	case filter.Principal != nil:
		return s.smembers(ctx, s.principalIndexKey(filter.Principal.String()))
	case len(filter.PrincipalIn) > 0:
		indexKeys := make([]string, 0, len(filter.PrincipalIn))
		for _, p := range filter.PrincipalIn {
			indexKeys = append(indexKeys, s.principalIndexKey(p.String()))
		}
		keys, err := s.client.SUnion(ctx, indexKeys...).Result()
		if err != nil {
			return nil, &acl.BackingStoreError{Op: "scan", Err: err}
		}
		return keys, nil
	case filter.ObjectType != "":
		return s.smembers(ctx, s.typeIndexKey(filter.ObjectType))
	default:
		return s.smembers(ctx, s.objectsKey())
	}
}

func (s *RedisStore) candidatePrincipals(ctx context.Context, objectKey string, filter Filter) ([]string, error) {
	if filter.Principal != nil {
		return []string{filter.Principal.String()}, nil
	}
	if len(filter.PrincipalIn) > 0 {
		out := make([]string, 0, len(filter.PrincipalIn))
		for _, p := range filter.PrincipalIn {
			out = append(out, p.String())
		}
		return out, nil
	}
	return s.smembers(ctx, s.objectIndexKey(objectKey))
}

func (s *RedisStore) objectTypeOrUnknown(ctx context.Context, objectKey string) (acl.SecurableObjectType, error) {
	t, err := s.client.Get(ctx, s.typeKey(objectKey)).Result()
	if err == redis.Nil {
		return acl.ObjectTypeUnknown, nil
	}
	if err != nil {
		return acl.ObjectTypeUnknown, &acl.BackingStoreError{Op: "scan", Err: err}
	}
	return acl.SecurableObjectType(t), nil
}

func (s *RedisStore) smembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, &acl.BackingStoreError{Op: "scan", Err: err}
	}
	return members, nil
}

// DeleteObject removes the type registration and every entry on the object.
func (s *RedisStore) DeleteObject(ctx context.Context, object acl.ObjectRef) error {
	objectKey := object.Key()

	principals, err := s.client.SMembers(ctx, s.objectIndexKey(objectKey)).Result()
	if err != nil {
		return &acl.BackingStoreError{Op: "delete object", Err: err}
	}
	oldType, err := s.client.Get(ctx, s.typeKey(objectKey)).Result()
	if err != nil && err != redis.Nil {
		return &acl.BackingStoreError{Op: "delete object", Err: err}
	}

	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range principals {
			pipe.Del(ctx, s.aceKey(objectKey, p))
			pipe.SRem(ctx, s.principalIndexKey(p), objectKey)
		}
		pipe.Del(ctx, s.objectIndexKey(objectKey))
		pipe.Del(ctx, s.typeKey(objectKey))
		if oldType != "" {
			pipe.SRem(ctx, s.typeIndexKey(acl.SecurableObjectType(oldType)), objectKey)
		}
		pipe.SRem(ctx, s.objectsKey(), objectKey)
		return nil
	})
	if err != nil {
		return &acl.BackingStoreError{Op: "delete object", Err: err}
	}
	return nil
}

// DeletePrincipal removes every entry held by the principal.
func (s *RedisStore) DeletePrincipal(ctx context.Context, principal acl.Principal) error {
	principalKey := principal.String()

	objectKeys, err := s.client.SMembers(ctx, s.principalIndexKey(principalKey)).Result()
	if err != nil {
		return &acl.BackingStoreError{Op: "delete principal", Err: err}
	}

	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, objectKey := range objectKeys {
			pipe.Del(ctx, s.aceKey(objectKey, principalKey))
			pipe.SRem(ctx, s.objectIndexKey(objectKey), principalKey)
		}
		pipe.Del(ctx, s.principalIndexKey(principalKey))
		return nil
	})
	if err != nil {
		return &acl.BackingStoreError{Op: "delete principal", Err: err}
	}
	return nil
}

// SetObjectType registers the securable object type for an object.
func (s *RedisStore) SetObjectType(ctx context.Context, object acl.ObjectRef, t acl.SecurableObjectType) error {
	objectKey := object.Key()

	oldType, err := s.client.Get(ctx, s.typeKey(objectKey)).Result()
	if err != nil && err != redis.Nil {
		return &acl.BackingStoreError{Op: "set object type", Err: err}
	}

	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.typeKey(objectKey), string(t), 0)
		if oldType != "" && oldType != string(t) {
			pipe.SRem(ctx, s.typeIndexKey(acl.SecurableObjectType(oldType)), objectKey)
		}
		pipe.SAdd(ctx, s.typeIndexKey(t), objectKey)
		pipe.SAdd(ctx, s.objectsKey(), objectKey)
		return nil
	})
	if err != nil {
		return &acl.BackingStoreError{Op: "set object type", Err: err}
	}
	return nil
}

// ObjectType returns the registered type for an object.
func (s *RedisStore) ObjectType(ctx context.Context, object acl.ObjectRef) (acl.SecurableObjectType, error) {
	t, err := s.client.Get(ctx, s.typeKey(object.Key())).Result()
	if err == redis.Nil {
		return acl.ObjectTypeUnknown, &acl.NotFoundError{Object: object}
	}
	if err != nil {
		return acl.ObjectTypeUnknown, &acl.BackingStoreError{Op: "object type", Err: err}
	}
	return acl.SecurableObjectType(t), nil
}
