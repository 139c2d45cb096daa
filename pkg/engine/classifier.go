package engine

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/platinummonkey/gatekeeper/pkg/acl"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// TypeClassifier resolves the securable object type of an object.
// Unregistered objects resolve to ObjectTypeUnknown.
type TypeClassifier interface {
	Lookup(ctx context.Context, object acl.ObjectRef) (acl.SecurableObjectType, error)
}

// typeSource is the piece of the permission store the classifier reads.
type typeSource interface {
	ObjectType(ctx context.Context, object acl.ObjectRef) (acl.SecurableObjectType, error)
}

// CachedClassifier caches type lookups in an LRU in front of the permission
// store's type registry. Only registered types are cached; unknown objects
// hit the store every time so late registrations are picked up.
type CachedClassifier struct {
	source  typeSource
	cache   *lru.Cache[string, acl.SecurableObjectType]
	metrics *observability.Metrics
}

// NewCachedClassifier creates a classifier with an LRU of the given size.
func NewCachedClassifier(source typeSource, size int, metrics *observability.Metrics) (*CachedClassifier, error) {
	cache, err := lru.New[string, acl.SecurableObjectType](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create type cache: %w", err)
	}
	if metrics == nil {
		metrics = observability.NopMetrics()
	}
	return &CachedClassifier{
		source:  source,
		cache:   cache,
		metrics: metrics,
	}, nil
}

// Lookup resolves the object's type, consulting the cache first.
func (c *CachedClassifier) Lookup(ctx context.Context, object acl.ObjectRef) (acl.SecurableObjectType, error) {
	key := object.Key()
	if t, ok := c.cache.Get(key); ok {
		c.metrics.TypeCacheHitsTotal.Inc()
		return t, nil
	}
	c.metrics.TypeCacheMissesTotal.Inc()

	t, err := c.source.ObjectType(ctx, object)
	if err != nil {
		if errors.Is(err, acl.ErrNotFound) {
			return acl.ObjectTypeUnknown, nil
		}
		return acl.ObjectTypeUnknown, err
	}
	c.cache.Add(key, t)
	return t, nil
}

// Invalidate drops the cached type for an object.
func (c *CachedClassifier) Invalidate(object acl.ObjectRef) {
	c.cache.Remove(object.Key())
}
