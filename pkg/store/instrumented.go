package store

import (
	"context"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/acl"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// InstrumentedStore decorates a PermissionStore with per-operation counters,
// latency histograms, and error counts, labeled by backend. Composition
// roots wrap the concrete store with it before handing it to the engine.
type InstrumentedStore struct {
	inner   PermissionStore
	backend string
	metrics *observability.Metrics
}

// NewInstrumentedStore wraps inner, recording under the backend label
// (e.g. "memory", "redis").
func NewInstrumentedStore(inner PermissionStore, backend string, metrics *observability.Metrics) *InstrumentedStore {
	if metrics == nil {
		metrics = observability.NopMetrics()
	}
	return &InstrumentedStore{inner: inner, backend: backend, metrics: metrics}
}

func (s *InstrumentedStore) record(op string, start time.Time, err error) {
	s.metrics.StoreOperationDuration.WithLabelValues(op, s.backend).Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
		s.metrics.StoreErrorsTotal.WithLabelValues(op, s.backend).Inc()
	}
	s.metrics.StoreOperationsTotal.WithLabelValues(op, s.backend, status).Inc()
}

func (s *InstrumentedStore) Mutate(ctx context.Context, object acl.ObjectRef, principal acl.Principal, fn MutateFunc) (acl.Ace, error) {
	start := time.Now()
	ace, err := s.inner.Mutate(ctx, object, principal, fn)
	s.record("mutate", start, err)
	return ace, err
}

func (s *InstrumentedStore) Get(ctx context.Context, object acl.ObjectRef, principal acl.Principal) (acl.Ace, error) {
	start := time.Now()
	ace, err := s.inner.Get(ctx, object, principal)
	s.record("get", start, err)
	return ace, err
}

func (s *InstrumentedStore) GetAll(ctx context.Context, keys []Key) ([]Entry, error) {
	start := time.Now()
	entries, err := s.inner.GetAll(ctx, keys)
	s.record("get_all", start, err)
	return entries, err
}

func (s *InstrumentedStore) Scan(ctx context.Context, filter Filter) ([]Entry, error) {
	start := time.Now()
	entries, err := s.inner.Scan(ctx, filter)
	s.record("scan", start, err)
	return entries, err
}

func (s *InstrumentedStore) DeleteObject(ctx context.Context, object acl.ObjectRef) error {
	start := time.Now()
	err := s.inner.DeleteObject(ctx, object)
	s.record("delete_object", start, err)
	return err
}

func (s *InstrumentedStore) DeletePrincipal(ctx context.Context, principal acl.Principal) error {
	start := time.Now()
	err := s.inner.DeletePrincipal(ctx, principal)
	s.record("delete_principal", start, err)
	return err
}

func (s *InstrumentedStore) SetObjectType(ctx context.Context, object acl.ObjectRef, t acl.SecurableObjectType) error {
	start := time.Now()
	err := s.inner.SetObjectType(ctx, object, t)
	s.record("set_object_type", start, err)
	return err
}

func (s *InstrumentedStore) ObjectType(ctx context.Context, object acl.ObjectRef) (acl.SecurableObjectType, error) {
	start := time.Now()
	t, err := s.inner.ObjectType(ctx, object)
	s.record("object_type", start, err)
	return t, err
}
