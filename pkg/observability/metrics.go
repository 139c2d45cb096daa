package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Authorization decision metrics
	AuthzDecisionsTotal *prometheus.CounterVec
	AuthzDuration       *prometheus.HistogramVec

	// Mutation metrics
	MutationsTotal            *prometheus.CounterVec
	ConstraintViolationsTotal *prometheus.CounterVec

	// Store metrics
	StoreOperationsTotal     *prometheus.CounterVec
	StoreOperationDuration   *prometheus.HistogramVec
	StoreErrorsTotal         *prometheus.CounterVec

	// Object type cache metrics
	TypeCacheHitsTotal   prometheus.Counter
	TypeCacheMissesTotal prometheus.Counter

	// Hierarchy metrics
	HierarchyTraversalDuration *prometheus.HistogramVec

	// Diff metrics
	DiffDuration      prometheus.Histogram
	DiffUsersAffected prometheus.Histogram

	// Notification metrics
	NotificationsTotal *prometheus.CounterVec

	// Sweeper metrics
	SweeperRunsTotal    prometheus.Counter
	SweeperRemovedTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_authz_decisions_total",
				Help: "Total number of authorization decisions",
			},
			[]string{"operation", "decision"},
		),
		AuthzDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_authz_duration_seconds",
				Help:    "Authorization operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_mutations_total",
				Help: "Total number of permission mutations",
			},
			[]string{"operation", "status"},
		),
		ConstraintViolationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_constraint_violations_total",
				Help: "Total number of rejected constraint-violating mutations",
			},
			[]string{"operation"},
		),

		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_store_operations_total",
				Help: "Total number of permission store operations",
			},
			[]string{"operation", "backend", "status"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_store_operation_duration_seconds",
				Help:    "Permission store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "backend"},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_store_errors_total",
				Help: "Total number of permission store errors",
			},
			[]string{"operation", "backend"},
		),

		TypeCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_type_cache_hits_total",
				Help: "Total number of object type cache hits",
			},
		),
		TypeCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_type_cache_misses_total",
				Help: "Total number of object type cache misses",
			},
		),

		HierarchyTraversalDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_hierarchy_traversal_duration_seconds",
				Help:    "Hierarchy traversal duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		DiffDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_diff_duration_seconds",
				Help:    "Permission diff computation duration in seconds",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30},
			},
		),
		DiffUsersAffected: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_diff_users_affected",
				Help:    "Number of users affected per diff computation",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),

		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_notifications_total",
				Help: "Total number of materialization change notifications",
			},
			[]string{"status"},
		),

		SweeperRunsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_sweeper_runs_total",
				Help: "Total number of expiration sweeper runs",
			},
		),
		SweeperRemovedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_sweeper_removed_total",
				Help: "Total number of expired entries cleared by the sweeper",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.AuthzDecisionsTotal,
		m.AuthzDuration,
		m.MutationsTotal,
		m.ConstraintViolationsTotal,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.StoreErrorsTotal,
		m.TypeCacheHitsTotal,
		m.TypeCacheMissesTotal,
		m.HierarchyTraversalDuration,
		m.DiffDuration,
		m.DiffUsersAffected,
		m.NotificationsTotal,
		m.SweeperRunsTotal,
		m.SweeperRemovedTotal,
	)

	return m
}

// NopMetrics creates metrics backed by a throwaway registry. Intended for
// tests and for embedded use without a metrics endpoint.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
