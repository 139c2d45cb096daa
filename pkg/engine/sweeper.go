package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeeper/pkg/acl"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/store"
)

// Sweeper tombstones expired access entries on a cron schedule. It is an
// optional hygiene process: evaluation-time expiration filtering is the
// correctness contract, the sweeper only reclaims listing and scan space.
//
// Expiry is not a caller revoke, so the owner invariant does not apply to
// swept entries.
type Sweeper struct {
	perms   store.PermissionStore
	cron    *cron.Cron
	entryID cron.EntryID
	log     *logrus.Logger
	metrics *observability.Metrics
}

// NewSweeper creates a sweeper running on the given cron schedule
// (e.g. "@every 10m").
func NewSweeper(perms store.PermissionStore, schedule string, log *logrus.Logger, metrics *observability.Metrics) (*Sweeper, error) {
	if log == nil {
		log = logrus.New()
	}
	if metrics == nil {
		metrics = observability.NopMetrics()
	}
	s := &Sweeper{
		perms:   perms,
		cron:    cron.New(),
		log:     log,
		metrics: metrics,
	}

	entryID, err := s.cron.AddFunc(schedule, func() {
		removed, err := s.RunOnce(context.Background())
		if err != nil {
			s.log.WithError(err).Warn("expiration sweep failed")
			return
		}
		if removed > 0 {
			s.log.WithField("removed", removed).Info("expiration sweep cleared entries")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sweeper schedule %q: %w", schedule, err)
	}
	s.entryID = entryID
	return s, nil
}

// Start begins scheduled sweeping.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce scans for expired entries and tombstones them, returning the
// number cleared. Entries that expire or change between the scan and the
// mutate are re-checked inside the mutation and left alone.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	s.metrics.SweeperRunsTotal.Inc()

	entries, err := s.perms.Scan(ctx, store.Filter{})
	if err != nil {
		return 0, err
	}

	now := time.Now()
	removed := 0
	for _, entry := range entries {
		if entry.Ace.Tombstone() || !entry.Ace.Expired(now) {
			continue
		}
		_, err := s.perms.Mutate(ctx, entry.Object, entry.Ace.Principal, func(old *acl.Ace) (*acl.Ace, error) {
			if old == nil {
				return nil, errEntryAbsent
			}
			if !old.Expired(now) {
				// Re-granted since the scan.
				return nil, errEntryAbsent
			}
			updated := old.Clone()
			updated.Permissions = acl.NewPermissionSet()
			updated.ExpiresAt = nil
			return &updated, nil
		})
		if err != nil {
			if errors.Is(err, errEntryAbsent) {
				continue
			}
			return removed, err
		}
		removed++
		s.metrics.SweeperRemovedTotal.Inc()
	}
	return removed, nil
}
