// Package retention purges soft-deleted rows once they outlive the policy
// retention window.
package retention

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/collabridge/rapport-tracker/platform/go/persistence"
	"github.com/collabridge/rapport-tracker/platform/go/policy"
)

// DefaultTick is how often the scheduler checks the clock.
const DefaultTick = time.Minute

// Cleaner hard deletes stale rows; *persistence.BulkManager satisfies it.
type Cleaner interface {
	CleanupOldDeleted(ctx context.Context, table persistence.Table, retentionDays, batchSize int) (int64, error)
}

var _ Cleaner = (*persistence.BulkManager)(nil)

// Scheduler runs a cleanup pass at each configured hour of the policy
// timezone, at most once per hour slot.
type Scheduler struct {
	cleaner Cleaner
	policy  *policy.Holder
	tables  []persistence.Table
	logger  *zap.Logger
	now     func() time.Time
	tick    time.Duration
	lastRun string
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

func WithTick(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// NewScheduler keeps only the soft-deletable tables.
func NewScheduler(cleaner Cleaner, holder *policy.Holder, tables []persistence.Table, opts ...Option) *Scheduler {
	if cleaner == nil || holder == nil {
		panic("retention scheduler requires cleaner and policy holder")
	}

	s := &Scheduler{
		cleaner: cleaner,
		policy:  holder,
		logger:  zap.NewNop(),
		now:     time.Now,
		tick:    DefaultTick,
	}
	for _, t := range tables {
		if t.SoftDelete {
			s.tables = append(s.tables, t)
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks until ctx is done, triggering RunOnce when a scheduled hour starts.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.logger.Info("retention scheduler started", zap.Duration("tick", s.tick))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention scheduler stopped")
			return nil
		case <-ticker.C:
			if !s.due() {
				continue
			}
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("scheduled cleanup failed", zap.Error(err))
			}
		}
	}
}

// due reports whether the current hour slot is scheduled and not yet served.
func (s *Scheduler) due() bool {
	p := s.policy.Current()
	if !p.EnableAutoCleanup {
		return false
	}

	local := s.now().In(p.Location())
	if !slices.Contains(p.CleanupScheduleHours, local.Hour()) {
		return false
	}

	slot := local.Format("2006-01-02T15")
	if slot == s.lastRun {
		return false
	}
	s.lastRun = slot
	return true
}

// RunOnce cleans every table with the current policy and returns the rows
// removed per entity. A failing table does not stop the others.
func (s *Scheduler) RunOnce(ctx context.Context) (map[string]int64, error) {
	settings := s.policy.Current().CleanupSettings()
	removed := make(map[string]int64, len(s.tables))

	var errs []error
	for _, table := range s.tables {
		n, err := s.cleaner.CleanupOldDeleted(ctx, table, settings.RetentionDays, settings.BatchSize)
		removed[table.Entity] = n
		if err != nil {
			errs = append(errs, fmt.Errorf("cleanup %s: %w", table.Entity, err))
		}
	}

	s.logger.Info("retention cleanup finished",
		zap.Int("retention_days", settings.RetentionDays),
		zap.Any("removed", removed),
		zap.Int("failures", len(errs)),
	)
	return removed, errors.Join(errs...)
}
