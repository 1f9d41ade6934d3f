package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bloomnest/entitlements/pkg/account"
	"github.com/bloomnest/entitlements/pkg/billing"
	"github.com/bloomnest/entitlements/pkg/logger"
)

const (
	defaultSweepInterval    = time.Hour
	defaultSweepBatchSize   = 200
	defaultSweepConcurrency = 8
)

// SnapshotReader reads cached billing snapshots without calling the provider.
type SnapshotReader interface {
	Cached(ctx context.Context, customerRef string) (*billing.Snapshot, error)
}

// SweepResult summarizes one sweep run.
type SweepResult struct {
	Scanned   int64
	Demoted   int64
	Skipped   int64
	Conflicts int64
	Failed    int64
}

// Sweeper demotes expired trials to free. Every write is conditional on the
// version read, so overlapping sweeps across instances are safe.
type Sweeper struct {
	accounts       account.Store
	snapshots      SnapshotReader
	clock          *TrialClock
	maxSnapshotAge time.Duration
	interval       time.Duration
	batchSize      int
	concurrency    int
	logger         *slog.Logger
	metrics        *Metrics
	now            func() time.Time
}

type SweeperOption func(*Sweeper)

// WithSweepSnapshots lets the sweep consult cached billing snapshots.
func WithSweepSnapshots(r SnapshotReader) SweeperOption {
	return func(s *Sweeper) {
		s.snapshots = r
	}
}

func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithSweepBatchSize(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithSweepConcurrency(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithSweepLogger(l *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithSweepMetrics(m *Metrics) SweeperOption {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

func WithSweepClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

func WithSweepMaxSnapshotAge(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.maxSnapshotAge = d
		}
	}
}

func NewSweeper(accounts account.Store, clock *TrialClock, opts ...SweeperOption) *Sweeper {
	if clock == nil {
		clock = NewTrialClock()
	}
	s := &Sweeper{
		accounts:       accounts,
		clock:          clock,
		maxSnapshotAge: DefaultMaxSnapshotAge,
		interval:       defaultSweepInterval,
		batchSize:      defaultSweepBatchSize,
		concurrency:    defaultSweepConcurrency,
		logger:         logger.Discard(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs RunOnce immediately and then on every interval until ctx ends.
func (s *Sweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("trial sweeper shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Sweeper) runLogged(ctx context.Context) {
	start := s.now()
	res, err := s.RunOnce(ctx, start)
	if err != nil {
		s.logger.ErrorContext(ctx, "trial sweep failed", logger.Error(err))
		return
	}
	s.logger.InfoContext(ctx, "trial sweep finished",
		slog.Int64("scanned", res.Scanned),
		slog.Int64("demoted", res.Demoted),
		slog.Int64("skipped", res.Skipped),
		slog.Int64("conflicts", res.Conflicts),
		slog.Int64("failed", res.Failed),
		logger.Duration(s.now().Sub(start)),
	)
}

// RunOnce pages through all trial accounts and demotes those with no days left.
// Per-account failures are counted, not returned; only listing errors abort the run.
func (s *Sweeper) RunOnce(ctx context.Context, now time.Time) (SweepResult, error) {
	var scanned, demoted, skipped, conflicts, failed atomic.Int64

	after := ""
	for {
		page, err := s.accounts.ListByStatus(ctx, account.TierTrial, after, s.batchSize)
		if err != nil {
			return SweepResult{}, fmt.Errorf("list trial accounts: %w", err)
		}
		if len(page) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.concurrency)
		for _, acct := range page {
			g.Go(func() error {
				scanned.Add(1)
				switch outcome, err := s.sweepOne(gctx, acct, now); {
				case err != nil:
					failed.Add(1)
					s.logger.WarnContext(gctx, "trial demotion failed", logger.UserID(acct.UserID), logger.Error(err))
				case outcome == sweepDemoted:
					demoted.Add(1)
				case outcome == sweepConflict:
					conflicts.Add(1)
				default:
					skipped.Add(1)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return SweepResult{}, err
		}
		if err := ctx.Err(); err != nil {
			return SweepResult{}, err
		}

		after = page[len(page)-1].UserID
		if len(page) < s.batchSize {
			break
		}
	}

	return SweepResult{
		Scanned:   scanned.Load(),
		Demoted:   demoted.Load(),
		Skipped:   skipped.Load(),
		Conflicts: conflicts.Load(),
		Failed:    failed.Load(),
	}, nil
}

type sweepOutcome int

const (
	sweepSkipped sweepOutcome = iota
	sweepDemoted
	sweepConflict
)

func (s *Sweeper) sweepOne(ctx context.Context, acct *account.AccountRecord, now time.Time) (sweepOutcome, error) {
	snap := s.freshSnapshot(ctx, acct, now)
	if snap != nil {
		switch snap.Status {
		case billing.StatusTrialing, billing.StatusActive, billing.StatusPastDue:
			// Billing still grants access; the reconciler owns the status.
			return sweepSkipped, nil
		}
	}

	if s.clock.DaysLeft(acct, snap, now) > 0 {
		return sweepSkipped, nil
	}

	free := account.TierFree
	_, err := s.accounts.Update(ctx, acct.UserID, acct.Version, account.Patch{LocalStatus: &free})
	switch {
	case err == nil:
		s.metrics.demoted()
		s.logger.InfoContext(ctx, "expired trial demoted", logger.UserID(acct.UserID))
		return sweepDemoted, nil
	case errors.Is(err, account.ErrVersionConflict):
		return sweepConflict, nil
	default:
		return sweepSkipped, err
	}
}

func (s *Sweeper) freshSnapshot(ctx context.Context, acct *account.AccountRecord, now time.Time) *billing.Snapshot {
	if s.snapshots == nil || !acct.HasBillingCustomer() {
		return nil
	}
	snap, err := s.snapshots.Cached(ctx, *acct.BillingCustomerRef)
	if err != nil || !snap.Fresh(now, s.maxSnapshotAge) {
		return nil
	}
	return snap
}
