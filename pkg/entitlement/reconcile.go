package entitlement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bloomnest/entitlements/pkg/account"
	"github.com/bloomnest/entitlements/pkg/billing"
	"github.com/bloomnest/entitlements/pkg/logger"
)

// SnapshotSource reads billing snapshots, cached or fresh.
type SnapshotSource interface {
	SnapshotReader
	Snapshot(ctx context.Context, customerRef string) (*billing.Snapshot, error)
}

// Reconciler drains a DriftQueue and rewrites drifted local statuses to the
// value billing implies.
type Reconciler struct {
	queue          DriftQueue
	accounts       account.Store
	snapshots      SnapshotSource
	maxSnapshotAge time.Duration
	retries        int
	logger         *slog.Logger
	metrics        *Metrics
	now            func() time.Time
}

type ReconcilerOption func(*Reconciler)

func WithReconcileLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithReconcileMetrics(m *Metrics) ReconcilerOption {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

func WithReconcileClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

func WithReconcileMaxSnapshotAge(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.maxSnapshotAge = d
		}
	}
}

func WithReconcileRetries(n int) ReconcilerOption {
	return func(r *Reconciler) {
		if n > 0 {
			r.retries = n
		}
	}
}

func NewReconciler(queue DriftQueue, accounts account.Store, snapshots SnapshotSource, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		queue:          queue,
		accounts:       accounts,
		snapshots:      snapshots,
		maxSnapshotAge: DefaultMaxSnapshotAge,
		retries:        defaultAccountRetries,
		logger:         logger.Discard(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start handles reports until ctx ends. Failed reports are logged and dropped;
// the next request that sees the drift reports it again.
func (r *Reconciler) Start(ctx context.Context) error {
	for {
		report, err := r.queue.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				r.logger.Info("reconciler shutting down")
				return ctx.Err()
			}
			r.logger.ErrorContext(ctx, "failed to read drift queue", logger.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		if _, err := r.Handle(ctx, report); err != nil {
			r.logger.WarnContext(ctx, "drift reconciliation failed",
				logger.UserID(report.UserID),
				logger.Error(err),
			)
		}
	}
}

// Outcomes reported by Handle.
const (
	ReconcileFixed    = "fixed"
	ReconcileResolved = "resolved"
	ReconcileSkipped  = "skipped"
	ReconcileFailed   = "failed"
)

// Handle re-reads the account and billing state for one report and corrects
// the local status if drift persists.
func (r *Reconciler) Handle(ctx context.Context, report *DriftReport) (string, error) {
	outcome, err := r.handle(ctx, report)
	if err != nil {
		outcome = ReconcileFailed
	}
	r.metrics.reconciled(outcome)
	return outcome, err
}

func (r *Reconciler) handle(ctx context.Context, report *DriftReport) (string, error) {
	acct, err := r.accounts.Get(ctx, report.UserID)
	if err != nil {
		if errors.Is(err, account.ErrAccountNotFound) {
			return ReconcileSkipped, nil
		}
		return "", err
	}
	if !acct.HasBillingCustomer() ||
		acct.LocalStatus == account.TierLifetimeAdmin ||
		acct.LocalStatus == account.TierInfluencerPremium {
		return ReconcileSkipped, nil
	}

	snap, err := r.freshSnapshot(ctx, *acct.BillingCustomerRef)
	if err != nil {
		if errors.Is(err, billing.ErrNoSubscription) {
			return ReconcileSkipped, nil
		}
		return "", err
	}

	now := r.now()
	fixed := false
	updated, err := updateWithRetry(ctx, r.accounts, acct.UserID, r.retries, func(rec *account.AccountRecord) (account.Patch, bool, error) {
		p, ok, err := billingPatch(rec, snap, now)
		if err != nil || !ok || p.LocalStatus == nil {
			// Only status drift is this job's concern.
			return account.Patch{}, false, err
		}
		fixed = true
		return p, true, nil
	})
	if err != nil {
		return "", err
	}
	if !fixed {
		return ReconcileResolved, nil
	}

	r.logger.InfoContext(ctx, "local status reconciled with billing",
		logger.UserID(updated.UserID),
		slog.String("from", string(acct.LocalStatus)),
		logger.Tier(updated.LocalStatus),
		logger.BillingStatus(snap.Status),
	)
	return ReconcileFixed, nil
}

func (r *Reconciler) freshSnapshot(ctx context.Context, ref string) (*billing.Snapshot, error) {
	if snap, err := r.snapshots.Cached(ctx, ref); err == nil && snap.Fresh(r.now(), r.maxSnapshotAge) {
		return snap, nil
	}
	return r.snapshots.Snapshot(ctx, ref)
}
