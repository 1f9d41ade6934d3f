package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bloomnest/entitlements/pkg/account"
	"github.com/bloomnest/entitlements/pkg/billing"
	"github.com/bloomnest/entitlements/pkg/promo"
)

const defaultAccountRetries = 3

// patchFunc computes the patch for the current record. ok=false means nothing to write.
type patchFunc func(rec *account.AccountRecord) (p account.Patch, ok bool, err error)

// updateWithRetry runs a read-patch-write cycle guarded by the record version,
// re-reading after each conflict up to retries times.
func updateWithRetry(ctx context.Context, store account.Store, userID string, retries int, fn patchFunc) (*account.AccountRecord, error) {
	if retries <= 0 {
		retries = defaultAccountRetries
	}
	for range retries {
		rec, err := store.Get(ctx, userID)
		if err != nil {
			if errors.Is(err, account.ErrAccountNotFound) {
				return nil, errors.Join(ErrNotFound, err)
			}
			return nil, fmt.Errorf("load account: %w", err)
		}

		patch, ok, err := fn(rec)
		if err != nil {
			return nil, err
		}
		if !ok || patch.IsEmpty() {
			return rec, nil
		}

		updated, err := store.Update(ctx, userID, rec.Version, patch)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, account.ErrVersionConflict) {
			return nil, fmt.Errorf("update account: %w", err)
		}
	}
	return nil, errors.Join(ErrConflict, ErrTooManyConflicts, account.ErrVersionConflict)
}

// billingPatch rewrites the billing-owned fields of rec to match snap.
// Override and local-only tiers are never touched.
func billingPatch(rec *account.AccountRecord, snap *billing.Snapshot, now time.Time) (account.Patch, bool, error) {
	var p account.Patch
	if rec.LocalStatus == account.TierLifetimeAdmin || rec.LocalStatus == account.TierInfluencerPremium {
		return p, false, nil
	}

	expected, err := ExpectedLocalStatus(snap.Status)
	if err != nil {
		return p, false, err
	}

	changed := false
	if rec.LocalStatus != expected {
		p.LocalStatus = &expected
		changed = true
	}

	if expected == account.TierTrial {
		end := snapshotTrialEnd(snap)
		if end == nil && rec.TrialEndsAt == nil {
			fallback := now.UTC().AddDate(0, 0, promo.BaseTrialDays)
			end = &fallback
		}
		if end != nil && (rec.TrialEndsAt == nil || !rec.TrialEndsAt.Equal(*end)) {
			p.TrialEndsAt = end
			changed = true
		}
	}

	var plan account.Plan
	switch {
	case expected == account.TierFree:
		plan = account.PlanFree
	case snap.Plan == account.PlanMonthly || snap.Plan == account.PlanAnnual:
		plan = snap.Plan
	}
	if plan != "" && plan != rec.Plan {
		p.Plan = &plan
		changed = true
	}

	return p, changed, nil
}

func snapshotTrialEnd(snap *billing.Snapshot) *time.Time {
	var end time.Time
	if e, ok := (BillingTrialEndRule{}).TrialEnd(nil, snap); ok {
		end = e
	} else if e, ok := (BillingPeriodEndRule{}).TrialEnd(nil, snap); ok {
		end = e
	} else {
		return nil
	}
	end = end.UTC()
	return &end
}
