package entitlement

import (
	"fmt"
	"time"

	"github.com/bloomnest/entitlements/pkg/account"
	"github.com/bloomnest/entitlements/pkg/billing"
)

// DefaultMaxSnapshotAge is how old a billing snapshot may be and still decide the tier.
const DefaultMaxSnapshotAge = 15 * time.Minute

// TierForStatus maps a billing status to the tier it grants. past_due keeps
// access during the dunning grace period.
func TierForStatus(s billing.Status) (account.Tier, error) {
	switch s {
	case billing.StatusTrialing:
		return account.TierTrial, nil
	case billing.StatusActive, billing.StatusPastDue:
		return account.TierActive, nil
	case billing.StatusCanceled,
		billing.StatusIncomplete,
		billing.StatusIncompleteExpired,
		billing.StatusUnpaid,
		billing.StatusPaused:
		return account.TierFree, nil
	default:
		return "", fmt.Errorf("%w: %q", billing.ErrUnknownStatus, s)
	}
}

// ExpectedLocalStatus is the value the cached local status should hold for a
// billing status. Unlike TierForStatus it keeps past_due visible.
func ExpectedLocalStatus(s billing.Status) (account.Tier, error) {
	if s == billing.StatusPastDue {
		return account.TierPastDue, nil
	}
	return TierForStatus(s)
}

// ResolveOptions tunes Resolve.
type ResolveOptions struct {
	MaxSnapshotAge     time.Duration
	Clock              *TrialClock
	BillingUnavailable bool
}

// Resolve merges the account record and an optional billing snapshot into one
// Decision. It is a pure function of its inputs.
//
// lifetime_admin is absolute and influencer_premium is local-only; neither is
// compared with billing. Otherwise a fresh snapshot decides the tier and the
// local status is the fallback.
func Resolve(acct *account.AccountRecord, snap *billing.Snapshot, now time.Time, opts ResolveOptions) Decision {
	if opts.MaxSnapshotAge <= 0 {
		opts.MaxSnapshotAge = DefaultMaxSnapshotAge
	}
	if opts.Clock == nil {
		opts.Clock = NewTrialClock()
	}

	d := Decision{
		UserID:             acct.UserID,
		ResolvedAt:         now.UTC(),
		BillingUnavailable: opts.BillingUnavailable,
	}
	if snap != nil {
		d.BillingStatus = snap.Status
	}

	switch acct.LocalStatus {
	case account.TierLifetimeAdmin:
		d.EffectiveTier = account.TierLifetimeAdmin
		d.Source = SourceOverride
		return d
	case account.TierInfluencerPremium:
		d.EffectiveTier = account.TierInfluencerPremium
		d.Source = SourceLocal
		return d
	}

	view := acct
	if snap.Fresh(now, opts.MaxSnapshotAge) {
		tier, tierErr := TierForStatus(snap.Status)
		expected, expErr := ExpectedLocalStatus(snap.Status)
		if tierErr == nil && expErr == nil {
			d.EffectiveTier = tier
			d.Source = SourceBilling
			d.DriftDetected = acct.LocalStatus != expected
			if tier == account.TierTrial && !acct.IsTrial() {
				// Billing says trialing while the local cache lags: measure
				// the trial as billing sees it.
				view = acct.Clone()
				view.LocalStatus = account.TierTrial
			}
		} else {
			snap = nil
		}
	} else {
		snap = nil
	}

	if d.Source == "" {
		d.EffectiveTier = acct.LocalStatus
		d.Source = SourceLocal
	}

	if d.EffectiveTier == account.TierTrial {
		res := opts.Clock.Resolve(view, snap, now)
		d.DaysLeftInTrial = res.DaysLeft
		d.TrialEndsAt = res.End
		if d.Source == SourceLocal && res.Rule == RulePromoGrant {
			d.Source = SourcePromo
		}
	}

	return d
}
