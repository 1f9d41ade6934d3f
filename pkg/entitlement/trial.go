package entitlement

import (
	"math"
	"time"

	"github.com/bloomnest/entitlements/pkg/account"
	"github.com/bloomnest/entitlements/pkg/billing"
)

const day = 24 * time.Hour

// TrialEndRule is one source of a trial end timestamp. Rules are tried in
// order and the first that reports ok wins.
type TrialEndRule interface {
	Name() string
	TrialEnd(acct *account.AccountRecord, snap *billing.Snapshot) (end time.Time, ok bool)
}

// Rule names as reported by TrialResolution.Rule.
const (
	RuleBillingTrialEnd  = "billing_trial_end"
	RuleBillingPeriodEnd = "billing_period_end"
	RulePromoGrant       = "promo_grant"
	RuleLocalTrialEnd    = "local_trial_end"
)

// BillingTrialEndRule uses the provider's trial end.
type BillingTrialEndRule struct{}

func (BillingTrialEndRule) Name() string { return RuleBillingTrialEnd }

func (BillingTrialEndRule) TrialEnd(_ *account.AccountRecord, snap *billing.Snapshot) (time.Time, bool) {
	if snap == nil || snap.TrialEnd == nil {
		return time.Time{}, false
	}
	return *snap.TrialEnd, true
}

// BillingPeriodEndRule uses the current period end of a trialing subscription.
type BillingPeriodEndRule struct{}

func (BillingPeriodEndRule) Name() string { return RuleBillingPeriodEnd }

func (BillingPeriodEndRule) TrialEnd(_ *account.AccountRecord, snap *billing.Snapshot) (time.Time, bool) {
	if snap == nil || snap.Status != billing.StatusTrialing || snap.CurrentPeriodEnd == nil {
		return time.Time{}, false
	}
	return *snap.CurrentPeriodEnd, true
}

// PromoGrantRule estimates the end from the account creation date plus the
// granted promo months.
type PromoGrantRule struct{}

func (PromoGrantRule) Name() string { return RulePromoGrant }

func (PromoGrantRule) TrialEnd(acct *account.AccountRecord, _ *billing.Snapshot) (time.Time, bool) {
	if acct.PromoMonthsGranted == nil {
		return time.Time{}, false
	}
	return acct.CreatedAt.AddDate(0, *acct.PromoMonthsGranted, 0), true
}

// LocalTrialEndRule falls back to the locally stored trial end.
type LocalTrialEndRule struct{}

func (LocalTrialEndRule) Name() string { return RuleLocalTrialEnd }

func (LocalTrialEndRule) TrialEnd(acct *account.AccountRecord, _ *billing.Snapshot) (time.Time, bool) {
	if acct.TrialEndsAt == nil {
		return time.Time{}, false
	}
	return *acct.TrialEndsAt, true
}

// DefaultTrialEndRules is the production priority order.
func DefaultTrialEndRules() []TrialEndRule {
	return []TrialEndRule{
		BillingTrialEndRule{},
		BillingPeriodEndRule{},
		PromoGrantRule{},
		LocalTrialEndRule{},
	}
}

// TrialResolution is the outcome of evaluating the rule list.
type TrialResolution struct {
	End      *time.Time
	Rule     string // empty when no rule matched
	DaysLeft int
}

// TrialClock computes remaining trial days from an ordered rule list.
type TrialClock struct {
	rules []TrialEndRule
}

// NewTrialClock builds a clock. Without rules the default order is used.
func NewTrialClock(rules ...TrialEndRule) *TrialClock {
	if len(rules) == 0 {
		rules = DefaultTrialEndRules()
	}
	return &TrialClock{rules: rules}
}

// Resolve returns the trial end and remaining days. Accounts outside the trial
// tier always resolve to zero days with no end.
func (c *TrialClock) Resolve(acct *account.AccountRecord, snap *billing.Snapshot, now time.Time) TrialResolution {
	if acct == nil || acct.LocalStatus != account.TierTrial {
		return TrialResolution{}
	}
	for _, rule := range c.rules {
		end, ok := rule.TrialEnd(acct, snap)
		if !ok {
			continue
		}
		end = end.UTC()
		return TrialResolution{End: &end, Rule: rule.Name(), DaysLeft: DaysUntil(now, end)}
	}
	return TrialResolution{}
}

// DaysLeft returns the whole days remaining in the trial, never negative.
func (c *TrialClock) DaysLeft(acct *account.AccountRecord, snap *billing.Snapshot, now time.Time) int {
	return c.Resolve(acct, snap, now).DaysLeft
}

// DaysUntil rounds the distance to end up to whole days, floored at zero.
func DaysUntil(now, end time.Time) int {
	remaining := end.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(float64(remaining) / float64(day)))
}
