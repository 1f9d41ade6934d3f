package entitlement

import (
	"time"

	"github.com/bloomnest/entitlements/pkg/account"
	"github.com/bloomnest/entitlements/pkg/billing"
)

// Source names which input decided the effective tier.
type Source string

const (
	SourceBilling  Source = "billing"
	SourceLocal    Source = "local"
	SourcePromo    Source = "promo"
	SourceOverride Source = "override"
)

// Decision is the resolved entitlement state of one account at one moment.
// It is derived on every request and never stored.
type Decision struct {
	UserID          string
	EffectiveTier   account.Tier
	DaysLeftInTrial int
	TrialEndsAt     *time.Time
	Source          Source
	// DriftDetected is advisory; it never changes EffectiveTier.
	DriftDetected bool
	// BillingUnavailable means the provider could not be read, so drift is unknown.
	BillingUnavailable bool
	BillingStatus      billing.Status
	ResolvedAt         time.Time
}

// Access is the FeatureGate verdict for one write request.
type Access struct {
	Tier    account.Tier
	Feature Feature
	Allowed bool
	Limit   int64
	// Vaulted marks a count-limited denial: existing items stay readable,
	// only new writes are blocked.
	Vaulted bool
	// Excess is how many existing items are beyond the limit.
	Excess int64
}

// DriftReport records that the cached local status disagrees with billing.
type DriftReport struct {
	UserID         string         `json:"user_id"`
	LocalStatus    account.Tier   `json:"local_status"`
	BillingStatus  billing.Status `json:"billing_status"`
	ExpectedStatus account.Tier   `json:"expected_status"`
	DetectedAt     time.Time      `json:"detected_at"`
}

// PromoResult is returned to the user after applying a promo code.
type PromoResult struct {
	Success       bool
	Code          string
	FreeMonths    int
	TotalFreeDays int
	// AlreadyApplied is set when the same code was applied before.
	AlreadyApplied bool
}

// Badge is the display category of a tier.
type Badge string

const (
	BadgeFree       Badge = "free"
	BadgeTrial      Badge = "trial"
	BadgePremium    Badge = "premium"
	BadgePastDue    Badge = "past_due"
	BadgeLifetime   Badge = "lifetime"
	BadgeInfluencer Badge = "influencer"
)

// SubscriptionInfo is the display-oriented view of a Decision.
type SubscriptionInfo struct {
	Decision             Decision
	Badge                Badge
	Label                string
	Plan                 account.Plan
	PromoCode            string
	PaymentMethodSummary string
}
