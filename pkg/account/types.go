package account

import (
	"errors"
	"fmt"
	"time"
)

// Tier is the subscription level governing feature access.
type Tier string

const (
	TierFree              Tier = "free"
	TierTrial             Tier = "trial"
	TierActive            Tier = "active"
	TierPastDue           Tier = "past_due"
	TierLifetimeAdmin     Tier = "lifetime_admin"
	TierInfluencerPremium Tier = "influencer_premium"
)

// Tiers lists every defined tier. Order is stable and used for table validation.
var Tiers = []Tier{
	TierFree,
	TierTrial,
	TierActive,
	TierPastDue,
	TierLifetimeAdmin,
	TierInfluencerPremium,
}

// Valid reports whether t is one of the six defined tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierTrial, TierActive, TierPastDue, TierLifetimeAdmin, TierInfluencerPremium:
		return true
	default:
		return false
	}
}

func (t Tier) String() string {
	return string(t)
}

// ParseTier converts a stored value into a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTier, s)
	}
	return t, nil
}

// Plan is the billing plan an account selected.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanMonthly Plan = "monthly"
	PlanAnnual  Plan = "annual"
)

func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanMonthly, PlanAnnual:
		return true
	default:
		return false
	}
}

func (p Plan) String() string {
	return string(p)
}

// ParsePlan converts a stored value into a Plan.
func ParsePlan(s string) (Plan, error) {
	p := Plan(s)
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPlan, s)
	}
	return p, nil
}

// AccountRecord is the locally cached subscription state of one user.
type AccountRecord struct {
	UserID             string
	LocalStatus        Tier
	Plan               Plan
	TrialEndsAt        *time.Time // set iff LocalStatus == TierTrial
	PromoCodeUsed      *string
	PromoMonthsGranted *int
	BillingCustomerRef *string // opaque provider customer id
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Version            int64
}

// New returns a fresh free-tier record for a user created at createdAt.
func New(userID string, createdAt time.Time) *AccountRecord {
	createdAt = createdAt.UTC()
	return &AccountRecord{
		UserID:      userID,
		LocalStatus: TierFree,
		Plan:        PlanFree,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
		Version:     1,
	}
}

func (a *AccountRecord) IsTrial() bool {
	return a.LocalStatus == TierTrial
}

// HasBillingCustomer reports whether the account is linked to a billing provider customer.
func (a *AccountRecord) HasBillingCustomer() bool {
	return a.BillingCustomerRef != nil && *a.BillingCustomerRef != ""
}

// Validate checks the record against the data model invariants.
func (a *AccountRecord) Validate() error {
	if a.UserID == "" {
		return errors.Join(ErrInvalidAccount, ErrMissingUserID)
	}
	if !a.LocalStatus.Valid() {
		return errors.Join(ErrInvalidAccount, fmt.Errorf("%w: %q", ErrInvalidTier, a.LocalStatus))
	}
	if !a.Plan.Valid() {
		return errors.Join(ErrInvalidAccount, fmt.Errorf("%w: %q", ErrInvalidPlan, a.Plan))
	}
	if a.IsTrial() && a.TrialEndsAt == nil {
		return errors.Join(ErrInvalidAccount, errors.New("trial account must have a trial end"))
	}
	if !a.IsTrial() && a.TrialEndsAt != nil {
		return errors.Join(ErrInvalidAccount, fmt.Errorf("trial end set on %s account", a.LocalStatus))
	}
	if a.PromoMonthsGranted != nil && *a.PromoMonthsGranted < 0 {
		return errors.Join(ErrInvalidAccount, errors.New("promo months granted cannot be negative"))
	}
	return nil
}

// Clone returns a deep copy so callers cannot mutate store-owned state through pointers.
func (a *AccountRecord) Clone() *AccountRecord {
	if a == nil {
		return nil
	}
	cp := *a
	cp.TrialEndsAt = cloneTime(a.TrialEndsAt)
	cp.PromoCodeUsed = cloneString(a.PromoCodeUsed)
	cp.PromoMonthsGranted = cloneInt(a.PromoMonthsGranted)
	cp.BillingCustomerRef = cloneString(a.BillingCustomerRef)
	return &cp
}

// Patch describes a partial update. Nil fields are left untouched.
type Patch struct {
	LocalStatus        *Tier
	Plan               *Plan
	TrialEndsAt        *time.Time
	PromoCodeUsed      *string
	PromoMonthsGranted *int
	BillingCustomerRef *string
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.LocalStatus == nil &&
		p.Plan == nil &&
		p.TrialEndsAt == nil &&
		p.PromoCodeUsed == nil &&
		p.PromoMonthsGranted == nil &&
		p.BillingCustomerRef == nil
}

// ApplyPatch returns a copy of rec with p applied and the trial invariant maintained.
// Leaving trial clears TrialEndsAt; a trial end on a non-trial record is rejected.
// Version and UpdatedAt are left for the store to manage.
func ApplyPatch(rec *AccountRecord, p Patch) (*AccountRecord, error) {
	next := rec.Clone()

	if p.LocalStatus != nil {
		next.LocalStatus = *p.LocalStatus
		if next.LocalStatus != TierTrial {
			next.TrialEndsAt = nil
		}
	}
	if p.Plan != nil {
		next.Plan = *p.Plan
	}
	if p.TrialEndsAt != nil {
		next.TrialEndsAt = cloneTime(p.TrialEndsAt)
	}
	if p.PromoCodeUsed != nil {
		next.PromoCodeUsed = cloneString(p.PromoCodeUsed)
	}
	if p.PromoMonthsGranted != nil {
		next.PromoMonthsGranted = cloneInt(p.PromoMonthsGranted)
	}
	if p.BillingCustomerRef != nil {
		next.BillingCustomerRef = cloneString(p.BillingCustomerRef)
	}

	if err := next.Validate(); err != nil {
		return nil, err
	}
	return next, nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
