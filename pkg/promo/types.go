package promo

import (
	"time"

	"github.com/bloomnest/entitlements/pkg/account"
)

const (
	// BaseTrialDays is the trial length every account gets without a promo.
	BaseTrialDays = 14
	// DaysPerFreeMonth converts promo months into trial days.
	DaysPerFreeMonth = 30
	// MaxFreeMonths caps what a single code may grant.
	MaxFreeMonths = 24
)

// TotalFreeDays returns the trial days granted by a code worth freeMonths.
func TotalFreeDays(freeMonths int) int {
	if freeMonths < 0 {
		freeMonths = 0
	}
	return BaseTrialDays + freeMonths*DaysPerFreeMonth
}

// Code is an influencer promo code. Codes are never deleted;
// OwnerInfluencerID goes from nil to set exactly once.
type Code struct {
	Code              string
	OwnerInfluencerID *string
	FreeMonths        int
	Tier              account.Tier // tier granted to the owner on claim
	Active            bool
	CreatedAt         time.Time
	ClaimedAt         *time.Time
}

func (c *Code) IsClaimed() bool {
	return c.OwnerInfluencerID != nil
}

// OwnedBy reports whether claimantID owns the code.
func (c *Code) OwnedBy(claimantID string) bool {
	return c.OwnerInfluencerID != nil && *c.OwnerInfluencerID == claimantID
}

func (c *Code) Clone() *Code {
	if c == nil {
		return nil
	}
	cp := *c
	if c.OwnerInfluencerID != nil {
		owner := *c.OwnerInfluencerID
		cp.OwnerInfluencerID = &owner
	}
	if c.ClaimedAt != nil {
		at := *c.ClaimedAt
		cp.ClaimedAt = &at
	}
	return &cp
}

// ActivationStatus is the lifecycle state of a promo activation.
type ActivationStatus string

const (
	ActivationPending ActivationStatus = "pending" // applied to the account, trial not started
	ActivationActive  ActivationStatus = "active"  // trial running on the grant
	ActivationApplied ActivationStatus = "applied" // billing honoured the discount
)

func (s ActivationStatus) Valid() bool {
	switch s {
	case ActivationPending, ActivationActive, ActivationApplied:
		return true
	default:
		return false
	}
}

// activationTransitions lists the allowed forward moves. Statuses never go back.
var activationTransitions = map[ActivationStatus][]ActivationStatus{
	ActivationPending: {ActivationActive, ActivationApplied},
	ActivationActive:  {ActivationApplied},
	ActivationApplied: nil,
}

// CanTransitionTo reports whether s may move to next.
func (s ActivationStatus) CanTransitionTo(next ActivationStatus) bool {
	for _, allowed := range activationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Activation records that a user applied a code. Unique per (UserID, Code).
type Activation struct {
	UserID     string
	Code       string
	Status     ActivationStatus
	FreeMonths int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (a *Activation) Clone() *Activation {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}

// TotalFreeDays returns the trial days this activation grants.
func (a *Activation) TotalFreeDays() int {
	return TotalFreeDays(a.FreeMonths)
}

// ApplyResult is returned by Ledger.Apply.
type ApplyResult struct {
	Activation    *Activation
	TotalFreeDays int
	// Created is false when the activation already existed.
	Created bool
}
