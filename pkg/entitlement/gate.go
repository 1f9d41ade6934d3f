package entitlement

import (
	"github.com/bloomnest/entitlements/pkg/account"
)

// Gate authorizes feature writes against a LimitsTable.
type Gate struct {
	limits *LimitsTable
}

// NewGate builds a gate. A nil table uses DefaultLimitsTable.
func NewGate(limits *LimitsTable) *Gate {
	if limits == nil {
		limits = DefaultLimitsTable()
	}
	return &Gate{limits: limits}
}

// Limits exposes the table the gate enforces.
func (g *Gate) Limits() *LimitsTable {
	return g.limits
}

// CheckAccess decides whether one more item of feature may be written given
// currentCount existing items. Unknown tiers and features are denied with an error.
//
// Unlimited always allows. Gated denies without vaulting: the feature is locked
// as a whole. A positive limit allows while currentCount < limit; otherwise the
// existing items are vaulted, readable but frozen.
func (g *Gate) CheckAccess(tier account.Tier, feature Feature, currentCount int64) (Access, error) {
	access := Access{Tier: tier, Feature: feature}

	limit, err := g.limits.Limit(tier, feature)
	if err != nil {
		return access, err
	}
	access.Limit = limit

	if currentCount < 0 {
		currentCount = 0
	}

	switch {
	case limit == Unlimited:
		access.Allowed = true
	case limit == Gated:
		access.Allowed = false
	default:
		access.Allowed = currentCount < limit
		if !access.Allowed {
			access.Vaulted = true
			access.Excess = max(0, currentCount-limit)
		}
	}
	return access, nil
}
