package entitlement

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/bloomnest/entitlements/pkg/account"
)

// Feature is a countable or gated application capability.
type Feature string

const (
	FeatureShoppingItems  Feature = "shopping_items"
	FeatureAppointments   Feature = "appointments"
	FeatureWishlistItems  Feature = "wishlist_items"
	FeatureJournalEntries Feature = "journal_entries"
	FeatureBabyNames      Feature = "baby_names"
	FeaturePartnerSharing Feature = "partner_sharing"
)

// Limit values with special meaning.
const (
	Unlimited int64 = -1
	Gated     int64 = 0
)

// LimitsTable maps tier to feature to limit. Immutable after construction.
type LimitsTable struct {
	limits   map[account.Tier]map[Feature]int64
	features []Feature
}

// NewLimitsTable validates and copies limits. Every tier needs a row, every row
// must list the same features, and no limit may be below Unlimited.
func NewLimitsTable(limits map[account.Tier]map[Feature]int64) (*LimitsTable, error) {
	var errs []error

	featureSet := make(map[Feature]struct{})
	for _, row := range limits {
		for f := range row {
			featureSet[f] = struct{}{}
		}
	}
	features := slices.Sorted(maps.Keys(featureSet))

	copied := make(map[account.Tier]map[Feature]int64, len(limits))
	for tier, row := range limits {
		if !tier.Valid() {
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownTier, tier))
			continue
		}
		for _, f := range features {
			limit, ok := row[f]
			if !ok {
				errs = append(errs, fmt.Errorf("tier %s: missing limit for %s", tier, f))
				continue
			}
			if limit < Unlimited {
				errs = append(errs, fmt.Errorf("tier %s: limit for %s is %d", tier, f, limit))
			}
		}
		copied[tier] = maps.Clone(row)
	}
	for _, tier := range account.Tiers {
		if _, ok := limits[tier]; !ok {
			errs = append(errs, fmt.Errorf("missing limits for tier %s", tier))
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(append([]error{ErrInvalidLimits}, errs...)...)
	}
	return &LimitsTable{limits: copied, features: features}, nil
}

// MustLimitsTable is NewLimitsTable that panics on error.
func MustLimitsTable(limits map[account.Tier]map[Feature]int64) *LimitsTable {
	t, err := NewLimitsTable(limits)
	if err != nil {
		panic(err)
	}
	return t
}

// DefaultLimits returns the production limits.
func DefaultLimits() map[account.Tier]map[Feature]int64 {
	premium := map[Feature]int64{
		FeatureShoppingItems:  Unlimited,
		FeatureAppointments:   Unlimited,
		FeatureWishlistItems:  Unlimited,
		FeatureJournalEntries: Unlimited,
		FeatureBabyNames:      Unlimited,
		FeaturePartnerSharing: Unlimited,
	}
	return map[account.Tier]map[Feature]int64{
		account.TierFree: {
			FeatureShoppingItems:  10,
			FeatureAppointments:   5,
			FeatureWishlistItems:  Gated,
			FeatureJournalEntries: 3,
			FeatureBabyNames:      10,
			FeaturePartnerSharing: Gated,
		},
		account.TierTrial:             maps.Clone(premium),
		account.TierActive:            maps.Clone(premium),
		account.TierPastDue:           maps.Clone(premium),
		account.TierLifetimeAdmin:     maps.Clone(premium),
		account.TierInfluencerPremium: maps.Clone(premium),
	}
}

// DefaultLimitsTable is the validated production table.
func DefaultLimitsTable() *LimitsTable {
	return MustLimitsTable(DefaultLimits())
}

// Limit returns the limit for tier and feature.
func (t *LimitsTable) Limit(tier account.Tier, feature Feature) (int64, error) {
	row, ok := t.limits[tier]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	limit, ok := row[feature]
	if !ok {
		return 0, errors.Join(ErrNotFound, fmt.Errorf("%w: %q", ErrUnknownFeature, feature))
	}
	return limit, nil
}

// Features lists the known features in sorted order.
func (t *LimitsTable) Features() []Feature {
	return slices.Clone(t.features)
}

// Has reports whether feature is known.
func (t *LimitsTable) Has(feature Feature) bool {
	return slices.Contains(t.features, feature)
}
