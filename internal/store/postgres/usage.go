package postgres

import (
	"context"
	"fmt"

	"github.com/bloomnest/entitlements/pkg/entitlement"
	"github.com/bloomnest/entitlements/pkg/pg"
)

// UsageStore keeps per-user feature item counts. The application updates
// them as items are created and deleted.
type UsageStore struct {
	db DBTX
}

func NewUsageStore(db DBTX) *UsageStore {
	return &UsageStore{db: db}
}

var _ entitlement.FeatureUsageStore = (*UsageStore)(nil)

// Count returns 0 for users that never stored an item.
func (s *UsageStore) Count(ctx context.Context, userID string, feature entitlement.Feature) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx,
		`SELECT item_count FROM feature_usage WHERE user_id = $1 AND feature = $2`,
		userID, string(feature),
	).Scan(&n)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("count feature usage: %w", err)
	}
	return n, nil
}

// Add moves the count by delta, never below zero, and returns the new value.
func (s *UsageStore) Add(ctx context.Context, userID string, feature entitlement.Feature, delta int64) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO feature_usage (user_id, feature, item_count)
		VALUES ($1, $2, GREATEST($3::bigint, 0))
		ON CONFLICT (user_id, feature)
		DO UPDATE SET item_count = GREATEST(feature_usage.item_count + $3::bigint, 0)
		RETURNING item_count`,
		userID, string(feature), delta,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("update feature usage: %w", err)
	}
	return n, nil
}
