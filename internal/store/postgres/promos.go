package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bloomnest/entitlements/pkg/account"
	"github.com/bloomnest/entitlements/pkg/pg"
	"github.com/bloomnest/entitlements/pkg/promo"
)

const (
	codeColumns       = `code, owner_influencer_id, free_months, tier, active, created_at, claimed_at`
	activationColumns = `user_id, code, status, free_months, created_at, updated_at`
)

// PromoStore is the Postgres promo.CodeStore and promo.ActivationStore.
type PromoStore struct {
	db DBTX
}

func NewPromoStore(db DBTX) *PromoStore {
	return &PromoStore{db: db}
}

var (
	_ promo.CodeStore       = (*PromoStore)(nil)
	_ promo.ActivationStore = (*PromoStore)(nil)
)

func (s *PromoStore) CreateCode(ctx context.Context, c *promo.Code) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO promo_codes (`+codeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.Code, c.OwnerInfluencerID, c.FreeMonths, string(c.Tier), c.Active, c.CreatedAt.UTC(), c.ClaimedAt,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return promo.ErrCodeExists
		}
		return fmt.Errorf("insert promo code: %w", err)
	}
	return nil
}

func (s *PromoStore) GetCode(ctx context.Context, code string) (*promo.Code, error) {
	c, err := scanCode(s.db.QueryRow(ctx, `SELECT `+codeColumns+` FROM promo_codes WHERE code = $1`, code))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, promo.ErrCodeNotFound
		}
		return nil, fmt.Errorf("get promo code: %w", err)
	}
	return c, nil
}

// ConditionalClaim is a single UPDATE guarded by owner IS NULL; the row lock
// taken by the update serializes concurrent claimants.
func (s *PromoStore) ConditionalClaim(ctx context.Context, code, claimantID string, claimedAt time.Time) (*promo.Code, error) {
	c, err := scanCode(s.db.QueryRow(ctx, `
		UPDATE promo_codes
		SET owner_influencer_id = $2, claimed_at = $3
		WHERE code = $1 AND owner_influencer_id IS NULL
		RETURNING `+codeColumns,
		code, claimantID, claimedAt.UTC(),
	))
	if err == nil {
		return c, nil
	}
	if !pg.IsNotFoundError(err) {
		return nil, fmt.Errorf("claim promo code: %w", err)
	}
	if _, getErr := s.GetCode(ctx, code); getErr != nil {
		return nil, getErr
	}
	return nil, promo.ErrAlreadyClaimed
}

func (s *PromoStore) CreateActivation(ctx context.Context, a *promo.Activation) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO promo_activations (`+activationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.UserID, a.Code, string(a.Status), a.FreeMonths, a.CreatedAt.UTC(), a.UpdatedAt.UTC(),
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return promo.ErrActivationExists
		}
		return fmt.Errorf("insert promo activation: %w", err)
	}
	return nil
}

func (s *PromoStore) GetActivation(ctx context.Context, userID, code string) (*promo.Activation, error) {
	a, err := scanActivation(s.db.QueryRow(ctx, `
		SELECT `+activationColumns+`
		FROM promo_activations
		WHERE user_id = $1 AND code = $2`,
		userID, code,
	))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, promo.ErrActivationNotFound
		}
		return nil, fmt.Errorf("get promo activation: %w", err)
	}
	return a, nil
}

func (s *PromoStore) ListActivations(ctx context.Context, userID string) ([]*promo.Activation, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+activationColumns+`
		FROM promo_activations
		WHERE user_id = $1
		ORDER BY created_at, code`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list promo activations: %w", err)
	}
	defer rows.Close()

	var out []*promo.Activation
	for rows.Next() {
		a, err := scanActivation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan promo activation: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PromoStore) UpdateActivationStatus(ctx context.Context, userID, code string, from, to promo.ActivationStatus, at time.Time) (*promo.Activation, error) {
	a, err := scanActivation(s.db.QueryRow(ctx, `
		UPDATE promo_activations
		SET status = $4, updated_at = $5
		WHERE user_id = $1 AND code = $2 AND status = $3
		RETURNING `+activationColumns,
		userID, code, string(from), string(to), at.UTC(),
	))
	if err == nil {
		return a, nil
	}
	if !pg.IsNotFoundError(err) {
		return nil, fmt.Errorf("update promo activation: %w", err)
	}
	if _, getErr := s.GetActivation(ctx, userID, code); getErr != nil {
		return nil, getErr
	}
	return nil, promo.ErrStatusChanged
}

func scanCode(row pgx.Row) (*promo.Code, error) {
	var (
		c    promo.Code
		tier string
	)
	if err := row.Scan(&c.Code, &c.OwnerInfluencerID, &c.FreeMonths, &tier, &c.Active, &c.CreatedAt, &c.ClaimedAt); err != nil {
		return nil, err
	}
	c.Tier = account.Tier(tier)
	c.CreatedAt = c.CreatedAt.UTC()
	if c.ClaimedAt != nil {
		t := c.ClaimedAt.UTC()
		c.ClaimedAt = &t
	}
	return &c, nil
}

func scanActivation(row pgx.Row) (*promo.Activation, error) {
	var (
		a      promo.Activation
		status string
	)
	if err := row.Scan(&a.UserID, &a.Code, &status, &a.FreeMonths, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Status = promo.ActivationStatus(status)
	if !a.Status.Valid() {
		return nil, fmt.Errorf("unknown stored activation status %q", status)
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}
