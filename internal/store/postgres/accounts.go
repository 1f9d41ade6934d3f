package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bloomnest/entitlements/pkg/account"
	"github.com/bloomnest/entitlements/pkg/pg"
)

const accountColumns = `user_id, local_status, plan, trial_ends_at, promo_code_used,
	promo_months_granted, billing_customer_ref, created_at, updated_at, version`

// AccountStore is the Postgres account.Store.
type AccountStore struct {
	db  DBTX
	now func() time.Time
}

func NewAccountStore(db DBTX) *AccountStore {
	return &AccountStore{db: db, now: time.Now}
}

var _ account.Store = (*AccountStore)(nil)

func (s *AccountStore) Create(ctx context.Context, rec *account.AccountRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = created
	}
	version := max(rec.Version, 1)

	_, err := s.db.Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.UserID, string(rec.LocalStatus), string(rec.Plan), rec.TrialEndsAt, rec.PromoCodeUsed,
		rec.PromoMonthsGranted, rec.BillingCustomerRef, created.UTC(), updated.UTC(), version,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return account.ErrAccountExists
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *AccountStore) Get(ctx context.Context, userID string) (*account.AccountRecord, error) {
	row := s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1`, userID)
	rec, err := scanAccount(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, account.ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return rec, nil
}

func (s *AccountStore) GetByBillingRef(ctx context.Context, customerRef string) (*account.AccountRecord, error) {
	row := s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE billing_customer_ref = $1`, customerRef)
	rec, err := scanAccount(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, account.ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account by billing ref: %w", err)
	}
	return rec, nil
}

// Update applies the patch in Go, where the record invariants live, and writes
// the full row back guarded by the version it was read at.
func (s *AccountStore) Update(ctx context.Context, userID string, expectedVersion int64, patch account.Patch) (*account.AccountRecord, error) {
	current, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, account.ErrVersionConflict
	}
	next, err := account.ApplyPatch(current, patch)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRow(ctx, `
		UPDATE accounts
		SET local_status = $3, plan = $4, trial_ends_at = $5, promo_code_used = $6,
		    promo_months_granted = $7, billing_customer_ref = $8, updated_at = $9,
		    version = version + 1
		WHERE user_id = $1 AND version = $2
		RETURNING `+accountColumns,
		userID, expectedVersion, string(next.LocalStatus), string(next.Plan), next.TrialEndsAt, next.PromoCodeUsed,
		next.PromoMonthsGranted, next.BillingCustomerRef, s.now().UTC(),
	)
	updated, err := scanAccount(row)
	switch {
	case err == nil:
		return updated, nil
	case pg.IsNotFoundError(err):
		return nil, account.ErrVersionConflict
	case pg.IsDuplicateKeyError(err):
		return nil, fmt.Errorf("%w: billing customer already linked", account.ErrInvalidAccount)
	default:
		return nil, fmt.Errorf("update account: %w", err)
	}
}

func (s *AccountStore) ListByStatus(ctx context.Context, status account.Tier, afterUserID string, limit int) ([]*account.AccountRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE local_status = $1 AND user_id > $2
		ORDER BY user_id
		LIMIT $3`,
		string(status), afterUserID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []*account.AccountRecord
	for rows.Next() {
		rec, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return out, nil
}

func scanAccount(row pgx.Row) (*account.AccountRecord, error) {
	var (
		rec    account.AccountRecord
		status string
		plan   string
	)
	if err := row.Scan(
		&rec.UserID, &status, &plan, &rec.TrialEndsAt, &rec.PromoCodeUsed,
		&rec.PromoMonthsGranted, &rec.BillingCustomerRef, &rec.CreatedAt, &rec.UpdatedAt, &rec.Version,
	); err != nil {
		return nil, err
	}
	rec.LocalStatus = account.Tier(status)
	rec.Plan = account.Plan(plan)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	if rec.TrialEndsAt != nil {
		t := rec.TrialEndsAt.UTC()
		rec.TrialEndsAt = &t
	}
	return &rec, nil
}
