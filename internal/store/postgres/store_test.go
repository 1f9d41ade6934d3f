package postgres_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloomnest/entitlements/internal/store/postgres"
	"github.com/bloomnest/entitlements/pkg/account"
	"github.com/bloomnest/entitlements/pkg/entitlement"
	"github.com/bloomnest/entitlements/pkg/logger"
	"github.com/bloomnest/entitlements/pkg/pg"
	"github.com/bloomnest/entitlements/pkg/promo"
)

// testPool connects to ENTITLEMENTS_TEST_PG_URL and migrates it, or skips.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("ENTITLEMENTS_TEST_PG_URL")
	if url == "" {
		t.Skip("ENTITLEMENTS_TEST_PG_URL not set")
	}

	ctx := context.Background()
	cfg := pg.Config{ConnectionString: url, RetryAttempts: 1, MigrationsTable: "entitlements_schema_migrations"}
	pool, err := pg.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.Migrate(ctx, pool, cfg, logger.Discard()))
	return pool
}

// uid keeps rows from parallel tests and earlier runs apart.
func uid(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

func TestAccountStore(t *testing.T) {
	pool := testPool(t)
	store := postgres.NewAccountStore(pool)
	ctx := context.Background()
	created := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("create and get", func(t *testing.T) {
		userID := uid("acct")
		require.NoError(t, store.Create(ctx, account.New(userID, created)))
		assert.ErrorIs(t, store.Create(ctx, account.New(userID, created)), account.ErrAccountExists)

		rec, err := store.Get(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, account.TierFree, rec.LocalStatus)
		assert.Equal(t, int64(1), rec.Version)
		assert.Equal(t, created, rec.CreatedAt)

		_, err = store.Get(ctx, uid("missing"))
		assert.ErrorIs(t, err, account.ErrAccountNotFound)
	})

	t.Run("update is version guarded", func(t *testing.T) {
		userID := uid("acct")
		require.NoError(t, store.Create(ctx, account.New(userID, created)))

		trial := account.TierTrial
		end := created.AddDate(0, 0, 14)
		rec, err := store.Update(ctx, userID, 1, account.Patch{LocalStatus: &trial, TrialEndsAt: &end})
		require.NoError(t, err)
		assert.Equal(t, int64(2), rec.Version)
		require.NotNil(t, rec.TrialEndsAt)
		assert.Equal(t, end, *rec.TrialEndsAt)

		free := account.TierFree
		_, err = store.Update(ctx, userID, 1, account.Patch{LocalStatus: &free})
		assert.ErrorIs(t, err, account.ErrVersionConflict)

		rec, err = store.Update(ctx, userID, 2, account.Patch{LocalStatus: &free})
		require.NoError(t, err)
		assert.Nil(t, rec.TrialEndsAt, "leaving trial clears the trial end")
	})

	t.Run("billing ref lookup", func(t *testing.T) {
		userID := uid("acct")
		ref := uid("cus")
		require.NoError(t, store.Create(ctx, account.New(userID, created)))
		_, err := store.Update(ctx, userID, 1, account.Patch{BillingCustomerRef: &ref})
		require.NoError(t, err)

		rec, err := store.GetByBillingRef(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, userID, rec.UserID)
	})

	t.Run("list by status pages", func(t *testing.T) {
		prefix := uid("page")
		trial := account.TierTrial
		end := created.AddDate(0, 0, 3)
		for i := range 5 {
			id := fmt.Sprintf("%s-%d", prefix, i)
			require.NoError(t, store.Create(ctx, account.New(id, created)))
			_, err := store.Update(ctx, id, 1, account.Patch{LocalStatus: &trial, TrialEndsAt: &end})
			require.NoError(t, err)
		}

		var seen []string
		after := prefix
		for {
			page, err := store.ListByStatus(ctx, account.TierTrial, after, 2)
			require.NoError(t, err)
			for _, rec := range page {
				if len(rec.UserID) > len(prefix) && rec.UserID[:len(prefix)] == prefix {
					seen = append(seen, rec.UserID)
				}
			}
			if len(page) < 2 {
				break
			}
			after = page[len(page)-1].UserID
		}
		assert.Len(t, seen, 5)
	})
}

func TestPromoStore_ClaimIsExclusive(t *testing.T) {
	pool := testPool(t)
	promos := postgres.NewPromoStore(pool)
	accounts := postgres.NewAccountStore(pool)
	ledger := promo.NewLedger(promos, promos, accounts)
	ctx := context.Background()

	code := "RACE" + uuid.NewString()[:6]
	_, err := ledger.CreateCode(ctx, code, 1, "")
	require.NoError(t, err)

	const claimants = 16
	var (
		wg        sync.WaitGroup
		wins      atomic.Int32
		conflicts atomic.Int32
	)
	for i := range claimants {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Claim(ctx, code, fmt.Sprintf("influencer-%d", i))
			switch {
			case err == nil:
				wins.Add(1)
			case assert.ErrorIs(t, err, promo.ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(claimants-1), conflicts.Load())
}

func TestPromoStore_Activations(t *testing.T) {
	pool := testPool(t)
	promos := postgres.NewPromoStore(pool)
	accounts := postgres.NewAccountStore(pool)
	ledger := promo.NewLedger(promos, promos, accounts)
	ctx := context.Background()

	userID := uid("promo-user")
	require.NoError(t, accounts.Create(ctx, account.New(userID, time.Now())))
	code := "SARAH" + uuid.NewString()[:4]
	_, err := ledger.CreateCode(ctx, code, 1, "")
	require.NoError(t, err)

	res, err := ledger.Apply(ctx, userID, code)
	require.NoError(t, err)
	assert.Equal(t, 44, res.TotalFreeDays)
	assert.True(t, res.Created)

	res, err = ledger.Apply(ctx, userID, code)
	require.NoError(t, err)
	assert.False(t, res.Created)

	list, err := ledger.Activations(ctx, userID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	months, err := ledger.ActivatePending(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, months)

	_, err = promos.UpdateActivationStatus(ctx, userID, res.Activation.Code, promo.ActivationPending, promo.ActivationApplied, time.Now())
	assert.ErrorIs(t, err, promo.ErrStatusChanged)

	_, err = promos.UpdateActivationStatus(ctx, uid("ghost"), res.Activation.Code, promo.ActivationPending, promo.ActivationActive, time.Now())
	assert.ErrorIs(t, err, promo.ErrActivationNotFound)

	rec, err := accounts.Get(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, rec.PromoMonthsGranted)
	assert.Equal(t, 1, *rec.PromoMonthsGranted)
}

func TestUsageStore(t *testing.T) {
	pool := testPool(t)
	usage := postgres.NewUsageStore(pool)
	ctx := context.Background()
	userID := uid("usage")

	n, err := usage.Count(ctx, userID, entitlement.FeatureShoppingItems)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = usage.Add(ctx, userID, entitlement.FeatureShoppingItems, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = usage.Add(ctx, userID, entitlement.FeatureShoppingItems, -5)
	require.NoError(t, err)
	assert.Zero(t, n, "count never goes negative")
}
