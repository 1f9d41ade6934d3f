package entitlement_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bloomnest/entitlements/pkg/account"
	"github.com/bloomnest/entitlements/pkg/billing"
	"github.com/bloomnest/entitlements/pkg/entitlement"
	"github.com/bloomnest/entitlements/pkg/promo"
)

var now = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func ptr[T any](v T) *T { return &v }

func daysFromNow(d int) *time.Time {
	t := now.AddDate(0, 0, d)
	return &t
}

// trialAccount returns a trial record ending in endDays days.
func trialAccount(userID string, endDays int) *account.AccountRecord {
	rec := account.New(userID, now.AddDate(0, 0, -3))
	rec.LocalStatus = account.TierTrial
	rec.TrialEndsAt = daysFromNow(endDays)
	return rec
}

func accountWith(userID string, tier account.Tier) *account.AccountRecord {
	rec := account.New(userID, now.AddDate(0, 0, -30))
	rec.LocalStatus = tier
	return rec
}

func freshSnapshot(ref string, status billing.Status) *billing.Snapshot {
	return &billing.Snapshot{CustomerRef: ref, Status: status, FetchedAt: now.Add(-time.Minute)}
}

type env struct {
	accounts *account.MemoryStore
	promos   *promo.MemoryStore
	ledger   *promo.Ledger
	provider *billing.MemoryProvider
	client   *billing.Client
	queue    *entitlement.MemoryDriftQueue
	usage    *entitlement.MemoryUsageStore
	svc      *entitlement.Service
}

func newEnv(t *testing.T, opts ...entitlement.Option) *env {
	t.Helper()

	e := &env{
		accounts: account.NewMemoryStore(),
		promos:   promo.NewMemoryStore(),
		provider: billing.NewMemoryProvider("whsec"),
		queue:    entitlement.NewMemoryDriftQueue(16),
		usage:    entitlement.NewMemoryUsageStore(),
	}
	e.ledger = promo.NewLedger(e.promos, e.promos, e.accounts, promo.WithClock(clock))
	e.client = billing.NewClient(e.provider,
		billing.WithClientClock(clock),
		billing.WithTimeout(200*time.Millisecond),
	)

	base := []entitlement.Option{
		entitlement.WithBilling(e.client),
		entitlement.WithMonitor(entitlement.NewMonitor(e.queue)),
		entitlement.WithUsageStore(e.usage),
		entitlement.WithClock(clock),
	}
	e.svc = entitlement.NewService(e.accounts, e.ledger, append(base, opts...)...)
	return e
}

func (e *env) create(t *testing.T, rec *account.AccountRecord) {
	t.Helper()
	require.NoError(t, e.accounts.Create(context.Background(), rec))
}

func (e *env) code(t *testing.T, code string, months int) {
	t.Helper()
	_, err := e.ledger.CreateCode(context.Background(), code, months, "")
	require.NoError(t, err)
}
