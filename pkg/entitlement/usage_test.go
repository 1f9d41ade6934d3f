package entitlement_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloomnest/entitlements/pkg/account"
	"github.com/bloomnest/entitlements/pkg/entitlement"
)

func TestCounterRegistry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	reg := entitlement.NewCounterRegistry()
	reg.Register(entitlement.FeatureShoppingItems, func(_ context.Context, userID string) (int64, error) {
		if userID == "broken" {
			return 0, errors.New("db down")
		}
		return 7, nil
	})

	n, err := reg.Count(ctx, "u", entitlement.FeatureShoppingItems)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	_, err = reg.Count(ctx, "u", entitlement.FeatureBabyNames)
	assert.ErrorIs(t, err, entitlement.ErrUnknownFeature)

	_, err = reg.Count(ctx, "broken", entitlement.FeatureShoppingItems)
	assert.Error(t, err)

	assert.Panics(t, func() { reg.Register(entitlement.FeatureAppointments, nil) })
}

func TestService_UsageFromCounterRegistry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	counters := entitlement.NewCounterRegistry()
	counters.Register(entitlement.FeatureAppointments, func(context.Context, string) (int64, error) { return 5, nil })

	e := newEnv(t, entitlement.WithUsageStore(counters))
	e.create(t, account.New("u", now))

	access, err := e.svc.CheckFeatureUsage(ctx, "u", entitlement.FeatureAppointments)
	require.NoError(t, err)
	assert.False(t, access.Allowed)
	assert.True(t, access.Vaulted)
}

func TestNewMetrics_ReusesRegisteredCollectors(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	first, err := entitlement.NewMetrics(reg)
	require.NoError(t, err)
	second, err := entitlement.NewMetrics(reg)
	require.NoError(t, err)

	e := newEnv(t, entitlement.WithMetrics(first))
	e.create(t, account.New("a", now))
	other := newEnv(t, entitlement.WithMetrics(second))
	other.create(t, account.New("b", now))

	_, err = e.svc.Decide(context.Background(), "a")
	require.NoError(t, err)
	_, err = other.svc.Decide(context.Background(), "b")
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(reg, "entitlements_decisions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "both instances share one series")
}
