package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloomnest/entitlements/pkg/billing"
	"github.com/bloomnest/entitlements/pkg/config"
	"github.com/bloomnest/entitlements/pkg/logger"
)

func TestSettingsDefaults(t *testing.T) {
	cfg, err := config.Load[settings](config.WithEnvironment(map[string]string{
		"PG_CONN_URL":      "postgres://localhost/entitlements",
		"BILLING_PROVIDER": "memory",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "entitlements:", cfg.Redis.KeyPrefix)
	assert.True(t, cfg.PG.AutoMigrate)
	assert.Equal(t, 15*time.Minute, cfg.Entitlement.MaxSnapshotAge)
	assert.Equal(t, time.Hour, cfg.Entitlement.SweepInterval)
	assert.Equal(t, 5*time.Minute, cfg.Billing.CacheTTL)
	assert.Equal(t, "entitlementd", cfg.Log.Service)
}

func TestSettingsRequirePostgres(t *testing.T) {
	_, err := config.Load[settings](config.WithEnvironment(map[string]string{}))
	assert.ErrorIs(t, err, config.ErrParsingConfig)
}

func TestNewBillingClient(t *testing.T) {
	log := logger.Discard()

	t.Run("disabled", func(t *testing.T) {
		client, err := newBillingClient(settings{Billing: billing.Config{Provider: providerNone}}, billing.NewMemoryCache(1), log)
		require.NoError(t, err)
		assert.Nil(t, client)
	})

	t.Run("memory provider", func(t *testing.T) {
		cfg, err := config.Load[settings](config.WithEnvironment(map[string]string{
			"PG_CONN_URL":           "postgres://localhost/entitlements",
			"BILLING_PROVIDER":      "Memory",
			"MEMORY_WEBHOOK_SECRET": "whsec",
		}))
		require.NoError(t, err)
		client, err := newBillingClient(cfg, billing.NewMemoryCache(1), log)
		require.NoError(t, err)
		require.NotNil(t, client)
		assert.Equal(t, billing.ProviderMemory, client.Name())
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := newBillingClient(settings{Billing: billing.Config{Provider: "braintree"}}, billing.NewMemoryCache(1), log)
		assert.ErrorIs(t, err, billing.ErrUnknownProvider)
	})
}
