package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloomnest/entitlements/pkg/config"
)

type sweepSettings struct {
	Interval    time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`
	BatchSize   int           `env:"SWEEP_BATCH_SIZE" envDefault:"200"`
	Enabled     bool          `env:"SWEEP_ENABLED" envDefault:"true"`
	ProviderKey string        `env:"PROVIDER_KEY,required"`
}

type nested struct {
	Sweep sweepSettings
	Name  string `env:"SERVICE_NAME" envDefault:"entitlementd"`
}

func TestLoad(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		cfg, err := config.Load[sweepSettings](config.WithEnvironment(map[string]string{
			"PROVIDER_KEY": "sk_test",
		}))
		require.NoError(t, err)
		assert.Equal(t, time.Hour, cfg.Interval)
		assert.Equal(t, 200, cfg.BatchSize)
		assert.True(t, cfg.Enabled)
		assert.Equal(t, "sk_test", cfg.ProviderKey)
	})

	t.Run("values override defaults", func(t *testing.T) {
		t.Parallel()
		cfg, err := config.Load[sweepSettings](config.WithEnvironment(map[string]string{
			"PROVIDER_KEY":     "sk_test",
			"SWEEP_INTERVAL":   "15m",
			"SWEEP_BATCH_SIZE": "50",
			"SWEEP_ENABLED":    "false",
		}))
		require.NoError(t, err)
		assert.Equal(t, 15*time.Minute, cfg.Interval)
		assert.Equal(t, 50, cfg.BatchSize)
		assert.False(t, cfg.Enabled)
	})

	t.Run("missing required value", func(t *testing.T) {
		t.Parallel()
		_, err := config.Load[sweepSettings](config.WithEnvironment(map[string]string{}))
		assert.ErrorIs(t, err, config.ErrParsingConfig)
	})

	t.Run("malformed value", func(t *testing.T) {
		t.Parallel()
		_, err := config.Load[sweepSettings](config.WithEnvironment(map[string]string{
			"PROVIDER_KEY":   "sk_test",
			"SWEEP_INTERVAL": "soon",
		}))
		assert.ErrorIs(t, err, config.ErrParsingConfig)
	})

	t.Run("prefix", func(t *testing.T) {
		t.Parallel()
		cfg, err := config.Load[sweepSettings](
			config.WithPrefix("ENT_"),
			config.WithEnvironment(map[string]string{"ENT_PROVIDER_KEY": "sk_prefixed"}),
		)
		require.NoError(t, err)
		assert.Equal(t, "sk_prefixed", cfg.ProviderKey)
	})

	t.Run("nested structs", func(t *testing.T) {
		t.Parallel()
		cfg, err := config.Load[nested](config.WithEnvironment(map[string]string{
			"PROVIDER_KEY":     "sk_test",
			"SWEEP_BATCH_SIZE": "7",
		}))
		require.NoError(t, err)
		assert.Equal(t, 7, cfg.Sweep.BatchSize)
		assert.Equal(t, "entitlementd", cfg.Name)
	})
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("PROVIDER_KEY=from_file\nSWEEP_BATCH_SIZE=9\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("PROVIDER_KEY")
		os.Unsetenv("SWEEP_BATCH_SIZE")
	})
	t.Setenv("SWEEP_BATCH_SIZE", "11")

	cfg, err := config.Load[sweepSettings](config.WithEnvFiles(path, filepath.Join(t.TempDir(), "missing.env")))
	require.NoError(t, err)
	assert.Equal(t, "from_file", cfg.ProviderKey)
	assert.Equal(t, 11, cfg.BatchSize, "process environment wins over the file")
}

func TestMustLoad_Panics(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() {
		config.MustLoad[sweepSettings](config.WithEnvironment(map[string]string{}))
	})
}
