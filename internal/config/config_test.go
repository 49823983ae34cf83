package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/visits")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, "global", cfg.NumberingScope)
	assert.Equal(t, "completed", cfg.StaleEntryPolicy)
	assert.Equal(t, 200, cfg.ReconcileBatchSize)
	assert.Equal(t, 3, cfg.TransitionMaxAttempts)
	assert.NoError(t, cfg.Validate())
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("STORE_DRIVER", " Memory ")
	t.Setenv("CLINIC_TIMEZONE", "Asia/Yangon")
	t.Setenv("TOKEN_NUMBERING_SCOPE", "doctor")
	t.Setenv("STALE_ENTRY_POLICY", "expired")
	t.Setenv("SETTINGS_CACHE_TTL_SECONDS", "5")
	t.Setenv("RECONCILE_CRON", "@every 1m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, "doctor", cfg.DefaultSettings().NumberingScope)
	assert.Equal(t, "expired", cfg.DefaultSettings().StaleEntryPolicy)
	assert.Equal(t, int64(5), int64(cfg.SettingsCacheTTL().Seconds()))
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			StoreDriver:           DriverMemory,
			ClinicTimezone:        "UTC",
			NumberingScope:        "global",
			StaleEntryPolicy:      "completed",
			ReconcileCron:         "0 */15 * * * *",
			ReconcileBatchSize:    100,
			TransitionMaxAttempts: 3,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "postgres without url", mutate: func(c *Config) { c.StoreDriver = DriverPostgres }, errMsg: "DATABASE_URL"},
		{name: "unknown driver", mutate: func(c *Config) { c.StoreDriver = "sqlite" }, errMsg: "STORE_DRIVER"},
		{name: "bad timezone", mutate: func(c *Config) { c.ClinicTimezone = "Mars/Olympus" }, errMsg: "CLINIC_TIMEZONE"},
		{name: "bad scope", mutate: func(c *Config) { c.NumberingScope = "room" }, errMsg: "TOKEN_NUMBERING_SCOPE"},
		{name: "bad policy", mutate: func(c *Config) { c.StaleEntryPolicy = "deleted" }, errMsg: "STALE_ENTRY_POLICY"},
		{name: "bad cron", mutate: func(c *Config) { c.ReconcileCron = "every now and then" }, errMsg: "RECONCILE_CRON"},
		{name: "cron disabled", mutate: func(c *Config) { c.ReconcileCron = "" }},
		{name: "zero batch", mutate: func(c *Config) { c.ReconcileBatchSize = 0 }, errMsg: "RECONCILE_BATCH_SIZE"},
		{name: "zero attempts", mutate: func(c *Config) { c.TransitionMaxAttempts = 0 }, errMsg: "TRANSITION_MAX_ATTEMPTS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
