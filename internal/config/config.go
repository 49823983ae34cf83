package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/models"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Port                  string  `mapstructure:"PORT"`
	Env                   string  `mapstructure:"ENV"`
	DatabaseURL           string  `mapstructure:"DATABASE_URL"`
	DBMaxConns            int32   `mapstructure:"DB_MAX_CONNS"`
	DBMinConns            int32   `mapstructure:"DB_MIN_CONNS"`
	StoreDriver           string  `mapstructure:"STORE_DRIVER"`
	ClinicTimezone        string  `mapstructure:"CLINIC_TIMEZONE"`
	NumberingScope        string  `mapstructure:"TOKEN_NUMBERING_SCOPE"`
	StaleEntryPolicy      string  `mapstructure:"STALE_ENTRY_POLICY"`
	ReconcileCron         string  `mapstructure:"RECONCILE_CRON"`
	ReconcileBatchSize    int     `mapstructure:"RECONCILE_BATCH_SIZE"`
	TransitionMaxAttempts int     `mapstructure:"TRANSITION_MAX_ATTEMPTS"`
	RedisURL              string  `mapstructure:"REDIS_URL"`
	SettingsCacheTTLSecs  int     `mapstructure:"SETTINGS_CACHE_TTL_SECONDS"`
	RateLimitPerMinute    float64 `mapstructure:"RATE_LIMIT_PER_MIN"`
	RateLimitBurst        int     `mapstructure:"RATE_LIMIT_BURST"`
	OTLPEndpoint          string  `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

var keys = []string{
	"PORT",
	"ENV",
	"DATABASE_URL",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"STORE_DRIVER",
	"CLINIC_TIMEZONE",
	"TOKEN_NUMBERING_SCOPE",
	"STALE_ENTRY_POLICY",
	"RECONCILE_CRON",
	"RECONCILE_BATCH_SIZE",
	"TRANSITION_MAX_ATTEMPTS",
	"REDIS_URL",
	"SETTINGS_CACHE_TTL_SECONDS",
	"RATE_LIMIT_PER_MIN",
	"RATE_LIMIT_BURST",
	"OTEL_EXPORTER_OTLP_ENDPOINT",
}

// Load reads the environment and an optional .env file in the working
// directory. It does not validate; callers run Validate once flags are applied.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "production")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("STORE_DRIVER", DriverPostgres)
	v.SetDefault("CLINIC_TIMEZONE", "UTC")
	v.SetDefault("TOKEN_NUMBERING_SCOPE", models.ScopeGlobal)
	v.SetDefault("STALE_ENTRY_POLICY", models.StalePolicyCompleted)
	v.SetDefault("RECONCILE_CRON", "0 */15 * * * *")
	v.SetDefault("RECONCILE_BATCH_SIZE", 200)
	v.SetDefault("TRANSITION_MAX_ATTEMPTS", 3)
	v.SetDefault("SETTINGS_CACHE_TTL_SECONDS", 60)
	v.SetDefault("RATE_LIMIT_PER_MIN", 120)
	v.SetDefault("RATE_LIMIT_BURST", 30)

	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate rejects unknown enum values, bad timezones and cron specs, and a
// postgres driver without DATABASE_URL.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", DriverPostgres)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, c.StoreDriver)
	}
	if _, err := time.LoadLocation(c.ClinicTimezone); err != nil {
		return fmt.Errorf("CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	if c.NumberingScope != models.ScopeGlobal && c.NumberingScope != models.ScopeDoctor {
		return fmt.Errorf("TOKEN_NUMBERING_SCOPE must be %q or %q, got %q", models.ScopeGlobal, models.ScopeDoctor, c.NumberingScope)
	}
	if c.StaleEntryPolicy != models.StalePolicyCompleted && c.StaleEntryPolicy != models.StalePolicyExpired {
		return fmt.Errorf("STALE_ENTRY_POLICY must be %q or %q, got %q", models.StalePolicyCompleted, models.StalePolicyExpired, c.StaleEntryPolicy)
	}
	if c.ReconcileCron != "" {
		parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(c.ReconcileCron); err != nil {
			return fmt.Errorf("RECONCILE_CRON %q: %w", c.ReconcileCron, err)
		}
	}
	if c.ReconcileBatchSize <= 0 {
		return fmt.Errorf("RECONCILE_BATCH_SIZE must be positive, got %d", c.ReconcileBatchSize)
	}
	if c.TransitionMaxAttempts <= 0 {
		return fmt.Errorf("TRANSITION_MAX_ATTEMPTS must be positive, got %d", c.TransitionMaxAttempts)
	}
	return nil
}

// DefaultSettings are the clinic settings used until a clinic_settings row
// overrides them.
func (c *Config) DefaultSettings() models.ClinicSettings {
	return models.ClinicSettings{
		Timezone:         c.ClinicTimezone,
		NumberingScope:   c.NumberingScope,
		StaleEntryPolicy: c.StaleEntryPolicy,
	}
}

func (c *Config) SettingsCacheTTL() time.Duration {
	if c.SettingsCacheTTLSecs <= 0 {
		return 0
	}
	return time.Duration(c.SettingsCacheTTLSecs) * time.Second
}
