// Package settings is the read-through cache in front of clinic_settings.
// Reads hit an in-process copy first, then the shared Redis layer when one is
// configured, then the repository. Invalidate drops both layers.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/clock"
	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/models"
)

const defaultKey = "visit-queue:clinic-settings"

var ErrInvalidSettings = errors.New("invalid clinic settings")

// Repository is where settings live durably.
type Repository interface {
	GetClinicSettings(ctx context.Context) (models.ClinicSettings, bool, error)
	SaveClinicSettings(ctx context.Context, settings models.ClinicSettings) (models.ClinicSettings, error)
}

type Options struct {
	// Defaults fill any field the stored row leaves empty.
	Defaults models.ClinicSettings
	TTL      time.Duration
	Clock    clock.Clock
	Redis    *redis.Client
	Key      string
	Logger   zerolog.Logger
}

type Cache struct {
	repo     Repository
	defaults models.ClinicSettings
	ttl      time.Duration
	clock    clock.Clock
	redis    *redis.Client
	key      string
	logger   zerolog.Logger

	mu      sync.RWMutex
	cached  *models.ClinicSettings
	expires time.Time
}

func NewCache(repo Repository, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Key == "" {
		opts.Key = defaultKey
	}
	return &Cache{
		repo:     repo,
		defaults: opts.Defaults,
		ttl:      opts.TTL,
		clock:    opts.Clock,
		redis:    opts.Redis,
		key:      opts.Key,
		logger:   opts.Logger.With().Str("component", "settings").Logger(),
	}
}

func (c *Cache) Get(ctx context.Context) (models.ClinicSettings, error) {
	now := c.clock.Now()
	c.mu.RLock()
	if c.cached != nil && now.Before(c.expires) {
		settings := *c.cached
		c.mu.RUnlock()
		return settings, nil
	}
	c.mu.RUnlock()

	if settings, ok := c.readShared(ctx); ok {
		c.keep(settings, now)
		return settings, nil
	}

	stored, found, err := c.repo.GetClinicSettings(ctx)
	if err != nil {
		return models.ClinicSettings{}, fmt.Errorf("load clinic settings: %w", err)
	}
	settings := c.defaults
	if found {
		settings = merge(stored, c.defaults)
	}
	c.writeShared(ctx, settings)
	c.keep(settings, now)
	return settings, nil
}

// Save validates and persists settings, then drops every cached copy.
func (c *Cache) Save(ctx context.Context, settings models.ClinicSettings) (models.ClinicSettings, error) {
	settings = merge(settings, c.defaults)
	if err := Validate(settings); err != nil {
		return models.ClinicSettings{}, err
	}
	saved, err := c.repo.SaveClinicSettings(ctx, settings)
	if err != nil {
		return models.ClinicSettings{}, fmt.Errorf("save clinic settings: %w", err)
	}
	if err := c.Invalidate(ctx); err != nil {
		return saved, err
	}
	return saved, nil
}

func (c *Cache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	c.cached = nil
	c.expires = time.Time{}
	c.mu.Unlock()

	if c.redis == nil {
		return nil
	}
	if err := c.redis.Del(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("invalidate shared settings: %w", err)
	}
	c.logger.Info().Msg("clinic settings invalidated")
	return nil
}

func (c *Cache) keep(settings models.ClinicSettings, now time.Time) {
	c.mu.Lock()
	c.cached = &settings
	c.expires = now.Add(c.ttl)
	c.mu.Unlock()
}

func (c *Cache) readShared(ctx context.Context) (models.ClinicSettings, bool) {
	if c.redis == nil {
		return models.ClinicSettings{}, false
	}
	cached, err := c.redis.Get(ctx, c.key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Msg("shared settings read failed")
		}
		return models.ClinicSettings{}, false
	}
	var settings models.ClinicSettings
	if err := json.Unmarshal([]byte(cached), &settings); err != nil {
		c.logger.Warn().Err(err).Msg("shared settings unreadable")
		return models.ClinicSettings{}, false
	}
	return settings, true
}

func (c *Cache) writeShared(ctx context.Context, settings models.ClinicSettings) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, c.key, data, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("shared settings write failed")
	}
}

func merge(settings, defaults models.ClinicSettings) models.ClinicSettings {
	if settings.Timezone == "" {
		settings.Timezone = defaults.Timezone
	}
	if settings.NumberingScope == "" {
		settings.NumberingScope = defaults.NumberingScope
	}
	if settings.StaleEntryPolicy == "" {
		settings.StaleEntryPolicy = defaults.StaleEntryPolicy
	}
	return settings
}

func Validate(settings models.ClinicSettings) error {
	if _, err := settings.Location(); err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrInvalidSettings, settings.Timezone, err)
	}
	switch settings.NumberingScope {
	case models.ScopeGlobal, models.ScopeDoctor:
	default:
		return fmt.Errorf("%w: numbering scope %q", ErrInvalidSettings, settings.NumberingScope)
	}
	switch settings.StaleEntryPolicy {
	case models.StalePolicyCompleted, models.StalePolicyExpired:
	default:
		return fmt.Errorf("%w: stale entry policy %q", ErrInvalidSettings, settings.StaleEntryPolicy)
	}
	return nil
}
