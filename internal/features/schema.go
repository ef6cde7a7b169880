package features

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// ErrSchemaUnavailable is returned when the feature schema cannot be fetched.
var ErrSchemaUnavailable = errors.New("feature schema unavailable")

// DefaultSchema is used whenever the model service cannot supply its schema.
var DefaultSchema = []string{
	"PM25_ug_m3",
	"PM10_ug_m3",
	"NO2_ug_m3",
	"NO_ug_m3",
	"O3_ug_m3",
	"SO2_ug_m3",
	"CO_mg_m3",
	"NH3_ug_m3",
	"AQI_INDEX",
	"FIRE_COUNT",
	"TEMPERATURE_C",
	"HUMIDITY_PCT",
	"WIND_SPEED",
	"BLH_M",
}

// SchemaProvider supplies the ordered feature names the model expects.
type SchemaProvider interface {
	FeatureSchema(ctx context.Context) ([]string, error)
}

// SchemaCacheConfig holds configuration for the schema cache.
type SchemaCacheConfig struct {
	Provider SchemaProvider
	Logger   zerolog.Logger
}

// SchemaCache fetches the schema once per process. Failures are not cached,
// so the next call tries again.
type SchemaCache struct {
	provider SchemaProvider
	logger   zerolog.Logger

	mu     sync.RWMutex
	schema []string
}

// NewSchemaCache creates a schema cache.
func NewSchemaCache(cfg SchemaCacheConfig) *SchemaCache {
	return &SchemaCache{
		provider: cfg.Provider,
		logger:   cfg.Logger,
	}
}

// Get returns the schema. fromDefault is true when DefaultSchema was
// substituted because the provider failed.
func (c *SchemaCache) Get(ctx context.Context) (schema []string, fromDefault bool) {
	c.mu.RLock()
	if c.schema != nil {
		schema := c.schema
		c.mu.RUnlock()
		return schema, false
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check: another goroutine might have fetched while we waited
	if c.schema != nil {
		return c.schema, false
	}

	if c.provider == nil {
		return defaultSchema(), true
	}

	names, err := c.provider.FeatureSchema(ctx)
	if err == nil && len(names) == 0 {
		err = ErrSchemaUnavailable
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("feature schema fetch failed, using default schema")
		return defaultSchema(), true
	}

	c.schema = append([]string(nil), names...)
	c.logger.Info().Int("features", len(names)).Msg("feature schema loaded")
	return c.schema, false
}

// Loaded reports whether a schema has been fetched successfully.
func (c *SchemaCache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.schema != nil
}

func defaultSchema() []string {
	return append([]string(nil), DefaultSchema...)
}
