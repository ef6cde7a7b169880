// Package app builds the aqfusion service graph from configuration. Both the
// API server and the refresh worker start from New.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/breatheroute/aqfusion/internal/airquality"
	"github.com/breatheroute/aqfusion/internal/airquality/waqi"
	"github.com/breatheroute/aqfusion/internal/config"
	"github.com/breatheroute/aqfusion/internal/database"
	"github.com/breatheroute/aqfusion/internal/events"
	"github.com/breatheroute/aqfusion/internal/exposure"
	"github.com/breatheroute/aqfusion/internal/features"
	"github.com/breatheroute/aqfusion/internal/fire"
	"github.com/breatheroute/aqfusion/internal/history"
	"github.com/breatheroute/aqfusion/internal/modelservice"
	"github.com/breatheroute/aqfusion/internal/pipeline"
	"github.com/breatheroute/aqfusion/internal/provider/resilience"
	"github.com/breatheroute/aqfusion/internal/stations"
	"github.com/breatheroute/aqfusion/internal/weather"
	"github.com/breatheroute/aqfusion/internal/weather/openweathermap"
)

// Services is the wired service graph. Weather, Fire and Pool are nil when
// their sources are not configured.
type Services struct {
	Config   config.Config
	Logger   zerolog.Logger
	Registry *resilience.Registry

	Query   airquality.Query
	Catalog *stations.Catalog
	Matcher *stations.Matcher

	Aggregates *airquality.Service
	Weather    *weather.Service
	Fire       *fire.Service
	Schema     *features.SchemaCache
	Model      *modelservice.Client
	Assembler  *pipeline.Assembler

	Pool      *pgxpool.Pool
	History   history.Repository
	Publisher events.Publisher
}

// NewLogger creates the root logger for a service.
func NewLogger(cfg config.Config, service, version string) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("environment", cfg.Environment).
		Logger()
}

// New wires every service. observer receives aggregate pipeline events and
// may be nil.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger, observer airquality.Observer) (*Services, error) {
	s := &Services{
		Config:   cfg,
		Logger:   log,
		Registry: resilience.NewRegistry(resilience.RegistryConfig{
			Logger: log.With().Str("component", "resilience").Logger(),
		}),
		Query: airquality.Query{
			Bounds:      cfg.Aggregation.Bounds,
			Concurrency: cfg.Provider.BatchSize,
			Reference:   cfg.Aggregation.ReferencePoint(),
		},
	}

	catalog, err := loadCatalog(cfg.Catalog)
	if err != nil {
		return nil, err
	}
	s.Catalog = catalog
	s.Matcher = stations.NewMatcher(stations.MatcherConfig{DropTokens: cfg.Catalog.DropTokens})

	location, err := cfg.Provider.Location()
	if err != nil {
		return nil, fmt.Errorf("provider time zone: %w", err)
	}
	provider := waqi.NewClient(waqi.ClientConfig{
		BaseURL:  cfg.Provider.BaseURL,
		Token:    cfg.Provider.Token,
		Timeout:  cfg.Provider.Timeout,
		Registry: s.Registry,
		Location: location,
	})
	s.Aggregates = airquality.NewService(airquality.ServiceConfig{
		Provider: provider,
		Sanitizer: airquality.NewSanitizer(airquality.SanitizerConfig{
			StaleAfter: cfg.Aggregation.StaleAfter,
			AQICeiling: cfg.Aggregation.AQICeiling,
		}),
		Logger:       log.With().Str("component", "aggregates").Logger(),
		CacheTTL:     cfg.Aggregation.CacheTTL,
		BatchDelay:   cfg.Provider.BatchDelay,
		TrimFraction: cfg.Aggregation.TrimFraction,
		Observer:     observer,
	})

	s.Weather = s.newWeather()
	s.Fire = s.newFire()

	s.Model = modelservice.NewClient(modelservice.ClientConfig{
		BaseURL:  cfg.Model.BaseURL,
		Timeout:  cfg.Model.Timeout,
		Registry: s.Registry,
	})
	s.Schema = features.NewSchemaCache(features.SchemaCacheConfig{
		Provider: s.Model,
		Logger:   log.With().Str("component", "schema").Logger(),
	})

	assemblerCfg := pipeline.AssemblerConfig{
		Aggregates: s.Aggregates,
		Schema:     s.Schema,
		Forecaster: s.Model,
		Attributor: exposure.FallbackAttributor{
			Primary:  exposure.ModelAttributor{Model: s.Model},
			Fallback: exposure.HeuristicAttributor{},
			Logger:   log,
		},
		Catalog:    s.Catalog,
		Matcher:    s.Matcher,
		Query:      s.Query,
		FireBounds: cfg.Aggregation.Bounds.Pad(cfg.Fire.PadDegrees),
		Logger:     log.With().Str("component", "pipeline").Logger(),
	}
	if s.Weather != nil {
		assemblerCfg.Weather = s.Weather
	}
	if s.Fire != nil {
		assemblerCfg.Fire = s.Fire
	}
	s.Assembler = pipeline.NewAssembler(assemblerCfg)

	if err := s.connectHistory(ctx); err != nil {
		return nil, err
	}

	s.Publisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		s.Publisher = events.NewKafkaPublisher(events.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		})
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("aggregate events enabled")
	}

	return s, nil
}

func loadCatalog(cfg config.CatalogConfig) (*stations.Catalog, error) {
	if cfg.Path == "" {
		return stations.DefaultCatalog()
	}
	return stations.LoadCatalog(cfg.Path)
}

// newWeather uses OpenWeatherMap when a key is set and the scalar document as
// fallback, or as the only source without a key.
func (s *Services) newWeather() *weather.Service {
	cfg := s.Config.Weather
	var primary, fallback weather.Provider
	if cfg.APIKey != "" {
		primary = openweathermap.NewClient(openweathermap.ClientConfig{
			APIKey:   cfg.APIKey,
			BaseURL:  cfg.BaseURL,
			Registry: s.Registry,
		})
	}
	if cfg.FallbackURL != "" {
		fallback = weather.NewScalarClient(weather.ScalarClientConfig{URL: cfg.FallbackURL})
	}
	if primary == nil {
		primary, fallback = fallback, nil
	}
	if primary == nil {
		s.Logger.Warn().Msg("no weather source configured, weather features will use defaults")
		return nil
	}
	return weather.NewService(weather.ServiceConfig{
		Provider: primary,
		Fallback: fallback,
		Logger:   s.Logger.With().Str("component", "weather").Logger(),
		CacheTTL: cfg.CacheTTL,
	})
}

// newFire uses NASA FIRMS when a map key is set and the scalar document as
// fallback, or as the only source without a key.
func (s *Services) newFire() *fire.Service {
	cfg := s.Config.Fire
	var primary, fallback fire.Counter
	if cfg.MapKey != "" {
		primary = fire.NewFIRMSClient(fire.FIRMSConfig{
			BaseURL:  cfg.BaseURL,
			MapKey:   cfg.MapKey,
			DayRange: cfg.DayRange,
			Registry: s.Registry,
		})
	}
	if cfg.FallbackURL != "" {
		fallback = fire.NewScalarClient(cfg.FallbackURL, nil)
	}
	if primary == nil {
		primary, fallback = fallback, nil
	}
	if primary == nil {
		s.Logger.Warn().Msg("no fire source configured, fire count will use defaults")
		return nil
	}
	return fire.NewService(fire.ServiceConfig{
		Primary:  primary,
		Fallback: fallback,
		Logger:   s.Logger.With().Str("component", "fire").Logger(),
	})
}

// connectHistory uses PostgreSQL when configured and memory otherwise.
func (s *Services) connectHistory(ctx context.Context) error {
	pool, err := database.Connect(ctx, s.Config.Database)
	if errors.Is(err, database.ErrNotConfigured) {
		s.Logger.Warn().Msg("database not configured, history kept in memory")
		s.History = history.NewInMemoryRepository()
		return nil
	}
	if err != nil {
		return err
	}

	repo := history.NewPostgresRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return err
	}
	s.Pool = pool
	s.History = repo
	s.Logger.Info().
		Str("host", s.Config.Database.Host).
		Int("port", s.Config.Database.Port).
		Str("database", s.Config.Database.Database).
		Msg("database connected")
	return nil
}

// Close releases the database pool and the event publisher.
func (s *Services) Close() {
	if s.Publisher != nil {
		if err := s.Publisher.Close(); err != nil {
			s.Logger.Error().Err(err).Msg("failed to close event publisher")
		}
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}
