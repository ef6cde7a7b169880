// Package api provides the HTTP API for aqfusion.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/breatheroute/aqfusion/internal/airquality"
	"github.com/breatheroute/aqfusion/internal/api/handler"
	"github.com/breatheroute/aqfusion/internal/api/middleware"
	"github.com/breatheroute/aqfusion/internal/exposure"
	"github.com/breatheroute/aqfusion/internal/history"
	"github.com/breatheroute/aqfusion/internal/provider/resilience"
	"github.com/breatheroute/aqfusion/internal/stations"
)

// AggregateService is the aggregate cache behind the real-time endpoints.
type AggregateService interface {
	handler.AggregateService
	handler.AggregateCache
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	Aggregates AggregateService
	Snapshots  handler.SnapshotService
	Query      airquality.Query
	Catalog    *stations.Catalog
	Matcher    *stations.Matcher
	History    history.Repository

	// Optional status sources for /v1/ops/status.
	Weather  handler.WeatherCache
	Schema   handler.SchemaStatus
	Database handler.Pinger
	Registry *resilience.Registry

	// RequireTLS rejects plain HTTP requests.
	RequireTLS bool

	// RateLimit is the per-IP request budget per minute (0 uses
	// middleware.StandardRateLimit).
	RateLimit int

	Clock clockwork.Clock
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "aqfusion-api"
	}
	if cfg.Matcher == nil {
		cfg.Matcher = stations.NewMatcher(stations.MatcherConfig{})
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.ContentTypeJSON)

	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:    cfg.Version,
		BuildTime:  cfg.BuildTime,
		Aggregates: cfg.Aggregates,
		Weather:    cfg.Weather,
		Schema:     cfg.Schema,
		Database:   cfg.Database,
		Registry:   cfg.Registry,
		Clock:      cfg.Clock,
	})
	aqHandler := handler.NewAirQualityHandler(handler.AirQualityHandlerConfig{
		Aggregates: cfg.Aggregates,
		Query:      cfg.Query,
		Catalog:    cfg.Catalog,
		Matcher:    cfg.Matcher,
	})
	forecastHandler := handler.NewForecastHandler(cfg.Snapshots, cfg.History, cfg.Clock)
	exposureHandler := handler.NewExposureHandler(cfg.Snapshots, cfg.Aggregates, cfg.Query, exposure.NewTagger(cfg.Matcher))

	standard := middleware.StandardRateLimit
	if cfg.RateLimit > 0 {
		standard = middleware.PerMinute(cfg.RateLimit)
	}
	standardRateLimit := middleware.RateLimitByIP(standard)
	expensiveRateLimit := middleware.RateLimitByIP(middleware.ExpensiveRateLimit)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		r.Route("/air-quality", func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Get("/realtime", aqHandler.Realtime)
			r.Get("/stations", aqHandler.ListStations)
			r.Get("/stations:match", aqHandler.MatchStation)
		})

		// Snapshot endpoints fan out to every upstream source.
		r.Group(func(r chi.Router) {
			r.Use(expensiveRateLimit)
			r.Get("/features", forecastHandler.Features)
			r.Get("/forecast", forecastHandler.Forecast)
			r.Get("/exposure/advice", exposureHandler.Advice)
			r.Get("/exposure/sources", exposureHandler.Sources)
			r.With(middleware.RequireJSON).Post("/exposure/route", exposureHandler.Route)
		})
	})

	return r
}
