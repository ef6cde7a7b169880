package weather

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/breatheroute/aqfusion/pkg/geo"
)

// Provider defines the interface for weather data providers.
type Provider interface {
	// GetCurrentWeather fetches current weather for a location.
	GetCurrentWeather(ctx context.Context, p geo.Point) (*Observation, error)

	// Name returns the provider name for logging.
	Name() string
}

// ServiceConfig holds configuration for the weather service.
type ServiceConfig struct {
	// Provider is the primary weather data provider.
	Provider Provider

	// Fallback is asked when the primary fails and no stale entry is usable.
	// Optional.
	Fallback Provider

	// Logger for service operations.
	Logger zerolog.Logger

	// CacheTTL is how long to cache weather data (default: 10 minutes).
	CacheTTL time.Duration

	// CacheGridSize is the size of cache grid cells in degrees (default: 0.1).
	// Points within the same grid cell share cached data.
	CacheGridSize float64

	// StaleIfErrorTTL allows serving stale data on provider errors (default: 1 hour).
	StaleIfErrorTTL time.Duration

	// Clock is used for cache expiry (default: real clock).
	Clock clockwork.Clock
}

// Service provides weather data with caching and a fallback source.
type Service struct {
	provider        Provider
	fallback        Provider
	logger          zerolog.Logger
	clock           clockwork.Clock
	cacheTTL        time.Duration
	cacheGridSize   float64
	staleIfErrorTTL time.Duration

	mu              sync.RWMutex
	cache           map[string]*cachedObservation
	lastCleanup     time.Time
	cleanupInterval time.Duration
}

type cachedObservation struct {
	observation *Observation
	fetchedAt   time.Time
	expiresAt   time.Time
}

// NewService creates a new weather service.
func NewService(cfg ServiceConfig) *Service {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 10 * time.Minute
	}

	cacheGridSize := cfg.CacheGridSize
	if cacheGridSize == 0 {
		cacheGridSize = 0.1 // ~11km
	}

	staleIfErrorTTL := cfg.StaleIfErrorTTL
	if staleIfErrorTTL == 0 {
		staleIfErrorTTL = time.Hour
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Service{
		provider:        cfg.Provider,
		fallback:        cfg.Fallback,
		logger:          cfg.Logger,
		clock:           clock,
		cacheTTL:        cacheTTL,
		cacheGridSize:   cacheGridSize,
		staleIfErrorTTL: staleIfErrorTTL,
		cache:           make(map[string]*cachedObservation),
		cleanupInterval: 5 * time.Minute,
	}
}

// GetCurrentWeather returns current weather for a location. Order of
// preference: fresh cache, primary provider, stale cache, fallback provider.
func (s *Service) GetCurrentWeather(ctx context.Context, p geo.Point) (*Observation, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	key := s.cacheKey(p)

	s.mu.RLock()
	if cached, ok := s.cache[key]; ok && s.clock.Now().Before(cached.expiresAt) {
		s.mu.RUnlock()
		return cached.observation, nil
	}
	s.mu.RUnlock()

	return s.fetch(ctx, p, key)
}

func (s *Service) fetch(ctx context.Context, p geo.Point, key string) (*Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check cache
	now := s.clock.Now()
	if cached, ok := s.cache[key]; ok && now.Before(cached.expiresAt) {
		return cached.observation, nil
	}

	obs, err := s.provider.GetCurrentWeather(ctx, p)
	if err == nil {
		s.cache[key] = &cachedObservation{
			observation: obs,
			fetchedAt:   now,
			expiresAt:   now.Add(s.cacheTTL),
		}
		s.cleanupIfNeeded(now)
		return obs, nil
	}

	s.logger.Warn().Err(err).
		Str("provider", s.provider.Name()).
		Float64("lat", p.Lat).
		Float64("lon", p.Lon).
		Msg("failed to fetch weather")

	if cached, ok := s.cache[key]; ok && now.Before(cached.fetchedAt.Add(s.staleIfErrorTTL)) {
		s.logger.Warn().
			Time("fetched_at", cached.fetchedAt).
			Msg("serving stale weather data due to provider error")
		return cached.observation, nil
	}

	if s.fallback != nil {
		obs, fbErr := s.fallback.GetCurrentWeather(ctx, p)
		if fbErr == nil {
			return obs, nil
		}
		s.logger.Warn().Err(fbErr).
			Str("provider", s.fallback.Name()).
			Msg("fallback weather source failed")
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, fbErr)
	}

	return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
}

// cacheKey groups nearby points into grid cells to reduce API calls.
func (s *Service) cacheKey(p geo.Point) string {
	gridLat := math.Floor(p.Lat/s.cacheGridSize) * s.cacheGridSize
	gridLon := math.Floor(p.Lon/s.cacheGridSize) * s.cacheGridSize
	return fmt.Sprintf("%.2f:%.2f", gridLat, gridLon)
}

// cleanupIfNeeded removes entries too old to serve even as stale data.
func (s *Service) cleanupIfNeeded(now time.Time) {
	if now.Sub(s.lastCleanup) < s.cleanupInterval {
		return
	}
	s.lastCleanup = now

	expired := 0
	for key, cached := range s.cache {
		if now.After(cached.fetchedAt.Add(s.staleIfErrorTTL)) {
			delete(s.cache, key)
			expired++
		}
	}
	if expired > 0 {
		s.logger.Debug().
			Int("expired_entries", expired).
			Msg("cleaned up expired weather cache entries")
	}
}

// InvalidateCache clears all cached data.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]*cachedObservation)
}

// CacheStats contains cache statistics.
type CacheStats struct {
	Entries      int    `json:"entries"`
	FreshEntries int    `json:"freshEntries"`
	Provider     string `json:"provider"`
}

// CacheStats returns cache statistics.
func (s *Service) CacheStats() CacheStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock.Now()
	fresh := 0
	for _, c := range s.cache {
		if now.Before(c.expiresAt) {
			fresh++
		}
	}

	return CacheStats{
		Entries:      len(s.cache),
		FreshEntries: fresh,
		Provider:     s.provider.Name(),
	}
}
