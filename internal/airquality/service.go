package airquality

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/breatheroute/aqfusion/pkg/fanout"
	"github.com/breatheroute/aqfusion/pkg/geo"
)

// Provider defines the interface for monitoring-network clients.
type Provider interface {
	// Name identifies the provider in logs and errors.
	Name() string

	// FetchBounds lists the stations inside a bounding box with their
	// summary AQI.
	FetchBounds(ctx context.Context, bounds geo.BoundingBox) ([]StationReading, error)

	// FetchStationFeed fetches the detailed feed of one station.
	FetchStationFeed(ctx context.Context, uid string) (StationFeed, error)
}

// FetchFeeds fetches the feeds of many stations in batches. A failed feed is
// reported in its result and never aborts the others.
func FetchFeeds(ctx context.Context, p Provider, uids []string, opts fanout.BatchOptions) []fanout.Result[StationFeed] {
	return fanout.Batches(ctx, uids, opts, p.FetchStationFeed)
}

// Observer receives pipeline events. telemetry.PipelineMetrics implements it.
type Observer interface {
	CacheLookup(ctx context.Context, hit bool)
	FeedsFetched(ctx context.Context, ok, failed int)
	Aggregated(ctx context.Context, source Source, elapsed time.Duration, valid, excluded int)
}

type nopObserver struct{}

func (nopObserver) CacheLookup(context.Context, bool)                           {}
func (nopObserver) FeedsFetched(context.Context, int, int)                      {}
func (nopObserver) Aggregated(context.Context, Source, time.Duration, int, int) {}

// Query identifies one aggregation.
type Query struct {
	// Bounds is the area whose stations are aggregated.
	Bounds geo.BoundingBox

	// Concurrency is the feed batch size (default: 5).
	Concurrency int

	// Reference is the point for the weighted mean (default: Bounds center).
	Reference *geo.Point
}

// key identifies the cache entry. Coordinates use %g so boxes differing
// past any fixed precision never share an entry.
func (q Query) key() string {
	b := q.Bounds
	key := fmt.Sprintf("%g,%g,%g,%g|%d", b.South, b.West, b.North, b.East, q.Concurrency)
	if q.Reference != nil {
		key += fmt.Sprintf("|%g,%g", q.Reference.Lat, q.Reference.Lon)
	}
	return key
}

func (q Query) reference() geo.Point {
	if q.Reference != nil {
		return *q.Reference
	}
	return q.Bounds.Center()
}

// ServiceConfig holds configuration for the aggregate service.
type ServiceConfig struct {
	// Provider is the monitoring-network client.
	Provider Provider

	// Sanitizer cleans raw readings (default: NewSanitizer with defaults).
	Sanitizer *Sanitizer

	// Logger for service operations.
	Logger zerolog.Logger

	// CacheTTL is how long an aggregate is served without refetching (default: 10 minutes).
	CacheTTL time.Duration

	// BatchDelay is the pause between feed batches (default: 150ms).
	BatchDelay time.Duration

	// TrimFraction is passed to the aggregator (default: 0.10).
	TrimFraction float64

	// Clock drives TTL expiry and batch delays (default: real clock).
	Clock clockwork.Clock

	// Observer receives cache and aggregation events.
	Observer Observer
}

type cacheEntry struct {
	key       string
	value     *AggregationResult
	expiresAt time.Time
}

// Service produces city aggregates with a single-slot TTL cache and a
// fallback chain: detailed, stale cache, basic, empty.
type Service struct {
	provider     Provider
	sanitizer    *Sanitizer
	logger       zerolog.Logger
	cacheTTL     time.Duration
	batchDelay   time.Duration
	trimFraction float64
	clock        clockwork.Clock
	observer     Observer

	entry atomic.Pointer[cacheEntry]
}

// DefaultConcurrency is the feed batch size used when a query sets none.
const DefaultConcurrency = 5

// NewService creates a new aggregate service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	if cfg.BatchDelay == 0 {
		cfg.BatchDelay = 150 * time.Millisecond
	}
	if cfg.TrimFraction == 0 {
		cfg.TrimFraction = DefaultTrimFraction
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Sanitizer == nil {
		cfg.Sanitizer = NewSanitizer(SanitizerConfig{Clock: cfg.Clock})
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}

	return &Service{
		provider:     cfg.Provider,
		sanitizer:    cfg.Sanitizer,
		logger:       cfg.Logger,
		cacheTTL:     cfg.CacheTTL,
		batchDelay:   cfg.BatchDelay,
		trimFraction: cfg.TrimFraction,
		clock:        cfg.Clock,
		observer:     cfg.Observer,
	}
}

// GetAggregate returns the aggregate for q. A fresh cached entry is returned
// without touching the provider. Provider failures never surface as errors:
// the result's Source says which fallback produced it. Only an invalid query
// is an error.
func (s *Service) GetAggregate(ctx context.Context, q Query) (*AggregationResult, error) {
	if err := q.Bounds.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	if q.Concurrency <= 0 {
		q.Concurrency = DefaultConcurrency
	}
	key := q.key()

	if e := s.entry.Load(); e != nil && e.key == key && s.clock.Now().Before(e.expiresAt) {
		s.observer.CacheLookup(ctx, true)
		return e.value, nil
	}
	s.observer.CacheLookup(ctx, false)

	return s.refresh(ctx, q, key), nil
}

// Refresh recomputes the aggregate for q regardless of the cached entry.
func (s *Service) Refresh(ctx context.Context, q Query) (*AggregationResult, error) {
	if err := q.Bounds.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	if q.Concurrency <= 0 {
		q.Concurrency = DefaultConcurrency
	}
	return s.refresh(ctx, q, q.key()), nil
}

func (s *Service) refresh(ctx context.Context, q Query, key string) *AggregationResult {
	start := s.clock.Now()
	logger := s.logger.With().Str("provider", s.provider.Name()).Str("bounds", q.Bounds.String()).Logger()

	result, err := s.detailed(ctx, q)
	if err == nil {
		s.entry.Store(&cacheEntry{
			key:       key,
			value:     result,
			expiresAt: s.clock.Now().Add(s.cacheTTL),
		})
		s.observer.Aggregated(ctx, SourceDetailed, s.clock.Since(start), result.ValidCount, result.ExcludedCount)
		logger.Info().
			Int("valid", result.ValidCount).
			Int("excluded", result.ExcludedCount).
			Float64("city_aqi", result.CityAQI.Or(0)).
			Msg("aggregate refreshed")
		return result
	}
	logger.Warn().Err(err).Msg("detailed aggregation failed")

	if e := s.entry.Load(); e != nil && e.key == key {
		stale := *e.value
		stale.Source = SourceStale
		s.observer.Aggregated(ctx, SourceStale, s.clock.Since(start), stale.ValidCount, stale.ExcludedCount)
		logger.Warn().
			Time("computed_at", e.value.ComputedAt).
			Msg("serving stale aggregate")
		return &stale
	}

	basic, basicErr := s.basic(ctx, q)
	if basicErr == nil {
		s.observer.Aggregated(ctx, SourceBasic, s.clock.Since(start), basic.ValidCount, basic.ExcludedCount)
		logger.Warn().Int("valid", basic.ValidCount).Msg("serving basic aggregate")
		return basic
	}
	logger.Error().Err(basicErr).Msg("basic aggregation failed")

	empty := Aggregate(SanitizedSet{}, AggregateOptions{Now: s.clock.Now(), Source: SourceEmpty})
	empty.Diagnostics = append(empty.Diagnostics, err.Error(), basicErr.Error())
	s.observer.Aggregated(ctx, SourceEmpty, s.clock.Since(start), 0, 0)
	return empty
}

// detailed is the full pass: bounds, per-station feeds, sanitize, aggregate.
// It fails when the bounds call fails, when every feed fails, or when no
// reading survives sanitization.
func (s *Service) detailed(ctx context.Context, q Query) (*AggregationResult, error) {
	raw, err := s.provider.FetchBounds(ctx, q.Bounds)
	if err != nil {
		return nil, err
	}

	uids := make([]string, len(raw))
	for i, r := range raw {
		uids[i] = r.UID
	}
	feeds := FetchFeeds(ctx, s.provider, uids, fanout.BatchOptions{
		Size:  q.Concurrency,
		Delay: s.batchDelay,
		Clock: s.clock,
	})

	var failed []error
	enriched := make([]StationReading, len(raw))
	for i, r := range raw {
		if feeds[i].Err != nil {
			failed = append(failed, feeds[i].Err)
			s.logger.Debug().Err(feeds[i].Err).Str("station_id", r.UID).Msg("station feed unavailable")
			enriched[i] = r
			continue
		}
		enriched[i] = r.WithFeed(feeds[i].Value)
	}
	s.observer.FeedsFetched(ctx, len(raw)-len(failed), len(failed))

	if len(raw) > 0 && len(failed) == len(raw) {
		return nil, fmt.Errorf("all %d station feeds failed: %w", len(raw), errors.Join(failed...))
	}

	result := s.aggregate(enriched, q, SourceDetailed)
	if !result.HasData() {
		return nil, fmt.Errorf("%w: %d stations", ErrInsufficientData, result.StationCount)
	}
	return result, nil
}

// basic aggregates the bounds listing alone, without feed fan-out.
func (s *Service) basic(ctx context.Context, q Query) (*AggregationResult, error) {
	raw, err := s.provider.FetchBounds(ctx, q.Bounds)
	if err != nil {
		return nil, err
	}
	result := s.aggregate(raw, q, SourceBasic)
	if !result.HasData() {
		return nil, fmt.Errorf("%w: %d stations", ErrInsufficientData, result.StationCount)
	}
	return result, nil
}

func (s *Service) aggregate(raw []StationReading, q Query, source Source) *AggregationResult {
	ref := q.reference()
	return Aggregate(s.sanitizer.Sanitize(raw), AggregateOptions{
		TrimFraction: s.trimFraction,
		Reference:    &ref,
		Now:          s.clock.Now(),
		Source:       source,
	})
}

// Invalidate clears the cached aggregate.
func (s *Service) Invalidate() {
	s.entry.Store(nil)
}

// CacheStatus represents the current state of the cache.
type CacheStatus struct {
	HasData    bool      `json:"hasData"`
	Key        string    `json:"key,omitempty"`
	ComputedAt time.Time `json:"computedAt,omitzero"`
	ExpiresAt  time.Time `json:"expiresAt,omitzero"`
	IsExpired  bool      `json:"isExpired"`
	ValidCount int       `json:"validCount"`
	Provider   string    `json:"provider"`
}

// CacheStatus returns information about the current cache state.
func (s *Service) CacheStatus() CacheStatus {
	e := s.entry.Load()
	if e == nil {
		return CacheStatus{Provider: s.provider.Name()}
	}
	return CacheStatus{
		HasData:    true,
		Key:        e.key,
		ComputedAt: e.value.ComputedAt,
		ExpiresAt:  e.expiresAt,
		IsExpired:  !s.clock.Now().Before(e.expiresAt),
		ValidCount: e.value.ValidCount,
		Provider:   s.provider.Name(),
	}
}
