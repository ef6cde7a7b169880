package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/breatheroute/aqfusion/internal/airquality"
	"github.com/breatheroute/aqfusion/internal/events"
	"github.com/breatheroute/aqfusion/internal/history"
	"github.com/breatheroute/aqfusion/internal/weather"
	"github.com/breatheroute/aqfusion/pkg/geo"
)

// ErrNoStationData marks a run whose aggregate fell all the way to empty.
var ErrNoStationData = errors.New("no station data")

// Refresh steps reported in RefreshError.Step.
const (
	StepAggregate = "aggregate"
	StepHistory   = "history"
	StepEvents    = "events"
	StepWeather   = "weather"
)

// AggregateRefresher recomputes an aggregate bypassing any cache.
// *airquality.Service implements it.
type AggregateRefresher interface {
	Refresh(ctx context.Context, q airquality.Query) (*airquality.AggregationResult, error)
}

// WeatherWarmer fetches current weather. *weather.Service implements it.
type WeatherWarmer interface {
	GetCurrentWeather(ctx context.Context, p geo.Point) (*weather.Observation, error)
}

// RefreshJob recomputes the city aggregate, records it, publishes it and
// warms the weather cache.
type RefreshJob struct {
	config RefreshConfig
	logger zerolog.Logger
	clock  clockwork.Clock

	aggregates AggregateRefresher
	weather    WeatherWarmer
	history    history.Repository
	publisher  events.Publisher

	metrics *RefreshMetrics
}

// RefreshMetrics tracks refresh job statistics.
type RefreshMetrics struct {
	mu sync.RWMutex

	// Counters
	TotalRuns          int64
	SuccessfulRuns     int64
	FailedRuns         int64
	AggregateRefreshes int64
	WeatherRefreshes   int64
	HistoryWrites      int64
	EventsPublished    int64

	// Timings
	LastRefreshAt       time.Time
	LastRefreshDuration time.Duration
	TotalDuration       time.Duration

	// LastSource is the fallback level of the latest aggregate.
	LastSource airquality.Source
}

// RefreshJobConfig holds configuration for creating a RefreshJob.
type RefreshJobConfig struct {
	Config     RefreshConfig
	Logger     zerolog.Logger
	Clock      clockwork.Clock
	Aggregates AggregateRefresher
	Weather    WeatherWarmer
	History    history.Repository
	Publisher  events.Publisher
}

// NewRefreshJob creates a new refresh job. Weather, History and Publisher
// are optional.
func NewRefreshJob(cfg RefreshJobConfig) *RefreshJob {
	config := cfg.Config
	defaults := DefaultRefreshConfig()
	if len(config.Targets) == 0 {
		config.Targets = defaults.Targets
	}
	if config.Query.Bounds == (geo.BoundingBox{}) {
		config.Query = defaults.Query
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	return &RefreshJob{
		config:     config,
		logger:     cfg.Logger,
		clock:      cfg.Clock,
		aggregates: cfg.Aggregates,
		weather:    cfg.Weather,
		history:    cfg.History,
		publisher:  cfg.Publisher,
		metrics:    &RefreshMetrics{},
	}
}

// RefreshResult contains the result of a refresh run.
type RefreshResult struct {
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	// Aggregate is nil when the refresh itself failed.
	Aggregate *airquality.AggregationResult

	TotalPoints int
	Successful  int
	Failed      int
	Errors      []RefreshError
}

// OK reports whether the aggregate was refreshed with station data.
// Weather and persistence failures do not fail a run.
func (r *RefreshResult) OK() bool {
	return r.Aggregate != nil && r.Aggregate.HasData()
}

// RefreshError represents an error during refresh.
type RefreshError struct {
	Step  string
	Point *geo.Point
	Error string
}

// Run executes one refresh.
func (j *RefreshJob) Run(ctx context.Context) *RefreshResult {
	startTime := j.clock.Now()
	result := &RefreshResult{StartTime: startTime}

	bounds := j.config.Query.Bounds.String()
	j.logger.Info().
		Str("bounds", bounds).
		Int("weather_points", j.weatherPointCount()).
		Msg("starting aggregate refresh job")

	j.refreshAggregate(ctx, result)

	if j.config.RefreshWeather && j.weather != nil {
		j.warmWeather(ctx, result)
	}

	result.EndTime = j.clock.Now()
	result.Duration = result.EndTime.Sub(startTime)

	j.updateMetrics(result)

	event := j.logger.Info()
	if !result.OK() {
		event = j.logger.Warn()
	}
	if result.Aggregate != nil {
		event = event.Str("source", string(result.Aggregate.Source)).
			Int("valid", result.Aggregate.ValidCount).
			Int("excluded", result.Aggregate.ExcludedCount)
	}
	event.
		Dur("duration", result.Duration).
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Int("errors", len(result.Errors)).
		Msg("aggregate refresh job completed")

	return result
}

func (j *RefreshJob) weatherPointCount() int {
	if !j.config.RefreshWeather || j.weather == nil {
		return 0
	}
	return j.config.TotalPoints()
}

func (j *RefreshJob) refreshAggregate(ctx context.Context, result *RefreshResult) {
	aggCtx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	res, err := j.aggregates.Refresh(aggCtx, j.config.Query)
	if err != nil {
		result.Errors = append(result.Errors, RefreshError{Step: StepAggregate, Error: err.Error()})
		return
	}
	result.Aggregate = res
	atomic.AddInt64(&j.metrics.AggregateRefreshes, 1)

	if !res.HasData() {
		result.Errors = append(result.Errors, RefreshError{Step: StepAggregate, Error: ErrNoStationData.Error()})
		return
	}

	bounds := j.config.Query.Bounds.String()
	if j.history != nil {
		rec := history.NewAggregateRecord(res, bounds, j.clock.Now())
		if err := j.history.SaveAggregate(ctx, rec); err != nil {
			j.logger.Error().Err(err).Msg("failed to record aggregate history")
			result.Errors = append(result.Errors, RefreshError{Step: StepHistory, Error: err.Error()})
		} else {
			atomic.AddInt64(&j.metrics.HistoryWrites, 1)
		}
	}
	if j.publisher != nil {
		if err := j.publisher.PublishAggregate(ctx, events.NewAggregateEvent(res, bounds)); err != nil {
			j.logger.Error().Err(err).Msg("failed to publish aggregate event")
			result.Errors = append(result.Errors, RefreshError{Step: StepEvents, Error: err.Error()})
		} else {
			atomic.AddInt64(&j.metrics.EventsPublished, 1)
		}
	}
}

type pointResult struct {
	point geo.Point
	err   error
}

func (j *RefreshJob) warmWeather(ctx context.Context, result *RefreshResult) {
	points := j.config.AllPoints()
	result.TotalPoints = len(points)

	pointsChan := make(chan geo.Point, len(points))
	resultsChan := make(chan pointResult, len(points))

	var wg sync.WaitGroup
	for i := 0; i < j.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.weatherWorker(ctx, pointsChan, resultsChan)
		}()
	}

	for _, p := range points {
		pointsChan <- p
	}
	close(pointsChan)

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	for pr := range resultsChan {
		if pr.err == nil {
			result.Successful++
			continue
		}
		result.Failed++
		point := pr.point
		result.Errors = append(result.Errors, RefreshError{Step: StepWeather, Point: &point, Error: pr.err.Error()})
	}
}

func (j *RefreshJob) weatherWorker(ctx context.Context, points <-chan geo.Point, results chan<- pointResult) {
	for point := range points {
		select {
		case <-ctx.Done():
			return
		default:
			results <- pointResult{point: point, err: j.refreshWeather(ctx, point)}
		}
	}
}

func (j *RefreshJob) refreshWeather(ctx context.Context, point geo.Point) error {
	pointCtx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	if _, err := j.weather.GetCurrentWeather(pointCtx, point); err != nil {
		return err
	}
	atomic.AddInt64(&j.metrics.WeatherRefreshes, 1)
	return nil
}

// Check recomputes the aggregate without recording or publishing it and
// fails when no station data came back.
func (j *RefreshJob) Check(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	res, err := j.aggregates.Refresh(checkCtx, j.config.Query)
	if err != nil {
		return err
	}
	if !res.HasData() {
		return ErrNoStationData
	}
	return nil
}

func (j *RefreshJob) updateMetrics(result *RefreshResult) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.TotalRuns++
	if result.OK() {
		j.metrics.SuccessfulRuns++
	} else {
		j.metrics.FailedRuns++
	}
	if result.Aggregate != nil {
		j.metrics.LastSource = result.Aggregate.Source
	}
	j.metrics.LastRefreshAt = result.EndTime
	j.metrics.LastRefreshDuration = result.Duration
	j.metrics.TotalDuration += result.Duration
}

// GetMetrics returns a copy of the current metrics.
func (j *RefreshJob) GetMetrics() RefreshMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return RefreshMetrics{
		TotalRuns:           j.metrics.TotalRuns,
		SuccessfulRuns:      j.metrics.SuccessfulRuns,
		FailedRuns:          j.metrics.FailedRuns,
		AggregateRefreshes:  atomic.LoadInt64(&j.metrics.AggregateRefreshes),
		WeatherRefreshes:    atomic.LoadInt64(&j.metrics.WeatherRefreshes),
		HistoryWrites:       atomic.LoadInt64(&j.metrics.HistoryWrites),
		EventsPublished:     atomic.LoadInt64(&j.metrics.EventsPublished),
		LastRefreshAt:       j.metrics.LastRefreshAt,
		LastRefreshDuration: j.metrics.LastRefreshDuration,
		TotalDuration:       j.metrics.TotalDuration,
		LastSource:          j.metrics.LastSource,
	}
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (j *RefreshJob) MetricsSnapshot() map[string]interface{} {
	m := j.GetMetrics()
	return map[string]interface{}{
		"total_runs":            m.TotalRuns,
		"successful_runs":       m.SuccessfulRuns,
		"failed_runs":           m.FailedRuns,
		"aggregate_refreshes":   m.AggregateRefreshes,
		"weather_refreshes":     m.WeatherRefreshes,
		"history_writes":        m.HistoryWrites,
		"events_published":      m.EventsPublished,
		"last_source":           string(m.LastSource),
		"last_refresh_at":       m.LastRefreshAt,
		"last_refresh_duration": m.LastRefreshDuration.String(),
		"total_duration":        m.TotalDuration.String(),
	}
}
