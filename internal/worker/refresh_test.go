package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/aqfusion/internal/airquality"
	"github.com/breatheroute/aqfusion/internal/events"
	"github.com/breatheroute/aqfusion/internal/history"
	"github.com/breatheroute/aqfusion/internal/stations"
	"github.com/breatheroute/aqfusion/internal/weather"
	"github.com/breatheroute/aqfusion/internal/worker"
	"github.com/breatheroute/aqfusion/pkg/geo"
	"github.com/breatheroute/aqfusion/pkg/optional"
)

type stubAggregates struct {
	result *airquality.AggregationResult
	err    error
	calls  atomic.Int32
	query  airquality.Query
}

func (s *stubAggregates) Refresh(_ context.Context, q airquality.Query) (*airquality.AggregationResult, error) {
	s.calls.Add(1)
	s.query = q
	return s.result, s.err
}

type stubWeather struct {
	mu    sync.Mutex
	fail  map[geo.Point]bool
	calls []geo.Point
}

func (s *stubWeather) GetCurrentWeather(_ context.Context, p geo.Point) (*weather.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, p)
	if s.fail[p] {
		return nil, weather.ErrProviderUnavailable
	}
	return &weather.Observation{Location: p, Temperature: 18}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	err    error
	events []events.AggregateEvent
}

func (p *recordingPublisher) PublishAggregate(_ context.Context, ev events.AggregateEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func detailedResult() *airquality.AggregationResult {
	return &airquality.AggregationResult{
		CityAQI:    optional.Of(212),
		ValidCount: 14,
		Source:     airquality.SourceDetailed,
		ComputedAt: time.Date(2025, 11, 3, 8, 0, 0, 0, time.UTC),
	}
}

func twoPointConfig() worker.RefreshConfig {
	return worker.RefreshConfig{
		Query: airquality.Query{Bounds: worker.DelhiBounds},
		Targets: []worker.RefreshTarget{
			{Name: "East", Priority: 2, Points: []geo.Point{{Lat: 28.6469, Lon: 77.3160}}},
			{Name: "Central", Priority: 1, Points: []geo.Point{{Lat: 28.6280, Lon: 77.2410}}},
		},
		Concurrency:    2,
		Timeout:        time.Second,
		RefreshWeather: true,
	}
}

func TestDefaultRefreshConfig(t *testing.T) {
	cfg := worker.DefaultRefreshConfig()

	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, 2*time.Minute, cfg.Timeout)
	assert.True(t, cfg.RefreshWeather)
	assert.Equal(t, worker.DelhiBounds, cfg.Query.Bounds)
	assert.NoError(t, cfg.Query.Bounds.Validate())
	assert.NotEmpty(t, cfg.Targets)
}

func TestDefaultRefreshTargets_InsideBounds(t *testing.T) {
	cfg := worker.DefaultRefreshConfig()
	for _, p := range cfg.AllPoints() {
		assert.True(t, worker.DelhiBounds.Contains(p), "point %v outside Delhi bounds", p)
	}
	assert.Greater(t, cfg.TotalPoints(), 10)
}

func TestRefreshConfig_AllPoints_PriorityOrder(t *testing.T) {
	cfg := twoPointConfig()

	points := cfg.AllPoints()
	require.Len(t, points, 2)
	assert.Equal(t, geo.Point{Lat: 28.6280, Lon: 77.2410}, points[0])
	assert.Equal(t, 2, cfg.TotalPoints())
	assert.Equal(t, "East", cfg.Targets[0].Name, "targets are not reordered in place")
}

func TestTargetFromCatalog(t *testing.T) {
	cat, err := stations.DefaultCatalog()
	require.NoError(t, err)

	target := worker.TargetFromCatalog(cat, 1)
	assert.Equal(t, cat.City(), target.Name)
	assert.Len(t, target.Points, len(cat.All()))
	assert.Equal(t, 1, target.Priority)
}

func TestRefreshJob_Run(t *testing.T) {
	aggregates := &stubAggregates{result: detailedResult()}
	wx := &stubWeather{}
	repo := history.NewInMemoryRepository()
	pub := &recordingPublisher{}

	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config:     twoPointConfig(),
		Logger:     zerolog.Nop(),
		Aggregates: aggregates,
		Weather:    wx,
		History:    repo,
		Publisher:  pub,
	})

	result := job.Run(context.Background())

	assert.True(t, result.OK())
	assert.Empty(t, result.Errors)
	assert.Equal(t, 2, result.TotalPoints)
	assert.Equal(t, 2, result.Successful)
	assert.Equal(t, worker.DelhiBounds, aggregates.query.Bounds)

	require.Len(t, repo.Aggregates(), 1)
	assert.Equal(t, optional.Of(212), repo.Aggregates()[0].CityAQI)
	assert.Equal(t, worker.DelhiBounds.String(), repo.Aggregates()[0].Bounds)
	require.Len(t, pub.events, 1)
	assert.Equal(t, worker.DelhiBounds.String(), pub.events[0].Bounds)

	m := job.GetMetrics()
	assert.Equal(t, int64(1), m.TotalRuns)
	assert.Equal(t, int64(1), m.SuccessfulRuns)
	assert.Equal(t, int64(2), m.WeatherRefreshes)
	assert.Equal(t, int64(1), m.HistoryWrites)
	assert.Equal(t, int64(1), m.EventsPublished)
	assert.Equal(t, airquality.SourceDetailed, m.LastSource)
}

func TestRefreshJob_Run_EmptyAggregateIsNotRecorded(t *testing.T) {
	aggregates := &stubAggregates{result: &airquality.AggregationResult{Source: airquality.SourceEmpty}}
	repo := history.NewInMemoryRepository()
	pub := &recordingPublisher{}

	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config:     twoPointConfig(),
		Logger:     zerolog.Nop(),
		Aggregates: aggregates,
		History:    repo,
		Publisher:  pub,
	})

	result := job.Run(context.Background())

	assert.False(t, result.OK())
	require.Len(t, result.Errors, 1)
	assert.Equal(t, worker.StepAggregate, result.Errors[0].Step)
	assert.Equal(t, worker.ErrNoStationData.Error(), result.Errors[0].Error)
	assert.Empty(t, repo.Aggregates())
	assert.Empty(t, pub.events)
	assert.Equal(t, int64(1), job.GetMetrics().FailedRuns)
}

func TestRefreshJob_Run_ErrorCollection(t *testing.T) {
	failing := geo.Point{Lat: 28.6469, Lon: 77.3160}
	wx := &stubWeather{fail: map[geo.Point]bool{failing: true}}
	pub := &recordingPublisher{err: errors.New("leader not available")}

	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config:     twoPointConfig(),
		Logger:     zerolog.Nop(),
		Aggregates: &stubAggregates{result: detailedResult()},
		Weather:    wx,
		Publisher:  pub,
	})

	result := job.Run(context.Background())

	assert.True(t, result.OK(), "weather and publish failures do not fail the run")
	assert.Equal(t, 1, result.Successful)
	assert.Equal(t, 1, result.Failed)

	steps := map[string]int{}
	for _, e := range result.Errors {
		steps[e.Step]++
		if e.Step == worker.StepWeather {
			require.NotNil(t, e.Point)
			assert.Equal(t, failing, *e.Point)
		}
	}
	assert.Equal(t, map[string]int{worker.StepEvents: 1, worker.StepWeather: 1}, steps)
}

func TestRefreshJob_Run_RefreshError(t *testing.T) {
	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config:     twoPointConfig(),
		Logger:     zerolog.Nop(),
		Aggregates: &stubAggregates{err: airquality.ErrInvalidQuery},
	})

	result := job.Run(context.Background())

	assert.False(t, result.OK())
	assert.Nil(t, result.Aggregate)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, worker.StepAggregate, result.Errors[0].Step)
	assert.Zero(t, result.TotalPoints, "weather is skipped without a weather source")
}

func TestRefreshJob_Run_UsesClock(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 11, 3, 8, 0, 0, 0, time.UTC))
	repo := history.NewInMemoryRepository()

	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config:     twoPointConfig(),
		Logger:     zerolog.Nop(),
		Clock:      clock,
		Aggregates: &stubAggregates{result: detailedResult()},
		History:    repo,
	})

	result := job.Run(context.Background())

	assert.Equal(t, clock.Now(), result.StartTime)
	require.Len(t, repo.Aggregates(), 1)
	assert.Equal(t, clock.Now(), repo.Aggregates()[0].RecordedAt)
}

func TestRefreshJob_Check(t *testing.T) {
	ok := worker.NewRefreshJob(worker.RefreshJobConfig{
		Logger:     zerolog.Nop(),
		Aggregates: &stubAggregates{result: detailedResult()},
	})
	assert.NoError(t, ok.Check(context.Background()))

	empty := worker.NewRefreshJob(worker.RefreshJobConfig{
		Logger:     zerolog.Nop(),
		Aggregates: &stubAggregates{result: &airquality.AggregationResult{Source: airquality.SourceEmpty}},
	})
	assert.ErrorIs(t, empty.Check(context.Background()), worker.ErrNoStationData)
}

func TestNewRefreshJob_Defaults(t *testing.T) {
	aggregates := &stubAggregates{result: detailedResult()}
	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Logger:     zerolog.Nop(),
		Aggregates: aggregates,
	})

	job.Run(context.Background())
	assert.Equal(t, worker.DelhiBounds, aggregates.query.Bounds)
	assert.Equal(t, airquality.DefaultConcurrency, aggregates.query.Concurrency)
}

func TestRefreshJob_MetricsSnapshot(t *testing.T) {
	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config:     twoPointConfig(),
		Logger:     zerolog.Nop(),
		Aggregates: &stubAggregates{result: detailedResult()},
	})
	job.Run(context.Background())

	snapshot := job.MetricsSnapshot()
	assert.Equal(t, int64(1), snapshot["total_runs"])
	assert.Equal(t, "detailed", snapshot["last_source"])
	assert.Contains(t, snapshot, "last_refresh_duration")
}
