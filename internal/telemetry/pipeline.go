package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/breatheroute/aqfusion/internal/airquality"
)

// PipelineMeterName is the instrumentation scope of the pipeline instruments.
const PipelineMeterName = "github.com/breatheroute/aqfusion/internal/airquality"

// PipelineMetrics records aggregate pipeline events. It implements
// airquality.Observer.
type PipelineMetrics struct {
	cacheLookups        metric.Int64Counter
	feedFetches         metric.Int64Counter
	aggregations        metric.Int64Counter
	aggregationDuration metric.Float64Histogram
	excludedReadings    metric.Int64Counter
	validStations       metric.Int64Histogram
}

var _ airquality.Observer = (*PipelineMetrics)(nil)

// NewPipelineMetrics creates the pipeline instruments on meter.
func NewPipelineMetrics(meter metric.Meter) (*PipelineMetrics, error) {
	cacheLookups, err := meter.Int64Counter(
		"aq.cache.lookup",
		metric.WithDescription("Aggregate cache lookups by outcome"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	feedFetches, err := meter.Int64Counter(
		"aq.feed.fetch",
		metric.WithDescription("Station feed fetches by outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	aggregations, err := meter.Int64Counter(
		"aq.aggregation.total",
		metric.WithDescription("Aggregates computed by fallback level"),
		metric.WithUnit("{aggregate}"),
	)
	if err != nil {
		return nil, err
	}

	aggregationDuration, err := meter.Float64Histogram(
		"aq.aggregation.duration",
		metric.WithDescription("Time to produce an aggregate in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	excludedReadings, err := meter.Int64Counter(
		"aq.readings.excluded",
		metric.WithDescription("Readings dropped by the sanitizer"),
		metric.WithUnit("{reading}"),
	)
	if err != nil {
		return nil, err
	}

	validStations, err := meter.Int64Histogram(
		"aq.aggregation.valid_stations",
		metric.WithDescription("Valid stations behind each aggregate"),
		metric.WithUnit("{station}"),
	)
	if err != nil {
		return nil, err
	}

	return &PipelineMetrics{
		cacheLookups:        cacheLookups,
		feedFetches:         feedFetches,
		aggregations:        aggregations,
		aggregationDuration: aggregationDuration,
		excludedReadings:    excludedReadings,
		validStations:       validStations,
	}, nil
}

// CacheLookup records a cache hit or miss.
func (m *PipelineMetrics) CacheLookup(ctx context.Context, hit bool) {
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.Bool("cache.hit", hit)))
}

// FeedsFetched records the outcome of one batched feed fetch.
func (m *PipelineMetrics) FeedsFetched(ctx context.Context, ok, failed int) {
	if ok > 0 {
		m.feedFetches.Add(ctx, int64(ok), metric.WithAttributes(attribute.Bool("error", false)))
	}
	if failed > 0 {
		m.feedFetches.Add(ctx, int64(failed), metric.WithAttributes(attribute.Bool("error", true)))
	}
}

// Aggregated records one produced aggregate.
func (m *PipelineMetrics) Aggregated(ctx context.Context, source airquality.Source, elapsed time.Duration, valid, excluded int) {
	attrs := metric.WithAttributes(attribute.String("aq.source", string(source)))
	m.aggregations.Add(ctx, 1, attrs)
	m.aggregationDuration.Record(ctx, elapsed.Seconds(), attrs)
	m.validStations.Record(ctx, int64(valid), attrs)
	if excluded > 0 {
		m.excludedReadings.Add(ctx, int64(excluded))
	}
}
