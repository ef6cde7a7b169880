// Package history persists computed aggregates and forecasts for offline
// analysis. It is write-only from the pipeline's point of view.
package history

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/breatheroute/aqfusion/internal/airquality"
	"github.com/breatheroute/aqfusion/internal/features"
	"github.com/breatheroute/aqfusion/internal/modelservice"
	"github.com/breatheroute/aqfusion/pkg/optional"
)

// Repository stores history rows.
type Repository interface {
	// SaveAggregate stores one city aggregate.
	SaveAggregate(ctx context.Context, rec AggregateRecord) error

	// SaveForecast stores one station forecast with the features it used.
	SaveForecast(ctx context.Context, rec ForecastRecord) error
}

// AggregateRecord is a row of aq_aggregates.
type AggregateRecord struct {
	ID            uuid.UUID
	Bounds        string
	Source        airquality.Source
	CityAQI       optional.Float64
	Mean          optional.Float64
	TrimmedMean   optional.Float64
	WeightedMean  optional.Float64
	Min           optional.Float64
	Max           optional.Float64
	ValidCount    int
	ExcludedCount int
	StationCount  int
	ComputedAt    time.Time
	RecordedAt    time.Time
}

// NewAggregateRecord converts an aggregate into a history row.
func NewAggregateRecord(res *airquality.AggregationResult, bounds string, recordedAt time.Time) AggregateRecord {
	return AggregateRecord{
		ID:            uuid.New(),
		Bounds:        bounds,
		Source:        res.Source,
		CityAQI:       res.CityAQI,
		Mean:          res.Mean,
		TrimmedMean:   res.TrimmedMean,
		WeightedMean:  res.WeightedMean,
		Min:           res.Min,
		Max:           res.Max,
		ValidCount:    res.ValidCount,
		ExcludedCount: res.ExcludedCount,
		StationCount:  res.StationCount,
		ComputedAt:    res.ComputedAt,
		RecordedAt:    recordedAt,
	}
}

// ForecastRecord is a row of aq_forecasts.
type ForecastRecord struct {
	ID         uuid.UUID
	Station    string
	H6         optional.Float64
	H24        optional.Float64
	H48        optional.Float64
	H72        optional.Float64
	Features   json.RawMessage
	RecordedAt time.Time
}

// NewForecastRecord converts a forecast and its feature vector into a row.
func NewForecastRecord(station string, fc *modelservice.Forecast, vector features.Vector, recordedAt time.Time) (ForecastRecord, error) {
	data, err := json.Marshal(vector)
	if err != nil {
		return ForecastRecord{}, err
	}
	return ForecastRecord{
		ID:         uuid.New(),
		Station:    station,
		H6:         fc.H6,
		H24:        fc.H24,
		H48:        fc.H48,
		H72:        fc.H72,
		Features:   data,
		RecordedAt: recordedAt,
	}, nil
}
