package handler_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/breatheroute/aqfusion/internal/airquality"
	"github.com/breatheroute/aqfusion/internal/api/models"
	"github.com/breatheroute/aqfusion/internal/pipeline"
	"github.com/breatheroute/aqfusion/pkg/geo"
	"github.com/breatheroute/aqfusion/pkg/optional"
)

var delhi = geo.BoundingBox{South: 28.4, West: 76.8, North: 28.9, East: 77.4}

type stubAggregates struct {
	result *airquality.AggregationResult
	err    error
	status airquality.CacheStatus
	calls  atomic.Int32
}

func (s *stubAggregates) GetAggregate(context.Context, airquality.Query) (*airquality.AggregationResult, error) {
	s.calls.Add(1)
	return s.result, s.err
}

func (s *stubAggregates) CacheStatus() airquality.CacheStatus {
	return s.status
}

type stubSnapshots struct {
	snapshot *pipeline.Snapshot
	forecast *pipeline.ForecastResult
	score    *pipeline.ScoreResult
	err      error
	last     pipeline.Request
}

func (s *stubSnapshots) Assemble(_ context.Context, req pipeline.Request) (*pipeline.Snapshot, error) {
	s.last = req
	return s.snapshot, s.err
}

func (s *stubSnapshots) Forecast(_ context.Context, req pipeline.Request) (*pipeline.ForecastResult, error) {
	s.last = req
	return s.forecast, s.err
}

func (s *stubSnapshots) Score(_ context.Context, req pipeline.Request) (*pipeline.ScoreResult, error) {
	s.last = req
	return s.score, s.err
}

func liveAggregate() *airquality.AggregationResult {
	rkPuram := geo.Point{Lat: 28.5633, Lon: 77.1869}
	anandVihar := geo.Point{Lat: 28.6469, Lon: 77.3160}
	observed := time.Date(2025, 11, 3, 7, 0, 0, 0, time.UTC)
	return &airquality.AggregationResult{
		CityAQI:       optional.Of(310),
		Median:        optional.Of(310),
		Mean:          optional.Of(305),
		TrimmedMean:   optional.Of(307),
		ValidCount:    2,
		StationCount:  3,
		ExcludedCount: 1,
		Stations: []airquality.StationReading{
			{
				UID: "2554", Name: "R.K. Puram, Delhi", Location: &rkPuram, AQI: optional.Of(280),
				Components: airquality.Components{PM25: optional.Of(180)},
				ObservedAt: &observed,
			},
			{UID: "10124", Name: "Anand Vihar, Delhi", Location: &anandVihar, AQI: optional.Of(340)},
		},
		Excluded: []airquality.Exclusion{
			{Reading: airquality.StationReading{UID: "99", Name: "Broken"}, Reason: airquality.ReasonUnparseableAQI, Detail: "-"},
		},
		Source:     airquality.SourceDetailed,
		ComputedAt: time.Date(2025, 11, 3, 8, 0, 0, 0, time.UTC),
	}
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) models.Problem {
	t.Helper()
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	return decodeBody[models.Problem](t, rec)
}
