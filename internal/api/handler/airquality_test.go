package handler_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/aqfusion/internal/airquality"
	"github.com/breatheroute/aqfusion/internal/api/handler"
	"github.com/breatheroute/aqfusion/internal/api/models"
	"github.com/breatheroute/aqfusion/internal/stations"
)

func newAirQualityHandler(t *testing.T, aggregates *stubAggregates) *handler.AirQualityHandler {
	t.Helper()
	cat, err := stations.DefaultCatalog()
	require.NoError(t, err)
	return handler.NewAirQualityHandler(handler.AirQualityHandlerConfig{
		Aggregates: aggregates,
		Query:      airquality.Query{Bounds: delhi},
		Catalog:    cat,
	})
}

func TestRealtime(t *testing.T) {
	h := newAirQualityHandler(t, &stubAggregates{result: liveAggregate()})

	rec := httptest.NewRecorder()
	h.Realtime(rec, httptest.NewRequest(http.MethodGet, "/v1/air-quality/realtime", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=60", rec.Header().Get("Cache-Control"))

	body := decodeBody[models.RealtimeAirQuality](t, rec)
	require.NotNil(t, body.CityAQI)
	assert.Equal(t, 310.0, *body.CityAQI)
	assert.Equal(t, models.AggregateSourceDetailed, body.Source)
	assert.Equal(t, 2, body.ValidCount)
	require.NotNil(t, body.Advice)
	assert.Equal(t, "Very Poor", body.Advice.Level)
	assert.Nil(t, body.Statistics.WeightedMean)

	require.Len(t, body.Stations, 2)
	assert.Equal(t, "2554", body.Stations[0].StationID)
	require.NotNil(t, body.Stations[0].Pollutants.PM25)
	assert.Nil(t, body.Stations[0].Pollutants.NO2)
	assert.NotNil(t, body.Stations[0].ObservedAt)

	require.Len(t, body.Excluded, 1)
	assert.Equal(t, "unparseable_aqi", body.Excluded[0].Reason)
}

func TestRealtime_EmptyAggregate(t *testing.T) {
	h := newAirQualityHandler(t, &stubAggregates{result: &airquality.AggregationResult{Source: airquality.SourceEmpty}})

	rec := httptest.NewRecorder()
	h.Realtime(rec, httptest.NewRequest(http.MethodGet, "/v1/air-quality/realtime", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Cache-Control"), "only detailed aggregates are cacheable")
	assert.Contains(t, rec.Body.String(), `"cityAqi":null`)

	body := decodeBody[models.RealtimeAirQuality](t, rec)
	assert.Nil(t, body.Advice)
	assert.Equal(t, models.AggregateSourceEmpty, body.Source)
	assert.NotNil(t, body.Stations)
}

func TestRealtime_QueryError(t *testing.T) {
	h := newAirQualityHandler(t, &stubAggregates{err: airquality.ErrInvalidQuery})

	rec := httptest.NewRecorder()
	h.Realtime(rec, httptest.NewRequest(http.MethodGet, "/v1/air-quality/realtime", http.NoBody))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, models.ProblemTypeInternal, decodeProblem(t, rec).Type)
}

func TestListStations(t *testing.T) {
	h := newAirQualityHandler(t, &stubAggregates{result: liveAggregate()})

	rec := httptest.NewRecorder()
	h.ListStations(rec, httptest.NewRequest(http.MethodGet, "/v1/air-quality/stations", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[models.StationList](t, rec)
	assert.Equal(t, "Delhi", body.City)
	assert.NotEmpty(t, body.Items)

	byID := map[string]models.Station{}
	for _, s := range body.Items {
		byID[s.StationID] = s
	}
	require.Contains(t, byID, "2554")
	assert.True(t, byID["2554"].Live)
	require.NotNil(t, byID["2554"].AQI)
	assert.Equal(t, 280.0, *byID["2554"].AQI)

	require.Contains(t, byID, "8179")
	assert.False(t, byID["8179"].Live)
	assert.Nil(t, byID["8179"].AQI)
}

func TestMatchStation(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantID     string
		wantMethod models.MatchMethod
		matched    bool
	}{
		{name: "text against live", query: "?station=R+K+Puram", wantStatus: http.StatusOK, wantID: "2554", wantMethod: models.MatchMethodText, matched: true},
		{name: "text against catalog", query: "?station=Lodhi+Road", wantStatus: http.StatusOK, wantID: "8179", wantMethod: models.MatchMethodText, matched: true},
		{name: "nearest live", query: "?lat=28.65&lon=77.31", wantStatus: http.StatusOK, wantID: "10124", wantMethod: models.MatchMethodNearest, matched: true},
		{name: "no match", query: "?station=Mumbai", wantStatus: http.StatusOK},
		{name: "missing target", query: "", wantStatus: http.StatusBadRequest},
		{name: "lat without lon", query: "?lat=28.6", wantStatus: http.StatusBadRequest},
		{name: "lat out of range", query: "?lat=128.6&lon=77.2", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAirQualityHandler(t, &stubAggregates{result: liveAggregate()})

			rec := httptest.NewRecorder()
			h.MatchStation(rec, httptest.NewRequest(http.MethodGet, "/v1/air-quality/stations:match"+tt.query, http.NoBody))

			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantStatus != http.StatusOK {
				assert.Equal(t, models.ProblemTypeValidation, decodeProblem(t, rec).Type)
				return
			}
			body := decodeBody[models.StationMatch](t, rec)
			assert.Equal(t, tt.matched, body.Matched)
			if !tt.matched {
				assert.Nil(t, body.Station)
				return
			}
			require.NotNil(t, body.Station)
			assert.Equal(t, tt.wantID, body.Station.StationID)
			assert.Equal(t, tt.wantMethod, body.Station.Method)
			if tt.wantMethod == models.MatchMethodNearest {
				assert.NotNil(t, body.Station.DistanceKm)
			} else {
				assert.Nil(t, body.Station.DistanceKm)
			}
		})
	}
}

func TestMatchStation_AggregateFailure(t *testing.T) {
	h := newAirQualityHandler(t, &stubAggregates{err: errors.New("boom")})

	rec := httptest.NewRecorder()
	h.MatchStation(rec, httptest.NewRequest(http.MethodGet, "/v1/air-quality/stations:match?station=ITO", http.NoBody))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
