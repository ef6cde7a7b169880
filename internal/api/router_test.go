package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/aqfusion/internal/airquality"
	"github.com/breatheroute/aqfusion/internal/api"
	"github.com/breatheroute/aqfusion/internal/exposure"
	"github.com/breatheroute/aqfusion/internal/features"
	"github.com/breatheroute/aqfusion/internal/modelservice"
	"github.com/breatheroute/aqfusion/internal/pipeline"
	"github.com/breatheroute/aqfusion/internal/stations"
	"github.com/breatheroute/aqfusion/pkg/geo"
	"github.com/breatheroute/aqfusion/pkg/optional"
)

var delhi = geo.BoundingBox{South: 28.4, West: 76.8, North: 28.9, East: 77.4}

type fakeAggregates struct{}

func (fakeAggregates) GetAggregate(context.Context, airquality.Query) (*airquality.AggregationResult, error) {
	ito := geo.Point{Lat: 28.6286, Lon: 77.2410}
	return &airquality.AggregationResult{
		CityAQI:    optional.Of(240),
		ValidCount: 1,
		Stations: []airquality.StationReading{
			{UID: "10111", Name: "ITO, Delhi", Location: &ito, AQI: optional.Of(240)},
		},
		Source:     airquality.SourceDetailed,
		ComputedAt: time.Now(),
	}, nil
}

func (fakeAggregates) CacheStatus() airquality.CacheStatus {
	return airquality.CacheStatus{HasData: true, ValidCount: 1, Provider: "waqi"}
}

type fakeSnapshots struct{}

func (fakeSnapshots) Assemble(_ context.Context, req pipeline.Request) (*pipeline.Snapshot, error) {
	return &pipeline.Snapshot{
		Request:  req,
		CityAQI:  optional.Of(240),
		Inputs:   features.Inputs{AQI: optional.Of(240)},
		Features: features.Vector{{Name: "AQI", Value: 240}},
	}, nil
}

func (f fakeSnapshots) Forecast(ctx context.Context, req pipeline.Request) (*pipeline.ForecastResult, error) {
	snap, _ := f.Assemble(ctx, req)
	return &pipeline.ForecastResult{
		Station:  "ITO, Delhi",
		Forecast: &modelservice.Forecast{H24: optional.Of(260)},
		Snapshot: snap,
	}, nil
}

func (f fakeSnapshots) Score(ctx context.Context, req pipeline.Request) (*pipeline.ScoreResult, error) {
	snap, _ := f.Assemble(ctx, req)
	score := exposure.Assess(ctx, exposure.HeuristicAttributor{}, exposure.AttributionInput{AQI: 240})
	return &pipeline.ScoreResult{Score: score, Snapshot: snap}, nil
}

func newTestRouter(t *testing.T, mutate func(*api.RouterConfig)) http.Handler {
	t.Helper()
	cat, err := stations.DefaultCatalog()
	require.NoError(t, err)

	cfg := api.RouterConfig{
		Version:    "test",
		BuildTime:  "now",
		Logger:     zerolog.Nop(),
		Aggregates: fakeAggregates{},
		Snapshots:  fakeSnapshots{},
		Query:      airquality.Query{Bounds: delhi},
		Catalog:    cat,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return api.NewRouter(cfg)
}

func TestRouter_Routes(t *testing.T) {
	router := newTestRouter(t, nil)

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/v1/ops/health", "", http.StatusOK},
		{http.MethodGet, "/v1/ops/ready", "", http.StatusOK},
		{http.MethodGet, "/v1/ops/status", "", http.StatusOK},
		{http.MethodGet, "/v1/air-quality/realtime", "", http.StatusOK},
		{http.MethodGet, "/v1/air-quality/stations", "", http.StatusOK},
		{http.MethodGet, "/v1/air-quality/stations:match?station=ITO", "", http.StatusOK},
		{http.MethodGet, "/v1/features?station=ITO", "", http.StatusOK},
		{http.MethodGet, "/v1/forecast?station=ITO", "", http.StatusOK},
		{http.MethodGet, "/v1/exposure/advice", "", http.StatusOK},
		{http.MethodGet, "/v1/exposure/sources", "", http.StatusOK},
		{http.MethodPost, "/v1/exposure/route", `{"points":[{"lat":28.62,"lon":77.24}]}`, http.StatusOK},
		{http.MethodGet, "/v1/exposure/route", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/v1/unknown", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRouter_GlobalHeaders(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody))

	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestRouter_RouteRequiresJSON(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/exposure/route", strings.NewReader(`{"points":[]}`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestRouter_RequireTLS(t *testing.T) {
	router := newTestRouter(t, func(cfg *api.RouterConfig) { cfg.RequireTLS = true })

	plain := httptest.NewRequest(http.MethodGet, "/v1/air-quality/realtime", http.NoBody)
	plain.Header.Set("X-Forwarded-Proto", "http")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, plain)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/air-quality/realtime", http.NoBody)
	req.Header.Set("X-Forwarded-Proto", "https")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_RateLimit(t *testing.T) {
	router := newTestRouter(t, func(cfg *api.RouterConfig) { cfg.RateLimit = 2 })

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/v1/air-quality/realtime", http.NoBody)
		req.RemoteAddr = "203.0.113.7:4000"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code, "ops endpoints are not rate limited")
}
