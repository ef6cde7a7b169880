package waqi_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/aqfusion/internal/airquality"
	"github.com/breatheroute/aqfusion/internal/airquality/waqi"
	"github.com/breatheroute/aqfusion/internal/provider/resilience"
	"github.com/breatheroute/aqfusion/pkg/fanout"
	"github.com/breatheroute/aqfusion/pkg/geo"
	"github.com/breatheroute/aqfusion/pkg/optional"
)

const boundsBody = `{
  "status": "ok",
  "data": [
    {"lat": 28.563, "lon": 77.186, "uid": 2554, "aqi": "182",
     "station": {"name": "R.K. Puram, Delhi, India", "time": "2024-11-04T09:00:00+05:30"}},
    {"uid": 10124, "aqi": 205,
     "station": {"name": "Anand Vihar, Delhi, India", "geo": [28.647, 77.316], "time": "2024-11-04 09:00:00"}},
    {"lat": 28.588, "lon": 77.221, "uid": 8179, "aqi": "-",
     "station": {"name": "Lodhi Road, Delhi, India"}}
  ]
}`

const feedBody = `{
  "status": "ok",
  "data": {
    "aqi": 182,
    "idx": 2554,
    "iaqi": {"pm25": {"v": 91}, "pm10": {"v": 160}, "no2": {"v": 22.4}, "co": {"v": 1.1}},
    "time": {"iso": "2024-11-04T09:00:00+05:30"}
  }
}`

func newClient(t *testing.T, handler http.HandlerFunc) *waqi.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return waqi.NewClient(waqi.ClientConfig{
		BaseURL:    server.URL,
		Token:      "test-token",
		HTTPClient: http.DefaultClient,
	})
}

func TestClient_FetchBounds(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/map/bounds", r.URL.Path)
		assert.Equal(t, "28.4,76.8,28.9,77.4", r.URL.Query().Get("latlng"))
		assert.Equal(t, "test-token", r.URL.Query().Get("token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(boundsBody))
	})

	readings, err := client.FetchBounds(context.Background(), geo.BoundingBox{South: 28.4, West: 76.8, North: 28.9, East: 77.4})
	require.NoError(t, err)
	require.Len(t, readings, 3)

	assert.Equal(t, "2554", readings[0].UID)
	assert.Equal(t, "R.K. Puram, Delhi, India", readings[0].Name)
	assert.Equal(t, "182", readings[0].RawAQI)
	require.NotNil(t, readings[0].Location)
	assert.InDelta(t, 28.563, readings[0].Location.Lat, 1e-9)
	require.NotNil(t, readings[0].ObservedAt)
	assert.Equal(t, time.Date(2024, 11, 4, 3, 30, 0, 0, time.UTC), readings[0].ObservedAt.UTC())

	// Numeric AQI and station.geo coordinates.
	assert.Equal(t, "205", readings[1].RawAQI)
	require.NotNil(t, readings[1].Location)
	assert.InDelta(t, 77.316, readings[1].Location.Lon, 1e-9)
	// Zone-less times are station-local (IST by default).
	require.NotNil(t, readings[1].ObservedAt)
	assert.Equal(t, time.Date(2024, 11, 4, 3, 30, 0, 0, time.UTC), readings[1].ObservedAt.UTC())
	assert.Equal(t, "2024-11-04 09:00:00", readings[1].RawTime)

	// Sentinel AQI is passed through untouched for the sanitizer.
	assert.Equal(t, "-", readings[2].RawAQI)
	assert.Nil(t, readings[2].ObservedAt)
	assert.False(t, readings[2].AQI.IsSet())
}

func TestClient_FetchBounds_Timestamps(t *testing.T) {
	const body = `{
  "status": "ok",
  "data": [
    {"uid": 1, "aqi": "150", "station": {"name": "A", "time": "yesterday-ish"}},
    {"uid": 2, "aqi": "150", "station": {"name": "B", "time": "2024-11-04 06:00:00"}},
    {"uid": 3, "aqi": "150", "station": {"name": "C", "time": "2024-11-04T06:00:00Z"}}
  ]
}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	tests := []struct {
		name     string
		location *time.Location
		wantB    time.Time
	}{
		{"default IST", nil, time.Date(2024, 11, 4, 0, 30, 0, 0, time.UTC)},
		{"configured UTC", time.UTC, time.Date(2024, 11, 4, 6, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := waqi.NewClient(waqi.ClientConfig{
				BaseURL:    server.URL,
				HTTPClient: http.DefaultClient,
				Location:   tt.location,
			})

			readings, err := client.FetchBounds(context.Background(), geo.BoundingBox{South: 28.4, West: 76.8, North: 28.9, East: 77.4})
			require.NoError(t, err)
			require.Len(t, readings, 3)

			assert.Nil(t, readings[0].ObservedAt)
			assert.Equal(t, "yesterday-ish", readings[0].RawTime)

			require.NotNil(t, readings[1].ObservedAt)
			assert.Equal(t, tt.wantB, readings[1].ObservedAt.UTC())

			require.NotNil(t, readings[2].ObservedAt)
			assert.Equal(t, time.Date(2024, 11, 4, 6, 0, 0, 0, time.UTC), readings[2].ObservedAt.UTC())
		})
	}
}

func TestClient_FetchBounds_SanitizedInStationTime(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
  "status": "ok",
  "data": [
    {"uid": 1, "aqi": "150", "station": {"name": "garbage time", "time": "yesterday-ish"}},
    {"uid": 2, "aqi": "150", "station": {"name": "three hours old", "time": "2024-11-04 06:00:00"}},
    {"uid": 3, "aqi": "150", "station": {"name": "fresh", "time": "2024-11-04 08:45:00"}}
  ]
}`))
	})
	// 09:00 IST.
	clock := clockwork.NewFakeClockAt(time.Date(2024, 11, 4, 3, 30, 0, 0, time.UTC))
	sanitizer := airquality.NewSanitizer(airquality.SanitizerConfig{Clock: clock})

	readings, err := client.FetchBounds(context.Background(), geo.BoundingBox{South: 28.4, West: 76.8, North: 28.9, East: 77.4})
	require.NoError(t, err)
	set := sanitizer.Sanitize(readings)

	require.Len(t, set.Readings, 1)
	assert.Equal(t, "fresh", set.Readings[0].Name)

	reasons := map[string]airquality.ExclusionReason{}
	for _, e := range set.Excluded {
		reasons[e.Reading.Name] = e.Reason
	}
	assert.Equal(t, map[string]airquality.ExclusionReason{
		"garbage time":    airquality.ReasonUnparseableTime,
		"three hours old": airquality.ReasonStale,
	}, reasons)
}

func TestClient_FetchStationFeed_LocalTimeWithOffset(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
  "status": "ok",
  "data": {"aqi": 140, "idx": 8179, "iaqi": {}, "time": {"s": "2024-11-04 09:00:00", "tz": "+05:30"}}
}`))
	})

	feed, err := client.FetchStationFeed(context.Background(), "8179")
	require.NoError(t, err)
	assert.Equal(t, "2024-11-04 09:00:00", feed.RawTime)
	require.NotNil(t, feed.ObservedAt)
	assert.Equal(t, time.Date(2024, 11, 4, 3, 30, 0, 0, time.UTC), feed.ObservedAt.UTC())
}

func TestClient_FetchStationFeed(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/feed/@2554/", r.URL.Path)
		_, _ = w.Write([]byte(feedBody))
	})

	feed, err := client.FetchStationFeed(context.Background(), "2554")
	require.NoError(t, err)

	assert.Equal(t, "2554", feed.UID)
	assert.Equal(t, "182", feed.RawAQI)
	assert.Equal(t, optional.Of(91), feed.Components.PM25)
	assert.Equal(t, optional.Of(160), feed.Components.PM10)
	assert.Equal(t, optional.Of(22.4), feed.Components.NO2)
	assert.Equal(t, optional.Of(1.1), feed.Components.CO)
	assert.False(t, feed.Components.O3.IsSet())
	require.NotNil(t, feed.ObservedAt)
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"non-OK status", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}},
		{"api error status", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"status":"error","data":"Invalid key"}`))
		}},
		{"malformed body", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"status":"ok","data":`))
		}},
		{"wrong data shape", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"status":"ok","data":{"uid":1}}`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newClient(t, tt.handler)
			_, err := client.FetchBounds(context.Background(), geo.BoundingBox{South: 1, West: 1, North: 2, East: 2})
			require.Error(t, err)
			assert.ErrorIs(t, err, airquality.ErrProviderUnavailable)

			var perr *airquality.ProviderError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, waqi.ProviderName, perr.Provider)
			assert.Equal(t, "bounds", perr.Op)
		})
	}
}

func TestClient_PerCallTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	client := waqi.NewClient(waqi.ClientConfig{
		BaseURL:    server.URL,
		HTTPClient: http.DefaultClient,
		Timeout:    50 * time.Millisecond,
	})

	start := time.Now()
	_, err := client.FetchStationFeed(context.Background(), "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClient_FetchFeeds_IndependentFailures(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/feed/@2/" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(feedBody))
	})

	results := airquality.FetchFeeds(context.Background(), client, []string{"1", "2", "3"}, fanout.BatchOptions{Size: 2})
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, airquality.ErrProviderUnavailable)
	assert.NoError(t, results[2].Err)
	assert.Equal(t, "3", results[2].Value.UID)
}

func TestClient_DefaultHTTPClientRegistersHealth(t *testing.T) {
	registry := resilience.NewRegistry(resilience.RegistryConfig{})
	client := waqi.NewClient(waqi.ClientConfig{BaseURL: "http://127.0.0.1:0", Registry: registry})

	assert.Equal(t, waqi.ProviderName, client.Name())
	_, ok := registry.Health(waqi.ProviderName)
	assert.True(t, ok)
}
