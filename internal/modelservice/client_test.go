package modelservice_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/aqfusion/internal/exposure"
	"github.com/breatheroute/aqfusion/internal/features"
	"github.com/breatheroute/aqfusion/internal/modelservice"
	"github.com/breatheroute/aqfusion/pkg/optional"
)

var (
	_ features.SchemaProvider = (*modelservice.Client)(nil)
	_ exposure.SourceModel    = (*modelservice.Client)(nil)
)

func newClient(t *testing.T, handler http.HandlerFunc) *modelservice.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return modelservice.NewClient(modelservice.ClientConfig{
		BaseURL:    server.URL + "/",
		HTTPClient: http.DefaultClient,
	})
}

func TestClient_FeatureSchema(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/features", r.URL.Path)
		_, _ = w.Write([]byte(`{"features":["PM25_ug_m3","AQI_INDEX","WIND_SPEED"]}`))
	})

	names, err := client.FeatureSchema(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"PM25_ug_m3", "AQI_INDEX", "WIND_SPEED"}, names)
}

func TestClient_FeatureSchema_Empty(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"features":[]}`))
	})

	_, err := client.FeatureSchema(context.Background())
	assert.ErrorIs(t, err, modelservice.ErrModelUnavailable)
}

func TestClient_Forecast(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/forecast", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{"station_name":"ITO","data":{"PM25_ug_m3":40,"AQI_INDEX":120}}`, string(body))

		_, _ = w.Write([]byte(`{"forecast":{"6h":130.5,"24h":150,"48h":170,"72h":160}}`))
	})

	vector := features.Build([]string{"PM25_ug_m3", "AQI_INDEX"}, features.Inputs{
		PM25: optional.Of(40),
		AQI:  optional.Of(120),
	})
	forecast, err := client.Forecast(context.Background(), "ITO", vector)
	require.NoError(t, err)
	assert.Equal(t, optional.Of(130.5), forecast.H6)
	assert.Equal(t, optional.Of(150), forecast.H24)
	assert.Equal(t, optional.Of(170), forecast.H48)
	assert.Equal(t, optional.Of(160), forecast.H72)
}

func TestClient_Forecast_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"missing forecast", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"error":"model not loaded"}`))
		}},
		{"malformed", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newClient(t, tt.handler)
			_, err := client.Forecast(context.Background(), "ITO", nil)
			assert.ErrorIs(t, err, modelservice.ErrModelUnavailable)
		})
	}
}

func TestClient_SourceShares(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sources", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Anand Vihar", req["station_name"])
		assert.Equal(t, 310.0, req["current_aqi"])

		_, _ = w.Write([]byte(`{"success":true,"sources":{"traffic":40,"agriculture":20,"construction":20,"industry":10,"others":10}}`))
	})

	shares, err := client.SourceShares(context.Background(), "Anand Vihar", 310)
	require.NoError(t, err)
	assert.Equal(t, 20.0, shares["agriculture"])

	// The attributor maps model categories onto ours.
	b, err := exposure.ModelAttributor{Model: client}.Attribute(context.Background(), exposure.AttributionInput{
		StationName: "Anand Vihar",
		AQI:         310,
	})
	require.NoError(t, err)
	assert.Equal(t, 20.0, b.Stubble)
	assert.Equal(t, 20.0, b.Dust)
	assert.Equal(t, 10.0, b.Garbage)
}

func TestClient_SourceShares_Unsuccessful(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":false}`))
	})

	_, err := client.SourceShares(context.Background(), "ITO", 100)
	assert.ErrorIs(t, err, modelservice.ErrModelUnavailable)
}

func TestSchemaCache_WithClient(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	cache := features.NewSchemaCache(features.SchemaCacheConfig{Provider: client})

	schema, fromDefault := cache.Get(context.Background())
	assert.True(t, fromDefault)
	assert.Equal(t, features.DefaultSchema, schema)
}
