// Package modelservice provides a client for the forecasting model service:
// feature schema, AQI forecast and source attribution.
package modelservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/breatheroute/aqfusion/internal/features"
	"github.com/breatheroute/aqfusion/internal/provider/resilience"
	"github.com/breatheroute/aqfusion/pkg/optional"
)

// ProviderName identifies the model service in the provider registry.
const ProviderName = "model-service"

// ErrModelUnavailable is returned for any failed model service call.
var ErrModelUnavailable = errors.New("model service unavailable")

// ClientConfig holds configuration for the model service client.
type ClientConfig struct {
	// BaseURL is the model service base URL.
	BaseURL string

	// HTTPClient is the HTTP client to use.
	// If nil, a default resilient client will be created.
	HTTPClient HTTPDoer

	// Timeout for individual requests (default: 15s).
	Timeout time.Duration

	// Registry records provider health when the default client is created.
	Registry *resilience.Registry
}

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the model service.
type Client struct {
	baseURL    string
	httpClient HTTPDoer
}

// NewClient creates a new model service client.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 15 * time.Second
		}
		httpClient = resilience.NewClient(resilience.ClientConfig{
			Name:            ProviderName,
			Timeout:         timeout,
			MaxRetries:      2,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Registry:        cfg.Registry,
		})
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: httpClient,
	}
}

// Forecast is the predicted AQI per horizon.
type Forecast struct {
	H6  optional.Float64 `json:"6h"`
	H24 optional.Float64 `json:"24h"`
	H48 optional.Float64 `json:"48h"`
	H72 optional.Float64 `json:"72h"`
}

type schemaResponse struct {
	Features []string `json:"features"`
}

type forecastRequest struct {
	StationName string          `json:"station_name"`
	Data        features.Vector `json:"data"`
}

type forecastResponse struct {
	Forecast *Forecast `json:"forecast"`
}

type sourcesRequest struct {
	StationName string  `json:"station_name"`
	CurrentAQI  float64 `json:"current_aqi"`
}

type sourcesResponse struct {
	Success bool               `json:"success"`
	Sources map[string]float64 `json:"sources"`
}

// FeatureSchema returns the ordered feature names the model expects.
// It implements features.SchemaProvider.
func (c *Client) FeatureSchema(ctx context.Context) ([]string, error) {
	var out schemaResponse
	if err := c.call(ctx, http.MethodGet, "/features", nil, &out); err != nil {
		return nil, err
	}
	if len(out.Features) == 0 {
		return nil, fmt.Errorf("%w: empty feature schema", ErrModelUnavailable)
	}
	return out.Features, nil
}

// Forecast requests an AQI forecast for a station from its feature vector.
func (c *Client) Forecast(ctx context.Context, stationName string, vector features.Vector) (*Forecast, error) {
	var out forecastResponse
	req := forecastRequest{StationName: stationName, Data: vector}
	if err := c.call(ctx, http.MethodPost, "/forecast", req, &out); err != nil {
		return nil, err
	}
	if out.Forecast == nil {
		return nil, fmt.Errorf("%w: forecast missing from response", ErrModelUnavailable)
	}
	return out.Forecast, nil
}

// SourceShares returns the model's source attribution in percent, keyed by
// the model's category names. It implements exposure.SourceModel.
func (c *Client) SourceShares(ctx context.Context, stationName string, currentAQI float64) (map[string]float64, error) {
	var out sourcesResponse
	req := sourcesRequest{StationName: stationName, CurrentAQI: currentAQI}
	if err := c.call(ctx, http.MethodPost, "/sources", req, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, fmt.Errorf("%w: attribution unsuccessful", ErrModelUnavailable)
	}
	return out.Sources, nil
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	var req *http.Request
	var err error
	if reader != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, http.NoBody)
	}
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrModelUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s %s: status %d", ErrModelUnavailable, method, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrModelUnavailable, path, err)
	}
	return nil
}
