package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/breatheroute/aqfusion/pkg/geo"
)

// ScalarProviderName identifies the scalar fallback source.
const ScalarProviderName = "weather-fallback"

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ScalarClient reads a flat {temperature, humidity, wind_speed} document.
// Any of the three may be absent; a document with none of them is an error.
type ScalarClient struct {
	url        string
	httpClient HTTPDoer
	timeout    time.Duration
	now        func() time.Time
}

// ScalarClientConfig configures a ScalarClient.
type ScalarClientConfig struct {
	URL        string
	HTTPClient HTTPDoer
	Timeout    time.Duration // default 8s
}

// NewScalarClient creates a fallback weather client.
func NewScalarClient(cfg ScalarClientConfig) *ScalarClient {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 8 * time.Second
	}
	return &ScalarClient{url: cfg.URL, httpClient: hc, timeout: timeout, now: time.Now}
}

// Name returns the provider name.
func (c *ScalarClient) Name() string {
	return ScalarProviderName
}

type scalarResponse struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	WindSpeed   *float64 `json:"wind_speed"`
}

// GetCurrentWeather implements Provider.
func (c *ScalarClient) GetCurrentWeather(ctx context.Context, p geo.Point) (*Observation, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("parsing fallback url: %w", err)
	}
	q := u.Query()
	q.Set("lat", strconv.FormatFloat(p.Lat, 'f', 4, 64))
	q.Set("lon", strconv.FormatFloat(p.Lon, 'f', 4, 64))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var body scalarResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if body.Temperature == nil && body.Humidity == nil && body.WindSpeed == nil {
		return nil, ErrNoData
	}

	now := c.now()
	obs := &Observation{
		Location:   p,
		Condition:  ConditionUnknown,
		Source:     ScalarProviderName,
		ObservedAt: now,
		FetchedAt:  now,
	}
	if body.Temperature != nil {
		obs.Temperature = *body.Temperature
	}
	if body.Humidity != nil {
		obs.Humidity = *body.Humidity
	}
	if body.WindSpeed != nil {
		obs.WindSpeed = *body.WindSpeed
	}
	return obs, nil
}
