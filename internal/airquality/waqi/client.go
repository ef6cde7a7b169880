// Package waqi provides a client for the World Air Quality Index API.
package waqi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/breatheroute/aqfusion/internal/airquality"
	"github.com/breatheroute/aqfusion/internal/provider/resilience"
	"github.com/breatheroute/aqfusion/pkg/geo"
	"github.com/breatheroute/aqfusion/pkg/optional"
)

const (
	// DefaultBaseURL is the base URL for the WAQI API.
	DefaultBaseURL = "https://api.waqi.info"

	// ProviderName identifies this provider.
	ProviderName = "waqi"

	// DefaultTimeout bounds each individual API call.
	DefaultTimeout = 8 * time.Second
)

// DefaultLocation is India Standard Time, which has no daylight saving.
var DefaultLocation = time.FixedZone("IST", 5*60*60+30*60)

// ClientConfig holds configuration for the WAQI client.
type ClientConfig struct {
	// BaseURL is the API base URL (defaults to DefaultBaseURL).
	BaseURL string

	// Token is the API token.
	Token string

	// HTTPClient is the HTTP client to use.
	// If nil, a resilient client without retries is created.
	HTTPClient HTTPDoer

	// Timeout for individual API requests (default: 8s).
	Timeout time.Duration

	// Registry records provider health when the default client is created.
	Registry *resilience.Registry

	// Location is the zone of timestamps sent without an offset
	// (default: DefaultLocation). WAQI reports those in station-local time.
	Location *time.Location
}

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a WAQI API client. It implements airquality.Provider.
type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	location   *time.Location
	httpClient HTTPDoer
}

// NewClient creates a new WAQI client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	location := cfg.Location
	if location == nil {
		location = DefaultLocation
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// Retry and fallback decisions belong to the aggregate cache.
		httpClient = resilience.NewClient(resilience.ClientConfig{
			Name:     ProviderName,
			Timeout:  timeout,
			NoRetry:  true,
			Registry: cfg.Registry,
		})
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      cfg.Token,
		timeout:    timeout,
		location:   location,
		httpClient: httpClient,
	}
}

// Name implements airquality.Provider.
func (c *Client) Name() string {
	return ProviderName
}

// API response types (from the WAQI API).

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type boundsStation struct {
	UID     int       `json:"uid"`
	Lat     *float64  `json:"lat"`
	Lon     *float64  `json:"lon"`
	AQI     flexValue `json:"aqi"`
	Station struct {
		Name string    `json:"name"`
		Geo  []float64 `json:"geo"`
		Time string    `json:"time"`
	} `json:"station"`
}

type feedData struct {
	AQI  flexValue            `json:"aqi"`
	IDx  int                  `json:"idx"`
	IAQI map[string]iaqiValue `json:"iaqi"`
	Time struct {
		ISO   string `json:"iso"`
		Local string `json:"s"`
		TZ    string `json:"tz"`
	} `json:"time"`
}

type iaqiValue struct {
	V *float64 `json:"v"`
}

// flexValue keeps an AQI exactly as sent. WAQI reports it as a number, a
// numeric string, or "-".
type flexValue string

func (f *flexValue) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexValue(s)
		return nil
	}
	*f = flexValue(data)
	return nil
}

// FetchBounds lists the stations inside a bounding box.
func (c *Client) FetchBounds(ctx context.Context, bounds geo.BoundingBox) ([]airquality.StationReading, error) {
	q := url.Values{}
	q.Set("latlng", fmt.Sprintf("%g,%g,%g,%g", bounds.South, bounds.West, bounds.North, bounds.East))
	q.Set("token", c.token)

	var stations []boundsStation
	if err := c.get(ctx, "bounds", "/map/bounds?"+q.Encode(), &stations); err != nil {
		return nil, err
	}

	readings := make([]airquality.StationReading, 0, len(stations))
	for _, s := range stations {
		readings = append(readings, c.toReading(s))
	}
	return readings, nil
}

// FetchStationFeed fetches the detailed feed of one station.
func (c *Client) FetchStationFeed(ctx context.Context, uid string) (airquality.StationFeed, error) {
	q := url.Values{}
	q.Set("token", c.token)

	var data feedData
	if err := c.get(ctx, "feed", "/feed/@"+url.PathEscape(uid)+"/?"+q.Encode(), &data); err != nil {
		return airquality.StationFeed{}, err
	}
	return c.toFeed(uid, data), nil
}

// get performs one call under its own timeout and decodes the data member
// of a successful envelope into out.
func (c *Client) get(ctx context.Context, op, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return c.fail(op, fmt.Errorf("create request: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.fail(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.fail(op, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return c.fail(op, fmt.Errorf("decode response: %w", err))
	}
	if env.Status != "ok" {
		var msg string
		_ = json.Unmarshal(env.Data, &msg)
		return c.fail(op, fmt.Errorf("api status %q: %s", env.Status, msg))
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return c.fail(op, fmt.Errorf("decode data: %w", err))
	}
	return nil
}

func (c *Client) fail(op string, err error) error {
	return &airquality.ProviderError{Provider: ProviderName, Op: op, Err: err}
}

func (c *Client) toReading(s boundsStation) airquality.StationReading {
	r := airquality.StationReading{
		UID:        strconv.Itoa(s.UID),
		Name:       s.Station.Name,
		RawAQI:     strings.TrimSpace(string(s.AQI)),
		RawTime:    strings.TrimSpace(s.Station.Time),
		ObservedAt: c.parseTime(s.Station.Time, ""),
	}
	switch {
	case s.Lat != nil && s.Lon != nil:
		r.Location = &geo.Point{Lat: *s.Lat, Lon: *s.Lon}
	case len(s.Station.Geo) == 2:
		r.Location = &geo.Point{Lat: s.Station.Geo[0], Lon: s.Station.Geo[1]}
	}
	return r
}

func (c *Client) toFeed(uid string, d feedData) airquality.StationFeed {
	iaqi := func(key string) optional.Float64 {
		v, ok := d.IAQI[key]
		if !ok {
			return optional.None()
		}
		return optional.FromPtr(v.V)
	}
	raw := strings.TrimSpace(d.Time.ISO)
	if raw == "" {
		raw = strings.TrimSpace(d.Time.Local)
	}
	return airquality.StationFeed{
		UID:    uid,
		RawAQI: strings.TrimSpace(string(d.AQI)),
		Components: airquality.Components{
			PM25: iaqi("pm25"),
			PM10: iaqi("pm10"),
			NO2:  iaqi("no2"),
			O3:   iaqi("o3"),
			SO2:  iaqi("so2"),
			CO:   iaqi("co"),
			NH3:  iaqi("nh3"),
		},
		RawTime:    raw,
		ObservedAt: c.parseTime(raw, d.Time.TZ),
	}
}

// parseTime accepts RFC 3339 and the zone-less "2006-01-02 15:04:05" form.
// A zone-less time is read in the station offset tz ("+05:30") when given,
// otherwise in the client location. It returns nil when s does not parse.
func (c *Client) parseTime(s, tz string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t
	}
	loc := c.location
	if offset, ok := parseOffset(tz); ok {
		loc = offset
	}
	if t, err := time.ParseInLocation(time.DateTime, s, loc); err == nil {
		return &t
	}
	return nil
}

func parseOffset(tz string) (*time.Location, bool) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return nil, false
	}
	t, err := time.Parse("-07:00", tz)
	if err != nil {
		return nil, false
	}
	_, offset := t.Zone()
	return time.FixedZone(tz, offset), true
}
