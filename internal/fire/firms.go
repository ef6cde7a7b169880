package fire

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/breatheroute/aqfusion/internal/provider/resilience"
	"github.com/breatheroute/aqfusion/pkg/geo"
)

const (
	// FIRMSProviderName identifies the NASA FIRMS area API.
	FIRMSProviderName = "firms"

	// DefaultFIRMSBaseURL is the FIRMS API base URL.
	DefaultFIRMSBaseURL = "https://firms.modaps.eosdis.nasa.gov"

	// DefaultFIRMSSource is the satellite product queried.
	DefaultFIRMSSource = "VIIRS_SNPP_NRT"

	// ScalarProviderName identifies the scalar fallback source.
	ScalarProviderName = "fire-fallback"

	defaultTimeout = 8 * time.Second
)

// FIRMSConfig configures a FIRMSClient.
type FIRMSConfig struct {
	BaseURL    string
	MapKey     string
	Source     string
	DayRange   int           // default 1
	Timeout    time.Duration // default 8s
	HTTPClient HTTPDoer

	// Registry records provider health when the default client is created.
	Registry *resilience.Registry
}

// FIRMSClient counts rows of the FIRMS area CSV.
type FIRMSClient struct {
	baseURL    string
	mapKey     string
	source     string
	dayRange   int
	timeout    time.Duration
	httpClient HTTPDoer
}

// NewFIRMSClient creates a FIRMS client.
func NewFIRMSClient(cfg FIRMSConfig) *FIRMSClient {
	c := &FIRMSClient{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		mapKey:     cfg.MapKey,
		source:     cfg.Source,
		dayRange:   cfg.DayRange,
		timeout:    cfg.Timeout,
		httpClient: cfg.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultFIRMSBaseURL
	}
	if c.source == "" {
		c.source = DefaultFIRMSSource
	}
	if c.dayRange <= 0 {
		c.dayRange = 1
	}
	if c.timeout == 0 {
		c.timeout = defaultTimeout
	}
	if c.httpClient == nil {
		rc := resilience.DefaultClientConfig(FIRMSProviderName)
		rc.NoRetry = true
		rc.Registry = cfg.Registry
		c.httpClient = resilience.NewClient(rc)
	}
	return c
}

// Name returns the provider name.
func (c *FIRMSClient) Name() string {
	return FIRMSProviderName
}

// FireCount implements Counter. FIRMS answers errors with a plain-text body,
// so a response without a latitude header column is rejected.
func (c *FIRMSClient) FireCount(ctx context.Context, box geo.BoundingBox) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	area := fmt.Sprintf("%g,%g,%g,%g", box.West, box.South, box.East, box.North)
	endpoint := fmt.Sprintf("%s/api/area/csv/%s/%s/%s/%d",
		c.baseURL, url.PathEscape(c.mapKey), c.source, area, c.dayRange)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return CountRows(resp.Body)
}

// CountRows counts the data rows of a FIRMS CSV document.
func CountRows(r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("%w: empty body", ErrMalformed)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if !hasColumn(header, "latitude") {
		return 0, fmt.Errorf("%w: unexpected header %q", ErrMalformed, strings.Join(header, ","))
	}

	rows := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		if len(record) < len(header) {
			return 0, fmt.Errorf("%w: short row %d", ErrMalformed, rows+1)
		}
		rows++
	}
	return rows, nil
}

func hasColumn(header []string, name string) bool {
	for _, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return true
		}
	}
	return false
}

// ScalarClient reads a flat {fire_count} document.
type ScalarClient struct {
	url        string
	timeout    time.Duration
	httpClient HTTPDoer
}

// NewScalarClient creates a fallback fire count client.
func NewScalarClient(rawURL string, hc HTTPDoer) *ScalarClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &ScalarClient{url: rawURL, timeout: defaultTimeout, httpClient: hc}
}

// Name returns the provider name.
func (c *ScalarClient) Name() string {
	return ScalarProviderName
}

// FireCount implements Counter.
func (c *ScalarClient) FireCount(ctx context.Context, box geo.BoundingBox) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u, err := url.Parse(c.url)
	if err != nil {
		return 0, fmt.Errorf("parsing fallback url: %w", err)
	}
	q := u.Query()
	q.Set("bbox", box.String())
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var body struct {
		FireCount *json.Number `json:"fire_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if body.FireCount == nil {
		return 0, fmt.Errorf("%w: fire_count missing", ErrMalformed)
	}
	f, err := strconv.ParseFloat(body.FireCount.String(), 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("%w: fire_count %q", ErrMalformed, body.FireCount.String())
	}
	return int(f), nil
}
