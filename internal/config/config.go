// Package config loads service configuration from an optional YAML file and
// AQ_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/breatheroute/aqfusion/internal/database"
	"github.com/breatheroute/aqfusion/pkg/geo"
)

// FileEnv names the variable holding the YAML config path.
const FileEnv = "AQ_CONFIG_FILE"

// EnvPrefix prefixes every override variable.
const EnvPrefix = "AQ"

// Config is the full service configuration.
type Config struct {
	Environment string `yaml:"environment" env:"ENVIRONMENT"`
	LogLevel    string `yaml:"logLevel" env:"LOG_LEVEL"`

	HTTP        HTTPConfig        `yaml:"http" env:"HTTP"`
	Provider    ProviderConfig    `yaml:"provider" env:"PROVIDER"`
	Aggregation AggregationConfig `yaml:"aggregation" env:"AGGREGATION"`
	Catalog     CatalogConfig     `yaml:"catalog" env:"CATALOG"`
	Model       ModelConfig       `yaml:"model" env:"MODEL"`
	Weather     WeatherConfig     `yaml:"weather" env:"WEATHER"`
	Fire        FireConfig        `yaml:"fire" env:"FIRE"`
	Worker      WorkerConfig      `yaml:"worker" env:"WORKER"`
	Database    database.Config   `yaml:"database" env:"DB"`
	Kafka       KafkaConfig       `yaml:"kafka" env:"KAFKA"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" env:"OTEL"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Port            int           `yaml:"port" env:"PORT"`
	ReadTimeout     time.Duration `yaml:"readTimeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"writeTimeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idleTimeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" env:"SHUTDOWN_TIMEOUT"`
	// RateLimit is requests per minute per client IP; 0 keeps the default.
	RateLimit int `yaml:"rateLimit" env:"RATE_LIMIT"`
}

// ProviderConfig configures the monitoring-network client.
type ProviderConfig struct {
	BaseURL    string        `yaml:"baseURL" env:"BASE_URL"`
	Token      string        `yaml:"token" env:"TOKEN"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
	BatchSize  int           `yaml:"batchSize" env:"BATCH_SIZE"`
	BatchDelay time.Duration `yaml:"batchDelay" env:"BATCH_DELAY"`
	// TimeZone is the IANA zone of provider timestamps sent without an offset.
	TimeZone string `yaml:"timeZone" env:"TIME_ZONE"`
}

// Location loads TimeZone.
func (p ProviderConfig) Location() (*time.Location, error) {
	return time.LoadLocation(p.TimeZone)
}

// AggregationConfig configures sanitizing, aggregation and the cache.
type AggregationConfig struct {
	Bounds geo.BoundingBox `yaml:"bounds" env:"BOUNDS"`
	// Reference is the weighting point; the zero point means the bounds center.
	Reference    geo.Point     `yaml:"reference" env:"REFERENCE"`
	StaleAfter   time.Duration `yaml:"staleAfter" env:"STALE_AFTER"`
	AQICeiling   float64       `yaml:"aqiCeiling" env:"AQI_CEILING"`
	TrimFraction float64       `yaml:"trimFraction" env:"TRIM_FRACTION"`
	CacheTTL     time.Duration `yaml:"cacheTTL" env:"CACHE_TTL"`
}

// ReferencePoint returns the configured reference, or nil when unset.
func (a AggregationConfig) ReferencePoint() *geo.Point {
	if a.Reference == (geo.Point{}) {
		return nil
	}
	p := a.Reference
	return &p
}

// CatalogConfig locates the station catalog.
type CatalogConfig struct {
	// Path of a catalog YAML file; empty selects the embedded catalog.
	Path       string   `yaml:"path" env:"PATH"`
	DropTokens []string `yaml:"dropTokens" env:"DROP_TOKENS"`
}

// ModelConfig configures the forecasting model service.
type ModelConfig struct {
	BaseURL string        `yaml:"baseURL" env:"BASE_URL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// WeatherConfig configures the weather sources.
type WeatherConfig struct {
	APIKey      string        `yaml:"apiKey" env:"API_KEY"`
	BaseURL     string        `yaml:"baseURL" env:"BASE_URL"`
	FallbackURL string        `yaml:"fallbackURL" env:"FALLBACK_URL"`
	CacheTTL    time.Duration `yaml:"cacheTTL" env:"CACHE_TTL"`
}

// FireConfig configures the fire-count sources.
type FireConfig struct {
	MapKey      string `yaml:"mapKey" env:"MAP_KEY"`
	BaseURL     string `yaml:"baseURL" env:"BASE_URL"`
	FallbackURL string `yaml:"fallbackURL" env:"FALLBACK_URL"`
	DayRange    int    `yaml:"dayRange" env:"DAY_RANGE"`
	// PadDegrees widens the aggregation bounds into the fire search area.
	PadDegrees float64 `yaml:"padDegrees" env:"PAD_DEGREES"`
}

// WorkerConfig configures the refresh worker.
type WorkerConfig struct {
	Port            int           `yaml:"port" env:"PORT"`
	RefreshInterval time.Duration `yaml:"refreshInterval" env:"REFRESH_INTERVAL"`
	InitialDelay    time.Duration `yaml:"initialDelay" env:"INITIAL_DELAY"`
	Timeout         time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Concurrency     int           `yaml:"concurrency" env:"CONCURRENCY"`
	PubSubProject   string        `yaml:"pubsubProject" env:"PUBSUB_PROJECT"`
	Subscription    string        `yaml:"subscription" env:"SUBSCRIPTION"`
}

// KafkaConfig configures aggregate event publishing. No brokers disables it.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" env:"BROKERS"`
	Topic   string   `yaml:"topic" env:"TOPIC"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string `yaml:"otlpEndpoint" env:"ENDPOINT"`

	// SampleRatio is the fraction of root traces kept, in [0, 1].
	SampleRatio    float64       `yaml:"sampleRatio" env:"SAMPLE_RATIO"`
	ExportInterval time.Duration `yaml:"exportInterval" env:"EXPORT_INTERVAL"`
}

// Default returns the Delhi deployment defaults.
func Default() Config {
	return Config{
		Environment: "development",
		LogLevel:    "info",
		HTTP: HTTPConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimit:       120,
		},
		Provider: ProviderConfig{
			BaseURL:    "https://api.waqi.info",
			Timeout:    8 * time.Second,
			BatchSize:  5,
			BatchDelay: 150 * time.Millisecond,
			TimeZone:   "Asia/Kolkata",
		},
		Aggregation: AggregationConfig{
			Bounds:       geo.BoundingBox{South: 28.4, West: 76.8, North: 28.9, East: 77.4},
			StaleAfter:   90 * time.Minute,
			AQICeiling:   1000,
			TrimFraction: 0.10,
			CacheTTL:     10 * time.Minute,
		},
		Model: ModelConfig{
			BaseURL: "http://localhost:5000",
			Timeout: 15 * time.Second,
		},
		Weather: WeatherConfig{
			CacheTTL: 10 * time.Minute,
		},
		Fire: FireConfig{
			DayRange:   1,
			PadDegrees: 2,
		},
		Worker: WorkerConfig{
			Port:            8081,
			RefreshInterval: 10 * time.Minute,
			InitialDelay:    30 * time.Second,
			Timeout:         2 * time.Minute,
			Concurrency:     3,
		},
		Database: database.DefaultConfig(),
		Telemetry: TelemetryConfig{
			OTLPEndpoint:   "localhost:4317",
			SampleRatio:    1,
			ExportInterval: 15 * time.Second,
		},
	}
}

// Load returns Default overlaid with the YAML file named by AQ_CONFIG_FILE
// (if set) and then with AQ_* environment variables.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv(FileEnv); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := populateFromEnv(reflect.ValueOf(&cfg).Elem(), EnvPrefix); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port: %d out of range", c.HTTP.Port))
	}
	if c.HTTP.RateLimit < 0 {
		errs = append(errs, errors.New("http.rateLimit: must not be negative"))
	}
	if c.Provider.BaseURL == "" {
		errs = append(errs, errors.New("provider.baseURL: required"))
	}
	if c.Provider.Timeout <= 0 {
		errs = append(errs, errors.New("provider.timeout: must be positive"))
	}
	if c.Provider.BatchSize <= 0 {
		errs = append(errs, errors.New("provider.batchSize: must be positive"))
	}
	if c.Provider.BatchDelay < 0 {
		errs = append(errs, errors.New("provider.batchDelay: must not be negative"))
	}
	if c.Provider.TimeZone == "" {
		errs = append(errs, errors.New("provider.timeZone: required"))
	} else if _, err := c.Provider.Location(); err != nil {
		errs = append(errs, fmt.Errorf("provider.timeZone: %w", err))
	}
	if err := c.Aggregation.Bounds.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("aggregation.bounds: %w", err))
	}
	if ref := c.Aggregation.ReferencePoint(); ref != nil {
		if err := ref.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("aggregation.reference: %w", err))
		}
	}
	if c.Aggregation.StaleAfter <= 0 {
		errs = append(errs, errors.New("aggregation.staleAfter: must be positive"))
	}
	if c.Aggregation.AQICeiling <= 0 {
		errs = append(errs, errors.New("aggregation.aqiCeiling: must be positive"))
	}
	if c.Aggregation.TrimFraction < 0 || c.Aggregation.TrimFraction >= 0.5 {
		errs = append(errs, fmt.Errorf("aggregation.trimFraction: %v not in [0, 0.5)", c.Aggregation.TrimFraction))
	}
	if c.Aggregation.CacheTTL <= 0 {
		errs = append(errs, errors.New("aggregation.cacheTTL: must be positive"))
	}
	if c.Fire.DayRange < 1 || c.Fire.DayRange > 10 {
		errs = append(errs, fmt.Errorf("fire.dayRange: %d not in [1, 10]", c.Fire.DayRange))
	}
	if c.Fire.PadDegrees < 0 {
		errs = append(errs, errors.New("fire.padDegrees: must not be negative"))
	}
	if c.Worker.RefreshInterval <= 0 {
		errs = append(errs, errors.New("worker.refreshInterval: must be positive"))
	}
	if c.Worker.InitialDelay < 0 {
		errs = append(errs, errors.New("worker.initialDelay: must not be negative"))
	}
	if c.Worker.Concurrency <= 0 {
		errs = append(errs, errors.New("worker.concurrency: must be positive"))
	}
	if c.Worker.PubSubProject != "" && c.Worker.Subscription == "" {
		errs = append(errs, errors.New("worker.subscription: required with pubsubProject"))
	}
	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		errs = append(errs, errors.New("telemetry.otlpEndpoint: required when enabled"))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, errors.New("telemetry.sampleRatio: must be between 0 and 1"))
	}
	if c.Telemetry.ExportInterval <= 0 {
		errs = append(errs, errors.New("telemetry.exportInterval: must be positive"))
	}
	return errors.Join(errs...)
}

func loadFromFile(path string, target *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read file: %w", err)
	}

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("config: decode yaml: %w", err)
	}

	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func populateFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		fieldVal := v.Field(i)
		fieldType := t.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		rawKey := fieldType.Tag.Get("env")
		if rawKey == "-" {
			continue
		}
		if rawKey == "" {
			rawKey = fieldType.Name
		}
		envKey := normalizeKey(prefix, rawKey)

		if fieldVal.Kind() == reflect.Struct {
			if err := populateFromEnv(fieldVal, envKey); err != nil {
				return err
			}
			continue
		}

		if val, ok := os.LookupEnv(envKey); ok {
			if err := assign(fieldVal, val); err != nil {
				return fmt.Errorf("config: parse %s: %w", envKey, err)
			}
		}
	}
	return nil
}

func normalizeKey(prefix, key string) string {
	key = strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
	if prefix == "" {
		return key
	}
	return prefix + "_" + key
}

func assign(field reflect.Value, value string) error {
	if field.Type() == durationType {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(parsed))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(parsed)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		parsed, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(parsed)
	case reflect.Float32, reflect.Float64:
		parsed, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(parsed)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type().String())
		}
		var items []string
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field type %s", field.Type().String())
	}
	return nil
}
