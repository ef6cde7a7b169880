package app_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/aqfusion/internal/app"
	"github.com/breatheroute/aqfusion/internal/config"
	"github.com/breatheroute/aqfusion/internal/events"
	"github.com/breatheroute/aqfusion/internal/history"
)

func TestNew_Defaults(t *testing.T) {
	cfg := config.Default()

	svc, err := app.New(context.Background(), cfg, zerolog.Nop(), nil)
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	assert.NotNil(t, svc.Aggregates)
	assert.NotNil(t, svc.Assembler)
	assert.NotNil(t, svc.Schema)
	assert.NotEmpty(t, svc.Catalog.All())
	assert.Equal(t, cfg.Aggregation.Bounds, svc.Query.Bounds)
	assert.Equal(t, cfg.Provider.BatchSize, svc.Query.Concurrency)
	assert.Nil(t, svc.Query.Reference, "zero reference falls back to the bounds center")

	assert.Nil(t, svc.Weather, "no weather source configured")
	assert.Nil(t, svc.Fire, "no fire source configured")
	assert.Nil(t, svc.Pool)
	assert.IsType(t, &history.InMemoryRepository{}, svc.History)
	assert.IsType(t, events.NopPublisher{}, svc.Publisher)
}

func TestNew_OptionalSources(t *testing.T) {
	cfg := config.Default()
	cfg.Weather.FallbackURL = "http://localhost:5000/weather"
	cfg.Fire.MapKey = "test-key"
	cfg.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Kafka.Topic = "aq.aggregates"

	svc, err := app.New(context.Background(), cfg, zerolog.Nop(), nil)
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	assert.NotNil(t, svc.Weather)
	assert.NotNil(t, svc.Fire)
	assert.IsType(t, &events.KafkaPublisher{}, svc.Publisher)
}

func TestNew_CatalogPathMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Catalog.Path = t.TempDir() + "/missing.yaml"

	_, err := app.New(context.Background(), cfg, zerolog.Nop(), nil)
	assert.Error(t, err)
}

func TestNewLogger_Level(t *testing.T) {
	cfg := config.Default()

	cfg.LogLevel = "DEBUG"
	assert.Equal(t, zerolog.DebugLevel, app.NewLogger(cfg, "aqfusion-api", "test").GetLevel())

	cfg.LogLevel = "loud"
	assert.Equal(t, zerolog.InfoLevel, app.NewLogger(cfg, "aqfusion-api", "test").GetLevel())
}
