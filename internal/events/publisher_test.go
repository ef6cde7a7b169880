package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/aqfusion/internal/airquality"
	"github.com/breatheroute/aqfusion/pkg/optional"
)

type fakeWriter struct {
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func sampleAggregate() *airquality.AggregationResult {
	return &airquality.AggregationResult{
		CityAQI:     optional.Of(205),
		ValidCount:  2,
		Source:      airquality.SourceDetailed,
		Percentiles: airquality.Percentiles{P90: optional.Of(330)},
		ComputedAt:  time.Date(2025, 11, 3, 8, 0, 0, 0, time.UTC),
		Stations: []airquality.StationReading{
			{UID: "2554", Name: "R.K. Puram", AQI: optional.Of(180)},
			{UID: "10124", Name: "Anand Vihar", AQI: optional.Of(330)},
		},
	}
}

func TestNewAggregateEvent(t *testing.T) {
	ev := NewAggregateEvent(sampleAggregate(), "28.4,76.8,28.9,77.4")
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, optional.Of(205), ev.CityAQI)
	assert.Equal(t, optional.Of(330), ev.P90)
	require.Len(t, ev.Stations, 2)
	assert.Equal(t, StationSummary{UID: "10124", Name: "Anand Vihar", AQI: optional.Of(330)}, ev.Stations[1])
}

func TestSerializeToMessage(t *testing.T) {
	ev := NewAggregateEvent(sampleAggregate(), "28.4,76.8,28.9,77.4")

	msg, err := serializeToMessage(ev)
	require.NoError(t, err)

	assert.Equal(t, []byte("28.4,76.8,28.9,77.4"), msg.Key)
	require.Len(t, msg.Headers, 3)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, []byte(EventTypeAggregate), msg.Headers[0].Value)
	assert.Equal(t, []byte("detailed"), msg.Headers[1].Value)
	assert.Equal(t, []byte("2025-11-03T08:00:00Z"), msg.Headers[2].Value)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, 205.0, decoded["city_aqi"])
	assert.Nil(t, decoded["trimmed_mean"])
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w}

	require.NoError(t, p.PublishAggregate(context.Background(), NewAggregateEvent(sampleAggregate(), "b")))
	assert.Len(t, w.msgs, 1)

	w.err = errors.New("leader not available")
	err := p.PublishAggregate(context.Background(), NewAggregateEvent(sampleAggregate(), "b"))
	assert.ErrorContains(t, err, "leader not available")

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNewKafkaPublisher_DefaultTopic(t *testing.T) {
	p := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}})
	w, ok := p.writer.(*kafkago.Writer)
	require.True(t, ok)
	assert.Equal(t, DefaultTopic, w.Topic)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.PublishAggregate(context.Background(), AggregateEvent{}))
	assert.NoError(t, p.Close())
}
