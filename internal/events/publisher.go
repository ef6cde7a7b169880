// Package events publishes aggregate snapshots to Kafka for downstream
// consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/breatheroute/aqfusion/internal/airquality"
	"github.com/breatheroute/aqfusion/pkg/optional"
)

// DefaultTopic is the topic aggregate snapshots are published to.
const DefaultTopic = "aq.aggregates"

// EventTypeAggregate is the event_type header value of aggregate events.
const EventTypeAggregate = "aq.aggregate"

// Publisher publishes aggregate events.
type Publisher interface {
	PublishAggregate(ctx context.Context, ev AggregateEvent) error
	Close() error
}

// StationSummary is a station's contribution to an aggregate event.
type StationSummary struct {
	UID  string           `json:"uid"`
	Name string           `json:"name"`
	AQI  optional.Float64 `json:"aqi"`
}

// AggregateEvent is the payload published after every refresh.
type AggregateEvent struct {
	ID            string            `json:"id"`
	Bounds        string            `json:"bounds"`
	Source        airquality.Source `json:"source"`
	CityAQI       optional.Float64  `json:"city_aqi"`
	TrimmedMean   optional.Float64  `json:"trimmed_mean"`
	WeightedMean  optional.Float64  `json:"weighted_mean"`
	P90           optional.Float64  `json:"p90"`
	ValidCount    int               `json:"valid_count"`
	ExcludedCount int               `json:"excluded_count"`
	Stations      []StationSummary  `json:"stations"`
	ComputedAt    time.Time         `json:"computed_at"`
}

// NewAggregateEvent builds an event from an aggregate.
func NewAggregateEvent(res *airquality.AggregationResult, bounds string) AggregateEvent {
	ev := AggregateEvent{
		ID:            uuid.NewString(),
		Bounds:        bounds,
		Source:        res.Source,
		CityAQI:       res.CityAQI,
		TrimmedMean:   res.TrimmedMean,
		WeightedMean:  res.WeightedMean,
		P90:           res.Percentiles.P90,
		ValidCount:    res.ValidCount,
		ExcludedCount: res.ExcludedCount,
		Stations:      make([]StationSummary, 0, len(res.Stations)),
		ComputedAt:    res.ComputedAt,
	}
	for _, s := range res.Stations {
		ev.Stations = append(ev.Stations, StationSummary{UID: s.UID, Name: s.Name, AQI: s.AQI})
	}
	return ev
}

// messageWriter is the subset of *kafkago.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaConfig configures a KafkaPublisher.
type KafkaConfig struct {
	Brokers []string
	Topic   string // default DefaultTopic
}

// KafkaPublisher produces aggregate events to a Kafka topic.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher creates a Kafka producer for the aggregate topic.
func NewKafkaPublisher(cfg KafkaConfig) *KafkaPublisher {
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: w}
}

// PublishAggregate serializes and publishes one event keyed by its bounds, so
// events for the same area stay ordered within a partition.
func (p *KafkaPublisher) PublishAggregate(ctx context.Context, ev AggregateEvent) error {
	msg, err := serializeToMessage(ev)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish aggregate: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func serializeToMessage(ev AggregateEvent) (kafkago.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize aggregate event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(ev.Bounds),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(EventTypeAggregate)},
			{Key: "source", Value: []byte(ev.Source)},
			{Key: "computed_at", Value: []byte(ev.ComputedAt.Format(time.RFC3339))},
		},
	}, nil
}

// NopPublisher discards events. It is used when no brokers are configured.
type NopPublisher struct{}

// PublishAggregate implements Publisher.
func (NopPublisher) PublishAggregate(context.Context, AggregateEvent) error { return nil }

// Close implements Publisher.
func (NopPublisher) Close() error { return nil }
