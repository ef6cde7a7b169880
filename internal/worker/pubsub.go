package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// Job types accepted on the refresh subscription.
const (
	JobAggregateRefresh = "aggregate_refresh"
	JobHealthCheck      = "health_check"
)

// ErrRefreshFailed is returned when a triggered refresh produced no station data.
var ErrRefreshFailed = errors.New("aggregate refresh failed")

// Job is what the Pub/Sub handler drives. *RefreshJob implements it.
type Job interface {
	Runner
	Check(ctx context.Context) error
}

// PubSubHandler handles Pub/Sub messages for the worker.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	dispatcher       *Dispatcher
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Job              Job
	Logger           zerolog.Logger
}

// RefreshMessage represents a refresh job message.
type RefreshMessage struct {
	JobType string `json:"job_type"`
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// One refresh at a time; a full run can take minutes.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 1
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		dispatcher:       NewDispatcher(cfg.Job, cfg.Logger),
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		h.handleMessage(ctx, msg)
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	logger := h.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	logger.Debug().Msg("received pubsub message")

	if h.dispatcher.Handle(ctx, msg.Data) {
		msg.Ack()
		return
	}
	msg.Nack()
}

// Dispatcher decodes refresh messages and runs the matching job.
type Dispatcher struct {
	job    Job
	logger zerolog.Logger
}

// NewDispatcher creates a dispatcher for job.
func NewDispatcher(job Job, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{job: job, logger: logger}
}

// Handle processes one message body and reports whether it should be acked.
// Unparseable bodies and failed jobs are nacked for redelivery; unknown job
// types are acked so they are not redelivered forever.
func (d *Dispatcher) Handle(ctx context.Context, data []byte) bool {
	logger := d.logger
	startTime := time.Now()

	var refreshMsg RefreshMessage
	if err := json.Unmarshal(data, &refreshMsg); err != nil {
		logger.Error().Err(err).Msg("failed to parse message")
		return false
	}

	var err error
	switch refreshMsg.JobType {
	case JobAggregateRefresh:
		err = d.handleRefresh(ctx)
	case JobHealthCheck:
		err = d.job.Check(ctx)
	default:
		logger.Warn().Str("job_type", refreshMsg.JobType).Msg("unknown job type")
		return true
	}

	if err != nil {
		logger.Error().Err(err).Str("job_type", refreshMsg.JobType).Msg("job failed")
		return false
	}

	logger.Info().
		Str("job_type", refreshMsg.JobType).
		Dur("duration", time.Since(startTime)).
		Msg("job completed successfully")
	return true
}

func (d *Dispatcher) handleRefresh(ctx context.Context) error {
	result := d.job.Run(ctx)
	if !result.OK() {
		return fmt.Errorf("%w: %d errors", ErrRefreshFailed, len(result.Errors))
	}
	return nil
}
