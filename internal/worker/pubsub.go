package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// PubSubHandler consumes batch optimization jobs from a subscription
// and publishes their outcomes to a results topic.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	publisher        *pubsub.Publisher
	subscriptionName string
	resultsTopic     string
	processor        *Processor
	logger           zerolog.Logger
}

// PubSubConfig wires the job subscription and results topic to a
// Processor.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	ResultsTopic     string

	// Concurrency bounds the number of jobs in flight.
	// Default: 4
	Concurrency int

	Processor *Processor
	Logger    zerolog.Logger
}

// NewPubSubHandler connects to Pub/Sub and prepares the subscriber and
// results publisher. It does not start receiving; call Start.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// Configure receive settings. MaxOutstandingMessages is the worker
	// pool bound: Receive never runs more handlers than this at once.
	subscriber.ReceiveSettings.MaxOutstandingMessages = concurrency
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	publisher := client.Publisher(cfg.ResultsTopic)

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		publisher:        publisher,
		subscriptionName: cfg.SubscriptionName,
		resultsTopic:     cfg.ResultsTopic,
		processor:        cfg.Processor,
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing batch jobs. It blocks until ctx is canceled
// or the subscription fails; in-flight handlers finish before Receive
// returns, so cancel-then-wait is the drain path.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Str("results_topic", h.resultsTopic).
		Msg("starting batch worker")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		h.handleMessage(ctx, msg)
	})
}

// Close flushes pending result publishes and closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	h.publisher.Stop()
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	logger := h.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	logger.Debug().Msg("received batch job")

	// Malformed payloads would fail identically on redelivery, so they
	// are acked and dropped rather than nacked.
	var job JobMessage
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		logger.Error().Err(err).Msg("dropping malformed job message")
		h.processor.recordMalformed()
		msg.Ack()
		return
	}
	if job.JobID == "" {
		logger.Error().Msg("dropping job message without job_id")
		h.processor.recordMalformed()
		msg.Ack()
		return
	}

	result := h.processor.Process(ctx, job)
	h.publishResult(ctx, logger, result)

	// Ack after the publish attempt. A failed publish is logged, not
	// retried here; redelivery of lost jobs is Pub/Sub's job, and a
	// consumer that saw no result can resubmit.
	msg.Ack()
}

func (h *PubSubHandler) publishResult(ctx context.Context, logger zerolog.Logger, result JobResult) {
	data, err := json.Marshal(result)
	if err != nil {
		logger.Error().Err(err).Str("job_id", result.JobID).Msg("failed to encode job result")
		return
	}

	res := h.publisher.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"job_id": result.JobID,
			"status": result.Status,
		},
	})
	if _, err := res.Get(ctx); err != nil {
		logger.Error().Err(err).Str("job_id", result.JobID).Msg("failed to publish job result")
		return
	}

	logger.Debug().
		Str("job_id", result.JobID).
		Str("status", result.Status).
		Msg("published job result")
}
