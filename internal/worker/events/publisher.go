package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/shell-executor/internal/worker/notify"
)

// ContentType of every published event body
const ContentType = "application/json"

// Broker is the part of the RabbitMQ client the publisher needs
type Broker interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Publisher sends every job status change to RabbitMQ as a JSON message
type Publisher struct {
	broker Broker
	logger *slog.Logger
}

// NewPublisher creates a new event publisher
func NewPublisher(broker Broker, logger *slog.Logger) *Publisher {
	return &Publisher{
		broker: broker,
		logger: logger,
	}
}

// Message is the wire format of a job event
type Message struct {
	notify.Event
	DurationSeconds int64 `json:"job_duration_seconds"`
}

// Encode renders an event as a message body
func Encode(event notify.Event) ([]byte, error) {
	msg := Message{
		Event:           event,
		DurationSeconds: int64(event.Duration.Seconds()),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job event: %w", err)
	}
	return body, nil
}

// Notify publishes the event
func (p *Publisher) Notify(ctx context.Context, event notify.Event) error {
	body, err := Encode(event)
	if err != nil {
		return err
	}

	if err := p.broker.PublishWithRetry(ctx, body, ContentType); err != nil {
		return fmt.Errorf("failed to publish job event: %w", err)
	}

	p.logger.Debug("Job event published",
		slog.String("job", event.Job),
		slog.String("status", string(event.Status)),
		slog.String("run_id", event.RunID),
	)

	return nil
}
