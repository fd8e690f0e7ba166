package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"availability-engine/internal/models"
)

// messageWriter is the part of *kafka.Writer the publisher uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher delivers availability change events to the changes topic.
// It implements interfaces.ChangeSink.
type Publisher struct {
	writer messageWriter
	topic  string
}

// NewPublisher creates a new Kafka publisher
func NewPublisher(brokers []string, topic string) *Publisher {
	// Hash balancer on the listing id keeps one listing's events on one
	// partition, in order.
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		AllowAutoTopicCreation: true,

		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    1,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
	}

	return &Publisher{writer: writer, topic: topic}
}

func newPublisherWithWriter(writer messageWriter, topic string) *Publisher {
	return &Publisher{writer: writer, topic: topic}
}

func (p *Publisher) Name() string {
	return "kafka"
}

// Publish writes event keyed by its listing id
func (p *Publisher) Publish(ctx context.Context, event models.AvailabilityChangeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(event.ListingID),
		Value: data,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(models.EventTypeAvailabilityChanged)},
			{Key: "event-id", Value: []byte(event.EventID)},
			{Key: "change-kind", Value: []byte(event.Kind)},
		},
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	log.Debug().
		Str("topic", p.topic).
		Str("listing_id", event.ListingID).
		Str("kind", string(event.Kind)).
		Str("event_id", event.EventID).
		Msg("Published change event")

	return nil
}

// Close closes the Kafka writer
func (p *Publisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close changes writer: %w", err)
	}
	return nil
}
