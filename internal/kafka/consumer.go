package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"availability-engine/internal/interfaces"
	"availability-engine/internal/models"
)

// messageReader is the part of *kafka.Reader the consumer uses
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads availability change events from the changes topic
type Consumer struct {
	reader     messageReader
	maxRetries int
	backoff    time.Duration
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(brokers []string, consumerGroup, topic string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: consumerGroup,

		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		// Change events only matter going forward.
		StartOffset: kafka.LastOffset,
		MaxWait:     time.Second,

		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error().Msgf("Kafka changes reader error: "+msg, args...)
		}),
	})

	return newConsumerWithReader(reader)
}

func newConsumerWithReader(reader messageReader) *Consumer {
	return &Consumer{
		reader:     reader,
		maxRetries: 3,
		backoff:    100 * time.Millisecond,
	}
}

// ConsumeChanges hands each event to handler until ctx is cancelled.
// Events are committed even when the handler keeps failing: delivery is
// best-effort and a stale cached view ages out with its TTL.
func (c *Consumer) ConsumeChanges(ctx context.Context, handler interfaces.ChangeHandler) error {
	log.Info().Msg("Starting to consume availability change events")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Stopping change event consumption")
			return nil
		default:
		}

		message, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("Failed to fetch change message")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		var event models.AvailabilityChangeEvent
		if err := json.Unmarshal(message.Value, &event); err != nil {
			log.Error().Err(err).
				Str("topic", message.Topic).
				Int("partition", message.Partition).
				Int64("offset", message.Offset).
				Msg("Failed to unmarshal change event")
		} else if err := c.handleWithRetry(ctx, handler, &event); err != nil {
			log.Error().Err(err).
				Str("listing_id", event.ListingID).
				Str("event_id", event.EventID).
				Msg("Failed to handle change event after retries")
		}

		if err := c.reader.CommitMessages(ctx, message); err != nil {
			log.Error().Err(err).
				Int64("offset", message.Offset).
				Msg("Failed to commit change message")
		}
	}
}

// handleWithRetry retries with exponential backoff: 100ms, 200ms, 400ms
func (c *Consumer) handleWithRetry(ctx context.Context, handler interfaces.ChangeHandler, event *models.AvailabilityChangeEvent) error {
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		err := handler.HandleChange(ctx, event)
		if err == nil {
			return nil
		}

		if attempt < c.maxRetries {
			backoff := c.backoff * time.Duration(1<<attempt)
			log.Warn().Err(err).
				Str("event_id", event.EventID).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("Change handling failed, retrying after backoff")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("change handling failed after %d attempts", c.maxRetries+1)
}

// Close closes the Kafka reader
func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("failed to close changes reader: %w", err)
	}
	return nil
}
