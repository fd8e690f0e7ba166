package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"availability-engine/internal/interfaces"
	"availability-engine/internal/models"
)

// ChangePublisher publishes change events on a channel per listing.
// It implements interfaces.ChangeSink.
type ChangePublisher struct {
	client    redis.UniversalClient
	keyPrefix string
}

func NewChangePublisher(client redis.UniversalClient, keyPrefix string) *ChangePublisher {
	return &ChangePublisher{client: client, keyPrefix: keyPrefix}
}

// ChangeChannel is the pub/sub channel of a listing
func ChangeChannel(keyPrefix, listingID string) string {
	return keyPrefix + "availability:" + listingID
}

func (p *ChangePublisher) Name() string {
	return "redis"
}

func (p *ChangePublisher) Publish(ctx context.Context, event models.AvailabilityChangeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, ChangeChannel(p.keyPrefix, event.ListingID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// ChangeSubscriber listens on every listing's channel
type ChangeSubscriber struct {
	client    redis.UniversalClient
	keyPrefix string
}

func NewChangeSubscriber(client redis.UniversalClient, keyPrefix string) *ChangeSubscriber {
	return &ChangeSubscriber{client: client, keyPrefix: keyPrefix}
}

// Run feeds received events to handler until ctx is cancelled
func (s *ChangeSubscriber) Run(ctx context.Context, handler interfaces.ChangeHandler) error {
	pattern := ChangeChannel(s.keyPrefix, "*")
	pubsub := s.client.PSubscribe(ctx, pattern)
	defer pubsub.Close()

	// Wait for the subscription confirmation before reading messages.
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to subscribe to %s: %w", pattern, err)
	}
	log.Info().Str("pattern", pattern).Msg("Subscribed to availability channels")

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Stopping availability subscription")
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var event models.AvailabilityChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Str("channel", msg.Channel).Msg("Failed to unmarshal change event")
				continue
			}
			if event.ListingID == "" {
				event.ListingID = strings.TrimPrefix(msg.Channel, ChangeChannel(s.keyPrefix, ""))
			}
			if err := handler.HandleChange(ctx, &event); err != nil {
				log.Warn().Err(err).Str("listing_id", event.ListingID).Msg("Failed to handle change event")
			}
		}
	}
}
