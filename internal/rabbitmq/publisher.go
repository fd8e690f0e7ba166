package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"availability-engine/internal/models"
)

const ExchangeType = "topic"

// channel is the part of *amqp.Channel the publisher uses
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends change events to a topic exchange. Consumers bind
// patterns such as "availability.rental.#" or "availability.*.<listing>.*".
type Publisher struct {
	conn        *amqp.Connection
	channel     channel
	exchange    string
	serviceName string
}

func NewPublisher(url, exchange, serviceName string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		exchange,
		ExchangeType,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	log.Info().Str("exchange", exchange).Msg("Connected to RabbitMQ exchange")

	return &Publisher{
		conn:        conn,
		channel:     ch,
		exchange:    exchange,
		serviceName: serviceName,
	}, nil
}

// RoutingKey is availability.<module>.<listing>.<kind>
func RoutingKey(event models.AvailabilityChangeEvent) string {
	return fmt.Sprintf("availability.%s.%s.%s", event.ModuleType, event.ListingID, event.Kind)
}

func (p *Publisher) Name() string {
	return "rabbitmq"
}

func (p *Publisher) Publish(ctx context.Context, event models.AvailabilityChangeEvent) error {
	if p.channel == nil {
		return fmt.Errorf("publisher channel is nil")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		RoutingKey(event),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Transient,
			MessageId:    event.EventID,
			Type:         models.EventTypeAvailabilityChanged,
			Timestamp:    event.OccurredAt,
			AppId:        p.serviceName,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close RabbitMQ channel")
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return fmt.Errorf("failed to close RabbitMQ connection: %w", err)
		}
	}
	return nil
}
