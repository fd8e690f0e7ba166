package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"availability-engine/internal/models"
)

type MockChannel struct {
	mock.Mock
}

func (m *MockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return m.Called(ctx, exchange, key, mandatory, immediate, msg).Error(0)
}

func (m *MockChannel) Close() error {
	return m.Called().Error(0)
}

func sampleEvent() models.AvailabilityChangeEvent {
	return models.AvailabilityChangeEvent{
		EventID:    uuid.New().String(),
		ListingID:  "barber-7",
		ModuleType: models.ModuleTypeService,
		Kind:       models.ChangeKindConfirmed,
		HoldID:     uuid.New(),
		OccurredAt: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "availability.service.barber-7.confirmed", RoutingKey(sampleEvent()))
}

func TestPublisher_Publish(t *testing.T) {
	ch := new(MockChannel)
	p := &Publisher{channel: ch, exchange: "availability", serviceName: "engine"}
	event := sampleEvent()

	ch.On("PublishWithContext", mock.Anything, "availability", "availability.service.barber-7.confirmed", false, false,
		mock.MatchedBy(func(msg amqp.Publishing) bool {
			var decoded models.AvailabilityChangeEvent
			return json.Unmarshal(msg.Body, &decoded) == nil &&
				decoded.HoldID == event.HoldID &&
				msg.MessageId == event.EventID &&
				msg.ContentType == "application/json"
		})).Return(nil)

	require.NoError(t, p.Publish(context.Background(), event))
	assert.Equal(t, "rabbitmq", p.Name())
	ch.AssertExpectations(t)
}

func TestPublisher_PublishError(t *testing.T) {
	ch := new(MockChannel)
	ch.On("PublishWithContext", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(amqp.ErrClosed)

	p := &Publisher{channel: ch, exchange: "availability"}
	err := p.Publish(context.Background(), sampleEvent())

	assert.True(t, errors.Is(err, amqp.ErrClosed))
}

func TestPublisher_NilChannel(t *testing.T) {
	p := &Publisher{}
	assert.Error(t, p.Publish(context.Background(), sampleEvent()))
}
