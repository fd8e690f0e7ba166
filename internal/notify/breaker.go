package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"

	"availability-engine/internal/interfaces"
	"availability-engine/internal/models"
)

// BreakerSettings controls when a sink's circuit opens
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before a trial request.
	OpenTimeout time.Duration
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
	}
}

// BreakerSink wraps a broker sink so that a failing broker is skipped
// until the open timeout passes.
type BreakerSink struct {
	sink interfaces.ChangeSink
	cb   *gobreaker.CircuitBreaker[struct{}]
}

func NewBreakerSink(sink interfaces.ChangeSink, settings BreakerSettings) *BreakerSink {
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = DefaultBreakerSettings().ConsecutiveFailures
	}
	threshold := settings.ConsecutiveFailures

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        sink.Name(),
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("sink", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Sink circuit breaker changed state")
		},
	})

	return &BreakerSink{sink: sink, cb: cb}
}

func (b *BreakerSink) Name() string {
	return b.sink.Name()
}

func (b *BreakerSink) Publish(ctx context.Context, event models.AvailabilityChangeEvent) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.sink.Publish(ctx, event)
	})
	if err != nil {
		return fmt.Errorf("%s sink: %w", b.sink.Name(), err)
	}
	return nil
}

// State reports the breaker state
func (b *BreakerSink) State() gobreaker.State {
	return b.cb.State()
}
