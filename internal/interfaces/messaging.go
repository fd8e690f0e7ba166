package interfaces

import (
	"context"

	"availability-engine/internal/models"
)

// Notifier accepts change events without ever blocking or failing the caller.
type Notifier interface {
	Notify(event models.AvailabilityChangeEvent)
}

// ChangeSink delivers change events to one transport.
type ChangeSink interface {
	Name() string
	Publish(ctx context.Context, event models.AvailabilityChangeEvent) error
}

// ChangeHandler reacts to consumed change events.
type ChangeHandler interface {
	HandleChange(ctx context.Context, event *models.AvailabilityChangeEvent) error
}
