package interfaces

import (
	"context"
	"time"

	"github.com/google/uuid"

	"availability-engine/internal/models"
)

// AvailabilityEngine defines the contract for availability write operations
type AvailabilityEngine interface {
	CheckAvailability(ctx context.Context, listingID string, req models.AvailabilityRequest) (*models.AvailabilityResult, error)
	Reserve(ctx context.Context, listingID string, req models.AvailabilityRequest, holdDuration time.Duration) (*models.Hold, error)
	Confirm(ctx context.Context, holdID uuid.UUID) (*models.Hold, error)
	Release(ctx context.Context, holdID uuid.UUID) (*models.Hold, error)
	GetHold(ctx context.Context, holdID uuid.UUID) (*models.Hold, error)
}

// AvailabilityReader defines the contract for derived read views
type AvailabilityReader interface {
	GetServiceAvailability(ctx context.Context, listingID string, date time.Time, staffID string) (*models.ServiceDay, error)
	GetRentalBookedDates(ctx context.Context, listingID string, window models.DateRange) (*models.BookedDates, error)
	GetStock(ctx context.Context, listingID string) (*models.AvailabilityResult, error)
}

// Sweeper defines the contract for expiring lapsed holds
type Sweeper interface {
	ExpireStaleHolds(ctx context.Context) (int, error)
}
