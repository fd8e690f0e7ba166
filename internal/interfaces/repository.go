package interfaces

import (
	"context"
	"time"

	"github.com/google/uuid"

	"availability-engine/internal/models"
)

// ListingRepository defines the contract for listing data operations
type ListingRepository interface {
	// GetListing returns nil, nil when the listing does not exist.
	GetListing(ctx context.Context, listingID string) (*models.Listing, error)

	// WithListingLock runs fn in a transaction that holds the listing's row
	// lock. Repositories called with the ctx passed to fn join that
	// transaction. Returns models.ErrListingNotFound for unknown listings.
	WithListingLock(ctx context.Context, listingID string, fn func(ctx context.Context, listing *models.Listing) error) error
}

// HoldRepository defines the contract for hold rows. Mutating methods must be
// called inside WithListingLock.
type HoldRepository interface {
	GetHold(ctx context.Context, holdID uuid.UUID) (*models.Hold, error)
	GetHoldByIdempotencyKey(ctx context.Context, listingID, key string) (*models.Hold, error)
	CreateHold(ctx context.Context, hold *models.Hold) error
	// UpdateHoldStatus moves a hold from one status to another. The bool is
	// false when the hold was no longer in the from status.
	UpdateHoldStatus(ctx context.Context, holdID uuid.UUID, from, to models.HoldStatus) (bool, error)

	// Derived stock quantities
	SumActiveQuantity(ctx context.Context, listingID string, now time.Time) (int, error)
	SumConfirmedQuantity(ctx context.Context, listingID string) (int, error)

	// Occupying holds of rental and service listings
	ListOverlappingBlocks(ctx context.Context, listingID string, r models.DateRange, now time.Time) ([]models.Hold, error)
	ListSlotBookings(ctx context.Context, listingID string, date time.Time, now time.Time) ([]models.Hold, error)

	// Expiry
	// ListListingsWithLapsedHolds pages listing ids in ascending order,
	// starting after the given id ("" for the first page).
	ListListingsWithLapsedHolds(ctx context.Context, now time.Time, after string, limit int) ([]string, error)
	ExpireLapsedHolds(ctx context.Context, listingID string, now time.Time) ([]models.Hold, error)
}

// StaffDirectory supplies staff records. The engine only reads it.
type StaffDirectory interface {
	// ListStaff returns the listing's staff in calendar order.
	ListStaff(ctx context.Context, listingID string) ([]models.StaffMember, error)
}

// SweepLocker elects one sweeper per tick across instances.
type SweepLocker interface {
	TryAcquireSweepLock(ctx context.Context) (release func(), acquired bool, err error)
}

// ViewCache defines the contract for caching derived read views
type ViewCache interface {
	GetView(ctx context.Context, listingID, view string, dest any) (bool, error)
	SetView(ctx context.Context, listingID, view string, value any) error
	InvalidateListing(ctx context.Context, listingID string) error
	Close() error
}
