package models

import (
	"time"

	"github.com/google/uuid"
)

// HoldStatus represents the state of a hold. Rental blocks and slot bookings
// call the active state "held".
type HoldStatus string

const (
	HoldStatusActive    HoldStatus = "active"
	HoldStatusConfirmed HoldStatus = "confirmed"
	HoldStatusReleased  HoldStatus = "released"
	HoldStatusExpired   HoldStatus = "expired"
)

// BookedSlot is the service facet of a hold.
type BookedSlot struct {
	Date    time.Time `json:"date"`
	Slot    TimeSlot  `json:"slot"`
	StaffID string    `json:"staff_id,omitempty"`
}

// Hold is a claim on a listing's capacity. Exactly one facet is set,
// matching ModuleType: Quantity (sale), Range (rental) or Slot (service).
type Hold struct {
	ID             uuid.UUID   `json:"hold_id"`
	ListingID      string      `json:"listing_id"`
	ModuleType     ModuleType  `json:"module_type"`
	Status         HoldStatus  `json:"status"`
	ExpiresAt      time.Time   `json:"expires_at"`
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
	Quantity       int         `json:"quantity,omitempty"`
	Range          *DateRange  `json:"range,omitempty"`
	Slot           *BookedSlot `json:"slot,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Occupies reports whether the hold still consumes capacity at now.
// Active holds stop counting at ExpiresAt even before the sweep marks them.
func (h *Hold) Occupies(now time.Time) bool {
	switch h.Status {
	case HoldStatusConfirmed:
		return true
	case HoldStatusActive:
		return now.Before(h.ExpiresAt)
	}
	return false
}

// Lapsed reports whether an active hold has passed its expiry.
func (h *Hold) Lapsed(now time.Time) bool {
	return h.Status == HoldStatusActive && !now.Before(h.ExpiresAt)
}
