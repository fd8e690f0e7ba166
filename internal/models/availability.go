package models

import (
	"time"

	"github.com/google/uuid"
)

// SlotRequest selects one generated slot of a service listing.
type SlotRequest struct {
	Date    time.Time
	Start   TimeOfDay
	StaffID string
}

// AvailabilityRequest asks about (or reserves) capacity. Only the facet
// matching the listing's module type is read.
type AvailabilityRequest struct {
	Quantity       int
	Range          *DateRange
	Slot           *SlotRequest
	IdempotencyKey string
}

// StockState is the derived stock picture of a sale listing.
type StockState struct {
	Total     int `json:"total_quantity"`
	Held      int `json:"held_quantity"`
	Committed int `json:"committed_quantity"`
}

// Free is the quantity that can still be held.
func (s StockState) Free() int {
	free := s.Total - s.Held - s.Committed
	if free < 0 {
		return 0
	}
	return free
}

// Conflict is an existing hold that blocks a request.
type Conflict struct {
	HoldID   uuid.UUID   `json:"hold_id"`
	Status   HoldStatus  `json:"status"`
	Quantity int         `json:"quantity,omitempty"`
	Range    *DateRange  `json:"range,omitempty"`
	Slot     *BookedSlot `json:"slot,omitempty"`
}

// ConflictFromHold exposes the parts of a hold a caller may render.
func ConflictFromHold(h Hold) Conflict {
	return Conflict{
		HoldID:   h.ID,
		Status:   h.Status,
		Quantity: h.Quantity,
		Range:    h.Range,
		Slot:     h.Slot,
	}
}

// SlotAvailability flags one generated slot.
type SlotAvailability struct {
	Slot      TimeSlot `json:"slot"`
	Available bool     `json:"available"`
	// StaffID is the member that a reservation would pin, when available.
	StaffID    string   `json:"staff_id,omitempty"`
	OccupiedBy []string `json:"occupied_by,omitempty"`
}

// AvailabilityResult is the read-only answer of a check.
type AvailabilityResult struct {
	ListingID  string            `json:"listing_id"`
	ModuleType ModuleType        `json:"module_type"`
	Available  bool              `json:"available"`
	Conflicts  []Conflict        `json:"conflicts,omitempty"`
	Stock      *StockState       `json:"stock,omitempty"`
	Slot       *SlotAvailability `json:"slot,omitempty"`
	CheckedAt  time.Time         `json:"checked_at"`
}

// ServiceDay is the slot grid of a service listing for one date.
type ServiceDay struct {
	ListingID string             `json:"listing_id"`
	Date      string             `json:"date"`
	StaffID   string             `json:"staff_id,omitempty"`
	Slots     []SlotAvailability `json:"slots"`
}

// BookedDates is the display projection of a rental calendar.
type BookedDates struct {
	ListingID string      `json:"listing_id"`
	Window    DateRange   `json:"window"`
	Ranges    []DateRange `json:"ranges"`
	Days      []string    `json:"days"`
}
