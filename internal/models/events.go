package models

import (
	"time"

	"github.com/google/uuid"
)

// ChangeKind is the transition an AvailabilityChangeEvent reports.
type ChangeKind string

const (
	ChangeKindHeld      ChangeKind = "held"
	ChangeKindConfirmed ChangeKind = "confirmed"
	ChangeKindReleased  ChangeKind = "released"
	ChangeKindExpired   ChangeKind = "expired"
)

// Event type header values for brokers
const (
	EventTypeAvailabilityChanged = "availability_changed"
)

// AvailabilityChangeEvent tells live views that a listing's availability moved.
// Delivered at most once and never stored.
type AvailabilityChangeEvent struct {
	EventID    string     `json:"event_id"`
	ListingID  string     `json:"listing_id"`
	ModuleType ModuleType `json:"module_type"`
	Kind       ChangeKind `json:"kind"`
	HoldID     uuid.UUID  `json:"hold_id"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// NewChangeEvent builds the event for a committed transition of hold.
func NewChangeEvent(hold *Hold, kind ChangeKind, at time.Time) AvailabilityChangeEvent {
	return AvailabilityChangeEvent{
		EventID:    uuid.New().String(),
		ListingID:  hold.ListingID,
		ModuleType: hold.ModuleType,
		Kind:       kind,
		HoldID:     hold.ID,
		OccurredAt: at,
	}
}
