package service

import (
	"context"
	"time"

	"availability-engine/internal/models"
)

// Evaluation is a subsystem's verdict on one request.
type Evaluation struct {
	Result *models.AvailabilityResult
	// Hold carries the module facet to store when Result is available.
	Hold models.Hold
}

// Subsystem evaluates requests for one module type. The engine calls
// Evaluate inside the listing lock before placing a hold, and without it for
// advisory checks.
type Subsystem interface {
	ModuleType() models.ModuleType
	Evaluate(ctx context.Context, listing *models.Listing, req models.AvailabilityRequest, now time.Time) (*Evaluation, error)
}

func newResult(listing *models.Listing, now time.Time) *models.AvailabilityResult {
	return &models.AvailabilityResult{
		ListingID:  listing.ID,
		ModuleType: listing.ModuleType,
		CheckedAt:  now,
	}
}

func conflictsFrom(holds []models.Hold) []models.Conflict {
	if len(holds) == 0 {
		return nil
	}
	conflicts := make([]models.Conflict, 0, len(holds))
	for _, h := range holds {
		conflicts = append(conflicts, models.ConflictFromHold(h))
	}
	return conflicts
}
