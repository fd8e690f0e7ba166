package service

import (
	"context"
	"fmt"
	"time"

	"availability-engine/internal/interfaces"
	"availability-engine/internal/models"
)

// calendarSubsystem governs rental listings: inclusive whole-day blocks that
// must never overlap while held or confirmed.
type calendarSubsystem struct {
	holds interfaces.HoldRepository
}

func (c *calendarSubsystem) ModuleType() models.ModuleType {
	return models.ModuleTypeRental
}

func (c *calendarSubsystem) Evaluate(ctx context.Context, listing *models.Listing, req models.AvailabilityRequest, now time.Time) (*Evaluation, error) {
	if req.Range == nil {
		return nil, models.NewValidationError("start_date", "rental requests need start_date and end_date", nil)
	}
	if err := req.Range.Validate(); err != nil {
		return nil, err
	}
	requested := models.DateRange{Start: models.DateOf(req.Range.Start), End: models.DateOf(req.Range.End)}

	blocks, err := c.holds.ListOverlappingBlocks(ctx, listing.ID, requested, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load overlapping blocks: %w", err)
	}

	result := newResult(listing, now)
	result.Conflicts = conflictsFrom(blocks)
	result.Available = len(blocks) == 0

	return &Evaluation{
		Result: result,
		Hold:   models.Hold{Range: &requested},
	}, nil
}

// BookedDates projects occupying blocks onto window as merged ranges and days.
func (c *calendarSubsystem) BookedDates(ctx context.Context, listing *models.Listing, window models.DateRange, now time.Time) (*models.BookedDates, error) {
	blocks, err := c.holds.ListOverlappingBlocks(ctx, listing.ID, window, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load booked blocks: %w", err)
	}

	clipped := make([]models.DateRange, 0, len(blocks))
	for _, b := range blocks {
		if r, ok := b.Range.Intersect(window); ok {
			clipped = append(clipped, r)
		}
	}

	booked := &models.BookedDates{
		ListingID: listing.ID,
		Window:    window,
		Ranges:    models.MergeRanges(clipped),
		Days:      []string{},
	}
	if booked.Ranges == nil {
		booked.Ranges = []models.DateRange{}
	}
	for _, r := range booked.Ranges {
		booked.Days = append(booked.Days, r.Dates()...)
	}
	return booked, nil
}
