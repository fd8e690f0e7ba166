package service

import (
	"context"
	"fmt"
	"time"

	"availability-engine/internal/interfaces"
	"availability-engine/internal/models"
)

// stockSubsystem governs sale listings: a countable quantity with
// time-boxed holds. Held and committed totals are always derived from rows.
type stockSubsystem struct {
	holds       interfaces.HoldRepository
	maxQuantity int
}

func (s *stockSubsystem) ModuleType() models.ModuleType {
	return models.ModuleTypeSale
}

func (s *stockSubsystem) State(ctx context.Context, listing *models.Listing, now time.Time) (models.StockState, error) {
	held, err := s.holds.SumActiveQuantity(ctx, listing.ID, now)
	if err != nil {
		return models.StockState{}, fmt.Errorf("failed to derive held quantity: %w", err)
	}
	committed, err := s.holds.SumConfirmedQuantity(ctx, listing.ID)
	if err != nil {
		return models.StockState{}, fmt.Errorf("failed to derive committed quantity: %w", err)
	}

	return models.StockState{
		Total:     listing.TotalQuantity,
		Held:      held,
		Committed: committed,
	}, nil
}

func (s *stockSubsystem) Evaluate(ctx context.Context, listing *models.Listing, req models.AvailabilityRequest, now time.Time) (*Evaluation, error) {
	if req.Quantity <= 0 {
		return nil, models.NewValidationError("quantity", "quantity must be positive", req.Quantity)
	}
	if req.Quantity > s.maxQuantity {
		return nil, models.NewValidationError("quantity", fmt.Sprintf("quantity exceeds maximum of %d", s.maxQuantity), req.Quantity)
	}

	state, err := s.State(ctx, listing, now)
	if err != nil {
		return nil, err
	}

	result := newResult(listing, now)
	result.Stock = &state
	result.Available = state.Free() >= req.Quantity

	return &Evaluation{
		Result: result,
		Hold:   models.Hold{Quantity: req.Quantity},
	}, nil
}
