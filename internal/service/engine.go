package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"availability-engine/internal/clock"
	"availability-engine/internal/interfaces"
	"availability-engine/internal/metrics"
	"availability-engine/internal/models"
)

// Engine is the availability facade. It resolves a listing's module type,
// delegates to the matching subsystem and runs every mutation inside that
// listing's lock.
type Engine struct {
	listings   interfaces.ListingRepository
	holds      interfaces.HoldRepository
	notifier   interfaces.Notifier
	clock      clock.Clock
	metrics    *metrics.Metrics
	config     Config
	stock      *stockSubsystem
	calendar   *calendarSubsystem
	slots      *slotSubsystem
	subsystems map[models.ModuleType]Subsystem
}

// NewEngine creates a new engine with dependency injection and validation
func NewEngine(
	listings interfaces.ListingRepository,
	holds interfaces.HoldRepository,
	staff interfaces.StaffDirectory,
	notifier interfaces.Notifier,
	clk clock.Clock,
	m *metrics.Metrics,
	config Config,
) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine configuration: %w", err)
	}
	if clk == nil {
		clk = clock.NewSystem()
	}

	e := &Engine{
		listings: listings,
		holds:    holds,
		notifier: notifier,
		clock:    clk,
		metrics:  m,
		config:   config,
		stock:    &stockSubsystem{holds: holds, maxQuantity: config.MaxQuantity},
		calendar: &calendarSubsystem{holds: holds},
		slots:    &slotSubsystem{holds: holds, staff: staff},
	}
	e.subsystems = make(map[models.ModuleType]Subsystem, 3)
	for _, sub := range []Subsystem{e.stock, e.calendar, e.slots} {
		e.subsystems[sub.ModuleType()] = sub
	}
	return e, nil
}

func (e *Engine) subsystemFor(listing *models.Listing) (Subsystem, error) {
	sub, ok := e.subsystems[listing.ModuleType]
	if !ok {
		return nil, fmt.Errorf("listing %s has unknown module type %q", listing.ID, listing.ModuleType)
	}
	return sub, nil
}

// activeListing loads a listing outside any lock
func (e *Engine) activeListing(ctx context.Context, listingID string) (*models.Listing, error) {
	listing, err := e.listings.GetListing(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	if listing == nil || !listing.Active {
		return nil, fmt.Errorf("listing %s: %w", listingID, models.ErrListingNotFound)
	}
	return listing, nil
}

// CheckAvailability answers whether req could be reserved right now. The
// result is advisory; Reserve re-evaluates under the lock.
func (e *Engine) CheckAvailability(ctx context.Context, listingID string, req models.AvailabilityRequest) (*models.AvailabilityResult, error) {
	listing, err := e.activeListing(ctx, listingID)
	if err != nil {
		return nil, err
	}

	sub, err := e.subsystemFor(listing)
	if err != nil {
		return nil, err
	}

	eval, err := sub.Evaluate(ctx, listing, req, e.clock.Now())
	if err != nil {
		return nil, err
	}
	return eval.Result, nil
}

func (e *Engine) resolveHoldDuration(d time.Duration) (time.Duration, error) {
	switch {
	case d < 0:
		return 0, models.NewValidationError("hold_seconds", "hold duration must not be negative", int(d.Seconds()))
	case d == 0:
		return e.config.DefaultHoldDuration, nil
	case d > e.config.MaxHoldDuration:
		return 0, models.NewValidationError("hold_seconds",
			fmt.Sprintf("hold duration exceeds maximum of %v", e.config.MaxHoldDuration), int(d.Seconds()))
	}
	return d, nil
}

// Reserve places a hold for req. Repeating a call with the same idempotency
// key returns the hold created by the first call.
func (e *Engine) Reserve(ctx context.Context, listingID string, req models.AvailabilityRequest, holdDuration time.Duration) (*models.Hold, error) {
	duration, err := e.resolveHoldDuration(holdDuration)
	if err != nil {
		return nil, err
	}

	var (
		hold     *models.Hold
		replayed bool
		module   models.ModuleType
	)

	err = e.listings.WithListingLock(ctx, listingID, func(txCtx context.Context, listing *models.Listing) error {
		module = listing.ModuleType
		if !listing.Active {
			return fmt.Errorf("listing %s: %w", listingID, models.ErrListingNotFound)
		}

		if req.IdempotencyKey != "" {
			existing, err := e.holds.GetHoldByIdempotencyKey(txCtx, listingID, req.IdempotencyKey)
			if err != nil {
				return fmt.Errorf("idempotency check failed: %w", err)
			}
			if existing != nil {
				hold, replayed = existing, true
				return nil
			}
		}

		sub, err := e.subsystemFor(listing)
		if err != nil {
			return err
		}

		now := e.clock.Now()
		eval, err := sub.Evaluate(txCtx, listing, req, now)
		if err != nil {
			return err
		}
		if !eval.Result.Available {
			return &models.UnavailableError{
				ListingID:  listing.ID,
				ModuleType: listing.ModuleType,
				Conflicts:  eval.Result.Conflicts,
				Stock:      eval.Result.Stock,
				Requested:  req.Quantity,
			}
		}

		h := eval.Hold
		h.ID = uuid.New()
		h.ListingID = listing.ID
		h.ModuleType = listing.ModuleType
		h.Status = models.HoldStatusActive
		h.ExpiresAt = now.Add(duration)
		h.IdempotencyKey = req.IdempotencyKey
		h.CreatedAt = now
		h.UpdatedAt = now

		if err := e.holds.CreateHold(txCtx, &h); err != nil {
			return fmt.Errorf("failed to create hold: %w", err)
		}
		hold = &h
		return nil
	})

	e.metrics.ObserveReserve(string(module), reserveOutcome(err, replayed))
	if err != nil {
		return nil, err
	}

	if replayed {
		log.Debug().
			Str("listing_id", listingID).
			Str("hold_id", hold.ID.String()).
			Msg("Reserve replayed by idempotency key")
		return hold, nil
	}

	log.Info().
		Str("listing_id", listingID).
		Str("hold_id", hold.ID.String()).
		Str("module_type", string(hold.ModuleType)).
		Time("expires_at", hold.ExpiresAt).
		Msg("Hold created")

	e.publish(hold, models.ChangeKindHeld)
	return hold, nil
}

func reserveOutcome(err error, replayed bool) string {
	switch {
	case err == nil && replayed:
		return "replayed"
	case err == nil:
		return "held"
	case errors.Is(err, models.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, models.ErrInvalidRequest):
		return "invalid"
	case errors.Is(err, models.ErrListingNotFound):
		return "not_found"
	}
	return "error"
}

// lockHold runs fn under the lock of the hold's listing with a fresh read of the hold.
func (e *Engine) lockHold(ctx context.Context, holdID uuid.UUID, fn func(ctx context.Context, hold *models.Hold) error) error {
	hold, err := e.holds.GetHold(ctx, holdID)
	if err != nil {
		return fmt.Errorf("failed to get hold: %w", err)
	}
	if hold == nil {
		return fmt.Errorf("hold %s: %w", holdID, models.ErrHoldNotFound)
	}

	err = e.listings.WithListingLock(ctx, hold.ListingID, func(txCtx context.Context, _ *models.Listing) error {
		locked, err := e.holds.GetHold(txCtx, holdID)
		if err != nil {
			return fmt.Errorf("failed to get hold: %w", err)
		}
		if locked == nil {
			return fmt.Errorf("hold %s: %w", holdID, models.ErrHoldNotFound)
		}
		return fn(txCtx, locked)
	})
	if errors.Is(err, models.ErrListingNotFound) {
		return fmt.Errorf("hold %s: %w", holdID, models.ErrHoldNotFound)
	}
	return err
}

// Confirm makes an active hold permanent.
func (e *Engine) Confirm(ctx context.Context, holdID uuid.UUID) (*models.Hold, error) {
	var confirmed *models.Hold

	err := e.lockHold(ctx, holdID, func(txCtx context.Context, hold *models.Hold) error {
		now := e.clock.Now()

		switch hold.Status {
		case models.HoldStatusExpired:
			return fmt.Errorf("hold %s: %w", holdID, models.ErrHoldExpired)
		case models.HoldStatusConfirmed, models.HoldStatusReleased:
			return fmt.Errorf("hold %s is %s: %w", holdID, hold.Status, models.ErrHoldNotFound)
		}
		if hold.Lapsed(now) {
			return fmt.Errorf("hold %s expired at %s: %w", holdID, hold.ExpiresAt.Format(time.RFC3339), models.ErrHoldExpired)
		}

		ok, err := e.holds.UpdateHoldStatus(txCtx, holdID, models.HoldStatusActive, models.HoldStatusConfirmed)
		if err != nil {
			return fmt.Errorf("failed to confirm hold: %w", err)
		}
		if !ok {
			return fmt.Errorf("hold %s changed concurrently: %w", holdID, models.ErrHoldNotFound)
		}

		hold.Status = models.HoldStatusConfirmed
		hold.UpdatedAt = now
		confirmed = hold
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("listing_id", confirmed.ListingID).
		Str("hold_id", holdID.String()).
		Msg("Hold confirmed")

	e.publish(confirmed, models.ChangeKindConfirmed)
	return confirmed, nil
}

// Release frees a hold's capacity. Releasing a released or expired hold is a
// silent no-op; releasing a confirmed hold cancels it.
func (e *Engine) Release(ctx context.Context, holdID uuid.UUID) (*models.Hold, error) {
	var (
		released *models.Hold
		changed  bool
	)

	err := e.lockHold(ctx, holdID, func(txCtx context.Context, hold *models.Hold) error {
		released = hold
		if hold.Status == models.HoldStatusReleased || hold.Status == models.HoldStatusExpired {
			return nil
		}

		ok, err := e.holds.UpdateHoldStatus(txCtx, holdID, hold.Status, models.HoldStatusReleased)
		if err != nil {
			return fmt.Errorf("failed to release hold: %w", err)
		}
		if ok {
			hold.Status = models.HoldStatusReleased
			hold.UpdatedAt = e.clock.Now()
			changed = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !changed {
		log.Debug().Str("hold_id", holdID.String()).Str("status", string(released.Status)).Msg("Release was a no-op")
		return released, nil
	}

	log.Info().
		Str("listing_id", released.ListingID).
		Str("hold_id", holdID.String()).
		Msg("Hold released")

	e.publish(released, models.ChangeKindReleased)
	return released, nil
}

// GetHold returns a hold by ID
func (e *Engine) GetHold(ctx context.Context, holdID uuid.UUID) (*models.Hold, error) {
	hold, err := e.holds.GetHold(ctx, holdID)
	if err != nil {
		return nil, fmt.Errorf("failed to get hold: %w", err)
	}
	if hold == nil {
		return nil, fmt.Errorf("hold %s: %w", holdID, models.ErrHoldNotFound)
	}
	return hold, nil
}

// ExpireStaleHolds expires every active hold past its expiry, one listing
// transaction at a time, and returns how many holds it expired. A listing
// that fails does not stop the sweep; its error is returned once every
// other listing has been tried, and it is retried on the next sweep.
func (e *Engine) ExpireStaleHolds(ctx context.Context) (int, error) {
	start := time.Now()
	now := e.clock.Now()
	total := 0
	after := ""
	var failed []error

	for {
		listingIDs, err := e.holds.ListListingsWithLapsedHolds(ctx, now, after, e.config.SweepBatchSize)
		if err != nil {
			e.metrics.ObserveSweep(total, time.Since(start))
			return total, fmt.Errorf("failed to list lapsed holds: %w", err)
		}

		for _, listingID := range listingIDs {
			if ctx.Err() != nil {
				e.metrics.ObserveSweep(total, time.Since(start))
				return total, ctx.Err()
			}

			expired, err := e.expireListing(ctx, listingID, now)
			if err != nil {
				log.Error().Err(err).Str("listing_id", listingID).Msg("Failed to expire holds for listing")
				failed = append(failed, fmt.Errorf("listing %s: %w", listingID, err))
				continue
			}
			total += len(expired)
		}

		if len(listingIDs) < e.config.SweepBatchSize {
			break
		}
		after = listingIDs[len(listingIDs)-1]
	}

	e.metrics.ObserveSweep(total, time.Since(start))
	if total > 0 {
		log.Info().Int("expired", total).Dur("took", time.Since(start)).Msg("Expired stale holds")
	}
	if len(failed) > 0 {
		return total, fmt.Errorf("failed to expire holds for %d listings: %w", len(failed), errors.Join(failed...))
	}
	return total, nil
}

func (e *Engine) expireListing(ctx context.Context, listingID string, now time.Time) ([]models.Hold, error) {
	var expired []models.Hold
	err := e.listings.WithListingLock(ctx, listingID, func(txCtx context.Context, _ *models.Listing) error {
		var err error
		expired, err = e.holds.ExpireLapsedHolds(txCtx, listingID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	for i := range expired {
		e.publish(&expired[i], models.ChangeKindExpired)
	}
	return expired, nil
}

// GetServiceAvailability flags every slot of a service listing on date.
func (e *Engine) GetServiceAvailability(ctx context.Context, listingID string, date time.Time, staffID string) (*models.ServiceDay, error) {
	listing, err := e.activeListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.ModuleType != models.ModuleTypeService {
		return nil, models.NewValidationError("listing_id", "listing is not a service listing", string(listing.ModuleType))
	}
	return e.slots.Day(ctx, listing, date, staffID, e.clock.Now())
}

// GetRentalBookedDates projects a rental listing's occupied days onto window.
func (e *Engine) GetRentalBookedDates(ctx context.Context, listingID string, window models.DateRange) (*models.BookedDates, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}
	if window.Days() > e.config.MaxBookedWindowDays {
		return nil, models.NewValidationError("to",
			fmt.Sprintf("window exceeds maximum of %d days", e.config.MaxBookedWindowDays), window.Days())
	}
	window = models.DateRange{Start: models.DateOf(window.Start), End: models.DateOf(window.End)}

	listing, err := e.activeListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.ModuleType != models.ModuleTypeRental {
		return nil, models.NewValidationError("listing_id", "listing is not a rental listing", string(listing.ModuleType))
	}
	return e.calendar.BookedDates(ctx, listing, window, e.clock.Now())
}

// GetStock returns the derived stock state of a sale listing.
func (e *Engine) GetStock(ctx context.Context, listingID string) (*models.AvailabilityResult, error) {
	listing, err := e.activeListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.ModuleType != models.ModuleTypeSale {
		return nil, models.NewValidationError("listing_id", "listing is not a sale listing", string(listing.ModuleType))
	}

	now := e.clock.Now()
	state, err := e.stock.State(ctx, listing, now)
	if err != nil {
		return nil, err
	}

	result := newResult(listing, now)
	result.Stock = &state
	result.Available = state.Free() > 0
	return result, nil
}

// publish hands a committed transition to the notifier
func (e *Engine) publish(hold *models.Hold, kind models.ChangeKind) {
	e.metrics.ObserveTransition(string(hold.ModuleType), string(kind))
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(models.NewChangeEvent(hold, kind, e.clock.Now()))
}
