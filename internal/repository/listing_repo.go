package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"availability-engine/internal/models"
)

const listingColumns = `id, merchant_id, module_type, active, total_quantity, operating_calendar, created_at, updated_at`

// ErrModuleTypeImmutable is returned when an upsert tries to change a listing's module type.
var ErrModuleTypeImmutable = errors.New("listing module type is immutable")

// ListingRepository handles database operations for listings
type ListingRepository struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

// NewListingRepository creates a new listing repository. A positive
// lockTimeout bounds how long WithListingLock waits for the row lock.
func NewListingRepository(db *sqlx.DB, lockTimeout time.Duration) *ListingRepository {
	return &ListingRepository{
		db:          db,
		lockTimeout: lockTimeout,
	}
}

// GetListing retrieves a listing by ID
func (r *ListingRepository) GetListing(ctx context.Context, listingID string) (*models.Listing, error) {
	var listing models.Listing
	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = $1`

	err := conn(ctx, r.db).GetContext(ctx, &listing, query, listingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		log.Error().Err(err).Str("listing_id", listingID).Msg("Failed to get listing")
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}

	return &listing, nil
}

// WithListingLock opens a transaction, locks the listing row with
// SELECT ... FOR UPDATE and runs fn with the transaction in its context.
func (r *ListingRepository) WithListingLock(ctx context.Context, listingID string, fn func(ctx context.Context, listing *models.Listing) error) error {
	return withTx(ctx, r.db, func(txCtx context.Context) error {
		tx := txFromContext(txCtx)

		if r.lockTimeout > 0 {
			timeout := fmt.Sprintf("%dms", r.lockTimeout.Milliseconds())
			if _, err := tx.ExecContext(txCtx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
				return fmt.Errorf("failed to set lock timeout: %w", err)
			}
		}

		var listing models.Listing
		query := `SELECT ` + listingColumns + ` FROM listings WHERE id = $1 FOR UPDATE`
		if err := tx.GetContext(txCtx, &listing, query, listingID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return models.ErrListingNotFound
			}
			log.Error().Err(err).Str("listing_id", listingID).Msg("Failed to lock listing")
			return fmt.Errorf("failed to lock listing: %w", err)
		}

		return fn(txCtx, &listing)
	})
}

// UpsertListing creates a listing or updates its mutable attributes.
// The module type of an existing listing never changes.
func (r *ListingRepository) UpsertListing(ctx context.Context, listing *models.Listing) error {
	if err := listing.Validate(); err != nil {
		return err
	}

	query := `INSERT INTO listings (id, merchant_id, module_type, active, total_quantity, operating_calendar, created_at, updated_at)
			  VALUES (:id, :merchant_id, :module_type, :active, :total_quantity, :operating_calendar, NOW(), NOW())
			  ON CONFLICT (id) DO UPDATE
			  SET merchant_id = EXCLUDED.merchant_id,
			      active = EXCLUDED.active,
			      total_quantity = EXCLUDED.total_quantity,
			      operating_calendar = EXCLUDED.operating_calendar,
			      updated_at = NOW()
			  WHERE listings.module_type = EXCLUDED.module_type`

	result, err := conn(ctx, r.db).NamedExecContext(ctx, query, listing)
	if err != nil {
		log.Error().Err(err).Str("listing_id", listing.ID).Msg("Failed to upsert listing")
		return fmt.Errorf("failed to upsert listing: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("listing %s: %w", listing.ID, ErrModuleTypeImmutable)
	}

	return nil
}
