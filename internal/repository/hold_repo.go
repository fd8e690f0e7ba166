package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"availability-engine/internal/models"
)

const holdColumns = `id, listing_id, module_type, status, expires_at, idempotency_key, quantity,
	start_date, end_date, slot_date, slot_start, slot_end, staff_id, created_at, updated_at`

// occupying matches holds that still consume capacity at $now.
const occupying = `(status = 'confirmed' OR (status = 'active' AND expires_at > %s))`

// ErrDuplicateIdempotencyKey is returned when a hold reuses a listing's idempotency key.
var ErrDuplicateIdempotencyKey = errors.New("idempotency key already used for listing")

// holdRow is the flat holds table layout
type holdRow struct {
	ID             uuid.UUID         `db:"id"`
	ListingID      string            `db:"listing_id"`
	ModuleType     models.ModuleType `db:"module_type"`
	Status         models.HoldStatus `db:"status"`
	ExpiresAt      time.Time         `db:"expires_at"`
	IdempotencyKey sql.NullString    `db:"idempotency_key"`
	Quantity       sql.NullInt64     `db:"quantity"`
	StartDate      sql.NullString    `db:"start_date"`
	EndDate        sql.NullString    `db:"end_date"`
	SlotDate       sql.NullString    `db:"slot_date"`
	SlotStart      sql.NullInt64     `db:"slot_start"`
	SlotEnd        sql.NullInt64     `db:"slot_end"`
	StaffID        sql.NullString    `db:"staff_id"`
	CreatedAt      time.Time         `db:"created_at"`
	UpdatedAt      time.Time         `db:"updated_at"`
}

func newHoldRow(h *models.Hold) holdRow {
	row := holdRow{
		ID:             h.ID,
		ListingID:      h.ListingID,
		ModuleType:     h.ModuleType,
		Status:         h.Status,
		ExpiresAt:      h.ExpiresAt,
		IdempotencyKey: sql.NullString{String: h.IdempotencyKey, Valid: h.IdempotencyKey != ""},
		CreatedAt:      h.CreatedAt,
		UpdatedAt:      h.UpdatedAt,
	}

	switch {
	case h.Range != nil:
		row.StartDate = sql.NullString{String: models.FormatDate(h.Range.Start), Valid: true}
		row.EndDate = sql.NullString{String: models.FormatDate(h.Range.End), Valid: true}
	case h.Slot != nil:
		row.SlotDate = sql.NullString{String: models.FormatDate(h.Slot.Date), Valid: true}
		row.SlotStart = sql.NullInt64{Int64: int64(h.Slot.Slot.Start), Valid: true}
		row.SlotEnd = sql.NullInt64{Int64: int64(h.Slot.Slot.End), Valid: true}
		row.StaffID = sql.NullString{String: h.Slot.StaffID, Valid: h.Slot.StaffID != ""}
	default:
		row.Quantity = sql.NullInt64{Int64: int64(h.Quantity), Valid: true}
	}

	return row
}

func (r holdRow) toModel() (models.Hold, error) {
	hold := models.Hold{
		ID:             r.ID,
		ListingID:      r.ListingID,
		ModuleType:     r.ModuleType,
		Status:         r.Status,
		ExpiresAt:      r.ExpiresAt.UTC(),
		IdempotencyKey: r.IdempotencyKey.String,
		Quantity:       int(r.Quantity.Int64),
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}

	if r.StartDate.Valid && r.EndDate.Valid {
		dr, err := models.NewDateRange(dateOnly(r.StartDate.String), dateOnly(r.EndDate.String))
		if err != nil {
			return hold, fmt.Errorf("hold %s has a corrupt range: %w", r.ID, err)
		}
		hold.Range = &dr
	}

	if r.SlotDate.Valid {
		date, err := models.ParseDate(dateOnly(r.SlotDate.String))
		if err != nil {
			return hold, fmt.Errorf("hold %s has a corrupt slot date: %w", r.ID, err)
		}
		hold.Slot = &models.BookedSlot{
			Date: date,
			Slot: models.TimeSlot{
				Start: models.TimeOfDay(r.SlotStart.Int64),
				End:   models.TimeOfDay(r.SlotEnd.Int64),
			},
			StaffID: r.StaffID.String,
		}
	}

	return hold, nil
}

// dateOnly trims the time part lib/pq appends when a DATE is scanned as text.
func dateOnly(s string) string {
	if len(s) > len(models.DateLayout) {
		return s[:len(models.DateLayout)]
	}
	return s
}

func rowsToHolds(rows []holdRow) ([]models.Hold, error) {
	holds := make([]models.Hold, 0, len(rows))
	for _, row := range rows {
		hold, err := row.toModel()
		if err != nil {
			return nil, err
		}
		holds = append(holds, hold)
	}
	return holds, nil
}

// HoldRepository handles database operations for holds
type HoldRepository struct {
	db *sqlx.DB
}

// NewHoldRepository creates a new hold repository
func NewHoldRepository(db *sqlx.DB) *HoldRepository {
	return &HoldRepository{
		db: db,
	}
}

// GetHold retrieves a hold by ID
func (r *HoldRepository) GetHold(ctx context.Context, holdID uuid.UUID) (*models.Hold, error) {
	var row holdRow
	query := `SELECT ` + holdColumns + ` FROM holds WHERE id = $1`

	if err := conn(ctx, r.db).GetContext(ctx, &row, query, holdID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		log.Error().Err(err).Str("hold_id", holdID.String()).Msg("Failed to get hold")
		return nil, fmt.Errorf("failed to get hold: %w", err)
	}

	hold, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &hold, nil
}

// GetHoldByIdempotencyKey retrieves the hold a listing created for key
func (r *HoldRepository) GetHoldByIdempotencyKey(ctx context.Context, listingID, key string) (*models.Hold, error) {
	var row holdRow
	query := `SELECT ` + holdColumns + ` FROM holds WHERE listing_id = $1 AND idempotency_key = $2`

	if err := conn(ctx, r.db).GetContext(ctx, &row, query, listingID, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		log.Error().Err(err).Str("listing_id", listingID).Msg("Failed to get hold by idempotency key")
		return nil, fmt.Errorf("failed to get hold by idempotency key: %w", err)
	}

	hold, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &hold, nil
}

// CreateHold inserts a new hold
func (r *HoldRepository) CreateHold(ctx context.Context, hold *models.Hold) error {
	query := `INSERT INTO holds (id, listing_id, module_type, status, expires_at, idempotency_key, quantity,
			  start_date, end_date, slot_date, slot_start, slot_end, staff_id, created_at, updated_at)
			  VALUES (:id, :listing_id, :module_type, :status, :expires_at, :idempotency_key, :quantity,
			  CAST(:start_date AS DATE), CAST(:end_date AS DATE), CAST(:slot_date AS DATE),
			  :slot_start, :slot_end, :staff_id, :created_at, :updated_at)`

	if _, err := conn(ctx, r.db).NamedExecContext(ctx, query, newHoldRow(hold)); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateIdempotencyKey
		}
		log.Error().Err(err).Str("hold_id", hold.ID.String()).Str("listing_id", hold.ListingID).Msg("Failed to create hold")
		return fmt.Errorf("failed to create hold: %w", err)
	}

	return nil
}

// UpdateHoldStatus moves a hold between statuses if it is still in from
func (r *HoldRepository) UpdateHoldStatus(ctx context.Context, holdID uuid.UUID, from, to models.HoldStatus) (bool, error) {
	query := `UPDATE holds SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`

	result, err := conn(ctx, r.db).ExecContext(ctx, query, holdID, from, to)
	if err != nil {
		log.Error().Err(err).Str("hold_id", holdID.String()).Msg("Failed to update hold status")
		return false, fmt.Errorf("failed to update hold status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rowsAffected == 1, nil
}

// SumActiveQuantity totals units held by unexpired active holds
func (r *HoldRepository) SumActiveQuantity(ctx context.Context, listingID string, now time.Time) (int, error) {
	var total int
	query := `SELECT COALESCE(SUM(quantity), 0) FROM holds
			  WHERE listing_id = $1 AND status = 'active' AND expires_at > $2`

	if err := conn(ctx, r.db).GetContext(ctx, &total, query, listingID, now); err != nil {
		log.Error().Err(err).Str("listing_id", listingID).Msg("Failed to sum active holds")
		return 0, fmt.Errorf("failed to sum active holds: %w", err)
	}
	return total, nil
}

// SumConfirmedQuantity totals units committed by confirmed holds
func (r *HoldRepository) SumConfirmedQuantity(ctx context.Context, listingID string) (int, error) {
	var total int
	query := `SELECT COALESCE(SUM(quantity), 0) FROM holds WHERE listing_id = $1 AND status = 'confirmed'`

	if err := conn(ctx, r.db).GetContext(ctx, &total, query, listingID); err != nil {
		log.Error().Err(err).Str("listing_id", listingID).Msg("Failed to sum confirmed holds")
		return 0, fmt.Errorf("failed to sum confirmed holds: %w", err)
	}
	return total, nil
}

// ListOverlappingBlocks returns occupying rental blocks that share a day with dr
func (r *HoldRepository) ListOverlappingBlocks(ctx context.Context, listingID string, dr models.DateRange, now time.Time) ([]models.Hold, error) {
	var rows []holdRow
	query := `SELECT ` + holdColumns + ` FROM holds
			  WHERE listing_id = $1 AND start_date <= CAST($3 AS DATE) AND end_date >= CAST($2 AS DATE)
			  AND ` + fmt.Sprintf(occupying, "$4") + `
			  ORDER BY start_date, id`

	err := conn(ctx, r.db).SelectContext(ctx, &rows, query,
		listingID, models.FormatDate(dr.Start), models.FormatDate(dr.End), now)
	if err != nil {
		log.Error().Err(err).Str("listing_id", listingID).Str("range", dr.String()).Msg("Failed to list overlapping blocks")
		return nil, fmt.Errorf("failed to list overlapping blocks: %w", err)
	}

	return rowsToHolds(rows)
}

// ListSlotBookings returns occupying slot bookings on date
func (r *HoldRepository) ListSlotBookings(ctx context.Context, listingID string, date time.Time, now time.Time) ([]models.Hold, error) {
	var rows []holdRow
	query := `SELECT ` + holdColumns + ` FROM holds
			  WHERE listing_id = $1 AND slot_date = CAST($2 AS DATE)
			  AND ` + fmt.Sprintf(occupying, "$3") + `
			  ORDER BY slot_start, staff_id NULLS FIRST, id`

	err := conn(ctx, r.db).SelectContext(ctx, &rows, query, listingID, models.FormatDate(date), now)
	if err != nil {
		log.Error().Err(err).Str("listing_id", listingID).Msg("Failed to list slot bookings")
		return nil, fmt.Errorf("failed to list slot bookings: %w", err)
	}

	return rowsToHolds(rows)
}

// ListListingsWithLapsedHolds returns listings that have active holds past expiry
// ordered by id and starting after the given id
func (r *HoldRepository) ListListingsWithLapsedHolds(ctx context.Context, now time.Time, after string, limit int) ([]string, error) {
	var listingIDs []string
	query := `SELECT DISTINCT listing_id FROM holds
			  WHERE status = 'active' AND expires_at <= $1 AND listing_id > $2
			  ORDER BY listing_id
			  LIMIT $3`

	if err := conn(ctx, r.db).SelectContext(ctx, &listingIDs, query, now, after, limit); err != nil {
		log.Error().Err(err).Msg("Failed to list listings with lapsed holds")
		return nil, fmt.Errorf("failed to list listings with lapsed holds: %w", err)
	}
	return listingIDs, nil
}

// ExpireLapsedHolds marks a listing's lapsed active holds as expired and returns them
func (r *HoldRepository) ExpireLapsedHolds(ctx context.Context, listingID string, now time.Time) ([]models.Hold, error) {
	var rows []holdRow
	query := `UPDATE holds SET status = 'expired', updated_at = NOW()
			  WHERE listing_id = $1 AND status = 'active' AND expires_at <= $2
			  RETURNING ` + holdColumns

	if err := conn(ctx, r.db).SelectContext(ctx, &rows, query, listingID, now); err != nil {
		log.Error().Err(err).Str("listing_id", listingID).Msg("Failed to expire lapsed holds")
		return nil, fmt.Errorf("failed to expire lapsed holds: %w", err)
	}

	return rowsToHolds(rows)
}
