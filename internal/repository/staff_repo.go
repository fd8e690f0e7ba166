package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"availability-engine/internal/models"
)

// StaffRepository reads staff members owned by the merchant catalog
type StaffRepository struct {
	db *sqlx.DB
}

// NewStaffRepository creates a new staff repository
func NewStaffRepository(db *sqlx.DB) *StaffRepository {
	return &StaffRepository{
		db: db,
	}
}

// ListStaff returns a listing's staff in calendar order
func (r *StaffRepository) ListStaff(ctx context.Context, listingID string) ([]models.StaffMember, error) {
	var staff []models.StaffMember
	query := `SELECT id, listing_id, merchant_id, display_name, position, working_calendar
			  FROM staff_members
			  WHERE listing_id = $1
			  ORDER BY position, id`

	if err := conn(ctx, r.db).SelectContext(ctx, &staff, query, listingID); err != nil {
		log.Error().Err(err).Str("listing_id", listingID).Msg("Failed to list staff")
		return nil, fmt.Errorf("failed to list staff: %w", err)
	}
	return staff, nil
}

// UpsertStaff creates or replaces a staff member
func (r *StaffRepository) UpsertStaff(ctx context.Context, member *models.StaffMember) error {
	query := `INSERT INTO staff_members (id, listing_id, merchant_id, display_name, position, working_calendar)
			  VALUES (:id, :listing_id, :merchant_id, :display_name, :position, :working_calendar)
			  ON CONFLICT (id) DO UPDATE
			  SET listing_id = EXCLUDED.listing_id,
			      merchant_id = EXCLUDED.merchant_id,
			      display_name = EXCLUDED.display_name,
			      position = EXCLUDED.position,
			      working_calendar = EXCLUDED.working_calendar`

	if _, err := conn(ctx, r.db).NamedExecContext(ctx, query, member); err != nil {
		log.Error().Err(err).Str("staff_id", member.ID).Msg("Failed to upsert staff member")
		return fmt.Errorf("failed to upsert staff member: %w", err)
	}
	return nil
}
