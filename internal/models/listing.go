package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ModuleType is the behavioral category of a listing.
type ModuleType string

const (
	ModuleTypeSale    ModuleType = "sale"
	ModuleTypeRental  ModuleType = "rental"
	ModuleTypeService ModuleType = "service"
)

// Valid reports whether m is one of the known module types.
func (m ModuleType) Valid() bool {
	switch m {
	case ModuleTypeSale, ModuleTypeRental, ModuleTypeService:
		return true
	}
	return false
}

// Listing represents the listings table structure
type Listing struct {
	ID            string             `db:"id" json:"id"`
	MerchantID    string             `db:"merchant_id" json:"merchant_id"`
	ModuleType    ModuleType         `db:"module_type" json:"module_type"`
	Active        bool               `db:"active" json:"active"`
	TotalQuantity int                `db:"total_quantity" json:"total_quantity"`
	Calendar      *OperatingCalendar `db:"operating_calendar" json:"operating_calendar,omitempty"`
	CreatedAt     time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time          `db:"updated_at" json:"updated_at"`
}

// Validate checks the facet required by the listing's module type.
func (l *Listing) Validate() error {
	if l.ID == "" {
		return NewValidationError("id", "listing id is required", nil)
	}
	if !l.ModuleType.Valid() {
		return NewValidationError("module_type", "unknown module type", string(l.ModuleType))
	}
	switch l.ModuleType {
	case ModuleTypeSale:
		if l.TotalQuantity < 0 {
			return NewValidationError("total_quantity", "total quantity must not be negative", l.TotalQuantity)
		}
	case ModuleTypeService:
		if l.Calendar == nil {
			return NewValidationError("operating_calendar", "service listings need an operating calendar", nil)
		}
		return l.Calendar.Validate()
	}
	return nil
}

// StaffMember is a bookable person attached to a service listing. Read-only here.
type StaffMember struct {
	ID          string          `db:"id" json:"id"`
	ListingID   string          `db:"listing_id" json:"listing_id"`
	MerchantID  string          `db:"merchant_id" json:"merchant_id"`
	DisplayName string          `db:"display_name" json:"display_name"`
	Position    int             `db:"position" json:"position"`
	Calendar    WorkingCalendar `db:"working_calendar" json:"working_calendar"`
}

func (c OperatingCalendar) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *OperatingCalendar) Scan(src any) error {
	return scanJSON(src, c)
}

func (c WorkingCalendar) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *WorkingCalendar) Scan(src any) error {
	return scanJSON(src, c)
}

func scanJSON(src any, dest any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("cannot scan %T into %T", src, dest)
	}
}
