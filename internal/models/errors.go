package models

import (
	"errors"
	"fmt"
)

var (
	ErrListingNotFound = errors.New("listing not found")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrUnavailable     = errors.New("resource unavailable")
	ErrHoldNotFound    = errors.New("hold not found")
	ErrHoldExpired     = errors.New("hold expired")
)

// ValidationError represents validation errors with detailed field information
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Value   any    `json:"value,omitempty"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

func NewValidationError(field, message string, value any) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Code:    string(ErrorCodeInvalidField),
		Value:   value,
	}
}

// UnavailableError carries what blocked a reservation.
type UnavailableError struct {
	ListingID  string      `json:"listing_id"`
	ModuleType ModuleType  `json:"module_type"`
	Conflicts  []Conflict  `json:"conflicts,omitempty"`
	Stock      *StockState `json:"stock,omitempty"`
	Requested  int         `json:"requested,omitempty"`
}

func (e *UnavailableError) Error() string {
	if e.Stock != nil {
		return fmt.Sprintf("insufficient stock for listing %s: requested %d, free %d", e.ListingID, e.Requested, e.Stock.Free())
	}
	return fmt.Sprintf("listing %s unavailable: %d conflicting holds", e.ListingID, len(e.Conflicts))
}

func (e *UnavailableError) Unwrap() error {
	return ErrUnavailable
}

// FreeQuantity returns the free stock count, or -1 for non-sale listings.
func (e *UnavailableError) FreeQuantity() int {
	if e.Stock == nil {
		return -1
	}
	return e.Stock.Free()
}

// AsUnavailable extracts the conflict payload from err.
func AsUnavailable(err error) (*UnavailableError, bool) {
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
