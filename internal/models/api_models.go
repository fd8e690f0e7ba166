package models

import "time"

// ErrorCode represents standardized error codes
type ErrorCode string

const (
	ErrorCodeInvalidField      ErrorCode = "INVALID_FIELD"
	ErrorCodeValidationError   ErrorCode = "VALIDATION_ERROR"
	ErrorCodeListingNotFound   ErrorCode = "LISTING_NOT_FOUND"
	ErrorCodeHoldNotFound      ErrorCode = "HOLD_NOT_FOUND"
	ErrorCodeHoldExpired       ErrorCode = "HOLD_EXPIRED"
	ErrorCodeUnavailable       ErrorCode = "UNAVAILABLE"
	ErrorCodeInsufficientStock ErrorCode = "INSUFFICIENT_STOCK"
	ErrorCodeInternalError     ErrorCode = "INTERNAL_ERROR"
)

const (
	ProblemTypeValidationError = "validation-error"
	ProblemTypeBusinessError   = "business-logic-error"
	ProblemTypeNotFound        = "not-found"
	ProblemTypeGone            = "gone"
	ProblemTypeInternalError   = "internal-error"
)

// API Request Models

// AvailabilityRequestBody is the wire form of an availability question.
// Fields are read according to the listing's module type.
type AvailabilityRequestBody struct {
	Quantity  int    `json:"quantity" binding:"omitempty,min=1"`
	StartDate string `json:"start_date" binding:"omitempty,datetime=2006-01-02"`
	EndDate   string `json:"end_date" binding:"omitempty,datetime=2006-01-02"`
	Date      string `json:"date" binding:"omitempty,datetime=2006-01-02"`
	StartTime string `json:"start_time" binding:"omitempty,datetime=15:04"`
	StaffID   string `json:"staff_id" binding:"omitempty,max=64"`
}

// ReserveHoldRequest represents a request to place a hold
type ReserveHoldRequest struct {
	AvailabilityRequestBody
	HoldSeconds    int    `json:"hold_seconds" binding:"omitempty,min=0"`
	IdempotencyKey string `json:"idempotency_key" binding:"omitempty,max=128"`
}

// ToDomain converts the body to an engine request. Facets that were not
// sent stay nil so the engine can reject what the module type needs.
func (b AvailabilityRequestBody) ToDomain() (AvailabilityRequest, error) {
	req := AvailabilityRequest{Quantity: b.Quantity}

	if b.StartDate != "" || b.EndDate != "" {
		r, err := NewDateRange(b.StartDate, b.EndDate)
		if err != nil {
			return AvailabilityRequest{}, err
		}
		req.Range = &r
	}

	if b.Date != "" || b.StartTime != "" {
		date, err := ParseDate(b.Date)
		if err != nil {
			return AvailabilityRequest{}, NewValidationError("date", err.Error(), b.Date)
		}
		start, err := ParseTimeOfDay(b.StartTime)
		if err != nil {
			return AvailabilityRequest{}, NewValidationError("start_time", err.Error(), b.StartTime)
		}
		req.Slot = &SlotRequest{Date: date, Start: start, StaffID: b.StaffID}
	}

	return req, nil
}

// HoldDuration returns the requested hold length; zero means the engine default.
func (r ReserveHoldRequest) HoldDuration() time.Duration {
	return time.Duration(r.HoldSeconds) * time.Second
}

// API Response Models

// HealthResponse is returned by every binary's /health route
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// SweepResponse reports a manually triggered sweep
type SweepResponse struct {
	Expired int       `json:"expired"`
	RanAt   time.Time `json:"ran_at"`
}

type ProblemDetails struct {
	Type         string      `json:"type"`
	Title        string      `json:"title"`
	Status       int         `json:"status"`
	Detail       string      `json:"detail,omitempty"`
	Instance     string      `json:"instance,omitempty"`
	Field        string      `json:"field,omitempty"`
	Code         string      `json:"code,omitempty"`
	Errors       interface{} `json:"errors,omitempty"`
	Conflicts    []Conflict  `json:"conflicts,omitempty"`
	FreeQuantity *int        `json:"free_quantity,omitempty"`
}

func NewProblemDetails(status int, title, detail string) *ProblemDetails {
	return &ProblemDetails{
		Type:   getProblemType(status),
		Title:  title,
		Status: status,
		Detail: detail,
	}
}

// NewValidationProblem creates a validation error problem
func NewValidationProblem(field, message string, code ErrorCode) *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeValidationError,
		Title:  "Validation Failed",
		Status: 400,
		Detail: message,
		Field:  field,
		Code:   string(code),
	}
}

// NewMultiValidationProblem creates a multi-field validation error problem
func NewMultiValidationProblem(violations []ValidationError) *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeValidationError,
		Title:  "Validation Failed",
		Status: 400,
		Detail: "Multiple validation errors occurred",
		Code:   string(ErrorCodeValidationError),
		Errors: violations,
	}
}

// NewUnavailableProblem renders an UnavailableError as a 409.
func NewUnavailableProblem(err *UnavailableError) *ProblemDetails {
	p := &ProblemDetails{
		Type:      ProblemTypeBusinessError,
		Title:     "Unavailable",
		Status:    409,
		Detail:    err.Error(),
		Code:      string(ErrorCodeUnavailable),
		Conflicts: err.Conflicts,
	}
	if err.Stock != nil {
		free := err.Stock.Free()
		p.Title = "Insufficient Stock"
		p.Code = string(ErrorCodeInsufficientStock)
		p.FreeQuantity = &free
	}
	return p
}

// NewNotFoundProblem creates a not found error problem
func NewNotFoundProblem(resource string, code ErrorCode) *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeNotFound,
		Title:  "Resource Not Found",
		Status: 404,
		Detail: resource + " not found",
		Code:   string(code),
	}
}

// NewInternalErrorProblem creates an internal server error problem
func NewInternalErrorProblem() *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeInternalError,
		Title:  "Internal Server Error",
		Status: 500,
		Detail: "An unexpected error occurred",
		Code:   string(ErrorCodeInternalError),
	}
}

// Helper function to get problem type URI based on status code
func getProblemType(status int) string {
	switch status {
	case 400:
		return ProblemTypeValidationError
	case 404:
		return ProblemTypeNotFound
	case 409, 422:
		return ProblemTypeBusinessError
	case 410:
		return ProblemTypeGone
	default:
		return ProblemTypeInternalError
	}
}
