package service

import (
	"fmt"
	"time"
)

// Config holds engine configuration
type Config struct {
	DefaultHoldDuration time.Duration // Used when a reserve call asks for zero
	MaxHoldDuration     time.Duration
	MaxQuantity         int // Upper bound on a single sale hold
	MaxBookedWindowDays int // Longest window GetRentalBookedDates accepts
	SweepBatchSize      int // Listings expired per sweep round
}

// DefaultConfig returns the configuration used when nothing is overridden
func DefaultConfig() Config {
	return Config{
		DefaultHoldDuration: 10 * time.Minute,
		MaxHoldDuration:     2 * time.Hour,
		MaxQuantity:         1000,
		MaxBookedWindowDays: 366,
		SweepBatchSize:      100,
	}
}

// Validate validates the engine configuration
func (c Config) Validate() error {
	if c.DefaultHoldDuration < time.Second {
		return fmt.Errorf("default hold duration must be at least 1s, got %v", c.DefaultHoldDuration)
	}
	if c.MaxHoldDuration < c.DefaultHoldDuration {
		return fmt.Errorf("max hold duration %v is shorter than the default %v", c.MaxHoldDuration, c.DefaultHoldDuration)
	}
	if c.MaxQuantity < 1 {
		return fmt.Errorf("max quantity must be positive, got %d", c.MaxQuantity)
	}
	if c.MaxBookedWindowDays < 1 {
		return fmt.Errorf("max booked window must be at least one day, got %d", c.MaxBookedWindowDays)
	}
	if c.SweepBatchSize < 1 {
		return fmt.Errorf("sweep batch size must be positive, got %d", c.SweepBatchSize)
	}
	return nil
}
