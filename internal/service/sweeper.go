package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"availability-engine/internal/interfaces"
)

// Sweeper runs the engine's expiry sweep on a fixed cadence. When several
// sweeper instances share a database only the lock holder works each tick.
type Sweeper struct {
	engine   interfaces.Sweeper
	locker   interfaces.SweepLocker
	interval time.Duration
}

// NewSweeper creates a sweeper; interval must be within 30s and 60s
func NewSweeper(engine interfaces.Sweeper, locker interfaces.SweepLocker, interval time.Duration) (*Sweeper, error) {
	if interval < 30*time.Second || interval > 60*time.Second {
		return nil, fmt.Errorf("sweep interval must be between 30s and 60s, got %v", interval)
	}
	return &Sweeper{
		engine:   engine,
		locker:   locker,
		interval: interval,
	}, nil
}

// Run sweeps every interval until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Msg("Starting hold expiration sweeper")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Stopping hold expiration sweeper")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to expire stale holds")
			}
		}
	}
}

// SweepOnce runs a single sweep if this instance wins the sweep lock.
// It returns zero without error when another instance holds the lock.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	if s.locker != nil {
		release, acquired, err := s.locker.TryAcquireSweepLock(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to acquire sweep lock: %w", err)
		}
		if !acquired {
			log.Debug().Msg("Sweep skipped, another instance holds the lock")
			return 0, nil
		}
		defer release()
	}

	return s.engine.ExpireStaleHolds(ctx)
}
