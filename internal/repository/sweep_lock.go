package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

// SweepLockRepository elects one expiry sweeper per tick with a PostgreSQL
// advisory lock. The lock is session scoped, so acquire and release run on
// the same pinned connection.
type SweepLockRepository struct {
	db      *sqlx.DB
	lockKey int64
}

// NewSweepLockRepository creates a new sweep lock repository
func NewSweepLockRepository(db *sqlx.DB, lockKey int64) *SweepLockRepository {
	return &SweepLockRepository{
		db:      db,
		lockKey: lockKey,
	}
}

// TryAcquireSweepLock attempts to acquire the advisory lock.
// Returns acquired=false if another sweeper holds it.
func (r *SweepLockRepository) TryAcquireSweepLock(ctx context.Context) (func(), bool, error) {
	c, err := r.db.Connx(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get connection: %w", err)
	}

	var acquired bool
	if err := c.QueryRowxContext(ctx, "SELECT pg_try_advisory_lock($1)", r.lockKey).Scan(&acquired); err != nil {
		c.Close()
		log.Error().Err(err).Int64("lock_key", r.lockKey).Msg("Failed to acquire advisory lock")
		return nil, false, fmt.Errorf("failed to acquire advisory lock: %w", err)
	}

	if !acquired {
		c.Close()
		log.Debug().Int64("lock_key", r.lockKey).Msg("Advisory lock already held by another sweeper")
		return nil, false, nil
	}

	log.Debug().Int64("lock_key", r.lockKey).Msg("Successfully acquired sweep advisory lock")

	release := func() {
		defer c.Close()

		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var released bool
		if err := c.QueryRowxContext(unlockCtx, "SELECT pg_advisory_unlock($1)", r.lockKey).Scan(&released); err != nil {
			log.Error().Err(err).Int64("lock_key", r.lockKey).Msg("Failed to release advisory lock")
			return
		}
		if !released {
			log.Warn().Int64("lock_key", r.lockKey).Msg("Advisory lock was not held when trying to release")
		}
	}

	return release, true, nil
}
