package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"availability-engine/internal/interfaces"
	"availability-engine/internal/metrics"
	"availability-engine/internal/models"
)

// CachedReader serves read views cache-aside. Concurrent misses for the
// same view share one load, and a change event drops every cached view of
// its listing.
type CachedReader struct {
	source       interfaces.AvailabilityReader
	cache        interfaces.ViewCache
	metrics      *metrics.Metrics
	group        singleflight.Group
	cacheTimeout time.Duration
	loadTimeout  time.Duration
}

// NewCachedReader creates a reader over source. A nil cache disables caching.
func NewCachedReader(source interfaces.AvailabilityReader, cache interfaces.ViewCache, m *metrics.Metrics, cacheTimeout time.Duration) *CachedReader {
	if cacheTimeout <= 0 {
		cacheTimeout = 500 * time.Millisecond
	}
	return &CachedReader{
		source:       source,
		cache:        cache,
		metrics:      m,
		cacheTimeout: cacheTimeout,
		loadTimeout:  10 * time.Second,
	}
}

func (r *CachedReader) GetServiceAvailability(ctx context.Context, listingID string, date time.Time, staffID string) (*models.ServiceDay, error) {
	view := fmt.Sprintf("slots:%s:%s", models.FormatDate(date), staffID)
	return cachedView(ctx, r, listingID, view, "slots", func(ctx context.Context) (*models.ServiceDay, error) {
		return r.source.GetServiceAvailability(ctx, listingID, date, staffID)
	})
}

func (r *CachedReader) GetRentalBookedDates(ctx context.Context, listingID string, window models.DateRange) (*models.BookedDates, error) {
	view := fmt.Sprintf("booked:%s:%s", models.FormatDate(window.Start), models.FormatDate(window.End))
	return cachedView(ctx, r, listingID, view, "booked", func(ctx context.Context) (*models.BookedDates, error) {
		return r.source.GetRentalBookedDates(ctx, listingID, window)
	})
}

func (r *CachedReader) GetStock(ctx context.Context, listingID string) (*models.AvailabilityResult, error) {
	return cachedView(ctx, r, listingID, "stock", "stock", func(ctx context.Context) (*models.AvailabilityResult, error) {
		return r.source.GetStock(ctx, listingID)
	})
}

// HandleChange drops the cached views of the event's listing
func (r *CachedReader) HandleChange(ctx context.Context, event *models.AvailabilityChangeEvent) error {
	if r.cache == nil {
		return nil
	}
	if err := r.cache.InvalidateListing(ctx, event.ListingID); err != nil {
		return fmt.Errorf("failed to invalidate listing views: %w", err)
	}
	log.Debug().
		Str("listing_id", event.ListingID).
		Str("kind", string(event.Kind)).
		Msg("Invalidated cached views")
	return nil
}

func cachedView[T any](ctx context.Context, r *CachedReader, listingID, view, label string, load func(ctx context.Context) (*T, error)) (*T, error) {
	if r.cache == nil {
		return load(ctx)
	}

	var cached T
	lookupCtx, cancel := context.WithTimeout(ctx, r.cacheTimeout)
	found, err := r.cache.GetView(lookupCtx, listingID, view, &cached)
	cancel()
	if err != nil {
		log.Warn().Err(err).Str("listing_id", listingID).Str("view", view).Msg("Cache error, falling back to database")
	} else if found {
		r.metrics.ObserveCacheLookup(label, true)
		return &cached, nil
	}
	r.metrics.ObserveCacheLookup(label, false)

	// The shared load outlives any single caller; each caller only stops
	// waiting when its own context ends.
	results := r.group.DoChan(listingID+"|"+view, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.loadTimeout)
		defer cancel()

		value, err := load(loadCtx)
		if err != nil {
			return nil, err
		}

		storeCtx, cancel := context.WithTimeout(context.Background(), r.cacheTimeout)
		defer cancel()
		if err := r.cache.SetView(storeCtx, listingID, view, value); err != nil {
			log.Error().Err(err).Str("listing_id", listingID).Str("view", view).Msg("Failed to update cache")
		}
		return value, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-results:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*T), nil
	}
}
