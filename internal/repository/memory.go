package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"availability-engine/internal/models"
)

// MemoryStore is an in-process implementation of the listing, hold, staff
// and sweep lock repositories. WithListingLock serializes callers per
// listing with a mutex; writes apply immediately, so callers issue their
// single write after every check has passed.
type MemoryStore struct {
	mu       sync.RWMutex
	listings map[string]models.Listing
	holds    map[uuid.UUID]models.Hold
	order    map[string][]uuid.UUID
	staff    map[string][]models.StaffMember

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	sweepMu sync.Mutex
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		listings: make(map[string]models.Listing),
		holds:    make(map[uuid.UUID]models.Hold),
		order:    make(map[string][]uuid.UUID),
		staff:    make(map[string][]models.StaffMember),
		locks:    make(map[string]*sync.Mutex),
	}
}

// UpsertListing creates a listing or updates its mutable attributes
func (s *MemoryStore) UpsertListing(_ context.Context, listing *models.Listing) error {
	if err := listing.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	stored := *listing
	if existing, ok := s.listings[listing.ID]; ok {
		if existing.ModuleType != listing.ModuleType {
			return fmt.Errorf("listing %s: %w", listing.ID, ErrModuleTypeImmutable)
		}
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.listings[listing.ID] = stored
	return nil
}

// UpsertStaff creates or replaces a staff member
func (s *MemoryStore) UpsertStaff(_ context.Context, member *models.StaffMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var staff []models.StaffMember
	for _, m := range s.staff[member.ListingID] {
		if m.ID != member.ID {
			staff = append(staff, m)
		}
	}
	staff = append(staff, *member)
	sort.SliceStable(staff, func(i, j int) bool {
		if staff[i].Position != staff[j].Position {
			return staff[i].Position < staff[j].Position
		}
		return staff[i].ID < staff[j].ID
	})
	s.staff[member.ListingID] = staff
	return nil
}

// GetListing returns nil, nil when the listing does not exist
func (s *MemoryStore) GetListing(_ context.Context, listingID string) (*models.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	listing, ok := s.listings[listingID]
	if !ok {
		return nil, nil
	}
	return &listing, nil
}

// WithListingLock runs fn while holding the listing's mutex
func (s *MemoryStore) WithListingLock(ctx context.Context, listingID string, fn func(ctx context.Context, listing *models.Listing) error) error {
	if _, err := s.GetListing(ctx, listingID); err != nil {
		return err
	}

	lock := s.listingLock(listingID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	listing, _ := s.GetListing(ctx, listingID)
	if listing == nil {
		return models.ErrListingNotFound
	}
	return fn(ctx, listing)
}

func (s *MemoryStore) listingLock(listingID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	lock, ok := s.locks[listingID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[listingID] = lock
	}
	return lock
}

// GetHold returns nil, nil when the hold does not exist
func (s *MemoryStore) GetHold(_ context.Context, holdID uuid.UUID) (*models.Hold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hold, ok := s.holds[holdID]
	if !ok {
		return nil, nil
	}
	clone := cloneHold(hold)
	return &clone, nil
}

// GetHoldByIdempotencyKey returns the hold a listing created for key
func (s *MemoryStore) GetHoldByIdempotencyKey(_ context.Context, listingID, key string) (*models.Hold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.order[listingID] {
		if hold := s.holds[id]; hold.IdempotencyKey != "" && hold.IdempotencyKey == key {
			clone := cloneHold(hold)
			return &clone, nil
		}
	}
	return nil, nil
}

// CreateHold stores a new hold
func (s *MemoryStore) CreateHold(_ context.Context, hold *models.Hold) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.holds[hold.ID]; exists {
		return fmt.Errorf("hold %s already exists", hold.ID)
	}
	if hold.IdempotencyKey != "" {
		for _, id := range s.order[hold.ListingID] {
			if s.holds[id].IdempotencyKey == hold.IdempotencyKey {
				return ErrDuplicateIdempotencyKey
			}
		}
	}

	s.holds[hold.ID] = cloneHold(*hold)
	s.order[hold.ListingID] = append(s.order[hold.ListingID], hold.ID)
	return nil
}

// UpdateHoldStatus moves a hold between statuses if it is still in from
func (s *MemoryStore) UpdateHoldStatus(_ context.Context, holdID uuid.UUID, from, to models.HoldStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hold, ok := s.holds[holdID]
	if !ok || hold.Status != from {
		return false, nil
	}
	hold.Status = to
	hold.UpdatedAt = time.Now().UTC()
	s.holds[holdID] = hold
	return true, nil
}

// SumActiveQuantity totals units held by unexpired active holds
func (s *MemoryStore) SumActiveQuantity(_ context.Context, listingID string, now time.Time) (int, error) {
	total := 0
	s.eachHold(listingID, func(h models.Hold) {
		if h.Status == models.HoldStatusActive && now.Before(h.ExpiresAt) {
			total += h.Quantity
		}
	})
	return total, nil
}

// SumConfirmedQuantity totals units committed by confirmed holds
func (s *MemoryStore) SumConfirmedQuantity(_ context.Context, listingID string) (int, error) {
	total := 0
	s.eachHold(listingID, func(h models.Hold) {
		if h.Status == models.HoldStatusConfirmed {
			total += h.Quantity
		}
	})
	return total, nil
}

// ListOverlappingBlocks returns occupying rental blocks that share a day with dr
func (s *MemoryStore) ListOverlappingBlocks(_ context.Context, listingID string, dr models.DateRange, now time.Time) ([]models.Hold, error) {
	var blocks []models.Hold
	s.eachHold(listingID, func(h models.Hold) {
		if h.Range != nil && h.Occupies(now) && h.Range.Overlaps(dr) {
			blocks = append(blocks, h)
		}
	})
	sort.SliceStable(blocks, func(i, j int) bool {
		if !blocks[i].Range.Start.Equal(blocks[j].Range.Start) {
			return blocks[i].Range.Start.Before(blocks[j].Range.Start)
		}
		return blocks[i].ID.String() < blocks[j].ID.String()
	})
	return blocks, nil
}

// ListSlotBookings returns occupying slot bookings on date
func (s *MemoryStore) ListSlotBookings(_ context.Context, listingID string, date time.Time, now time.Time) ([]models.Hold, error) {
	day := models.DateOf(date)
	var bookings []models.Hold
	s.eachHold(listingID, func(h models.Hold) {
		if h.Slot != nil && h.Occupies(now) && h.Slot.Date.Equal(day) {
			bookings = append(bookings, h)
		}
	})
	sort.SliceStable(bookings, func(i, j int) bool {
		a, b := bookings[i].Slot, bookings[j].Slot
		if a.Slot.Start != b.Slot.Start {
			return a.Slot.Start < b.Slot.Start
		}
		if a.StaffID != b.StaffID {
			return a.StaffID < b.StaffID
		}
		return bookings[i].ID.String() < bookings[j].ID.String()
	})
	return bookings, nil
}

// ListListingsWithLapsedHolds returns listings that have active holds past expiry
// ordered by id and starting after the given id
func (s *MemoryStore) ListListingsWithLapsedHolds(_ context.Context, now time.Time, after string, limit int) ([]string, error) {
	s.mu.RLock()
	seen := make(map[string]struct{})
	for _, h := range s.holds {
		if h.Lapsed(now) && h.ListingID > after {
			seen[h.ListingID] = struct{}{}
		}
	}
	s.mu.RUnlock()

	listingIDs := make([]string, 0, len(seen))
	for id := range seen {
		listingIDs = append(listingIDs, id)
	}
	sort.Strings(listingIDs)
	if limit > 0 && len(listingIDs) > limit {
		listingIDs = listingIDs[:limit]
	}
	return listingIDs, nil
}

// ExpireLapsedHolds marks a listing's lapsed active holds as expired and returns them
func (s *MemoryStore) ExpireLapsedHolds(_ context.Context, listingID string, now time.Time) ([]models.Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []models.Hold
	for _, id := range s.order[listingID] {
		hold := s.holds[id]
		if !hold.Lapsed(now) {
			continue
		}
		hold.Status = models.HoldStatusExpired
		hold.UpdatedAt = now
		s.holds[id] = hold
		expired = append(expired, cloneHold(hold))
	}
	return expired, nil
}

// ListStaff returns a listing's staff in calendar order
func (s *MemoryStore) ListStaff(_ context.Context, listingID string) ([]models.StaffMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	staff := make([]models.StaffMember, len(s.staff[listingID]))
	copy(staff, s.staff[listingID])
	return staff, nil
}

// TryAcquireSweepLock elects one sweeper within the process
func (s *MemoryStore) TryAcquireSweepLock(_ context.Context) (func(), bool, error) {
	if !s.sweepMu.TryLock() {
		return nil, false, nil
	}
	return s.sweepMu.Unlock, true, nil
}

func (s *MemoryStore) eachHold(listingID string, fn func(models.Hold)) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.order[listingID] {
		fn(cloneHold(s.holds[id]))
	}
}

func cloneHold(h models.Hold) models.Hold {
	if h.Range != nil {
		r := *h.Range
		h.Range = &r
	}
	if h.Slot != nil {
		slot := *h.Slot
		h.Slot = &slot
	}
	return h
}
