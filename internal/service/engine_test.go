package service

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"availability-engine/internal/clock"
	"availability-engine/internal/models"
	"availability-engine/internal/repository"
)

var testNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.AvailabilityChangeEvent
}

func (n *recordingNotifier) Notify(event models.AvailabilityChangeEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) kinds() []models.ChangeKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]models.ChangeKind, 0, len(n.events))
	for _, e := range n.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

type engineFixture struct {
	engine   *Engine
	store    *repository.MemoryStore
	clock    *clock.Manual
	notifier *recordingNotifier
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	store := repository.NewMemoryStore()
	clk := clock.NewManual(testNow)
	notifier := &recordingNotifier{}

	engine, err := NewEngine(store, store, store, notifier, clk, nil, DefaultConfig())
	require.NoError(t, err)

	return &engineFixture{engine: engine, store: store, clock: clk, notifier: notifier}
}

func (f *engineFixture) saleListing(t *testing.T, id string, total int) {
	require.NoError(t, f.store.UpsertListing(context.Background(), &models.Listing{
		ID: id, MerchantID: "m-1", ModuleType: models.ModuleTypeSale, Active: true, TotalQuantity: total,
	}))
}

func (f *engineFixture) rentalListing(t *testing.T, id string) {
	require.NoError(t, f.store.UpsertListing(context.Background(), &models.Listing{
		ID: id, MerchantID: "m-1", ModuleType: models.ModuleTypeRental, Active: true,
	}))
}

func (f *engineFixture) serviceListing(t *testing.T, id string, staff ...models.StaffMember) {
	require.NoError(t, f.store.UpsertListing(context.Background(), &models.Listing{
		ID: id, MerchantID: "m-1", ModuleType: models.ModuleTypeService, Active: true,
		Calendar: &models.OperatingCalendar{
			Windows:     []models.DailyWindow{{Open: 9 * 60, Close: 12 * 60}},
			SlotMinutes: 60,
		},
	}))
	for i := range staff {
		staff[i].ListingID = id
		require.NoError(t, f.store.UpsertStaff(context.Background(), &staff[i]))
	}
}

func morningStaff(id string, position int) models.StaffMember {
	return models.StaffMember{
		ID:       id,
		Position: position,
		Calendar: models.WorkingCalendar{
			Recurring: []models.DailyWindow{{Open: 9 * 60, Close: 12 * 60}},
		},
	}
}

func qty(n int) models.AvailabilityRequest {
	return models.AvailabilityRequest{Quantity: n}
}

func dateRange(t *testing.T, start, end string) models.AvailabilityRequest {
	r, err := models.NewDateRange(start, end)
	require.NoError(t, err)
	return models.AvailabilityRequest{Range: &r}
}

func slotAt(t *testing.T, date, start, staffID string) models.AvailabilityRequest {
	d, err := models.ParseDate(date)
	require.NoError(t, err)
	s, err := models.ParseTimeOfDay(start)
	require.NoError(t, err)
	return models.AvailabilityRequest{Slot: &models.SlotRequest{Date: d, Start: s, StaffID: staffID}}
}

func TestNewEngine_InvalidConfig(t *testing.T) {
	store := repository.NewMemoryStore()
	cfg := DefaultConfig()
	cfg.MaxQuantity = 0

	_, err := NewEngine(store, store, store, nil, nil, nil, cfg)
	assert.Error(t, err)
}

func TestNewEngine_DispatchesEveryModuleType(t *testing.T) {
	f := newEngineFixture(t)

	for _, mt := range []models.ModuleType{models.ModuleTypeSale, models.ModuleTypeRental, models.ModuleTypeService} {
		sub, err := f.engine.subsystemFor(&models.Listing{ID: "x", ModuleType: mt})
		require.NoError(t, err, mt)
		assert.Equal(t, mt, sub.ModuleType())
	}

	_, err := f.engine.subsystemFor(&models.Listing{ID: "x", ModuleType: "auction"})
	assert.Error(t, err)
}

func TestReserve_Sale_ExactlyOneWinsLastUnit(t *testing.T) {
	f := newEngineFixture(t)
	f.saleListing(t, "sku-1", 1)

	const callers = 2
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		results = make(chan error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.engine.Reserve(context.Background(), "sku-1", qty(1), time.Minute)
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	succeeded, unavailable := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, models.ErrUnavailable):
			unavailable++
			ue, ok := models.AsUnavailable(err)
			require.True(t, ok)
			assert.Equal(t, 0, ue.FreeQuantity())
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, unavailable)
}

func TestReserve_Sale_NeverOversells(t *testing.T) {
	f := newEngineFixture(t)
	f.saleListing(t, "sku-1", 7)

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			hold, err := f.engine.Reserve(context.Background(), "sku-1", qty(n%3+1), time.Minute)
			if err == nil {
				mu.Lock()
				granted += hold.Quantity
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	result, err := f.engine.GetStock(context.Background(), "sku-1")
	require.NoError(t, err)
	assert.LessOrEqual(t, result.Stock.Held+result.Stock.Committed, result.Stock.Total)
	assert.Equal(t, granted, result.Stock.Held)
}

func TestReserve_Sale_Validation(t *testing.T) {
	f := newEngineFixture(t)
	f.saleListing(t, "sku-1", 5)

	tests := []struct {
		name     string
		req      models.AvailabilityRequest
		duration time.Duration
	}{
		{name: "zero quantity", req: qty(0), duration: time.Minute},
		{name: "negative quantity", req: qty(-2), duration: time.Minute},
		{name: "quantity above maximum", req: qty(DefaultConfig().MaxQuantity + 1), duration: time.Minute},
		{name: "negative hold duration", req: qty(1), duration: -time.Second},
		{name: "hold duration above maximum", req: qty(1), duration: DefaultConfig().MaxHoldDuration + time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Reserve(context.Background(), "sku-1", tt.req, tt.duration)
			assert.ErrorIs(t, err, models.ErrInvalidRequest)
		})
	}
}

func TestReserve_Sale_ZeroTotalIsUnavailable(t *testing.T) {
	f := newEngineFixture(t)
	f.saleListing(t, "sku-0", 0)

	_, err := f.engine.Reserve(context.Background(), "sku-0", qty(1), time.Minute)
	assert.ErrorIs(t, err, models.ErrUnavailable)

	result, err := f.engine.CheckAvailability(context.Background(), "sku-0", qty(1))
	require.NoError(t, err)
	assert.False(t, result.Available)
}

func TestReserve_DefaultHoldDuration(t *testing.T) {
	f := newEngineFixture(t)
	f.saleListing(t, "sku-1", 5)

	hold, err := f.engine.Reserve(context.Background(), "sku-1", qty(1), 0)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(DefaultConfig().DefaultHoldDuration), hold.ExpiresAt)
	assert.Equal(t, models.HoldStatusActive, hold.Status)
	assert.Equal(t, []models.ChangeKind{models.ChangeKindHeld}, f.notifier.kinds())
}

func TestReserve_UnknownOrInactiveListing(t *testing.T) {
	f := newEngineFixture(t)
	require.NoError(t, f.store.UpsertListing(context.Background(), &models.Listing{
		ID: "sku-off", MerchantID: "m-1", ModuleType: models.ModuleTypeSale, Active: false, TotalQuantity: 5,
	}))

	_, err := f.engine.Reserve(context.Background(), "missing", qty(1), time.Minute)
	assert.ErrorIs(t, err, models.ErrListingNotFound)

	_, err = f.engine.Reserve(context.Background(), "sku-off", qty(1), time.Minute)
	assert.ErrorIs(t, err, models.ErrListingNotFound)

	_, err = f.engine.CheckAvailability(context.Background(), "sku-off", qty(1))
	assert.ErrorIs(t, err, models.ErrListingNotFound)
}

func TestReserve_IdempotencyKeyReplays(t *testing.T) {
	f := newEngineFixture(t)
	f.saleListing(t, "sku-1", 1)

	req := qty(1)
	req.IdempotencyKey = "cart-7"

	first, err := f.engine.Reserve(context.Background(), "sku-1", req, time.Minute)
	require.NoError(t, err)

	second, err := f.engine.Reserve(context.Background(), "sku-1", req, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.notifier.kinds(), 1)
}

func TestCheckAvailability_DoesNotMutate(t *testing.T) {
	f := newEngineFixture(t)
	f.saleListing(t, "sku-1", 3)

	for i := 0; i < 5; i++ {
		result, err := f.engine.CheckAvailability(context.Background(), "sku-1", qty(3))
		require.NoError(t, err)
		assert.True(t, result.Available)
		assert.Equal(t, 3, result.Stock.Free())
	}
	assert.Empty(t, f.notifier.kinds())
}

func TestReserve_Rental_OverlapConflict(t *testing.T) {
	f := newEngineFixture(t)
	f.rentalListing(t, "car-1")

	existing, err := f.engine.Reserve(context.Background(), "car-1", dateRange(t, "2025-06-10", "2025-06-15"), time.Hour)
	require.NoError(t, err)

	_, err = f.engine.Reserve(context.Background(), "car-1", dateRange(t, "2025-06-12", "2025-06-20"), time.Hour)
	require.ErrorIs(t, err, models.ErrUnavailable)

	ue, ok := models.AsUnavailable(err)
	require.True(t, ok)
	require.Len(t, ue.Conflicts, 1)
	assert.Equal(t, existing.ID, ue.Conflicts[0].HoldID)
	assert.Equal(t, "[2025-06-10, 2025-06-15]", ue.Conflicts[0].Range.String())
	assert.Equal(t, -1, ue.FreeQuantity())
}

func TestReserve_Rental_TouchingEndsConflictButAdjacentDoNot(t *testing.T) {
	f := newEngineFixture(t)
	f.rentalListing(t, "car-1")

	_, err := f.engine.Reserve(context.Background(), "car-1", dateRange(t, "2025-06-10", "2025-06-15"), time.Hour)
	require.NoError(t, err)

	_, err = f.engine.Reserve(context.Background(), "car-1", dateRange(t, "2025-06-15", "2025-06-15"), time.Hour)
	assert.ErrorIs(t, err, models.ErrUnavailable)

	_, err = f.engine.Reserve(context.Background(), "car-1", dateRange(t, "2025-06-16", "2025-06-16"), time.Hour)
	assert.NoError(t, err)
}

func TestReserve_Rental_MissingRange(t *testing.T) {
	f := newEngineFixture(t)
	f.rentalListing(t, "car-1")

	_, err := f.engine.Reserve(context.Background(), "car-1", qty(1), time.Hour)
	assert.ErrorIs(t, err, models.ErrInvalidRequest)

	backwards := models.DateRange{
		Start: time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
	}
	_, err = f.engine.Reserve(context.Background(), "car-1", models.AvailabilityRequest{Range: &backwards}, time.Hour)
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
}

func TestReserve_Rental_RandomIntervalsNeverOverlap(t *testing.T) {
	f := newEngineFixture(t)
	f.rentalListing(t, "car-1")

	rng := rand.New(rand.NewSource(42))
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	var accepted []models.DateRange
	for i := 0; i < 300; i++ {
		start := base.AddDate(0, 0, rng.Intn(120))
		end := start.AddDate(0, 0, rng.Intn(10))
		r := models.DateRange{Start: start, End: end}

		wantFree := true
		for _, a := range accepted {
			if a.Overlaps(r) {
				wantFree = false
				break
			}
		}

		hold, err := f.engine.Reserve(context.Background(), "car-1", models.AvailabilityRequest{Range: &r}, time.Hour)
		if wantFree {
			require.NoError(t, err, "range %s", r)
			accepted = append(accepted, *hold.Range)
		} else {
			require.ErrorIs(t, err, models.ErrUnavailable, "range %s", r)
		}
	}

	for i := range accepted {
		for j := i + 1; j < len(accepted); j++ {
			assert.False(t, accepted[i].Overlaps(accepted[j]), "%s overlaps %s", accepted[i], accepted[j])
		}
	}
}

func TestGetRentalBookedDates_MergesAndClips(t *testing.T) {
	f := newEngineFixture(t)
	f.rentalListing(t, "car-1")

	for _, r := range [][2]string{
		{"2025-06-01", "2025-06-03"},
		{"2025-06-04", "2025-06-05"},
		{"2025-06-10", "2025-06-12"},
	} {
		_, err := f.engine.Reserve(context.Background(), "car-1", dateRange(t, r[0], r[1]), time.Hour)
		require.NoError(t, err)
	}

	window, err := models.NewDateRange("2025-06-02", "2025-06-10")
	require.NoError(t, err)

	booked, err := f.engine.GetRentalBookedDates(context.Background(), "car-1", window)
	require.NoError(t, err)
	require.Len(t, booked.Ranges, 2)
	assert.Equal(t, "[2025-06-02, 2025-06-05]", booked.Ranges[0].String())
	assert.Equal(t, "[2025-06-10, 2025-06-10]", booked.Ranges[1].String())
	assert.Equal(t, []string{"2025-06-02", "2025-06-03", "2025-06-04", "2025-06-05", "2025-06-10"}, booked.Days)

	tooLong, err := models.NewDateRange("2025-01-01", "2026-12-31")
	require.NoError(t, err)
	_, err = f.engine.GetRentalBookedDates(context.Background(), "car-1", tooLong)
	assert.ErrorIs(t, err, models.ErrInvalidRequest)

	f.saleListing(t, "sku-1", 1)
	_, err = f.engine.GetRentalBookedDates(context.Background(), "sku-1", window)
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
}

func TestGetServiceAvailability_ThreeSlotsOnFreeDay(t *testing.T) {
	f := newEngineFixture(t)
	f.serviceListing(t, "cut-1")

	date, err := models.ParseDate("2025-06-02")
	require.NoError(t, err)

	day, err := f.engine.GetServiceAvailability(context.Background(), "cut-1", date, "")
	require.NoError(t, err)
	require.Len(t, day.Slots, 3)
	for _, s := range day.Slots {
		assert.True(t, s.Available)
	}
	assert.Equal(t, "09:00-10:00", day.Slots[0].Slot.String())
	assert.Equal(t, "11:00-12:00", day.Slots[2].Slot.String())
}

func TestReserve_Service_SharedResourceWithoutStaff(t *testing.T) {
	f := newEngineFixture(t)
	f.serviceListing(t, "cut-1")

	hold, err := f.engine.Reserve(context.Background(), "cut-1", slotAt(t, "2025-06-02", "10:00", ""), time.Minute)
	require.NoError(t, err)
	assert.Empty(t, hold.Slot.StaffID)

	_, err = f.engine.Reserve(context.Background(), "cut-1", slotAt(t, "2025-06-02", "10:00", ""), time.Minute)
	assert.ErrorIs(t, err, models.ErrUnavailable)

	_, err = f.engine.Reserve(context.Background(), "cut-1", slotAt(t, "2025-06-02", "11:00", ""), time.Minute)
	assert.NoError(t, err)

	_, err = f.engine.Reserve(context.Background(), "cut-1", slotAt(t, "2025-06-02", "10:30", ""), time.Minute)
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
}

func TestReserve_Service_PinsFirstFreeStaffInCalendarOrder(t *testing.T) {
	f := newEngineFixture(t)
	f.serviceListing(t, "cut-1", morningStaff("bob", 2), morningStaff("alice", 1))

	first, err := f.engine.Reserve(context.Background(), "cut-1", slotAt(t, "2025-06-02", "09:00", ""), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "alice", first.Slot.StaffID)

	second, err := f.engine.Reserve(context.Background(), "cut-1", slotAt(t, "2025-06-02", "09:00", ""), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "bob", second.Slot.StaffID)

	_, err = f.engine.Reserve(context.Background(), "cut-1", slotAt(t, "2025-06-02", "09:00", ""), time.Minute)
	require.ErrorIs(t, err, models.ErrUnavailable)
	ue, ok := models.AsUnavailable(err)
	require.True(t, ok)
	assert.Len(t, ue.Conflicts, 2)

	date, err := models.ParseDate("2025-06-02")
	require.NoError(t, err)
	day, err := f.engine.GetServiceAvailability(context.Background(), "cut-1", date, "")
	require.NoError(t, err)
	assert.False(t, day.Slots[0].Available)
	assert.ElementsMatch(t, []string{"alice", "bob"}, day.Slots[0].OccupiedBy)
	assert.True(t, day.Slots[1].Available)
	assert.Equal(t, "alice", day.Slots[1].StaffID)
}

func TestReserve_Service_SkipsStaffOffCalendar(t *testing.T) {
	f := newEngineFixture(t)
	off := morningStaff("alice", 1)
	off.Calendar.DaysOff = []string{"2025-06-02"}
	f.serviceListing(t, "cut-1", off, morningStaff("bob", 2))

	hold, err := f.engine.Reserve(context.Background(), "cut-1", slotAt(t, "2025-06-02", "09:00", ""), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "bob", hold.Slot.StaffID)

	_, err = f.engine.Reserve(context.Background(), "cut-1", slotAt(t, "2025-06-02", "10:00", "alice"), time.Minute)
	assert.ErrorIs(t, err, models.ErrUnavailable)
}

func TestReserve_Service_RequestedStaff(t *testing.T) {
	f := newEngineFixture(t)
	f.serviceListing(t, "cut-1", morningStaff("alice", 1), morningStaff("bob", 2))

	hold, err := f.engine.Reserve(context.Background(), "cut-1", slotAt(t, "2025-06-02", "09:00", "bob"), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "bob", hold.Slot.StaffID)

	_, err = f.engine.Reserve(context.Background(), "cut-1", slotAt(t, "2025-06-02", "09:00", "bob"), time.Minute)
	assert.ErrorIs(t, err, models.ErrUnavailable)

	_, err = f.engine.Reserve(context.Background(), "cut-1", slotAt(t, "2025-06-02", "09:00", "carol"), time.Minute)
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
}

func TestReserve_Service_ConcurrentSameSlot(t *testing.T) {
	f := newEngineFixture(t)
	f.serviceListing(t, "cut-1", morningStaff("alice", 1), morningStaff("bob", 2))

	var wg sync.WaitGroup
	holds := make(chan *models.Hold, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hold, err := f.engine.Reserve(context.Background(), "cut-1", slotAt(t, "2025-06-02", "11:00", ""), time.Minute)
			if err == nil {
				holds <- hold
			}
		}()
	}
	wg.Wait()
	close(holds)

	staff := map[string]int{}
	for h := range holds {
		staff[h.Slot.StaffID]++
	}
	assert.Equal(t, map[string]int{"alice": 1, "bob": 1}, staff)
}

func TestConfirm_Lifecycle(t *testing.T) {
	f := newEngineFixture(t)
	f.saleListing(t, "sku-1", 2)

	hold, err := f.engine.Reserve(context.Background(), "sku-1", qty(2), time.Minute)
	require.NoError(t, err)

	confirmed, err := f.engine.Confirm(context.Background(), hold.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HoldStatusConfirmed, confirmed.Status)

	stock, err := f.engine.GetStock(context.Background(), "sku-1")
	require.NoError(t, err)
	assert.Equal(t, 0, stock.Stock.Held)
	assert.Equal(t, 2, stock.Stock.Committed)
	assert.False(t, stock.Available)

	_, err = f.engine.Confirm(context.Background(), hold.ID)
	assert.ErrorIs(t, err, models.ErrHoldNotFound)

	_, err = f.engine.Confirm(context.Background(), uuid.New())
	assert.ErrorIs(t, err, models.ErrHoldNotFound)

	assert.Equal(t, []models.ChangeKind{models.ChangeKindHeld, models.ChangeKindConfirmed}, f.notifier.kinds())
}

func TestConfirm_ExpiredHoldAlwaysFails(t *testing.T) {
	f := newEngineFixture(t)
	f.saleListing(t, "sku-1", 2)

	lapsed, err := f.engine.Reserve(context.Background(), "sku-1", qty(1), time.Minute)
	require.NoError(t, err)
	swept, err := f.engine.Reserve(context.Background(), "sku-1", qty(1), time.Minute)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)

	_, err = f.engine.Confirm(context.Background(), lapsed.ID)
	assert.ErrorIs(t, err, models.ErrHoldExpired)

	n, err := f.engine.ExpireStaleHolds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = f.engine.Confirm(context.Background(), swept.ID)
	assert.ErrorIs(t, err, models.ErrHoldExpired)
}

func TestConfirm_ReleasedHoldIsNotFound(t *testing.T) {
	f := newEngineFixture(t)
	f.saleListing(t, "sku-1", 1)

	hold, err := f.engine.Reserve(context.Background(), "sku-1", qty(1), time.Minute)
	require.NoError(t, err)
	_, err = f.engine.Release(context.Background(), hold.ID)
	require.NoError(t, err)

	_, err = f.engine.Confirm(context.Background(), hold.ID)
	assert.ErrorIs(t, err, models.ErrHoldNotFound)
}

func TestRelease_IsIdempotent(t *testing.T) {
	f := newEngineFixture(t)
	f.saleListing(t, "sku-1", 1)

	hold, err := f.engine.Reserve(context.Background(), "sku-1", qty(1), time.Minute)
	require.NoError(t, err)

	first, err := f.engine.Release(context.Background(), hold.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HoldStatusReleased, first.Status)

	second, err := f.engine.Release(context.Background(), hold.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HoldStatusReleased, second.Status)

	assert.Equal(t, []models.ChangeKind{models.ChangeKindHeld, models.ChangeKindReleased}, f.notifier.kinds())

	_, err = f.engine.Reserve(context.Background(), "sku-1", qty(1), time.Minute)
	assert.NoError(t, err)

	_, err = f.engine.Release(context.Background(), uuid.New())
	assert.ErrorIs(t, err, models.ErrHoldNotFound)
}

func TestRelease_ExpiredHoldIsSilent(t *testing.T) {
	f := newEngineFixture(t)
	f.rentalListing(t, "car-1")

	hold, err := f.engine.Reserve(context.Background(), "car-1", dateRange(t, "2025-06-10", "2025-06-12"), time.Minute)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	_, err = f.engine.ExpireStaleHolds(context.Background())
	require.NoError(t, err)

	released, err := f.engine.Release(context.Background(), hold.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HoldStatusExpired, released.Status)
	assert.Equal(t, []models.ChangeKind{models.ChangeKindHeld, models.ChangeKindExpired}, f.notifier.kinds())
}

func TestRelease_ConfirmedHoldFreesCapacity(t *testing.T) {
	f := newEngineFixture(t)
	f.rentalListing(t, "car-1")

	hold, err := f.engine.Reserve(context.Background(), "car-1", dateRange(t, "2025-06-10", "2025-06-12"), time.Minute)
	require.NoError(t, err)
	_, err = f.engine.Confirm(context.Background(), hold.ID)
	require.NoError(t, err)

	_, err = f.engine.Reserve(context.Background(), "car-1", dateRange(t, "2025-06-11", "2025-06-11"), time.Minute)
	require.ErrorIs(t, err, models.ErrUnavailable)

	_, err = f.engine.Release(context.Background(), hold.ID)
	require.NoError(t, err)

	_, err = f.engine.Reserve(context.Background(), "car-1", dateRange(t, "2025-06-11", "2025-06-11"), time.Minute)
	assert.NoError(t, err)
}

func TestExpireStaleHolds_FreesQuantity(t *testing.T) {
	f := newEngineFixture(t)
	f.saleListing(t, "sku-1", 3)

	hold, err := f.engine.Reserve(context.Background(), "sku-1", qty(3), time.Minute)
	require.NoError(t, err)

	_, err = f.engine.Reserve(context.Background(), "sku-1", qty(3), time.Minute)
	require.ErrorIs(t, err, models.ErrUnavailable)

	f.clock.Advance(time.Minute + time.Second)

	n, err := f.engine.ExpireStaleHolds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := f.engine.GetHold(context.Background(), hold.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HoldStatusExpired, stored.Status)

	_, err = f.engine.Reserve(context.Background(), "sku-1", qty(3), time.Minute)
	assert.NoError(t, err)

	again, err := f.engine.ExpireStaleHolds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, again)
}

func TestExpireStaleHolds_LapsedCapacityFreedBeforeSweep(t *testing.T) {
	f := newEngineFixture(t)
	f.saleListing(t, "sku-1", 1)

	_, err := f.engine.Reserve(context.Background(), "sku-1", qty(1), time.Minute)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)

	_, err = f.engine.Reserve(context.Background(), "sku-1", qty(1), time.Minute)
	assert.NoError(t, err)
}

func TestExpireStaleHolds_ConcurrentSweepsExpireOnce(t *testing.T) {
	f := newEngineFixture(t)
	for _, id := range []string{"sku-1", "sku-2", "sku-3"} {
		f.saleListing(t, id, 5)
		for i := 0; i < 3; i++ {
			_, err := f.engine.Reserve(context.Background(), id, qty(1), time.Minute)
			require.NoError(t, err)
		}
	}
	f.clock.Advance(2 * time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := f.engine.ExpireStaleHolds(context.Background())
			assert.NoError(t, err)
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 9, total)

	expired := 0
	for _, k := range f.notifier.kinds() {
		if k == models.ChangeKindExpired {
			expired++
		}
	}
	assert.Equal(t, 9, expired)
}

func TestExpireStaleHolds_BatchesListings(t *testing.T) {
	store := repository.NewMemoryStore()
	clk := clock.NewManual(testNow)
	cfg := DefaultConfig()
	cfg.SweepBatchSize = 2

	engine, err := NewEngine(store, store, store, nil, clk, nil, cfg)
	require.NoError(t, err)

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, store.UpsertListing(context.Background(), &models.Listing{
			ID: id, MerchantID: "m-1", ModuleType: models.ModuleTypeSale, Active: true, TotalQuantity: 1,
		}))
		_, err := engine.Reserve(context.Background(), id, qty(1), time.Minute)
		require.NoError(t, err)
	}
	clk.Advance(time.Hour)

	n, err := engine.ExpireStaleHolds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

// failingExpiry fails ExpireLapsedHolds for one listing
type failingExpiry struct {
	*repository.MemoryStore
	listingID string
}

func (f *failingExpiry) ExpireLapsedHolds(ctx context.Context, listingID string, now time.Time) ([]models.Hold, error) {
	if listingID == f.listingID {
		return nil, errors.New("corrupt hold row")
	}
	return f.MemoryStore.ExpireLapsedHolds(ctx, listingID, now)
}

func TestExpireStaleHolds_FailingListingDoesNotStarveOthers(t *testing.T) {
	store := repository.NewMemoryStore()
	holds := &failingExpiry{MemoryStore: store, listingID: "a"}
	clk := clock.NewManual(testNow)
	cfg := DefaultConfig()
	cfg.SweepBatchSize = 1

	engine, err := NewEngine(store, holds, store, nil, clk, nil, cfg)
	require.NoError(t, err)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.UpsertListing(context.Background(), &models.Listing{
			ID: id, MerchantID: "m-1", ModuleType: models.ModuleTypeSale, Active: true, TotalQuantity: 1,
		}))
		_, err := engine.Reserve(context.Background(), id, qty(1), time.Minute)
		require.NoError(t, err)
	}
	clk.Advance(time.Hour)

	n, err := engine.ExpireStaleHolds(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listing a")
	assert.Equal(t, 2, n)

	lapsed, err := store.ListListingsWithLapsedHolds(context.Background(), clk.Now(), "", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, lapsed)

	// Once the listing recovers the next sweep picks it up.
	holds.listingID = ""
	n, err = engine.ExpireStaleHolds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
