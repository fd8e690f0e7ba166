package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"availability-engine/internal/interfaces"
	"availability-engine/internal/models"
)

// GenerateSlots lays back-to-back slots of cal.SlotMinutes over every window
// open on date. The result is sorted by start and free of duplicates.
func GenerateSlots(cal models.OperatingCalendar, date time.Time) []models.TimeSlot {
	if cal.SlotMinutes <= 0 {
		return nil
	}
	step := models.TimeOfDay(cal.SlotMinutes)

	seen := make(map[models.TimeSlot]struct{})
	var slots []models.TimeSlot
	for _, w := range cal.Windows {
		if !w.AppliesOn(date) {
			continue
		}
		for start := w.Open; start+step <= w.Close; start += step {
			slot := models.TimeSlot{Start: start, End: start + step}
			if _, dup := seen[slot]; dup {
				continue
			}
			seen[slot] = struct{}{}
			slots = append(slots, slot)
		}
	}

	sort.Slice(slots, func(i, j int) bool {
		if slots[i].Start != slots[j].Start {
			return slots[i].Start < slots[j].Start
		}
		return slots[i].End < slots[j].End
	})
	return slots
}

// slotSubsystem governs service listings: generated time slots booked per
// staff member, or against one shared resource when the listing has no staff.
type slotSubsystem struct {
	holds interfaces.HoldRepository
	staff interfaces.StaffDirectory
}

func (s *slotSubsystem) ModuleType() models.ModuleType {
	return models.ModuleTypeService
}

// slotDay is what is needed to judge every slot of one listing on one date.
type slotDay struct {
	date     time.Time
	grid     []models.TimeSlot
	staff    []models.StaffMember
	bookings []models.Hold
}

func (s *slotSubsystem) loadDay(ctx context.Context, listing *models.Listing, date time.Time, now time.Time) (*slotDay, error) {
	if listing.Calendar == nil {
		return nil, models.NewValidationError("operating_calendar", "listing has no operating calendar", listing.ID)
	}

	day := models.DateOf(date)
	staff, err := s.staff.ListStaff(ctx, listing.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load staff: %w", err)
	}
	bookings, err := s.holds.ListSlotBookings(ctx, listing.ID, day, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load slot bookings: %w", err)
	}

	return &slotDay{
		date:     day,
		grid:     GenerateSlots(*listing.Calendar, day),
		staff:    staff,
		bookings: bookings,
	}, nil
}

func (d *slotDay) slotAt(start models.TimeOfDay) (models.TimeSlot, bool) {
	for _, slot := range d.grid {
		if slot.Start == start {
			return slot, true
		}
	}
	return models.TimeSlot{}, false
}

func (d *slotDay) hasStaff(staffID string) bool {
	for _, m := range d.staff {
		if m.ID == staffID {
			return true
		}
	}
	return false
}

func (d *slotDay) overlapping(slot models.TimeSlot) []models.Hold {
	var out []models.Hold
	for _, b := range d.bookings {
		if b.Slot.Slot.Overlaps(slot) {
			out = append(out, b)
		}
	}
	return out
}

// evaluate flags slot for staffID, or for any staff when staffID is empty.
// An available result names the staff member a reservation would pin.
func (d *slotDay) evaluate(slot models.TimeSlot, staffID string) (models.SlotAvailability, []models.Hold) {
	overlapping := d.overlapping(slot)
	avail := models.SlotAvailability{Slot: slot, OccupiedBy: occupants(overlapping)}

	if len(d.staff) == 0 {
		avail.Available = len(overlapping) == 0
		return avail, overlapping
	}

	if staffID != "" {
		var conflicts []models.Hold
		for _, b := range overlapping {
			if b.Slot.StaffID == staffID {
				conflicts = append(conflicts, b)
			}
		}
		for _, m := range d.staff {
			if m.ID == staffID && m.Calendar.Covers(d.date, slot) && len(conflicts) == 0 {
				avail.Available = true
				avail.StaffID = staffID
			}
		}
		return avail, conflicts
	}

	busy := make(map[string]bool, len(overlapping))
	for _, b := range overlapping {
		busy[b.Slot.StaffID] = true
	}
	for _, m := range d.staff {
		if !busy[m.ID] && m.Calendar.Covers(d.date, slot) {
			avail.Available = true
			avail.StaffID = m.ID
			return avail, nil
		}
	}
	return avail, overlapping
}

func occupants(bookings []models.Hold) []string {
	var ids []string
	seen := make(map[string]struct{})
	for _, b := range bookings {
		id := b.Slot.StaffID
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

func (s *slotSubsystem) Evaluate(ctx context.Context, listing *models.Listing, req models.AvailabilityRequest, now time.Time) (*Evaluation, error) {
	if req.Slot == nil {
		return nil, models.NewValidationError("date", "service requests need date and start_time", nil)
	}
	if req.Slot.Date.IsZero() {
		return nil, models.NewValidationError("date", "date is required", nil)
	}

	day, err := s.loadDay(ctx, listing, req.Slot.Date, now)
	if err != nil {
		return nil, err
	}

	slot, ok := day.slotAt(req.Slot.Start)
	if !ok {
		return nil, models.NewValidationError("start_time",
			fmt.Sprintf("no slot starts at %s on %s", req.Slot.Start, models.FormatDate(day.date)), req.Slot.Start.String())
	}
	if req.Slot.StaffID != "" && !day.hasStaff(req.Slot.StaffID) {
		return nil, models.NewValidationError("staff_id", "staff member does not serve this listing", req.Slot.StaffID)
	}

	avail, conflicts := day.evaluate(slot, req.Slot.StaffID)

	result := newResult(listing, now)
	result.Available = avail.Available
	result.Slot = &avail
	result.Conflicts = conflictsFrom(conflicts)

	return &Evaluation{
		Result: result,
		Hold: models.Hold{Slot: &models.BookedSlot{
			Date:    day.date,
			Slot:    slot,
			StaffID: avail.StaffID,
		}},
	}, nil
}

// Day flags every generated slot on date, for staffID or for any staff.
func (s *slotSubsystem) Day(ctx context.Context, listing *models.Listing, date time.Time, staffID string, now time.Time) (*models.ServiceDay, error) {
	day, err := s.loadDay(ctx, listing, date, now)
	if err != nil {
		return nil, err
	}
	if staffID != "" && !day.hasStaff(staffID) {
		return nil, models.NewValidationError("staff_id", "staff member does not serve this listing", staffID)
	}

	out := &models.ServiceDay{
		ListingID: listing.ID,
		Date:      models.FormatDate(day.date),
		StaffID:   staffID,
		Slots:     make([]models.SlotAvailability, 0, len(day.grid)),
	}
	for _, slot := range day.grid {
		avail, _ := day.evaluate(slot, staffID)
		out.Slots = append(out.Slots, avail)
	}
	return out, nil
}
