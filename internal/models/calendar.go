package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// DateLayout is the wire format of whole-day dates.
const DateLayout = "2006-01-02"

// MinutesPerDay bounds TimeOfDay values; 24:00 is allowed as a closing time.
const MinutesPerDay = 24 * 60

// ParseDate parses a YYYY-MM-DD string into UTC midnight.
func ParseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return d, nil
}

// DateOf truncates t to its UTC calendar day.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDate renders the UTC calendar day of t.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// DateRange is an inclusive range of whole days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange parses both ends of an inclusive range.
func NewDateRange(start, end string) (DateRange, error) {
	s, err := ParseDate(start)
	if err != nil {
		return DateRange{}, NewValidationError("start_date", err.Error(), start)
	}
	e, err := ParseDate(end)
	if err != nil {
		return DateRange{}, NewValidationError("end_date", err.Error(), end)
	}
	r := DateRange{Start: s, End: e}
	if err := r.Validate(); err != nil {
		return DateRange{}, err
	}
	return r, nil
}

// Validate rejects zero dates and ranges that end before they start.
func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return NewValidationError("range", "start and end dates are required", nil)
	}
	if DateOf(r.Start).After(DateOf(r.End)) {
		return NewValidationError("end_date", "end date must not be before start date", FormatDate(r.End))
	}
	return nil
}

// Overlaps reports whether two inclusive ranges share at least one day.
func (r DateRange) Overlaps(o DateRange) bool {
	return !DateOf(r.Start).After(DateOf(o.End)) && !DateOf(o.Start).After(DateOf(r.End))
}

// Intersect clips r to o. The bool is false when they do not overlap.
func (r DateRange) Intersect(o DateRange) (DateRange, bool) {
	if !r.Overlaps(o) {
		return DateRange{}, false
	}
	out := DateRange{Start: DateOf(r.Start), End: DateOf(r.End)}
	if s := DateOf(o.Start); s.After(out.Start) {
		out.Start = s
	}
	if e := DateOf(o.End); e.Before(out.End) {
		out.End = e
	}
	return out, true
}

// Days returns the number of days covered, counting both ends.
func (r DateRange) Days() int {
	return int(DateOf(r.End).Sub(DateOf(r.Start)).Hours()/24) + 1
}

// Dates lists every day in the range.
func (r DateRange) Dates() []string {
	out := make([]string, 0, r.Days())
	for d := DateOf(r.Start); !d.After(DateOf(r.End)); d = d.AddDate(0, 0, 1) {
		out = append(out, FormatDate(d))
	}
	return out
}

func (r DateRange) String() string {
	return fmt.Sprintf("[%s, %s]", FormatDate(r.Start), FormatDate(r.End))
}

type dateRangeJSON struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

func (r DateRange) MarshalJSON() ([]byte, error) {
	return json.Marshal(dateRangeJSON{StartDate: FormatDate(r.Start), EndDate: FormatDate(r.End)})
}

func (r *DateRange) UnmarshalJSON(data []byte) error {
	var raw dateRangeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s, err := ParseDate(raw.StartDate)
	if err != nil {
		return err
	}
	e, err := ParseDate(raw.EndDate)
	if err != nil {
		return err
	}
	r.Start, r.End = s, e
	return nil
}

// MergeRanges sorts ranges and coalesces overlapping or adjacent ones.
func MergeRanges(ranges []DateRange) []DateRange {
	if len(ranges) == 0 {
		return nil
	}
	sorted := make([]DateRange, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	merged := []DateRange{{Start: DateOf(sorted[0].Start), End: DateOf(sorted[0].End)}}
	for _, r := range sorted[1:] {
		last := &merged[len(merged)-1]
		if !DateOf(r.Start).After(last.End.AddDate(0, 0, 1)) {
			if DateOf(r.End).After(last.End) {
				last.End = DateOf(r.End)
			}
			continue
		}
		merged = append(merged, DateRange{Start: DateOf(r.Start), End: DateOf(r.End)})
	}
	return merged
}

// TimeOfDay is a minute offset from local midnight, rendered as HH:MM.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM". 24:00 is accepted.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if s == "24:00" {
		return MinutesPerDay, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil || len(s) != 5 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(text []byte) error {
	v, err := ParseTimeOfDay(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// TimeSlot is a half-open [Start, End) window within one day.
type TimeSlot struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

// Overlaps reports whether two slots on the same day intersect.
func (s TimeSlot) Overlaps(o TimeSlot) bool {
	return s.Start < o.End && o.Start < s.End
}

// Within reports whether s lies entirely inside [open, close).
func (s TimeSlot) Within(open, close TimeOfDay) bool {
	return open <= s.Start && s.End <= close
}

func (s TimeSlot) String() string {
	return s.Start.String() + "-" + s.End.String()
}

// DailyWindow is an opening window repeated on the given weekdays, or every day when Days is empty.
type DailyWindow struct {
	Days  []time.Weekday `json:"days,omitempty"`
	Open  TimeOfDay      `json:"open"`
	Close TimeOfDay      `json:"close"`
}

// AppliesOn reports whether the window is open on date's weekday.
func (w DailyWindow) AppliesOn(date time.Time) bool {
	if len(w.Days) == 0 {
		return true
	}
	wd := date.Weekday()
	for _, d := range w.Days {
		if d == wd {
			return true
		}
	}
	return false
}

func (w DailyWindow) validate(field string) error {
	if w.Open < 0 || w.Close > MinutesPerDay || w.Open >= w.Close {
		return NewValidationError(field, "window must open before it closes", w.Open.String()+"-"+w.Close.String())
	}
	return nil
}

// OperatingCalendar is a service listing's recurring opening hours and slot length.
type OperatingCalendar struct {
	Windows     []DailyWindow `json:"windows"`
	SlotMinutes int           `json:"slot_minutes"`
}

// Validate checks the slot length and every window.
func (c OperatingCalendar) Validate() error {
	if c.SlotMinutes <= 0 || c.SlotMinutes > MinutesPerDay {
		return NewValidationError("slot_minutes", "slot duration must be between 1 and 1440 minutes", c.SlotMinutes)
	}
	for i, w := range c.Windows {
		if err := w.validate(fmt.Sprintf("windows[%d]", i)); err != nil {
			return err
		}
	}
	return nil
}

// DatedWindow is a working window on one specific day.
type DatedWindow struct {
	Date  string    `json:"date"`
	Open  TimeOfDay `json:"open"`
	Close TimeOfDay `json:"close"`
}

// WorkingCalendar describes when a staff member can take bookings.
// Dated windows replace the recurring ones on their day; days off win over both.
type WorkingCalendar struct {
	Recurring []DailyWindow `json:"recurring,omitempty"`
	Dated     []DatedWindow `json:"dated,omitempty"`
	DaysOff   []string      `json:"days_off,omitempty"`
}

// Covers reports whether the calendar has the whole slot available on date.
func (c WorkingCalendar) Covers(date time.Time, slot TimeSlot) bool {
	day := FormatDate(date)
	for _, off := range c.DaysOff {
		if off == day {
			return false
		}
	}

	dated := false
	for _, w := range c.Dated {
		if w.Date != day {
			continue
		}
		dated = true
		if slot.Within(w.Open, w.Close) {
			return true
		}
	}
	if dated {
		return false
	}

	for _, w := range c.Recurring {
		if w.AppliesOn(date) && slot.Within(w.Open, w.Close) {
			return true
		}
	}
	return false
}
