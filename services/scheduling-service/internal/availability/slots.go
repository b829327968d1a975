package availability

import (
	"fmt"
	"time"

	"github.com/qkeluna/qclickin/services/scheduling-service/internal/model"
)

// SlotStepMinutes is the fixed grid candidate slot starts are quantized to,
// regardless of event duration.
const SlotStepMinutes = 30

type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps is the half-open test: [a,b) overlaps [c,d) iff a < d && c < b.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

func OverlapsAny(i Interval, busy []Interval) bool {
	for _, b := range busy {
		if i.Overlaps(b) {
			return true
		}
	}
	return false
}

// Slot is a candidate bookable interval, annotated rather than filtered so
// callers can render a full day grid.
type Slot struct {
	Start     time.Time
	End       time.Time
	Available bool
}

// BusyBooking is an ACCEPTED booking together with the buffer configuration
// of its event type.
type BusyBooking struct {
	BookingID           int64
	Start               time.Time
	End                 time.Time
	BeforeBufferMinutes int
	AfterBufferMinutes  int
}

// BusyIntervals expands each booking by its event-type buffers plus the
// host-wide buffer. The expanded interval is what slot generation and
// conflict checks test against, so back-to-back bookings keep the configured
// breathing room.
func BusyIntervals(bookings []BusyBooking, hostBufferMinutes int) []Interval {
	if hostBufferMinutes < 0 {
		hostBufferMinutes = 0
	}
	out := make([]Interval, 0, len(bookings))
	for _, b := range bookings {
		if !b.End.After(b.Start) {
			continue
		}
		before := time.Duration(b.BeforeBufferMinutes+hostBufferMinutes) * time.Minute
		after := time.Duration(b.AfterBufferMinutes+hostBufferMinutes) * time.Minute
		out = append(out, Interval{
			Start: b.Start.Add(-before),
			End:   b.End.Add(after),
		})
	}
	return out
}

// DayWindow resolves the bookable window for a calendar date (YYYY-MM-DD) in
// the host's configured zone. Slot times come out as absolute instants; any
// viewer timezone conversion is presentation layered on top.
func DayWindow(cfg model.AvailabilityConfig, date string) (Interval, error) {
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return Interval{}, fmt.Errorf("invalid host time zone %q: %w", cfg.TimeZone, err)
	}
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return Interval{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), cfg.StartOfDayMinutes/60, cfg.StartOfDayMinutes%60, 0, 0, loc)
	end := time.Date(day.Year(), day.Month(), day.Day(), cfg.EndOfDayMinutes/60, cfg.EndOfDayMinutes%60, 0, 0, loc)
	if !end.After(start) {
		return Interval{}, fmt.Errorf("host day window is empty (start %d, end %d)", cfg.StartOfDayMinutes, cfg.EndOfDayMinutes)
	}
	return Interval{Start: start, End: end}, nil
}

// ComputeSlots walks the window on the fixed 30-minute grid and emits every
// candidate of the given duration, marking it unavailable when it overlaps a
// busy interval or starts sooner than minimumNotice from now. The result is
// ordered, finite, and recomputed fresh on every call.
//
// Busy intervals that do not intersect the window simply never overlap a
// candidate, so callers handing in a wider set than the day are harmless.
func ComputeSlots(window Interval, duration, minimumNotice time.Duration, busy []Interval, now time.Time) []Slot {
	if duration <= 0 {
		return nil
	}
	if window.Start.Add(duration).After(window.End) {
		return nil
	}

	earliest := now.Add(minimumNotice)
	step := SlotStepMinutes * time.Minute

	var slots []Slot
	for t := window.Start; !t.Add(duration).After(window.End); t = t.Add(step) {
		candidate := Interval{Start: t, End: t.Add(duration)}
		available := !OverlapsAny(candidate, busy) && !t.Before(earliest)
		slots = append(slots, Slot{Start: candidate.Start, End: candidate.End, Available: available})
	}
	return slots
}
