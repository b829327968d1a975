package availability

import (
	"testing"
	"time"

	"github.com/qkeluna/qclickin/services/scheduling-service/internal/model"
)

func workday(t *testing.T) Interval {
	t.Helper()
	cfg := model.AvailabilityConfig{
		TimeZone:          "UTC",
		StartOfDayMinutes: 9 * 60,
		EndOfDayMinutes:   17 * 60,
	}
	win, err := DayWindow(cfg, "2026-03-02")
	if err != nil {
		t.Fatalf("DayWindow failed: %v", err)
	}
	return win
}

func TestComputeSlots_FullDay(t *testing.T) {
	win := workday(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	slots := ComputeSlots(win, 30*time.Minute, 0, nil, now)
	if len(slots) != 16 {
		t.Fatalf("expected 16 slots for 09:00-17:00 at 30m, got %d", len(slots))
	}
	for i, s := range slots {
		if !s.Available {
			t.Fatalf("slot %d (%s) unexpectedly unavailable", i, s.Start.Format(time.RFC3339))
		}
	}
	if !slots[0].Start.Equal(win.Start) {
		t.Fatalf("first slot should start 09:00, got %s", slots[0].Start.Format(time.RFC3339))
	}
	last := time.Date(2026, 3, 2, 16, 30, 0, 0, time.UTC)
	if !slots[15].Start.Equal(last) {
		t.Fatalf("last slot should start 16:30, got %s", slots[15].Start.Format(time.RFC3339))
	}
}

func TestComputeSlots_ExistingBookingBlocksSlot(t *testing.T) {
	win := workday(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	busy := []Interval{{
		Start: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC),
	}}

	slots := ComputeSlots(win, 30*time.Minute, 0, busy, now)
	if len(slots) != 16 {
		t.Fatalf("expected 16 slots, got %d", len(slots))
	}
	for _, s := range slots {
		wantAvailable := !s.Start.Equal(busy[0].Start)
		if s.Available != wantAvailable {
			t.Fatalf("slot %s: available=%v, want %v", s.Start.Format("15:04"), s.Available, wantAvailable)
		}
	}
}

func TestComputeSlots_BuffersSuppressAdjacentSlots(t *testing.T) {
	win := workday(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	booked := []BusyBooking{{
		Start:               time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		End:                 time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC),
		BeforeBufferMinutes: 15,
		AfterBufferMinutes:  15,
	}}
	busy := BusyIntervals(booked, 0)

	slots := ComputeSlots(win, 30*time.Minute, 0, busy, now)
	blocked := map[string]bool{"09:30": true, "10:00": true, "10:30": true}
	for _, s := range slots {
		key := s.Start.Format("15:04")
		if blocked[key] && s.Available {
			t.Fatalf("slot %s should be blocked by buffered booking", key)
		}
		if !blocked[key] && !s.Available {
			t.Fatalf("slot %s should be free", key)
		}
	}
}

func TestBusyIntervals_HostBufferApplies(t *testing.T) {
	booked := []BusyBooking{{
		Start: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC),
	}}
	busy := BusyIntervals(booked, 10)
	if len(busy) != 1 {
		t.Fatalf("expected 1 interval, got %d", len(busy))
	}
	wantStart := time.Date(2026, 3, 2, 9, 50, 0, 0, time.UTC)
	wantEnd := time.Date(2026, 3, 2, 10, 40, 0, 0, time.UTC)
	if !busy[0].Start.Equal(wantStart) || !busy[0].End.Equal(wantEnd) {
		t.Fatalf("got [%s, %s)", busy[0].Start.Format("15:04"), busy[0].End.Format("15:04"))
	}
}

func TestComputeSlots_MinimumNoticeMarksUnavailable(t *testing.T) {
	win := workday(t)
	// Day of the appointment, 09:10 local. With 120m notice everything
	// before 11:10 must be unavailable but still listed.
	now := time.Date(2026, 3, 2, 9, 10, 0, 0, time.UTC)

	slots := ComputeSlots(win, 30*time.Minute, 120*time.Minute, nil, now)
	if len(slots) != 16 {
		t.Fatalf("expected 16 slots, got %d", len(slots))
	}
	earliest := now.Add(120 * time.Minute)
	for _, s := range slots {
		want := !s.Start.Before(earliest)
		if s.Available != want {
			t.Fatalf("slot %s: available=%v, want %v", s.Start.Format("15:04"), s.Available, want)
		}
	}
}

func TestComputeSlots_DurationExceedsWindow(t *testing.T) {
	win := workday(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if slots := ComputeSlots(win, 9*time.Hour, 0, nil, now); slots != nil {
		t.Fatalf("expected no slots when duration exceeds window, got %d", len(slots))
	}
}

func TestComputeSlots_IgnoresBookingsOutsideWindow(t *testing.T) {
	win := workday(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	busy := []Interval{
		{Start: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), End: time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)},
		{Start: time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC), End: time.Date(2026, 3, 3, 10, 30, 0, 0, time.UTC)},
	}

	slots := ComputeSlots(win, 30*time.Minute, 0, busy, now)
	for _, s := range slots {
		if !s.Available {
			t.Fatalf("slot %s blocked by booking from another day", s.Start.Format(time.RFC3339))
		}
	}
}

func TestDayWindow_HostZone(t *testing.T) {
	cfg := model.AvailabilityConfig{
		TimeZone:          "America/New_York",
		StartOfDayMinutes: 9 * 60,
		EndOfDayMinutes:   17 * 60,
	}
	win, err := DayWindow(cfg, "2026-07-15")
	if err != nil {
		t.Fatalf("DayWindow failed: %v", err)
	}
	// EDT is UTC-4 in July.
	if got := win.Start.UTC(); !got.Equal(time.Date(2026, 7, 15, 13, 0, 0, 0, time.UTC)) {
		t.Fatalf("window start %s, want 13:00Z", got.Format(time.RFC3339))
	}
	if got := win.End.UTC(); !got.Equal(time.Date(2026, 7, 15, 21, 0, 0, 0, time.UTC)) {
		t.Fatalf("window end %s, want 21:00Z", got.Format(time.RFC3339))
	}
}

func TestDayWindow_Invalid(t *testing.T) {
	if _, err := DayWindow(model.AvailabilityConfig{TimeZone: "Mars/Olympus", StartOfDayMinutes: 0, EndOfDayMinutes: 60}, "2026-03-02"); err == nil {
		t.Fatal("expected error for unknown zone")
	}
	if _, err := DayWindow(model.AvailabilityConfig{TimeZone: "UTC", StartOfDayMinutes: 600, EndOfDayMinutes: 540}, "2026-03-02"); err == nil {
		t.Fatal("expected error for inverted window")
	}
	if _, err := DayWindow(model.AvailabilityConfig{TimeZone: "UTC", StartOfDayMinutes: 0, EndOfDayMinutes: 60}, "03/02/2026"); err == nil {
		t.Fatal("expected error for bad date format")
	}
}

func TestOverlaps_HalfOpen(t *testing.T) {
	a := Interval{Start: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), End: time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)}
	touching := Interval{Start: a.End, End: a.End.Add(30 * time.Minute)}
	if a.Overlaps(touching) {
		t.Fatal("touching intervals must not overlap (half-open)")
	}
	crossing := Interval{Start: a.Start.Add(15 * time.Minute), End: a.End.Add(15 * time.Minute)}
	if !a.Overlaps(crossing) {
		t.Fatal("crossing intervals must overlap")
	}
}
