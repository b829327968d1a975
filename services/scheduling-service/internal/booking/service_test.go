package booking

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/qkeluna/qclickin/services/scheduling-service/internal/availability"
	"github.com/qkeluna/qclickin/services/scheduling-service/internal/model"
	"github.com/qkeluna/qclickin/services/scheduling-service/internal/outbox"
)

type fakeRepo struct {
	mu         sync.Mutex
	configs    map[int64]model.AvailabilityConfig
	eventTypes map[int64]model.EventType
	bookings   map[int64]*model.Booking
	attendees  map[int64]*model.Attendee
	events     []outbox.Event
	nextID     int64

	// beforeTx, when set, runs under the lock before the InTx body, standing
	// in for a concurrent writer that won the per-host lock first.
	beforeTx func()
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		configs:    map[int64]model.AvailabilityConfig{},
		eventTypes: map[int64]model.EventType{},
		bookings:   map[int64]*model.Booking{},
		attendees:  map[int64]*model.Attendee{},
	}
}

func (f *fakeRepo) InTx(ctx context.Context, hostID int64, fn func(Repository) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.beforeTx != nil {
		f.beforeTx()
	}
	return fn(f)
}

func (f *fakeRepo) GetAvailabilityConfig(_ context.Context, hostID int64) (model.AvailabilityConfig, error) {
	cfg, ok := f.configs[hostID]
	if !ok {
		return model.AvailabilityConfig{}, ErrNotFound
	}
	return cfg, nil
}

func (f *fakeRepo) GetEventType(_ context.Context, id int64) (model.EventType, error) {
	et, ok := f.eventTypes[id]
	if !ok {
		return model.EventType{}, ErrNotFound
	}
	return et, nil
}

func (f *fakeRepo) GetBooking(_ context.Context, id int64) (model.Booking, error) {
	b, ok := f.bookings[id]
	if !ok {
		return model.Booking{}, ErrNotFound
	}
	return *b, nil
}

func (f *fakeRepo) ListAcceptedIntervals(_ context.Context, hostID int64, from, to time.Time, excludeBookingID int64) ([]availability.BusyBooking, error) {
	var out []availability.BusyBooking
	for _, b := range f.bookings {
		if b.HostID != hostID || b.Status != model.StatusAccepted || b.ID == excludeBookingID {
			continue
		}
		if !b.StartTime.Before(to) || !from.Before(b.EndTime) {
			continue
		}
		et := f.eventTypes[b.EventTypeID]
		out = append(out, availability.BusyBooking{
			BookingID:           b.ID,
			Start:               b.StartTime,
			End:                 b.EndTime,
			BeforeBufferMinutes: et.BeforeBufferMinutes,
			AfterBufferMinutes:  et.AfterBufferMinutes,
		})
	}
	return out, nil
}

func (f *fakeRepo) CreateBookingWithAttendee(_ context.Context, b *model.Booking, a *model.Attendee) error {
	f.nextID++
	b.ID = f.nextID
	b.CreatedAt = time.Now().UTC()
	stored := *b
	f.bookings[b.ID] = &stored

	f.nextID++
	a.ID = f.nextID
	a.BookingID = b.ID
	storedAttendee := *a
	f.attendees[a.ID] = &storedAttendee
	return nil
}

func (f *fakeRepo) UpdateBookingStatus(_ context.Context, id int64, expected, next model.BookingStatus, reason string) (model.Booking, error) {
	b, ok := f.bookings[id]
	if !ok {
		return model.Booking{}, ErrNotFound
	}
	if b.Status != expected {
		return model.Booking{}, ErrInvalidTransition
	}
	b.Status = next
	if reason != "" {
		b.CancelReason = reason
	}
	return *b, nil
}

func (f *fakeRepo) UpdateBookingInterval(_ context.Context, id int64, start, end time.Time) (model.Booking, error) {
	b, ok := f.bookings[id]
	if !ok {
		return model.Booking{}, ErrNotFound
	}
	if b.Status.Terminal() {
		return model.Booking{}, ErrInvalidTransition
	}
	b.StartTime = start
	b.EndTime = end
	return *b, nil
}

func (f *fakeRepo) RecordEvent(_ context.Context, evt outbox.Event) error {
	f.events = append(f.events, evt)
	return nil
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *fakeRepo) {
	t.Helper()
	repo := newFakeRepo()
	repo.configs[1] = model.AvailabilityConfig{
		HostID:            1,
		TimeZone:          "UTC",
		StartOfDayMinutes: 9 * 60,
		EndOfDayMinutes:   17 * 60,
	}
	repo.eventTypes[10] = model.EventType{
		ID:              10,
		HostID:          1,
		Title:           "Intro Call",
		Slug:            "intro",
		DurationMinutes: 30,
		Currency:        "usd",
	}
	repo.eventTypes[11] = model.EventType{
		ID:                   11,
		HostID:               1,
		Title:                "Paid Session",
		Slug:                 "session",
		DurationMinutes:      30,
		RequiresConfirmation: true,
		PriceCents:           5000,
		Currency:             "usd",
	}

	svc := NewService(repo)
	svc.nowFunc = func() time.Time { return testNow }
	return svc, repo
}

func slotAt(hour, min int) time.Time {
	return time.Date(2026, 3, 2, hour, min, 0, 0, time.UTC)
}

func createReq(eventTypeID int64, start time.Time, durationMin int) CreateRequest {
	return CreateRequest{
		EventTypeID: eventTypeID,
		Start:       start,
		End:         start.Add(time.Duration(durationMin) * time.Minute),
		Attendee:    AttendeeInput{Email: "ana@example.com", Name: "Ana", TimeZone: "UTC"},
	}
}

func TestCreate_AcceptedWithoutConfirmation(t *testing.T) {
	svc, repo := newTestService(t)

	b, err := svc.Create(context.Background(), createReq(10, slotAt(10, 0), 30))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if b.Status != model.StatusAccepted {
		t.Fatalf("status = %s, want ACCEPTED", b.Status)
	}
	if b.UID == "" {
		t.Fatal("uid not generated")
	}
	if len(repo.events) != 1 || repo.events[0].EventType != outbox.TopicBookingCreated {
		t.Fatalf("expected booking.created.v1 event, got %+v", repo.events)
	}
	if len(repo.attendees) != 1 {
		t.Fatalf("expected 1 attendee, got %d", len(repo.attendees))
	}
}

func TestCreate_PendingWhenConfirmationRequired(t *testing.T) {
	svc, _ := newTestService(t)

	b, err := svc.Create(context.Background(), createReq(11, slotAt(10, 0), 30))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if b.Status != model.StatusPending {
		t.Fatalf("status = %s, want PENDING", b.Status)
	}
}

func TestCreate_ConflictWithAcceptedBooking(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, createReq(10, slotAt(10, 0), 30)); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	_, err := svc.Create(ctx, createReq(10, slotAt(10, 0), 30))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	// Partial overlap conflicts too.
	_, err = svc.Create(ctx, createReq(10, slotAt(10, 15), 30))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on partial overlap, got %v", err)
	}
	// Adjacent half-open interval does not.
	if _, err := svc.Create(ctx, createReq(10, slotAt(10, 30), 30)); err != nil {
		t.Fatalf("adjacent booking should succeed: %v", err)
	}
}

func TestCreate_PendingDoesNotBlock(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, createReq(11, slotAt(10, 0), 30)); err != nil {
		t.Fatalf("pending Create failed: %v", err)
	}
	// Only ACCEPTED bookings occupy the calendar.
	if _, err := svc.Create(ctx, createReq(10, slotAt(10, 0), 30)); err != nil {
		t.Fatalf("create over a PENDING booking should succeed: %v", err)
	}
}

func TestCreate_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  CreateRequest
	}{
		{"wrong duration", createReq(10, slotAt(10, 0), 45)},
		{"inverted interval", CreateRequest{EventTypeID: 10, Start: slotAt(10, 30), End: slotAt(10, 0), Attendee: AttendeeInput{Email: "a@b.c", Name: "A"}}},
		{"in the past", createReq(10, testNow.Add(-time.Hour), 30)},
		{"missing attendee email", CreateRequest{EventTypeID: 10, Start: slotAt(10, 0), End: slotAt(10, 30), Attendee: AttendeeInput{Name: "A"}}},
		{"missing attendee name", CreateRequest{EventTypeID: 10, Start: slotAt(10, 0), End: slotAt(10, 30), Attendee: AttendeeInput{Email: "a@b.c"}}},
	}
	for _, tc := range cases {
		if _, err := svc.Create(ctx, tc.req); !IsValidation(err) {
			t.Fatalf("%s: expected ValidationError, got %v", tc.name, err)
		}
	}
}

func TestCreate_EventTypeNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Create(context.Background(), createReq(999, slotAt(10, 0), 30)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransition_PendingToAccepted(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	b, err := svc.Create(ctx, createReq(11, slotAt(10, 0), 30))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	accepted, err := svc.Transition(ctx, b.ID, model.StatusAccepted)
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if accepted.Status != model.StatusAccepted {
		t.Fatalf("status = %s, want ACCEPTED", accepted.Status)
	}
	last := repo.events[len(repo.events)-1]
	if last.EventType != outbox.TopicBookingAccepted {
		t.Fatalf("expected booking.accepted.v1 event, got %s", last.EventType)
	}
}

func TestTransition_DoubleConfirmRace(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, createReq(11, slotAt(10, 0), 30))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	second, err := svc.Create(ctx, createReq(11, slotAt(10, 0), 30))
	if err != nil {
		t.Fatalf("second Create failed: %v", err)
	}

	if _, err := svc.Transition(ctx, first.ID, model.StatusAccepted); err != nil {
		t.Fatalf("first confirm failed: %v", err)
	}
	if _, err := svc.Transition(ctx, second.ID, model.StatusAccepted); !errors.Is(err, ErrConflict) {
		t.Fatalf("second confirm should conflict, got %v", err)
	}
}

func TestTransition_StateMachineClosure(t *testing.T) {
	all := []model.BookingStatus{model.StatusPending, model.StatusAccepted, model.StatusRejected, model.StatusCancelled}
	allowed := map[[2]model.BookingStatus]bool{
		{model.StatusPending, model.StatusAccepted}:   true,
		{model.StatusPending, model.StatusRejected}:   true,
		{model.StatusPending, model.StatusCancelled}:  true,
		{model.StatusAccepted, model.StatusCancelled}: true,
	}

	for _, from := range all {
		for _, to := range all {
			svc, repo := newTestService(t)
			ctx := context.Background()

			b, err := svc.Create(ctx, createReq(11, slotAt(10, 0), 30))
			if err != nil {
				t.Fatalf("Create failed: %v", err)
			}
			repo.bookings[b.ID].Status = from

			_, err = svc.Transition(ctx, b.ID, to)
			if allowed[[2]model.BookingStatus{from, to}] {
				if err != nil {
					t.Fatalf("%s -> %s should succeed, got %v", from, to, err)
				}
			} else if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("%s -> %s should be ErrInvalidTransition, got %v", from, to, err)
			}
		}
	}
}

func TestTransition_BookingNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Transition(context.Background(), 404, model.StatusAccepted); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCancel_RecordsReason(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	b, err := svc.Create(ctx, createReq(10, slotAt(10, 0), 30))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	cancelled, err := svc.Cancel(ctx, b.ID, "guest asked to cancel")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != model.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", cancelled.Status)
	}
	if cancelled.CancelReason != "guest asked to cancel" {
		t.Fatalf("reason = %q", cancelled.CancelReason)
	}
	last := repo.events[len(repo.events)-1]
	if last.EventType != outbox.TopicBookingCancelled {
		t.Fatalf("expected booking.cancelled.v1 event, got %s", last.EventType)
	}
}

func TestReschedule_PreservesDurationAndStatus(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	b, err := svc.Create(ctx, createReq(10, slotAt(10, 0), 30))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	moved, err := svc.Reschedule(ctx, b.ID, slotAt(14, 0), slotAt(14, 30), "")
	if err != nil {
		t.Fatalf("Reschedule failed: %v", err)
	}
	if moved.Status != model.StatusAccepted {
		t.Fatalf("status changed on reschedule: %s", moved.Status)
	}
	if got := moved.EndTime.Sub(moved.StartTime); got != 30*time.Minute {
		t.Fatalf("duration = %s, want 30m", got)
	}
	last := repo.events[len(repo.events)-1]
	if last.EventType != outbox.TopicBookingRescheduled {
		t.Fatalf("expected booking.rescheduled.v1 event, got %s", last.EventType)
	}

	// Wrong length is rejected.
	if _, err := svc.Reschedule(ctx, b.ID, slotAt(15, 0), slotAt(15, 45), ""); !IsValidation(err) {
		t.Fatalf("expected ValidationError for wrong length, got %v", err)
	}
}

func TestReschedule_ExcludesSelfFromConflict(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	b, err := svc.Create(ctx, createReq(10, slotAt(10, 0), 30))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	// Shift by 15 minutes: overlaps only itself, must succeed.
	if _, err := svc.Reschedule(ctx, b.ID, slotAt(10, 15), slotAt(10, 45), ""); err != nil {
		t.Fatalf("self-overlapping reschedule should succeed: %v", err)
	}

	other, err := svc.Create(ctx, createReq(10, slotAt(12, 0), 30))
	if err != nil {
		t.Fatalf("second Create failed: %v", err)
	}
	if _, err := svc.Reschedule(ctx, b.ID, other.StartTime, other.EndTime, ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict rescheduling onto another booking, got %v", err)
	}
}

func TestReschedule_TerminalBooking(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	b, err := svc.Create(ctx, createReq(10, slotAt(10, 0), 30))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := svc.Cancel(ctx, b.ID, ""); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if _, err := svc.Reschedule(ctx, b.ID, slotAt(14, 0), slotAt(14, 30), ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

// A cancel that commits between Reschedule's pre-check and its transaction
// must not have its terminal status overwritten, and no rescheduled event
// may be emitted for it.
func TestReschedule_ConcurrentCancelWinsLock(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	b, err := svc.Create(ctx, createReq(10, slotAt(10, 0), 30))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	eventsBefore := len(repo.events)

	repo.beforeTx = func() {
		repo.bookings[b.ID].Status = model.StatusCancelled
	}
	if _, err := svc.Reschedule(ctx, b.ID, slotAt(14, 0), slotAt(14, 30), ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	stored := repo.bookings[b.ID]
	if stored.Status != model.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", stored.Status)
	}
	if !stored.StartTime.Equal(slotAt(10, 0)) {
		t.Fatalf("interval moved despite cancellation: start = %s", stored.StartTime)
	}
	if len(repo.events) != eventsBefore {
		t.Fatalf("unexpected events recorded: %+v", repo.events[eventsBefore:])
	}
}

/// Slot annotations and create outcomes must agree: an available slot books
// successfully, an unavailable one fails with ErrConflict.
func TestSlotBookingConsistency(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	for _, start := range []time.Time{slotAt(9, 30), slotAt(11, 0), slotAt(15, 0)} {
		if _, err := svc.Create(ctx, createReq(10, start, 30)); err != nil {
			t.Fatalf("seed Create failed: %v", err)
		}
	}

	cfg := repo.configs[1]
	window, err := availability.DayWindow(cfg, "2026-03-02")
	if err != nil {
		t.Fatalf("DayWindow failed: %v", err)
	}
	booked, err := repo.ListAcceptedIntervals(ctx, 1, window.Start.Add(-24*time.Hour), window.End.Add(24*time.Hour), 0)
	if err != nil {
		t.Fatalf("ListAcceptedIntervals failed: %v", err)
	}
	busy := availability.BusyIntervals(booked, cfg.BufferMinutes)
	slots := availability.ComputeSlots(window, 30*time.Minute, 0, busy, testNow)
	if len(slots) == 0 {
		t.Fatal("no slots computed")
	}

	for _, slot := range slots {
		b, err := svc.Create(ctx, createReq(10, slot.Start, 30))
		if slot.Available {
			if err != nil {
				t.Fatalf("slot %s marked available but Create failed: %v", slot.Start.Format("15:04"), err)
			}
			// Undo so later slots see the original calendar.
			delete(repo.bookings, b.ID)
		} else if !errors.Is(err, ErrConflict) {
			t.Fatalf("slot %s marked unavailable but Create returned %v", slot.Start.Format("15:04"), err)
		}
	}
}

// Property: whatever sequence of creates and confirms is attempted, no two
// ACCEPTED bookings of one host ever overlap.
func TestNoDoubleBookingProperty(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		start := slotAt(9, 0).Add(time.Duration(rng.Intn(16*4)) * 15 * time.Minute)
		eventTypeID := int64(10)
		if rng.Intn(2) == 0 {
			eventTypeID = 11
		}
		b, err := svc.Create(ctx, createReq(eventTypeID, start, 30))
		if err != nil {
			continue
		}
		if b.Status == model.StatusPending && rng.Intn(2) == 0 {
			_, _ = svc.Transition(ctx, b.ID, model.StatusAccepted)
		}
	}

	var accepted []*model.Booking
	for _, b := range repo.bookings {
		if b.Status == model.StatusAccepted {
			accepted = append(accepted, b)
		}
	}
	if len(accepted) < 2 {
		t.Fatalf("property test produced too few accepted bookings: %d", len(accepted))
	}
	for i := 0; i < len(accepted); i++ {
		for j := i + 1; j < len(accepted); j++ {
			a, b := accepted[i], accepted[j]
			if a.StartTime.Before(b.EndTime) && b.StartTime.Before(a.EndTime) {
				t.Fatalf("accepted bookings overlap: %d [%s,%s) and %d [%s,%s)",
					a.ID, a.StartTime.Format("15:04"), a.EndTime.Format("15:04"),
					b.ID, b.StartTime.Format("15:04"), b.EndTime.Format("15:04"))
			}
		}
	}
}
