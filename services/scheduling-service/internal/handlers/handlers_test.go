package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/qkeluna/qclickin/services/scheduling-service/internal/availability"
	"github.com/qkeluna/qclickin/services/scheduling-service/internal/booking"
	"github.com/qkeluna/qclickin/services/scheduling-service/internal/model"
)

func TestSlugify(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Intro Call", "intro-call"},
		{"  30 Minute Meeting  ", "30-minute-meeting"},
		{"Coffee & Chat!", "coffee-chat"},
		{"already-a-slug", "already-a-slug"},
		{"---", ""},
	}
	for _, tc := range cases {
		if got := Slugify(tc.in); got != tc.want {
			t.Fatalf("Slugify(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

type fakePublicStore struct {
	host       model.HostProfile
	cfg        model.AvailabilityConfig
	eventTypes map[string]model.EventType
	busy       []availability.BusyBooking
}

func (f *fakePublicStore) GetHostByUsername(_ context.Context, username string) (model.HostProfile, error) {
	if username != f.host.Username {
		return model.HostProfile{}, booking.ErrNotFound
	}
	return f.host, nil
}

func (f *fakePublicStore) GetAvailabilityConfig(_ context.Context, hostID int64) (model.AvailabilityConfig, error) {
	return f.cfg, nil
}

func (f *fakePublicStore) ListByHost(_ context.Context, hostID int64, includeHidden bool) ([]model.EventType, error) {
	var out []model.EventType
	for _, et := range f.eventTypes {
		if et.Hidden && !includeHidden {
			continue
		}
		out = append(out, et)
	}
	return out, nil
}

func (f *fakePublicStore) GetVisibleBySlug(_ context.Context, hostID int64, slug string) (model.EventType, error) {
	et, ok := f.eventTypes[slug]
	if !ok || et.Hidden {
		return model.EventType{}, booking.ErrNotFound
	}
	return et, nil
}

func (f *fakePublicStore) ListAcceptedIntervals(_ context.Context, hostID int64, from, to time.Time, excludeBookingID int64) ([]availability.BusyBooking, error) {
	return f.busy, nil
}

func newSlotsServer(store *fakePublicStore) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewPublicHandler(store, store, store, nil, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/public/{username}/{slug}/slots", h.Slots)
	return mux
}

func newSlotsStore() *fakePublicStore {
	return &fakePublicStore{
		host: model.HostProfile{ID: 1, Username: "frank", Name: "Frank", TimeZone: "UTC"},
		cfg: model.AvailabilityConfig{
			HostID:            1,
			TimeZone:          "UTC",
			StartOfDayMinutes: 9 * 60,
			EndOfDayMinutes:   17 * 60,
		},
		eventTypes: map[string]model.EventType{
			"intro-call": {ID: 10, HostID: 1, Title: "Intro Call", Slug: "intro-call", DurationMinutes: 30},
		},
	}
}

func TestSlotsUnknownHost(t *testing.T) {
	srv := newSlotsServer(newSlotsStore())

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/public/nobody/intro-call/slots?date=2030-06-03", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSlotsUnknownEventType(t *testing.T) {
	srv := newSlotsServer(newSlotsStore())

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/public/frank/no-such-slug/slots?date=2030-06-03", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSlotsRequiresDate(t *testing.T) {
	srv := newSlotsServer(newSlotsStore())

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/public/frank/intro-call/slots", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

// The viewer timezone changes only the rendering of slot times: the day
// window stays in the host's zone, and busy slots stay listed but
// unavailable.
func TestSlotsViewerTimezoneRendering(t *testing.T) {
	store := newSlotsStore()
	store.busy = []availability.BusyBooking{
		{BookingID: 7, Start: time.Date(2030, 6, 3, 10, 0, 0, 0, time.UTC), End: time.Date(2030, 6, 3, 10, 30, 0, 0, time.UTC)},
	}
	srv := newSlotsServer(store)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/v1/public/frank/intro-call/slots?date=2030-06-03&timezone=America/New_York", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp slotsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if resp.TimeZone != "America/New_York" {
		t.Fatalf("time zone = %q, want America/New_York", resp.TimeZone)
	}
	if len(resp.Slots) != 16 {
		t.Fatalf("slot count = %d, want 16", len(resp.Slots))
	}
	// 09:00 UTC renders as 05:00 EDT.
	if resp.Slots[0].StartTime != "2030-06-03T05:00:00-04:00" {
		t.Fatalf("first slot = %q, want 2030-06-03T05:00:00-04:00", resp.Slots[0].StartTime)
	}
	if !resp.Slots[0].Available {
		t.Fatal("first slot should be available")
	}
	// The 10:00 UTC slot is booked: still listed, marked unavailable.
	if resp.Slots[2].StartTime != "2030-06-03T06:00:00-04:00" || resp.Slots[2].Available {
		t.Fatalf("busy slot = %+v, want 06:00 EDT unavailable", resp.Slots[2])
	}
}

func TestWriteDomainErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{booking.ErrNotFound, 404},
		{booking.ErrConflict, 409},
		{booking.ErrInvalidTransition, 422},
		{&booking.ValidationError{Reason: "bad interval"}, 400},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeDomainError(rec, tc.err)
		if rec.Code != tc.want {
			t.Fatalf("writeDomainError(%v) = %d, want %d", tc.err, rec.Code, tc.want)
		}
	}
}
