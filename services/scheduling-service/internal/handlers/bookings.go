package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/qkeluna/qclickin/services/scheduling-service/internal/booking"
	"github.com/qkeluna/qclickin/services/scheduling-service/internal/model"
	"github.com/qkeluna/qclickin/services/scheduling-service/internal/storage"
)

// BookingsHandler is the host-facing, authenticated booking surface.
type BookingsHandler struct {
	repo      *storage.BookingRepository
	attendees *storage.AttendeeRepository
	svc       *booking.Service
	logger    *slog.Logger
	jwtSecret string
}

func NewBookingsHandler(repo *storage.BookingRepository, attendees *storage.AttendeeRepository, svc *booking.Service, logger *slog.Logger, jwtSecret string) *BookingsHandler {
	return &BookingsHandler{
		repo:      repo,
		attendees: attendees,
		svc:       svc,
		logger:    logger,
		jwtSecret: jwtSecret,
	}
}

// List handles GET /api/v1/bookings?status=&limit=.
func (h *BookingsHandler) List(w http.ResponseWriter, r *http.Request) {
	hostID, _, ok := hostFromRequest(w, r, h.jwtSecret)
	if !ok {
		return
	}

	var status model.BookingStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, ok := model.ParseBookingStatus(raw)
		if !ok {
			http.Error(w, "invalid status filter", http.StatusBadRequest)
			return
		}
		status = parsed
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	bookings, err := h.repo.ListBookingsByHost(r.Context(), hostID, status, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]bookingResponse, 0, len(bookings))
	for _, b := range bookings {
		items = append(items, bookingResponseFrom(b, nil))
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": items})
}

// Get handles GET /api/v1/bookings/{id}, including attendees.
func (h *BookingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	hostID, _, ok := hostFromRequest(w, r, h.jwtSecret)
	if !ok {
		return
	}
	b, ok := h.ownedBooking(w, r, hostID)
	if !ok {
		return
	}

	attendees, err := h.attendees.ListByBooking(r.Context(), b.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponseFrom(b, attendees))
}

type updateStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// UpdateStatus handles PATCH /api/v1/bookings/{id}/status. Accepting,
// rejecting and cancelling all go through here; the state machine decides
// what is legal.
func (h *BookingsHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	hostID, _, ok := hostFromRequest(w, r, h.jwtSecret)
	if !ok {
		return
	}
	b, ok := h.ownedBooking(w, r, hostID)
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	next, ok := model.ParseBookingStatus(req.Status)
	if !ok {
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}

	var updated model.Booking
	var err error
	if next == model.StatusCancelled {
		updated, err = h.svc.Cancel(r.Context(), b.ID, req.Reason)
	} else {
		updated, err = h.svc.Transition(r.Context(), b.ID, next)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.logger.Info("booking status updated", "booking_uid", updated.UID, "status", updated.Status)
	writeJSON(w, http.StatusOK, bookingResponseFrom(updated, nil))
}

type rescheduleRequest struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Reason    string `json:"reason"`
}

// Reschedule handles PATCH /api/v1/bookings/{id}/reschedule.
func (h *BookingsHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	hostID, _, ok := hostFromRequest(w, r, h.jwtSecret)
	if !ok {
		return
	}
	b, ok := h.ownedBooking(w, r, hostID)
	if !ok {
		return
	}

	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}
	end, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		http.Error(w, "invalid end_time", http.StatusBadRequest)
		return
	}

	updated, err := h.svc.Reschedule(r.Context(), b.ID, start, end, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.logger.Info("booking rescheduled", "booking_uid", updated.UID, "start_time", updated.StartTime)
	writeJSON(w, http.StatusOK, bookingResponseFrom(updated, nil))
}

type attendeeUpdateRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	TimeZone string `json:"time_zone"`
}

// UpdateAttendee handles PATCH /api/v1/attendees/{id}.
func (h *BookingsHandler) UpdateAttendee(w http.ResponseWriter, r *http.Request) {
	hostID, _, ok := hostFromRequest(w, r, h.jwtSecret)
	if !ok {
		return
	}
	attendeeID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid attendee id", http.StatusBadRequest)
		return
	}

	var req attendeeUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Name == "" {
		http.Error(w, "email and name required", http.StatusBadRequest)
		return
	}
	if req.TimeZone == "" {
		req.TimeZone = "UTC"
	}

	a, err := h.attendees.Update(r.Context(), hostID, model.Attendee{
		ID:       attendeeID,
		Email:    req.Email,
		Name:     req.Name,
		TimeZone: req.TimeZone,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attendeeItem{
		ID:       a.ID,
		Email:    a.Email,
		Name:     a.Name,
		TimeZone: a.TimeZone,
		NoShow:   a.NoShow,
	})
}

type noShowRequest struct {
	NoShow bool `json:"no_show"`
}

// SetNoShow handles POST /api/v1/attendees/{id}/no-show.
func (h *BookingsHandler) SetNoShow(w http.ResponseWriter, r *http.Request) {
	hostID, _, ok := hostFromRequest(w, r, h.jwtSecret)
	if !ok {
		return
	}
	attendeeID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid attendee id", http.StatusBadRequest)
		return
	}

	req := noShowRequest{NoShow: true}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
	}

	a, err := h.attendees.SetNoShow(r.Context(), hostID, attendeeID, req.NoShow)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attendeeItem{
		ID:       a.ID,
		Email:    a.Email,
		Name:     a.Name,
		TimeZone: a.TimeZone,
		NoShow:   a.NoShow,
	})
}

// ownedBooking loads the path booking and enforces host ownership. Foreign
// bookings read as 404 rather than 403 so ids cannot be probed.
func (h *BookingsHandler) ownedBooking(w http.ResponseWriter, r *http.Request, hostID int64) (model.Booking, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid booking id", http.StatusBadRequest)
		return model.Booking{}, false
	}
	b, err := h.repo.GetBooking(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return model.Booking{}, false
	}
	if b.HostID != hostID {
		http.Error(w, "not found", http.StatusNotFound)
		return model.Booking{}, false
	}
	return b, true
}
