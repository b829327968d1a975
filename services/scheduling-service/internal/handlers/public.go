package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/qkeluna/qclickin/services/scheduling-service/internal/availability"
	"github.com/qkeluna/qclickin/services/scheduling-service/internal/booking"
	"github.com/qkeluna/qclickin/services/scheduling-service/internal/model"
)

// The public surface reads through these narrow views of the storage layer.
type hostDirectory interface {
	GetHostByUsername(ctx context.Context, username string) (model.HostProfile, error)
	GetAvailabilityConfig(ctx context.Context, hostID int64) (model.AvailabilityConfig, error)
}

type eventTypeCatalog interface {
	ListByHost(ctx context.Context, hostID int64, includeHidden bool) ([]model.EventType, error)
	GetVisibleBySlug(ctx context.Context, hostID int64, slug string) (model.EventType, error)
}

type acceptedIntervalSource interface {
	ListAcceptedIntervals(ctx context.Context, hostID int64, from, to time.Time, excludeBookingID int64) ([]availability.BusyBooking, error)
}

// PublicHandler serves the unauthenticated booking-page surface: host
// profiles, slot listings and booking creation.
type PublicHandler struct {
	users      hostDirectory
	eventTypes eventTypeCatalog
	bookings   acceptedIntervalSource
	svc        *booking.Service
	logger     *slog.Logger
}

func NewPublicHandler(users hostDirectory, eventTypes eventTypeCatalog, bookings acceptedIntervalSource, svc *booking.Service, logger *slog.Logger) *PublicHandler {
	return &PublicHandler{
		users:      users,
		eventTypes: eventTypes,
		bookings:   bookings,
		svc:        svc,
		logger:     logger,
	}
}

type eventTypeItem struct {
	ID                   int64  `json:"id"`
	Title                string `json:"title"`
	Slug                 string `json:"slug"`
	Description          string `json:"description,omitempty"`
	DurationMinutes      int    `json:"duration_minutes"`
	RequiresConfirmation bool   `json:"requires_confirmation"`
	PriceCents           int    `json:"price_cents,omitempty"`
	Currency             string `json:"currency,omitempty"`
}

type profileResponse struct {
	Username   string          `json:"username"`
	Name       string          `json:"name"`
	Bio        string          `json:"bio,omitempty"`
	Avatar     string          `json:"avatar,omitempty"`
	TimeZone   string          `json:"time_zone"`
	EventTypes []eventTypeItem `json:"event_types"`
}

// Profile handles GET /api/v1/public/{username}.
func (h *PublicHandler) Profile(w http.ResponseWriter, r *http.Request) {
	host, err := h.users.GetHostByUsername(r.Context(), r.PathValue("username"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	eventTypes, err := h.eventTypes.ListByHost(r.Context(), host.ID, false)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := profileResponse{
		Username: host.Username,
		Name:     host.Name,
		Bio:      host.Bio,
		Avatar:   host.Avatar,
		TimeZone: host.TimeZone,
	}
	for _, et := range eventTypes {
		resp.EventTypes = append(resp.EventTypes, eventTypeItem{
			ID:                   et.ID,
			Title:                et.Title,
			Slug:                 et.Slug,
			Description:          et.Description,
			DurationMinutes:      et.DurationMinutes,
			RequiresConfirmation: et.RequiresConfirmation,
			PriceCents:           et.PriceCents,
			Currency:             et.Currency,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Available bool   `json:"available"`
}

type slotsResponse struct {
	Date     string     `json:"date"`
	TimeZone string     `json:"time_zone"`
	Slots    []slotItem `json:"slots"`
}

// Slots handles GET /api/v1/public/{username}/{slug}/slots?date=&timezone=.
// The date is interpreted in the host's time zone; the optional timezone
// parameter only changes how slot times are rendered in the response.
func (h *PublicHandler) Slots(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	host, err := h.users.GetHostByUsername(ctx, r.PathValue("username"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	et, err := h.eventTypes.GetVisibleBySlug(ctx, host.ID, r.PathValue("slug"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	date := r.URL.Query().Get("date")
	if date == "" {
		http.Error(w, "date query parameter required (YYYY-MM-DD)", http.StatusBadRequest)
		return
	}

	viewerZone := time.UTC
	if tz := strings.TrimSpace(r.URL.Query().Get("timezone")); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			http.Error(w, "invalid timezone", http.StatusBadRequest)
			return
		}
		viewerZone = loc
	}

	cfg, err := h.users.GetAvailabilityConfig(ctx, host.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	window, err := availability.DayWindow(cfg, date)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}

	booked, err := h.bookings.ListAcceptedIntervals(ctx, host.ID,
		window.Start.Add(-24*time.Hour), window.End.Add(24*time.Hour), 0)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	busy := availability.BusyIntervals(booked, cfg.BufferMinutes)
	notice := time.Duration(et.MinimumNoticeMinutes) * time.Minute
	slots := availability.ComputeSlots(window, et.Duration(), notice, busy, time.Now())

	resp := slotsResponse{Date: date, TimeZone: viewerZone.String(), Slots: []slotItem{}}
	for _, s := range slots {
		resp.Slots = append(resp.Slots, slotItem{
			StartTime: s.Start.In(viewerZone).Format(time.RFC3339),
			EndTime:   s.End.In(viewerZone).Format(time.RFC3339),
			Available: s.Available,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type createBookingRequest struct {
	StartTime   string          `json:"start_time"`
	EndTime     string          `json:"end_time"`
	Name        string          `json:"name"`
	Email       string          `json:"email"`
	TimeZone    string          `json:"time_zone"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Metadata    json.RawMessage `json:"metadata"`
	Responses   json.RawMessage `json:"responses"`
}

// Book handles POST /api/v1/public/{username}/{slug}/book.
func (h *PublicHandler) Book(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	host, err := h.users.GetHostByUsername(ctx, r.PathValue("username"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	et, err := h.eventTypes.GetVisibleBySlug(ctx, host.ID, r.PathValue("slug"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req createBookingRequest
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

	b, err := h.svc.Create(ctx, booking.CreateRequest{
		EventTypeID: et.ID,
		Title:       req.Title,
		Description: req.Description,
		Start:       start,
		End:         end,
		Attendee: booking.AttendeeInput{
			Email:    req.Email,
			Name:     req.Name,
			TimeZone: req.TimeZone,
		},
		Metadata:  req.Metadata,
		Responses: req.Responses,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.logger.Info("booking created", "booking_uid", b.UID, "host_id", b.HostID, "status", b.Status)
	writeJSON(w, http.StatusCreated, bookingResponseFrom(b, nil))
}

type attendeeItem struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	TimeZone string `json:"time_zone"`
	NoShow   bool   `json:"no_show"`
}

type bookingResponse struct {
	ID           int64           `json:"id"`
	UID          string          `json:"uid"`
	EventTypeID  int64           `json:"event_type_id"`
	Title        string          `json:"title"`
	Description  string          `json:"description,omitempty"`
	StartTime    string          `json:"start_time"`
	EndTime      string          `json:"end_time"`
	Status       string          `json:"status"`
	CancelReason string          `json:"cancel_reason,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	Responses    json.RawMessage `json:"responses,omitempty"`
	CreatedAt    string          `json:"created_at"`
	Attendees    []attendeeItem  `json:"attendees,omitempty"`
}

func bookingResponseFrom(b model.Booking, attendees []model.Attendee) bookingResponse {
	resp := bookingResponse{
		ID:           b.ID,
		UID:          b.UID,
		EventTypeID:  b.EventTypeID,
		Title:        b.Title,
		Description:  b.Description,
		StartTime:    b.StartTime.UTC().Format(time.RFC3339),
		EndTime:      b.EndTime.UTC().Format(time.RFC3339),
		Status:       string(b.Status),
		CancelReason: b.CancelReason,
		Metadata:     b.Metadata,
		Responses:    b.Responses,
		CreatedAt:    b.CreatedAt.UTC().Format(time.RFC3339),
	}
	for _, a := range attendees {
		resp.Attendees = append(resp.Attendees, attendeeItem{
			ID:       a.ID,
			Email:    a.Email,
			Name:     a.Name,
			TimeZone: a.TimeZone,
			NoShow:   a.NoShow,
		})
	}
	return resp
}
