package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/qkeluna/qclickin/services/scheduling-service/internal/model"
	"github.com/qkeluna/qclickin/services/scheduling-service/internal/storage"
)

type AvailabilityHandler struct {
	users     *storage.UserRepository
	jwtSecret string
}

func NewAvailabilityHandler(users *storage.UserRepository, jwtSecret string) *AvailabilityHandler {
	return &AvailabilityHandler{users: users, jwtSecret: jwtSecret}
}

type availabilityPayload struct {
	TimeZone      string `json:"time_zone"`
	StartOfDay    int    `json:"start_of_day"`
	EndOfDay      int    `json:"end_of_day"`
	BufferMinutes int    `json:"buffer_minutes"`
	WeekStart     string `json:"week_start"`
}

// Get handles GET /api/v1/availability.
func (h *AvailabilityHandler) Get(w http.ResponseWriter, r *http.Request) {
	hostID, _, ok := hostFromRequest(w, r, h.jwtSecret)
	if !ok {
		return
	}
	cfg, err := h.users.GetAvailabilityConfig(r.Context(), hostID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, availabilityPayload{
		TimeZone:      cfg.TimeZone,
		StartOfDay:    cfg.StartOfDayMinutes,
		EndOfDay:      cfg.EndOfDayMinutes,
		BufferMinutes: cfg.BufferMinutes,
		WeekStart:     cfg.WeekStart,
	})
}

var weekStarts = map[string]bool{
	"Sunday": true, "Monday": true, "Tuesday": true, "Wednesday": true,
	"Thursday": true, "Friday": true, "Saturday": true,
}

// Update handles PATCH /api/v1/availability. Start and end are minutes
// from local midnight.
func (h *AvailabilityHandler) Update(w http.ResponseWriter, r *http.Request) {
	hostID, _, ok := hostFromRequest(w, r, h.jwtSecret)
	if !ok {
		return
	}
	var req availabilityPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if _, err := time.LoadLocation(req.TimeZone); err != nil || req.TimeZone == "" {
		http.Error(w, "invalid time_zone", http.StatusBadRequest)
		return
	}
	if req.StartOfDay < 0 || req.EndOfDay > 24*60 || req.StartOfDay >= req.EndOfDay {
		http.Error(w, "start_of_day and end_of_day must satisfy 0 <= start < end <= 1440", http.StatusBadRequest)
		return
	}
	if req.BufferMinutes < 0 {
		http.Error(w, "buffer_minutes cannot be negative", http.StatusBadRequest)
		return
	}
	if req.WeekStart == "" {
		req.WeekStart = "Sunday"
	}
	if !weekStarts[req.WeekStart] {
		http.Error(w, "invalid week_start", http.StatusBadRequest)
		return
	}

	cfg, err := h.users.UpdateAvailabilityConfig(r.Context(), model.AvailabilityConfig{
		HostID:            hostID,
		TimeZone:          req.TimeZone,
		StartOfDayMinutes: req.StartOfDay,
		EndOfDayMinutes:   req.EndOfDay,
		BufferMinutes:     req.BufferMinutes,
		WeekStart:         req.WeekStart,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, availabilityPayload{
		TimeZone:      cfg.TimeZone,
		StartOfDay:    cfg.StartOfDayMinutes,
		EndOfDay:      cfg.EndOfDayMinutes,
		BufferMinutes: cfg.BufferMinutes,
		WeekStart:     cfg.WeekStart,
	})
}
