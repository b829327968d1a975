package handlers

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/qkeluna/qclickin/services/scheduling-service/internal/model"
	"github.com/qkeluna/qclickin/services/scheduling-service/internal/storage"
)

type EventTypesHandler struct {
	repo      *storage.EventTypeRepository
	jwtSecret string
}

func NewEventTypesHandler(repo *storage.EventTypeRepository, jwtSecret string) *EventTypesHandler {
	return &EventTypesHandler{repo: repo, jwtSecret: jwtSecret}
}

type eventTypeRequest struct {
	Title                string `json:"title"`
	Slug                 string `json:"slug"`
	Description          string `json:"description"`
	Position             int    `json:"position"`
	DurationMinutes      int    `json:"duration_minutes"`
	Hidden               bool   `json:"hidden"`
	RequiresConfirmation bool   `json:"requires_confirmation"`
	MinimumNoticeMinutes int    `json:"minimum_notice_minutes"`
	BeforeBufferMinutes  int    `json:"before_buffer_minutes"`
	AfterBufferMinutes   int    `json:"after_buffer_minutes"`
	PriceCents           int    `json:"price_cents"`
	Currency             string `json:"currency"`
}

type eventTypeResponse struct {
	eventTypeItem
	Position             int  `json:"position"`
	Hidden               bool `json:"hidden"`
	MinimumNoticeMinutes int  `json:"minimum_notice_minutes"`
	BeforeBufferMinutes  int  `json:"before_buffer_minutes"`
	AfterBufferMinutes   int  `json:"after_buffer_minutes"`
}

func eventTypeResponseFrom(et model.EventType) eventTypeResponse {
	return eventTypeResponse{
		eventTypeItem: eventTypeItem{
			ID:                   et.ID,
			Title:                et.Title,
			Slug:                 et.Slug,
			Description:          et.Description,
			DurationMinutes:      et.DurationMinutes,
			RequiresConfirmation: et.RequiresConfirmation,
			PriceCents:           et.PriceCents,
			Currency:             et.Currency,
		},
		Position:             et.Position,
		Hidden:               et.Hidden,
		MinimumNoticeMinutes: et.MinimumNoticeMinutes,
		BeforeBufferMinutes:  et.BeforeBufferMinutes,
		AfterBufferMinutes:   et.AfterBufferMinutes,
	}
}

// List handles GET /api/v1/event-types. The owner sees hidden event types.
func (h *EventTypesHandler) List(w http.ResponseWriter, r *http.Request) {
	hostID, _, ok := hostFromRequest(w, r, h.jwtSecret)
	if !ok {
		return
	}
	eventTypes, err := h.repo.ListByHost(r.Context(), hostID, true)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	items := make([]eventTypeResponse, 0, len(eventTypes))
	for _, et := range eventTypes {
		items = append(items, eventTypeResponseFrom(et))
	}
	writeJSON(w, http.StatusOK, map[string]any{"event_types": items})
}

// Create handles POST /api/v1/event-types.
func (h *EventTypesHandler) Create(w http.ResponseWriter, r *http.Request) {
	hostID, _, ok := hostFromRequest(w, r, h.jwtSecret)
	if !ok {
		return
	}
	var req eventTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	et, errMsg := eventTypeFromRequest(req, hostID)
	if errMsg != "" {
		http.Error(w, errMsg, http.StatusBadRequest)
		return
	}

	if err := h.repo.Create(r.Context(), &et); err != nil {
		if storage.IsUniqueViolation(err) {
			http.Error(w, "slug already in use", http.StatusConflict)
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, eventTypeResponseFrom(et))
}

// Get handles GET /api/v1/event-types/{id}.
func (h *EventTypesHandler) Get(w http.ResponseWriter, r *http.Request) {
	hostID, _, ok := hostFromRequest(w, r, h.jwtSecret)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid event type id", http.StatusBadRequest)
		return
	}
	et, err := h.repo.Get(r.Context(), hostID, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventTypeResponseFrom(et))
}

// Update handles PATCH /api/v1/event-types/{id}. The full event type is
// replaced; clients send the desired end state.
func (h *EventTypesHandler) Update(w http.ResponseWriter, r *http.Request) {
	hostID, _, ok := hostFromRequest(w, r, h.jwtSecret)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid event type id", http.StatusBadRequest)
		return
	}
	var req eventTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	et, errMsg := eventTypeFromRequest(req, hostID)
	if errMsg != "" {
		http.Error(w, errMsg, http.StatusBadRequest)
		return
	}
	et.ID = id

	updated, err := h.repo.Update(r.Context(), et)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			http.Error(w, "slug already in use", http.StatusConflict)
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventTypeResponseFrom(updated))
}

// Delete handles DELETE /api/v1/event-types/{id}.
func (h *EventTypesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	hostID, _, ok := hostFromRequest(w, r, h.jwtSecret)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid event type id", http.StatusBadRequest)
		return
	}
	if err := h.repo.Delete(r.Context(), hostID, id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify collapses a title into a URL-safe slug: lowercase, runs of
// non-alphanumerics become single dashes.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugPattern.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

func eventTypeFromRequest(req eventTypeRequest, hostID int64) (model.EventType, string) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return model.EventType{}, "title required"
	}
	slug := strings.TrimSpace(req.Slug)
	if slug == "" {
		slug = Slugify(req.Title)
	} else {
		slug = Slugify(slug)
	}
	if slug == "" {
		return model.EventType{}, "slug required"
	}
	if req.DurationMinutes <= 0 {
		return model.EventType{}, "duration_minutes must be positive"
	}
	if req.MinimumNoticeMinutes < 0 || req.BeforeBufferMinutes < 0 || req.AfterBufferMinutes < 0 {
		return model.EventType{}, "notice and buffer minutes cannot be negative"
	}
	if req.PriceCents < 0 {
		return model.EventType{}, "price_cents cannot be negative"
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "usd"
	}

	return model.EventType{
		HostID:               hostID,
		Title:                req.Title,
		Slug:                 slug,
		Description:          strings.TrimSpace(req.Description),
		Position:             req.Position,
		DurationMinutes:      req.DurationMinutes,
		Hidden:               req.Hidden,
		RequiresConfirmation: req.RequiresConfirmation,
		MinimumNoticeMinutes: req.MinimumNoticeMinutes,
		BeforeBufferMinutes:  req.BeforeBufferMinutes,
		AfterBufferMinutes:   req.AfterBufferMinutes,
		PriceCents:           req.PriceCents,
		Currency:             currency,
	}, ""
}
