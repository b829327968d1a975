package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/qkeluna/qclickin/libs/auth"
	"github.com/qkeluna/qclickin/services/webhook-service/internal/storage"
)

// Topics a subscription may ask for.
var allowedEvents = map[string]bool{
	"booking.created.v1":     true,
	"booking.accepted.v1":    true,
	"booking.rejected.v1":    true,
	"booking.cancelled.v1":   true,
	"booking.rescheduled.v1": true,
}

type WebhooksHandler struct {
	repo      *storage.WebhookRepository
	jwtSecret string
}

func NewWebhooksHandler(repo *storage.WebhookRepository, jwtSecret string) *WebhooksHandler {
	return &WebhooksHandler{repo: repo, jwtSecret: jwtSecret}
}

type webhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Active *bool    `json:"active"`
}

type webhookResponse struct {
	ID        string   `json:"id"`
	URL       string   `json:"url"`
	Events    []string `json:"events"`
	Secret    string   `json:"secret,omitempty"`
	Active    bool     `json:"active"`
	CreatedAt string   `json:"created_at"`
}

func webhookResponseFrom(sub storage.Subscription, includeSecret bool) webhookResponse {
	resp := webhookResponse{
		ID:        sub.ID,
		URL:       sub.URL,
		Events:    sub.Events,
		Active:    sub.Active,
		CreatedAt: sub.CreatedAt.UTC().Format(time.RFC3339),
	}
	if includeSecret {
		resp.Secret = sub.Secret
	}
	return resp
}

// Create handles POST /api/v1/webhooks. The signing secret is generated
// server side and returned exactly once, in this response.
func (h *WebhooksHandler) Create(w http.ResponseWriter, r *http.Request) {
	hostID, ok := h.hostFromRequest(w, r)
	if !ok {
		return
	}
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	events, errMsg := validateWebhookRequest(&req)
	if errMsg != "" {
		http.Error(w, errMsg, http.StatusBadRequest)
		return
	}

	secret, err := newSecret()
	if err != nil {
		http.Error(w, "failed to generate secret", http.StatusInternalServerError)
		return
	}
	sub := &storage.Subscription{
		HostID: hostID,
		URL:    req.URL,
		Events: events,
		Secret: secret,
		Active: req.Active == nil || *req.Active,
	}
	if err := h.repo.Create(r.Context(), sub); err != nil {
		http.Error(w, "failed to create webhook", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, webhookResponseFrom(*sub, true))
}

// List handles GET /api/v1/webhooks.
func (h *WebhooksHandler) List(w http.ResponseWriter, r *http.Request) {
	hostID, ok := h.hostFromRequest(w, r)
	if !ok {
		return
	}
	subs, err := h.repo.ListByHost(r.Context(), hostID)
	if err != nil {
		http.Error(w, "failed to list webhooks", http.StatusInternalServerError)
		return
	}
	items := make([]webhookResponse, 0, len(subs))
	for _, sub := range subs {
		items = append(items, webhookResponseFrom(sub, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": items})
}

// Get handles GET /api/v1/webhooks/{id}.
func (h *WebhooksHandler) Get(w http.ResponseWriter, r *http.Request) {
	hostID, ok := h.hostFromRequest(w, r)
	if !ok {
		return
	}
	sub, err := h.repo.Get(r.Context(), hostID, r.PathValue("id"))
	if err != nil {
		h.writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, webhookResponseFrom(sub, false))
}

// Update handles PATCH /api/v1/webhooks/{id}.
func (h *WebhooksHandler) Update(w http.ResponseWriter, r *http.Request) {
	hostID, ok := h.hostFromRequest(w, r)
	if !ok {
		return
	}
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	events, errMsg := validateWebhookRequest(&req)
	if errMsg != "" {
		http.Error(w, errMsg, http.StatusBadRequest)
		return
	}

	sub, err := h.repo.Update(r.Context(), storage.Subscription{
		ID:     r.PathValue("id"),
		HostID: hostID,
		URL:    req.URL,
		Events: events,
		Active: req.Active == nil || *req.Active,
	})
	if err != nil {
		h.writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, webhookResponseFrom(sub, false))
}

// Delete handles DELETE /api/v1/webhooks/{id}.
func (h *WebhooksHandler) Delete(w http.ResponseWriter, r *http.Request) {
	hostID, ok := h.hostFromRequest(w, r)
	if !ok {
		return
	}
	if err := h.repo.Delete(r.Context(), hostID, r.PathValue("id")); err != nil {
		h.writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type deliveryItem struct {
	ID          string `json:"id"`
	EventID     string `json:"event_id"`
	EventType   string `json:"event_type"`
	StatusCode  int    `json:"status_code"`
	Attempts    int    `json:"attempts"`
	LastError   string `json:"last_error,omitempty"`
	DeliveredAt string `json:"delivered_at,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// Deliveries handles GET /api/v1/webhooks/{id}/deliveries?limit=.
func (h *WebhooksHandler) Deliveries(w http.ResponseWriter, r *http.Request) {
	hostID, ok := h.hostFromRequest(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	deliveries, err := h.repo.ListDeliveries(r.Context(), hostID, r.PathValue("id"), limit)
	if err != nil {
		http.Error(w, "failed to list deliveries", http.StatusInternalServerError)
		return
	}

	items := make([]deliveryItem, 0, len(deliveries))
	for _, d := range deliveries {
		item := deliveryItem{
			ID:         d.ID,
			EventID:    d.EventID,
			EventType:  d.EventType,
			StatusCode: d.StatusCode,
			Attempts:   d.Attempts,
			LastError:  d.LastError,
			CreatedAt:  d.CreatedAt.UTC().Format(time.RFC3339),
		}
		if d.DeliveredAt != nil {
			item.DeliveredAt = d.DeliveredAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": items})
}

func (h *WebhooksHandler) hostFromRequest(w http.ResponseWriter, r *http.Request) (int64, bool) {
	token, ok := auth.BearerToken(r)
	if !ok {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return 0, false
	}
	claims, err := auth.ParseAndVerifyHS256(token, h.jwtSecret)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return 0, false
	}
	hostID, err := strconv.ParseInt(claims.Sub, 10, 64)
	if err != nil || hostID <= 0 {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return 0, false
	}
	return hostID, true
}

func (h *WebhooksHandler) writeStorageError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func validateWebhookRequest(req *webhookRequest) ([]string, string) {
	req.URL = strings.TrimSpace(req.URL)
	parsed, err := url.Parse(req.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, "url must be a valid http(s) endpoint"
	}
	if len(req.Events) == 0 {
		return nil, "at least one event type required"
	}
	seen := map[string]bool{}
	var events []string
	for _, evt := range req.Events {
		evt = strings.TrimSpace(evt)
		if !allowedEvents[evt] {
			return nil, "unknown event type: " + evt
		}
		if !seen[evt] {
			seen[evt] = true
			events = append(events, evt)
		}
	}
	return events, ""
}

func newSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(buf), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
