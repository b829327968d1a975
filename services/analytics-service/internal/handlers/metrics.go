package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/qkeluna/qclickin/libs/auth"
	"github.com/qkeluna/qclickin/libs/db"
)

// MetricsHandler serves host-scoped read queries over the aggregates the
// consumers maintain.
type MetricsHandler struct {
	pool      *db.Pool
	jwtSecret string
}

func NewMetricsHandler(pool *db.Pool, jwtSecret string) *MetricsHandler {
	return &MetricsHandler{pool: pool, jwtSecret: jwtSecret}
}

type bookingTotalsResponse struct {
	Start        string `json:"start"`
	End          string `json:"end"`
	Created      int64  `json:"created"`
	Accepted     int64  `json:"accepted"`
	Rejected     int64  `json:"rejected"`
	Cancelled    int64  `json:"cancelled"`
	Rescheduled  int64  `json:"rescheduled"`
	RevenueCents int64  `json:"revenue_cents"`
}

// Bookings handles GET /api/v1/analytics/bookings?start=&end= with
// YYYY-MM-DD bounds, end exclusive. Defaults to the last 30 days.
func (h *MetricsHandler) Bookings(w http.ResponseWriter, r *http.Request) {
	hostID, ok := h.hostFromRequest(w, r)
	if !ok {
		return
	}
	start, end, errMsg := dateRange(r)
	if errMsg != "" {
		http.Error(w, errMsg, http.StatusBadRequest)
		return
	}

	resp := bookingTotalsResponse{
		Start: start.Format("2006-01-02"),
		End:   end.Format("2006-01-02"),
	}
	err := h.pool.QueryRow(r.Context(), `
		SELECT COALESCE(SUM(created_count), 0),
			COALESCE(SUM(accepted_count), 0),
			COALESCE(SUM(rejected_count), 0),
			COALESCE(SUM(cancelled_count), 0),
			COALESCE(SUM(rescheduled_count), 0),
			COALESCE(SUM(revenue_cents), 0)
		FROM daily_booking_metrics
		WHERE host_id = $1 AND day >= $2::date AND day < $3::date
	`, hostID, start, end).Scan(
		&resp.Created,
		&resp.Accepted,
		&resp.Rejected,
		&resp.Cancelled,
		&resp.Rescheduled,
		&resp.RevenueCents,
	)
	if err != nil {
		http.Error(w, "failed to load metrics", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type eventTypeMetricsItem struct {
	EventTypeID  int64   `json:"event_type_id"`
	Created      int64   `json:"created"`
	Accepted     int64   `json:"accepted"`
	Cancelled    int64   `json:"cancelled"`
	Conversion   float64 `json:"conversion_rate"`
	RevenueCents int64   `json:"revenue_cents"`
}

// EventTypes handles GET /api/v1/analytics/event-types?start=&end=. The
// conversion rate is accepted over created for the window.
func (h *MetricsHandler) EventTypes(w http.ResponseWriter, r *http.Request) {
	hostID, ok := h.hostFromRequest(w, r)
	if !ok {
		return
	}
	start, end, errMsg := dateRange(r)
	if errMsg != "" {
		http.Error(w, errMsg, http.StatusBadRequest)
		return
	}

	rows, err := h.pool.Query(r.Context(), `
		SELECT event_type_id,
			COUNT(*) FILTER (WHERE event_type = 'booking.created.v1'),
			COUNT(*) FILTER (WHERE event_type = 'booking.accepted.v1'),
			COUNT(*) FILTER (WHERE event_type = 'booking.cancelled.v1'),
			COALESCE(SUM(price_cents) FILTER (WHERE event_type = 'booking.accepted.v1'), 0)
		FROM booking_metrics
		WHERE host_id = $1 AND occurred_at >= $2 AND occurred_at < $3
		GROUP BY event_type_id
		ORDER BY event_type_id
	`, hostID, start, end)
	if err != nil {
		http.Error(w, "failed to load metrics", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	items := make([]eventTypeMetricsItem, 0)
	for rows.Next() {
		var item eventTypeMetricsItem
		if err := rows.Scan(&item.EventTypeID, &item.Created, &item.Accepted, &item.Cancelled, &item.RevenueCents); err != nil {
			http.Error(w, "failed to load metrics", http.StatusInternalServerError)
			return
		}
		if item.Created > 0 {
			item.Conversion = float64(item.Accepted) / float64(item.Created)
		}
		items = append(items, item)
	}
	if rows.Err() != nil {
		http.Error(w, "failed to load metrics", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"event_types": items})
}

func (h *MetricsHandler) hostFromRequest(w http.ResponseWriter, r *http.Request) (int64, bool) {
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

func dateRange(r *http.Request) (time.Time, time.Time, string) {
	end := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1)
	start := end.AddDate(0, 0, -30)

	if raw := r.URL.Query().Get("start"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, time.Time{}, "invalid start date (YYYY-MM-DD)"
		}
		start = t
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, time.Time{}, "invalid end date (YYYY-MM-DD)"
		}
		end = t
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, "start must be before end"
	}
	return start, end, ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
