package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/qkeluna/qclickin/libs/db"
)

var ErrNotFound = errors.New("webhook not found")

// Subscription is a host-registered endpoint plus the event types it wants.
// Events is stored as a jsonb array of topic names.
type Subscription struct {
	ID        string
	HostID    int64
	URL       string
	Events    []string
	Secret    string
	Active    bool
	CreatedAt time.Time
}

// Delivery is one attempt log row for a dispatched event.
type Delivery struct {
	ID          string
	WebhookID   string
	EventID     string
	EventType   string
	StatusCode  int
	Attempts    int
	LastError   string
	DeliveredAt *time.Time
	CreatedAt   time.Time
}

type WebhookRepository struct {
	pool *db.Pool
}

func NewWebhookRepository(pool *db.Pool) *WebhookRepository {
	return &WebhookRepository{pool: pool}
}

func (r *WebhookRepository) Create(ctx context.Context, sub *Subscription) error {
	sub.ID = uuid.NewString()
	events, err := json.Marshal(sub.Events)
	if err != nil {
		return err
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO webhooks (id, host_id, url, events, secret, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, sub.ID, sub.HostID, sub.URL, events, sub.Secret, sub.Active).Scan(&sub.CreatedAt)
}

func (r *WebhookRepository) Get(ctx context.Context, hostID int64, id string) (Subscription, error) {
	var sub Subscription
	var events []byte
	err := r.pool.QueryRow(ctx, `
		SELECT id, host_id, url, events, secret, active, created_at
		FROM webhooks
		WHERE id = $1 AND host_id = $2
	`, id, hostID).Scan(&sub.ID, &sub.HostID, &sub.URL, &events, &sub.Secret, &sub.Active, &sub.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Subscription{}, ErrNotFound
	}
	if err != nil {
		return Subscription{}, err
	}
	if err := json.Unmarshal(events, &sub.Events); err != nil {
		return Subscription{}, err
	}
	return sub, nil
}

func (r *WebhookRepository) ListByHost(ctx context.Context, hostID int64) ([]Subscription, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, host_id, url, events, secret, active, created_at
		FROM webhooks
		WHERE host_id = $1
		ORDER BY created_at ASC
	`, hostID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// ListActiveForEvent returns every active subscription of the host whose
// events array contains eventType.
func (r *WebhookRepository) ListActiveForEvent(ctx context.Context, hostID int64, eventType string) ([]Subscription, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, host_id, url, events, secret, active, created_at
		FROM webhooks
		WHERE host_id = $1
			AND active
			AND events @> to_jsonb(ARRAY[$2::text])
	`, hostID, eventType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func (r *WebhookRepository) Update(ctx context.Context, sub Subscription) (Subscription, error) {
	events, err := json.Marshal(sub.Events)
	if err != nil {
		return Subscription{}, err
	}
	var out Subscription
	var rawEvents []byte
	err = r.pool.QueryRow(ctx, `
		UPDATE webhooks
		SET url = $3, events = $4, active = $5
		WHERE id = $1 AND host_id = $2
		RETURNING id, host_id, url, events, secret, active, created_at
	`, sub.ID, sub.HostID, sub.URL, events, sub.Active).
		Scan(&out.ID, &out.HostID, &out.URL, &rawEvents, &out.Secret, &out.Active, &out.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Subscription{}, ErrNotFound
	}
	if err != nil {
		return Subscription{}, err
	}
	if err := json.Unmarshal(rawEvents, &out.Events); err != nil {
		return Subscription{}, err
	}
	return out, nil
}

func (r *WebhookRepository) Delete(ctx context.Context, hostID int64, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM webhooks WHERE id = $1 AND host_id = $2`, id, hostID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *WebhookRepository) RecordDelivery(ctx context.Context, d *Delivery) error {
	d.ID = uuid.NewString()
	return r.pool.QueryRow(ctx, `
		INSERT INTO webhook_deliveries
			(id, webhook_id, event_id, event_type, status_code, attempts, last_error, delivered_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
		RETURNING created_at
	`, d.ID, d.WebhookID, d.EventID, d.EventType, d.StatusCode, d.Attempts, d.LastError, d.DeliveredAt).
		Scan(&d.CreatedAt)
}

func (r *WebhookRepository) ListDeliveries(ctx context.Context, hostID int64, webhookID string, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT d.id, d.webhook_id, d.event_id, d.event_type, d.status_code, d.attempts,
			COALESCE(d.last_error, ''), d.delivered_at, d.created_at
		FROM webhook_deliveries d
		JOIN webhooks w ON w.id = d.webhook_id
		WHERE d.webhook_id = $1 AND w.host_id = $2
		ORDER BY d.created_at DESC
		LIMIT $3
	`, webhookID, hostID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.ID, &d.WebhookID, &d.EventID, &d.EventType, &d.StatusCode, &d.Attempts,
			&d.LastError, &d.DeliveredAt, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func scanSubscriptions(rows pgx.Rows) ([]Subscription, error) {
	var out []Subscription
	for rows.Next() {
		var sub Subscription
		var events []byte
		if err := rows.Scan(&sub.ID, &sub.HostID, &sub.URL, &events, &sub.Secret, &sub.Active, &sub.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(events, &sub.Events); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
