package storage

import (
	"context"

	"github.com/qkeluna/qclickin/libs/db"
	"github.com/qkeluna/qclickin/services/scheduling-service/internal/booking"
	"github.com/qkeluna/qclickin/services/scheduling-service/internal/model"
)

type EventTypeRepository struct {
	pool *db.Pool
}

func NewEventTypeRepository(pool *db.Pool) *EventTypeRepository {
	return &EventTypeRepository{pool: pool}
}

const eventTypeColumns = `id, host_id, title, slug, COALESCE(description, ''), position, duration_minutes,
	hidden, requires_confirmation, minimum_notice_minutes,
	before_buffer_minutes, after_buffer_minutes, price_cents, currency`

func (r *EventTypeRepository) Create(ctx context.Context, et *model.EventType) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO event_types
			(host_id, title, slug, description, position, duration_minutes, hidden,
			requires_confirmation, minimum_notice_minutes, before_buffer_minutes,
			after_buffer_minutes, price_cents, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`, et.HostID, et.Title, et.Slug, et.Description, et.Position, et.DurationMinutes, et.Hidden,
		et.RequiresConfirmation, et.MinimumNoticeMinutes, et.BeforeBufferMinutes,
		et.AfterBufferMinutes, et.PriceCents, et.Currency).Scan(&et.ID)
	return mapError(err)
}

func (r *EventTypeRepository) Get(ctx context.Context, hostID, id int64) (model.EventType, error) {
	return r.get(ctx, `WHERE id = $1 AND host_id = $2`, id, hostID)
}

// GetVisibleBySlug resolves a public booking-page URL. Hidden event types
// are not reachable this way.
func (r *EventTypeRepository) GetVisibleBySlug(ctx context.Context, hostID int64, slug string) (model.EventType, error) {
	return r.get(ctx, `WHERE host_id = $1 AND slug = $2 AND NOT hidden`, hostID, slug)
}

func (r *EventTypeRepository) get(ctx context.Context, where string, args ...any) (model.EventType, error) {
	var et model.EventType
	err := r.pool.QueryRow(ctx, `SELECT `+eventTypeColumns+` FROM event_types `+where, args...).Scan(
		&et.ID,
		&et.HostID,
		&et.Title,
		&et.Slug,
		&et.Description,
		&et.Position,
		&et.DurationMinutes,
		&et.Hidden,
		&et.RequiresConfirmation,
		&et.MinimumNoticeMinutes,
		&et.BeforeBufferMinutes,
		&et.AfterBufferMinutes,
		&et.PriceCents,
		&et.Currency,
	)
	if err != nil {
		return model.EventType{}, mapError(err)
	}
	return et, nil
}

func (r *EventTypeRepository) ListByHost(ctx context.Context, hostID int64, includeHidden bool) ([]model.EventType, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+eventTypeColumns+`
		FROM event_types
		WHERE host_id = $1
			AND ($2 OR NOT hidden)
		ORDER BY position ASC, id ASC
	`, hostID, includeHidden)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []model.EventType
	for rows.Next() {
		var et model.EventType
		if err := rows.Scan(
			&et.ID,
			&et.HostID,
			&et.Title,
			&et.Slug,
			&et.Description,
			&et.Position,
			&et.DurationMinutes,
			&et.Hidden,
			&et.RequiresConfirmation,
			&et.MinimumNoticeMinutes,
			&et.BeforeBufferMinutes,
			&et.AfterBufferMinutes,
			&et.PriceCents,
			&et.Currency,
		); err != nil {
			return nil, err
		}
		out = append(out, et)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *EventTypeRepository) Update(ctx context.Context, et model.EventType) (model.EventType, error) {
	var out model.EventType
	err := r.pool.QueryRow(ctx, `
		UPDATE event_types
		SET title = $3,
			slug = $4,
			description = $5,
			position = $6,
			duration_minutes = $7,
			hidden = $8,
			requires_confirmation = $9,
			minimum_notice_minutes = $10,
			before_buffer_minutes = $11,
			after_buffer_minutes = $12,
			price_cents = $13,
			currency = $14
		WHERE id = $1 AND host_id = $2
		RETURNING `+eventTypeColumns+`
	`, et.ID, et.HostID, et.Title, et.Slug, et.Description, et.Position, et.DurationMinutes, et.Hidden,
		et.RequiresConfirmation, et.MinimumNoticeMinutes, et.BeforeBufferMinutes,
		et.AfterBufferMinutes, et.PriceCents, et.Currency).Scan(
		&out.ID,
		&out.HostID,
		&out.Title,
		&out.Slug,
		&out.Description,
		&out.Position,
		&out.DurationMinutes,
		&out.Hidden,
		&out.RequiresConfirmation,
		&out.MinimumNoticeMinutes,
		&out.BeforeBufferMinutes,
		&out.AfterBufferMinutes,
		&out.PriceCents,
		&out.Currency,
	)
	if err != nil {
		return model.EventType{}, mapError(err)
	}
	return out, nil
}

func (r *EventTypeRepository) Delete(ctx context.Context, hostID, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM event_types WHERE id = $1 AND host_id = $2`, id, hostID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrNotFound
	}
	return nil
}
