package storage

import (
	"context"

	"github.com/qkeluna/qclickin/libs/db"
	"github.com/qkeluna/qclickin/services/scheduling-service/internal/model"
)

type AttendeeRepository struct {
	pool *db.Pool
}

func NewAttendeeRepository(pool *db.Pool) *AttendeeRepository {
	return &AttendeeRepository{pool: pool}
}

func (r *AttendeeRepository) ListByBooking(ctx context.Context, bookingID int64) ([]model.Attendee, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, booking_id, email, name, time_zone, no_show
		FROM attendees
		WHERE booking_id = $1
		ORDER BY id ASC
	`, bookingID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []model.Attendee
	for rows.Next() {
		var a model.Attendee
		if err := rows.Scan(&a.ID, &a.BookingID, &a.Email, &a.Name, &a.TimeZone, &a.NoShow); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// SetNoShow flags an attendee regardless of when the booking took place.
// The host decides; there is no time-window guard.
func (r *AttendeeRepository) SetNoShow(ctx context.Context, hostID, attendeeID int64, noShow bool) (model.Attendee, error) {
	var a model.Attendee
	err := r.pool.QueryRow(ctx, `
		UPDATE attendees a
		SET no_show = $3
		FROM bookings b
		WHERE a.id = $1 AND a.booking_id = b.id AND b.host_id = $2
		RETURNING a.id, a.booking_id, a.email, a.name, a.time_zone, a.no_show
	`, attendeeID, hostID, noShow).Scan(&a.ID, &a.BookingID, &a.Email, &a.Name, &a.TimeZone, &a.NoShow)
	if err != nil {
		return model.Attendee{}, mapError(err)
	}
	return a, nil
}

func (r *AttendeeRepository) Update(ctx context.Context, hostID int64, a model.Attendee) (model.Attendee, error) {
	var out model.Attendee
	err := r.pool.QueryRow(ctx, `
		UPDATE attendees att
		SET email = $3,
			name = $4,
			time_zone = $5
		FROM bookings b
		WHERE att.id = $1 AND att.booking_id = b.id AND b.host_id = $2
		RETURNING att.id, att.booking_id, att.email, att.name, att.time_zone, att.no_show
	`, a.ID, hostID, a.Email, a.Name, a.TimeZone).Scan(&out.ID, &out.BookingID, &out.Email, &out.Name, &out.TimeZone, &out.NoShow)
	if err != nil {
		return model.Attendee{}, mapError(err)
	}
	return out, nil
}
