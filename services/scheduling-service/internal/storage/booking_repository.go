package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/qkeluna/qclickin/libs/db"
	"github.com/qkeluna/qclickin/services/scheduling-service/internal/availability"
	"github.com/qkeluna/qclickin/services/scheduling-service/internal/booking"
	"github.com/qkeluna/qclickin/services/scheduling-service/internal/model"
	"github.com/qkeluna/qclickin/services/scheduling-service/internal/outbox"
)

// querier is satisfied by both the pool and a transaction, so the same
// repository code runs inside and outside InTx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type BookingRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
	q      querier
	tx     pgx.Tx
}

func NewBookingRepository(pool *db.Pool, outboxRepo *outbox.Repository) *BookingRepository {
	return &BookingRepository{pool: pool, outbox: outboxRepo, q: pool}
}

// InTx opens a transaction, takes a per-host advisory lock, and runs fn
// against a transaction-bound copy of the repository. The lock serializes
// the read-check-write sequence for one host; the bookings exclusion
// constraint remains as a backstop and surfaces as ErrConflict.
func (r *BookingRepository) InTx(ctx context.Context, hostID int64, fn func(booking.Repository) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, hostID); err != nil {
		return err
	}

	bound := &BookingRepository{pool: r.pool, outbox: r.outbox, q: tx, tx: tx}
	if err := fn(bound); err != nil {
		return mapError(err)
	}
	return mapError(tx.Commit(ctx))
}

func (r *BookingRepository) GetAvailabilityConfig(ctx context.Context, hostID int64) (model.AvailabilityConfig, error) {
	cfg := model.AvailabilityConfig{HostID: hostID}
	err := r.q.QueryRow(ctx, `
		SELECT time_zone, start_of_day, end_of_day, buffer_minutes, week_start
		FROM users
		WHERE id = $1
	`, hostID).Scan(&cfg.TimeZone, &cfg.StartOfDayMinutes, &cfg.EndOfDayMinutes, &cfg.BufferMinutes, &cfg.WeekStart)
	if err != nil {
		return model.AvailabilityConfig{}, mapError(err)
	}
	return cfg, nil
}

func (r *BookingRepository) GetEventType(ctx context.Context, id int64) (model.EventType, error) {
	var et model.EventType
	err := r.q.QueryRow(ctx, `
		SELECT id, host_id, title, slug, COALESCE(description, ''), position, duration_minutes,
			hidden, requires_confirmation, minimum_notice_minutes,
			before_buffer_minutes, after_buffer_minutes, price_cents, currency
		FROM event_types
		WHERE id = $1
	`, id).Scan(
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

func (r *BookingRepository) GetBooking(ctx context.Context, id int64) (model.Booking, error) {
	return r.getBooking(ctx, `WHERE id = $1`, id)
}

func (r *BookingRepository) getBooking(ctx context.Context, where string, arg any) (model.Booking, error) {
	var b model.Booking
	err := r.q.QueryRow(ctx, `
		SELECT id, uid, host_id, event_type_id, title, COALESCE(description, ''),
			start_time, end_time, status, COALESCE(cancel_reason, ''),
			metadata, responses, created_at
		FROM bookings
		`+where, arg).Scan(
		&b.ID,
		&b.UID,
		&b.HostID,
		&b.EventTypeID,
		&b.Title,
		&b.Description,
		&b.StartTime,
		&b.EndTime,
		&b.Status,
		&b.CancelReason,
		&b.Metadata,
		&b.Responses,
		&b.CreatedAt,
	)
	if err != nil {
		return model.Booking{}, mapError(err)
	}
	return b, nil
}

func (r *BookingRepository) ListAcceptedIntervals(ctx context.Context, hostID int64, from, to time.Time, excludeBookingID int64) ([]availability.BusyBooking, error) {
	rows, err := r.q.Query(ctx, `
		SELECT b.id, b.start_time, b.end_time, et.before_buffer_minutes, et.after_buffer_minutes
		FROM bookings b
		JOIN event_types et ON et.id = b.event_type_id
		WHERE b.host_id = $1
			AND b.status = 'ACCEPTED'
			AND b.start_time < $3
			AND b.end_time > $2
			AND ($4 = 0 OR b.id <> $4)
		ORDER BY b.start_time ASC
	`, hostID, from, to, excludeBookingID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var busy []availability.BusyBooking
	for rows.Next() {
		var bb availability.BusyBooking
		if err := rows.Scan(&bb.BookingID, &bb.Start, &bb.End, &bb.BeforeBufferMinutes, &bb.AfterBufferMinutes); err != nil {
			return nil, err
		}
		busy = append(busy, bb)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return busy, nil
}

func (r *BookingRepository) CreateBookingWithAttendee(ctx context.Context, b *model.Booking, a *model.Attendee) error {
	err := r.q.QueryRow(ctx, `
		INSERT INTO bookings
			(uid, host_id, event_type_id, title, description, start_time, end_time, status, metadata, responses)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`, b.UID, b.HostID, b.EventTypeID, b.Title, b.Description, b.StartTime, b.EndTime, b.Status, b.Metadata, b.Responses).
		Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		return mapError(err)
	}

	err = r.q.QueryRow(ctx, `
		INSERT INTO attendees (booking_id, email, name, time_zone)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, b.ID, a.Email, a.Name, a.TimeZone).Scan(&a.ID)
	if err != nil {
		return mapError(err)
	}
	a.BookingID = b.ID
	return nil
}

// UpdateBookingStatus flips status only when the row still carries the
// expected prior status. A zero-row update is disambiguated by re-reading
// the booking: missing row means not found, otherwise a concurrent writer
// changed the status first.
func (r *BookingRepository) UpdateBookingStatus(ctx context.Context, id int64, expected, next model.BookingStatus, reason string) (model.Booking, error) {
	var b model.Booking
	err := r.q.QueryRow(ctx, `
		UPDATE bookings
		SET status = $3,
			cancel_reason = CASE WHEN $4 <> '' THEN $4 ELSE cancel_reason END
		WHERE id = $1 AND status = $2
		RETURNING id, uid, host_id, event_type_id, title, COALESCE(description, ''),
			start_time, end_time, status, COALESCE(cancel_reason, ''),
			metadata, responses, created_at
	`, id, expected, next, reason).Scan(
		&b.ID,
		&b.UID,
		&b.HostID,
		&b.EventTypeID,
		&b.Title,
		&b.Description,
		&b.StartTime,
		&b.EndTime,
		&b.Status,
		&b.CancelReason,
		&b.Metadata,
		&b.Responses,
		&b.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetBooking(ctx, id); getErr != nil {
			return model.Booking{}, getErr
		}
		return model.Booking{}, booking.ErrInvalidTransition
	}
	if err != nil {
		return model.Booking{}, mapError(err)
	}
	return b, nil
}

// UpdateBookingInterval moves the booking in time. The status condition keeps
// a concurrent cancel or reject from being overwritten: zero rows with the
// booking still present means it went terminal first.
func (r *BookingRepository) UpdateBookingInterval(ctx context.Context, id int64, start, end time.Time) (model.Booking, error) {
	var b model.Booking
	err := r.q.QueryRow(ctx, `
		UPDATE bookings
		SET start_time = $2, end_time = $3
		WHERE id = $1 AND status NOT IN ('REJECTED', 'CANCELLED')
		RETURNING id, uid, host_id, event_type_id, title, COALESCE(description, ''),
			start_time, end_time, status, COALESCE(cancel_reason, ''),
			metadata, responses, created_at
	`, id, start, end).Scan(
		&b.ID,
		&b.UID,
		&b.HostID,
		&b.EventTypeID,
		&b.Title,
		&b.Description,
		&b.StartTime,
		&b.EndTime,
		&b.Status,
		&b.CancelReason,
		&b.Metadata,
		&b.Responses,
		&b.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetBooking(ctx, id); getErr != nil {
			return model.Booking{}, getErr
		}
		return model.Booking{}, booking.ErrInvalidTransition
	}
	if err != nil {
		return model.Booking{}, mapError(err)
	}
	return b, nil
}

// RecordEvent appends to the transactional outbox. It is only legal inside
// InTx so the event commits or rolls back with the booking mutation.
func (r *BookingRepository) RecordEvent(ctx context.Context, evt outbox.Event) error {
	if r.tx == nil {
		return errors.New("storage: RecordEvent requires a transaction")
	}
	return r.outbox.Insert(ctx, r.tx, evt)
}

// ListBookingsByHost returns the host's bookings newest-first, optionally
// filtered by status.
func (r *BookingRepository) ListBookingsByHost(ctx context.Context, hostID int64, status model.BookingStatus, limit int) ([]model.Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.q.Query(ctx, `
		SELECT id, uid, host_id, event_type_id, title, COALESCE(description, ''),
			start_time, end_time, status, COALESCE(cancel_reason, ''),
			metadata, responses, created_at
		FROM bookings
		WHERE host_id = $1
			AND ($2 = '' OR status = $2)
		ORDER BY start_time DESC
		LIMIT $3
	`, hostID, string(status), limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var bookings []model.Booking
	for rows.Next() {
		var b model.Booking
		if err := rows.Scan(
			&b.ID,
			&b.UID,
			&b.HostID,
			&b.EventTypeID,
			&b.Title,
			&b.Description,
			&b.StartTime,
			&b.EndTime,
			&b.Status,
			&b.CancelReason,
			&b.Metadata,
			&b.Responses,
			&b.CreatedAt,
		); err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return bookings, nil
}

// mapError translates driver-level failures into the lifecycle manager's
// error taxonomy. Code 23P01 is the bookings overlap exclusion constraint.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return booking.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23P01" {
		return booking.ErrConflict
	}
	return err
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
