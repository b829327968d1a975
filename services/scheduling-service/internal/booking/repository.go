package booking

import (
	"context"
	"time"

	"github.com/qkeluna/qclickin/services/scheduling-service/internal/availability"
	"github.com/qkeluna/qclickin/services/scheduling-service/internal/model"
	"github.com/qkeluna/qclickin/services/scheduling-service/internal/outbox"
)

// Repository is the storage surface the lifecycle manager depends on. It is
// injected explicitly; the service holds no process-wide database state.
//
// InTx runs fn against a transaction-bound repository while holding a
// per-host lock, serializing the read-check-write sequence so two concurrent
// conflicting requests cannot both win. The storage implementation
// additionally maps overlap-exclusion violations to ErrConflict as a
// backstop.
type Repository interface {
	InTx(ctx context.Context, hostID int64, fn func(Repository) error) error

	GetAvailabilityConfig(ctx context.Context, hostID int64) (model.AvailabilityConfig, error)
	GetEventType(ctx context.Context, id int64) (model.EventType, error)
	GetBooking(ctx context.Context, id int64) (model.Booking, error)

	// ListAcceptedIntervals returns the host's ACCEPTED bookings whose raw
	// interval intersects [from, to), joined with their event-type buffer
	// configuration. excludeBookingID > 0 omits that booking (reschedule,
	// re-confirm).
	ListAcceptedIntervals(ctx context.Context, hostID int64, from, to time.Time, excludeBookingID int64) ([]availability.BusyBooking, error)

	// CreateBookingWithAttendee persists both rows atomically and fills in
	// generated ids.
	CreateBookingWithAttendee(ctx context.Context, b *model.Booking, a *model.Attendee) error

	// UpdateBookingStatus flips status only when the current status still
	// equals expected, returning ErrInvalidTransition when a concurrent
	// writer got there first.
	UpdateBookingStatus(ctx context.Context, id int64, expected, next model.BookingStatus, reason string) (model.Booking, error)

	// UpdateBookingInterval moves the booking in time. It refuses terminal
	// bookings with ErrInvalidTransition so a concurrent cancel or reject
	// that won the host lock first is never overwritten.
	UpdateBookingInterval(ctx context.Context, id int64, start, end time.Time) (model.Booking, error)

	// RecordEvent appends to the transactional outbox; within InTx it joins
	// the surrounding transaction.
	RecordEvent(ctx context.Context, evt outbox.Event) error
}
