package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qkeluna/qclickin/services/scheduling-service/internal/availability"
	"github.com/qkeluna/qclickin/services/scheduling-service/internal/model"
	"github.com/qkeluna/qclickin/services/scheduling-service/internal/outbox"
)

// conflictLookaround pads the booking-listing window so that bookings whose
// buffered interval reaches into the candidate are always loaded.
const conflictLookaround = 24 * time.Hour

// Service owns the booking state machine: creation, confirmation,
// rescheduling and cancellation, with conflict detection against the host's
// ACCEPTED bookings.
type Service struct {
	repo    Repository
	nowFunc func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, nowFunc: time.Now}
}

type AttendeeInput struct {
	Email    string
	Name     string
	TimeZone string
}

type CreateRequest struct {
	EventTypeID int64
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	Attendee    AttendeeInput
	Metadata    json.RawMessage
	Responses   json.RawMessage
}

// Create validates the request against the event type, runs the buffered
// overlap check against the host's ACCEPTED bookings, and persists the
// booking together with its attendee. Initial status is ACCEPTED unless the
// event type requires confirmation.
func (s *Service) Create(ctx context.Context, req CreateRequest) (model.Booking, error) {
	et, err := s.repo.GetEventType(ctx, req.EventTypeID)
	if err != nil {
		return model.Booking{}, err
	}

	now := s.nowFunc().UTC()
	start := req.Start.UTC()
	end := req.End.UTC()
	if err := validateInterval(start, end, et, now); err != nil {
		return model.Booking{}, err
	}
	if strings.TrimSpace(req.Attendee.Email) == "" {
		return model.Booking{}, validationf("attendee email is required")
	}
	if strings.TrimSpace(req.Attendee.Name) == "" {
		return model.Booking{}, validationf("attendee name is required")
	}
	attendeeTZ := strings.TrimSpace(req.Attendee.TimeZone)
	if attendeeTZ == "" {
		attendeeTZ = "UTC"
	}

	status := model.StatusAccepted
	if et.RequiresConfirmation {
		status = model.StatusPending
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = fmt.Sprintf("%s with %s", et.Title, strings.TrimSpace(req.Attendee.Name))
	}

	var out model.Booking
	err = s.repo.InTx(ctx, et.HostID, func(r Repository) error {
		if err := s.checkConflict(ctx, r, et.HostID, availability.Interval{Start: start, End: end}, 0); err != nil {
			return err
		}

		b := &model.Booking{
			UID:         uuid.NewString(),
			HostID:      et.HostID,
			EventTypeID: et.ID,
			Title:       title,
			Description: strings.TrimSpace(req.Description),
			StartTime:   start,
			EndTime:     end,
			Status:      status,
			Metadata:    req.Metadata,
			Responses:   req.Responses,
		}
		a := &model.Attendee{
			Email:    strings.TrimSpace(req.Attendee.Email),
			Name:     strings.TrimSpace(req.Attendee.Name),
			TimeZone: attendeeTZ,
		}
		if err := r.CreateBookingWithAttendee(ctx, b, a); err != nil {
			return err
		}

		payload, err := bookingPayload(*b, et, map[string]any{
			"attendee_email": a.Email,
			"attendee_name":  a.Name,
		})
		if err != nil {
			return err
		}
		if err := r.RecordEvent(ctx, outbox.Event{
			AggregateType: "booking",
			AggregateID:   b.UID,
			EventType:     outbox.TopicBookingCreated,
			Payload:       payload,
		}); err != nil {
			return err
		}
		out = *b
		return nil
	})
	if err != nil {
		return model.Booking{}, err
	}
	return out, nil
}

// Transition moves a booking along one of the legal state-machine edges.
// Confirming re-runs the conflict check so two pending bookings for the same
// interval cannot both become ACCEPTED.
func (s *Service) Transition(ctx context.Context, bookingID int64, next model.BookingStatus) (model.Booking, error) {
	return s.transition(ctx, bookingID, next, "")
}

// Cancel is a convenience wrapper over Transition(CANCELLED) that records
// the caller-supplied reason.
func (s *Service) Cancel(ctx context.Context, bookingID int64, reason string) (model.Booking, error) {
	return s.transition(ctx, bookingID, model.StatusCancelled, strings.TrimSpace(reason))
}

func (s *Service) transition(ctx context.Context, bookingID int64, next model.BookingStatus, reason string) (model.Booking, error) {
	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return model.Booking{}, err
	}
	if !model.CanTransition(b.Status, next) {
		return model.Booking{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, next)
	}
	et, err := s.repo.GetEventType(ctx, b.EventTypeID)
	if err != nil {
		return model.Booking{}, err
	}

	var out model.Booking
	err = s.repo.InTx(ctx, b.HostID, func(r Repository) error {
		if next == model.StatusAccepted {
			candidate := availability.Interval{Start: b.StartTime, End: b.EndTime}
			if err := s.checkConflict(ctx, r, b.HostID, candidate, b.ID); err != nil {
				return err
			}
		}

		updated, err := r.UpdateBookingStatus(ctx, b.ID, b.Status, next, reason)
		if err != nil {
			return err
		}

		extra := map[string]any{"previous_status": string(b.Status)}
		if reason != "" {
			extra["reason"] = reason
		}
		payload, err := bookingPayload(updated, et, extra)
		if err != nil {
			return err
		}
		if err := r.RecordEvent(ctx, outbox.Event{
			AggregateType: "booking",
			AggregateID:   updated.UID,
			EventType:     topicForStatus(next),
			Payload:       payload,
		}); err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return model.Booking{}, err
	}
	return out, nil
}

// Reschedule replaces the booking interval in place. Status is unchanged;
// terminal bookings cannot be rescheduled. The conflict check excludes the
// booking itself.
func (s *Service) Reschedule(ctx context.Context, bookingID int64, newStart, newEnd time.Time, reason string) (model.Booking, error) {
	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return model.Booking{}, err
	}
	if b.Status.Terminal() {
		return model.Booking{}, fmt.Errorf("%w: cannot reschedule a %s booking", ErrInvalidTransition, b.Status)
	}
	et, err := s.repo.GetEventType(ctx, b.EventTypeID)
	if err != nil {
		return model.Booking{}, err
	}

	start := newStart.UTC()
	end := newEnd.UTC()
	if !start.Before(end) {
		return model.Booking{}, validationf("start must be before end")
	}
	if end.Sub(start) != et.Duration() {
		return model.Booking{}, validationf("interval must be exactly %d minutes", et.DurationMinutes)
	}

	var out model.Booking
	err = s.repo.InTx(ctx, b.HostID, func(r Repository) error {
		if err := s.checkConflict(ctx, r, b.HostID, availability.Interval{Start: start, End: end}, b.ID); err != nil {
			return err
		}

		updated, err := r.UpdateBookingInterval(ctx, b.ID, start, end)
		if err != nil {
			return err
		}

		extra := map[string]any{
			"previous_start_time": b.StartTime.UTC().Format(time.RFC3339),
			"previous_end_time":   b.EndTime.UTC().Format(time.RFC3339),
		}
		if reason = strings.TrimSpace(reason); reason != "" {
			extra["reason"] = reason
		}
		payload, err := bookingPayload(updated, et, extra)
		if err != nil {
			return err
		}
		if err := r.RecordEvent(ctx, outbox.Event{
			AggregateType: "booking",
			AggregateID:   updated.UID,
			EventType:     outbox.TopicBookingRescheduled,
			Payload:       payload,
		}); err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return model.Booking{}, err
	}
	return out, nil
}

// checkConflict loads the host's ACCEPTED bookings around the candidate,
// expands them by their buffers, and rejects on half-open overlap.
func (s *Service) checkConflict(ctx context.Context, r Repository, hostID int64, candidate availability.Interval, excludeBookingID int64) error {
	cfg, err := r.GetAvailabilityConfig(ctx, hostID)
	if err != nil {
		return err
	}
	booked, err := r.ListAcceptedIntervals(ctx, hostID,
		candidate.Start.Add(-conflictLookaround),
		candidate.End.Add(conflictLookaround),
		excludeBookingID,
	)
	if err != nil {
		return err
	}
	if availability.OverlapsAny(candidate, availability.BusyIntervals(booked, cfg.BufferMinutes)) {
		return ErrConflict
	}
	return nil
}

func validateInterval(start, end time.Time, et model.EventType, now time.Time) error {
	if !start.Before(end) {
		return validationf("start must be before end")
	}
	if end.Sub(start) != et.Duration() {
		return validationf("interval must be exactly %d minutes", et.DurationMinutes)
	}
	if start.Before(now) {
		return validationf("cannot book into the past")
	}
	return nil
}

func bookingPayload(b model.Booking, et model.EventType, extra map[string]any) ([]byte, error) {
	payload := map[string]any{
		"booking_id":    b.ID,
		"uid":           b.UID,
		"host_id":       b.HostID,
		"event_type_id": b.EventTypeID,
		"title":         b.Title,
		"start_time":    b.StartTime.UTC().Format(time.RFC3339),
		"end_time":      b.EndTime.UTC().Format(time.RFC3339),
		"status":        string(b.Status),
		"price_cents":   et.PriceCents,
		"currency":      et.Currency,
	}
	for k, v := range extra {
		payload[k] = v
	}
	return json.Marshal(payload)
}

func topicForStatus(next model.BookingStatus) string {
	switch next {
	case model.StatusAccepted:
		return outbox.TopicBookingAccepted
	case model.StatusRejected:
		return outbox.TopicBookingRejected
	case model.StatusCancelled:
		return outbox.TopicBookingCancelled
	default:
		// CanTransition never lets PENDING through here.
		return outbox.TopicBookingCreated
	}
}
