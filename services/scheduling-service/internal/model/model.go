package model

import (
	"encoding/json"
	"time"
)

// BookingStatus is a closed enumeration. New states require updating the
// transition table in CanTransition.
type BookingStatus string

const (
	StatusPending   BookingStatus = "PENDING"
	StatusAccepted  BookingStatus = "ACCEPTED"
	StatusRejected  BookingStatus = "REJECTED"
	StatusCancelled BookingStatus = "CANCELLED"
)

func ParseBookingStatus(s string) (BookingStatus, bool) {
	switch BookingStatus(s) {
	case StatusPending, StatusAccepted, StatusRejected, StatusCancelled:
		return BookingStatus(s), true
	}
	return "", false
}

// Terminal reports whether no further transitions are allowed out of s.
func (s BookingStatus) Terminal() bool {
	return s == StatusRejected || s == StatusCancelled
}

// CanTransition enumerates the legal edges of the booking state machine:
// PENDING may be accepted, rejected or cancelled; ACCEPTED may only be
// cancelled. Terminal states have no outgoing edges.
func CanTransition(from, to BookingStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusAccepted || to == StatusRejected || to == StatusCancelled
	case StatusAccepted:
		return to == StatusCancelled
	default:
		return false
	}
}

// AvailabilityConfig is a host's working-hours profile. Start and end are
// minutes from local midnight in TimeZone; Start < End always holds for
// persisted rows.
type AvailabilityConfig struct {
	HostID            int64
	TimeZone          string
	StartOfDayMinutes int
	EndOfDayMinutes   int
	BufferMinutes     int
	WeekStart         string
}

type EventType struct {
	ID                   int64
	HostID               int64
	Title                string
	Slug                 string
	Description          string
	Position             int
	DurationMinutes      int
	Hidden               bool
	RequiresConfirmation bool
	MinimumNoticeMinutes int
	BeforeBufferMinutes  int
	AfterBufferMinutes   int
	PriceCents           int
	Currency             string
}

func (e EventType) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

type Booking struct {
	ID           int64
	UID          string
	HostID       int64
	EventTypeID  int64
	Title        string
	Description  string
	StartTime    time.Time
	EndTime      time.Time
	Status       BookingStatus
	CancelReason string
	Metadata     json.RawMessage
	Responses    json.RawMessage
	CreatedAt    time.Time
}

type Attendee struct {
	ID        int64
	BookingID int64
	Email     string
	Name      string
	TimeZone  string
	NoShow    bool
}

// HostProfile is the public-facing subset of a user row.
type HostProfile struct {
	ID       int64
	Username string
	Name     string
	Bio      string
	Avatar   string
	TimeZone string
}
