package outbox

// Event is the booking lifecycle envelope written to the outbox table inside
// the same transaction as the state change. The Kafka topic name equals
// EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Topics emitted by the scheduling service.
const (
	TopicBookingCreated     = "booking.created.v1"
	TopicBookingAccepted    = "booking.accepted.v1"
	TopicBookingRejected    = "booking.rejected.v1"
	TopicBookingCancelled   = "booking.cancelled.v1"
	TopicBookingRescheduled = "booking.rescheduled.v1"
)
