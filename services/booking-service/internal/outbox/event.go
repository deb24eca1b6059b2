package outbox

// Event types written by the reservation engine. The Kafka topic name equals
// the event type.
const (
	EventAppointmentBooked      = "appointment.booked.v1"
	EventAppointmentCanceled    = "appointment.canceled.v1"
	EventAppointmentRescheduled = "appointment.rescheduled.v1"
	EventAppointmentDeleted     = "appointment.deleted.v1"
)

// Event is the domain event envelope written to the outbox table.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}
