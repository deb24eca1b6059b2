package reservation

import (
	"time"

	"github.com/agenda-clinica/agenda/services/booking-service/internal/model"
)

// Event payloads carry ids only; patient contact data stays in the database.

type bookedEvent struct {
	AppointmentID int64        `json:"appointment_id"`
	SlotID        int64        `json:"slot_id"`
	Status        model.Status `json:"status"`
	OccurredAt    time.Time    `json:"occurred_at"`
}

type slotEvent struct {
	AppointmentID int64     `json:"appointment_id"`
	SlotID        int64     `json:"slot_id"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type rescheduledEvent struct {
	CanceledID       int64     `json:"canceled_id"`
	OldSlotID        int64     `json:"old_slot_id"`
	NewAppointmentID int64     `json:"new_appointment_id"`
	NewSlotID        int64     `json:"new_slot_id"`
	OccurredAt       time.Time `json:"occurred_at"`
}
