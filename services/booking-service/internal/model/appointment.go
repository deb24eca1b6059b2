package model

import (
	"fmt"
	"time"
)

// Status is the appointment lifecycle state. CONFIRMED is the only active state.
type Status string

const (
	StatusConfirmed Status = "CONFIRMED"
	StatusCanceled  Status = "CANCELED"
)

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusConfirmed, StatusCanceled:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown appointment status %q", s)
	}
}

func (s Status) Active() bool {
	return s != StatusCanceled
}

type Appointment struct {
	ID           int64     `json:"id"`
	SlotID       int64     `json:"slot_id"`
	PatientName  string    `json:"patient_name"`
	PatientPhone string    `json:"patient_phone"`
	Notes        *string   `json:"notes"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewAppointment is the input for inserting a CONFIRMED appointment.
type NewAppointment struct {
	SlotID       int64
	PatientName  string
	PatientPhone string
	Notes        *string
}

// AppointmentListing is an appointment joined with its slot and service, as
// returned by the listing endpoints.
type AppointmentListing struct {
	ID              int64     `json:"id"`
	Status          Status    `json:"status"`
	PatientName     string    `json:"patient_name"`
	PatientPhone    string    `json:"patient_phone"`
	Notes           *string   `json:"notes"`
	CreatedAt       time.Time `json:"created_at"`
	SlotID          int64     `json:"slot_id"`
	SlotDate        string    `json:"slot_date"`
	SlotTime        string    `json:"slot_time"`
	ServiceID       int64     `json:"service_id"`
	ServiceName     string    `json:"service_name"`
	DurationMinutes int       `json:"duration_minutes"`
	Location        string    `json:"location"`
}

// AppointmentFilter narrows a listing. Nil fields are not applied.
type AppointmentFilter struct {
	Date   *time.Time
	From   *time.Time
	To     *time.Time
	Status *Status
	Phone  string
}

// PhoneDigits strips everything but ASCII digits, the form phones are
// compared in.
func PhoneDigits(phone string) string {
	b := make([]byte, 0, len(phone))
	for i := 0; i < len(phone); i++ {
		if c := phone[i]; c >= '0' && c <= '9' {
			b = append(b, c)
		}
	}
	return string(b)
}
