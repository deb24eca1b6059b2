package reservation

import (
	"context"

	"github.com/agenda-clinica/agenda/services/booking-service/internal/model"
	"github.com/agenda-clinica/agenda/services/booking-service/internal/outbox"
)

// Store opens transactions against the persistent store.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one storage transaction. Lock* methods take an exclusive row lock held
// until Commit or Rollback and report found=false for a missing row.
// Implementations wrap retryable failures (deadlock, lock timeout,
// serialization) with ErrTransient and a one-active-per-slot violation with
// ErrSlotTaken. Rollback after Commit is a no-op.
type Tx interface {
	LockSlot(ctx context.Context, slotID int64) (model.Slot, bool, error)
	HasActiveAppointment(ctx context.Context, slotID int64) (bool, error)
	SetSlotAvailable(ctx context.Context, slotID int64, available bool) error

	LockAppointment(ctx context.Context, id int64) (model.Appointment, bool, error)
	InsertAppointment(ctx context.Context, in model.NewAppointment) (model.Appointment, error)
	SetAppointmentStatus(ctx context.Context, id int64, status model.Status) error
	DeleteAppointment(ctx context.Context, id int64) error

	AppendEvent(ctx context.Context, evt outbox.Event) error

	// LockIdempotencyKey creates the key row if needed and locks it. A record
	// with an empty Outcome has not completed yet.
	LockIdempotencyKey(ctx context.Context, scope, key string) (IdempotencyRecord, error)
	FinalizeIdempotency(ctx context.Context, rec IdempotencyRecord) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Idempotency outcomes.
const (
	OutcomeCreated = "created"
)

type IdempotencyRecord struct {
	Scope         string
	Key           string
	AppointmentID int64
	Outcome       string
	Message       string
	Payload       []byte

	// RequestHash fingerprints the request that completed the key.
	RequestHash string
}

func (r IdempotencyRecord) Completed() bool {
	return r.Outcome != ""
}
