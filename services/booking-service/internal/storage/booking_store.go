package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agenda-clinica/agenda/libs/db"
	"github.com/agenda-clinica/agenda/services/booking-service/internal/model"
	"github.com/agenda-clinica/agenda/services/booking-service/internal/outbox"
	"github.com/agenda-clinica/agenda/services/booking-service/internal/reservation"
	"github.com/jackc/pgx/v5"
)

// ActiveAppointmentIndex is the partial unique index that backs the
// one-active-appointment-per-slot rule.
const ActiveAppointmentIndex = "appointments_one_active_per_slot"

// BookingStore is the Postgres implementation of reservation.Store.
type BookingStore struct {
	pool        *db.Pool
	outbox      *outbox.Repository
	lockTimeout time.Duration
}

func NewBookingStore(pool *db.Pool, outboxRepo *outbox.Repository, lockTimeout time.Duration) *BookingStore {
	return &BookingStore{pool: pool, outbox: outboxRepo, lockTimeout: lockTimeout}
}

// Begin opens a READ COMMITTED transaction whose row lock waits are capped at
// the configured lock timeout.
func (s *BookingStore) Begin(ctx context.Context) (reservation.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, classify(err)
	}
	if s.lockTimeout > 0 {
		timeout := fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
			_ = tx.Rollback(ctx)
			return nil, classify(err)
		}
	}
	return &bookingTx{tx: tx, outbox: s.outbox}, nil
}

// classify tags driver errors with the sentinels the engine understands.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err, ActiveAppointmentIndex):
		return fmt.Errorf("%w: %w", reservation.ErrSlotTaken, err)
	case db.IsTransient(err):
		return fmt.Errorf("%w: %w", reservation.ErrTransient, err)
	default:
		return err
	}
}

type bookingTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (t *bookingTx) LockSlot(ctx context.Context, slotID int64) (model.Slot, bool, error) {
	var sl model.Slot
	err := t.tx.QueryRow(ctx, `
		SELECT id, service_id, slot_date::text, slot_time::text, available
		FROM slots
		WHERE id = $1
		FOR UPDATE
	`, slotID).Scan(&sl.ID, &sl.ServiceID, &sl.Date, &sl.Time, &sl.Available)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Slot{}, false, nil
	}
	if err != nil {
		return model.Slot{}, false, classify(err)
	}
	return sl, true, nil
}

func (t *bookingTx) HasActiveAppointment(ctx context.Context, slotID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE slot_id = $1 AND status <> 'CANCELED'
		)
	`, slotID).Scan(&exists)
	return exists, classify(err)
}

func (t *bookingTx) SetSlotAvailable(ctx context.Context, slotID int64, available bool) error {
	_, err := t.tx.Exec(ctx, `UPDATE slots SET available = $2 WHERE id = $1`, slotID, available)
	return classify(err)
}

func (t *bookingTx) LockAppointment(ctx context.Context, id int64) (model.Appointment, bool, error) {
	appt, err := scanAppointment(t.tx.QueryRow(ctx, `
		SELECT id, slot_id, patient_name, patient_phone, notes, status, created_at
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, false, nil
	}
	if err != nil {
		return model.Appointment{}, false, classify(err)
	}
	return appt, true, nil
}

func (t *bookingTx) InsertAppointment(ctx context.Context, in model.NewAppointment) (model.Appointment, error) {
	appt, err := scanAppointment(t.tx.QueryRow(ctx, `
		INSERT INTO appointments (slot_id, patient_name, patient_phone, notes, status)
		VALUES ($1, $2, $3, $4, 'CONFIRMED')
		RETURNING id, slot_id, patient_name, patient_phone, notes, status, created_at
	`, in.SlotID, in.PatientName, in.PatientPhone, in.Notes))
	if err != nil {
		return model.Appointment{}, classify(err)
	}
	return appt, nil
}

func (t *bookingTx) SetAppointmentStatus(ctx context.Context, id int64, status model.Status) error {
	_, err := t.tx.Exec(ctx, `UPDATE appointments SET status = $2 WHERE id = $1`, id, string(status))
	return classify(err)
}

func (t *bookingTx) DeleteAppointment(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	return classify(err)
}

func (t *bookingTx) AppendEvent(ctx context.Context, evt outbox.Event) error {
	return classify(t.outbox.Insert(ctx, t.tx, evt))
}

func (t *bookingTx) LockIdempotencyKey(ctx context.Context, scope, key string) (reservation.IdempotencyRecord, error) {
	rec, err := t.selectIdempotencyForUpdate(ctx, scope, key)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return reservation.IdempotencyRecord{}, classify(err)
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (scope, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (scope, idempotency_key) DO NOTHING
	`, scope, key)
	if err != nil {
		return reservation.IdempotencyRecord{}, classify(err)
	}

	rec, err = t.selectIdempotencyForUpdate(ctx, scope, key)
	if err != nil {
		return reservation.IdempotencyRecord{}, classify(err)
	}
	return rec, nil
}

func (t *bookingTx) FinalizeIdempotency(ctx context.Context, rec reservation.IdempotencyRecord) error {
	var apptID *int64
	if rec.AppointmentID > 0 {
		apptID = &rec.AppointmentID
	}
	var payload []byte
	if len(rec.Payload) > 0 {
		payload = rec.Payload
	}
	_, err := t.tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = $3,
			outcome = $4,
			message = NULLIF($5, ''),
			response_payload = $6,
			request_hash = NULLIF($7, ''),
			updated_at = now()
		WHERE scope = $1 AND idempotency_key = $2
	`, rec.Scope, rec.Key, apptID, rec.Outcome, rec.Message, payload, rec.RequestHash)
	return classify(err)
}

func (t *bookingTx) selectIdempotencyForUpdate(ctx context.Context, scope, key string) (reservation.IdempotencyRecord, error) {
	var rec reservation.IdempotencyRecord
	var payload []byte
	err := t.tx.QueryRow(ctx, `
		SELECT scope,
			idempotency_key,
			COALESCE(appointment_id, 0),
			COALESCE(outcome, ''),
			COALESCE(message, ''),
			response_payload,
			COALESCE(request_hash, '')
		FROM booking_idempotency_keys
		WHERE scope = $1 AND idempotency_key = $2
		FOR UPDATE
	`, scope, key).Scan(
		&rec.Scope,
		&rec.Key,
		&rec.AppointmentID,
		&rec.Outcome,
		&rec.Message,
		&payload,
		&rec.RequestHash,
	)
	if err != nil {
		return reservation.IdempotencyRecord{}, err
	}
	rec.Payload = payload
	return rec, nil
}

func (t *bookingTx) Commit(ctx context.Context) error {
	return classify(t.tx.Commit(ctx))
}

func (t *bookingTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var status string
	err := row.Scan(
		&appt.ID,
		&appt.SlotID,
		&appt.PatientName,
		&appt.PatientPhone,
		&appt.Notes,
		&status,
		&appt.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Status = model.Status(status)
	return appt, nil
}

var (
	_ reservation.Store = (*BookingStore)(nil)
	_ reservation.Tx    = (*bookingTx)(nil)
)
