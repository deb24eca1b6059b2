package reservation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	otelx "github.com/agenda-clinica/agenda/libs/otel"
	"github.com/agenda-clinica/agenda/services/booking-service/internal/model"
	"github.com/agenda-clinica/agenda/services/booking-service/internal/outbox"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Engine runs the slot reservation protocol. Every operation is one store
// transaction; the engine itself keeps no state between calls.
//
// Lock order is fixed: idempotency key, then slot, for Reserve; appointment
// then slot for Cancel and Delete; appointment, old slot, new slot for
// Reschedule.
type Engine struct {
	store  Store
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

func NewEngine(store Store, logger *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: logger,
		tracer: otelx.Tracer("booking-service/reservation"),
		now:    time.Now,
	}
}

type ReserveRequest struct {
	SlotID       int64
	PatientName  string
	PatientPhone string
	Notes        string

	// IdempotencyKey is optional. Keys are unique per Scope.
	IdempotencyKey string
	Scope          string
}

// fingerprint identifies the booking a key was first used for. A key reused
// with a different body must not replay someone else's appointment.
func (r ReserveRequest) fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%d\x00%s\x00%s\x00%s", r.SlotID, r.PatientName, r.PatientPhone, strings.TrimSpace(r.Notes))
	return hex.EncodeToString(h.Sum(nil))
}

type ReserveResult struct {
	Appointment model.Appointment
	// Replayed is set when the result was stored by an earlier call with the
	// same idempotency key.
	Replayed bool
}

type CancelResult struct {
	CanceledID int64 `json:"canceled_id"`
}

type RescheduleResult struct {
	CanceledID     int64             `json:"canceled_id"`
	NewAppointment model.Appointment `json:"new_appointment"`
}

type DeleteResult struct {
	DeletedID int64 `json:"deleted_id"`
}

// Reserve books a slot for a patient.
func (e *Engine) Reserve(ctx context.Context, req ReserveRequest) (res ReserveResult, err error) {
	ctx, span := e.tracer.Start(ctx, "reservation.Reserve", trace.WithAttributes(
		attribute.Int64("slot.id", req.SlotID),
		attribute.Bool("idempotent", req.IdempotencyKey != ""),
	))
	defer func() { endSpan(span, err) }()

	req.PatientName = strings.TrimSpace(req.PatientName)
	req.PatientPhone = strings.TrimSpace(req.PatientPhone)
	if req.SlotID <= 0 || req.PatientName == "" || req.PatientPhone == "" {
		return ReserveResult{}, invalid("Campos obrigatórios: slot_id, patient_name, patient_phone")
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return ReserveResult{}, storeErr("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if req.IdempotencyKey != "" {
		rec, err := tx.LockIdempotencyKey(ctx, req.Scope, req.IdempotencyKey)
		if err != nil {
			return ReserveResult{}, storeErr("lock idempotency key", err)
		}
		if rec.Completed() {
			if rec.RequestHash != req.fingerprint() {
				return ReserveResult{}, conflict("Idempotency-Key reutilizada com outro pedido")
			}
			return replay(rec)
		}
	}

	appt, err := e.reserveLocked(ctx, tx, req)
	if err != nil {
		var de *Error
		if req.IdempotencyKey != "" && errors.As(err, &de) && de.replayable() {
			e.recordFailure(ctx, tx, req, de)
		}
		return ReserveResult{}, err
	}

	if req.IdempotencyKey != "" {
		payload, err := json.Marshal(appt)
		if err != nil {
			return ReserveResult{}, fmt.Errorf("encode idempotent response: %w", err)
		}
		if err := tx.FinalizeIdempotency(ctx, IdempotencyRecord{
			Scope:         req.Scope,
			Key:           req.IdempotencyKey,
			AppointmentID: appt.ID,
			Outcome:       OutcomeCreated,
			Payload:       payload,
			RequestHash:   req.fingerprint(),
		}); err != nil {
			return ReserveResult{}, storeErr("finalize idempotency key", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return ReserveResult{}, storeErr("commit", err)
	}

	e.logger.Info("appointment reserved", "appointment_id", appt.ID, "slot_id", appt.SlotID)
	return ReserveResult{Appointment: appt}, nil
}

func (e *Engine) reserveLocked(ctx context.Context, tx Tx, req ReserveRequest) (model.Appointment, error) {
	slot, found, err := tx.LockSlot(ctx, req.SlotID)
	if err != nil {
		return model.Appointment{}, storeErr("lock slot", err)
	}
	if !found {
		return model.Appointment{}, notFound("Slot não encontrado")
	}
	if !slot.Available {
		return model.Appointment{}, conflict("Horário indisponível")
	}

	// The available flag and the active-appointment rows are checked
	// separately; a stale flag must not let a second booking through.
	busy, err := tx.HasActiveAppointment(ctx, slot.ID)
	if err != nil {
		return model.Appointment{}, storeErr("check active appointment", err)
	}
	if busy {
		return model.Appointment{}, conflict("Horário já foi agendado")
	}

	appt, err := tx.InsertAppointment(ctx, model.NewAppointment{
		SlotID:       slot.ID,
		PatientName:  req.PatientName,
		PatientPhone: req.PatientPhone,
		Notes:        optionalNotes(req.Notes),
	})
	if err != nil {
		// The partial unique index is the last line: it catches any booking
		// the row lock did not serialize.
		if errors.Is(err, ErrSlotTaken) {
			return model.Appointment{}, &Error{
				Kind:    KindConflict,
				Message: "Horário já foi agendado. Atualize a página e escolha outro horário.",
				Err:     err,
			}
		}
		return model.Appointment{}, storeErr("insert appointment", err)
	}

	if err := tx.SetSlotAvailable(ctx, slot.ID, false); err != nil {
		return model.Appointment{}, storeErr("occupy slot", err)
	}

	if err := e.appendEvent(ctx, tx, outbox.EventAppointmentBooked, appt.ID, bookedEvent{
		AppointmentID: appt.ID,
		SlotID:        appt.SlotID,
		Status:        appt.Status,
		OccurredAt:    e.now().UTC(),
	}); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func (e *Engine) recordFailure(ctx context.Context, tx Tx, req ReserveRequest, de *Error) {
	err := tx.FinalizeIdempotency(ctx, IdempotencyRecord{
		Scope:       req.Scope,
		Key:         req.IdempotencyKey,
		Outcome:     de.Kind.String(),
		Message:     de.Message,
		RequestHash: req.fingerprint(),
	})
	if err == nil {
		err = tx.Commit(ctx)
	}
	if err != nil {
		e.logger.Warn("failed to record idempotent failure", "err", err)
	}
}

func replay(rec IdempotencyRecord) (ReserveResult, error) {
	if rec.Outcome != OutcomeCreated {
		kind := parseKind(rec.Outcome)
		if kind == 0 {
			return ReserveResult{}, fmt.Errorf("unknown idempotency outcome %q", rec.Outcome)
		}
		return ReserveResult{}, &Error{Kind: kind, Message: rec.Message}
	}
	var appt model.Appointment
	if err := json.Unmarshal(rec.Payload, &appt); err != nil {
		return ReserveResult{}, fmt.Errorf("decode idempotent response: %w", err)
	}
	return ReserveResult{Appointment: appt, Replayed: true}, nil
}

// Cancel marks an appointment CANCELED and frees its slot. Canceling twice is
// a conflict.
func (e *Engine) Cancel(ctx context.Context, appointmentID int64) (res CancelResult, err error) {
	ctx, span := e.tracer.Start(ctx, "reservation.Cancel", trace.WithAttributes(
		attribute.Int64("appointment.id", appointmentID),
	))
	defer func() { endSpan(span, err) }()

	if appointmentID <= 0 {
		return CancelResult{}, invalid("Informe :id")
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return CancelResult{}, storeErr("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, found, err := tx.LockAppointment(ctx, appointmentID)
	if err != nil {
		return CancelResult{}, storeErr("lock appointment", err)
	}
	if !found {
		return CancelResult{}, notFound("Agendamento não encontrado")
	}
	if appt.Status == model.StatusCanceled {
		return CancelResult{}, conflict("Agendamento já está cancelado")
	}

	if err := tx.SetAppointmentStatus(ctx, appt.ID, model.StatusCanceled); err != nil {
		return CancelResult{}, storeErr("cancel appointment", err)
	}
	if err := tx.SetSlotAvailable(ctx, appt.SlotID, true); err != nil {
		return CancelResult{}, storeErr("free slot", err)
	}
	if err := e.appendEvent(ctx, tx, outbox.EventAppointmentCanceled, appt.ID, slotEvent{
		AppointmentID: appt.ID,
		SlotID:        appt.SlotID,
		OccurredAt:    e.now().UTC(),
	}); err != nil {
		return CancelResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return CancelResult{}, storeErr("commit", err)
	}

	e.logger.Info("appointment canceled", "appointment_id", appt.ID, "slot_id", appt.SlotID)
	return CancelResult{CanceledID: appt.ID}, nil
}

// Reschedule cancels an appointment and books the same patient into another
// slot as a single unit.
func (e *Engine) Reschedule(ctx context.Context, appointmentID, newSlotID int64) (res RescheduleResult, err error) {
	ctx, span := e.tracer.Start(ctx, "reservation.Reschedule", trace.WithAttributes(
		attribute.Int64("appointment.id", appointmentID),
		attribute.Int64("slot.new_id", newSlotID),
	))
	defer func() { endSpan(span, err) }()

	if appointmentID <= 0 {
		return RescheduleResult{}, invalid("appointment_id inválido")
	}
	if newSlotID <= 0 {
		return RescheduleResult{}, invalid("new_slot_id inválido")
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return RescheduleResult{}, storeErr("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	old, found, err := tx.LockAppointment(ctx, appointmentID)
	if err != nil {
		return RescheduleResult{}, storeErr("lock appointment", err)
	}
	if !found {
		return RescheduleResult{}, notFound("Agendamento antigo não encontrado")
	}
	if old.Status == model.StatusCanceled {
		return RescheduleResult{}, conflict("Agendamento antigo já está cancelado")
	}
	if old.SlotID == newSlotID {
		return RescheduleResult{}, conflict("Novo horário deve ser diferente do atual")
	}

	if _, found, err := tx.LockSlot(ctx, old.SlotID); err != nil {
		return RescheduleResult{}, storeErr("lock old slot", err)
	} else if !found {
		return RescheduleResult{}, notFound("Slot antigo não encontrado")
	}

	newSlot, found, err := tx.LockSlot(ctx, newSlotID)
	if err != nil {
		return RescheduleResult{}, storeErr("lock new slot", err)
	}
	if !found {
		return RescheduleResult{}, notFound("Novo horário (slot) não encontrado")
	}
	if !newSlot.Available {
		return RescheduleResult{}, conflict("Novo horário indisponível")
	}
	busy, err := tx.HasActiveAppointment(ctx, newSlot.ID)
	if err != nil {
		return RescheduleResult{}, storeErr("check active appointment", err)
	}
	if busy {
		return RescheduleResult{}, conflict("Novo horário já foi agendado")
	}

	if err := tx.SetAppointmentStatus(ctx, old.ID, model.StatusCanceled); err != nil {
		return RescheduleResult{}, storeErr("cancel old appointment", err)
	}
	if err := tx.SetSlotAvailable(ctx, old.SlotID, true); err != nil {
		return RescheduleResult{}, storeErr("free old slot", err)
	}

	created, err := tx.InsertAppointment(ctx, model.NewAppointment{
		SlotID:       newSlot.ID,
		PatientName:  old.PatientName,
		PatientPhone: old.PatientPhone,
		Notes:        old.Notes,
	})
	if err != nil {
		if errors.Is(err, ErrSlotTaken) {
			return RescheduleResult{}, &Error{
				Kind:    KindConflict,
				Message: "Novo horário já foi agendado. Atualize e tente outro.",
				Err:     err,
			}
		}
		return RescheduleResult{}, storeErr("insert appointment", err)
	}
	if err := tx.SetSlotAvailable(ctx, newSlot.ID, false); err != nil {
		return RescheduleResult{}, storeErr("occupy new slot", err)
	}

	if err := e.appendEvent(ctx, tx, outbox.EventAppointmentRescheduled, created.ID, rescheduledEvent{
		CanceledID:       old.ID,
		OldSlotID:        old.SlotID,
		NewAppointmentID: created.ID,
		NewSlotID:        created.SlotID,
		OccurredAt:       e.now().UTC(),
	}); err != nil {
		return RescheduleResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return RescheduleResult{}, storeErr("commit", err)
	}

	e.logger.Info("appointment rescheduled",
		"canceled_id", old.ID,
		"old_slot_id", old.SlotID,
		"appointment_id", created.ID,
		"slot_id", created.SlotID,
	)
	return RescheduleResult{CanceledID: old.ID, NewAppointment: created}, nil
}

// Delete purges a CANCELED appointment.
func (e *Engine) Delete(ctx context.Context, appointmentID int64) (res DeleteResult, err error) {
	ctx, span := e.tracer.Start(ctx, "reservation.Delete", trace.WithAttributes(
		attribute.Int64("appointment.id", appointmentID),
	))
	defer func() { endSpan(span, err) }()

	if appointmentID <= 0 {
		return DeleteResult{}, invalid("Informe :id")
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return DeleteResult{}, storeErr("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, found, err := tx.LockAppointment(ctx, appointmentID)
	if err != nil {
		return DeleteResult{}, storeErr("lock appointment", err)
	}
	if !found {
		return DeleteResult{}, notFound("Agendamento não encontrado")
	}
	if appt.Status != model.StatusCanceled {
		return DeleteResult{}, conflict("Só pode excluir cancelados")
	}

	if err := tx.DeleteAppointment(ctx, appt.ID); err != nil {
		return DeleteResult{}, storeErr("delete appointment", err)
	}

	// The slot may already hold a newer booking; only repair it when no
	// active appointment is bound.
	slot, found, err := tx.LockSlot(ctx, appt.SlotID)
	if err != nil {
		return DeleteResult{}, storeErr("lock slot", err)
	}
	if found && !slot.Available {
		busy, err := tx.HasActiveAppointment(ctx, slot.ID)
		if err != nil {
			return DeleteResult{}, storeErr("check active appointment", err)
		}
		if !busy {
			if err := tx.SetSlotAvailable(ctx, slot.ID, true); err != nil {
				return DeleteResult{}, storeErr("free slot", err)
			}
			e.logger.Warn("slot was unavailable without an active appointment", "slot_id", slot.ID)
		}
	}

	if err := e.appendEvent(ctx, tx, outbox.EventAppointmentDeleted, appt.ID, slotEvent{
		AppointmentID: appt.ID,
		SlotID:        appt.SlotID,
		OccurredAt:    e.now().UTC(),
	}); err != nil {
		return DeleteResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return DeleteResult{}, storeErr("commit", err)
	}

	e.logger.Info("appointment deleted", "appointment_id", appt.ID, "slot_id", appt.SlotID)
	return DeleteResult{DeletedID: appt.ID}, nil
}

func (e *Engine) appendEvent(ctx context.Context, tx Tx, eventType string, aggregateID int64, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", eventType, err)
	}
	if err := tx.AppendEvent(ctx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   strconv.FormatInt(aggregateID, 10),
		EventType:     eventType,
		Payload:       body,
	}); err != nil {
		return storeErr("append "+eventType, err)
	}
	return nil
}

func optionalNotes(notes string) *string {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil
	}
	return &notes
}

// endSpan marks the span failed only for errors a caller cannot fix by
// changing the request.
func endSpan(span trace.Span, err error) {
	if err != nil {
		var de *Error
		if errors.As(err, &de) {
			span.SetAttributes(attribute.String("reservation.outcome", de.Kind.String()))
		}
		if de == nil || de.Kind == KindTransient {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}
