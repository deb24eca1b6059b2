package reservation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/agenda-clinica/agenda/services/booking-service/internal/model"
	"github.com/agenda-clinica/agenda/services/booking-service/internal/outbox"
)

// memStore is an in-memory Store with row locks held until commit or
// rollback and the one-active-appointment-per-slot constraint. Writes apply
// in place and are undone on rollback; every written row is locked first, so
// no other transaction can observe them before commit.
type memStore struct {
	mu         sync.Mutex
	slots      map[int64]*model.Slot
	appts      map[int64]*model.Appointment
	nextApptID int64
	idem       map[string]*IdempotencyRecord
	events     []outbox.Event
	rowLocks   map[string]*sync.Mutex

	// failures maps a Tx method name to the error it returns.
	failures map[string]error
	// staleActiveCheck makes HasActiveAppointment always report false.
	staleActiveCheck bool
}

func newMemStore() *memStore {
	return &memStore{
		slots:    map[int64]*model.Slot{},
		appts:    map[int64]*model.Appointment{},
		idem:     map[string]*IdempotencyRecord{},
		rowLocks: map[string]*sync.Mutex{},
		failures: map[string]error{},
	}
}

func (s *memStore) addSlot(id int64, available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[id] = &model.Slot{ID: id, ServiceID: 1, Date: "2030-01-10", Time: "09:00:00", Available: available}
}

func (s *memStore) slot(id int64) model.Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.slots[id]
}

func (s *memStore) appt(id int64) (model.Appointment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, false
	}
	return *a, true
}

func (s *memStore) apptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.appts)
}

func (s *memStore) eventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

func (s *memStore) setFailure(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = err
}

// checkAvailability asserts that every slot is unavailable exactly when one
// active appointment is bound to it.
func (s *memStore) checkAvailability(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	active := map[int64]int{}
	for _, a := range s.appts {
		if a.Status.Active() {
			active[a.SlotID]++
		}
	}
	for id, sl := range s.slots {
		if active[id] > 1 {
			t.Fatalf("slot %d has %d active appointments", id, active[id])
		}
		if sl.Available == (active[id] == 1) {
			t.Fatalf("slot %d available=%v with %d active appointments", id, sl.Available, active[id])
		}
	}
}

func (s *memStore) rowLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.rowLocks[key]
	if m == nil {
		m = &sync.Mutex{}
		s.rowLocks[key] = m
	}
	return m
}

func (s *memStore) Begin(ctx context.Context) (Tx, error) {
	if err := s.fail("Begin"); err != nil {
		return nil, err
	}
	return &memTx{s: s, held: map[string]*sync.Mutex{}}, nil
}

func (s *memStore) fail(method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[method]
}

type memTx struct {
	s      *memStore
	held   map[string]*sync.Mutex
	undo   []func()
	events []outbox.Event
	done   bool
}

func (tx *memTx) lock(key string) {
	if _, ok := tx.held[key]; ok {
		return
	}
	m := tx.s.rowLock(key)
	m.Lock()
	tx.held[key] = m
}

func (tx *memTx) release() {
	for _, m := range tx.held {
		m.Unlock()
	}
	tx.held = nil
	tx.done = true
}

func slotKey(id int64) string { return fmt.Sprintf("slot:%d", id) }
func apptKey(id int64) string { return fmt.Sprintf("appt:%d", id) }

func (tx *memTx) LockSlot(ctx context.Context, slotID int64) (model.Slot, bool, error) {
	if err := tx.s.fail("LockSlot"); err != nil {
		return model.Slot{}, false, err
	}
	tx.s.mu.Lock()
	_, ok := tx.s.slots[slotID]
	tx.s.mu.Unlock()
	if !ok {
		return model.Slot{}, false, nil
	}
	tx.lock(slotKey(slotID))
	return tx.s.slot(slotID), true, nil
}

func (tx *memTx) HasActiveAppointment(ctx context.Context, slotID int64) (bool, error) {
	if err := tx.s.fail("HasActiveAppointment"); err != nil {
		return false, err
	}
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	if tx.s.staleActiveCheck {
		return false, nil
	}
	for _, a := range tx.s.appts {
		if a.SlotID == slotID && a.Status.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memTx) SetSlotAvailable(ctx context.Context, slotID int64, available bool) error {
	if err := tx.s.fail("SetSlotAvailable"); err != nil {
		return err
	}
	tx.lock(slotKey(slotID))
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	sl, ok := tx.s.slots[slotID]
	if !ok {
		return nil
	}
	prev := sl.Available
	sl.Available = available
	tx.undo = append(tx.undo, func() { sl.Available = prev })
	return nil
}

func (tx *memTx) LockAppointment(ctx context.Context, id int64) (model.Appointment, bool, error) {
	if err := tx.s.fail("LockAppointment"); err != nil {
		return model.Appointment{}, false, err
	}
	if _, ok := tx.s.appt(id); !ok {
		return model.Appointment{}, false, nil
	}
	tx.lock(apptKey(id))
	a, ok := tx.s.appt(id)
	return a, ok, nil
}

func (tx *memTx) InsertAppointment(ctx context.Context, in model.NewAppointment) (model.Appointment, error) {
	if err := tx.s.fail("InsertAppointment"); err != nil {
		return model.Appointment{}, err
	}
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	for _, a := range tx.s.appts {
		if a.SlotID == in.SlotID && a.Status.Active() {
			return model.Appointment{}, fmt.Errorf("insert appointment: %w", ErrSlotTaken)
		}
	}
	tx.s.nextApptID++
	a := &model.Appointment{
		ID:           tx.s.nextApptID,
		SlotID:       in.SlotID,
		PatientName:  in.PatientName,
		PatientPhone: in.PatientPhone,
		Notes:        in.Notes,
		Status:       model.StatusConfirmed,
		CreatedAt:    time.Now().UTC(),
	}
	tx.s.appts[a.ID] = a
	// New rows are invisible to other transactions' locks until commit; the
	// id is fresh so nobody else can contend for it.
	m := &sync.Mutex{}
	m.Lock()
	tx.s.rowLocks[apptKey(a.ID)] = m
	tx.held[apptKey(a.ID)] = m
	id := a.ID
	tx.undo = append(tx.undo, func() { delete(tx.s.appts, id) })
	return *a, nil
}

func (tx *memTx) SetAppointmentStatus(ctx context.Context, id int64, status model.Status) error {
	if err := tx.s.fail("SetAppointmentStatus"); err != nil {
		return err
	}
	tx.lock(apptKey(id))
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	a, ok := tx.s.appts[id]
	if !ok {
		return nil
	}
	prev := a.Status
	a.Status = status
	tx.undo = append(tx.undo, func() { a.Status = prev })
	return nil
}

func (tx *memTx) DeleteAppointment(ctx context.Context, id int64) error {
	if err := tx.s.fail("DeleteAppointment"); err != nil {
		return err
	}
	tx.lock(apptKey(id))
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	a, ok := tx.s.appts[id]
	if !ok {
		return nil
	}
	delete(tx.s.appts, id)
	tx.undo = append(tx.undo, func() { tx.s.appts[id] = a })
	return nil
}

func (tx *memTx) AppendEvent(ctx context.Context, evt outbox.Event) error {
	if err := tx.s.fail("AppendEvent"); err != nil {
		return err
	}
	tx.events = append(tx.events, evt)
	return nil
}

func (tx *memTx) LockIdempotencyKey(ctx context.Context, scope, key string) (IdempotencyRecord, error) {
	if err := tx.s.fail("LockIdempotencyKey"); err != nil {
		return IdempotencyRecord{}, err
	}
	k := scope + "|" + key
	tx.lock("idem:" + k)
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	rec, ok := tx.s.idem[k]
	if !ok {
		rec = &IdempotencyRecord{Scope: scope, Key: key}
		tx.s.idem[k] = rec
		tx.undo = append(tx.undo, func() { delete(tx.s.idem, k) })
	}
	return *rec, nil
}

func (tx *memTx) FinalizeIdempotency(ctx context.Context, rec IdempotencyRecord) error {
	if err := tx.s.fail("FinalizeIdempotency"); err != nil {
		return err
	}
	k := rec.Scope + "|" + rec.Key
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	cur, ok := tx.s.idem[k]
	if !ok {
		return errors.New("idempotency key not locked")
	}
	prev := *cur
	*cur = rec
	tx.undo = append(tx.undo, func() { *cur = prev })
	return nil
}

func (tx *memTx) Commit(ctx context.Context) error {
	if tx.done {
		return errors.New("tx closed")
	}
	if err := tx.s.fail("Commit"); err != nil {
		tx.rollback()
		return err
	}
	tx.s.mu.Lock()
	tx.s.events = append(tx.s.events, tx.events...)
	tx.s.mu.Unlock()
	tx.release()
	return nil
}

func (tx *memTx) Rollback(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.rollback()
	return nil
}

func (tx *memTx) rollback() {
	tx.s.mu.Lock()
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.s.mu.Unlock()
	tx.undo = nil
	tx.release()
}
