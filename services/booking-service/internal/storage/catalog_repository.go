package storage

import (
	"context"
	"strings"
	"time"

	"github.com/agenda-clinica/agenda/libs/db"
	"github.com/agenda-clinica/agenda/services/booking-service/internal/model"
	"github.com/jackc/pgx/v5"
)

// CatalogRepository serves the read-only queries: services, open slots and
// appointment listings.
type CatalogRepository struct {
	pool *db.Pool
}

func NewCatalogRepository(pool *db.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

func (r *CatalogRepository) ListServices(ctx context.Context) ([]model.Service, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, duration_minutes, location
		FROM services
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Service, error) {
		var s model.Service
		err := row.Scan(&s.ID, &s.Name, &s.DurationMinutes, &s.Location)
		return s, err
	})
}

func (r *CatalogRepository) GetService(ctx context.Context, id int64) (model.Service, error) {
	var s model.Service
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, duration_minutes, location
		FROM services
		WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &s.DurationMinutes, &s.Location)
	return s, err
}

func (r *CatalogRepository) DateRange(ctx context.Context, serviceID int64) (model.DateRange, error) {
	var dr model.DateRange
	err := r.pool.QueryRow(ctx, `
		SELECT MIN(slot_date)::text, MAX(slot_date)::text
		FROM slots
		WHERE service_id = $1
	`, serviceID).Scan(&dr.MinDate, &dr.MaxDate)
	return dr, err
}

// OpenSlots lists the slots of a service on one day that are flagged
// available and have no active appointment.
func (r *CatalogRepository) OpenSlots(ctx context.Context, serviceID int64, date time.Time) ([]model.OpenSlot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT sl.id, sl.slot_time::text
		FROM slots sl
		LEFT JOIN appointments ap
			ON ap.slot_id = sl.id AND ap.status <> 'CANCELED'
		WHERE sl.service_id = $1
			AND sl.slot_date = $2::date
			AND sl.available = TRUE
			AND ap.id IS NULL
		ORDER BY sl.slot_time
	`, serviceID, date)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.OpenSlot, error) {
		var s model.OpenSlot
		err := row.Scan(&s.ID, &s.SlotTime)
		return s, err
	})
}

const listingColumns = `
	ap.id, ap.status, ap.patient_name, ap.patient_phone, ap.notes, ap.created_at,
	sl.id, sl.slot_date::text, sl.slot_time::text,
	sv.id, sv.name, sv.duration_minutes, sv.location
`

// ListByPhone returns a patient's active appointments between from and to,
// defaulting to today through three months ahead. phoneDigits must already
// be normalized.
func (r *CatalogRepository) ListByPhone(ctx context.Context, phoneDigits string, from, to *time.Time) ([]model.AppointmentListing, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+listingColumns+`
		FROM appointments ap
		JOIN slots sl ON sl.id = ap.slot_id
		JOIN services sv ON sv.id = sl.service_id
		WHERE regexp_replace(ap.patient_phone, '\D', '', 'g') = $1
			AND ap.status <> 'CANCELED'
			AND sl.slot_date >= COALESCE($2::date, CURRENT_DATE)
			AND sl.slot_date <= COALESCE($3::date, (CURRENT_DATE + INTERVAL '3 months')::date)
		ORDER BY sl.slot_date ASC, sl.slot_time ASC
	`, phoneDigits, from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanListing)
}

// ListAdmin returns appointments from today on, narrowed by f. Unlike the
// public listing it includes CANCELED rows unless a status is given.
func (r *CatalogRepository) ListAdmin(ctx context.Context, f model.AppointmentFilter) ([]model.AppointmentListing, error) {
	var status *string
	if f.Status != nil {
		s := string(*f.Status)
		status = &s
	}
	phone := phoneFilter(f.Phone)
	rows, err := r.pool.Query(ctx, `
		SELECT `+listingColumns+`
		FROM appointments ap
		JOIN slots sl ON sl.id = ap.slot_id
		JOIN services sv ON sv.id = sl.service_id
		WHERE sl.slot_date >= CURRENT_DATE
			AND ($1::date IS NULL OR sl.slot_date = $1::date)
			AND ($2::date IS NULL OR sl.slot_date >= $2::date)
			AND ($3::date IS NULL OR sl.slot_date <= $3::date)
			AND ($4::text IS NULL OR ap.status = $4::text)
			AND ($5::text IS NULL OR regexp_replace(ap.patient_phone, '\D', '', 'g') = $5::text)
		ORDER BY sl.slot_date ASC, sl.slot_time ASC
	`, f.Date, f.From, f.To, status, phone)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanListing)
}

func scanListing(row pgx.CollectableRow) (model.AppointmentListing, error) {
	var l model.AppointmentListing
	var status string
	err := row.Scan(
		&l.ID, &status, &l.PatientName, &l.PatientPhone, &l.Notes, &l.CreatedAt,
		&l.SlotID, &l.SlotDate, &l.SlotTime,
		&l.ServiceID, &l.ServiceName, &l.DurationMinutes, &l.Location,
	)
	l.Status = model.Status(status)
	return l, err
}

// phoneFilter normalizes an admin phone filter. A filter with no digits still
// applies and matches nothing.
func phoneFilter(phone string) *string {
	if strings.TrimSpace(phone) == "" {
		return nil
	}
	digits := model.PhoneDigits(phone)
	return &digits
}
