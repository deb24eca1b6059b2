package storage

import (
	"context"
	"time"

	"github.com/agenda-clinica/agenda/libs/db"
	"github.com/jackc/pgx/v5"
)

// SlotRepository creates bookable slots out of band.
type SlotRepository struct {
	pool *db.Pool
}

func NewSlotRepository(pool *db.Pool) *SlotRepository {
	return &SlotRepository{pool: pool}
}

// InsertSlots adds one available slot per start time. Slots that already
// exist are left untouched. It returns how many rows were created.
func (r *SlotRepository) InsertSlots(ctx context.Context, serviceID int64, starts []time.Time) (int64, error) {
	if len(starts) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, st := range starts {
		batch.Queue(`
			INSERT INTO slots (service_id, slot_date, slot_time, available)
			VALUES ($1, $2::date, $3::time, TRUE)
			ON CONFLICT (service_id, slot_date, slot_time) DO NOTHING
		`, serviceID, st.Format(time.DateOnly), st.Format("15:04:05"))
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	var created int64
	for range starts {
		tag, err := br.Exec()
		if err != nil {
			return created, err
		}
		created += tag.RowsAffected()
	}
	return created, nil
}
