package storage

import (
	"context"
	"time"

	"github.com/agenda-clinica/agenda/libs/db"
)

// RetentionRepository deletes bookkeeping rows that are no longer needed.
// Rows locked by an in-flight transaction are skipped.
type RetentionRepository struct {
	pool *db.Pool
}

func NewRetentionRepository(pool *db.Pool) *RetentionRepository {
	return &RetentionRepository{pool: pool}
}

func (r *RetentionRepository) PurgeIdempotencyKeys(ctx context.Context, before time.Time, limit int) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM booking_idempotency_keys
		WHERE (scope, idempotency_key) IN (
			SELECT scope, idempotency_key
			FROM booking_idempotency_keys
			WHERE created_at < $1
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
	`, before, limit)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *RetentionRepository) PurgePublishedEvents(ctx context.Context, before time.Time, limit int) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM outbox_events
		WHERE id IN (
			SELECT id
			FROM outbox_events
			WHERE published_at IS NOT NULL AND published_at < $1
			ORDER BY id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
	`, before, limit)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PurgeStaleEvents deletes outbox rows by age whether or not they were
// published. It is only used when no publisher drains the outbox.
func (r *RetentionRepository) PurgeStaleEvents(ctx context.Context, before time.Time, limit int) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM outbox_events
		WHERE id IN (
			SELECT id
			FROM outbox_events
			WHERE created_at < $1
			ORDER BY id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
	`, before, limit)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
