package storage

import (
	"context"
	"errors"

	"github.com/agenda-clinica/agenda/libs/db"
	"github.com/agenda-clinica/agenda/services/booking-service/internal/model"
	"github.com/jackc/pgx/v5"
)

type UserRepository struct {
	pool *db.Pool
}

func NewUserRepository(pool *db.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// FindByEmail reports found=false when no user has the email.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (model.User, bool, error) {
	var user model.User
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, role
		FROM users
		WHERE email = $1
	`, email).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, false, nil
	}
	if err != nil {
		return model.User{}, false, err
	}
	return user, true, nil
}

// CreateIfAbsent inserts the user unless the email is taken and reports
// whether a row was written.
func (r *UserRepository) CreateIfAbsent(ctx context.Context, user model.User) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO users (email, password_hash, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO NOTHING
	`, user.Email, user.PasswordHash, user.Role)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
