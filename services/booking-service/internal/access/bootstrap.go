package access

import (
	"context"
	"log/slog"
	"strings"

	"github.com/agenda-clinica/agenda/libs/auth"
	"github.com/agenda-clinica/agenda/services/booking-service/internal/model"
)

// EnsureAdmin creates the configured admin user on first start. It is a no-op
// when either credential is missing or the email already exists.
func EnsureAdmin(ctx context.Context, users UserStore, email, password string, logger *slog.Logger) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		logger.Warn("ADMIN_EMAIL or ADMIN_PASSWORD not set; skipping admin bootstrap")
		return nil
	}

	if _, found, err := users.FindByEmail(ctx, email); err != nil {
		return err
	} else if found {
		logger.Info("admin user already exists")
		return nil
	}

	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	created, err := users.CreateIfAbsent(ctx, model.User{
		Email:        email,
		PasswordHash: hash,
		Role:         auth.RoleAdmin.String(),
	})
	if err != nil {
		return err
	}
	if created {
		logger.Info("admin user created", "email", email)
	}
	return nil
}
