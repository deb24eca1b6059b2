package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the booking code paths care about.
const (
	CodeUniqueViolation      = "23505"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
	CodeLockNotAvailable     = "55P03"
	CodeQueryCanceled        = "57014"
)

func pgCode(err error) (string, string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

// IsUniqueViolation reports whether err is a unique constraint violation. When
// constraint is non-empty the violated constraint (or index) name must match.
func IsUniqueViolation(err error, constraint string) bool {
	code, name := pgCode(err)
	if code != CodeUniqueViolation {
		return false
	}
	return constraint == "" || name == constraint
}

// IsTransient reports failures a client may retry unchanged: deadlocks,
// serialization failures and lock/statement timeouts.
func IsTransient(err error) bool {
	code, _ := pgCode(err)
	switch code {
	case CodeSerializationFailure, CodeDeadlockDetected, CodeLockNotAvailable, CodeQueryCanceled:
		return true
	}
	return false
}
