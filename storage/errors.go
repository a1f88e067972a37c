package storage

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Common storage errors.
var (
	// ErrNotFound is returned when a row is not found.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned for bad input (missing id, empty section
	// type). Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned for uniqueness violations that idempotent
	// callers expect; callers recover with a get.
	ErrConflict = errors.New("conflict")

	// ErrIntegrity is returned for constraint violations that idempotence
	// does not explain. The stage fails.
	ErrIntegrity = errors.New("integrity violation")
)

// Postgres error codes this package maps onto typed errors.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// mapError converts driver-level errors into the package taxonomy.
// Unique violations become ErrConflict so idempotent upsert callers can
// fall back to a get; other constraint classes become ErrIntegrity.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%s: %w: %s", op, ErrConflict, pgErr.ConstraintName)
		case pgForeignKeyViolation, pgCheckViolation:
			return fmt.Errorf("%s: %w: %s", op, ErrIntegrity, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// mapNotFound converts pgx.ErrNoRows to ErrNotFound and wraps the rest.
func mapNotFound(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

// validationErr builds an ErrValidation with a reason.
func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
