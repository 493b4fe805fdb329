package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

const (
	codeLockNotAvailable     = "55P03"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
)

// mapErr turns driver errors into the domain taxonomy. Domain errors pass
// through untouched.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var oe *orders.Error
	if errors.As(err, &oe) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable:
			return orders.Timeout("postgres: %s", pgErr.Message)
		case codeSerializationFailure, codeDeadlockDetected:
			return orders.Conflict("postgres: %s", pgErr.Message)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return orders.Timeout("postgres: %v", err)
	}
	return fmt.Errorf("postgres: %w", err)
}

func isCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
