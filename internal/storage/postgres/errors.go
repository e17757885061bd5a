package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ashita-ai/hakari/internal/storage"
)

// classify maps transient Postgres failures onto storage.ErrConflict so
// storage.WithRetry can recognise them. Other errors pass through.
func classify(err error) error {
	if err == nil || errors.Is(err, storage.ErrConflict) {
		return err
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"23505": // unique_violation
		return fmt.Errorf("%w: %s", storage.ErrConflict, pgErr.Message)
	default:
		return err
	}
}
