package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrConflict is returned when a transaction lost a race with a concurrent
// writer: serialization failure, deadlock, or a uniqueness violation on the
// ledger. The whole atomic operation may be retried.
var ErrConflict = errors.New("storage: concurrent modification")

// ErrReferenced is returned when deleting a row that an open experiment
// still points at.
var ErrReferenced = errors.New("storage: referenced by an open experiment")

// Entity-specific not-found errors. Each wraps ErrNotFound so callers can use
// errors.Is(err, ErrNotFound) generically.
var (
	ErrAlgorithmNotFound = fmt.Errorf("storage: algorithm: %w", ErrNotFound)
	ErrRequestNotFound   = fmt.Errorf("storage: request: %w", ErrNotFound)
	ErrABTestNotFound    = fmt.Errorf("storage: ab test: %w", ErrNotFound)
	ErrDatasetNotFound   = fmt.Errorf("storage: dataset: %w", ErrNotFound)
	ErrOperatorNotFound  = fmt.Errorf("storage: operator: %w", ErrNotFound)
	ErrStatusNotFound    = fmt.Errorf("storage: status: %w", ErrNotFound)
)
