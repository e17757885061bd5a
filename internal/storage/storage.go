// Package storage defines the persistence contract for Hakari.
//
// Two backends implement it: storage/postgres (pgxpool, the production
// backend) and storage/sqlite (single-file or in-memory, used for local
// development and fast tests). Services depend only on the interfaces in
// this package. Every multi-statement mutation runs through Store.WithTx so
// that the status ledger and experiment bookkeeping commit atomically.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/hakari/internal/model"
)

// Store is the top-level handle to a backend.
type Store interface {
	Reader

	// WithTx runs fn in a single transaction. The transaction commits when fn
	// returns nil and rolls back otherwise. Serialization failures, deadlocks
	// and ledger uniqueness violations are reported as ErrConflict.
	WithTx(ctx context.Context, fn func(Tx) error) error

	// CreateRequest appends a prediction record.
	CreateRequest(ctx context.Context, req model.Request) (model.Request, error)

	// SetFeedback replaces the feedback of an existing request.
	SetFeedback(ctx context.Context, id uuid.UUID, feedback string) (model.Request, error)

	// CreateOperator inserts an operator. Returns ErrConflict when the name is taken.
	CreateOperator(ctx context.Context, op model.Operator) (model.Operator, error)

	// Driver names the backend ("postgres" or "sqlite").
	Driver() string
	Ping(ctx context.Context) error
	Close(ctx context.Context)
}

// Reader holds the read-only queries served outside transactions.
type Reader interface {
	// FindAlgorithms returns every algorithm matching the filter, ordered by
	// creation time then id. Status in the filter matches the active entry.
	FindAlgorithms(ctx context.Context, filter model.AlgorithmFilter) ([]model.Algorithm, error)
	ListAlgorithms(ctx context.Context, filter model.AlgorithmFilter, limit, offset int) ([]model.Algorithm, int, error)
	GetAlgorithm(ctx context.Context, id uuid.UUID) (model.Algorithm, error)
	ListStatuses(ctx context.Context, algorithmID uuid.UUID) ([]model.StatusEntry, error)

	GetRequest(ctx context.Context, id uuid.UUID) (model.Request, error)
	ListRequests(ctx context.Context, filter model.RequestFilter, limit, offset int) ([]model.Request, int, error)

	GetABTest(ctx context.Context, id uuid.UUID) (model.ABTest, error)
	ListABTests(ctx context.Context, limit, offset int) ([]model.ABTest, int, error)

	GetDataset(ctx context.Context, id uuid.UUID) (model.Dataset, error)
	ListDatasets(ctx context.Context) ([]model.Dataset, error)

	GetOperatorByName(ctx context.Context, name string) (model.Operator, error)
	CountOperators(ctx context.Context) (int, error)
}

// Tx is the set of operations available inside Store.WithTx.
type Tx interface {
	// EnsureDataset returns the dataset with the given name, creating it if needed.
	EnsureDataset(ctx context.Context, name, region string, now time.Time) (model.Dataset, error)

	// FindAlgorithmByKey looks up an algorithm by its natural key.
	FindAlgorithmByKey(ctx context.Context, key model.AlgorithmKey) (model.Algorithm, error)
	CreateAlgorithm(ctx context.Context, alg model.Algorithm) (model.Algorithm, error)

	// LockAlgorithm loads the algorithm and holds a write lock on its row
	// until the transaction ends. Returns ErrNotFound when absent.
	LockAlgorithm(ctx context.Context, id uuid.UUID) (model.Algorithm, error)

	// ActiveStatus returns the active ledger entry. Returns ErrNotFound when
	// the algorithm has never been given a status.
	ActiveStatus(ctx context.Context, algorithmID uuid.UUID) (model.StatusEntry, error)

	// LatestStatusAt returns the created_at of the newest ledger entry; ok is
	// false when the ledger for the algorithm is empty.
	LatestStatusAt(ctx context.Context, algorithmID uuid.UUID) (t time.Time, ok bool, err error)

	// DeactivatePrior clears the active flag on every entry of the algorithm
	// created strictly before the given instant.
	DeactivatePrior(ctx context.Context, algorithmID uuid.UUID, before time.Time) (int64, error)
	InsertStatus(ctx context.Context, entry model.StatusEntry) error

	CreateABTest(ctx context.Context, t model.ABTest) error

	// LockABTest loads the experiment and holds a write lock on its row.
	LockABTest(ctx context.Context, id uuid.UUID) (model.ABTest, error)

	// CountRequests counts requests of one algorithm created in [from, to),
	// and how many of those have feedback equal to the response.
	CountRequests(ctx context.Context, algorithmID uuid.UUID, from, to time.Time) (model.RequestCounts, error)
	FinishABTest(ctx context.Context, id uuid.UUID, endedAt time.Time, summary string) error

	// DeleteAlgorithm removes an algorithm with its ledger and requests.
	// Returns ErrReferenced while an open experiment names it.
	DeleteAlgorithm(ctx context.Context, id uuid.UUID) error
}

// Now returns the current time normalised the way both backends store it.
func Now() time.Time {
	return Normalize(time.Now())
}

// Normalize converts t to UTC at microsecond precision.
func Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
