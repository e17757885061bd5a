// Package ledger maintains the append-only status history of algorithms.
//
// Each algorithm has at most one active ledger entry, and its current
// status is the status of that entry. A transition deactivates every prior
// active entry and appends a new active one inside the caller's
// transaction, so concurrent transitions on the same algorithm serialise on
// its row lock and never leave two active entries behind.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/hakari/internal/model"
	"github.com/ashita-ai/hakari/internal/storage"
)

// ErrInvalidStatus is returned for a status outside the known set.
var ErrInvalidStatus = errors.New("ledger: invalid status")

// Transition records that algorithmID now has status st. It must run inside
// storage.Store.WithTx. The new entry's created_at is now, moved forward
// past the latest existing entry when clocks collide, so the ledger stays
// strictly time-ordered.
func Transition(ctx context.Context, tx storage.Tx, algorithmID uuid.UUID, st model.Status, createdBy string, now time.Time) (model.StatusEntry, error) {
	if !st.Valid() {
		return model.StatusEntry{}, fmt.Errorf("%w %q", ErrInvalidStatus, st)
	}
	if _, err := tx.LockAlgorithm(ctx, algorithmID); err != nil {
		return model.StatusEntry{}, fmt.Errorf("ledger: lock algorithm: %w", err)
	}

	at := storage.Normalize(now)
	latest, ok, err := tx.LatestStatusAt(ctx, algorithmID)
	if err != nil {
		return model.StatusEntry{}, fmt.Errorf("ledger: %w", err)
	}
	if ok && !at.After(latest) {
		at = latest.Add(time.Microsecond)
	}

	if _, err := tx.DeactivatePrior(ctx, algorithmID, at); err != nil {
		return model.StatusEntry{}, fmt.Errorf("ledger: %w", err)
	}
	entry := model.StatusEntry{
		ID:          uuid.New(),
		AlgorithmID: algorithmID,
		Status:      st,
		Active:      true,
		CreatedBy:   createdBy,
		CreatedAt:   at,
	}
	if err := tx.InsertStatus(ctx, entry); err != nil {
		return model.StatusEntry{}, fmt.Errorf("ledger: %w", err)
	}
	return entry, nil
}

// Current returns the current status of an algorithm, or nil when it has
// never been given one.
func Current(ctx context.Context, tx storage.Tx, algorithmID uuid.UUID) (*model.Status, error) {
	e, err := tx.ActiveStatus(ctx, algorithmID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	return &e.Status, nil
}

// Service exposes operator-driven transitions outside an existing transaction.
type Service struct {
	store storage.Store
	now   func() time.Time
}

// New creates a ledger Service.
func New(store storage.Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Set transitions an algorithm in its own transaction, retrying once if a
// concurrent writer won the race.
func (s *Service) Set(ctx context.Context, algorithmID uuid.UUID, st model.Status, createdBy string) (model.StatusEntry, error) {
	var entry model.StatusEntry
	err := storage.WithRetry(ctx, 1, 10*time.Millisecond, func() error {
		return s.store.WithTx(ctx, func(tx storage.Tx) error {
			var err error
			entry, err = Transition(ctx, tx, algorithmID, st, createdBy, s.now())
			return err
		})
	})
	return entry, err
}
