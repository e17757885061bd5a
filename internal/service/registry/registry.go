// Package registry binds catalog entries to live predictors.
//
// Registration is idempotent on the algorithm's natural key (classifier,
// endpoint, version, dataset): the catalog row is reused when present and
// created otherwise, together with its initial status. The in-memory
// binding from algorithm id to predictor is what the router dispatches to.
// Bootstrap fills the registry at startup and seals it; afterwards the
// bindings are read-only and lookups need no coordination beyond a read lock.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/hakari/internal/model"
	"github.com/ashita-ai/hakari/internal/scoring"
	"github.com/ashita-ai/hakari/internal/service/ledger"
	"github.com/ashita-ai/hakari/internal/storage"
)

var (
	// ErrNotBound is returned by Lookup when a catalog entry has no live
	// predictor in this process. It indicates the catalog and the deployed
	// models have drifted apart.
	ErrNotBound = errors.New("registry: algorithm has no bound predictor")

	// ErrSealed is returned by Register after Seal.
	ErrSealed = errors.New("registry: sealed")

	// ErrInvalidDescriptor is returned for descriptors missing required fields.
	ErrInvalidDescriptor = errors.New("registry: invalid descriptor")
)

// Descriptor describes one algorithm to register.
type Descriptor struct {
	Classifier  string
	Endpoint    string
	Description string
	Version     string
	CreatedBy   string
	Dataset     string
	Region      string
	// Status is written as the first ledger entry when the catalog row is
	// created. Empty means no initial status.
	Status    model.Status
	Predictor scoring.Predictor
}

func (d Descriptor) validate() error {
	switch {
	case d.Classifier == "":
		return fmt.Errorf("%w: classifier is required", ErrInvalidDescriptor)
	case d.Endpoint == "":
		return fmt.Errorf("%w: endpoint is required", ErrInvalidDescriptor)
	case d.Version == "":
		return fmt.Errorf("%w: version is required", ErrInvalidDescriptor)
	case d.CreatedBy == "":
		return fmt.Errorf("%w: created_by is required", ErrInvalidDescriptor)
	case d.Predictor == nil:
		return fmt.Errorf("%w: predictor is required", ErrInvalidDescriptor)
	case d.Status != "" && !d.Status.Valid():
		return fmt.Errorf("%w: invalid status %q", ErrInvalidDescriptor, d.Status)
	case d.Region != "" && d.Dataset == "":
		return fmt.Errorf("%w: region requires a dataset", ErrInvalidDescriptor)
	}
	return nil
}

// Registry maps algorithm ids to predictors.
type Registry struct {
	store  storage.Store
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	bindings map[uuid.UUID]scoring.Predictor
	sealed   bool
}

// New creates an empty, unsealed registry.
func New(store storage.Store, logger *slog.Logger) *Registry {
	return &Registry{
		store:    store,
		logger:   logger,
		now:      time.Now,
		bindings: make(map[uuid.UUID]scoring.Predictor),
	}
}

// Register ensures the catalog holds d and binds its predictor. Calling it
// again with the same natural key returns the same algorithm and leaves a
// single binding.
func (r *Registry) Register(ctx context.Context, d Descriptor) (model.Algorithm, error) {
	if err := d.validate(); err != nil {
		return model.Algorithm{}, err
	}
	r.mu.RLock()
	sealed := r.sealed
	r.mu.RUnlock()
	if sealed {
		return model.Algorithm{}, ErrSealed
	}

	var alg model.Algorithm
	var created bool
	err := storage.WithRetry(ctx, 1, 10*time.Millisecond, func() error {
		return r.store.WithTx(ctx, func(tx storage.Tx) error {
			var err error
			alg, created, err = ensure(ctx, tx, d, r.now())
			return err
		})
	})
	if err != nil {
		return model.Algorithm{}, fmt.Errorf("registry: register %s/%s@%s: %w", d.Endpoint, d.Classifier, d.Version, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return model.Algorithm{}, ErrSealed
	}
	r.bindings[alg.ID] = d.Predictor

	r.logger.Info("algorithm registered",
		"algorithm_id", alg.ID,
		"classifier", alg.Name,
		"endpoint", alg.Endpoint,
		"version", alg.Version,
		"created", created,
	)
	return alg, nil
}

// ensure finds or creates the catalog row for d inside tx.
func ensure(ctx context.Context, tx storage.Tx, d Descriptor, now time.Time) (model.Algorithm, bool, error) {
	key := model.AlgorithmKey{Name: d.Classifier, Endpoint: d.Endpoint, Version: d.Version}
	var dataset *model.Dataset
	if d.Dataset != "" {
		ds, err := tx.EnsureDataset(ctx, d.Dataset, d.Region, storage.Normalize(now))
		if err != nil {
			return model.Algorithm{}, false, err
		}
		dataset = &ds
		key.DatasetID = &ds.ID
	}

	existing, err := tx.FindAlgorithmByKey(ctx, key)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return model.Algorithm{}, false, err
	}

	alg := model.Algorithm{
		ID:          uuid.New(),
		Name:        d.Classifier,
		Endpoint:    d.Endpoint,
		Description: d.Description,
		Version:     d.Version,
		CreatedBy:   d.CreatedBy,
		CreatedAt:   storage.Normalize(now),
		DatasetID:   key.DatasetID,
	}
	if dataset != nil {
		alg.Dataset = &dataset.Name
		alg.Region = &dataset.Region
	}
	alg, err = tx.CreateAlgorithm(ctx, alg)
	if err != nil {
		return model.Algorithm{}, false, err
	}
	if d.Status != "" {
		if _, err := ledger.Transition(ctx, tx, alg.ID, d.Status, d.CreatedBy, now); err != nil {
			return model.Algorithm{}, false, err
		}
		st := d.Status
		alg.Status = &st
	}
	return alg, true, nil
}

// Lookup returns the predictor bound to id.
func (r *Registry) Lookup(id uuid.UUID) (scoring.Predictor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.bindings[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotBound, id)
	}
	return p, nil
}

// Seal makes the registry read-only.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Len returns the number of bound algorithms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}
