package model

import (
	"time"

	"github.com/google/uuid"
)

// Algorithm is a catalog entry describing a trained, versioned predictor.
// Status is derived from the status ledger and is nil when the algorithm
// has no active ledger entry.
type Algorithm struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Endpoint    string     `json:"endpoint"`
	Description string     `json:"description"`
	Version     string     `json:"version"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	DatasetID   *uuid.UUID `json:"dataset_id,omitempty"`
	Dataset     *string    `json:"dataset,omitempty"`
	Region      *string    `json:"region,omitempty"`
	Status      *Status    `json:"status,omitempty"`
}

// AlgorithmKey is the natural key used to make registration idempotent.
type AlgorithmKey struct {
	Name      string
	Endpoint  string
	Version   string
	DatasetID *uuid.UUID
}

// Key returns the natural key of a.
func (a Algorithm) Key() AlgorithmKey {
	return AlgorithmKey{Name: a.Name, Endpoint: a.Endpoint, Version: a.Version, DatasetID: a.DatasetID}
}

// AlgorithmFilter narrows catalog queries. Nil/empty fields are ignored.
//
// Classifier matches either the algorithm name or its endpoint label;
// Endpoint matches the endpoint label exactly. Status filters on the
// current (active) ledger status.
type AlgorithmFilter struct {
	Classifier string
	Endpoint   string
	Version    string
	Dataset    string
	Region     string
	Status     *Status
}

// StatusEntry is one row of the append-only status ledger.
type StatusEntry struct {
	ID          uuid.UUID `json:"id"`
	AlgorithmID uuid.UUID `json:"algorithm_id"`
	Status      Status    `json:"status"`
	Active      bool      `json:"active"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// Dataset is the optional dimension describing where an algorithm's
// training data came from.
type Dataset struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Region    string    `json:"region"`
	CreatedAt time.Time `json:"created_at"`
}
