package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/hakari/internal/model"
	"github.com/ashita-ai/hakari/internal/storage"
)

// GetDataset returns a single dataset.
func (db *DB) GetDataset(ctx context.Context, id uuid.UUID) (model.Dataset, error) {
	var ds model.Dataset
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, region, created_at FROM datasets WHERE id = $1`, id,
	).Scan(&ds.ID, &ds.Name, &ds.Region, &ds.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Dataset{}, fmt.Errorf("%w: %s", storage.ErrDatasetNotFound, id)
		}
		return model.Dataset{}, fmt.Errorf("storage: get dataset: %w", err)
	}
	ds.CreatedAt = storage.Normalize(ds.CreatedAt)
	return ds, nil
}

// ListDatasets returns all datasets ordered by name.
func (db *DB) ListDatasets(ctx context.Context) ([]model.Dataset, error) {
	rows, err := db.pool.Query(ctx, `SELECT id, name, region, created_at FROM datasets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("storage: list datasets: %w", err)
	}
	defer rows.Close()

	var out []model.Dataset
	for rows.Next() {
		var ds model.Dataset
		if err := rows.Scan(&ds.ID, &ds.Name, &ds.Region, &ds.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan dataset: %w", err)
		}
		ds.CreatedAt = storage.Normalize(ds.CreatedAt)
		out = append(out, ds)
	}
	return out, rows.Err()
}
