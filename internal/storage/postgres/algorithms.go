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

const algorithmOrder = ` ORDER BY a.created_at, a.id`

// FindAlgorithms returns all algorithms matching the filter.
func (db *DB) FindAlgorithms(ctx context.Context, filter model.AlgorithmFilter) ([]model.Algorithm, error) {
	where, args := storage.BuildAlgorithmWhere(filter, storage.DollarPlaceholder)
	rows, err := db.pool.Query(ctx, storage.AlgorithmSelect+where+algorithmOrder, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: find algorithms: %w", err)
	}
	defer rows.Close()
	return scanAlgorithms(rows)
}

// ListAlgorithms returns one page of matching algorithms plus the total count.
func (db *DB) ListAlgorithms(ctx context.Context, filter model.AlgorithmFilter, limit, offset int) ([]model.Algorithm, int, error) {
	where, args := storage.BuildAlgorithmWhere(filter, storage.DollarPlaceholder)

	var total int
	countSQL := `SELECT count(*) FROM algorithms a
		LEFT JOIN datasets d ON d.id = a.dataset_id
		LEFT JOIN algorithm_statuses s ON s.algorithm_id = a.id AND s.active` + where
	if err := db.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count algorithms: %w", err)
	}

	n := len(args)
	query := storage.AlgorithmSelect + where + algorithmOrder +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", n+1, n+2)
	rows, err := db.pool.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list algorithms: %w", err)
	}
	defer rows.Close()
	algs, err := scanAlgorithms(rows)
	if err != nil {
		return nil, 0, err
	}
	return algs, total, nil
}

// GetAlgorithm returns a single algorithm with its current status.
func (db *DB) GetAlgorithm(ctx context.Context, id uuid.UUID) (model.Algorithm, error) {
	return getAlgorithm(ctx, db.pool, id, "")
}

// ListStatuses returns the full ledger of an algorithm, oldest first.
func (db *DB) ListStatuses(ctx context.Context, algorithmID uuid.UUID) ([]model.StatusEntry, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, algorithm_id, status, active, created_by, created_at
		 FROM algorithm_statuses WHERE algorithm_id = $1
		 ORDER BY created_at, id`, algorithmID)
	if err != nil {
		return nil, fmt.Errorf("storage: list statuses: %w", err)
	}
	defer rows.Close()

	var entries []model.StatusEntry
	for rows.Next() {
		e, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func getAlgorithm(ctx context.Context, q querier, id uuid.UUID, suffix string) (model.Algorithm, error) {
	row := q.QueryRow(ctx, storage.AlgorithmSelect+` WHERE a.id = $1`+suffix, id)
	alg, err := scanAlgorithm(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Algorithm{}, fmt.Errorf("%w: %s", storage.ErrAlgorithmNotFound, id)
		}
		return model.Algorithm{}, fmt.Errorf("storage: get algorithm: %w", err)
	}
	return alg, nil
}

func scanAlgorithms(rows pgx.Rows) ([]model.Algorithm, error) {
	var algs []model.Algorithm
	for rows.Next() {
		a, err := scanAlgorithm(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan algorithm: %w", err)
		}
		algs = append(algs, a)
	}
	return algs, rows.Err()
}

func scanAlgorithm(row pgx.Row) (model.Algorithm, error) {
	var a model.Algorithm
	var status *string
	if err := row.Scan(
		&a.ID, &a.Name, &a.Endpoint, &a.Description, &a.Version, &a.CreatedBy, &a.CreatedAt,
		&a.DatasetID, &a.Dataset, &a.Region, &status,
	); err != nil {
		return model.Algorithm{}, err
	}
	a.CreatedAt = storage.Normalize(a.CreatedAt)
	if status != nil {
		st := model.Status(*status)
		a.Status = &st
	}
	return a, nil
}

func scanStatus(row pgx.Row) (model.StatusEntry, error) {
	var e model.StatusEntry
	var status string
	if err := row.Scan(&e.ID, &e.AlgorithmID, &status, &e.Active, &e.CreatedBy, &e.CreatedAt); err != nil {
		return model.StatusEntry{}, err
	}
	e.Status = model.Status(status)
	e.CreatedAt = storage.Normalize(e.CreatedAt)
	return e, nil
}
