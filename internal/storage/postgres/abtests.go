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

const abTestColumns = `id, title, created_by, created_at, ended_at, summary, algorithm_1, algorithm_2`

// GetABTest returns a single experiment.
func (db *DB) GetABTest(ctx context.Context, id uuid.UUID) (model.ABTest, error) {
	return getABTest(ctx, db.pool, id, "")
}

// ListABTests returns experiments newest first.
func (db *DB) ListABTests(ctx context.Context, limit, offset int) ([]model.ABTest, int, error) {
	var total int
	if err := db.pool.QueryRow(ctx, `SELECT count(*) FROM ab_tests`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count ab tests: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT `+abTestColumns+` FROM ab_tests ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list ab tests: %w", err)
	}
	defer rows.Close()

	var tests []model.ABTest
	for rows.Next() {
		ab, err := scanABTest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: scan ab test: %w", err)
		}
		tests = append(tests, ab)
	}
	return tests, total, rows.Err()
}

func getABTest(ctx context.Context, q querier, id uuid.UUID, suffix string) (model.ABTest, error) {
	row := q.QueryRow(ctx, `SELECT `+abTestColumns+` FROM ab_tests WHERE id = $1`+suffix, id)
	ab, err := scanABTest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ABTest{}, fmt.Errorf("%w: %s", storage.ErrABTestNotFound, id)
		}
		return model.ABTest{}, fmt.Errorf("storage: get ab test: %w", err)
	}
	return ab, nil
}

func scanABTest(row pgx.Row) (model.ABTest, error) {
	var ab model.ABTest
	if err := row.Scan(&ab.ID, &ab.Title, &ab.CreatedBy, &ab.CreatedAt, &ab.EndedAt, &ab.Summary,
		&ab.Algorithm1, &ab.Algorithm2); err != nil {
		return model.ABTest{}, err
	}
	ab.CreatedAt = storage.Normalize(ab.CreatedAt)
	if ab.EndedAt != nil {
		ended := storage.Normalize(*ab.EndedAt)
		ab.EndedAt = &ended
	}
	return ab, nil
}
