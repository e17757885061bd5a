package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/hakari/internal/model"
	"github.com/ashita-ai/hakari/internal/storage"
)

// pgTx implements storage.Tx over a pgx transaction.
type pgTx struct {
	q querier
}

var _ storage.Tx = (*pgTx)(nil)

func (t *pgTx) EnsureDataset(ctx context.Context, name, region string, now time.Time) (model.Dataset, error) {
	// The no-op update makes RETURNING yield the existing row on conflict.
	var ds model.Dataset
	err := t.q.QueryRow(ctx,
		`INSERT INTO datasets (id, name, region, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id, name, region, created_at`,
		uuid.New(), name, region, now,
	).Scan(&ds.ID, &ds.Name, &ds.Region, &ds.CreatedAt)
	if err != nil {
		return model.Dataset{}, fmt.Errorf("storage: ensure dataset: %w", err)
	}
	ds.CreatedAt = storage.Normalize(ds.CreatedAt)
	return ds, nil
}

func (t *pgTx) FindAlgorithmByKey(ctx context.Context, key model.AlgorithmKey) (model.Algorithm, error) {
	row := t.q.QueryRow(ctx, storage.AlgorithmSelect+`
		WHERE a.name = $1 AND a.endpoint = $2 AND a.version = $3
		  AND a.dataset_id IS NOT DISTINCT FROM $4`,
		key.Name, key.Endpoint, key.Version, key.DatasetID)
	alg, err := scanAlgorithm(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Algorithm{}, storage.ErrAlgorithmNotFound
		}
		return model.Algorithm{}, fmt.Errorf("storage: find algorithm by key: %w", err)
	}
	return alg, nil
}

func (t *pgTx) CreateAlgorithm(ctx context.Context, alg model.Algorithm) (model.Algorithm, error) {
	if alg.ID == uuid.Nil {
		alg.ID = uuid.New()
	}
	if alg.CreatedAt.IsZero() {
		alg.CreatedAt = storage.Now()
	}
	if _, err := t.q.Exec(ctx,
		`INSERT INTO algorithms (id, name, endpoint, description, version, created_by, created_at, dataset_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		alg.ID, alg.Name, alg.Endpoint, alg.Description, alg.Version, alg.CreatedBy, alg.CreatedAt, alg.DatasetID,
	); err != nil {
		return model.Algorithm{}, fmt.Errorf("storage: create algorithm: %w", classify(err))
	}
	return alg, nil
}

func (t *pgTx) LockAlgorithm(ctx context.Context, id uuid.UUID) (model.Algorithm, error) {
	return getAlgorithm(ctx, t.q, id, ` FOR UPDATE OF a`)
}

func (t *pgTx) ActiveStatus(ctx context.Context, algorithmID uuid.UUID) (model.StatusEntry, error) {
	row := t.q.QueryRow(ctx,
		`SELECT id, algorithm_id, status, active, created_by, created_at
		 FROM algorithm_statuses WHERE algorithm_id = $1 AND active`, algorithmID)
	e, err := scanStatus(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.StatusEntry{}, storage.ErrStatusNotFound
		}
		return model.StatusEntry{}, fmt.Errorf("storage: active status: %w", err)
	}
	return e, nil
}

func (t *pgTx) LatestStatusAt(ctx context.Context, algorithmID uuid.UUID) (time.Time, bool, error) {
	var latest *time.Time
	if err := t.q.QueryRow(ctx,
		`SELECT max(created_at) FROM algorithm_statuses WHERE algorithm_id = $1`, algorithmID,
	).Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("storage: latest status: %w", err)
	}
	if latest == nil {
		return time.Time{}, false, nil
	}
	return storage.Normalize(*latest), true, nil
}

func (t *pgTx) DeactivatePrior(ctx context.Context, algorithmID uuid.UUID, before time.Time) (int64, error) {
	tag, err := t.q.Exec(ctx,
		`UPDATE algorithm_statuses SET active = false
		 WHERE algorithm_id = $1 AND active AND created_at < $2`, algorithmID, before)
	if err != nil {
		return 0, fmt.Errorf("storage: deactivate statuses: %w", classify(err))
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) InsertStatus(ctx context.Context, e model.StatusEntry) error {
	if _, err := t.q.Exec(ctx,
		`INSERT INTO algorithm_statuses (id, algorithm_id, status, active, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.AlgorithmID, string(e.Status), e.Active, e.CreatedBy, e.CreatedAt,
	); err != nil {
		return fmt.Errorf("storage: insert status: %w", classify(err))
	}
	return nil
}

func (t *pgTx) CreateABTest(ctx context.Context, ab model.ABTest) error {
	if _, err := t.q.Exec(ctx,
		`INSERT INTO ab_tests (id, title, created_by, created_at, ended_at, summary, algorithm_1, algorithm_2)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ab.ID, ab.Title, ab.CreatedBy, ab.CreatedAt, ab.EndedAt, ab.Summary, ab.Algorithm1, ab.Algorithm2,
	); err != nil {
		return fmt.Errorf("storage: create ab test: %w", classify(err))
	}
	return nil
}

func (t *pgTx) LockABTest(ctx context.Context, id uuid.UUID) (model.ABTest, error) {
	return getABTest(ctx, t.q, id, ` FOR UPDATE`)
}

func (t *pgTx) CountRequests(ctx context.Context, algorithmID uuid.UUID, from, to time.Time) (model.RequestCounts, error) {
	var c model.RequestCounts
	if err := t.q.QueryRow(ctx,
		`SELECT count(*), count(*) FILTER (WHERE feedback IS NOT NULL AND feedback = response)
		 FROM requests
		 WHERE algorithm_id = $1 AND created_at >= $2 AND created_at < $3`,
		algorithmID, from, to,
	).Scan(&c.Total, &c.Correct); err != nil {
		return model.RequestCounts{}, fmt.Errorf("storage: count requests: %w", err)
	}
	return c, nil
}

func (t *pgTx) FinishABTest(ctx context.Context, id uuid.UUID, endedAt time.Time, summary string) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE ab_tests SET ended_at = $2, summary = $3 WHERE id = $1 AND ended_at IS NULL`,
		id, endedAt, summary)
	if err != nil {
		return fmt.Errorf("storage: finish ab test: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: finish ab test %s: %w", id, storage.ErrConflict)
	}
	return nil
}

func (t *pgTx) DeleteAlgorithm(ctx context.Context, id uuid.UUID) error {
	if _, err := t.LockAlgorithm(ctx, id); err != nil {
		return err
	}
	var open bool
	if err := t.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ab_tests
		 WHERE ended_at IS NULL AND (algorithm_1 = $1 OR algorithm_2 = $1))`, id,
	).Scan(&open); err != nil {
		return fmt.Errorf("storage: check open ab tests: %w", err)
	}
	if open {
		return fmt.Errorf("%w: algorithm %s", storage.ErrReferenced, id)
	}
	if _, err := t.q.Exec(ctx, `DELETE FROM algorithms WHERE id = $1`, id); err != nil {
		return fmt.Errorf("storage: delete algorithm: %w", classify(err))
	}
	return nil
}
