package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/hakari/internal/model"
	"github.com/ashita-ai/hakari/internal/storage"
)

// liteTx implements storage.Tx. Row locks are implicit: the single
// connection means no other transaction runs concurrently.
type liteTx struct {
	q querier
}

var _ storage.Tx = (*liteTx)(nil)

func (t *liteTx) EnsureDataset(ctx context.Context, name, region string, now time.Time) (model.Dataset, error) {
	if _, err := t.q.ExecContext(ctx,
		`INSERT INTO datasets (id, name, region, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (name) DO NOTHING`,
		uuid.New(), name, region, toMicros(now),
	); err != nil {
		return model.Dataset{}, fmt.Errorf("storage: ensure dataset: %w", err)
	}
	ds, err := scanDataset(t.q.QueryRowContext(ctx,
		`SELECT id, name, region, created_at FROM datasets WHERE name = ?`, name))
	if err != nil {
		return model.Dataset{}, fmt.Errorf("storage: ensure dataset: %w", err)
	}
	return ds, nil
}

func (t *liteTx) FindAlgorithmByKey(ctx context.Context, key model.AlgorithmKey) (model.Algorithm, error) {
	alg, err := scanAlgorithm(t.q.QueryRowContext(ctx, storage.AlgorithmSelect+`
		WHERE a.name = ? AND a.endpoint = ? AND a.version = ? AND a.dataset_id IS ?`,
		key.Name, key.Endpoint, key.Version, key.DatasetID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Algorithm{}, storage.ErrAlgorithmNotFound
		}
		return model.Algorithm{}, fmt.Errorf("storage: find algorithm by key: %w", err)
	}
	return alg, nil
}

func (t *liteTx) CreateAlgorithm(ctx context.Context, alg model.Algorithm) (model.Algorithm, error) {
	if alg.ID == uuid.Nil {
		alg.ID = uuid.New()
	}
	if alg.CreatedAt.IsZero() {
		alg.CreatedAt = storage.Now()
	}
	if _, err := t.q.ExecContext(ctx,
		`INSERT INTO algorithms (id, name, endpoint, description, version, created_by, created_at, dataset_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		alg.ID, alg.Name, alg.Endpoint, alg.Description, alg.Version, alg.CreatedBy,
		toMicros(alg.CreatedAt), alg.DatasetID,
	); err != nil {
		return model.Algorithm{}, fmt.Errorf("storage: create algorithm: %w", classify(err))
	}
	return alg, nil
}

func (t *liteTx) LockAlgorithm(ctx context.Context, id uuid.UUID) (model.Algorithm, error) {
	return getAlgorithm(ctx, t.q, id)
}

func (t *liteTx) ActiveStatus(ctx context.Context, algorithmID uuid.UUID) (model.StatusEntry, error) {
	e, err := scanStatus(t.q.QueryRowContext(ctx,
		`SELECT id, algorithm_id, status, active, created_by, created_at
		 FROM algorithm_statuses WHERE algorithm_id = ? AND active = 1`, algorithmID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.StatusEntry{}, storage.ErrStatusNotFound
		}
		return model.StatusEntry{}, fmt.Errorf("storage: active status: %w", err)
	}
	return e, nil
}

func (t *liteTx) LatestStatusAt(ctx context.Context, algorithmID uuid.UUID) (time.Time, bool, error) {
	var latest *int64
	if err := t.q.QueryRowContext(ctx,
		`SELECT max(created_at) FROM algorithm_statuses WHERE algorithm_id = ?`, algorithmID,
	).Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("storage: latest status: %w", err)
	}
	if latest == nil {
		return time.Time{}, false, nil
	}
	return fromMicros(*latest), true, nil
}

func (t *liteTx) DeactivatePrior(ctx context.Context, algorithmID uuid.UUID, before time.Time) (int64, error) {
	res, err := t.q.ExecContext(ctx,
		`UPDATE algorithm_statuses SET active = 0
		 WHERE algorithm_id = ? AND active = 1 AND created_at < ?`, algorithmID, toMicros(before))
	if err != nil {
		return 0, fmt.Errorf("storage: deactivate statuses: %w", classify(err))
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (t *liteTx) InsertStatus(ctx context.Context, e model.StatusEntry) error {
	if _, err := t.q.ExecContext(ctx,
		`INSERT INTO algorithm_statuses (id, algorithm_id, status, active, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.AlgorithmID, string(e.Status), e.Active, e.CreatedBy, toMicros(e.CreatedAt),
	); err != nil {
		return fmt.Errorf("storage: insert status: %w", classify(err))
	}
	return nil
}

func (t *liteTx) CreateABTest(ctx context.Context, ab model.ABTest) error {
	if _, err := t.q.ExecContext(ctx,
		`INSERT INTO ab_tests (`+abTestColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ab.ID, ab.Title, ab.CreatedBy, toMicros(ab.CreatedAt), nullMicros(ab.EndedAt), ab.Summary,
		ab.Algorithm1, ab.Algorithm2,
	); err != nil {
		return fmt.Errorf("storage: create ab test: %w", classify(err))
	}
	return nil
}

func (t *liteTx) LockABTest(ctx context.Context, id uuid.UUID) (model.ABTest, error) {
	return getABTest(ctx, t.q, id)
}

func (t *liteTx) CountRequests(ctx context.Context, algorithmID uuid.UUID, from, to time.Time) (model.RequestCounts, error) {
	var c model.RequestCounts
	if err := t.q.QueryRowContext(ctx,
		`SELECT count(*), coalesce(sum(CASE WHEN feedback IS NOT NULL AND feedback = response THEN 1 ELSE 0 END), 0)
		 FROM requests WHERE algorithm_id = ? AND created_at >= ? AND created_at < ?`,
		algorithmID, toMicros(from), toMicros(to),
	).Scan(&c.Total, &c.Correct); err != nil {
		return model.RequestCounts{}, fmt.Errorf("storage: count requests: %w", err)
	}
	return c, nil
}

func (t *liteTx) FinishABTest(ctx context.Context, id uuid.UUID, endedAt time.Time, summary string) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE ab_tests SET ended_at = ?, summary = ? WHERE id = ? AND ended_at IS NULL`,
		toMicros(endedAt), summary, id)
	if err != nil {
		return fmt.Errorf("storage: finish ab test: %w", classify(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage: finish ab test %s: %w", id, storage.ErrConflict)
	}
	return nil
}

func (t *liteTx) DeleteAlgorithm(ctx context.Context, id uuid.UUID) error {
	if _, err := t.LockAlgorithm(ctx, id); err != nil {
		return err
	}
	var open int
	if err := t.q.QueryRowContext(ctx,
		`SELECT count(*) FROM ab_tests
		 WHERE ended_at IS NULL AND (algorithm_1 = ? OR algorithm_2 = ?)`, id, id,
	).Scan(&open); err != nil {
		return fmt.Errorf("storage: check open ab tests: %w", err)
	}
	if open > 0 {
		return fmt.Errorf("%w: algorithm %s", storage.ErrReferenced, id)
	}
	if _, err := t.q.ExecContext(ctx, `DELETE FROM algorithms WHERE id = ?`, id); err != nil {
		return fmt.Errorf("storage: delete algorithm: %w", classify(err))
	}
	return nil
}
