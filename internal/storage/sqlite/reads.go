package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ashita-ai/hakari/internal/model"
	"github.com/ashita-ai/hakari/internal/storage"
)

const (
	algorithmOrder = ` ORDER BY a.created_at, a.id`
	requestColumns = `id, algorithm_id, input_data, full_response, response, feedback, created_by, created_at`
	abTestColumns  = `id, title, created_by, created_at, ended_at, summary, algorithm_1, algorithm_2`
)

// FindAlgorithms returns all algorithms matching the filter.
func (d *DB) FindAlgorithms(ctx context.Context, filter model.AlgorithmFilter) ([]model.Algorithm, error) {
	where, args := storage.BuildAlgorithmWhere(filter, storage.QuestionPlaceholder)
	rows, err := d.db.QueryContext(ctx, storage.AlgorithmSelect+where+algorithmOrder, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: find algorithms: %w", err)
	}
	return scanAlgorithms(rows)
}

// ListAlgorithms returns one page of matching algorithms plus the total count.
func (d *DB) ListAlgorithms(ctx context.Context, filter model.AlgorithmFilter, limit, offset int) ([]model.Algorithm, int, error) {
	where, args := storage.BuildAlgorithmWhere(filter, storage.QuestionPlaceholder)

	var total int
	if err := d.db.QueryRowContext(ctx, `SELECT count(*) FROM algorithms a
		LEFT JOIN datasets d ON d.id = a.dataset_id
		LEFT JOIN algorithm_statuses s ON s.algorithm_id = a.id AND s.active`+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count algorithms: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, storage.AlgorithmSelect+where+algorithmOrder+` LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list algorithms: %w", err)
	}
	algs, err := scanAlgorithms(rows)
	if err != nil {
		return nil, 0, err
	}
	return algs, total, nil
}

// GetAlgorithm returns a single algorithm with its current status.
func (d *DB) GetAlgorithm(ctx context.Context, id uuid.UUID) (model.Algorithm, error) {
	return getAlgorithm(ctx, d.db, id)
}

func getAlgorithm(ctx context.Context, q querier, id uuid.UUID) (model.Algorithm, error) {
	alg, err := scanAlgorithm(q.QueryRowContext(ctx, storage.AlgorithmSelect+` WHERE a.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Algorithm{}, fmt.Errorf("%w: %s", storage.ErrAlgorithmNotFound, id)
		}
		return model.Algorithm{}, fmt.Errorf("storage: get algorithm: %w", err)
	}
	return alg, nil
}

// ListStatuses returns the full ledger of an algorithm, oldest first.
func (d *DB) ListStatuses(ctx context.Context, algorithmID uuid.UUID) ([]model.StatusEntry, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, algorithm_id, status, active, created_by, created_at
		 FROM algorithm_statuses WHERE algorithm_id = ? ORDER BY created_at, id`, algorithmID)
	if err != nil {
		return nil, fmt.Errorf("storage: list statuses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.StatusEntry
	for rows.Next() {
		e, err := scanStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan status: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CreateRequest inserts a prediction record.
func (d *DB) CreateRequest(ctx context.Context, req model.Request) (model.Request, error) {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = storage.Now()
	}
	if req.InputData == nil {
		req.InputData = map[string]any{}
	}
	if req.FullResponse == nil {
		req.FullResponse = map[string]any{}
	}
	input, err := json.Marshal(req.InputData)
	if err != nil {
		return model.Request{}, fmt.Errorf("storage: encode input_data: %w", err)
	}
	full, err := json.Marshal(req.FullResponse)
	if err != nil {
		return model.Request{}, fmt.Errorf("storage: encode full_response: %w", err)
	}
	if _, err := d.db.ExecContext(ctx,
		`INSERT INTO requests (`+requestColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.AlgorithmID, string(input), string(full), req.Response, req.Feedback, req.CreatedBy,
		toMicros(req.CreatedAt),
	); err != nil {
		return model.Request{}, fmt.Errorf("storage: create request: %w", err)
	}
	return req, nil
}

// SetFeedback records the observed outcome for a request.
func (d *DB) SetFeedback(ctx context.Context, id uuid.UUID, feedback string) (model.Request, error) {
	res, err := d.db.ExecContext(ctx, `UPDATE requests SET feedback = ? WHERE id = ?`, feedback, id)
	if err != nil {
		return model.Request{}, fmt.Errorf("storage: set feedback: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Request{}, fmt.Errorf("%w: %s", storage.ErrRequestNotFound, id)
	}
	return d.GetRequest(ctx, id)
}

// GetRequest returns a single request.
func (d *DB) GetRequest(ctx context.Context, id uuid.UUID) (model.Request, error) {
	r, err := scanRequest(d.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Request{}, fmt.Errorf("%w: %s", storage.ErrRequestNotFound, id)
		}
		return model.Request{}, fmt.Errorf("storage: get request: %w", err)
	}
	return r, nil
}

// ListRequests returns requests newest first.
func (d *DB) ListRequests(ctx context.Context, filter model.RequestFilter, limit, offset int) ([]model.Request, int, error) {
	var conds []string
	var args []any
	if filter.AlgorithmID != nil {
		conds = append(conds, "algorithm_id = ?")
		args = append(args, *filter.AlgorithmID)
	}
	if filter.From != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, toMicros(*filter.From))
	}
	if filter.To != nil {
		conds = append(conds, "created_at < ?")
		args = append(args, toMicros(*filter.To))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := d.db.QueryRowContext(ctx, `SELECT count(*) FROM requests`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count requests: %w", err)
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM requests`+where+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var reqs []model.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: scan request: %w", err)
		}
		reqs = append(reqs, r)
	}
	return reqs, total, rows.Err()
}

// GetABTest returns a single experiment.
func (d *DB) GetABTest(ctx context.Context, id uuid.UUID) (model.ABTest, error) {
	return getABTest(ctx, d.db, id)
}

func getABTest(ctx context.Context, q querier, id uuid.UUID) (model.ABTest, error) {
	ab, err := scanABTest(q.QueryRowContext(ctx, `SELECT `+abTestColumns+` FROM ab_tests WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ABTest{}, fmt.Errorf("%w: %s", storage.ErrABTestNotFound, id)
		}
		return model.ABTest{}, fmt.Errorf("storage: get ab test: %w", err)
	}
	return ab, nil
}

// ListABTests returns experiments newest first.
func (d *DB) ListABTests(ctx context.Context, limit, offset int) ([]model.ABTest, int, error) {
	var total int
	if err := d.db.QueryRowContext(ctx, `SELECT count(*) FROM ab_tests`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count ab tests: %w", err)
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+abTestColumns+` FROM ab_tests ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list ab tests: %w", err)
	}
	defer func() { _ = rows.Close() }()

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

// GetDataset returns a single dataset.
func (d *DB) GetDataset(ctx context.Context, id uuid.UUID) (model.Dataset, error) {
	ds, err := scanDataset(d.db.QueryRowContext(ctx,
		`SELECT id, name, region, created_at FROM datasets WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Dataset{}, fmt.Errorf("%w: %s", storage.ErrDatasetNotFound, id)
		}
		return model.Dataset{}, fmt.Errorf("storage: get dataset: %w", err)
	}
	return ds, nil
}

// ListDatasets returns all datasets ordered by name.
func (d *DB) ListDatasets(ctx context.Context) ([]model.Dataset, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, name, region, created_at FROM datasets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("storage: list datasets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Dataset
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan dataset: %w", err)
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

// CreateOperator inserts a new operator.
func (d *DB) CreateOperator(ctx context.Context, op model.Operator) (model.Operator, error) {
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = storage.Now()
	}
	if _, err := d.db.ExecContext(ctx,
		`INSERT INTO operators (id, name, role, api_key_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		op.ID, op.Name, string(op.Role), op.APIKeyHash, toMicros(op.CreatedAt),
	); err != nil {
		return model.Operator{}, fmt.Errorf("storage: create operator: %w", classify(err))
	}
	return op, nil
}

// GetOperatorByName looks up an operator for authentication.
func (d *DB) GetOperatorByName(ctx context.Context, name string) (model.Operator, error) {
	var op model.Operator
	var role string
	var createdAt int64
	err := d.db.QueryRowContext(ctx,
		`SELECT id, name, role, api_key_hash, created_at FROM operators WHERE name = ?`, name,
	).Scan(&op.ID, &op.Name, &role, &op.APIKeyHash, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Operator{}, fmt.Errorf("%w: %s", storage.ErrOperatorNotFound, name)
		}
		return model.Operator{}, fmt.Errorf("storage: get operator: %w", err)
	}
	op.Role = model.OperatorRole(role)
	op.CreatedAt = fromMicros(createdAt)
	return op, nil
}

// CountOperators returns the number of registered operators.
func (d *DB) CountOperators(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT count(*) FROM operators`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count operators: %w", err)
	}
	return n, nil
}
