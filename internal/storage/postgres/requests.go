package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/hakari/internal/model"
	"github.com/ashita-ai/hakari/internal/storage"
)

const requestColumns = `id, algorithm_id, input_data, full_response, response, feedback, created_by, created_at`

// CreateRequest inserts a prediction record.
func (db *DB) CreateRequest(ctx context.Context, req model.Request) (model.Request, error) {
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
	if _, err := db.pool.Exec(ctx,
		`INSERT INTO requests (`+requestColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		req.ID, req.AlgorithmID, req.InputData, req.FullResponse, req.Response, req.Feedback, req.CreatedBy, req.CreatedAt,
	); err != nil {
		return model.Request{}, fmt.Errorf("storage: create request: %w", err)
	}
	return req, nil
}

// SetFeedback records the observed outcome for a request.
func (db *DB) SetFeedback(ctx context.Context, id uuid.UUID, feedback string) (model.Request, error) {
	row := db.pool.QueryRow(ctx,
		`UPDATE requests SET feedback = $2 WHERE id = $1 RETURNING `+requestColumns, id, feedback)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Request{}, fmt.Errorf("%w: %s", storage.ErrRequestNotFound, id)
		}
		return model.Request{}, fmt.Errorf("storage: set feedback: %w", err)
	}
	return req, nil
}

// GetRequest returns a single request.
func (db *DB) GetRequest(ctx context.Context, id uuid.UUID) (model.Request, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Request{}, fmt.Errorf("%w: %s", storage.ErrRequestNotFound, id)
		}
		return model.Request{}, fmt.Errorf("storage: get request: %w", err)
	}
	return req, nil
}

// ListRequests returns requests newest first.
func (db *DB) ListRequests(ctx context.Context, filter model.RequestFilter, limit, offset int) ([]model.Request, int, error) {
	var conds []string
	var args []any
	if filter.AlgorithmID != nil {
		args = append(args, *filter.AlgorithmID)
		conds = append(conds, fmt.Sprintf("algorithm_id = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conds = append(conds, fmt.Sprintf("created_at < $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := db.pool.QueryRow(ctx, `SELECT count(*) FROM requests`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count requests: %w", err)
	}

	n := len(args)
	rows, err := db.pool.Query(ctx,
		`SELECT `+requestColumns+` FROM requests`+where+
			fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, n+1, n+2),
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list requests: %w", err)
	}
	defer rows.Close()

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

func scanRequest(row pgx.Row) (model.Request, error) {
	var r model.Request
	if err := row.Scan(&r.ID, &r.AlgorithmID, &r.InputData, &r.FullResponse, &r.Response,
		&r.Feedback, &r.CreatedBy, &r.CreatedAt); err != nil {
		return model.Request{}, err
	}
	r.CreatedAt = storage.Normalize(r.CreatedAt)
	return r, nil
}
