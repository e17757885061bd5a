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

// CreateOperator inserts a new operator.
func (db *DB) CreateOperator(ctx context.Context, op model.Operator) (model.Operator, error) {
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = storage.Now()
	}
	if _, err := db.pool.Exec(ctx,
		`INSERT INTO operators (id, name, role, api_key_hash, created_at) VALUES ($1, $2, $3, $4, $5)`,
		op.ID, op.Name, string(op.Role), op.APIKeyHash, op.CreatedAt,
	); err != nil {
		return model.Operator{}, fmt.Errorf("storage: create operator: %w", classify(err))
	}
	return op, nil
}

// GetOperatorByName looks up an operator for authentication.
func (db *DB) GetOperatorByName(ctx context.Context, name string) (model.Operator, error) {
	var op model.Operator
	var role string
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, role, api_key_hash, created_at FROM operators WHERE name = $1`, name,
	).Scan(&op.ID, &op.Name, &role, &op.APIKeyHash, &op.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Operator{}, fmt.Errorf("%w: %s", storage.ErrOperatorNotFound, name)
		}
		return model.Operator{}, fmt.Errorf("storage: get operator: %w", err)
	}
	op.Role = model.OperatorRole(role)
	op.CreatedAt = storage.Normalize(op.CreatedAt)
	return op, nil
}

// CountOperators returns the number of registered operators.
func (db *DB) CountOperators(ctx context.Context) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx, `SELECT count(*) FROM operators`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count operators: %w", err)
	}
	return n, nil
}
