package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ashita-ai/hakari/internal/model"
)

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAlgorithm(row scanner) (model.Algorithm, error) {
	var a model.Algorithm
	var createdAt int64
	var status *string
	if err := row.Scan(
		&a.ID, &a.Name, &a.Endpoint, &a.Description, &a.Version, &a.CreatedBy, &createdAt,
		&a.DatasetID, &a.Dataset, &a.Region, &status,
	); err != nil {
		return model.Algorithm{}, err
	}
	a.CreatedAt = fromMicros(createdAt)
	if status != nil {
		st := model.Status(*status)
		a.Status = &st
	}
	return a, nil
}

func scanAlgorithms(rows *sql.Rows) ([]model.Algorithm, error) {
	defer func() { _ = rows.Close() }()
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

func scanStatus(row scanner) (model.StatusEntry, error) {
	var e model.StatusEntry
	var status string
	var createdAt int64
	if err := row.Scan(&e.ID, &e.AlgorithmID, &status, &e.Active, &e.CreatedBy, &createdAt); err != nil {
		return model.StatusEntry{}, err
	}
	e.Status = model.Status(status)
	e.CreatedAt = fromMicros(createdAt)
	return e, nil
}

func scanRequest(row scanner) (model.Request, error) {
	var r model.Request
	var input, full string
	var createdAt int64
	if err := row.Scan(&r.ID, &r.AlgorithmID, &input, &full, &r.Response, &r.Feedback, &r.CreatedBy, &createdAt); err != nil {
		return model.Request{}, err
	}
	if err := json.Unmarshal([]byte(input), &r.InputData); err != nil {
		return model.Request{}, fmt.Errorf("decode input_data: %w", err)
	}
	if err := json.Unmarshal([]byte(full), &r.FullResponse); err != nil {
		return model.Request{}, fmt.Errorf("decode full_response: %w", err)
	}
	r.CreatedAt = fromMicros(createdAt)
	return r, nil
}

func scanABTest(row scanner) (model.ABTest, error) {
	var ab model.ABTest
	var createdAt int64
	var endedAt *int64
	if err := row.Scan(&ab.ID, &ab.Title, &ab.CreatedBy, &createdAt, &endedAt, &ab.Summary,
		&ab.Algorithm1, &ab.Algorithm2); err != nil {
		return model.ABTest{}, err
	}
	ab.CreatedAt = fromMicros(createdAt)
	if endedAt != nil {
		t := fromMicros(*endedAt)
		ab.EndedAt = &t
	}
	return ab, nil
}

func scanDataset(row scanner) (model.Dataset, error) {
	var ds model.Dataset
	var createdAt int64
	if err := row.Scan(&ds.ID, &ds.Name, &ds.Region, &createdAt); err != nil {
		return model.Dataset{}, err
	}
	ds.CreatedAt = fromMicros(createdAt)
	return ds, nil
}
