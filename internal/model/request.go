package model

import (
	"time"

	"github.com/google/uuid"
)

// Request is the durable record of one prediction. Feedback is the only
// field that may change after creation.
type Request struct {
	ID           uuid.UUID      `json:"id"`
	AlgorithmID  uuid.UUID      `json:"algorithm"`
	InputData    map[string]any `json:"input_data"`
	FullResponse map[string]any `json:"full_response"`
	Response     string         `json:"response"`
	Feedback     *string        `json:"feedback"`
	CreatedBy    string         `json:"created_by"`
	CreatedAt    time.Time      `json:"created_at"`
}

// RequestFilter narrows request listings.
type RequestFilter struct {
	AlgorithmID *uuid.UUID
	From        *time.Time
	To          *time.Time
}

// RequestCounts summarises requests of one algorithm over a window.
type RequestCounts struct {
	Total   int64
	Correct int64
}

// Accuracy returns Correct/Total. The second return value is false when
// there were no requests, in which case accuracy is undefined.
func (c RequestCounts) Accuracy() (float64, bool) {
	if c.Total == 0 {
		return 0, false
	}
	return float64(c.Correct) / float64(c.Total), true
}
