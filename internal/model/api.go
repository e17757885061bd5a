package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Field length limits for operator-supplied text.
const (
	MaxTitleLen    = 10000
	MaxFeedbackLen = 10000
)

// APIResponse is the standard response envelope for read and write endpoints.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data    any          `json:"data"`
	Total   int          `json:"total"`
	HasMore bool         `json:"has_more"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Meta    ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every envelope.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// APIError is the error body returned by every endpoint. It is flat so that
// prediction clients can branch on Status without unwrapping an envelope.
type APIError struct {
	Status    string `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput     = "INVALID_INPUT"
	ErrCodeUnavailable      = "NO_ALGORITHM"
	ErrCodeAmbiguous        = "AMBIGUOUS_ALGORITHM"
	ErrCodePrediction       = "PREDICTION_FAILED"
	ErrCodeInsufficientData = "INSUFFICIENT_DATA"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeRetryable        = "CONCURRENCY_CONFLICT"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeRateLimited      = "RATE_LIMITED"
)

// Response status values.
const (
	StatusOK    = "OK"
	StatusError = "Error"
)

// PredictResponse is the success body of POST /api/v1/algorithms/predict.
type PredictResponse struct {
	Status      string         `json:"status"`
	Probability float64        `json:"probability"`
	Label       string         `json:"label"`
	Method      string         `json:"method"`
	Details     map[string]any `json:"details,omitempty"`
	RequestID   uuid.UUID      `json:"request_id"`
	AlgorithmID uuid.UUID      `json:"algorithm_id"`
}

// CreateStatusRequest is the request body for POST /api/v1/algorithms/{id}/statuses.
type CreateStatusRequest struct {
	Status string `json:"status"`
}

// FeedbackRequest is the request body for PUT /api/v1/requests/{id}/feedback.
type FeedbackRequest struct {
	Feedback string `json:"feedback"`
}

// CreateABTestRequest is the request body for POST /api/v1/abtests.
type CreateABTestRequest struct {
	Title      string    `json:"title"`
	Algorithm1 uuid.UUID `json:"algorithm_1"`
	Algorithm2 uuid.UUID `json:"algorithm_2"`
}

// Validate checks the shape of an experiment request. Existence of the
// referenced algorithms is checked by the experiment controller.
func (r CreateABTestRequest) Validate() error {
	if r.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(r.Title) > MaxTitleLen {
		return fmt.Errorf("title exceeds maximum length of %d characters", MaxTitleLen)
	}
	if r.Algorithm1 == uuid.Nil || r.Algorithm2 == uuid.Nil {
		return fmt.Errorf("algorithm_1 and algorithm_2 are required")
	}
	if r.Algorithm1 == r.Algorithm2 {
		return fmt.Errorf("algorithm_1 and algorithm_2 must differ")
	}
	return nil
}

// StopABTestResponse is the body returned by POST /api/v1/abtests/{id}/stop_ab_test.
type StopABTestResponse struct {
	Message       string  `json:"message"`
	Summary       string  `json:"summary"`
	AlreadyClosed bool    `json:"already_closed"`
	Accuracy1     float64 `json:"accuracy_1"`
	Accuracy2     float64 `json:"accuracy_2"`
	Winner        string  `json:"winner,omitempty"`
}

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	Operator string `json:"operator"`
	APIKey   string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateOperatorRequest is the request body for POST /api/v1/operators.
// An empty APIKey asks the server to generate one.
type CreateOperatorRequest struct {
	Name   string       `json:"name"`
	Role   OperatorRole `json:"role"`
	APIKey string       `json:"api_key,omitempty"`
}

// OperatorWithKey is returned only when an operator is created, the one
// time the raw API key is available.
type OperatorWithKey struct {
	Operator
	APIKey string `json:"api_key"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Storage    string `json:"storage"`
	Algorithms int    `json:"algorithms_bound"`
	Uptime     int64  `json:"uptime_seconds"`
}
