package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hakari/internal/model"
)

func TestWithRetry_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), 1, time.Millisecond, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_RetriesConflictOnce(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), 1, time.Millisecond, func() error {
		calls++
		if calls == 1 {
			return fmt.Errorf("ledger: %w", ErrConflict)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithRetry_GivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), 1, time.Millisecond, func() error {
		calls++
		return ErrConflict
	})
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 2, calls)
}

func TestWithRetry_DoesNotRetryOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := WithRetry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithRetry(ctx, 3, time.Second, func() error { return ErrConflict })
	require.ErrorIs(t, err, context.Canceled)
}

func TestBuildAlgorithmWhere(t *testing.T) {
	where, args := BuildAlgorithmWhere(model.AlgorithmFilter{Classifier: "income_classifier", Version: "1.0"}, DollarPlaceholder)
	assert.Equal(t, " WHERE (a.name = $1 OR a.endpoint = $2) AND a.version = $3", where)
	assert.Equal(t, []any{"income_classifier", "income_classifier", "1.0"}, args)

	prod := model.StatusProduction
	where, args = BuildAlgorithmWhere(model.AlgorithmFilter{Endpoint: "income_classifier", Status: &prod}, QuestionPlaceholder)
	assert.Equal(t, " WHERE a.endpoint = ? AND s.status = ?", where)
	assert.Equal(t, []any{"income_classifier", "production"}, args)

	where, args = BuildAlgorithmWhere(model.AlgorithmFilter{}, DollarPlaceholder)
	assert.Empty(t, where)
	assert.Nil(t, args)
}
