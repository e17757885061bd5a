// Package experiments runs two-armed A/B tests between algorithms.
//
// Opening an experiment moves both arms to ab_testing, where the router
// splits traffic between them. Closing it measures each arm's accuracy
// (requests whose feedback equals the served label) over the experiment's
// window, promotes the better arm to production and returns the other to
// testing. Close is idempotent: a closed experiment reports its stored
// summary and changes nothing.
package experiments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/hakari/internal/model"
	"github.com/ashita-ai/hakari/internal/service/ledger"
	"github.com/ashita-ai/hakari/internal/storage"
	"github.com/ashita-ai/hakari/internal/telemetry"
)

var (
	// ErrInvalidInput is returned for malformed experiment requests.
	ErrInvalidInput = errors.New("experiments: invalid input")

	// ErrInsufficientData is returned by Close when an arm served no
	// requests during the experiment. The experiment stays open.
	ErrInsufficientData = errors.New("experiments: insufficient data")
)

// OpenInput describes a new experiment.
type OpenInput struct {
	Title      string
	CreatedBy  string
	Algorithm1 uuid.UUID
	Algorithm2 uuid.UUID
}

// ArmResult is the measured performance of one arm.
type ArmResult struct {
	AlgorithmID uuid.UUID
	Total       int64
	Correct     int64
	Accuracy    float64
}

// CloseResult reports the outcome of Close.
type CloseResult struct {
	Test          model.ABTest
	Summary       string
	AlreadyClosed bool
	// Arms and Winner are only set by the call that closed the experiment.
	Arms   [2]ArmResult
	Winner uuid.UUID
}

// Service opens and closes experiments.
type Service struct {
	store  storage.Store
	logger *slog.Logger
	now    func() time.Time
	closes singleflight.Group

	closed metric.Int64Counter
}

// New creates an experiment Service.
func New(store storage.Store, logger *slog.Logger) *Service {
	closed, _ := telemetry.Meter("hakari/experiments").Int64Counter("hakari.abtests.closed",
		metric.WithDescription("Experiments closed, by winning arm"),
	)
	return &Service{store: store, logger: logger, now: time.Now, closed: closed}
}

// Open creates an experiment and moves both arms to ab_testing in one
// transaction.
func (s *Service) Open(ctx context.Context, in OpenInput) (model.ABTest, error) {
	req := model.CreateABTestRequest{Title: in.Title, Algorithm1: in.Algorithm1, Algorithm2: in.Algorithm2}
	if err := req.Validate(); err != nil {
		return model.ABTest{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if in.CreatedBy == "" {
		return model.ABTest{}, fmt.Errorf("%w: created_by is required", ErrInvalidInput)
	}

	var ab model.ABTest
	err := storage.WithRetry(ctx, 1, 10*time.Millisecond, func() error {
		return s.store.WithTx(ctx, func(tx storage.Tx) error {
			now := storage.Normalize(s.now())
			for i, id := range []uuid.UUID{in.Algorithm1, in.Algorithm2} {
				if _, err := tx.LockAlgorithm(ctx, id); err != nil {
					if errors.Is(err, storage.ErrNotFound) {
						return fmt.Errorf("%w: algorithm_%d %s does not exist", ErrInvalidInput, i+1, id)
					}
					return err
				}
			}
			ab = model.ABTest{
				ID:         uuid.New(),
				Title:      in.Title,
				CreatedBy:  in.CreatedBy,
				CreatedAt:  now,
				Algorithm1: in.Algorithm1,
				Algorithm2: in.Algorithm2,
			}
			if err := tx.CreateABTest(ctx, ab); err != nil {
				return err
			}
			for _, id := range []uuid.UUID{in.Algorithm1, in.Algorithm2} {
				if _, err := ledger.Transition(ctx, tx, id, model.StatusABTesting, in.CreatedBy, now); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return model.ABTest{}, fmt.Errorf("experiments: open: %w", err)
	}

	s.logger.Info("ab test opened",
		"ab_test_id", ab.ID, "algorithm_1", ab.Algorithm1, "algorithm_2", ab.Algorithm2, "created_by", ab.CreatedBy)
	return ab, nil
}

// Close ends an experiment and promotes the winner. Concurrent calls for
// the same id in this process share one execution; across processes the
// experiment row lock serialises them and the loser sees AlreadyClosed.
func (s *Service) Close(ctx context.Context, id uuid.UUID, closedBy string) (CloseResult, error) {
	v, err, _ := s.closes.Do(id.String(), func() (any, error) {
		// The shared call must not die with whichever caller started it.
		return s.close(context.WithoutCancel(ctx), id, closedBy)
	})
	if err != nil {
		return CloseResult{}, err
	}
	return v.(CloseResult), nil
}

func (s *Service) close(ctx context.Context, id uuid.UUID, closedBy string) (CloseResult, error) {
	var res CloseResult
	err := storage.WithRetry(ctx, 1, 10*time.Millisecond, func() error {
		res = CloseResult{}
		return s.store.WithTx(ctx, func(tx storage.Tx) error {
			ab, err := tx.LockABTest(ctx, id)
			if err != nil {
				return err
			}
			if !ab.Open() {
				res = CloseResult{Test: ab, AlreadyClosed: true}
				if ab.Summary != nil {
					res.Summary = *ab.Summary
				}
				return nil
			}

			now := storage.Normalize(s.now())
			var arms [2]ArmResult
			for i, algID := range []uuid.UUID{ab.Algorithm1, ab.Algorithm2} {
				counts, err := tx.CountRequests(ctx, algID, ab.CreatedAt, now)
				if err != nil {
					return err
				}
				acc, ok := counts.Accuracy()
				if !ok {
					return fmt.Errorf("%w: algorithm #%d (%s) served no requests since %s",
						ErrInsufficientData, i+1, algID, ab.CreatedAt.Format(time.RFC3339))
				}
				arms[i] = ArmResult{AlgorithmID: algID, Total: counts.Total, Correct: counts.Correct, Accuracy: acc}
			}

			// Exact ties go to arm 1.
			winner, loser := arms[0].AlgorithmID, arms[1].AlgorithmID
			if arms[1].Accuracy > arms[0].Accuracy {
				winner, loser = loser, winner
			}
			if _, err := ledger.Transition(ctx, tx, winner, model.StatusProduction, closedBy, now); err != nil {
				return err
			}
			if _, err := ledger.Transition(ctx, tx, loser, model.StatusTesting, closedBy, now); err != nil {
				return err
			}

			summary := Summary(arms[0].Accuracy, arms[1].Accuracy)
			if err := tx.FinishABTest(ctx, ab.ID, now, summary); err != nil {
				return err
			}
			ab.EndedAt = &now
			ab.Summary = &summary
			res = CloseResult{Test: ab, Summary: summary, Arms: arms, Winner: winner}
			return nil
		})
	})
	if err != nil {
		return CloseResult{}, fmt.Errorf("experiments: close %s: %w", id, err)
	}

	if !res.AlreadyClosed {
		s.closed.Add(ctx, 1, metric.WithAttributes(attribute.Bool("arm_1_won", res.Winner == res.Test.Algorithm1)))
		s.logger.Info("ab test closed",
			"ab_test_id", id, "winner", res.Winner, "summary", res.Summary, "closed_by", closedBy)
	}
	return res, nil
}

// Summary renders the stored experiment summary.
func Summary(accuracy1, accuracy2 float64) string {
	return fmt.Sprintf("Algorithm #1 accuracy: %.4f, Algorithm #2 accuracy: %.4f", accuracy1, accuracy2)
}

// Get returns one experiment.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (model.ABTest, error) {
	return s.store.GetABTest(ctx, id)
}

// List returns one page of experiments, newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]model.ABTest, int, error) {
	return s.store.ListABTests(ctx, limit, offset)
}
