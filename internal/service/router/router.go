// Package router resolves a prediction request to exactly one algorithm,
// dispatches to its predictor and records the request.
//
// Resolution considers only catalog rows whose current status matches the
// requested one (production by default). Algorithms in an A/B test share
// traffic uniformly at random; any other ambiguity is an error rather than
// an arbitrary pick.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/hakari/internal/model"
	"github.com/ashita-ai/hakari/internal/scoring"
	"github.com/ashita-ai/hakari/internal/storage"
	"github.com/ashita-ai/hakari/internal/telemetry"
)

// Errors returned by Predict. All but a bound-predictor failure are the
// caller's to fix.
var (
	ErrInvalidFilter = errors.New("router: classifier or endpoint is required")
	ErrUnavailable   = errors.New("router: no algorithm matches")
	ErrAmbiguous     = errors.New("router: more than one algorithm matches")
	ErrPrediction    = errors.New("router: prediction failed")
	ErrNoFeedback    = errors.New("router: feedback must not be empty")
)

// Filter selects candidate algorithms. Classifier matches either the
// algorithm name or its endpoint label; Endpoint matches the label only.
type Filter struct {
	Classifier string
	Endpoint   string
	Version    string
	Status     model.Status
	Dataset    string
	Region     string
}

// Lookup resolves an algorithm id to its predictor.
type Lookup interface {
	Lookup(id uuid.UUID) (scoring.Predictor, error)
}

// Result is a successful, recorded prediction.
type Result struct {
	scoring.Prediction
	AlgorithmID uuid.UUID
	RequestID   uuid.UUID
}

// Router dispatches predictions.
type Router struct {
	store    storage.Store
	registry Lookup
	logger   *slog.Logger
	intn     func(n int) int
	now      func() time.Time

	predictions metric.Int64Counter
	latency     metric.Float64Histogram
}

// Option configures a Router.
type Option func(*Router)

// WithRand replaces the uniform integer source used to split A/B traffic.
func WithRand(intn func(n int) int) Option {
	return func(r *Router) { r.intn = intn }
}

// New creates a Router.
func New(store storage.Store, registry Lookup, logger *slog.Logger, opts ...Option) *Router {
	meter := telemetry.Meter("hakari/router")
	predictions, _ := meter.Int64Counter("hakari.predictions",
		metric.WithDescription("Predictions served, by outcome"),
	)
	latency, _ := meter.Float64Histogram("hakari.prediction.duration",
		metric.WithDescription("Time to resolve, score and record a prediction (ms)"),
		metric.WithUnit("ms"),
	)
	r := &Router{
		store:       store,
		registry:    registry,
		logger:      logger,
		intn:        rand.IntN,
		now:         time.Now,
		predictions: predictions,
		latency:     latency,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the single algorithm a request with this filter would be
// served by. It writes nothing.
func (r *Router) Resolve(ctx context.Context, f Filter) (model.Algorithm, error) {
	if f.Classifier == "" && f.Endpoint == "" {
		return model.Algorithm{}, ErrInvalidFilter
	}
	st := f.Status
	if st == "" {
		st = model.DefaultStatus
	}
	if !st.Valid() {
		return model.Algorithm{}, fmt.Errorf("%w: invalid status %q", ErrInvalidFilter, st)
	}

	candidates, err := r.store.FindAlgorithms(ctx, model.AlgorithmFilter{
		Classifier: f.Classifier,
		Endpoint:   f.Endpoint,
		Version:    f.Version,
		Dataset:    f.Dataset,
		Region:     f.Region,
		Status:     &st,
	})
	if err != nil {
		return model.Algorithm{}, fmt.Errorf("router: find candidates: %w", err)
	}

	switch {
	case len(candidates) == 0:
		return model.Algorithm{}, fmt.Errorf("%w: %s", ErrUnavailable, describe(f, st))
	case st == model.StatusABTesting:
		return candidates[r.intn(len(candidates))], nil
	case len(candidates) == 1:
		return candidates[0], nil
	}

	// A bare label with no version most often names an endpoint; prefer
	// rows registered under that endpoint before giving up.
	if f.Version == "" && f.Classifier != "" {
		var narrowed []model.Algorithm
		for _, c := range candidates {
			if c.Endpoint == f.Classifier {
				narrowed = append(narrowed, c)
			}
		}
		if len(narrowed) == 1 {
			return narrowed[0], nil
		}
	}
	return model.Algorithm{}, fmt.Errorf("%w: %d candidates for %s", ErrAmbiguous, len(candidates), describe(f, st))
}

// Predict resolves f, scores payload and records exactly one request on
// success. Nothing is recorded when resolution or scoring fails.
func (r *Router) Predict(ctx context.Context, f Filter, payload map[string]any, createdBy string) (Result, error) {
	start := time.Now()
	outcome := "error"
	defer func() {
		attrs := metric.WithAttributes(attribute.String("outcome", outcome))
		r.predictions.Add(ctx, 1, attrs)
		r.latency.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)
	}()

	alg, err := r.Resolve(ctx, f)
	if err != nil {
		return Result{}, err
	}
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("hakari.algorithm_id", alg.ID.String()),
		attribute.String("hakari.endpoint", alg.Endpoint),
	)

	predictor, err := r.registry.Lookup(alg.ID)
	if err != nil {
		r.logger.Error("catalog entry has no bound predictor",
			"algorithm_id", alg.ID, "classifier", alg.Name, "version", alg.Version)
		return Result{}, err
	}

	pred, err := safePredict(ctx, predictor, payload)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrPrediction, err)
	}

	if createdBy == "" {
		createdBy = "anonymous"
	}
	req, err := r.store.CreateRequest(ctx, model.Request{
		ID:           uuid.New(),
		AlgorithmID:  alg.ID,
		InputData:    payload,
		FullResponse: fullResponse(pred),
		Response:     pred.Label,
		CreatedBy:    createdBy,
		CreatedAt:    storage.Normalize(r.now()),
	})
	if err != nil {
		return Result{}, fmt.Errorf("router: record request: %w", err)
	}

	outcome = "ok"
	return Result{Prediction: pred, AlgorithmID: alg.ID, RequestID: req.ID}, nil
}

// SetFeedback attaches the observed outcome to a recorded request.
func (r *Router) SetFeedback(ctx context.Context, requestID uuid.UUID, feedback string) (model.Request, error) {
	if feedback == "" {
		return model.Request{}, ErrNoFeedback
	}
	if len(feedback) > model.MaxFeedbackLen {
		return model.Request{}, fmt.Errorf("%w: exceeds %d characters", ErrNoFeedback, model.MaxFeedbackLen)
	}
	return r.store.SetFeedback(ctx, requestID, feedback)
}

// safePredict converts a panicking model into an error.
func safePredict(ctx context.Context, p scoring.Predictor, payload map[string]any) (pred scoring.Prediction, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("model panicked: %v", rec)
		}
	}()
	if payload == nil {
		payload = map[string]any{}
	}
	return p.Predict(ctx, payload)
}

func fullResponse(p scoring.Prediction) map[string]any {
	out := map[string]any{
		"status":      model.StatusOK,
		"probability": p.Probability,
		"label":       p.Label,
		"method":      p.Method,
	}
	if len(p.Details) > 0 {
		out["details"] = p.Details
	}
	return out
}

func describe(f Filter, st model.Status) string {
	s := fmt.Sprintf("classifier=%q endpoint=%q status=%s", f.Classifier, f.Endpoint, st)
	if f.Version != "" {
		s += fmt.Sprintf(" version=%q", f.Version)
	}
	if f.Dataset != "" {
		s += fmt.Sprintf(" dataset=%q", f.Dataset)
	}
	if f.Region != "" {
		s += fmt.Sprintf(" region=%q", f.Region)
	}
	return s
}
