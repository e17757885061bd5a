package hakari

import (
	"context"
	"net/http"
)

// Predictor scores one applicant. Implementations registered with
// WithAlgorithm are bound next to the manifest's algorithms and served by
// the same router.
//
// features holds the decoded JSON body of a prediction request. Numbers
// arrive as json.Number.
type Predictor interface {
	Predict(ctx context.Context, features map[string]any) (Prediction, error)
}

// PredictorFunc adapts a function to Predictor.
type PredictorFunc func(ctx context.Context, features map[string]any) (Prediction, error)

// Predict implements Predictor.
func (f PredictorFunc) Predict(ctx context.Context, features map[string]any) (Prediction, error) {
	return f(ctx, features)
}

// Middleware wraps the HTTP handler chain. Registered middlewares run
// before request IDs are assigned and before authentication.
type Middleware func(http.Handler) http.Handler
