// Package scoring holds the credit-risk predictors served by Hakari.
//
// Every model, whether loaded from a trained artifact or fitted on a
// reference dataset at startup, is exposed through the Predictor interface.
// Predictors are immutable after construction and safe for concurrent use.
package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Labels returned by the credit-risk predictors.
const (
	LabelGood = "good"
	LabelBad  = "bad"
)

// Threshold is the probability above which an applicant is labelled good.
const Threshold = 0.5

var (
	// ErrInvalidInput is returned when a feature has the wrong type or an
	// unknown category.
	ErrInvalidInput = errors.New("scoring: invalid input")

	// ErrMissingFeature is returned when a required feature is absent or null.
	ErrMissingFeature = errors.New("scoring: missing feature")
)

// Prediction is the result of scoring one applicant.
type Prediction struct {
	Probability float64        `json:"probability"`
	Label       string         `json:"label"`
	Method      string         `json:"method"`
	Details     map[string]any `json:"details,omitempty"`
}

// Predictor scores one applicant's features.
type Predictor interface {
	Predict(ctx context.Context, features map[string]any) (Prediction, error)
}

// PredictorFunc adapts a function to the Predictor interface.
type PredictorFunc func(ctx context.Context, features map[string]any) (Prediction, error)

// Predict calls f.
func (f PredictorFunc) Predict(ctx context.Context, features map[string]any) (Prediction, error) {
	return f(ctx, features)
}

// LabelFor maps a probability of being a good risk to a label.
func LabelFor(p float64) string {
	if p > Threshold {
		return LabelGood
	}
	return LabelBad
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// numberFeature extracts a numeric feature. JSON numbers, Go numeric types
// and numeric strings are accepted.
func numberFeature(features map[string]any, name string) (float64, error) {
	v, ok := features[name]
	if !ok || v == nil {
		return 0, fmt.Errorf("%w: %s", ErrMissingFeature, name)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s is not a number", ErrInvalidInput, name)
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s=%q is not a number", ErrInvalidInput, name, n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %s has unsupported type %T", ErrInvalidInput, name, v)
	}
}

// categoryFeature extracts a categorical feature as its string form.
// Integral numbers are formatted without a decimal point so that a JSON 2
// matches the category "2".
func categoryFeature(features map[string]any, name string) (string, error) {
	v, ok := features[name]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: %s", ErrMissingFeature, name)
	}
	switch c := v.(type) {
	case string:
		if c == "" {
			return "", fmt.Errorf("%w: %s", ErrMissingFeature, name)
		}
		return c, nil
	case bool:
		return strconv.FormatBool(c), nil
	default:
		f, err := numberFeature(features, name)
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
}
