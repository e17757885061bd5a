package scoring

import (
	"context"
	"fmt"
)

// MethodScorecard is the method name reported by Scorecard.
const MethodScorecard = "scorecard"

// Scorecard is a logistic credit scorecard. Each numeric input contributes
// Weight times its standardised value; each categorical input contributes
// the weight of its category, or Default when the category was not seen in
// training. The sum plus Intercept is passed through the logistic function
// to give the probability of a good risk.
type Scorecard struct {
	Intercept   float64                `json:"intercept"`
	Numeric     []ScorecardNumeric     `json:"numeric"`
	Categorical []ScorecardCategorical `json:"categorical"`
}

// ScorecardNumeric is a numeric scorecard term.
type ScorecardNumeric struct {
	Name   string  `json:"name"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Weight float64 `json:"weight"`
}

// ScorecardCategorical is a categorical scorecard term.
type ScorecardCategorical struct {
	Name    string             `json:"name"`
	Weights map[string]float64 `json:"weights"`
	Default float64            `json:"default"`
}

var _ Predictor = (*Scorecard)(nil)

// Validate checks the scorecard is usable.
func (s *Scorecard) Validate() error {
	if len(s.Numeric)+len(s.Categorical) == 0 {
		return fmt.Errorf("scorecard has no terms")
	}
	for _, n := range s.Numeric {
		if n.Name == "" || n.Std < 0 {
			return fmt.Errorf("scorecard numeric term %q is invalid", n.Name)
		}
	}
	for _, c := range s.Categorical {
		if c.Name == "" {
			return fmt.Errorf("scorecard categorical term needs a name")
		}
	}
	return nil
}

// Predict implements Predictor.
func (s *Scorecard) Predict(_ context.Context, features map[string]any) (Prediction, error) {
	z := s.Intercept
	points := make(map[string]any, len(s.Numeric)+len(s.Categorical))
	for _, n := range s.Numeric {
		x, err := numberFeature(features, n.Name)
		if err != nil {
			return Prediction{}, err
		}
		if n.Std > 0 {
			x = (x - n.Mean) / n.Std
		}
		points[n.Name] = n.Weight * x
		z += n.Weight * x
	}
	for _, c := range s.Categorical {
		v, err := categoryFeature(features, c.Name)
		if err != nil {
			return Prediction{}, err
		}
		w, ok := c.Weights[v]
		if !ok {
			w = c.Default
		}
		points[c.Name] = w
		z += w
	}
	p := sigmoid(z)
	return Prediction{
		Probability: p,
		Label:       LabelFor(p),
		Method:      MethodScorecard,
		Details:     map[string]any{"points": points, "logit": z},
	}, nil
}
