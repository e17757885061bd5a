package scoring

import (
	"fmt"
	"slices"
)

// Feature kinds.
const (
	KindNumeric     = "numeric"
	KindCategorical = "categorical"
)

// Feature describes how one raw input is turned into a model input.
//
// Numeric features are standardised with Mean and Std when Std is
// positive. Categorical features are label-encoded: the code of a category
// is its index in Classes, which must be sorted.
type Feature struct {
	Name    string   `json:"name" yaml:"name"`
	Kind    string   `json:"kind" yaml:"kind"`
	Classes []string `json:"classes,omitempty" yaml:"classes,omitempty"`
	Mean    float64  `json:"mean,omitempty" yaml:"mean,omitempty"`
	Std     float64  `json:"std,omitempty" yaml:"std,omitempty"`
}

func (f Feature) validate() error {
	switch f.Kind {
	case KindNumeric:
		if f.Std < 0 {
			return fmt.Errorf("feature %s: std must not be negative", f.Name)
		}
	case KindCategorical:
		if len(f.Classes) == 0 {
			return fmt.Errorf("feature %s: categorical feature needs classes", f.Name)
		}
		if !slices.IsSorted(f.Classes) {
			return fmt.Errorf("feature %s: classes must be sorted", f.Name)
		}
	default:
		return fmt.Errorf("feature %s: unknown kind %q", f.Name, f.Kind)
	}
	if f.Name == "" {
		return fmt.Errorf("feature name is required")
	}
	return nil
}

// encode converts the raw value of f into a float.
func (f Feature) encode(features map[string]any) (float64, error) {
	if f.Kind == KindCategorical {
		c, err := categoryFeature(features, f.Name)
		if err != nil {
			return 0, err
		}
		idx, found := slices.BinarySearch(f.Classes, c)
		if !found {
			return 0, fmt.Errorf("%w: %s has unknown category %q", ErrInvalidInput, f.Name, c)
		}
		return float64(idx), nil
	}
	x, err := numberFeature(features, f.Name)
	if err != nil {
		return 0, err
	}
	if f.Std > 0 {
		x = (x - f.Mean) / f.Std
	}
	return x, nil
}

// encodeAll encodes features in schema order.
func encodeAll(schema []Feature, features map[string]any) ([]float64, error) {
	x := make([]float64, len(schema))
	for i, f := range schema {
		v, err := f.encode(features)
		if err != nil {
			return nil, err
		}
		x[i] = v
	}
	return x, nil
}
