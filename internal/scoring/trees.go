package scoring

import (
	"context"
	"fmt"
)

// Ensemble kinds.
const (
	MethodRandomForest     = "random_forest"
	MethodGradientBoosting = "gradient_boosting"
)

// TreeEnsemble is a forest of binary decision trees over label-encoded
// features. A random forest averages the leaf values, which are
// probabilities of a good risk. A gradient-boosted ensemble sums the leaf
// values as log-odds on top of BaseScore and applies the logistic function.
type TreeEnsemble struct {
	Kind         string    `json:"kind"`
	Features     []Feature `json:"features"`
	Trees        []Tree    `json:"trees"`
	BaseScore    float64   `json:"base_score,omitempty"`
	LearningRate float64   `json:"learning_rate,omitempty"`
}

// Tree is a flattened binary tree; Nodes[0] is the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Node is either a split or a leaf. A split sends an example left when its
// value for Feature is less than or equal to Threshold.
type Node struct {
	Leaf      bool    `json:"leaf,omitempty"`
	Value     float64 `json:"value,omitempty"`
	Feature   int     `json:"feature,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Left      int     `json:"left,omitempty"`
	Right     int     `json:"right,omitempty"`
}

var _ Predictor = (*TreeEnsemble)(nil)

// Validate checks the structure of every tree so Predict can walk them
// without bounds checks failing at request time.
func (e *TreeEnsemble) Validate() error {
	switch e.Kind {
	case MethodRandomForest, MethodGradientBoosting:
	default:
		return fmt.Errorf("tree ensemble: unknown kind %q", e.Kind)
	}
	if len(e.Trees) == 0 {
		return fmt.Errorf("tree ensemble: no trees")
	}
	for _, f := range e.Features {
		if err := f.validate(); err != nil {
			return fmt.Errorf("tree ensemble: %w", err)
		}
	}
	for ti, t := range e.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("tree ensemble: tree %d is empty", ti)
		}
		for ni, n := range t.Nodes {
			if n.Leaf {
				continue
			}
			if n.Feature < 0 || n.Feature >= len(e.Features) {
				return fmt.Errorf("tree ensemble: tree %d node %d: feature %d out of range", ti, ni, n.Feature)
			}
			// Children must point forward, which also rules out cycles.
			if n.Left <= ni || n.Left >= len(t.Nodes) || n.Right <= ni || n.Right >= len(t.Nodes) {
				return fmt.Errorf("tree ensemble: tree %d node %d: child index out of range", ti, ni)
			}
		}
	}
	return nil
}

// Predict implements Predictor.
func (e *TreeEnsemble) Predict(_ context.Context, features map[string]any) (Prediction, error) {
	x, err := encodeAll(e.Features, features)
	if err != nil {
		return Prediction{}, err
	}

	var sum float64
	for _, t := range e.Trees {
		sum += t.eval(x)
	}

	var p float64
	switch e.Kind {
	case MethodRandomForest:
		p = sum / float64(len(e.Trees))
	default:
		lr := e.LearningRate
		if lr == 0 {
			lr = 1
		}
		p = sigmoid(e.BaseScore + lr*sum)
	}
	return Prediction{
		Probability: p,
		Label:       LabelFor(p),
		Method:      e.Kind,
		Details:     map[string]any{"trees": len(e.Trees)},
	}, nil
}

func (t Tree) eval(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}
