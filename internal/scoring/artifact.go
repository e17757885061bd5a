package scoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Artifact types.
const (
	ArtifactScorecard    = "scorecard"
	ArtifactTreeEnsemble = "tree_ensemble"
)

// artifact is the on-disk envelope of a trained model.
type artifact struct {
	Type  string          `json:"type"`
	Model json.RawMessage `json:"model"`
}

// DecodeArtifact reads a JSON model artifact and returns a validated predictor.
func DecodeArtifact(r io.Reader) (Predictor, error) {
	var a artifact
	dec := json.NewDecoder(r)
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("scoring: decode artifact: %w", err)
	}

	strict := func(v any) error {
		d := json.NewDecoder(bytes.NewReader(a.Model))
		d.DisallowUnknownFields()
		return d.Decode(v)
	}

	switch a.Type {
	case ArtifactScorecard:
		var s Scorecard
		if err := strict(&s); err != nil {
			return nil, fmt.Errorf("scoring: decode scorecard: %w", err)
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("scoring: %w", err)
		}
		return &s, nil
	case ArtifactTreeEnsemble:
		var e TreeEnsemble
		if err := strict(&e); err != nil {
			return nil, fmt.Errorf("scoring: decode tree ensemble: %w", err)
		}
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("scoring: %w", err)
		}
		return &e, nil
	default:
		return nil, fmt.Errorf("scoring: unknown artifact type %q", a.Type)
	}
}

// LoadArtifact opens and decodes the artifact at path.
func LoadArtifact(path string) (Predictor, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the operator-controlled manifest
	if err != nil {
		return nil, fmt.Errorf("scoring: open artifact: %w", err)
	}
	defer func() { _ = f.Close() }()
	return DecodeArtifact(f)
}

// LoadStatistical reads the reference dataset at path and fits method on it.
func LoadStatistical(method, path string, opts DatasetOptions) (Predictor, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the operator-controlled manifest
	if err != nil {
		return nil, fmt.Errorf("scoring: open dataset: %w", err)
	}
	defer func() { _ = f.Close() }()
	ds, err := ReadDataset(f, opts)
	if err != nil {
		return nil, err
	}
	return Fit(method, ds)
}
