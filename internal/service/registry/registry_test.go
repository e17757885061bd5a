package registry_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hakari/internal/model"
	"github.com/ashita-ai/hakari/internal/scoring"
	"github.com/ashita-ai/hakari/internal/service/registry"
	"github.com/ashita-ai/hakari/internal/testutil"
)

func fixed(label string, p float64) scoring.Predictor {
	return scoring.PredictorFunc(func(context.Context, map[string]any) (scoring.Prediction, error) {
		return scoring.Prediction{Probability: p, Label: label, Method: "fixed"}, nil
	})
}

func rfDescriptor() registry.Descriptor {
	return registry.Descriptor{
		Classifier:  "random_forest",
		Endpoint:    "income_classifier",
		Description: "Random Forest with simple pre and post-processing",
		Version:     "0.0.1",
		CreatedBy:   "xurror",
		Dataset:     "German",
		Region:      "Germany",
		Status:      model.StatusProduction,
		Predictor:   fixed(scoring.LabelGood, 0.8),
	}
}

func TestRegister_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewSQLite(t)
	reg := registry.New(store, testutil.TestLogger())

	first, err := reg.Register(ctx, rfDescriptor())
	require.NoError(t, err)
	second, err := reg.Register(ctx, rfDescriptor())
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, reg.Len())

	algs, err := store.FindAlgorithms(ctx, model.AlgorithmFilter{Endpoint: "income_classifier"})
	require.NoError(t, err)
	require.Len(t, algs, 1)
	require.NotNil(t, algs[0].Dataset)
	assert.Equal(t, "German", *algs[0].Dataset)
	assert.Equal(t, "Germany", *algs[0].Region)
	require.NotNil(t, algs[0].Status)
	assert.Equal(t, model.StatusProduction, *algs[0].Status)

	entries, err := store.ListStatuses(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "the initial status is written only when the row is created")
}

func TestRegister_ReRegisterKeepsCurrentStatus(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewSQLite(t)
	reg := registry.New(store, testutil.TestLogger())

	d := rfDescriptor()
	d.Status = model.StatusTesting
	alg, err := reg.Register(ctx, d)
	require.NoError(t, err)

	d.Status = model.StatusProduction
	again, err := reg.Register(ctx, d)
	require.NoError(t, err)
	require.NotNil(t, again.Status)
	assert.Equal(t, model.StatusTesting, *again.Status)
	assert.Equal(t, alg.ID, again.ID)
}

func TestRegister_DistinctKeys(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewSQLite(t)
	reg := registry.New(store, testutil.TestLogger())

	a, err := reg.Register(ctx, rfDescriptor())
	require.NoError(t, err)

	d := rfDescriptor()
	d.Version = "0.0.2"
	b, err := reg.Register(ctx, d)
	require.NoError(t, err)

	d = rfDescriptor()
	d.Dataset, d.Region = "", ""
	c, err := reg.Register(ctx, d)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, c.ID)
	assert.Equal(t, 3, reg.Len())
}

func TestRegister_Validation(t *testing.T) {
	reg := registry.New(testutil.NewSQLite(t), testutil.TestLogger())
	for name, mutate := range map[string]func(*registry.Descriptor){
		"no classifier": func(d *registry.Descriptor) { d.Classifier = "" },
		"no endpoint":   func(d *registry.Descriptor) { d.Endpoint = "" },
		"no version":    func(d *registry.Descriptor) { d.Version = "" },
		"no author":     func(d *registry.Descriptor) { d.CreatedBy = "" },
		"no predictor":  func(d *registry.Descriptor) { d.Predictor = nil },
		"bad status":    func(d *registry.Descriptor) { d.Status = "retired" },
		"region only":   func(d *registry.Descriptor) { d.Dataset = "" },
	} {
		t.Run(name, func(t *testing.T) {
			d := rfDescriptor()
			mutate(&d)
			_, err := reg.Register(context.Background(), d)
			require.ErrorIs(t, err, registry.ErrInvalidDescriptor)
		})
	}
}

func TestLookupAndSeal(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(testutil.NewSQLite(t), testutil.TestLogger())

	alg, err := reg.Register(ctx, rfDescriptor())
	require.NoError(t, err)

	p, err := reg.Lookup(alg.ID)
	require.NoError(t, err)
	pred, err := p.Predict(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, scoring.LabelGood, pred.Label)

	_, err = reg.Lookup(uuid.New())
	require.ErrorIs(t, err, registry.ErrNotBound)

	reg.Seal()
	assert.True(t, reg.Sealed())
	d := rfDescriptor()
	d.Version = "9.9.9"
	_, err = reg.Register(ctx, d)
	require.ErrorIs(t, err, registry.ErrSealed)

	_, err = reg.Lookup(alg.ID)
	require.NoError(t, err, "lookups keep working after seal")
}

const scorecardArtifact = `{
  "type": "scorecard",
  "model": {
    "intercept": 0.2,
    "numeric": [{"name": "duration", "mean": 20, "std": 12, "weight": -0.8}],
    "categorical": [{"name": "housing", "weights": {"own": 0.3}, "default": -0.2}]
  }
}`

func writeReference(t *testing.T, path string) {
	t.Helper()
	var b strings.Builder
	b.WriteString("Age,Housing,Duration,Risk\n")
	housing := []string{"own", "rent", "free"}
	for i := range 20 {
		fmt.Fprintf(&b, "%d,%s,%d,good\n", 25+i%7, housing[i%3], 6+(i*5)%11)
		fmt.Fprintf(&b, "%d,%s,%d,bad\n", 27+(i*3)%9, housing[(i+2)%3], 30+(i*7)%13)
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
}

func TestBootstrap(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scorecard.json"), []byte(scorecardArtifact), 0o600))
	writeReference(t, filepath.Join(dir, "german.csv"))

	manifest := `
algorithms:
  - classifier: scorecard
    endpoint: income_classifier
    version: 1.0.0
    created_by: xurror
    status: production
    artifact: scorecard.json
  - classifier: linear_regression
    endpoint: income_classifier
    version: 1.0.0
    created_by: xurror
    status: staging
    dataset: German
    region: Germany
    reference:
      path: german.csv
      target: risk
`
	m, err := registry.ParseManifest(strings.NewReader(manifest), dir)
	require.NoError(t, err)
	require.Len(t, m.Algorithms, 2)

	store := testutil.NewSQLite(t)
	reg := registry.New(store, testutil.TestLogger())
	require.NoError(t, reg.Bootstrap(ctx, m))
	assert.True(t, reg.Sealed())
	assert.Equal(t, 2, reg.Len())

	algs, err := store.FindAlgorithms(ctx, model.AlgorithmFilter{Classifier: "linear_regression"})
	require.NoError(t, err)
	require.Len(t, algs, 1)
	p, err := reg.Lookup(algs[0].ID)
	require.NoError(t, err)
	pred, err := p.Predict(ctx, map[string]any{"age": 30, "housing": "own", "duration": 8})
	require.NoError(t, err)
	assert.Equal(t, scoring.MethodLinearRegression, pred.Method)
	assert.Equal(t, scoring.LabelGood, pred.Label)

	// A second process replaying the same manifest reuses the catalog rows.
	again := registry.New(store, testutil.TestLogger())
	require.NoError(t, again.Bootstrap(ctx, m))
	all, err := store.FindAlgorithms(ctx, model.AlgorithmFilter{Endpoint: "income_classifier"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestParseManifest_Rejects(t *testing.T) {
	for name, doc := range map[string]string{
		"statistical without reference": "algorithms:\n  - {classifier: manova, endpoint: e, version: '1', created_by: x}\n",
		"model without artifact":        "algorithms:\n  - {classifier: random_forest, endpoint: e, version: '1', created_by: x}\n",
		"bad status":                    "algorithms:\n  - {classifier: random_forest, endpoint: e, version: '1', created_by: x, artifact: a.json, status: live}\n",
		"unknown field":                 "algorithms:\n  - {classifier: random_forest, endpoint: e, version: '1', created_by: x, artifact: a.json, colour: red}\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := registry.ParseManifest(strings.NewReader(doc), "")
			require.Error(t, err)
		})
	}
}

func TestBootstrap_MissingArtifactLeavesRegistryOpen(t *testing.T) {
	m, err := registry.ParseManifest(strings.NewReader(
		"algorithms:\n  - {classifier: random_forest, endpoint: e, version: '1', created_by: x, artifact: missing.json}\n",
	), t.TempDir())
	require.NoError(t, err)

	reg := registry.New(testutil.NewSQLite(t), testutil.TestLogger())
	require.Error(t, reg.Bootstrap(context.Background(), m))
	assert.False(t, reg.Sealed())
	assert.Equal(t, 0, reg.Len())
}
