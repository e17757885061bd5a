package scoring

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// applicant mirrors the fields of the German credit dataset.
var applicant = map[string]any{
	"age":           22.0,
	"sex":           "female",
	"job":           2.0,
	"housing":       "own",
	"credit_amount": 5951.0,
	"duration":      48.0,
	"purpose":       "radio/TV",
}

func testScorecard() *Scorecard {
	return &Scorecard{
		Intercept: 0.4,
		Numeric: []ScorecardNumeric{
			{Name: "duration", Mean: 20, Std: 12, Weight: -0.9},
			{Name: "credit_amount", Mean: 3000, Std: 2800, Weight: -0.3},
		},
		Categorical: []ScorecardCategorical{
			{Name: "housing", Weights: map[string]float64{"own": 0.35, "rent": -0.2, "free": -0.1}, Default: -0.5},
		},
	}
}

func TestScorecard_Predict(t *testing.T) {
	pred, err := testScorecard().Predict(context.Background(), applicant)
	require.NoError(t, err)

	// z = 0.4 - 0.9*(48-20)/12 - 0.3*(5951-3000)/2800 + 0.35
	assert.InDelta(t, 0.4-0.9*28.0/12-0.3*2951.0/2800+0.35, pred.Details["logit"], 1e-9)
	assert.Less(t, pred.Probability, 0.5)
	assert.Equal(t, LabelBad, pred.Label)
	assert.Equal(t, MethodScorecard, pred.Method)

	short := map[string]any{"duration": 6, "credit_amount": 1000, "housing": "own"}
	pred, err = testScorecard().Predict(context.Background(), short)
	require.NoError(t, err)
	assert.Greater(t, pred.Probability, 0.5)
	assert.Equal(t, LabelGood, pred.Label)
}

func TestScorecard_UnknownCategoryUsesDefault(t *testing.T) {
	in := map[string]any{"duration": 20.0, "credit_amount": 3000.0, "housing": "boat"}
	pred, err := testScorecard().Predict(context.Background(), in)
	require.NoError(t, err)
	assert.InDelta(t, 0.4-0.5, pred.Details["logit"], 1e-9)
}

func TestScorecard_MissingAndInvalidFeatures(t *testing.T) {
	_, err := testScorecard().Predict(context.Background(), map[string]any{"duration": 12.0, "housing": "own"})
	require.ErrorIs(t, err, ErrMissingFeature)

	_, err = testScorecard().Predict(context.Background(), map[string]any{
		"duration": "long", "credit_amount": 100.0, "housing": "own",
	})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func testForest() *TreeEnsemble {
	return &TreeEnsemble{
		Kind: MethodRandomForest,
		Features: []Feature{
			{Name: "duration", Kind: KindNumeric},
			{Name: "housing", Kind: KindCategorical, Classes: []string{"free", "own", "rent"}},
		},
		Trees: []Tree{
			{Nodes: []Node{
				{Feature: 0, Threshold: 24, Left: 1, Right: 2},
				{Leaf: true, Value: 0.8},
				{Leaf: true, Value: 0.3},
			}},
			{Nodes: []Node{
				{Feature: 1, Threshold: 1, Left: 1, Right: 2},
				{Leaf: true, Value: 0.7},
				{Leaf: true, Value: 0.2},
			}},
		},
	}
}

func TestTreeEnsemble_RandomForest(t *testing.T) {
	f := testForest()
	require.NoError(t, f.Validate())

	pred, err := f.Predict(context.Background(), applicant)
	require.NoError(t, err)
	// duration 48 -> 0.3; housing own (code 1) -> 0.7
	assert.InDelta(t, 0.5, pred.Probability, 1e-9)
	assert.Equal(t, LabelBad, pred.Label, "0.5 is not above the threshold")
	assert.Equal(t, MethodRandomForest, pred.Method)

	pred, err = f.Predict(context.Background(), map[string]any{"duration": 12, "housing": "free"})
	require.NoError(t, err)
	assert.InDelta(t, 0.75, pred.Probability, 1e-9)
	assert.Equal(t, LabelGood, pred.Label)
}

func TestTreeEnsemble_GradientBoosting(t *testing.T) {
	f := testForest()
	f.Kind = MethodGradientBoosting
	f.BaseScore = -0.5
	f.LearningRate = 0.1

	pred, err := f.Predict(context.Background(), map[string]any{"duration": 12, "housing": "free"})
	require.NoError(t, err)
	assert.InDelta(t, sigmoid(-0.5+0.1*1.5), pred.Probability, 1e-9)
	assert.Equal(t, MethodGradientBoosting, pred.Method)
}

func TestTreeEnsemble_UnknownCategory(t *testing.T) {
	_, err := testForest().Predict(context.Background(), map[string]any{"duration": 12, "housing": "boat"})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestTreeEnsemble_ValidateRejectsBadStructure(t *testing.T) {
	f := testForest()
	f.Trees[0].Nodes[0].Left = 0
	require.Error(t, f.Validate())

	f = testForest()
	f.Trees[1].Nodes[0].Feature = 5
	require.Error(t, f.Validate())

	f = testForest()
	f.Features[1].Classes = []string{"rent", "own"}
	require.Error(t, f.Validate())

	f = testForest()
	f.Kind = "svm"
	require.Error(t, f.Validate())
}

func TestDecodeArtifact(t *testing.T) {
	p, err := DecodeArtifact(strings.NewReader(`{
		"type": "scorecard",
		"model": {
			"intercept": 1.0,
			"numeric": [{"name": "duration", "mean": 20, "std": 10, "weight": -1}],
			"categorical": []
		}
	}`))
	require.NoError(t, err)
	pred, err := p.Predict(context.Background(), map[string]any{"duration": 20})
	require.NoError(t, err)
	assert.InDelta(t, sigmoid(1), pred.Probability, 1e-9)

	_, err = DecodeArtifact(strings.NewReader(`{"type": "neural_net", "model": {}}`))
	require.Error(t, err)

	_, err = DecodeArtifact(strings.NewReader(`{"type": "scorecard", "model": {"intercept": 1, "bogus": 2}}`))
	require.Error(t, err)
}

// referenceCSV builds a small, well separated dataset: good applicants take
// short loans, bad applicants long ones. It has a pandas index column, a
// dropped column and some incomplete rows.
func referenceCSV() string {
	var b strings.Builder
	b.WriteString(",Age,Housing,Duration,Saving accounts,Risk\n")
	housing := []string{"own", "rent", "free"}
	row := 0
	for i := range 30 {
		fmt.Fprintf(&b, "%d,%d,%s,%d,little,good\n", row, 25+i%10, housing[i%3], 6+(i*7)%12)
		row++
		fmt.Fprintf(&b, "%d,%d,%s,%d,,bad\n", row, 28+(i*3)%11, housing[(i+1)%3], 30+(i*5)%12)
		row++
	}
	fmt.Fprintf(&b, "%d,40,own,,little,good\n", row)
	fmt.Fprintf(&b, "%d,41,NA,12,little,bad\n", row+1)
	return b.String()
}

func readReference(t *testing.T) *Dataset {
	t.Helper()
	ds, err := ReadDataset(strings.NewReader(referenceCSV()), DatasetOptions{
		IndexColumn: true,
		Drop:        []string{"saving_accounts"},
	})
	require.NoError(t, err)
	return ds
}

func TestReadDataset(t *testing.T) {
	ds := readReference(t)
	assert.Len(t, ds.X, 60, "incomplete rows are dropped")
	assert.Equal(t, []string{"bad", "good"}, ds.Classes)
	require.Len(t, ds.Schema, 3)
	assert.Equal(t, "age", ds.Schema[0].Name)
	assert.Equal(t, KindNumeric, ds.Schema[0].Kind)
	assert.Equal(t, KindCategorical, ds.Schema[1].Kind)
	assert.Equal(t, []string{"free", "own", "rent"}, ds.Schema[1].Classes)
	assert.Equal(t, "duration", ds.Schema[2].Name)
}

func TestReadDataset_Errors(t *testing.T) {
	_, err := ReadDataset(strings.NewReader("a,b\n1,2\n"), DatasetOptions{})
	require.Error(t, err, "missing target column")

	_, err = ReadDataset(strings.NewReader("a,risk\n1,good\n2,good\n"), DatasetOptions{})
	require.Error(t, err, "single class target")
}

func TestStatisticalMethods(t *testing.T) {
	ds := readReference(t)
	short := map[string]any{"age": 30, "housing": "own", "duration": 9}
	long := map[string]any{"age": 30, "housing": "own", "duration": 38}

	for _, method := range []string{MethodLinearRegression, MethodPolynomialRegression, MethodMANOVA} {
		t.Run(method, func(t *testing.T) {
			require.True(t, IsStatistical(method))
			p, err := Fit(method, ds)
			require.NoError(t, err)

			pred, err := p.Predict(context.Background(), short)
			require.NoError(t, err)
			assert.Equal(t, LabelGood, pred.Label)
			assert.Equal(t, method, pred.Method)
			assert.GreaterOrEqual(t, pred.Probability, 0.0)
			assert.LessOrEqual(t, pred.Probability, 1.0)

			pred, err = p.Predict(context.Background(), long)
			require.NoError(t, err)
			assert.Equal(t, LabelBad, pred.Label)

			_, err = p.Predict(context.Background(), map[string]any{"age": 30, "housing": "castle", "duration": 9})
			require.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	assert.False(t, IsStatistical("random_forest"))
	_, err := Fit("anova", ds)
	require.Error(t, err)
}

func TestLeastSquares_RecoversExactFit(t *testing.T) {
	// y = 0.25 + 0.5*x0 - 0.125*x1
	ds := &Dataset{}
	for i := range 12 {
		x := []float64{float64(i % 4), float64(i*i%7) - 3}
		ds.X = append(ds.X, x)
		ds.Y = append(ds.Y, 0.25+0.5*x[0]-0.125*x[1])
	}
	beta, err := leastSquares(ds, linearTerms, 3)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, beta.AtVec(0), 1e-6)
	assert.InDelta(t, 0.5, beta.AtVec(1), 1e-6)
	assert.InDelta(t, -0.125, beta.AtVec(2), 1e-6)
}

func TestWilksLambda(t *testing.T) {
	a := mat.NewDense(3, 1, []float64{0, 1, 2})
	b := mat.NewDense(3, 1, []float64{4, 5, 6})
	// W = 2 + 2, T = Σ(x-3)² over 0,1,2,4,5,6 = 28.
	wl, err := wilksLambda(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 4.0/28.0, wl, 1e-9)

	ld, err := logDet(mat.NewSymDense(2, []float64{2, 0, 0, 3}))
	require.NoError(t, err)
	assert.InDelta(t, 1.791759469, ld, 1e-9)

	_, err = logDet(mat.NewSymDense(2, []float64{1, 2, 2, 4}))
	require.ErrorIs(t, err, errSingular)
}

func TestReadDataset_PopulationStandardisation(t *testing.T) {
	ds, err := ReadDataset(strings.NewReader("duration,risk\n2,good\n4,bad\n4,good\n4,bad\n5,good\n5,bad\n7,good\n9,bad\n"), DatasetOptions{})
	require.NoError(t, err)
	require.Len(t, ds.Schema, 1)
	assert.InDelta(t, 5.0, ds.Schema[0].Mean, 1e-12)
	assert.InDelta(t, 2.0, ds.Schema[0].Std, 1e-12)
	assert.InDelta(t, -1.5, ds.X[0][0], 1e-12)
}
