package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var errSingular = errors.New("scoring: singular matrix")

// ridge is the penalty added through augmented rows so collinear designs,
// such as a categorical code repeated in a quadratic term, stay solvable.
const ridge = 1e-8

// Statistical method names. They are reserved classifier names: the
// registry fits them on a reference dataset instead of loading an artifact.
const (
	MethodLinearRegression     = "linear_regression"
	MethodPolynomialRegression = "polynomial_regression"
	MethodMANOVA               = "manova"
)

// IsStatistical reports whether name is a reserved statistical method.
func IsStatistical(name string) bool {
	switch name {
	case MethodLinearRegression, MethodPolynomialRegression, MethodMANOVA:
		return true
	}
	return false
}

// Fit builds the statistical predictor named by method from ds.
func Fit(method string, ds *Dataset) (Predictor, error) {
	switch method {
	case MethodLinearRegression:
		return fitRegression(method, ds, linearTerms)
	case MethodPolynomialRegression:
		return fitRegression(method, ds, quadraticTerms)
	case MethodMANOVA:
		return fitMANOVA(ds)
	default:
		return nil, fmt.Errorf("scoring: unknown statistical method %q", method)
	}
}

// classLabel names the outcome class for a probability of the second class.
func classLabel(classes []string, p float64) string {
	if p > Threshold {
		return classes[1]
	}
	return classes[0]
}

// Regression is an ordinary least squares model of the outcome code on
// the encoded features. Its raw output is a score that is clamped to [0, 1]
// to serve as a probability.
type Regression struct {
	method  string
	schema  []Feature
	classes []string
	terms   func([]float64) []float64
	beta    *mat.VecDense
}

var _ Predictor = (*Regression)(nil)

func linearTerms(x []float64) []float64 {
	out := make([]float64, 0, len(x)+1)
	out = append(out, 1)
	return append(out, x...)
}

// quadraticTerms expands x to the degree-2 polynomial basis: the bias,
// every x_i, and every product x_i*x_j with i <= j.
func quadraticTerms(x []float64) []float64 {
	out := linearTerms(x)
	for i := range x {
		for j := i; j < len(x); j++ {
			out = append(out, x[i]*x[j])
		}
	}
	return out
}

func fitRegression(method string, ds *Dataset, terms func([]float64) []float64) (*Regression, error) {
	if len(ds.X) == 0 {
		return nil, fmt.Errorf("scoring: %s needs a non-empty dataset", method)
	}
	n, p := len(ds.X), len(terms(ds.X[0]))
	if n < p {
		return nil, fmt.Errorf("scoring: %s needs at least %d rows, have %d", method, p, n)
	}
	beta, err := leastSquares(ds, terms, p)
	if err != nil {
		return nil, fmt.Errorf("scoring: fit %s: %w", method, err)
	}
	return &Regression{method: method, schema: ds.Schema, classes: ds.Classes, terms: terms, beta: beta}, nil
}

// leastSquares solves the ridge-penalised least squares problem by QR. The
// penalty enters as p extra rows sqrt(ridge)*I with a zero target.
func leastSquares(ds *Dataset, terms func([]float64) []float64, p int) (*mat.VecDense, error) {
	n := len(ds.X)
	design := mat.NewDense(n+p, p, nil)
	target := mat.NewDense(n+p, 1, nil)
	for i, x := range ds.X {
		design.SetRow(i, terms(x))
		target.Set(i, 0, ds.Y[i])
	}
	for j := range p {
		design.Set(n+j, j, math.Sqrt(ridge))
	}

	var qr mat.QR
	qr.Factorize(design)
	var beta mat.Dense
	if err := qr.SolveTo(&beta, false, target); err != nil {
		return nil, fmt.Errorf("%w: %w", errSingular, err)
	}
	return mat.NewVecDense(p, mat.Col(nil, 0, &beta)), nil
}

// Predict implements Predictor.
func (r *Regression) Predict(_ context.Context, features map[string]any) (Prediction, error) {
	x, err := encodeAll(r.schema, features)
	if err != nil {
		return Prediction{}, err
	}
	t := r.terms(x)
	score := mat.Dot(r.beta, mat.NewVecDense(len(t), t))
	p := math.Min(1, math.Max(0, score))
	color := "red"
	if p > Threshold {
		color = "green"
	}
	return Prediction{
		Probability: p,
		Label:       classLabel(r.classes, p),
		Method:      r.method,
		Details:     map[string]any{"score": score, "color": color},
	}, nil
}

// MANOVA classifies an applicant by one-way multivariate analysis of
// variance between the two outcome groups. The applicant is tentatively
// added to each group in turn; the assignment giving the smaller Wilks'
// lambda separates the groups better and wins.
type MANOVA struct {
	schema  []Feature
	classes []string
	// groups holds the encoded rows of each outcome class, one row per
	// applicant.
	groups [2]*mat.Dense
	base   float64
}

var _ Predictor = (*MANOVA)(nil)

// scatter returns the sums of squares and cross products Σ(x-m)(x-m)ᵀ of
// the rows of x.
func scatter(x mat.Matrix) *mat.SymDense {
	n, d := x.Dims()
	s := mat.NewSymDense(d, nil)
	stat.CovarianceMatrix(s, x, nil)
	s.ScaleSym(float64(n-1), s)
	return s
}

func stack(a, b mat.Matrix) *mat.Dense {
	var out mat.Dense
	out.Stack(a, b)
	return &out
}

// withRow returns the rows of x followed by row.
func withRow(x *mat.Dense, row []float64) *mat.Dense {
	return stack(x, mat.NewDense(1, len(row), row))
}

// logDet returns log|det(s)|, or errSingular when s is not positive
// definite.
func logDet(s *mat.SymDense) (float64, error) {
	ld, sign := mat.LogDet(s)
	if sign <= 0 || math.IsInf(ld, 0) || math.IsNaN(ld) {
		return 0, errSingular
	}
	return ld, nil
}

// wilksLambda returns det(W)/det(T) where W is the pooled within-group
// scatter and T the total scatter.
func wilksLambda(a, b *mat.Dense) (float64, error) {
	var w mat.SymDense
	w.AddSym(scatter(a), scatter(b))
	ldW, err := logDet(&w)
	if err != nil {
		return 0, err
	}
	ldT, err := logDet(scatter(stack(a, b)))
	if err != nil {
		return 0, err
	}
	return math.Exp(ldW - ldT), nil
}

func fitMANOVA(ds *Dataset) (*MANOVA, error) {
	d := len(ds.Schema)
	var rows [2][]float64
	for i, x := range ds.X {
		g := int(ds.Y[i])
		rows[g] = append(rows[g], x...)
	}
	m := &MANOVA{schema: ds.Schema, classes: ds.Classes}
	for g := range rows {
		n := len(rows[g]) / d
		if n < d+1 {
			return nil, fmt.Errorf("scoring: manova needs more than %d rows of class %q", d, ds.Classes[g])
		}
		m.groups[g] = mat.NewDense(n, d, rows[g])
	}
	base, err := wilksLambda(m.groups[0], m.groups[1])
	if err != nil {
		return nil, fmt.Errorf("scoring: fit manova: %w", err)
	}
	m.base = base
	return m, nil
}

// Predict implements Predictor.
func (m *MANOVA) Predict(_ context.Context, features map[string]any) (Prediction, error) {
	x, err := encodeAll(m.schema, features)
	if err != nil {
		return Prediction{}, err
	}
	// Group 1 is the second class in sort order, "good" for good/bad data.
	wlInBad, err := wilksLambda(withRow(m.groups[0], x), m.groups[1])
	if err != nil {
		return Prediction{}, fmt.Errorf("scoring: manova: %w", err)
	}
	wlInGood, err := wilksLambda(m.groups[0], withRow(m.groups[1], x))
	if err != nil {
		return Prediction{}, fmt.Errorf("scoring: manova: %w", err)
	}
	p := 0.5
	if total := wlInGood + wlInBad; total > 0 {
		p = wlInBad / total
	}
	details := map[string]any{"wilks_lambda": m.base}
	details["wilks_lambda_with_"+m.classes[1]] = wlInGood
	details["wilks_lambda_with_"+m.classes[0]] = wlInBad
	return Prediction{
		Probability: p,
		Label:       classLabel(m.classes, p),
		Method:      MethodMANOVA,
		Details:     details,
	}, nil
}
