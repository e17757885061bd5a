package hakari

// Prediction is the outcome of scoring one applicant.
type Prediction struct {
	// Probability is the model's probability of the positive ("good") class.
	Probability float64
	// Label is "good" or "bad". Empty means derive it from Probability
	// with a 0.5 threshold.
	Label string
	// Method names the scoring method, e.g. "scorecard".
	Method  string
	Details map[string]any
}

// Algorithm describes an in-process algorithm registered with WithAlgorithm.
// Registration is idempotent by (Classifier, Endpoint, Version, Dataset).
type Algorithm struct {
	Classifier  string
	Endpoint    string
	Version     string
	Description string
	Dataset     string
	Region      string
	// Status is the first ledger status written when the catalog row is new:
	// "testing", "staging", "production" or "ab_testing". Empty writes none.
	Status    string
	Predictor Predictor
}
