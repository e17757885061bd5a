package hakari_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hakari"
)

func newApp(t *testing.T, opts ...hakari.Option) *hakari.App {
	t.Helper()
	t.Setenv("HAKARI_RATE_LIMIT_ENABLED", "false")
	t.Setenv("HAKARI_MANIFEST", "")
	base := []hakari.Option{hakari.WithSQLite(":memory:"), hakari.WithVersion("test")}
	app, err := hakari.New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })
	return app
}

func TestNew_InProcessAlgorithm(t *testing.T) {
	var calls int
	app := newApp(t, hakari.WithAlgorithm(hakari.Algorithm{
		Classifier: "threshold",
		Endpoint:   "income_classifier",
		Version:    "1.0.0",
		Status:     "production",
		Predictor: hakari.PredictorFunc(func(_ context.Context, features map[string]any) (hakari.Prediction, error) {
			calls++
			return hakari.Prediction{Probability: 0.3, Method: "threshold"}, nil
		}),
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/algorithms/predict?classifier=income_classifier",
		strings.NewReader(`{"age": 30}`))
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Status string  `json:"status"`
		Label  string  `json:"label"`
		Method string  `json:"method"`
		Prob   float64 `json:"probability"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "OK", body.Status)
	assert.Equal(t, "bad", body.Label)
	assert.Equal(t, "threshold", body.Method)
	assert.Equal(t, 1, calls)
}

func TestNew_Middleware(t *testing.T) {
	app := newApp(t, hakari.WithMiddleware(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Embedded", "yes")
			next.ServeHTTP(w, r)
		})
	}))

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "yes", rec.Header().Get("X-Embedded"))
}

func TestNew_RejectsMissingPredictor(t *testing.T) {
	t.Setenv("HAKARI_MANIFEST", "")
	_, err := hakari.New(hakari.WithSQLite(":memory:"), hakari.WithAlgorithm(hakari.Algorithm{
		Classifier: "x", Endpoint: "y", Version: "1",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "predictor is required")
}

func TestNew_MissingManifest(t *testing.T) {
	_, err := hakari.New(
		hakari.WithSQLite(":memory:"),
		hakari.WithManifest(filepath.Join(t.TempDir(), "absent.yaml")),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNew_ExampleManifest(t *testing.T) {
	app := newApp(t, hakari.WithManifest(filepath.Join("examples", "registry.yaml")))

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/algorithms?endpoint=income_classifier", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.GreaterOrEqual(t, list.Total, 2)
}
