package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hakari/internal/auth"
	"github.com/ashita-ai/hakari/internal/ctxutil"
	"github.com/ashita-ai/hakari/internal/model"
	"github.com/ashita-ai/hakari/internal/scoring"
	"github.com/ashita-ai/hakari/internal/service/experiments"
	"github.com/ashita-ai/hakari/internal/service/registry"
	"github.com/ashita-ai/hakari/internal/service/router"
	"github.com/ashita-ai/hakari/internal/storage"
	"github.com/ashita-ai/hakari/internal/testutil"
)

type fixture struct {
	store  storage.Store
	server *Server
	prod   model.Algorithm
	staged model.Algorithm
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := testutil.NewSQLite(t)
	logger := testutil.TestLogger()
	reg := registry.New(store, logger)

	fixed := scoring.PredictorFunc(func(context.Context, map[string]any) (scoring.Prediction, error) {
		return scoring.Prediction{Probability: 0.8, Label: scoring.LabelGood, Method: "fixed"}, nil
	})
	prod, err := reg.Register(ctx, registry.Descriptor{
		Classifier: "random_forest", Endpoint: "income_classifier", Version: "0.0.1",
		CreatedBy: "test", Status: model.StatusProduction, Predictor: fixed,
	})
	require.NoError(t, err)
	staged, err := reg.Register(ctx, registry.Descriptor{
		Classifier: "gradient_boosting", Endpoint: "income_classifier", Version: "0.0.1",
		CreatedBy: "test", Status: model.StatusStaging, Predictor: fixed,
	})
	require.NoError(t, err)
	reg.Seal()

	rt := router.New(store, reg, logger)
	exp := experiments.New(store, logger)
	return &fixture{store: store, server: New(store, rt, exp, logger, "test"), prod: prod, staged: staged}
}

func callRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	}
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no TextContent found in tool result")
	return ""
}

func TestHandlePredict(t *testing.T) {
	f := newFixture(t)
	ctx := ctxutil.WithClaims(context.Background(), &auth.Claims{Operator: "analyst", Role: model.RoleOperator})

	result, err := f.server.handlePredict(ctx, callRequest("hakari_predict", map[string]any{
		"classifier": "income_classifier",
		"input":      map[string]any{"age": 30.0},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	var resp model.PredictResponse
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, model.StatusOK, resp.Status)
	assert.Equal(t, f.prod.ID, resp.AlgorithmID)
	assert.Equal(t, scoring.LabelGood, resp.Label)

	rec, err := f.store.GetRequest(context.Background(), resp.RequestID)
	require.NoError(t, err)
	assert.Equal(t, "analyst", rec.CreatedBy)
}

func TestHandlePredict_UserErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]map[string]any{
		"missing input":  {"classifier": "income_classifier"},
		"no filter":      {"input": map[string]any{}},
		"unknown":        {"classifier": "nope", "input": map[string]any{}},
		"bad status":     {"classifier": "income_classifier", "status": "retired", "input": map[string]any{}},
		"empty ab split": {"classifier": "income_classifier", "status": "ab_testing", "input": map[string]any{}},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			result, err := f.server.handlePredict(ctx, callRequest("hakari_predict", args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
		})
	}

	_, total, err := f.store.ListRequests(ctx, model.RequestFilter{}, 1, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestHandleListAlgorithms(t *testing.T) {
	f := newFixture(t)

	result, err := f.server.handleListAlgorithms(context.Background(), callRequest("hakari_list_algorithms", map[string]any{
		"classifier": "income_classifier",
		"status":     "staging",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp struct {
		Algorithms []model.Algorithm `json:"algorithms"`
		Total      int               `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	require.Len(t, resp.Algorithms, 1)
	assert.Equal(t, f.staged.ID, resp.Algorithms[0].ID)
	assert.Equal(t, 1, resp.Total)
}

func TestHandleExperimentStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ab, err := f.server.experiments.Open(ctx, experiments.OpenInput{
		Title: "rf vs gb", CreatedBy: "alice", Algorithm1: f.prod.ID, Algorithm2: f.staged.ID,
	})
	require.NoError(t, err)

	result, err := f.server.handleExperimentStatus(ctx, callRequest("hakari_experiment_status", map[string]any{
		"id": ab.ID.String(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp struct {
		ABTest  model.ABTest `json:"ab_test"`
		Running bool         `json:"running"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.True(t, resp.Running)
	assert.Equal(t, "rf vs gb", resp.ABTest.Title)

	result, err = f.server.handleExperimentStatus(ctx, callRequest("hakari_experiment_status", map[string]any{
		"id": uuid.New().String(),
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = f.server.handleExperimentStatus(ctx, callRequest("hakari_experiment_status", map[string]any{
		"id": "not-a-uuid",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleCatalog(t *testing.T) {
	f := newFixture(t)
	contents, err := f.server.handleCatalog(context.Background(), mcplib.ReadResourceRequest{})
	require.NoError(t, err)
	require.Len(t, contents, 1)

	text, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok)
	var algs []model.Algorithm
	require.NoError(t, json.Unmarshal([]byte(text.Text), &algs))
	assert.Len(t, algs, 2)
}
