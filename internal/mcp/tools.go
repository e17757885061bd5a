package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/hakari/internal/ctxutil"
	"github.com/ashita-ai/hakari/internal/model"
	"github.com/ashita-ai/hakari/internal/service/router"
	"github.com/ashita-ai/hakari/internal/storage"
)

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("hakari_predict",
			mcplib.WithDescription(`Score a loan applicant with the credit-risk model serving a classifier.

The request is routed like POST /api/v1/algorithms/predict: by default to the
algorithm in production, or split between both arms while an A/B test runs.
Every successful call is recorded and its request_id can later receive feedback.

WHAT YOU GET BACK: probability of the "good" class, the label (good/bad),
the scoring method, the algorithm_id that answered and the request_id.`),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("classifier", mcplib.Description("Algorithm name or endpoint label, e.g. income_classifier")),
			mcplib.WithString("endpoint", mcplib.Description("Exact endpoint label")),
			mcplib.WithString("version", mcplib.Description("Algorithm version")),
			mcplib.WithString("status",
				mcplib.Description("Lifecycle status to route to"),
				mcplib.Enum(string(model.StatusProduction), string(model.StatusStaging), string(model.StatusTesting), string(model.StatusABTesting)),
			),
			mcplib.WithString("dataset", mcplib.Description("Training dataset name")),
			mcplib.WithString("region", mcplib.Description("Dataset region")),
			mcplib.WithObject("input", mcplib.Description("Applicant features keyed by name"), mcplib.Required()),
		),
		s.handlePredict,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("hakari_list_algorithms",
			mcplib.WithDescription("List registered algorithms with their current lifecycle status."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("classifier", mcplib.Description("Algorithm name or endpoint label")),
			mcplib.WithString("status", mcplib.Description("Only algorithms currently in this status")),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum number of algorithms to return"),
				mcplib.Min(1),
				mcplib.Max(100),
				mcplib.DefaultNumber(20),
			),
		),
		s.handleListAlgorithms,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("hakari_experiment_status",
			mcplib.WithDescription("Show an A/B test: its arms, whether it is still running and, once closed, the accuracy summary."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("id", mcplib.Description("A/B test id"), mcplib.Required()),
		),
		s.handleExperimentStatus,
	)
}

func (s *Server) handlePredict(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	input, ok := request.GetArguments()["input"].(map[string]any)
	if !ok {
		return errorResult("input must be an object of applicant features"), nil
	}
	f := router.Filter{
		Classifier: request.GetString("classifier", ""),
		Endpoint:   request.GetString("endpoint", ""),
		Version:    request.GetString("version", ""),
		Dataset:    request.GetString("dataset", ""),
		Region:     request.GetString("region", ""),
	}
	if st := request.GetString("status", ""); st != "" {
		parsed, err := model.ParseStatus(st)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		f.Status = parsed
	}

	res, err := s.router.Predict(ctx, f, input, ctxutil.OperatorName(ctx, "mcp"))
	if err != nil {
		if isUserError(err) {
			return errorResult(err.Error()), nil
		}
		s.logger.Error("mcp: predict failed", "error", err)
		return errorResult("prediction could not be served"), nil
	}
	return jsonResult(model.PredictResponse{
		Status:      model.StatusOK,
		Probability: res.Probability,
		Label:       res.Label,
		Method:      res.Method,
		Details:     res.Details,
		RequestID:   res.RequestID,
		AlgorithmID: res.AlgorithmID,
	})
}

func (s *Server) handleListAlgorithms(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	filter := model.AlgorithmFilter{Classifier: request.GetString("classifier", "")}
	if st := request.GetString("status", ""); st != "" {
		parsed, err := model.ParseStatus(st)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		filter.Status = &parsed
	}
	limit := request.GetInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}

	algs, total, err := s.store.ListAlgorithms(ctx, filter, limit, 0)
	if err != nil {
		return errorResult(fmt.Sprintf("list algorithms failed: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"algorithms": algs,
		"total":      total,
	})
}

func (s *Server) handleExperimentStatus(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, err := uuid.Parse(request.GetString("id", ""))
	if err != nil {
		return errorResult("id must be a UUID"), nil
	}
	ab, err := s.experiments.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return errorResult(fmt.Sprintf("ab test %s not found", id)), nil
	}
	if err != nil {
		return errorResult(fmt.Sprintf("get ab test failed: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"ab_test": ab,
		"running": ab.Open(),
	})
}

func isUserError(err error) bool {
	for _, target := range []error{
		router.ErrInvalidFilter, router.ErrUnavailable, router.ErrAmbiguous, router.ErrPrediction,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
