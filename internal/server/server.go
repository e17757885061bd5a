// Package server implements the Hakari HTTP API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/hakari/internal/auth"
	"github.com/ashita-ai/hakari/internal/model"
	"github.com/ashita-ai/hakari/internal/ratelimit"
	"github.com/ashita-ai/hakari/internal/service/experiments"
	"github.com/ashita-ai/hakari/internal/service/ledger"
	"github.com/ashita-ai/hakari/internal/service/registry"
	"github.com/ashita-ai/hakari/internal/service/router"
	"github.com/ashita-ai/hakari/internal/storage"
)

// Server is the Hakari HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Limiter, MCPServer, OpenAPISpec, Middlewares.
type ServerConfig struct {
	// Required dependencies.
	Store       storage.Store
	Registry    *registry.Registry
	Router      *router.Router
	Ledger      *ledger.Service
	Experiments *experiments.Service
	JWTMgr      *auth.JWTManager
	Logger      *slog.Logger

	// Optional dependencies (nil = disabled).
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64

	OpenAPISpec []byte

	// Middlewares wrap the whole chain. The first entry is outermost.
	Middlewares []func(http.Handler) http.Handler
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Store:               cfg.Store,
		Registry:            cfg.Registry,
		Router:              cfg.Router,
		Ledger:              cfg.Ledger,
		Experiments:         cfg.Experiments,
		JWTMgr:              cfg.JWTMgr,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}
	predictRL := ratelimit.Middleware(limiter, predictKeyFunc, reqIDFunc, cfg.Logger)
	authRL := ratelimit.Middleware(limiter, authKeyFunc, reqIDFunc, cfg.Logger)

	mux := http.NewServeMux()

	// Auth (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Predictions (anonymous allowed, rate limited).
	mux.Handle("POST /api/v1/algorithms/predict", predictRL(http.HandlerFunc(h.HandlePredict)))
	mux.Handle("POST /api/v1/{endpoint}/predict", predictRL(http.HandlerFunc(h.HandlePredict)))

	// Catalog reads.
	mux.HandleFunc("GET /api/v1/algorithms", h.HandleListAlgorithms)
	mux.HandleFunc("GET /api/v1/algorithms/{id}", h.HandleGetAlgorithm)
	mux.HandleFunc("GET /api/v1/algorithms/{id}/statuses", h.HandleListStatuses)
	mux.HandleFunc("GET /api/v1/requests", h.HandleListRequests)
	mux.HandleFunc("GET /api/v1/requests/{id}", h.HandleGetRequest)
	mux.HandleFunc("GET /api/v1/abtests", h.HandleListABTests)
	mux.HandleFunc("GET /api/v1/abtests/{id}", h.HandleGetABTest)
	mux.HandleFunc("GET /api/v1/datasets", h.HandleListDatasets)
	mux.HandleFunc("GET /api/v1/datasets/{id}", h.HandleGetDataset)

	// Lifecycle writes (operator+).
	operator := requireRole(model.RoleOperator)
	mux.Handle("POST /api/v1/algorithms/{id}/statuses", operator(http.HandlerFunc(h.HandleCreateStatus)))
	mux.Handle("PUT /api/v1/requests/{id}/feedback", operator(http.HandlerFunc(h.HandleSetFeedback)))
	mux.Handle("POST /api/v1/abtests", operator(http.HandlerFunc(h.HandleCreateABTest)))
	mux.Handle("POST /api/v1/abtests/{id}/stop_ab_test", operator(http.HandlerFunc(h.HandleStopABTest)))

	// Administration (admin only).
	admin := requireRole(model.RoleAdmin)
	mux.Handle("DELETE /api/v1/algorithms/{id}", admin(http.HandlerFunc(h.HandleDeleteAlgorithm)))
	mux.Handle("POST /api/v1/operators", admin(http.HandlerFunc(h.HandleCreateOperator)))

	// MCP StreamableHTTP transport (operator+).
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", operator(mcpserver.NewStreamableHTTPServer(cfg.MCPServer)))
	}

	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// predictKeyFunc limits authenticated operators by name and everyone else
// by client IP. Admins are exempt.
func predictKeyFunc(r *http.Request) string {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		return "predict:" + ratelimit.IPKeyFunc(r)
	}
	if model.RoleAtLeast(claims.Role, model.RoleAdmin) {
		return ""
	}
	return "predict:operator:" + claims.Operator
}

func authKeyFunc(r *http.Request) string {
	return "auth:" + ratelimit.IPKeyFunc(r)
}

// Handlers returns the underlying Handlers for access to SeedAdmin.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
