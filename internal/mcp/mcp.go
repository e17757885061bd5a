// Package mcp exposes Hakari to MCP-compatible agents.
//
// The tools mirror the HTTP API: scoring a payload, browsing the algorithm
// catalog and checking on experiments. Writes other than the prediction
// record stay on the HTTP API, where operator roles are enforced.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/hakari/internal/model"
	"github.com/ashita-ai/hakari/internal/service/experiments"
	"github.com/ashita-ai/hakari/internal/service/router"
	"github.com/ashita-ai/hakari/internal/storage"
)

const catalogURI = "hakari://algorithms"

// Server wraps the MCP server with Hakari's service layer.
type Server struct {
	mcpServer   *mcpserver.MCPServer
	store       storage.Reader
	router      *router.Router
	experiments *experiments.Service
	logger      *slog.Logger
}

// New creates and configures an MCP server with all resources and tools.
func New(store storage.Reader, rt *router.Router, exp *experiments.Service, logger *slog.Logger, version string) *Server {
	s := &Server{
		store:       store,
		router:      rt,
		experiments: exp,
		logger:      logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"hakari",
		version,
		mcpserver.WithResourceCapabilities(false, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			catalogURI,
			"Algorithm Catalog",
			mcplib.WithResourceDescription("Every registered algorithm with its current status"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleCatalog,
	)
}

func (s *Server) handleCatalog(ctx context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	algs, err := s.store.FindAlgorithms(ctx, model.AlgorithmFilter{})
	if err != nil {
		return nil, fmt.Errorf("mcp: catalog: %w", err)
	}
	data, err := json.MarshalIndent(algs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal catalog: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      catalogURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal result: %w", err)
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
