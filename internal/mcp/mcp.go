// Package mcp exposes the catalog over the Model Context Protocol.
//
// MCP-compatible agents get the same capabilities as the HTTP API: querying
// the federated catalog and registering new sources. Governance applies
// identically; the caller supplies its user context as a tool argument.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/coreason-ai/catalog/internal/model"
)

// QueryBroker is the slice of the broker the MCP layer needs.
type QueryBroker interface {
	DispatchQuery(ctx context.Context, req model.QueryRequest) (model.CatalogResponse, error)
}

// SourceRegistrar is the slice of the registry the MCP layer needs.
type SourceRegistrar interface {
	Register(ctx context.Context, manifest model.SourceManifest) error
}

// Server wraps the MCP server with the catalog's service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	broker    QueryBroker
	registry  SourceRegistrar
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all tools registered.
func New(broker QueryBroker, registry SourceRegistrar, version string, logger *slog.Logger) *Server {
	s := &Server{
		broker:   broker,
		registry: registry,
		logger:   logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"coreason-catalog",
		version,
		mcpserver.WithToolCapabilities(true),
	)

	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	// catalog_query — federated query across governed sources.
	s.mcpServer.AddTool(
		mcplib.NewTool("catalog_query",
			mcplib.WithDescription(`Query the federated data catalog with a natural language intent.

The broker finds the sources whose descriptions best match your intent,
applies access control and each source's embedded policy for the supplied
user context, dispatches the intent to every admitted source in parallel,
and returns the aggregated results with a provenance signature.

WHAT YOU GET BACK:
- aggregated_results: one entry per dispatched source with status and data
- provenance_signature: PROV-O JSON-LD describing which sources contributed
- partial_content: true when some candidates were blocked or failed`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("intent",
				mcplib.Description("Natural language description of the data you need"),
				mcplib.Required(),
			),
			mcplib.WithString("user_context",
				mcplib.Description(`JSON object identifying the requesting user: {"user_id": ..., "email": ..., "groups": [...], "claims": {...}}. Governance is evaluated against this identity.`),
				mcplib.Required(),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum candidate sources to consider"),
				mcplib.Min(1),
				mcplib.Max(100),
				mcplib.DefaultNumber(10),
			),
		),
		s.handleQuery,
	)

	// catalog_register_source — onboard a source manifest.
	s.mcpServer.AddTool(
		mcplib.NewTool("catalog_register_source",
			mcplib.WithDescription(`Register a data source manifest in the catalog.

The manifest's description is embedded for semantic discovery; its acls,
sensitivity, and access_policy govern who can query it. Registering an
existing URN replaces the prior manifest.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("manifest",
				mcplib.Description("The full source manifest as a JSON object (urn, name, description, endpoint_url, acls, geo_location, sensitivity, owner_group, access_policy)"),
				mcplib.Required(),
			),
		),
		s.handleRegisterSource,
	)
}

func (s *Server) handleQuery(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	intent := request.GetString("intent", "")
	if intent == "" {
		return errorResult("intent is required"), nil
	}

	rawUser := request.GetString("user_context", "")
	var user model.UserContext
	if rawUser != "" {
		if err := json.Unmarshal([]byte(rawUser), &user); err != nil {
			return errorResult(fmt.Sprintf("invalid user_context: %v", err)), nil
		}
	}

	limit := request.GetInt("limit", model.DefaultQueryLimit)

	resp, err := s.broker.DispatchQuery(ctx, model.QueryRequest{
		Intent:      intent,
		UserContext: user,
		Limit:       &limit,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("query failed: %v", err)), nil
	}

	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal response: %v", err)), nil
	}

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func (s *Server) handleRegisterSource(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	raw := request.GetString("manifest", "")
	if raw == "" {
		return errorResult("manifest is required"), nil
	}

	var manifest model.SourceManifest
	if err := json.Unmarshal([]byte(raw), &manifest); err != nil {
		return errorResult(fmt.Sprintf("invalid manifest: %v", err)), nil
	}

	if err := s.registry.Register(ctx, manifest); err != nil {
		return errorResult(fmt.Sprintf("registration failed: %v", err)), nil
	}

	data, _ := json.Marshal(model.RegisterResponse{Status: "registered", URN: manifest.URN})
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
