// Package mcp implements the Model Context Protocol server for Sekimori.
//
// The MCP server exposes the guarded-run workflow through MCP tools so
// MCP-compatible AI agents can propose work and read back its status.
// Approval and execution remain subject to the same gate as the HTTP API:
// an agent can ask, but only the configured policy lets anything run.
package mcp

import (
	"encoding/json"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/sekimori-ai/sekimori/internal/advice"
	"github.com/sekimori-ai/sekimori/internal/audit"
	"github.com/sekimori-ai/sekimori/internal/policy"
	"github.com/sekimori-ai/sekimori/internal/runstore"
)

// Server wraps the MCP server with Sekimori's run workflow.
type Server struct {
	mcpServer   *mcpserver.MCPServer
	runs        *runstore.Store
	adviceStore advice.Store
	auditLog    audit.Appender
	gate        *policy.Gate
	logger      *slog.Logger
}

// New creates and configures a new MCP server with all tools registered.
func New(runs *runstore.Store, adviceStore advice.Store, auditLog audit.Appender, gate *policy.Gate, logger *slog.Logger) *Server {
	s := &Server{
		runs:        runs,
		adviceStore: adviceStore,
		auditLog:    auditLog,
		gate:        gate,
		logger:      logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"sekimori",
		"0.1.0",
		mcpserver.WithToolCapabilities(true),
	)

	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult("failed to encode result")
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}
