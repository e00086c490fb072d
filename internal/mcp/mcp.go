// Package mcp implements the Model Context Protocol server for Mekiki.
//
// The MCP server exposes the matching and backlog capabilities of the HTTP
// API as MCP tools, so MCP-compatible AI agents can run interactive matching
// sessions and file backlog reports on behalf of their users. Sessions are
// client-held: tools return the full session state and expect it back on the
// next call, which keeps the server stateless across transports.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/mekiki/internal/model"
	"github.com/ashita-ai/mekiki/internal/service/backlog"
)

// Matcher runs interactive matching sessions. Implemented by match.Service.
type Matcher interface {
	Start(ctx context.Context, promptText string) (model.MatchResponse, error)
	Continue(ctx context.Context, sess model.Session, answerText string) (model.MatchResponse, error)
	Finalize(ctx context.Context, sess model.Session, topK, topN *int) (model.MatchResponse, error)
}

// Backlogger ingests unmet-demand reports. Implemented by backlog.Service.
type Backlogger interface {
	Report(ctx context.Context, promptText, commentText string) (backlog.Outcome, error)
}

// Server wraps the MCP server with Mekiki's service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	matcher   Matcher
	backlog   Backlogger
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all tools and resources.
func New(matcher Matcher, backlogSvc Backlogger, logger *slog.Logger) *Server {
	s := &Server{
		matcher: matcher,
		backlog: backlogSvc,
		logger:  logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"mekiki",
		"0.1.0",
		mcpserver.WithResourceCapabilities(true, true),
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

// jsonResult marshals v as an indented JSON tool result.
func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("internal: encode result: " + err.Error())
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
