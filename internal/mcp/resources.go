package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/mekiki/internal/service/match"
)

func (s *Server) registerResources() {
	// mekiki://catalog/labels — the closed label vocabulary.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"mekiki://catalog/labels",
			"Label Catalog",
			mcplib.WithResourceDescription("The closed set of business-area labels requirements are extracted against"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleCatalogLabels,
	)
}

func (s *Server) handleCatalogLabels(_ context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(map[string]any{
		"labels": match.LabelCatalog(),
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal labels: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
