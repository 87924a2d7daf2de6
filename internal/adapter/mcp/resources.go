package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/Strob0t/ReelForge/internal/domain/run"
	"github.com/Strob0t/ReelForge/internal/port/database"
)

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"reelforge://pipelines",
			"Pipeline Templates",
			mcplib.WithResourceDescription("Phase sequences a workflow can be started with"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handlePipelinesResource,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			"reelforge://workflows/active",
			"Active Workflows",
			mcplib.WithResourceDescription("Runs that are executing or awaiting review"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleActiveResource,
	)
}

func (s *Server) handlePipelinesResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Pipelines == nil {
		return jsonContents(req.Params.URI, `{"error":"pipeline lister not configured"}`), nil
	}
	data, err := json.Marshal(s.deps.Pipelines.List())
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, string(data)), nil
}

func (s *Server) handleActiveResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Workflows == nil {
		return jsonContents(req.Params.URI, `{"error":"workflow service not configured"}`), nil
	}
	res, err := s.deps.Workflows.List(ctx, database.RunFilter{
		Statuses: []run.Status{run.StatusRunning, run.StatusAwaitingReview},
	})
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, string(data)), nil
}

func jsonContents(uri, text string) []mcplib.ResourceContents {
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     text,
		},
	}
}
