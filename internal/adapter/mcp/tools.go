package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/ReelForge/internal/domain"
	"github.com/Strob0t/ReelForge/internal/domain/run"
	"github.com/Strob0t/ReelForge/internal/port/database"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.startWorkflowTool(),
		s.getWorkflowStatusTool(),
		s.listWorkflowsTool(),
		s.submitReviewTool(),
		s.cancelWorkflowTool(),
	)
}

func (s *Server) startWorkflowTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("start_workflow",
		mcplib.WithDescription("Start a content production workflow run"),
		mcplib.WithString("input_kind",
			mcplib.Required(),
			mcplib.Description("Kind of input, e.g. prompt, search or article"),
		),
		mcplib.WithObject("input_payload",
			mcplib.Description("Opaque input handed to the first phase"),
		),
		mcplib.WithString("pipeline_id",
			mcplib.Description("Pipeline template; the configured default when omitted"),
		),
		mcplib.WithNumber("max_cost_usd",
			mcplib.Description("Cost budget for the run in USD"),
		),
		mcplib.WithString("idempotency_key",
			mcplib.Description("Repeated starts with the same key return the same run"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleStartWorkflow}
}

func (s *Server) getWorkflowStatusTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_workflow_status",
		mcplib.WithDescription("Get the snapshot of a workflow run, including a pending review if any"),
		mcplib.WithString("workflow_id",
			mcplib.Required(),
			mcplib.Description("The run ID to look up"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetWorkflowStatus}
}

func (s *Server) listWorkflowsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_workflows",
		mcplib.WithDescription("List recent workflow runs with per-status counts"),
		mcplib.WithString("status",
			mcplib.Description("Comma-separated statuses to include"),
		),
		mcplib.WithNumber("limit",
			mcplib.Description("Maximum number of runs to return"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleListWorkflows}
}

func (s *Server) submitReviewTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("submit_review",
		mcplib.WithDescription("Submit a review decision for a workflow awaiting review"),
		mcplib.WithString("workflow_id",
			mcplib.Required(),
			mcplib.Description("The run ID under review"),
		),
		mcplib.WithString("status",
			mcplib.Required(),
			mcplib.Enum(string(run.ReviewApproved), string(run.ReviewRejected), string(run.ReviewRevisionRequested)),
			mcplib.Description("The decision"),
		),
		mcplib.WithString("feedback",
			mcplib.Description("Feedback carried into a revision"),
		),
		mcplib.WithObject("modifications",
			mcplib.Description("Structured changes carried into a revision"),
		),
		mcplib.WithString("reviewer_id",
			mcplib.Description("Who made the decision"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleSubmitReview}
}

func (s *Server) cancelWorkflowTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("cancel_workflow",
		mcplib.WithDescription("Cancel a running or suspended workflow run"),
		mcplib.WithString("workflow_id",
			mcplib.Required(),
			mcplib.Description("The run ID to cancel"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleCancelWorkflow}
}

func (s *Server) handleStartWorkflow(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Workflows == nil {
		return mcplib.NewToolResultError("workflow service not configured"), nil
	}
	args := req.GetArguments()
	start := run.StartRequest{
		InputKind:      req.GetString("input_kind", ""),
		PipelineID:     req.GetString("pipeline_id", ""),
		IdempotencyKey: req.GetString("idempotency_key", ""),
	}
	if start.InputKind == "" {
		return mcplib.NewToolResultError("input_kind is required"), nil
	}
	if v, ok := args["max_cost_usd"].(float64); ok {
		start.MaxCostUSD = &v
	}
	if v, ok := args["input_payload"]; ok && v != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			return mcplib.NewToolResultErrorFromErr("invalid input_payload", err), nil
		}
		start.InputPayload = raw
	}

	res, err := s.deps.Workflows.Start(ctx, &start)
	if err != nil {
		return toolError("failed to start workflow", err), nil
	}
	return toolResultJSON(res)
}

func (s *Server) handleGetWorkflowStatus(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Workflows == nil {
		return mcplib.NewToolResultError("workflow service not configured"), nil
	}
	id, err := req.RequireString("workflow_id")
	if err != nil || id == "" {
		return mcplib.NewToolResultError("workflow_id is required"), nil
	}
	r, err := s.deps.Workflows.Get(ctx, id)
	if err != nil {
		return toolError(fmt.Sprintf("failed to get workflow %s", id), err), nil
	}

	res := struct {
		run.Snapshot
		Review *run.ReviewSnapshot `json:"review,omitempty"`
	}{Snapshot: r.Snapshot()}
	if r.Status == run.StatusAwaitingReview {
		if snap, err := s.deps.Workflows.Review(ctx, id); err == nil {
			res.Review = &snap
		}
	}
	return toolResultJSON(res)
}

func (s *Server) handleListWorkflows(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Workflows == nil {
		return mcplib.NewToolResultError("workflow service not configured"), nil
	}
	filter := database.RunFilter{Limit: req.GetInt("limit", 0)}
	if raw := req.GetString("status", ""); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := run.ParseStatus(part)
			if err != nil {
				return mcplib.NewToolResultError(err.Error()), nil
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}
	res, err := s.deps.Workflows.List(ctx, filter)
	if err != nil {
		return toolError("failed to list workflows", err), nil
	}
	return toolResultJSON(res)
}

func (s *Server) handleSubmitReview(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Workflows == nil {
		return mcplib.NewToolResultError("workflow service not configured"), nil
	}
	id, err := req.RequireString("workflow_id")
	if err != nil || id == "" {
		return mcplib.NewToolResultError("workflow_id is required"), nil
	}
	status, err := run.ParseReviewStatus(req.GetString("status", ""))
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}
	d := run.ReviewDecision{
		Status:     status,
		Feedback:   req.GetString("feedback", ""),
		ReviewerID: req.GetString("reviewer_id", ""),
	}
	if v, ok := req.GetArguments()["modifications"]; ok && v != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			return mcplib.NewToolResultErrorFromErr("invalid modifications", err), nil
		}
		d.Modifications = raw
	}

	if err := s.deps.Workflows.SubmitReview(ctx, id, d); err != nil {
		return toolError("failed to submit review", err), nil
	}
	return toolResultJSON(map[string]string{"status": "success", "workflow_id": id})
}

func (s *Server) handleCancelWorkflow(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Workflows == nil {
		return mcplib.NewToolResultError("workflow service not configured"), nil
	}
	id, err := req.RequireString("workflow_id")
	if err != nil || id == "" {
		return mcplib.NewToolResultError("workflow_id is required"), nil
	}
	r, err := s.deps.Workflows.Cancel(ctx, id)
	if err != nil {
		return toolError(fmt.Sprintf("failed to cancel workflow %s", id), err), nil
	}
	return toolResultJSON(r.Snapshot())
}

// toolError renders err as a tool error result. Review conflicts get a
// reviewer-facing message.
func toolError(msg string, err error) *mcplib.CallToolResult {
	switch {
	case errors.Is(err, domain.ErrAlreadyResolved):
		return mcplib.NewToolResultError("review already resolved")
	case errors.Is(err, domain.ErrNotFound):
		return mcplib.NewToolResultError(msg + ": not found")
	}
	return mcplib.NewToolResultErrorFromErr(msg, err)
}

func toolResultJSON(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}
