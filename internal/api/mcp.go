package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ivanglie/scribe/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Insights InsightService // optional; if nil, generate_insight returns an error
}

// NewMCPServer creates an MCP server exposing the transcript archive to
// agent clients over stdio.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"scribe",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("scribe — local meeting recorder with searchable transcripts and LLM insights."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("list_sessions",
			mcp.WithDescription("List recorded meeting sessions, most recent first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of sessions to return (default 10)")),
		),
		mcpListSessions(deps),
	)

	s.AddTool(
		mcp.NewTool("get_transcript",
			mcp.WithDescription("Return the full transcript of a recorded session."),
			mcp.WithString("session_id", mcp.Description("Session ID"), mcp.Required()),
		),
		mcpGetTranscript(deps),
	)

	s.AddTool(
		mcp.NewTool("list_insights",
			mcp.WithDescription("List generated insights (summaries, action items) for a session."),
			mcp.WithString("session_id", mcp.Description("Session ID"), mcp.Required()),
		),
		mcpListInsights(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_insight",
			mcp.WithDescription("Generate an insight from a session transcript using the local LLM."),
			mcp.WithString("session_id", mcp.Description("Session ID"), mcp.Required()),
			mcp.WithString("type", mcp.Description("Insight type: summary, action_items or custom (default summary)")),
			mcp.WithString("prompt", mcp.Description("Custom prompt, required when type is custom")),
		),
		mcpGenerateInsight(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"sessions://recent",
			"Recent Sessions",
			mcp.WithResourceDescription("Last 10 recorded sessions (metadata only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

type mcpSessionSummary struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	StartTime       string  `json:"start_time"`
	DurationSeconds float64 `json:"duration_seconds"`
	Status          string  `json:"status"`
}

func mcpListSessions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}

		sessions, err := deps.Store.ListSessions(limit, 0)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list sessions: %v", err)), nil
		}

		if len(sessions) == 0 {
			return mcpText("[]"), nil
		}

		results := make([]mcpSessionSummary, len(sessions))
		for i, s := range sessions {
			results[i] = mcpSessionSummary{
				ID:              s.ID,
				Title:           s.Title,
				StartTime:       s.StartTime.Format(time.RFC3339),
				DurationSeconds: s.DurationSeconds,
				Status:          s.Status,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpGetTranscript(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}

		sess, err := deps.Store.GetSession(sessionID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get session: %v", err)), nil
		}

		if sess.Transcript == "" {
			return mcpText("(no transcript recorded for this session)"), nil
		}
		return mcpText(sess.Transcript), nil
	}
}

func mcpListInsights(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}

		list, err := deps.Store.ListInsights(sessionID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list insights: %v", err)), nil
		}

		if len(list) == 0 {
			return mcpText("[]"), nil
		}

		out := make([]insightJSON, len(list))
		for i, in := range list {
			out[i] = toInsightJSON(in)
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal insights: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpGenerateInsight(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Insights == nil {
			return mcpError("insight generation not available: no local model configured"), nil
		}

		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}

		insightType := req.GetString("type", storage.InsightSummary)
		prompt := req.GetString("prompt", "")

		in, err := deps.Insights.Generate(ctx, sessionID, insightType, prompt)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to generate insight: %v", err)), nil
		}

		return mcpText(in.Content), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		sessions, err := deps.Store.ListSessions(10, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}

		summaries := make([]mcpSessionSummary, len(sessions))
		for i, s := range sessions {
			summaries[i] = mcpSessionSummary{
				ID:              s.ID,
				Title:           s.Title,
				StartTime:       s.StartTime.Format(time.RFC3339),
				DurationSeconds: s.DurationSeconds,
				Status:          s.Status,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal sessions: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
