package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cosci/cosci"
)

// Researcher is the part of cosci.Client the MCP tools call.
type Researcher interface {
	GenerateIdeas(ctx context.Context, goal string, opts ...cosci.GenerateOption) (*cosci.Session, error)
	GetSessionStatus(ctx context.Context, sessionID string) (cosci.SessionStatus, error)
	GetIdeas(ctx context.Context, sessionID string, fetchDetails bool) ([]cosci.Idea, error)
	ListSessions(ctx context.Context) ([]cosci.SessionSummary, error)
	Stats() cosci.StatsSnapshot
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Research Researcher
	Version  string
}

const maxToolMinIdeas = 50

// NewMCPServer creates an MCP server with all cosci tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"cosci",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("cosci: generate and inspect Co-Scientist research ideas on a Discovery Engine backend."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("generate_ideas",
			mcp.WithDescription("Submit a research goal and wait until the backend has generated ideas for it."),
			mcp.WithString("goal", mcp.Description("The research goal in natural language"), mcp.Required()),
			mcp.WithNumber("min_ideas", mcp.Description("Number of ideas to wait for (default from config)")),
			mcp.WithNumber("timeout_seconds", mcp.Description("Maximum time to wait for ideas")),
		),
		mcpGenerateIdeas(deps),
	)

	s.AddTool(
		mcp.NewTool("session_status",
			mcp.WithDescription("Show the state of a research session and its instance."),
			mcp.WithString("session_id", mcp.Description("Session identifier"), mcp.Required()),
		),
		mcpSessionStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("list_ideas",
			mcp.WithDescription("List the ideas a session has produced so far."),
			mcp.WithString("session_id", mcp.Description("Session identifier"), mcp.Required()),
			mcp.WithBoolean("details", mcp.Description("Fetch full records for reference-only ideas")),
		),
		mcpListIdeas(deps),
	)

	s.AddTool(
		mcp.NewTool("list_sessions",
			mcp.WithDescription("List research sessions of the engine."),
		),
		mcpListSessions(deps),
	)

	s.AddTool(
		mcp.NewTool("api_stats",
			mcp.WithDescription("Report request statistics of the API access layer."),
		),
		mcpAPIStats(deps),
	)

	return s
}

type ideaResult struct {
	ID          string   `json:"idea_id"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	EloRating   *float64 `json:"elo_rating,omitempty"`
	Category    string   `json:"category,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

func toIdeaResults(ideas []cosci.Idea) []ideaResult {
	out := make([]ideaResult, len(ideas))
	for i, idea := range ideas {
		out[i] = ideaResult{
			ID:          idea.ID,
			Title:       idea.Title,
			Description: idea.Description,
			Category:    idea.Category(),
			Tags:        idea.Tags(),
		}
		if elo, ok := idea.EloRating(); ok {
			out[i].EloRating = &elo
		}
	}
	return out
}

func mcpGenerateIdeas(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		goal, err := req.RequireString("goal")
		if err != nil || goal == "" {
			return mcpError("goal is required"), nil
		}

		var opts []cosci.GenerateOption
		if n := req.GetInt("min_ideas", 0); n > 0 {
			opts = append(opts, cosci.WithMinIdeas(min(n, maxToolMinIdeas)))
		}
		if secs := req.GetFloat("timeout_seconds", 0); secs > 0 {
			opts = append(opts, cosci.WithTimeout(time.Duration(secs*float64(time.Second))))
		}

		session, err := deps.Research.GenerateIdeas(ctx, goal, opts...)
		if err != nil {
			return mcpError(fmt.Sprintf("idea generation failed: %v", err)), nil
		}

		result := struct {
			SessionID  string       `json:"session_id"`
			InstanceID string       `json:"instance_id"`
			Ideas      []ideaResult `json:"ideas"`
		}{SessionID: session.ID}
		if session.Instance != nil {
			result.InstanceID = session.Instance.ID
			result.Ideas = toIdeaResults(session.Instance.Ideas)
		}
		return mcpJSON(result)
	}
}

func mcpSessionStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil || id == "" {
			return mcpError("session_id is required"), nil
		}
		status, err := deps.Research.GetSessionStatus(ctx, id)
		if err != nil {
			return mcpError(fmt.Sprintf("reading session: %v", err)), nil
		}
		return mcpJSON(status)
	}
}

func mcpListIdeas(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil || id == "" {
			return mcpError("session_id is required"), nil
		}
		ideas, err := deps.Research.GetIdeas(ctx, id, req.GetBool("details", false))
		if err != nil {
			return mcpError(fmt.Sprintf("listing ideas: %v", err)), nil
		}
		if len(ideas) == 0 {
			return mcpText("[]"), nil
		}
		return mcpJSON(toIdeaResults(ideas))
	}
}

func mcpListSessions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessions, err := deps.Research.ListSessions(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("listing sessions: %v", err)), nil
		}
		if len(sessions) == 0 {
			return mcpText("[]"), nil
		}
		return mcpJSON(sessions)
	}
}

func mcpAPIStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		snap := deps.Research.Stats()
		return mcpJSON(struct {
			cosci.StatsSnapshot
			SuccessRate float64 `json:"success_rate"`
		}{snap, snap.SuccessRate()})
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
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
