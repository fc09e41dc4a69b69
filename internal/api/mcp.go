package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/dqlgen/internal/feedback"
)

const recentResourceURI = "dqlgen://generations/recent"

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Pipeline  Pipeline
	Retriever Retriever
	History   History // optional
	Version   string
}

// NewMCPServer creates an MCP server exposing generation, feedback and
// context retrieval as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"dqlgen",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("dqlgen turns natural-language requests into Documentum DQL queries grounded in a curated knowledge base."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("generate_query",
			mcp.WithDescription("Generate a DQL query for a natural-language request."),
			mcp.WithString("utterance", mcp.Description("What the query should do"), mcp.Required()),
		),
		mcpGenerateQuery(deps),
	)

	s.AddTool(
		mcp.NewTool("submit_feedback",
			mcp.WithDescription("Record a verdict on a generated query. Good queries become examples, bad ones become counter-examples."),
			mcp.WithString("input", mcp.Description("The original request"), mcp.Required()),
			mcp.WithString("query", mcp.Description("The DQL query being judged"), mcp.Required()),
			mcp.WithString("verdict", mcp.Description("good or bad"), mcp.Required(), mcp.Enum("good", "bad")),
			mcp.WithString("comment", mcp.Description("Why the query is wrong or right")),
		),
		mcpSubmitFeedback(deps),
	)

	s.AddTool(
		mcp.NewTool("retrieve_context",
			mcp.WithDescription("Show the knowledge-base context that would ground a request."),
			mcp.WithString("utterance", mcp.Description("The request to retrieve context for"), mcp.Required()),
			mcp.WithNumber("k", mcp.Description("Number of nearest items (default from config)")),
		),
		mcpRetrieveContext(deps),
	)

	s.AddResource(
		mcp.NewResource(
			recentResourceURI,
			"Recent Generations",
			mcp.WithResourceDescription("Last 10 generated queries"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpGenerateQuery(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		utterance, err := req.RequireString("utterance")
		if err != nil {
			return mcpError("utterance is required"), nil
		}
		res, err := deps.Pipeline.Generate(ctx, utterance)
		if err != nil {
			return mcpError(fmt.Sprintf("generation failed: %v", err)), nil
		}
		if res.Degraded {
			return mcpText(res.Query + "\n\n(generated without knowledge-base context)"), nil
		}
		return mcpText(res.Query), nil
	}
}

func mcpSubmitFeedback(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		input, err := req.RequireString("input")
		if err != nil {
			return mcpError("input is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		verdict, err := req.RequireString("verdict")
		if err != nil {
			return mcpError("verdict is required"), nil
		}
		v, err := feedback.ParseVerdict(verdict)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		rec := feedback.Record{
			Input:   input,
			Query:   query,
			Verdict: v,
			Comment: req.GetString("comment", ""),
		}
		if err := deps.Pipeline.SubmitFeedback(ctx, rec); err != nil {
			return mcpError(fmt.Sprintf("failed to record feedback: %v", err)), nil
		}
		return mcpText("Feedback received"), nil
	}
}

func mcpRetrieveContext(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		utterance, err := req.RequireString("utterance")
		if err != nil {
			return mcpError("utterance is required"), nil
		}
		k := req.GetInt("k", 0)
		if k < 0 {
			k = 0
		}
		k = min(k, maxContextK)

		bundle, err := deps.Retriever.Retrieve(ctx, utterance, k)
		if err != nil {
			return mcpError(fmt.Sprintf("retrieval failed: %v", err)), nil
		}
		b, err := json.Marshal(bundle)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal context: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		type generationSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Utterance string `json:"utterance"`
			Query     string `json:"query"`
			Status    string `json:"status"`
		}

		summaries := []generationSummary{}
		if deps.History != nil {
			gens, err := deps.History.RecentGenerations(ctx, 10)
			if err != nil {
				return nil, fmt.Errorf("failed to get recent generations: %w", err)
			}
			for _, g := range gens {
				summaries = append(summaries, generationSummary{
					ID:        g.ID,
					CreatedAt: g.CreatedAt.Format(time.RFC3339),
					Utterance: truncate(g.Utterance, 200),
					Query:     g.Query,
					Status:    g.Status,
				})
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal generations: %w", err)
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

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
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
