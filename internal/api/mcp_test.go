package api

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/dqlgen/internal/feedback"
	"github.com/kalambet/dqlgen/internal/knowledge"
	"github.com/kalambet/dqlgen/internal/pipeline"
	"github.com/kalambet/dqlgen/internal/storage"
)

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "no content in result")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func newTestMCPDeps(t *testing.T) (MCPDeps, *feedback.Ledger) {
	t.Helper()
	ledger := feedback.NewLedger(filepath.Join(t.TempDir(), "feedback.csv"))
	return MCPDeps{
		Pipeline: &fakePipeline{
			generateFn: func(_ context.Context, u string) (pipeline.Result, error) {
				return pipeline.Result{ID: "g", Query: "SELECT * FROM dm_document"}, nil
			},
			feedbackFn: ledger.Append,
		},
		Retriever: &fakeRetriever{retrieveFn: func(context.Context, string, int) (knowledge.Bundle, error) {
			return knowledge.NewBundle(), nil
		}},
	}, ledger
}

func TestMCPTool_GenerateQuery(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	result, err := mcpGenerateQuery(deps)(context.Background(), makeCallToolRequest("generate_query", map[string]any{
		"utterance": "all documents",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, toolText(t, result))
	assert.Equal(t, "SELECT * FROM dm_document", toolText(t, result))
}

func TestMCPTool_GenerateQuery_Degraded(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.Pipeline = &fakePipeline{generateFn: func(context.Context, string) (pipeline.Result, error) {
		return pipeline.Result{Query: "SELECT 1 FROM dm_document", Degraded: true}, nil
	}}
	result, err := mcpGenerateQuery(deps)(context.Background(), makeCallToolRequest("generate_query", map[string]any{
		"utterance": "x",
	}))
	require.NoError(t, err)
	assert.Contains(t, toolText(t, result), "without knowledge-base context")
}

func TestMCPTool_GenerateQuery_Errors(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	result, err := mcpGenerateQuery(deps)(context.Background(), makeCallToolRequest("generate_query", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	deps.Pipeline = &fakePipeline{generateFn: func(context.Context, string) (pipeline.Result, error) {
		return pipeline.Result{}, errors.New("model offline")
	}}
	result, err = mcpGenerateQuery(deps)(context.Background(), makeCallToolRequest("generate_query", map[string]any{"utterance": "x"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(t, result), "model offline")
}

func TestMCPTool_SubmitFeedback(t *testing.T) {
	deps, ledger := newTestMCPDeps(t)
	handler := mcpSubmitFeedback(deps)

	result, err := handler(context.Background(), makeCallToolRequest("submit_feedback", map[string]any{
		"input":   "folders",
		"query":   "SELECT * FROM dm_document",
		"verdict": "BAD",
		"comment": "should be dm_folder",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, toolText(t, result))

	records, err := ledger.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, feedback.VerdictBad, records[0].Verdict)
	assert.Equal(t, "should be dm_folder", records[0].Comment)

	result, err = handler(context.Background(), makeCallToolRequest("submit_feedback", map[string]any{
		"input": "a", "query": "b", "verdict": "maybe",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestMCPTool_RetrieveContext(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	var gotK int
	deps.Retriever = &fakeRetriever{retrieveFn: func(_ context.Context, _ string, k int) (knowledge.Bundle, error) {
		gotK = k
		b := knowledge.NewBundle()
		b.Policy = append(b.Policy, knowledge.Item{ID: "p1", Type: knowledge.TypePolicy, Payload: knowledge.TextPayload{Content: "read only"}})
		return b, nil
	}}

	result, err := mcpRetrieveContext(deps)(context.Background(), makeCallToolRequest("retrieve_context", map[string]any{
		"utterance": "x",
		"k":         3,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, toolText(t, result))
	assert.Equal(t, 3, gotK)

	var m map[string][]map[string]any
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &m))
	require.Len(t, m["policy"], 1)
	assert.Equal(t, "read only", m["policy"][0]["content"])
}

func TestMCPResource_Recent(t *testing.T) {
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.SaveGeneration(context.Background(), storage.Generation{
		ID:        "g1",
		CreatedAt: time.Now(),
		Utterance: "all cabinets",
		Query:     "SELECT * FROM dm_cabinet",
		Backend:   "ollama",
	}))

	deps, _ := newTestMCPDeps(t)
	deps.History = store
	contents, err := mcpResourceRecent(deps)(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: recentResourceURI},
	})
	require.NoError(t, err)
	require.Len(t, contents, 1)

	tc, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	var rows []map[string]string
	require.NoError(t, json.Unmarshal([]byte(tc.Text), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "SELECT * FROM dm_cabinet", rows[0]["query"])
	assert.Equal(t, storage.StatusCompleted, rows[0]["status"])
}

func TestMCPServer_ConcurrentCalls(t *testing.T) {
	deps, ledger := newTestMCPDeps(t)
	handler := mcpSubmitFeedback(deps)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := handler(context.Background(), makeCallToolRequest("submit_feedback", map[string]any{
				"input": "docs", "query": "SELECT * FROM dm_document", "verdict": "good",
			}))
			assert.NoError(t, err)
			assert.False(t, res.IsError)
		}()
	}
	wg.Wait()

	records, err := ledger.Records(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 10)
}

func TestNewMCPServer_Registers(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	assert.NotNil(t, NewMCPServer(deps))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
}
