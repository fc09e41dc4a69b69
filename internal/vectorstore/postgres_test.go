package vectorstore

import (
	"testing"
	"time"

	"github.com/kalambet/dqlgen/internal/knowledge"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgres_SearchQuery(t *testing.T) {
	query, args, err := searchQuery([]float32{0.1, 0.2}, 5)
	require.NoError(t, err)

	assert.Contains(t, query, "SELECT id, document, 1 - (embedding <=> $1) AS similarity")
	assert.Contains(t, query, "FROM context_items")
	assert.Contains(t, query, "ORDER BY embedding <=> $2")
	assert.Contains(t, query, "LIMIT 5")
	require.Len(t, args, 2)
	vec, ok := args[0].(pgvector.Vector)
	require.True(t, ok)
	assert.Equal(t, []float32{0.1, 0.2}, vec.Slice())
}

func TestPostgres_EfSearchClamped(t *testing.T) {
	assert.Equal(t, "", efSearchStmt(5, 0))
	assert.Equal(t, "SET LOCAL hnsw.ef_search = 100", efSearchStmt(5, 100))
	assert.Equal(t, "SET LOCAL hnsw.ef_search = 50", efSearchStmt(50, 20))
	assert.Equal(t, "SET LOCAL hnsw.ef_search = 1000", efSearchStmt(5, 5000))
}

func TestPostgres_UpsertQuery(t *testing.T) {
	items := []knowledge.Item{
		{ID: "a", Type: knowledge.TypeSchema, Payload: knowledge.SchemaPayload{Attribute: "title"}, Embedding: []float32{1, 0}, CreatedAt: time.Unix(0, 0)},
		{ID: "b", Type: knowledge.TypePolicy, Payload: knowledge.TextPayload{Content: "no deletes"}, Embedding: []float32{0, 1}},
	}
	query, args, err := upsertQuery(items)
	require.NoError(t, err)

	assert.Contains(t, query, "INSERT INTO context_items (id,type,provenance,document,embedding,created_at)")
	assert.Contains(t, query, "($1,$2,$3,$4,$5,$6),($7,$8,$9,$10,$11,$12)")
	assert.Contains(t, query, "ON CONFLICT (id) DO UPDATE")
	require.Len(t, args, 12)
	assert.Equal(t, "a", args[0])
	assert.Equal(t, "schema", args[1])
	assert.JSONEq(t, `{"type":"schema","attribute":"title","timestamp":"1970-01-01T00:00:00Z"}`, args[3].(string))
}

func TestPostgres_Schema(t *testing.T) {
	s := &PostgresStore{dims: 384}
	stmts := s.schema()
	require.Len(t, stmts, 4)
	assert.Contains(t, stmts[1], "vector(384)")
	assert.Contains(t, stmts[2], "USING hnsw (embedding vector_cosine_ops)")
}
