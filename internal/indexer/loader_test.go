package indexer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/dqlgen/internal/knowledge"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadFile_JSONArray(t *testing.T) {
	p := writeFile(t, "examples.json", `[
		{"type": "example", "nl": "all documents", "dql": "SELECT * FROM dm_document", "embedding": [0.1, 0.2]},
		{"nl": "count folders", "query": "SELECT COUNT(*) FROM dm_folder"}
	]`)

	items, err := LoadFile(p, "example")
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, knowledge.TypeExample, items[0].Type)
	assert.Equal(t, knowledge.ExamplePayload{NL: "all documents", Query: "SELECT * FROM dm_document"}, items[0].Payload)
	assert.Nil(t, items[0].Embedding)
	assert.Equal(t, "seed", items[0].Provenance)
	assert.Equal(t, "SELECT COUNT(*) FROM dm_folder", items[1].Payload.(knowledge.ExamplePayload).Query)
	assert.NotEqual(t, items[0].ID, items[1].ID)
}

func TestLoadFile_StableIDs(t *testing.T) {
	p := writeFile(t, "g.json", `[{"type":"glossary","title":"cabinet","content":"top-level folder"}, {"id":"fixed","type":"policy","content":"read only"}]`)
	a, err := LoadFile(p, "")
	require.NoError(t, err)
	b, err := LoadFile(p, "")
	require.NoError(t, err)
	assert.Equal(t, a[0].ID, b[0].ID)
	assert.Equal(t, "fixed", a[1].ID)
}

func TestLoadFile_GroupedObject(t *testing.T) {
	p := writeFile(t, "all_embeddings.json", `{
		"schema": [{"object_type": "dm_document", "attribute": "r_object_id", "source_text": "unique object id"}],
		"guidelines": [
			{"type": "synonyms", "nl": "users name documents differently", "document": ["record", "doc"]},
			{"content": "Always use single quotes"}
		],
		"examples": [{"nl": "list cabinets", "dql": "SELECT * FROM dm_cabinet"}]
	}`)

	items, err := LoadFile(p, "")
	require.NoError(t, err)
	require.Len(t, items, 4)

	byType := map[knowledge.Type][]knowledge.Item{}
	for _, it := range items {
		byType[it.Type] = append(byType[it.Type], it)
	}
	require.Len(t, byType[knowledge.TypeSchema], 1)
	assert.Equal(t, knowledge.SchemaPayload{Attribute: "r_object_id", Description: "unique object id"}, byType[knowledge.TypeSchema][0].Payload)

	require.Len(t, byType[knowledge.TypeMapping], 1)
	m := byType[knowledge.TypeMapping][0].Payload.(knowledge.TextPayload)
	assert.Equal(t, "users name documents differently", m.Title)
	assert.Equal(t, `{"document":["record","doc"]}`, m.Content)

	require.Len(t, byType[knowledge.TypeGuideline], 1)
	assert.Equal(t, "Always use single quotes", byType[knowledge.TypeGuideline][0].Payload.(knowledge.TextPayload).Content)
	assert.Len(t, byType[knowledge.TypeExample], 1)
}

func TestLoadFile_MappingWithoutBodyKeepsNL(t *testing.T) {
	p := writeFile(t, "m.json", `[{"type": "Migration", "nl": "RIMA_ cabinets are reserved"}]`)
	items, err := LoadFile(p, "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, knowledge.TypeMapping, items[0].Type)
	assert.Equal(t, "RIMA_ cabinets are reserved", items[0].Payload.(knowledge.TextPayload).Content)
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(writeFile(t, "bad.json", `[{"type": "mystery", "content": "x"}]`), "")
	assert.ErrorIs(t, err, knowledge.ErrUnknownType)
	assert.ErrorContains(t, err, "document 0")

	_, err = LoadFile(writeFile(t, "schema.json", `[{"type": "schema", "description": "no attribute"}]`), "")
	assert.ErrorIs(t, err, knowledge.ErrInvalidPayload)

	_, err = LoadFile(writeFile(t, "scalar.json", `"just a string"`), "")
	assert.Error(t, err)

	_, err = LoadFile(writeFile(t, "data.csv", "a,b"), "")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = LoadFile(writeFile(t, "fake.pdf", "not really a pdf"), "")
	assert.Error(t, err)
}

func TestLoadFile_EmptyJSON(t *testing.T) {
	items, err := LoadFile(writeFile(t, "empty.json", "[]"), "")
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestLoadFile_HTML(t *testing.T) {
	p := writeFile(t, "guide.html", `<html><head><title>ignored</title><style>p{}</style></head>
		<body><h1>DQL rules</h1><p>Use <b>FOLDER</b> predicates   for paths.</p>
		<script>alert(1)</script><ul><li>Quote strings with single quotes.</li></ul></body></html>`)

	items, err := LoadFile(p, "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	it := items[0]
	assert.Equal(t, knowledge.TypeGuideline, it.Type)
	assert.Equal(t, "html", it.Provenance)

	content := it.Payload.(knowledge.TextPayload).Content
	assert.Contains(t, content, "DQL rules")
	assert.Contains(t, content, "Use FOLDER predicates for paths.")
	assert.Contains(t, content, "Quote strings with single quotes.")
	assert.NotContains(t, content, "alert")
	assert.NotContains(t, content, "ignored")
	assert.Equal(t, "guide.html", it.Payload.(knowledge.TextPayload).Title)
}

func TestLoadFile_TextRejectsStructuredType(t *testing.T) {
	_, err := LoadFile(writeFile(t, "notes.txt", "hello"), "schema")
	assert.ErrorContains(t, err, "need structured fields")

	items, err := LoadFile(writeFile(t, "notes.md", "a\n\nb"), "policy")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, knowledge.TypePolicy, items[0].Type)
}

func TestChunkText(t *testing.T) {
	chunks := chunkText("first para\n\nsecond   para\n \nthird", 1000)
	assert.Equal(t, []string{"first para\n\nsecond para\n\nthird"}, chunks)

	chunks = chunkText("aaaa\n\nbbbb\n\ncccc", 10)
	assert.Equal(t, []string{"aaaa\n\nbbbb", "cccc"}, chunks)

	long := strings.Repeat("word ", 50)
	chunks = chunkText(long, 40)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 40)
	}
	assert.Equal(t, 50, len(strings.Fields(strings.Join(chunks, " "))))

	assert.Empty(t, chunkText(" \n\n ", 100))
}
