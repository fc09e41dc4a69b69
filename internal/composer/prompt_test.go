package composer

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/dqlgen/internal/knowledge"
)

func example(nl string, sim float32) knowledge.Item {
	return knowledge.Item{
		Type:       knowledge.TypeExample,
		Payload:    knowledge.ExamplePayload{NL: nl, Query: "SELECT " + nl},
		Similarity: sim,
	}
}

func text(t knowledge.Type, title, content string) knowledge.Item {
	return knowledge.Item{Type: t, Payload: knowledge.TextPayload{Title: title, Content: content}}
}

func TestCompose_EmptyBundle(t *testing.T) {
	got := New(DefaultCaps()).Compose("anything", knowledge.NewBundle())

	want := "You are a Documentum DQL assistant.\n" +
		"Use the following schemas, guidelines, and examples to answer accurately.\n" +
		"\nUser request:\n\"anything\"\n" +
		"\nRespond ONLY with the DQL query, without explanation or markdown formatting.\nDQL query:"
	assert.Equal(t, want, got)
	assert.NotContains(t, got, "Schema attributes:")
}

func TestCompose_CabinetScenario(t *testing.T) {
	b := knowledge.NewBundle()
	b.Schema = []knowledge.Item{{
		Type:    knowledge.TypeSchema,
		Payload: knowledge.SchemaPayload{Attribute: "r_object_id", Description: "unique id"},
	}}
	b.FeedbackGood = []knowledge.Item{{
		Type:    knowledge.TypeFeedbackPositive,
		Payload: knowledge.ExamplePayload{NL: "count docs in cabinet X", Query: "SELECT COUNT(*) FROM dm_document WHERE ..."},
		Verdict: 1,
	}}

	utterance := "How many documents are in my cabinet?"
	got := New(DefaultCaps()).Compose(utterance, b)

	assert.Contains(t, got, "\nSchema attributes:\n- r_object_id: unique id\n")
	assert.Contains(t, got, "\nUser-validated example queries:\n- NL: count docs in cabinet X\n  DQL: SELECT COUNT(*) FROM dm_document WHERE ...\n")
	assert.True(t, strings.HasSuffix(got, "User request:\n\""+utterance+"\"\n\n"+instruction))
	assert.NotContains(t, got, "do NOT use")
}

func TestCompose_SectionOrder(t *testing.T) {
	b := knowledge.NewBundle()
	b.UserContext = []knowledge.Item{text(knowledge.TypeUserContext, "", "Repository is Documentum 23.4")}
	b.Glossary = []knowledge.Item{text(knowledge.TypeGlossary, "cabinet", "top-level folder")}
	b.Guideline = []knowledge.Item{text(knowledge.TypeGuideline, "", "guideline text")}
	b.Pattern = []knowledge.Item{text(knowledge.TypePattern, "", "pattern text")}
	b.Policy = []knowledge.Item{text(knowledge.TypePolicy, "", "policy text")}
	b.Schema = []knowledge.Item{{Type: knowledge.TypeSchema, Payload: knowledge.SchemaPayload{Attribute: "object_name", Description: "name"}}}
	b.FeedbackGood = []knowledge.Item{example("good", 0.9)}
	b.FeedbackBad = []knowledge.Item{example("bad", 0.9)}
	b.Example = []knowledge.Item{example("plain", 0.9)}
	b.Mapping = []knowledge.Item{text(knowledge.TypeMapping, "", "MAPPING BODY")}
	b.IntentHint = []knowledge.Item{text(knowledge.TypeIntentHint, "", "INTENT BODY")}

	got := New(DefaultCaps()).Compose("u", b)

	order := []string{
		"You are a Documentum DQL assistant.",
		"User context:\n- Repository is Documentum 23.4",
		"Glossary:\n- cabinet: top-level folder",
		"Guidelines and Policies:\n- guideline text\n- pattern text\n- policy text",
		"Schema attributes:\n- object_name: name",
		"User-validated example queries:\n- NL: good",
		"Queries users flagged as wrong (do NOT use these):\n- NL: bad",
		"Example queries:\n- NL: plain",
		"User request:",
		"DQL query:",
	}
	last := -1
	for _, s := range order {
		idx := strings.Index(got, s)
		require.NotEqual(t, -1, idx, "missing %q", s)
		assert.Greater(t, idx, last, "%q out of order", s)
		last = idx
	}
	assert.NotContains(t, got, "MAPPING BODY")
	assert.NotContains(t, got, "INTENT BODY")
}

func TestCompose_BadFeedbackOnlyInNegativeSection(t *testing.T) {
	b := knowledge.NewBundle()
	bad := example("delete everything", 0.95)
	bad.Comment = "destructive"
	b.FeedbackBad = []knowledge.Item{bad}

	got := New(DefaultCaps()).Compose("u", b)
	assert.Contains(t, got, "Queries users flagged as wrong (do NOT use these):\n- NL: delete everything\n  DQL: SELECT delete everything\n  Reason: destructive")
	assert.NotContains(t, got, "User-validated example queries:")
}

func TestCompose_CapsTruncateBySimilarity(t *testing.T) {
	b := knowledge.NewBundle()
	for i, sim := range []float32{0.6, 0.9, 0.5, 0.8, 0.7} {
		b.Example = append(b.Example, example(fmt.Sprintf("ex%d", i), sim))
	}
	got := New(DefaultCaps()).Compose("u", b)

	assert.Contains(t, got, "Example queries:\n- NL: ex1\n  DQL: SELECT ex1\n- NL: ex3\n  DQL: SELECT ex3\n- NL: ex4\n  DQL: SELECT ex4\n")
	assert.NotContains(t, got, "ex0")
	assert.NotContains(t, got, "ex2")
}

func TestCompose_ConfigurableCaps(t *testing.T) {
	b := knowledge.NewBundle()
	b.FeedbackBad = []knowledge.Item{example("a", 0.3), example("b", 0.2), example("c", 0.1)}

	got := New(Caps{GoodFeedback: 3, BadFeedback: 1, Example: 3}).Compose("u", b)
	assert.Contains(t, got, "- NL: a")
	assert.NotContains(t, got, "- NL: b")

	hidden := New(Caps{BadFeedback: 0}).Compose("u", b)
	assert.NotContains(t, hidden, "do NOT use")

	defaulted := New(Caps{GoodFeedback: -1, BadFeedback: -1, Example: -1}).Compose("u", b)
	assert.Contains(t, defaulted, "- NL: b")
	assert.NotContains(t, defaulted, "- NL: c")
}

func TestCompose_Deterministic(t *testing.T) {
	b := knowledge.NewBundle()
	b.Example = []knowledge.Item{example("x", 0.5), example("y", 0.5)}
	c := New(DefaultCaps())
	assert.Equal(t, c.Compose("u", b), c.Compose("u", b))
}
