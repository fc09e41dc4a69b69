// Package composer renders a context bundle and an utterance into the prompt
// sent to the generation backend.
package composer

import (
	"strings"

	"github.com/kalambet/dqlgen/internal/knowledge"
)

const (
	preamble    = "You are a Documentum DQL assistant.\nUse the following schemas, guidelines, and examples to answer accurately."
	instruction = "Respond ONLY with the DQL query, without explanation or markdown formatting.\nDQL query:"

	DefaultGoodFeedbackCap = 3
	DefaultBadFeedbackCap  = 2
	DefaultExampleCap      = 3
)

// Caps bound the number of rendered items in the capped sections. Negative
// values fall back to the defaults; zero hides the section.
type Caps struct {
	GoodFeedback int
	BadFeedback  int
	Example      int
}

func DefaultCaps() Caps {
	return Caps{
		GoodFeedback: DefaultGoodFeedbackCap,
		BadFeedback:  DefaultBadFeedbackCap,
		Example:      DefaultExampleCap,
	}
}

// Composer assembles prompts. It holds no per-request state.
type Composer struct {
	caps Caps
}

func New(caps Caps) *Composer {
	d := DefaultCaps()
	if caps.GoodFeedback < 0 {
		caps.GoodFeedback = d.GoodFeedback
	}
	if caps.BadFeedback < 0 {
		caps.BadFeedback = d.BadFeedback
	}
	if caps.Example < 0 {
		caps.Example = d.Example
	}
	return &Composer{caps: caps}
}

func similarity(it knowledge.Item) float32 { return it.Similarity }

// Compose renders the prompt. Sections appear in a fixed order and a section
// with no items is left out entirely. Mapping and intent hint items are not
// rendered.
func (c *Composer) Compose(utterance string, b knowledge.Bundle) string {
	parts := []string{preamble}

	section := func(title string, lines []string) {
		if len(lines) == 0 {
			return
		}
		parts = append(parts, "\n"+title)
		parts = append(parts, lines...)
	}

	section("User context:", render(b.UserContext, contentLine))
	section("Glossary:", render(b.Glossary, glossaryLine))

	rules := make([]knowledge.Item, 0, len(b.Guideline)+len(b.Pattern)+len(b.Policy))
	rules = append(rules, b.Guideline...)
	rules = append(rules, b.Pattern...)
	rules = append(rules, b.Policy...)
	section("Guidelines and Policies:", render(rules, contentLine))

	section("Schema attributes:", render(b.Schema, schemaLine))
	section("User-validated example queries:", render(TopN(b.FeedbackGood, c.caps.GoodFeedback, similarity), exampleLine))
	section("Queries users flagged as wrong (do NOT use these):", render(TopN(b.FeedbackBad, c.caps.BadFeedback, similarity), flaggedLine))
	section("Example queries:", render(TopN(b.Example, c.caps.Example, similarity), exampleLine))

	parts = append(parts, "\nUser request:\n\""+utterance+"\"")
	parts = append(parts, "\n"+instruction)
	return strings.Join(parts, "\n")
}

func render(items []knowledge.Item, line func(knowledge.Item) (string, bool)) []string {
	var out []string
	for _, it := range items {
		if s, ok := line(it); ok {
			out = append(out, s)
		}
	}
	return out
}

func contentLine(it knowledge.Item) (string, bool) {
	p, ok := it.Payload.(knowledge.TextPayload)
	if !ok {
		return "", false
	}
	return "- " + p.Content, true
}

func glossaryLine(it knowledge.Item) (string, bool) {
	p, ok := it.Payload.(knowledge.TextPayload)
	if !ok {
		return "", false
	}
	return "- " + p.Title + ": " + p.Content, true
}

func schemaLine(it knowledge.Item) (string, bool) {
	p, ok := it.Payload.(knowledge.SchemaPayload)
	if !ok {
		return "", false
	}
	return "- " + p.Attribute + ": " + p.Description, true
}

func exampleLine(it knowledge.Item) (string, bool) {
	p, ok := it.Payload.(knowledge.ExamplePayload)
	if !ok {
		return "", false
	}
	return "- NL: " + p.NL + "\n  DQL: " + p.Query, true
}

func flaggedLine(it knowledge.Item) (string, bool) {
	s, ok := exampleLine(it)
	if ok && it.Comment != "" {
		s += "\n  Reason: " + it.Comment
	}
	return s, ok
}
