package knowledge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type is the closed set of context item kinds the pipeline knows how to route.
type Type string

const (
	TypeSchema           Type = "schema"
	TypeExample          Type = "example"
	TypeGuideline        Type = "guideline"
	TypePattern          Type = "pattern"
	TypeMapping          Type = "mapping"
	TypeGlossary         Type = "glossary"
	TypeIntentHint       Type = "intent_hint"
	TypePolicy           Type = "policy"
	TypeUserContext      Type = "user_context"
	TypeFeedbackPositive Type = "feedback_positive"
	TypeFeedbackNegative Type = "feedback_negative"
)

// ProvenanceFeedback marks items derived from the feedback ledger.
const ProvenanceFeedback = "feedback"

var (
	// ErrUnknownType is returned for a type outside the closed enum.
	ErrUnknownType = errors.New("unknown context item type")
	// ErrInvalidPayload is returned when a document lacks the fields its type requires.
	ErrInvalidPayload = errors.New("invalid context item payload")
)

var knownTypes = map[Type]bool{
	TypeSchema: true, TypeExample: true, TypeGuideline: true, TypePattern: true,
	TypeMapping: true, TypeGlossary: true, TypeIntentHint: true, TypePolicy: true,
	TypeUserContext: true, TypeFeedbackPositive: true, TypeFeedbackNegative: true,
}

// legacyTypes maps type names found in older seed files onto the enum.
var legacyTypes = map[string]Type{
	"synonyms":       TypeMapping,
	"querytemplates": TypeMapping,
	"migration":      TypeMapping,
	"mappings":       TypeMapping,
	"patterns":       TypePattern,
	"guidelines":     TypeGuideline,
	"rules":          TypeGuideline,
	"rule":           TypeGuideline,
	"examples":       TypeExample,
	"intent":         TypeIntentHint,
	"policies":       TypePolicy,
}

// ParseType resolves a raw type tag, accepting legacy aliases case-insensitively.
func ParseType(raw string) (Type, error) {
	s := strings.TrimSpace(raw)
	if knownTypes[Type(s)] {
		return Type(s), nil
	}
	lower := strings.ToLower(s)
	if knownTypes[Type(lower)] {
		return Type(lower), nil
	}
	if t, ok := legacyTypes[lower]; ok {
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, raw)
}

// IsFeedback reports whether t is one of the promoted feedback types.
func (t Type) IsFeedback() bool {
	return t == TypeFeedbackPositive || t == TypeFeedbackNegative
}

// Payload is the type-specific body of an Item. The set of implementations is closed.
type Payload interface {
	// EmbeddingText is the text the gateway embeds for this payload.
	EmbeddingText() string
	isPayload()
}

// SchemaPayload describes one attribute of a repository object type.
type SchemaPayload struct {
	Attribute   string
	Description string
}

// ExamplePayload pairs an utterance with its DQL query.
type ExamplePayload struct {
	NL    string
	Query string
}

// TextPayload carries free text and an optional title.
type TextPayload struct {
	Title   string
	Content string
}

func (p SchemaPayload) EmbeddingText() string {
	if p.Description == "" {
		return p.Attribute
	}
	return p.Attribute + ": " + p.Description
}

func (p ExamplePayload) EmbeddingText() string { return p.NL }

func (p TextPayload) EmbeddingText() string {
	if p.Title == "" {
		return p.Content
	}
	return p.Title + ": " + p.Content
}

func (SchemaPayload) isPayload()  {}
func (ExamplePayload) isPayload() {}
func (TextPayload) isPayload()    {}

// Item is a typed, embeddable unit of domain knowledge.
type Item struct {
	ID         string
	Type       Type
	Payload    Payload
	Provenance string
	// Verdict is the signed user verdict on feedback items; zero elsewhere.
	Verdict   float64
	Comment   string
	Tags      []string
	CreatedAt time.Time
	Embedding []float32
	// Similarity is set on items produced from search hits.
	Similarity float32
}

// Document is the flat stored form of an Item, shared by every vector store.
type Document struct {
	Type        string    `json:"type"`
	Source      string    `json:"source,omitempty"`
	Attribute   string    `json:"attribute,omitempty"`
	Description string    `json:"description,omitempty"`
	NL          string    `json:"nl,omitempty"`
	Query       string    `json:"dql,omitempty"`
	Title       string    `json:"title,omitempty"`
	Content     string    `json:"content,omitempty"`
	Score       float64   `json:"score,omitempty"`
	Comment     string    `json:"comment,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Timestamp   string    `json:"timestamp,omitempty"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

// Hit is one ranked result of a k-NN search.
type Hit struct {
	ID         string   `json:"id"`
	Document   Document `json:"document"`
	Similarity float32  `json:"similarity"`
}

// Document converts the item to its stored form.
func (it Item) Document() Document {
	d := Document{
		Type:      string(it.Type),
		Source:    it.Provenance,
		Score:     it.Verdict,
		Comment:   it.Comment,
		Tags:      it.Tags,
		Embedding: it.Embedding,
	}
	if !it.CreatedAt.IsZero() {
		d.Timestamp = it.CreatedAt.UTC().Format(time.RFC3339)
	}
	switch p := it.Payload.(type) {
	case SchemaPayload:
		d.Attribute, d.Description = p.Attribute, p.Description
	case ExamplePayload:
		d.NL, d.Query = p.NL, p.Query
	case TextPayload:
		d.Title, d.Content = p.Title, p.Content
	}
	return d
}

// MarshalJSON renders the item in its stored form with its id and
// similarity. The embedding is left out.
func (it Item) MarshalJSON() ([]byte, error) {
	d := it.Document()
	d.Embedding = nil
	return json.Marshal(struct {
		ID string `json:"id"`
		Document
		Similarity float32 `json:"similarity,omitempty"`
	}{ID: it.ID, Document: d, Similarity: it.Similarity})
}

// FromDocument validates a stored document and builds the typed Item.
func FromDocument(id string, d Document) (Item, error) {
	t, err := ParseType(d.Type)
	if err != nil {
		return Item{}, err
	}
	it := Item{
		ID:         id,
		Type:       t,
		Provenance: d.Source,
		Verdict:    d.Score,
		Comment:    d.Comment,
		Tags:       d.Tags,
		Embedding:  d.Embedding,
	}
	if d.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, d.Timestamp); err == nil {
			it.CreatedAt = ts
		}
	}

	switch t {
	case TypeSchema:
		if d.Attribute == "" {
			return Item{}, fmt.Errorf("%w: schema item %s has no attribute", ErrInvalidPayload, id)
		}
		it.Payload = SchemaPayload{Attribute: d.Attribute, Description: d.Description}
	case TypeExample, TypeFeedbackPositive, TypeFeedbackNegative:
		if d.NL == "" || d.Query == "" {
			return Item{}, fmt.Errorf("%w: %s item %s needs nl and dql", ErrInvalidPayload, t, id)
		}
		it.Payload = ExamplePayload{NL: d.NL, Query: d.Query}
	default:
		content := d.Content
		if content == "" {
			content = d.NL
		}
		if content == "" {
			return Item{}, fmt.Errorf("%w: %s item %s has no content", ErrInvalidPayload, t, id)
		}
		it.Payload = TextPayload{Title: d.Title, Content: content}
	}
	return it, nil
}
