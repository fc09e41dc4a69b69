// Package indexer loads seed knowledge from files and writes it, embedded,
// into the vector store.
package indexer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/dqlgen/internal/knowledge"
)

// ErrUnsupportedFormat is returned for file extensions LoadFile cannot read.
var ErrUnsupportedFormat = errors.New("unsupported seed file format")

var itemNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("dqlgen:seed"))

// Fields of a seed document that map onto knowledge.Document. Anything else
// on a mapping item is kept as its rule body.
var documentKeys = map[string]bool{
	"id": true, "type": true, "source": true, "attribute": true, "description": true,
	"nl": true, "dql": true, "query": true, "title": true, "content": true,
	"score": true, "comment": true, "tags": true, "timestamp": true, "embedding": true,
	"source_text": true, "object_type": true,
}

// LoadFile reads seed items from path. JSON files hold either an array of
// documents or an object of {group: [documents]}; a document without a type
// takes the group name, then defaultType. PDF, HTML and plain text files are
// split into paragraph chunks of defaultType (guideline when empty).
func LoadFile(path, defaultType string) ([]knowledge.Item, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return loadJSON(data, defaultType, "seed")
	case ".pdf":
		text, err := pdfText(path)
		if err != nil {
			return nil, fmt.Errorf("reading pdf %s: %w", path, err)
		}
		return textItems(text, filepath.Base(path), defaultType, "pdf")
	case ".html", ".htm":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		text, err := htmlText(f)
		if err != nil {
			return nil, fmt.Errorf("reading html %s: %w", path, err)
		}
		return textItems(text, filepath.Base(path), defaultType, "html")
	case ".txt", ".md":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return textItems(string(data), filepath.Base(path), defaultType, "text")
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

func loadJSON(data []byte, defaultType, provenance string) ([]knowledge.Item, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return []knowledge.Item{}, nil
	}

	var items []knowledge.Item
	switch data[0] {
	case '[':
		var docs []json.RawMessage
		if err := json.Unmarshal(data, &docs); err != nil {
			return nil, fmt.Errorf("decoding document array: %w", err)
		}
		for i, raw := range docs {
			it, err := parseDocument(raw, defaultType, provenance)
			if err != nil {
				return nil, fmt.Errorf("document %d: %w", i, err)
			}
			items = append(items, it)
		}
	case '{':
		var groups map[string][]json.RawMessage
		if err := json.Unmarshal(data, &groups); err != nil {
			return nil, fmt.Errorf("decoding document groups: %w", err)
		}
		names := make([]string, 0, len(groups))
		for name := range groups {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			groupType := name
			if _, err := knowledge.ParseType(name); err != nil {
				groupType = defaultType
			}
			for i, raw := range groups[name] {
				it, err := parseDocument(raw, groupType, provenance)
				if err != nil {
					return nil, fmt.Errorf("%s[%d]: %w", name, i, err)
				}
				items = append(items, it)
			}
		}
	default:
		return nil, errors.New("seed JSON must be an array or an object of arrays")
	}
	if items == nil {
		items = []knowledge.Item{}
	}
	return items, nil
}

func parseDocument(raw json.RawMessage, defaultType, provenance string) (knowledge.Item, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return knowledge.Item{}, err
	}
	var d knowledge.Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return knowledge.Item{}, err
	}
	var extra struct {
		ID         string `json:"id"`
		Query      string `json:"query"`
		SourceText string `json:"source_text"`
	}
	_ = json.Unmarshal(raw, &extra)

	// Stored vectors may come from a different model; the gateway re-embeds.
	d.Embedding = nil
	if d.Type == "" {
		d.Type = defaultType
	}
	if d.Source == "" {
		d.Source = provenance
	}
	if d.Query == "" {
		d.Query = extra.Query
	}

	t, err := knowledge.ParseType(d.Type)
	if err != nil {
		return knowledge.Item{}, err
	}
	switch t {
	case knowledge.TypeSchema:
		if d.Description == "" {
			d.Description = extra.SourceText
		}
	case knowledge.TypeMapping:
		if d.Content == "" {
			body, err := ruleBody(fields)
			if err != nil {
				return knowledge.Item{}, err
			}
			if body != "" {
				d.Title, d.Content, d.NL = d.NL, body, ""
			}
		}
	}

	it, err := knowledge.FromDocument(extra.ID, d)
	if err != nil {
		return knowledge.Item{}, err
	}
	if it.ID == "" {
		it.ID = contentID(it)
	}
	return it, nil
}

// ruleBody renders the non-document keys of a mapping rule as compact JSON
// with sorted keys.
func ruleBody(fields map[string]json.RawMessage) (string, error) {
	body := map[string]json.RawMessage{}
	for k, v := range fields {
		if !documentKeys[k] {
			body[k] = v
		}
	}
	if len(body) == 0 {
		return "", nil
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// contentID derives a stable id from what an item says, so re-indexing the
// same file overwrites instead of duplicating.
func contentID(it knowledge.Item) string {
	key := string(it.Type) + "\x00" + it.Payload.EmbeddingText()
	if p, ok := it.Payload.(knowledge.ExamplePayload); ok {
		key += "\x00" + p.Query
	}
	return uuid.NewSHA1(itemNamespace, []byte(key)).String()
}
