// Package vectorstore persists context items with their embeddings and answers
// cosine k-NN queries. SQLite, Elasticsearch and Postgres/pgvector backends
// share the Store interface and the knowledge.Document stored form.
package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kalambet/dqlgen/internal/knowledge"
)

// ErrDimensionMismatch is returned when a vector does not match the index dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

type Store interface {
	// EnsureIndex creates the index if it does not exist. Idempotent.
	EnsureIndex(ctx context.Context) error

	// Upsert inserts or replaces items by ID. Every item must carry an
	// embedding of the configured dimension.
	Upsert(ctx context.Context, items []knowledge.Item) error

	// Search returns up to k hits ranked by descending cosine similarity.
	// numCandidates widens the approximate search on ANN backends. An empty
	// or missing index yields no hits and no error.
	Search(ctx context.Context, vector []float32, k, numCandidates int) ([]knowledge.Hit, error)

	Count(ctx context.Context) (int, error)

	// Reset drops every item and recreates an empty index.
	Reset(ctx context.Context) error

	Close() error
}

func checkDims(dims int, vec []float32, what string) error {
	if dims > 0 && len(vec) != dims {
		return fmt.Errorf("%w: %s has %d dimensions, index has %d", ErrDimensionMismatch, what, len(vec), dims)
	}
	return nil
}

func validateItems(dims int, items []knowledge.Item) error {
	for _, it := range items {
		if it.ID == "" {
			return errors.New("item without id")
		}
		if len(it.Embedding) == 0 {
			return fmt.Errorf("item %s has no embedding", it.ID)
		}
		if err := checkDims(dims, it.Embedding, "item "+it.ID); err != nil {
			return err
		}
	}
	return nil
}

// encodeDocument renders the stored JSON form of it without the vector,
// which each backend keeps in its own column or field.
func encodeDocument(it knowledge.Item) ([]byte, error) {
	d := it.Document()
	d.Embedding = nil
	return json.Marshal(d)
}

func decodeDocument(data []byte) (knowledge.Document, error) {
	var d knowledge.Document
	if err := json.Unmarshal(data, &d); err != nil {
		return knowledge.Document{}, err
	}
	return d, nil
}
