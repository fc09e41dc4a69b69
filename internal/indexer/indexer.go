package indexer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kalambet/dqlgen/internal/knowledge"
)

// Embedder is the batch side of the embedding gateway.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is the write side of a vector store.
type Store interface {
	Upsert(ctx context.Context, items []knowledge.Item) error
	Reset(ctx context.Context) error
}

const batchSize = 64

type Indexer struct {
	embedder Embedder
	store    Store
	logger   *zap.Logger
}

func New(embedder Embedder, store Store, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{embedder: embedder, store: store, logger: logger}
}

// Index embeds items and upserts them in batches. It returns the number of
// items written before any error.
func (ix *Indexer) Index(ctx context.Context, items []knowledge.Item) (int, error) {
	written := 0
	for start := 0; start < len(items); start += batchSize {
		end := min(start+batchSize, len(items))
		batch := make([]knowledge.Item, end-start)
		copy(batch, items[start:end])

		texts := make([]string, len(batch))
		for i, it := range batch {
			texts[i] = it.Payload.EmbeddingText()
		}
		vecs, err := ix.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return written, fmt.Errorf("embedding items %d-%d: %w", start, end-1, err)
		}
		for i := range batch {
			batch[i].Embedding = vecs[i]
		}
		if err := ix.store.Upsert(ctx, batch); err != nil {
			return written, fmt.Errorf("storing items %d-%d: %w", start, end-1, err)
		}
		written += len(batch)
		ix.logger.Debug("indexed batch", zap.Int("items", len(batch)), zap.Int("total", written))
	}
	return written, nil
}

// Rebuild replaces the whole index with items.
func (ix *Indexer) Rebuild(ctx context.Context, items []knowledge.Item) (int, error) {
	if err := ix.store.Reset(ctx); err != nil {
		return 0, fmt.Errorf("resetting index: %w", err)
	}
	ix.logger.Info("index reset")
	return ix.Index(ctx, items)
}
