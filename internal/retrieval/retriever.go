// Package retrieval turns an utterance into a classified context bundle with
// a single k-NN search.
package retrieval

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kalambet/dqlgen/internal/knowledge"
	"github.com/kalambet/dqlgen/internal/upstream"
)

const (
	DefaultTopK          = 5
	DefaultNumCandidates = 100
	DefaultSearchTimeout = 5 * time.Second
)

// Embedder is the query-time view of the embedding gateway.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the read side of a vector store.
type Searcher interface {
	Search(ctx context.Context, vector []float32, k, numCandidates int) ([]knowledge.Hit, error)
}

// RetrievalError reports a failed or timed-out search. Retrieve returns it
// alongside an empty bundle so callers can continue ungrounded.
type RetrievalError struct {
	Err error
}

func (e *RetrievalError) Error() string { return fmt.Sprintf("retrieval failed: %v", e.Err) }
func (e *RetrievalError) Unwrap() error { return e.Err }

type Options struct {
	TopK          int
	NumCandidates int
	SearchTimeout time.Duration
}

type Retriever struct {
	embedder   Embedder
	store      Searcher
	classifier *knowledge.Classifier
	opts       Options
	logger     *zap.Logger
}

func NewRetriever(embedder Embedder, store Searcher, opts Options, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.NumCandidates <= 0 {
		opts.NumCandidates = DefaultNumCandidates
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = DefaultSearchTimeout
	}
	return &Retriever{
		embedder:   embedder,
		store:      store,
		classifier: knowledge.NewClassifier(logger),
		opts:       opts,
		logger:     logger,
	}
}

// Retrieve embeds the utterance, runs one search and classifies the hits.
// An embedding failure is returned as is. A search failure yields an empty
// bundle and a *RetrievalError.
func (r *Retriever) Retrieve(ctx context.Context, utterance string, k int) (knowledge.Bundle, error) {
	if k <= 0 {
		k = r.opts.TopK
	}

	vec, err := r.embedder.Embed(ctx, utterance)
	if err != nil {
		return knowledge.Bundle{}, err
	}

	numCandidates := max(r.opts.NumCandidates, 4*k)
	var hits []knowledge.Hit
	err = upstream.WithTimeout(ctx, r.opts.SearchTimeout, "vector search", func(ctx context.Context) error {
		var err error
		hits, err = r.store.Search(ctx, vec, k, numCandidates)
		return err
	})
	if err != nil {
		return knowledge.NewBundle(), &RetrievalError{Err: err}
	}

	bundle := r.classifier.Classify(hits)
	bundle.SplitFeedback()
	r.logger.Debug("context retrieved",
		zap.Int("hits", len(hits)),
		zap.Int("unhandled", len(bundle.Unhandled)),
		zap.Int("feedback_good", len(bundle.FeedbackGood)),
		zap.Int("feedback_bad", len(bundle.FeedbackBad)),
	)
	return bundle, nil
}
