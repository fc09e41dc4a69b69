// Package embedding is the single path from text to vectors. Indexing,
// feedback promotion and query-time retrieval all go through one Gateway so
// every vector in the store comes from the same model.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/dqlgen/internal/engine"
	"github.com/kalambet/dqlgen/internal/upstream"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrEmbedding marks any failure to produce a vector. It is fatal to the request.
	ErrEmbedding = errors.New("embedding failed")
	// ErrDimensionMismatch is returned when a vector has the wrong length.
	ErrDimensionMismatch = fmt.Errorf("%w: dimension mismatch", ErrEmbedding)
)

const (
	// batchLimit bounds concurrent requests to the engine.
	batchLimit = 4

	DefaultTimeout = 10 * time.Second
)

// Gateway embeds text with a fixed model and checks the output dimension.
type Gateway struct {
	engine  engine.Engine
	model   string
	dims    int
	timeout time.Duration
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithTimeout bounds each engine call. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// NewGateway creates a Gateway. dims <= 0 disables the dimension check.
func NewGateway(e engine.Engine, model string, dims int, opts ...Option) *Gateway {
	g := &Gateway{engine: e, model: model, dims: dims, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) Model() string   { return g.model }
func (g *Gateway) Dimensions() int { return g.dims }

// Embed returns the vector for text. A call exceeding the gateway timeout
// fails with ErrEmbedding wrapping upstream.ErrTimeout.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", ErrEmbedding)
	}
	var vec []float32
	err := upstream.WithTimeout(ctx, g.timeout, "embedding", func(ctx context.Context) error {
		var err error
		vec, err = g.engine.Embed(ctx, g.model, text)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if err := g.check(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedBatch embeds texts concurrently and returns vectors in input order.
// Any single failure fails the batch. Empty input returns nil.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(batchLimit)

	for i, text := range texts {
		eg.Go(func() error {
			vec, err := g.Embed(egCtx, text)
			if err != nil {
				return fmt.Errorf("text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (g *Gateway) check(vec []float32) error {
	if g.dims > 0 && len(vec) != g.dims {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), g.dims)
	}
	return nil
}
