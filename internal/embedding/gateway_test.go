package embedding

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/dqlgen/internal/engine"
	"github.com/kalambet/dqlgen/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockEngine struct {
	embedFn func(ctx context.Context, model, text string) ([]float32, error)
}

func (m *mockEngine) Chat(context.Context, string, []engine.Message) (string, error) {
	return "", errors.New("not implemented")
}
func (m *mockEngine) Embed(ctx context.Context, model, text string) ([]float32, error) {
	return m.embedFn(ctx, model, text)
}
func (m *mockEngine) IsRunning(context.Context) bool        { return true }
func (m *mockEngine) HasModel(context.Context, string) bool { return true }
func (m *mockEngine) PullModel(context.Context, string, func(engine.PullProgress)) error {
	return nil
}

// hashVector derives a deterministic vector from text.
func hashVector(text string, dims int) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()
	v := make([]float32, dims)
	for i := range v {
		seed = seed*1664525 + 1013904223
		v[i] = float32(seed%1000) / 1000
	}
	return v
}

func deterministic(dims int) *mockEngine {
	return &mockEngine{embedFn: func(_ context.Context, _ string, text string) ([]float32, error) {
		return hashVector(text, dims), nil
	}}
}

func TestEmbed_Deterministic(t *testing.T) {
	g := NewGateway(deterministic(384), "all-minilm", 384)

	a, err := g.Embed(context.Background(), "list all cabinets")
	require.NoError(t, err)
	b, err := g.Embed(context.Background(), "list all cabinets")
	require.NoError(t, err)
	assert.Len(t, a, 384)
	assert.Equal(t, a, b)
}

func TestEmbed_EmptyText(t *testing.T) {
	called := false
	g := NewGateway(&mockEngine{embedFn: func(context.Context, string, string) ([]float32, error) {
		called = true
		return nil, nil
	}}, "m", 3)

	_, err := g.Embed(context.Background(), "  \n\t")
	assert.ErrorIs(t, err, ErrEmbedding)
	assert.False(t, called)
}

func TestEmbed_BackendError(t *testing.T) {
	g := NewGateway(&mockEngine{embedFn: func(context.Context, string, string) ([]float32, error) {
		return nil, errors.New("connection refused")
	}}, "m", 3)

	_, err := g.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrEmbedding)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestEmbed_DimensionMismatch(t *testing.T) {
	g := NewGateway(deterministic(768), "m", 384)

	_, err := g.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.ErrorIs(t, err, ErrEmbedding)

	_, err = NewGateway(deterministic(768), "m", 0).Embed(context.Background(), "hello")
	assert.NoError(t, err)
}

func TestEmbed_StalledEngineTimesOut(t *testing.T) {
	g := NewGateway(&mockEngine{embedFn: func(ctx context.Context, _, _ string) ([]float32, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return []float32{1}, nil
		}
	}}, "m", 1, WithTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := g.Embed(context.Background(), "hello")
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, err, ErrEmbedding)
	assert.True(t, upstream.IsTimeout(err))
}

func TestEmbedBatch_PreservesOrder(t *testing.T) {
	g := NewGateway(&mockEngine{embedFn: func(_ context.Context, _ string, text string) ([]float32, error) {
		// Finish in reverse order of submission.
		time.Sleep(time.Duration(10-len(text)) * time.Millisecond)
		return []float32{float32(len(text))}, nil
	}}, "m", 1)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff"}
	vecs, err := g.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	for i, v := range vecs {
		assert.Equal(t, float32(len(texts[i])), v[0])
	}
}

func TestEmbedBatch_BoundedConcurrency(t *testing.T) {
	var inFlight, peak int32
	g := NewGateway(&mockEngine{embedFn: func(context.Context, string, string) ([]float32, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return []float32{1}, nil
	}}, "m", 1)

	_, err := g.EmbedBatch(context.Background(), strings.Split(strings.Repeat("x,", 20)+"x", ","))
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(batchLimit))
}

func TestEmbedBatch_FailureFailsBatch(t *testing.T) {
	g := NewGateway(&mockEngine{embedFn: func(_ context.Context, _ string, text string) ([]float32, error) {
		if text == "bad" {
			return nil, errors.New("boom")
		}
		return []float32{1}, nil
	}}, "m", 1)

	vecs, err := g.EmbedBatch(context.Background(), []string{"ok", "bad", "ok"})
	assert.Nil(t, vecs)
	assert.ErrorIs(t, err, ErrEmbedding)

	vecs, err = g.EmbedBatch(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, vecs)
}
