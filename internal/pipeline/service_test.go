package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/dqlgen/internal/composer"
	"github.com/kalambet/dqlgen/internal/embedding"
	"github.com/kalambet/dqlgen/internal/engine"
	"github.com/kalambet/dqlgen/internal/feedback"
	"github.com/kalambet/dqlgen/internal/generation"
	"github.com/kalambet/dqlgen/internal/knowledge"
	"github.com/kalambet/dqlgen/internal/retrieval"
	"github.com/kalambet/dqlgen/internal/storage"
	"github.com/kalambet/dqlgen/internal/upstream"
	"github.com/kalambet/dqlgen/internal/vectorstore"
)

type fakeRetriever struct {
	retrieveFn func(ctx context.Context, utterance string, k int) (knowledge.Bundle, error)
}

func (f *fakeRetriever) Retrieve(ctx context.Context, utterance string, k int) (knowledge.Bundle, error) {
	return f.retrieveFn(ctx, utterance, k)
}

type fakeGenerator struct {
	generateFn func(ctx context.Context, prompt string) (generation.Result, error)
	prompts    []string
}

func (f *fakeGenerator) Backend() string { return "fake" }
func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (generation.Result, error) {
	f.prompts = append(f.prompts, prompt)
	return f.generateFn(ctx, prompt)
}

type fakeHistory struct {
	saved []storage.Generation
	err   error
}

func (f *fakeHistory) SaveGeneration(_ context.Context, g storage.Generation) error {
	f.saved = append(f.saved, g)
	return f.err
}

type fakeSink struct {
	records []feedback.Record
	err     error
}

func (f *fakeSink) Append(_ context.Context, r feedback.Record) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, r)
	return nil
}

var fixedTS = time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)

func okGenerator(text string) *fakeGenerator {
	return &fakeGenerator{generateFn: func(context.Context, string) (generation.Result, error) {
		return generation.Result{Text: text, Timestamp: fixedTS}, nil
	}}
}

func schemaBundle() knowledge.Bundle {
	b := knowledge.NewBundle()
	b.Schema = []knowledge.Item{{Type: knowledge.TypeSchema, Payload: knowledge.SchemaPayload{Attribute: "r_object_id", Description: "unique id"}}}
	return b
}

func TestGenerate_HappyPath(t *testing.T) {
	ret := &fakeRetriever{retrieveFn: func(_ context.Context, utterance string, k int) (knowledge.Bundle, error) {
		assert.Equal(t, "list documents", utterance)
		assert.Equal(t, 7, k)
		return schemaBundle(), nil
	}}
	gen := okGenerator("SELECT r_object_id FROM dm_document")
	hist := &fakeHistory{}
	svc := NewService(Deps{Retriever: ret, Generator: gen, History: hist, TopK: 7})

	res, err := svc.Generate(context.Background(), "  list documents ")
	require.NoError(t, err)
	assert.Equal(t, "SELECT r_object_id FROM dm_document", res.Query)
	assert.Equal(t, fixedTS, res.Timestamp)
	assert.False(t, res.Degraded)
	assert.NotEmpty(t, res.ID)

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "- r_object_id: unique id")

	require.Len(t, hist.saved, 1)
	assert.Equal(t, res.ID, hist.saved[0].ID)
	assert.Equal(t, storage.StatusCompleted, hist.saved[0].Status)
	assert.Equal(t, "fake", hist.saved[0].Backend)
	assert.Equal(t, gen.prompts[0], hist.saved[0].Prompt)
}

func TestGenerate_EmptyUtterance(t *testing.T) {
	svc := NewService(Deps{Retriever: &fakeRetriever{}, Generator: okGenerator("x")})
	_, err := svc.Generate(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyUtterance)
	_, err = svc.Preview(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyUtterance)
}

func TestGenerate_RetrievalFailureDegrades(t *testing.T) {
	ret := &fakeRetriever{retrieveFn: func(context.Context, string, int) (knowledge.Bundle, error) {
		return knowledge.NewBundle(), &retrieval.RetrievalError{Err: upstream.ErrTimeout}
	}}
	gen := okGenerator("SELECT 1")
	svc := NewService(Deps{Retriever: ret, Generator: gen})

	res, err := svc.Generate(context.Background(), "anything")
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.NotContains(t, gen.prompts[0], "Schema attributes:")
	assert.Contains(t, gen.prompts[0], "User request:\n\"anything\"")
}

func TestGenerate_EmbeddingFailureIsFatal(t *testing.T) {
	ret := &fakeRetriever{retrieveFn: func(context.Context, string, int) (knowledge.Bundle, error) {
		return knowledge.Bundle{}, embedding.ErrEmbedding
	}}
	gen := okGenerator("SELECT 1")
	hist := &fakeHistory{}
	svc := NewService(Deps{Retriever: ret, Generator: gen, History: hist})

	_, err := svc.Generate(context.Background(), "q")
	assert.ErrorIs(t, err, embedding.ErrEmbedding)
	assert.Empty(t, gen.prompts)
	require.Len(t, hist.saved, 1)
	assert.Equal(t, storage.StatusFailed, hist.saved[0].Status)
}

func TestGenerate_GenerationErrorSurfaces(t *testing.T) {
	ret := &fakeRetriever{retrieveFn: func(context.Context, string, int) (knowledge.Bundle, error) {
		return schemaBundle(), nil
	}}
	gen := &fakeGenerator{generateFn: func(context.Context, string) (generation.Result, error) {
		return generation.Result{}, generation.ErrMalformed
	}}
	hist := &fakeHistory{}
	svc := NewService(Deps{Retriever: ret, Generator: gen, History: hist})

	res, err := svc.Generate(context.Background(), "q")
	assert.ErrorIs(t, err, generation.ErrMalformed)
	assert.Empty(t, res.Query)
	require.Len(t, hist.saved, 1)
	assert.Equal(t, storage.StatusFailed, hist.saved[0].Status)
	assert.Contains(t, hist.saved[0].Error, "malformed")
	assert.NotEmpty(t, hist.saved[0].Prompt)
}

func TestGenerate_HistoryFailureIsNotFatal(t *testing.T) {
	ret := &fakeRetriever{retrieveFn: func(context.Context, string, int) (knowledge.Bundle, error) {
		return knowledge.NewBundle(), nil
	}}
	svc := NewService(Deps{Retriever: ret, Generator: okGenerator("SELECT 1"), History: &fakeHistory{err: errors.New("disk full")}})
	res, err := svc.Generate(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", res.Query)
}

func TestPreview_DoesNotGenerate(t *testing.T) {
	ret := &fakeRetriever{retrieveFn: func(context.Context, string, int) (knowledge.Bundle, error) {
		return schemaBundle(), nil
	}}
	gen := okGenerator("SELECT 1")
	svc := NewService(Deps{Retriever: ret, Generator: gen})

	p, err := svc.Preview(context.Background(), "q")
	require.NoError(t, err)
	assert.Contains(t, p.Prompt, "Schema attributes:")
	assert.Len(t, p.Bundle.Schema, 1)
	assert.Empty(t, gen.prompts)
}

func TestSubmitFeedback_DelegatesToLedger(t *testing.T) {
	sink := &fakeSink{}
	gen := okGenerator("unused")
	svc := NewService(Deps{Retriever: &fakeRetriever{}, Generator: gen, Ledger: sink})

	rec := feedback.Record{Input: "a", Query: "SELECT a", Verdict: feedback.VerdictGood}
	require.NoError(t, svc.SubmitFeedback(context.Background(), rec))
	assert.Equal(t, []feedback.Record{rec}, sink.records)
	assert.Empty(t, gen.prompts)

	sink.err = &feedback.LedgerWriteError{Path: "x", Err: errors.New("read-only fs")}
	err := svc.SubmitFeedback(context.Background(), rec)
	assert.ErrorIs(t, err, feedback.ErrLedgerWrite)
}

// axisEngine embeds a handful of known phrases onto fixed axes.
type axisEngine struct {
	engine.Engine
}

func (axisEngine) Embed(_ context.Context, _ string, text string) ([]float32, error) {
	switch {
	case strings.Contains(text, "cabinet"):
		return []float32{1, 0, 0}, nil
	case strings.Contains(text, "object"):
		return []float32{0.9, 0.1, 0}, nil
	default:
		return []float32{0, 0, 1}, nil
	}
}

func TestEndToEnd_BadFeedbackIsNegativeExemplar(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gw := embedding.NewGateway(axisEngine{}, "all-minilm", 3)
	store := vectorstore.NewSQLiteStore(db.DB(), 3)
	require.NoError(t, store.EnsureIndex(ctx))

	ledger := feedback.NewLedger(filepath.Join(t.TempDir(), "feedback.csv"))
	gen := okGenerator("SELECT COUNT(*) FROM dm_document")
	svc := NewService(Deps{
		Retriever: retrieval.NewRetriever(gw, store, retrieval.Options{}, nil),
		Composer:  composer.New(composer.DefaultCaps()),
		Generator: gen,
		Ledger:    ledger,
		History:   db,
	})

	require.NoError(t, svc.SubmitFeedback(ctx, feedback.Record{
		Input:   "count docs in cabinet X",
		Query:   "SELECT * FROM dm_cabinet",
		Verdict: feedback.VerdictBad,
		Comment: "counts cabinets, not documents",
	}))
	n, err := feedback.NewPromoter(ledger, gw, 0, nil).PromoteAndStore(ctx, store)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	p, err := svc.Preview(ctx, "How many documents are in my cabinet?")
	require.NoError(t, err)
	assert.Empty(t, p.Bundle.FeedbackGood)
	require.Len(t, p.Bundle.FeedbackBad, 1)
	assert.Equal(t, knowledge.TypeFeedbackNegative, p.Bundle.FeedbackBad[0].Type)
	assert.Contains(t, p.Prompt, "Queries users flagged as wrong (do NOT use these):\n- NL: count docs in cabinet X")
	assert.NotContains(t, p.Prompt, "User-validated example queries:")

	res, err := svc.Generate(ctx, "How many documents are in my cabinet?")
	require.NoError(t, err)
	saved, err := db.GetGeneration(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Query, saved.Query)
}
