// Package pipeline runs one request end to end: retrieve, compose, generate.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kalambet/dqlgen/internal/composer"
	"github.com/kalambet/dqlgen/internal/feedback"
	"github.com/kalambet/dqlgen/internal/generation"
	"github.com/kalambet/dqlgen/internal/knowledge"
	"github.com/kalambet/dqlgen/internal/retrieval"
	"github.com/kalambet/dqlgen/internal/storage"
)

// ErrEmptyUtterance is returned for a blank request.
var ErrEmptyUtterance = errors.New("utterance must not be empty")

type Retriever interface {
	Retrieve(ctx context.Context, utterance string, k int) (knowledge.Bundle, error)
}

type Generator interface {
	Backend() string
	Generate(ctx context.Context, prompt string) (generation.Result, error)
}

type FeedbackSink interface {
	Append(ctx context.Context, r feedback.Record) error
}

// History records generations for audit.
type History interface {
	SaveGeneration(ctx context.Context, g storage.Generation) error
}

type Result struct {
	ID        string    `json:"id"`
	Query     string    `json:"query"`
	Timestamp time.Time `json:"timestamp"`
	// Degraded is set when retrieval failed and the prompt carries no context.
	Degraded bool `json:"degraded"`
}

type Preview struct {
	Prompt   string           `json:"prompt"`
	Bundle   knowledge.Bundle `json:"bundle"`
	Degraded bool             `json:"degraded"`
}

type Service struct {
	retriever Retriever
	composer  *composer.Composer
	generator Generator
	ledger    FeedbackSink
	history   History
	topK      int
	logger    *zap.Logger
	now       func() time.Time
}

type Deps struct {
	Retriever Retriever
	Composer  *composer.Composer
	Generator Generator
	Ledger    FeedbackSink
	// History may be nil.
	History History
	TopK    int
	Logger  *zap.Logger
}

func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Composer == nil {
		d.Composer = composer.New(composer.DefaultCaps())
	}
	return &Service{
		retriever: d.Retriever,
		composer:  d.Composer,
		generator: d.Generator,
		ledger:    d.Ledger,
		history:   d.History,
		topK:      d.TopK,
		logger:    d.Logger,
		now:       time.Now,
	}
}

// prepare retrieves context and composes the prompt. A retrieval failure is
// logged and yields an ungrounded prompt; any other error is returned.
func (s *Service) prepare(ctx context.Context, utterance string) (Preview, error) {
	bundle, err := s.retriever.Retrieve(ctx, utterance, s.topK)
	degraded := false
	if err != nil {
		var re *retrieval.RetrievalError
		if !errors.As(err, &re) {
			return Preview{}, err
		}
		s.logger.Warn("retrieval failed, continuing without context", zap.Error(err))
		bundle = knowledge.NewBundle()
		degraded = true
	}
	return Preview{
		Prompt:   s.composer.Compose(utterance, bundle),
		Bundle:   bundle,
		Degraded: degraded,
	}, nil
}

// Preview composes the prompt for utterance without calling the model.
func (s *Service) Preview(ctx context.Context, utterance string) (Preview, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return Preview{}, ErrEmptyUtterance
	}
	return s.prepare(ctx, utterance)
}

// Generate produces a DQL query for utterance. Every attempt past validation
// is written to the history, failed ones included.
func (s *Service) Generate(ctx context.Context, utterance string) (Result, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return Result{}, ErrEmptyUtterance
	}

	rec := storage.Generation{
		ID:        uuid.NewString(),
		CreatedAt: s.now().UTC(),
		Utterance: utterance,
		Backend:   s.generator.Backend(),
		Status:    storage.StatusCompleted,
	}

	p, err := s.prepare(ctx, utterance)
	if err != nil {
		s.record(ctx, rec, err)
		return Result{}, err
	}
	rec.Prompt = p.Prompt

	out, err := s.generator.Generate(ctx, p.Prompt)
	if err != nil {
		s.record(ctx, rec, err)
		return Result{}, err
	}
	rec.Query = out.Text
	s.record(ctx, rec, nil)

	s.logger.Info("query generated",
		zap.String("id", rec.ID),
		zap.String("backend", rec.Backend),
		zap.Bool("degraded", p.Degraded),
		zap.Int("context_items", p.Bundle.Len()),
	)
	return Result{ID: rec.ID, Query: out.Text, Timestamp: out.Timestamp, Degraded: p.Degraded}, nil
}

func (s *Service) record(ctx context.Context, g storage.Generation, cause error) {
	if s.history == nil {
		return
	}
	if cause != nil {
		g.Status = storage.StatusFailed
		g.Error = cause.Error()
	}
	// The audit write must not depend on the caller still waiting.
	ctx = context.WithoutCancel(ctx)
	if err := s.history.SaveGeneration(ctx, g); err != nil {
		s.logger.Warn("recording generation failed", zap.String("id", g.ID), zap.Error(err))
	}
}

// SubmitFeedback appends r to the ledger. It never touches generation.
func (s *Service) SubmitFeedback(ctx context.Context, r feedback.Record) error {
	return s.ledger.Append(ctx, r)
}
