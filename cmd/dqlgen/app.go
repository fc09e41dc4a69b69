package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/kalambet/dqlgen/internal/composer"
	"github.com/kalambet/dqlgen/internal/config"
	"github.com/kalambet/dqlgen/internal/embedding"
	"github.com/kalambet/dqlgen/internal/engine"
	"github.com/kalambet/dqlgen/internal/feedback"
	"github.com/kalambet/dqlgen/internal/generation"
	"github.com/kalambet/dqlgen/internal/indexer"
	"github.com/kalambet/dqlgen/internal/logging"
	"github.com/kalambet/dqlgen/internal/pipeline"
	"github.com/kalambet/dqlgen/internal/retrieval"
	"github.com/kalambet/dqlgen/internal/storage"
	"github.com/kalambet/dqlgen/internal/vectorstore"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	engine  engine.Engine
	db      *storage.Store
	store   vectorstore.Store
	gateway *embedding.Gateway
	ledger  *feedback.Ledger

	retriever *retrieval.Retriever
	composer  *composer.Composer
	promoter  *feedback.Promoter
	indexer   *indexer.Indexer

	// Set only by withGenerator.
	service *pipeline.Service
	backend generation.Backend
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	return logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
}

// openApp wires storage, the vector store and the embedding side. Commands
// that do not generate stop here.
func openApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	db, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	store, err := vectorstore.Open(ctx, vectorstore.Options{
		Backend:    cfg.Vector.Backend,
		Dimensions: cfg.Embedding.Dimensions,
		SQLite:     db.DB(),
		Elastic: vectorstore.ElasticConfig{
			URL:      cfg.Vector.ElasticURL,
			Index:    cfg.Vector.ElasticIndex,
			Username: cfg.Vector.ElasticUsername,
			Password: cfg.Vector.ElasticPassword,
		},
		PostgresDSN: cfg.Vector.PostgresDSN,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("opening %s vector store: %w", cfg.Vector.Backend, err)
	}

	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
	gateway := embedding.NewGateway(eng, cfg.Ollama.EmbedModel, cfg.Embedding.Dimensions,
		embedding.WithTimeout(cfg.EmbedTimeout()))
	ledger := feedback.NewLedger(cfg.LedgerPath())

	return &app{
		cfg:     cfg,
		logger:  logger,
		engine:  eng,
		db:      db,
		store:   store,
		gateway: gateway,
		ledger:  ledger,
		retriever: retrieval.NewRetriever(gateway, store, retrieval.Options{
			TopK:          cfg.Retrieval.TopK,
			NumCandidates: cfg.Retrieval.NumCandidates,
			SearchTimeout: cfg.SearchTimeout(),
		}, logger.Named("retrieval")),
		composer: composer.New(composer.Caps{
			GoodFeedback: cfg.Composer.GoodFeedbackCap,
			BadFeedback:  cfg.Composer.BadFeedbackCap,
			Example:      cfg.Composer.ExampleCap,
		}),
		promoter: feedback.NewPromoter(ledger, gateway, cfg.Feedback.Threshold, logger.Named("feedback")),
		indexer:  indexer.New(gateway, store, logger.Named("indexer")),
	}, nil
}

// withGenerator adds the generation backend and the pipeline service.
func (a *app) withGenerator(ctx context.Context) error {
	backend, err := generation.OpenBackend(ctx, generation.Options{
		Backend:           a.cfg.Generation.Backend,
		Model:             a.cfg.GenerationModel(),
		Engine:            a.engine,
		OpenRouterBaseURL: a.cfg.Generation.OpenRouterBaseURL,
		OpenRouterAPIKey:  a.cfg.Generation.OpenRouterAPIKey,
		GigaChatAPIKey:    a.cfg.Generation.GigaChatAPIKey,
		GigaChatScope:     a.cfg.Generation.GigaChatScope,
	})
	if err != nil {
		return fmt.Errorf("opening %s generation backend: %w", a.cfg.Generation.Backend, err)
	}
	a.backend = backend

	a.service = a.newService(generation.NewFacade(backend, a.cfg.GenerationTimeout(), a.logger.Named("generation")))
	return nil
}

// newService builds the pipeline around gen. A nil gen is enough for Preview
// and SubmitFeedback.
func (a *app) newService(gen pipeline.Generator) *pipeline.Service {
	return pipeline.NewService(pipeline.Deps{
		Retriever: a.retriever,
		Composer:  a.composer,
		Generator: gen,
		Ledger:    a.ledger,
		History:   a.db,
		TopK:      a.cfg.Retrieval.TopK,
		Logger:    a.logger.Named("pipeline"),
	})
}

// ensureModels pulls the Ollama models the configuration needs.
func (a *app) ensureModels(ctx context.Context, w io.Writer) error {
	return engine.EnsureReady(ctx, a.engine, a.cfg.OllamaModels(), w)
}

func (a *app) Close() {
	if c, ok := a.backend.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.logger.Warn("closing generation backend", zap.Error(err))
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing vector store", zap.Error(err))
	}
	if err := a.db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
	a.logger.Sync()
}
