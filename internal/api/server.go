// Package api exposes the query generator over HTTP and MCP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/kalambet/dqlgen/internal/feedback"
	"github.com/kalambet/dqlgen/internal/knowledge"
	"github.com/kalambet/dqlgen/internal/pipeline"
	"github.com/kalambet/dqlgen/internal/storage"
)

// Pipeline is the request path served by the API.
type Pipeline interface {
	Generate(ctx context.Context, utterance string) (pipeline.Result, error)
	SubmitFeedback(ctx context.Context, r feedback.Record) error
}

type Retriever interface {
	Retrieve(ctx context.Context, utterance string, k int) (knowledge.Bundle, error)
}

type History interface {
	RecentGenerations(ctx context.Context, limit int) ([]storage.Generation, error)
}

type Deps struct {
	Pipeline  Pipeline
	Retriever Retriever
	// History may be nil; /generations then returns an empty list.
	History History
	Token   string
	Origins []string
	Logger  *zap.Logger
}

// NewHandler builds the HTTP router. "/" and "/health" stay public when a
// token is configured.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.Origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/", handleRoot)
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/generate", handleGenerate(deps))
		r.Post("/feedback", handleFeedback(deps))
		r.Post("/context", handleContext(deps))
		r.Get("/generations", handleGenerations(deps))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpError(w, http.StatusNotFound, errTypeInvalidRequest, "no route for %s %s", r.Method, r.URL.Path)
	})
	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
