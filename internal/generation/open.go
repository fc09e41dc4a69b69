package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/dqlgen/internal/engine"
)

const (
	BackendOllama     = "ollama"
	BackendOpenRouter = "openrouter"
	BackendGigaChat   = "gigachat"
)

type Options struct {
	Backend string
	Model   string
	// Engine serves the ollama backend.
	Engine engine.Engine

	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	GigaChatAPIKey    string
	GigaChatScope     string
}

// OpenBackend builds the backend named by opts.Backend.
func OpenBackend(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Backend {
	case "", BackendOllama:
		if opts.Engine == nil {
			return nil, errors.New("ollama backend needs an engine")
		}
		return NewOllamaBackend(opts.Engine, opts.Model), nil
	case BackendOpenRouter:
		if opts.OpenRouterAPIKey == "" {
			return nil, errors.New("openrouter backend needs an API key (DQLGEN_OPENROUTER_API_KEY)")
		}
		return NewOpenRouterBackend(opts.OpenRouterAPIKey, opts.OpenRouterBaseURL, opts.Model), nil
	case BackendGigaChat:
		if opts.GigaChatAPIKey == "" {
			return nil, errors.New("gigachat backend needs an API key (DQLGEN_GIGACHAT_API_KEY)")
		}
		return NewGigaChatBackend(ctx, opts.GigaChatAPIKey, opts.GigaChatScope, opts.Model)
	}
	return nil, fmt.Errorf("unknown generation backend %q", opts.Backend)
}
