package generation

import (
	"context"

	"github.com/kalambet/dqlgen/internal/engine"
)

// OllamaBackend generates through a local engine chat call.
type OllamaBackend struct {
	engine engine.Engine
	model  string
}

func NewOllamaBackend(e engine.Engine, model string) *OllamaBackend {
	return &OllamaBackend{engine: e, model: model}
}

func (b *OllamaBackend) Name() string { return "ollama" }

func (b *OllamaBackend) Complete(ctx context.Context, prompt string) (string, error) {
	return b.engine.Chat(ctx, b.model, []engine.Message{{Role: "user", Content: prompt}})
}
