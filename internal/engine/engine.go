// Package engine abstracts the local inference backend used for embeddings
// and, optionally, for query generation.
package engine

import "context"

// Engine is the local model runtime. The embedding gateway and the ollama
// generation backend depend on this interface rather than on a concrete client.
type Engine interface {
	// Chat sends messages to model and returns the assistant reply.
	Chat(ctx context.Context, model string, messages []Message) (string, error)

	// Embed returns the embedding vector for text.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	IsRunning(ctx context.Context) bool
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. onProgress may be nil.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
