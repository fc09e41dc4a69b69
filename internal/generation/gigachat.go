package generation

import (
	"context"
	"fmt"

	"github.com/Role1776/gigago"
)

const DefaultGigaChatScope = "GIGACHAT_API_PERS"

// GigaChatBackend generates through the Sber GigaChat API.
type GigaChatBackend struct {
	generate func(ctx context.Context, prompt string) (string, error)
	close    func()
}

// NewGigaChatBackend authenticates with apiKey and binds model. The client
// obtains its access token here, so this call needs network access.
func NewGigaChatBackend(ctx context.Context, apiKey, scope, model string) (*GigaChatBackend, error) {
	if scope == "" {
		scope = DefaultGigaChatScope
	}
	client, err := gigago.NewClient(ctx, apiKey, gigago.WithCustomScope(scope))
	if err != nil {
		return nil, fmt.Errorf("creating GigaChat client: %w", err)
	}
	m := client.GenerativeModel(model)

	return &GigaChatBackend{
		generate: func(ctx context.Context, prompt string) (string, error) {
			resp, err := m.Generate(ctx, []gigago.Message{
				{Role: gigago.RoleUser, Content: prompt},
			})
			if err != nil {
				return "", err
			}
			if len(resp.Choices) == 0 {
				return "", nil
			}
			return resp.Choices[0].Message.Content, nil
		},
		close: func() { client.Close() },
	}, nil
}

func (b *GigaChatBackend) Name() string { return "gigachat" }

func (b *GigaChatBackend) Complete(ctx context.Context, prompt string) (string, error) {
	return b.generate(ctx, prompt)
}

func (b *GigaChatBackend) Close() error {
	if b.close != nil {
		b.close()
	}
	return nil
}
