// Package generation sends composed prompts to a generative model and returns
// the normalised query text.
package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kalambet/dqlgen/internal/upstream"
)

const DefaultTimeout = 60 * time.Second

// ErrMalformed is returned when the model answers with nothing usable.
var ErrMalformed = errors.New("malformed generation output")

// ErrRateLimited is returned when the model provider throttles the call. It
// is retriable by the caller; backends never retry it themselves.
var ErrRateLimited = errors.New("rate limited by model provider")

// GenerationError wraps a backend fault.
type GenerationError struct {
	Backend string
	Err     error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation via %s failed: %v", e.Backend, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Backend completes a single-turn prompt.
type Backend interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

type Result struct {
	Text      string
	Timestamp time.Time
}

// Facade applies the timeout and output policy around a Backend.
type Facade struct {
	backend Backend
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

func NewFacade(backend Backend, timeout time.Duration, logger *zap.Logger) *Facade {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Facade{backend: backend, timeout: timeout, now: time.Now, logger: logger}
}

func (f *Facade) Backend() string { return f.backend.Name() }

// Generate runs the prompt once. A deadline is reported as upstream.ErrTimeout,
// other backend faults as *GenerationError, and empty output as ErrMalformed.
func (f *Facade) Generate(ctx context.Context, prompt string) (Result, error) {
	start := f.now()
	var raw string
	err := upstream.WithTimeout(ctx, f.timeout, "generation", func(ctx context.Context) error {
		var err error
		raw, err = f.backend.Complete(ctx, prompt)
		return err
	})
	if err != nil {
		if upstream.IsTimeout(err) {
			return Result{}, err
		}
		return Result{}, &GenerationError{Backend: f.backend.Name(), Err: err}
	}

	text := Normalize(raw)
	if text == "" {
		f.logger.Warn("empty generation output", zap.String("backend", f.backend.Name()), zap.Int("raw_len", len(raw)))
		return Result{}, fmt.Errorf("%w: %s returned no query text", ErrMalformed, f.backend.Name())
	}

	ts := f.now()
	f.logger.Debug("query generated",
		zap.String("backend", f.backend.Name()),
		zap.Duration("elapsed", ts.Sub(start)),
	)
	return Result{Text: text, Timestamp: ts.UTC()}, nil
}
