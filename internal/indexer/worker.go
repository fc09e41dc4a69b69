package indexer

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// PromoteFunc runs one promotion pass and reports how many items it wrote.
type PromoteFunc func(ctx context.Context) (int, error)

// Worker re-runs feedback promotion on a fixed interval so new verdicts
// become retrievable without a manual promote.
type Worker struct {
	promote  PromoteFunc
	interval time.Duration
	logger   *zap.Logger
}

// NewWorker creates a Worker. If interval is <= 0 it defaults to 10 minutes.
func NewWorker(promote PromoteFunc, interval time.Duration, logger *zap.Logger) *Worker {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{promote: promote, interval: interval, logger: logger}
}

// Run promotes once immediately, then every interval, until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("promotion pass failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single promotion pass.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := w.promote(ctx)
	if err != nil {
		return n, err
	}
	w.logger.Info("promotion pass complete", zap.Int("items", n), zap.Duration("elapsed", time.Since(start)))
	return n, nil
}
