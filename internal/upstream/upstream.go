// Package upstream holds the shared timeout policy for calls to the vector
// store and the generative model.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout reports that an upstream call exceeded its deadline. Callers may
// retry; nothing in this module retries it internally.
var ErrTimeout = errors.New("upstream timeout")

// WithTimeout runs fn under a derived context bounded by d. A deadline hit
// while fn runs is reported as ErrTimeout wrapping the original error.
// A non-positive d runs fn without an extra deadline.
func WithTimeout(ctx context.Context, d time.Duration, what string, fn func(ctx context.Context) error) error {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	err := fn(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", what, ErrTimeout, err)
	}
	return err
}

// IsTimeout reports whether err is an upstream timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
