package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/trans/memo/internal/errs"
)

// RetryConfig configures exponential-backoff retry for a provider call.
// This is the intra-call HTTP/transport retry; it is distinct from the
// queue's attempts/max_retries bookkeeping in internal/queue, which governs
// whether a failed item is retried on a later ProcessQueue pass at all.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig retries three times with a 500ms..8s exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
	}
}

// WithRetry runs fn with exponential backoff, retrying only errors marked
// retryable (errs.IsRetryable). Non-retryable errors return immediately.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !errs.IsRetryable(err) || attempt >= cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return fmt.Errorf("provider call failed after retries: %w", lastErr)
}
