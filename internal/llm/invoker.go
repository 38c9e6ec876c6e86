package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
)

type InvokerConfig struct {
	Attempts int
	Backoff  time.Duration
	// Limiter caps concurrent provider calls. Nil means unlimited.
	Limiter *semaphore.Weighted
}

// Invoker runs call -> parse -> validate up to Attempts times with a fixed
// pause between attempts.
type Invoker struct {
	provider Provider
	attempts int
	backoff  time.Duration
	limiter  *semaphore.Weighted
	logger   *slog.Logger
}

func NewInvoker(provider Provider, cfg InvokerConfig, logger *slog.Logger) *Invoker {
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return &Invoker{
		provider: provider,
		attempts: attempts,
		backoff:  cfg.Backoff,
		limiter:  cfg.Limiter,
		logger:   logger,
	}
}

func (inv *Invoker) Attempts() int { return inv.attempts }

// Invoke calls the provider and hands the raw reply to parse. Retryable
// errors from either step trigger another attempt; the last error is
// returned once attempts run out.
func Invoke[T any](ctx context.Context, inv *Invoker, req Request, parse func(raw string) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= inv.attempts; attempt++ {
		if attempt > 1 && inv.backoff > 0 {
			select {
			case <-ctx.Done():
				return zero, fmt.Errorf("waiting to retry: %w", ctx.Err())
			case <-time.After(inv.backoff):
			}
		}

		v, err := attemptOnce(ctx, inv, req, parse)
		if err == nil {
			if attempt > 1 {
				inv.logger.Info("model call recovered", "provider", inv.provider.Name(), "attempt", attempt)
			}
			return v, nil
		}
		lastErr = err

		if !Retryable(err) {
			return zero, err
		}
		inv.logger.Warn("model call failed",
			"provider", inv.provider.Name(),
			"attempt", attempt,
			"max_attempts", inv.attempts,
			"error", err,
		)
	}

	return zero, fmt.Errorf("%d attempts exhausted: %w", inv.attempts, lastErr)
}

func attemptOnce[T any](ctx context.Context, inv *Invoker, req Request, parse func(raw string) (T, error)) (T, error) {
	var zero T

	if inv.limiter != nil {
		if err := inv.limiter.Acquire(ctx, 1); err != nil {
			return zero, fmt.Errorf("acquire call slot: %w", err)
		}
		defer inv.limiter.Release(1)
	}

	raw, err := inv.provider.Complete(ctx, req)
	if err != nil {
		return zero, err
	}
	return parse(raw)
}
