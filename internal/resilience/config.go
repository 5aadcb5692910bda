package resilience

import (
	"context"
	"time"
)

// Guard combines the retry and circuit settings applied to every source.
type Guard struct {
	Backoff  Backoff
	Breakers *Breakers
}

// NewGuard builds a Guard from configuration values. Zero values fall back
// to the defaults.
func NewGuard(attempts, initialBackoffMs, maxBackoffMs, failures, cooldownSecs int) Guard {
	b := DefaultBackoff()
	if attempts > 0 {
		b.Attempts = attempts
	}
	if initialBackoffMs > 0 {
		b.Initial = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		b.Max = time.Duration(maxBackoffMs) * time.Millisecond
	}

	c := DefaultBreakerConfig()
	if failures > 0 {
		c.Failures = failures
	}
	if cooldownSecs > 0 {
		c.Cooldown = time.Duration(cooldownSecs) * time.Second
	}
	// Lookups the caller abandoned say nothing about the source's health.
	c.Counts = func(err error) bool { return err != nil && !IsCanceled(err) }
	return Guard{Backoff: b, Breakers: NewBreakers(c)}
}

// Run executes fn against source behind its circuit breaker, retrying
// transient failures with the guard's backoff.
func Run[T any](ctx context.Context, g Guard, source string, fn func(context.Context) (T, error)) (T, error) {
	b := g.Backoff
	if b.OnRetry == nil {
		b.OnRetry = LogRetry(source)
	}
	if g.Breakers == nil {
		return Retry(ctx, b, fn)
	}
	br := g.Breakers.For(source)
	return Retry(ctx, b, func(ctx context.Context) (T, error) {
		return Call(ctx, br, fn)
	})
}
