package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Backoff controls how source lookups are retried.
type Backoff struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	Initial  time.Duration
	Max      time.Duration
	Factor   float64
	// Jitter is the fraction of each delay that is randomized.
	Jitter float64
	// Retryable overrides IsTransient when set.
	Retryable func(error) bool
	// OnRetry is called before each sleep.
	OnRetry func(attempt int, err error)
}

// DefaultBackoff retries twice, starting at 200ms.
func DefaultBackoff() Backoff {
	return Backoff{
		Attempts: 3,
		Initial:  200 * time.Millisecond,
		Max:      5 * time.Second,
		Factor:   2,
		Jitter:   0.2,
	}
}

func (b Backoff) normalized() Backoff {
	d := DefaultBackoff()
	if b.Attempts <= 0 {
		b.Attempts = d.Attempts
	}
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Factor < 1 {
		b.Factor = d.Factor
	}
	if b.Jitter < 0 {
		b.Jitter = 0
	}
	if b.Retryable == nil {
		b.Retryable = IsTransient
	}
	return b
}

// delay returns the sleep before retry number n (0-based).
func (b Backoff) delay(n int) time.Duration {
	d := math.Min(float64(b.Initial)*math.Pow(b.Factor, float64(n)), float64(b.Max))
	if b.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * b.Jitter
	}
	return time.Duration(math.Max(d, 0))
}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// attempts run out, or ctx is done. The last error is returned.
func Retry[T any](ctx context.Context, b Backoff, fn func(context.Context) (T, error)) (T, error) {
	b = b.normalized()
	var zero T
	var err error
	for attempt := 0; attempt < b.Attempts; attempt++ {
		var v T
		if v, err = fn(ctx); err == nil {
			return v, nil
		}
		if ctx.Err() != nil || !b.Retryable(err) || attempt == b.Attempts-1 {
			break
		}
		if b.OnRetry != nil {
			b.OnRetry(attempt+1, err)
		}
		t := time.NewTimer(b.delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, err
		case <-t.C:
		}
	}
	return zero, err
}

// LogRetry returns an OnRetry callback that logs through zap.
func LogRetry(source string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("resilience: retrying source lookup",
			zap.String("source", source),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
