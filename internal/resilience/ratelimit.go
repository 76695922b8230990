// Package resilience wraps outbound provider traffic with per-key rate
// limiting, per-provider circuit breaking and retry-with-backoff. All three
// are process-scoped objects constructed at startup and passed by reference.
package resilience

import (
	"context"
	"errors"
	"math"
	"sync"

	"golang.org/x/time/rate"

	"deepresearch/internal/logging"
)

// ErrBudgetExceeded is returned when a caller-supplied deadline expires
// while waiting for a rate-limit token.
var ErrBudgetExceeded = errors.New("budget exceeded waiting for rate limit")

// Limiter paces outbound calls with one independent token bucket per key.
// Acquire blocks until a token is available; it never rejects, it
// backpressures. Keys are provider names.
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*rate.Limiter
}

// NewLimiter creates an empty limiter. Buckets are created on first use
// with capacity = burst derived from the requested rate.
func NewLimiter() *Limiter {
	return &Limiter{buckets: make(map[string]*rate.Limiter)}
}

// Acquire blocks until a token for key is available or ctx is done.
// A deadline expiry maps to ErrBudgetExceeded; plain cancellation is
// surfaced as ctx.Err().
func (l *Limiter) Acquire(ctx context.Context, key string, rps float64) error {
	if rps <= 0 {
		rps = 1
	}
	b := l.bucket(key, rps)
	if err := b.Wait(ctx); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			logging.ProviderWarn("rate limiter deadline exceeded for key=%s", key)
			return ErrBudgetExceeded
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// rate.Wait also fails when the deadline cannot possibly be met.
		return ErrBudgetExceeded
	}
	return nil
}

func (l *Limiter) bucket(key string, rps float64) *rate.Limiter {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[key]; ok {
		return b
	}
	burst := int(math.Ceil(rps))
	if burst < 1 {
		burst = 1
	}
	b = rate.NewLimiter(rate.Limit(rps), burst)
	l.buckets[key] = b
	return b
}
