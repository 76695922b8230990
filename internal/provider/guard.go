package provider

import (
	"context"
	"errors"

	"deepresearch/internal/logging"
	"deepresearch/internal/resilience"
	"deepresearch/internal/types"
)

// FailureRecorder receives provider-level failures for cross-session
// learning.
type FailureRecorder interface {
	RecordAccessFailure(url, provider, kind string) error
}

// Guard wraps a provider with the shared resilience stack. Call order is
// fixed: breaker admission, then rate limit, then the retried call. A
// breaker rejection never consumes rate budget.
type Guard struct {
	inner    Provider
	breakers *resilience.BreakerSet
	limiter  *resilience.Limiter
	retry    resilience.RetryConfig
	recorder FailureRecorder
}

// NewGuard wraps a provider. recorder may be nil.
func NewGuard(inner Provider, breakers *resilience.BreakerSet, limiter *resilience.Limiter, recorder FailureRecorder) *Guard {
	return &Guard{
		inner:    inner,
		breakers: breakers,
		limiter:  limiter,
		retry:    resilience.DefaultRetryConfig(),
		recorder: recorder,
	}
}

func (g *Guard) Name() string    { return g.inner.Name() }
func (g *Guard) RPS() float64    { return g.inner.RPS() }
func (g *Guard) Available() bool { return g.inner.Available() }

// Usable reports whether a call would be admitted right now.
func (g *Guard) Usable() bool {
	return g.inner.Available() && g.breakers.CanExecute(g.inner.Name())
}

// Search runs the guarded call. Breaker-open and rate-budget errors come
// back unwrapped so Collect can count the skip.
func (g *Guard) Search(ctx context.Context, query string, limit int) ([]types.Entity, error) {
	name := g.inner.Name()

	done, err := g.breakers.Allow(name)
	if err != nil {
		logging.ProviderDebug("%s skipped: circuit open", name)
		return nil, err
	}

	if err := g.limiter.Acquire(ctx, name, g.inner.RPS()); err != nil {
		// Not a provider fault; the breaker must not count it.
		done(true)
		return nil, err
	}

	entities, err := resilience.DoWithConfig(ctx, name+".search", g.retry,
		func(ctx context.Context) ([]types.Entity, error) {
			return g.inner.Search(ctx, query, limit)
		})
	if err != nil {
		done(false)
		if g.recorder != nil && !errors.Is(err, context.Canceled) {
			if rerr := g.recorder.RecordAccessFailure("", name, failureKind(err)); rerr != nil {
				logging.ProviderDebug("failed to record %s failure: %v", name, rerr)
			}
		}
		logging.ProviderWarn("%s search failed: %v", name, err)
		return nil, err
	}

	done(true)
	logging.ProviderDebug("%s returned %d results", name, len(entities))
	return entities, nil
}

func failureKind(err error) string {
	var statusErr *resilience.HTTPStatusError
	switch {
	case errors.As(err, &statusErr):
		if statusErr.Status == 429 {
			return "rate_limited"
		}
		return "http_error"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "network"
	}
}
