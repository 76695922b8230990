package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"

	"deepresearch/internal/logging"
)

// ErrMaxRetriesExceeded indicates all retry attempts failed. The last
// underlying error is wrapped alongside it.
var ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

// Retry schedule: exponential base 2 from 4 s capped at 60 s, ±30 % jitter,
// at most 5 attempts. A 429 Retry-After header is honored as a floor.
const (
	retryInitialInterval = 4 * time.Second
	retryMaxInterval     = 60 * time.Second
	retryJitter          = 0.3
	retryMaxAttempts     = 5
)

// HTTPStatusError carries a non-2xx response status through the retry
// classifier. RetryAfter is populated from the Retry-After header on 429.
type HTTPStatusError struct {
	Status     int
	RetryAfter time.Duration
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d %s", e.Status, http.StatusText(e.Status))
}

// Retryable reports whether the status warrants another attempt.
// 5xx, 429 and 408 are transient; other 4xx are fatal.
func (e *HTTPStatusError) Retryable() bool {
	switch {
	case e.Status >= 500:
		return true
	case e.Status == 429 || e.Status == 408:
		return true
	default:
		return false
	}
}

// IsRetryable classifies an error per the retry policy: network timeouts,
// transient DNS failures and retryable HTTP statuses retry; cancellation,
// authentication and parse errors are fatal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary || dnsErr.IsNotFound
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Timeout()
	}

	// Unknown transport-level errors default to one more try.
	return true
}

// RetryConfig tunes the schedule. The zero value is not usable; call
// DefaultRetryConfig.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxAttempts     uint
	Jitter          float64
}

// DefaultRetryConfig returns the production schedule.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: retryInitialInterval,
		MaxInterval:     retryMaxInterval,
		MaxAttempts:     retryMaxAttempts,
		Jitter:          retryJitter,
	}
}

// Do runs fn with the default retry schedule. See DoWithConfig.
func Do[T any](ctx context.Context, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	return DoWithConfig(ctx, operation, DefaultRetryConfig(), fn)
}

// DoWithConfig runs fn with retries, classifying each failure. Fatal
// errors stop immediately; exhausting attempts wraps the last error with
// ErrMaxRetriesExceeded. It never hangs: the schedule is bounded by
// attempts and by ctx.
func DoWithConfig[T any](ctx context.Context, operation string, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	attempt := 0

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.InitialInterval
	exp.MaxInterval = cfg.MaxInterval
	exp.Multiplier = 2
	exp.RandomizationFactor = cfg.Jitter

	result, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		out, err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				logging.ProviderDebug("%s succeeded on attempt %d", operation, attempt)
			}
			return out, nil
		}

		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.Status == 429 && statusErr.RetryAfter > 0 {
			logging.ProviderDebug("%s rate limited, honoring Retry-After=%s", operation, statusErr.RetryAfter)
			return out, backoff.RetryAfter(int(statusErr.RetryAfter.Seconds()) + 1)
		}
		if !IsRetryable(err) {
			return out, backoff.Permanent(err)
		}
		logging.ProviderDebug("%s attempt %d/%d failed: %v", operation, attempt, cfg.MaxAttempts, err)
		return out, err
	}, backoff.WithBackOff(exp), backoff.WithMaxTries(cfg.MaxAttempts))

	if err != nil {
		var zero T
		if !IsRetryable(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		return zero, errors.Join(ErrMaxRetriesExceeded, err)
	}
	return result, nil
}
