// Package provider implements the search-source fan-out layer: one client
// per external source plus a Guard wrapper that applies the circuit
// breaker, rate limiter and retry policy uniformly, and a Registry that
// orders sources for a domain.
package provider

import (
	"context"
	"io"
	"net/http"
	"time"

	"deepresearch/internal/types"
)

// Provider is one external search source.
type Provider interface {
	// Name is the stable identifier used for breakers, rate limits and
	// effectiveness learning.
	Name() string
	// RPS is the source's sustained request budget.
	RPS() float64
	// Available reports whether the provider is usable as configured
	// (credentials present, dependencies reachable).
	Available() bool
	// Search returns up to limit entities for the query. URLs are raw;
	// the caller normalizes and dedupes.
	Search(ctx context.Context, query string, limit int) ([]types.Entity, error)
}

const defaultCallTimeout = 30 * time.Second

// httpClient is shared by the REST providers.
var httpClient = &http.Client{Timeout: defaultCallTimeout}

// drainClose lets the transport reuse the connection.
func drainClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}

// clampLimit keeps request sizes inside a provider's supported range.
func clampLimit(limit, max int) int {
	if limit <= 0 {
		return 5
	}
	if limit > max {
		return max
	}
	return limit
}
