package llm

import (
	"context"
	"fmt"
	"strings"

	"deepresearch/internal/config"
	"deepresearch/internal/logging"
	"deepresearch/internal/types"
)

// Complexity grades a task for model selection.
type Complexity int

const (
	ComplexityLow Complexity = iota
	ComplexityHigh
)

// Router maps logical model names to backends and enforces the privacy
// invariant: in a local-only session no remote backend is ever dialed.
type Router struct {
	backends map[Model]Backend
}

// NewRouter wires the configured backends. cloud-best is absent when no
// API key is set; the local tiers are always wired (availability is
// checked at call time).
func NewRouter(cfg config.LLMConfig) *Router {
	backends := map[Model]Backend{
		ModelLocalFast:     NewOllamaBackend(cfg.OllamaBaseURL, cfg.LocalFastModel, cfg.LocalTimeout),
		ModelLocalPowerful: NewOllamaBackend(cfg.OllamaBaseURL, cfg.LocalPowerfulModel, cfg.LocalTimeout),
	}
	if cfg.AnthropicAPIKey != "" {
		backends[ModelCloudBest] = NewAnthropicBackend(cfg.AnthropicAPIKey, cfg.CloudBestModel, cfg.RemoteTimeout)
	}
	return &Router{backends: backends}
}

// NewRouterWithBackends injects explicit backends (tests, alternative wiring).
func NewRouterWithBackends(backends map[Model]Backend) *Router {
	return &Router{backends: backends}
}

// Sensitivity markers that force local processing regardless of tier.
var sensitiveMarkers = []string{
	"my medical", "my symptoms", "my diagnosis", "my health",
	"my salary", "my ssn", "my password", "confidential", "proprietary",
}

// Sensitive reports whether the query carries personal or confidential
// signals that should pin it to the local tier.
func Sensitive(query string) bool {
	q := strings.ToLower(query)
	for _, marker := range sensitiveMarkers {
		if strings.Contains(q, marker) {
			return true
		}
	}
	return false
}

// Select picks a logical model: sensitive signals or local-only pin to the
// local tier; high complexity with cloud permitted gets cloud-best;
// everything else runs local-fast.
func (r *Router) Select(complexity Complexity, privacy types.PrivacyMode, sensitive bool) Model {
	if sensitive || privacy == types.PrivacyLocalOnly {
		if complexity == ComplexityHigh {
			return ModelLocalPowerful
		}
		return ModelLocalFast
	}
	if complexity == ComplexityHigh {
		if _, ok := r.backends[ModelCloudBest]; ok {
			return ModelCloudBest
		}
		return ModelLocalPowerful
	}
	return ModelLocalFast
}

// fallbackOrder returns candidate models by tier, preferred first.
func fallbackOrder(m Model) []Model {
	switch m {
	case ModelCloudBest:
		return []Model{ModelCloudBest, ModelLocalPowerful, ModelLocalFast}
	case ModelLocalPowerful:
		return []Model{ModelLocalPowerful, ModelLocalFast}
	default:
		return []Model{ModelLocalFast, ModelLocalPowerful}
	}
}

// resolve applies the privacy gate, then walks the fallback chain looking
// for an available backend. The policy check happens before any network
// activity so a violation can never leak a remote call.
func (r *Router) resolve(ctx context.Context, m Model, privacy types.PrivacyMode) (Backend, Model, error) {
	if privacy == types.PrivacyLocalOnly && !m.Local() {
		return nil, "", ErrPolicyViolation
	}

	for _, candidate := range fallbackOrder(m) {
		if privacy == types.PrivacyLocalOnly && !candidate.Local() {
			continue
		}
		b, ok := r.backends[candidate]
		if !ok {
			continue
		}
		if !b.Available(ctx) {
			logging.LLMDebug("backend %s unavailable, falling back", b.Name())
			continue
		}
		if candidate != m {
			logging.LLM("model %s unavailable, using %s", m, candidate)
		}
		return b, candidate, nil
	}
	return nil, "", fmt.Errorf("%w for model %s", ErrNoBackend, m)
}

// Complete routes a non-streaming completion.
func (r *Router) Complete(ctx context.Context, m Model, privacy types.PrivacyMode, msgs []Message, opts Options) (string, error) {
	timer := logging.StartTimer(logging.CategoryLLM, "Complete("+string(m)+")")
	defer timer.Stop()

	b, resolved, err := r.resolve(ctx, m, privacy)
	if err != nil {
		return "", err
	}
	logging.LLMDebug("completing via %s (requested %s)", b.Name(), resolved)
	return b.Complete(ctx, msgs, opts)
}

// Stream routes a streaming completion. The concatenation of the chunks
// delivered to fn equals the Complete result for the same input.
func (r *Router) Stream(ctx context.Context, m Model, privacy types.PrivacyMode, msgs []Message, opts Options, fn ChunkFunc) error {
	b, _, err := r.resolve(ctx, m, privacy)
	if err != nil {
		return err
	}
	return b.Stream(ctx, msgs, opts, fn)
}

// HasCloud reports whether the cloud tier is wired.
func (r *Router) HasCloud() bool {
	_, ok := r.backends[ModelCloudBest]
	return ok
}

// LocalAvailable probes whether any local backend answers.
func (r *Router) LocalAvailable(ctx context.Context) bool {
	for m, b := range r.backends {
		if m.Local() && b.Available(ctx) {
			return true
		}
	}
	return false
}
