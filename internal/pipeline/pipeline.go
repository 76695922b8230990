// Package pipeline implements the research phases as functions over the
// session. Nodes mutate only the session they are handed and reach the
// outside world through the narrow collaborator interfaces in Deps; phase
// transitions belong to the orchestrator.
package pipeline

import (
	"context"

	"deepresearch/internal/config"
	"deepresearch/internal/domain"
	"deepresearch/internal/fetcher"
	"deepresearch/internal/llm"
	"deepresearch/internal/memory"
	"deepresearch/internal/types"
)

// LLM is the router slice the nodes use.
type LLM interface {
	Select(complexity llm.Complexity, privacy types.PrivacyMode, sensitive bool) llm.Model
	Complete(ctx context.Context, m llm.Model, privacy types.PrivacyMode, msgs []llm.Message, opts llm.Options) (string, error)
	Stream(ctx context.Context, m llm.Model, privacy types.PrivacyMode, msgs []llm.Message, opts llm.Options, fn llm.ChunkFunc) error
}

// SearchProvider is one ordered, guarded search source.
type SearchProvider interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]types.Entity, error)
}

// ProviderSource orders the available providers for a plan.
type ProviderSource interface {
	Ordered(priority []string, effectiveness map[string]float64) []SearchProvider
}

// ContentFetcher loads full page content.
type ContentFetcher interface {
	Fetch(ctx context.Context, rawURL string) (fetcher.Result, error)
}

// Memory is the store slice the nodes use.
type Memory interface {
	RecentSessions(domain types.Domain, limit int) ([]*types.Session, error)
	Effectiveness(domain types.Domain) (map[string]float64, error)
	RecordAccessFailure(url, provider, kind string) error
	KnownDead(url string) bool
	StoreDocument(ctx context.Context, docID, text string, meta map[string]string) error
	SearchSimilar(ctx context.Context, query string, k int) ([]memory.ScoredChunk, error)
}

// Deps are the collaborators shared by all nodes of one session.
type Deps struct {
	Router   LLM
	Registry ProviderSource
	Fetcher  ContentFetcher
	Memory   Memory
	Playbook domain.Config
	Limits   config.LimitsConfig

	// Sensitive marks the query as carrying personal signals; it pins
	// model selection local.
	Sensitive bool

	// OnToken, when set, receives summary tokens as they stream.
	OnToken func(chunk string)
}
