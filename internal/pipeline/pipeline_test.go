package pipeline

import (
	"context"
	"errors"
	"fmt"

	"deepresearch/internal/config"
	"deepresearch/internal/domain"
	"deepresearch/internal/fetcher"
	"deepresearch/internal/llm"
	"deepresearch/internal/memory"
	"deepresearch/internal/types"
)

// Shared fakes for the node tests.

type fakeLLM struct {
	response  string
	failTimes int // fail this many calls, then succeed
	err       error
	calls     int
	lastMsgs  []llm.Message
}

func (f *fakeLLM) Select(llm.Complexity, types.PrivacyMode, bool) llm.Model {
	return llm.ModelLocalFast
}

func (f *fakeLLM) Complete(_ context.Context, _ llm.Model, _ types.PrivacyMode, msgs []llm.Message, _ llm.Options) (string, error) {
	f.calls++
	f.lastMsgs = msgs
	if f.failTimes > 0 {
		f.failTimes--
		return "", errors.New("backend unavailable")
	}
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

// Stream delivers the canned response in two chunks; concatenation
// matches Complete.
func (f *fakeLLM) Stream(ctx context.Context, m llm.Model, p types.PrivacyMode, msgs []llm.Message, opts llm.Options, fn llm.ChunkFunc) error {
	out, err := f.Complete(ctx, m, p, msgs, opts)
	if err != nil {
		return err
	}
	half := len(out) / 2
	if err := fn(out[:half]); err != nil {
		return err
	}
	return fn(out[half:])
}

type fakeMemory struct {
	effectiveness map[string]float64
	recents       []*types.Session
	dead          map[string]bool
	failures      []string
	docs          map[string]string
	similar       []memory.ScoredChunk
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{dead: map[string]bool{}, docs: map[string]string{}}
}

func (m *fakeMemory) RecentSessions(types.Domain, int) ([]*types.Session, error) {
	return m.recents, nil
}
func (m *fakeMemory) Effectiveness(types.Domain) (map[string]float64, error) {
	return m.effectiveness, nil
}
func (m *fakeMemory) RecordAccessFailure(url, provider, kind string) error {
	m.failures = append(m.failures, fmt.Sprintf("%s|%s|%s", url, provider, kind))
	return nil
}
func (m *fakeMemory) KnownDead(url string) bool { return m.dead[url] }
func (m *fakeMemory) StoreDocument(_ context.Context, docID, text string, _ map[string]string) error {
	m.docs[docID] = text
	return nil
}
func (m *fakeMemory) SearchSimilar(context.Context, string, int) ([]memory.ScoredChunk, error) {
	return m.similar, nil
}

type fakeSearch struct {
	name    string
	results []types.Entity
	err     error
	calls   int
}

func (p *fakeSearch) Name() string { return p.name }
func (p *fakeSearch) Search(context.Context, string, int) ([]types.Entity, error) {
	p.calls++
	return p.results, p.err
}

type fakeRegistry struct {
	providers []SearchProvider
	priority  []string
}

func (r *fakeRegistry) Ordered(priority []string, _ map[string]float64) []SearchProvider {
	r.priority = priority
	return r.providers
}

type fakeFetcher struct {
	pages map[string]fetcher.Result
	fail  map[string]bool
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (fetcher.Result, error) {
	f.calls++
	if f.fail[rawURL] {
		return fetcher.Result{URL: rawURL}, errors.New("navigation failed")
	}
	if res, ok := f.pages[rawURL]; ok {
		return res, nil
	}
	return fetcher.Result{URL: rawURL}, errors.New("not found")
}

func testDeps() (*Deps, *fakeLLM, *fakeMemory, *fakeRegistry, *fakeFetcher) {
	router := &fakeLLM{response: "[]"}
	mem := newFakeMemory()
	reg := &fakeRegistry{}
	fetch := &fakeFetcher{pages: map[string]fetcher.Result{}, fail: map[string]bool{}}

	playbook := domain.Config{
		Domain:              types.DomainGeneral,
		Providers:           []string{"tavily", "brave"},
		SourcesPerProvider:  5,
		MinCycles:           1,
		MaxCycles:           5,
		SaturationThreshold: 0.85,
		Saturation:          domain.SaturationWeights{NewEntityRate: 0.5, NewFactRate: 0.3, CrossAgree: 0.2},
		EnrichTopK:          8,
	}
	deps := &Deps{
		Router:   router,
		Registry: reg,
		Fetcher:  fetch,
		Memory:   mem,
		Playbook: playbook,
		Limits: config.LimitsConfig{
			MaxCycles:    5,
			MaxEntities:  100,
			MaxLLMTokens: 200000,
			EnrichTopK:   8,
		},
	}
	return deps, router, mem, reg, fetch
}

func testSession() *types.Session {
	return &types.Session{
		ID:           "sess-test",
		Query:        "effects of climate change on wheat yields",
		RefinedQuery: "effects of climate change on wheat yields",
		Domain:       types.DomainGeneral,
		Privacy:      types.PrivacyLocalOnly,
		Cycle:        1,
		Plan: types.ResearchPlan{
			Providers:           []string{"tavily", "brave"},
			SourcesPerProvider:  5,
			SaturationThreshold: 0.85,
			MinCycles:           1,
			MaxCycles:           5,
		},
	}
}
