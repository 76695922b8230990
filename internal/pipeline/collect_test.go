package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"deepresearch/internal/fetcher"
	"deepresearch/internal/types"
)

func TestCollectMergesAndNormalizes(t *testing.T) {
	deps, _, _, reg, _ := testDeps()
	reg.providers = []SearchProvider{
		&fakeSearch{name: "tavily", results: []types.Entity{
			{URL: "https://Example.org/a?utm_source=x", Title: "A from tavily", Provider: "tavily", Score: 0.9},
			{URL: "https://example.org/b", Title: "B", Provider: "tavily", Score: 0.5},
		}},
		&fakeSearch{name: "brave", results: []types.Entity{
			// Same page as tavily's first result after normalization.
			{URL: "https://example.org/a", Title: "A from brave", Provider: "brave", Score: 0.99},
			{URL: "https://example.org/c", Title: "C", Provider: "brave", Score: 0.4},
		}},
	}
	deps.Playbook.EnrichTopK = 0 // no fetching in this test

	s := testSession()
	require.NoError(t, Collect(t.Context(), deps, s))

	require.Len(t, s.Entities, 3)
	require.Equal(t, 3, s.NewEntitiesThisCycle)

	// Deterministic order: sorted by normalized URL.
	require.Equal(t, "https://example.org/a", s.Entities[0].URL)
	require.Equal(t, "https://example.org/b", s.Entities[1].URL)
	require.Equal(t, "https://example.org/c", s.Entities[2].URL)

	// Higher-priority provider wins the duplicate.
	require.Equal(t, "tavily", s.Entities[0].Provider)
	require.ElementsMatch(t, []string{"tavily", "brave"}, s.Stats.SourcesQueried)
}

func TestCollectSkipsExistingEntities(t *testing.T) {
	deps, _, _, reg, _ := testDeps()
	reg.providers = []SearchProvider{
		&fakeSearch{name: "tavily", results: []types.Entity{
			{URL: "https://example.org/known", Provider: "tavily"},
		}},
	}
	deps.Playbook.EnrichTopK = 0

	s := testSession()
	s.Entities = []types.Entity{{URL: "https://example.org/known", Provider: "brave"}}
	require.NoError(t, Collect(t.Context(), deps, s))

	require.Len(t, s.Entities, 1)
	require.Zero(t, s.NewEntitiesThisCycle)
}

func TestCollectProviderFailureIsSkipNotFatal(t *testing.T) {
	deps, _, _, reg, _ := testDeps()
	reg.providers = []SearchProvider{
		&fakeSearch{name: "tavily", err: errors.New("connection refused")},
		&fakeSearch{name: "brave", results: []types.Entity{
			{URL: "https://example.org/ok", Provider: "brave"},
		}},
	}
	deps.Playbook.EnrichTopK = 0

	s := testSession()
	require.NoError(t, Collect(t.Context(), deps, s))

	require.Len(t, s.Entities, 1)
	require.Equal(t, 1, s.Stats.ProvidersSkipped)
	require.Equal(t, []string{"brave"}, s.Stats.SourcesQueried)
}

func TestCollectHonorsEntityBudget(t *testing.T) {
	deps, _, _, reg, _ := testDeps()
	var many []types.Entity
	for i := 0; i < 10; i++ {
		many = append(many, types.Entity{URL: "https://example.org/" + string(rune('a'+i)), Provider: "tavily"})
	}
	reg.providers = []SearchProvider{&fakeSearch{name: "tavily", results: many}}
	deps.Playbook.EnrichTopK = 0
	deps.Limits.MaxEntities = 4

	s := testSession()
	require.NoError(t, Collect(t.Context(), deps, s))
	require.Len(t, s.Entities, 4)
}

func TestCollectEnrichment(t *testing.T) {
	deps, _, mem, reg, fetch := testDeps()
	reg.providers = []SearchProvider{
		&fakeSearch{name: "tavily", results: []types.Entity{
			{URL: "https://example.org/good", Provider: "tavily", Score: 0.9, Snippet: "snippet"},
			{URL: "https://example.org/broken", Provider: "tavily", Score: 0.8, Snippet: "kept snippet"},
			{URL: "https://example.org/dead", Provider: "tavily", Score: 0.7},
		}},
	}
	fetch.pages["https://example.org/good"] = fetcher.Result{Title: "Good page", Text: "full text here"}
	fetch.fail["https://example.org/broken"] = true
	mem.dead["https://example.org/dead"] = true

	s := testSession()
	require.NoError(t, Collect(t.Context(), deps, s))

	good := s.EntityByURL("https://example.org/good")
	require.NotNil(t, good)
	require.Equal(t, "full text here", good.Content)

	// Failed fetch keeps the entity and its snippet, records the failure.
	broken := s.EntityByURL("https://example.org/broken")
	require.NotNil(t, broken)
	require.Empty(t, broken.Content)
	require.Equal(t, "kept snippet", broken.Snippet)
	require.Equal(t, 1, s.Stats.FetchFailures)
	require.NotEmpty(t, mem.failures)

	// Known-dead URLs are never fetched.
	require.Empty(t, s.EntityByURL("https://example.org/dead").Content)

	// Fetched content lands in the document archive.
	require.Equal(t, "full text here", mem.docs["https://example.org/good"])
}

func TestCollectGapTermsWidenQuery(t *testing.T) {
	deps, _, _, reg, _ := testDeps()
	p := &fakeSearch{name: "tavily"}
	reg.providers = []SearchProvider{p}
	deps.Playbook.EnrichTopK = 0

	s := testSession()
	s.Cycle = 2
	s.GapTerms = []string{"irrigation", "drought"}
	require.NoError(t, Collect(t.Context(), deps, s))
	require.Equal(t, 1, p.calls)
	require.Equal(t, "effects of climate change on wheat yields irrigation drought", collectQuery(s))
}
