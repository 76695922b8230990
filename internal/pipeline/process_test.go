package pipeline

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"deepresearch/internal/types"
)

func entityWithContent(url, content string) types.Entity {
	return types.Entity{URL: url, Provider: "tavily", Content: content}
}

func TestProcessExtractsFacts(t *testing.T) {
	deps, router, _, _, _ := testDeps()
	router.response = "```json\n[{\"statement\": \"Wheat yields decline 6% per degree of warming\", \"confidence\": 0.8},\n{\"statement\": \"Irrigated regions lose less\", \"confidence\": 0.6}]\n```"

	s := testSession()
	s.Entities = []types.Entity{entityWithContent("https://example.org/a", "document text")}

	require.NoError(t, Process(t.Context(), deps, s))
	require.Len(t, s.Facts, 2)
	require.Equal(t, 2, s.NewFactsThisCycle)
	require.Equal(t, "https://example.org/a", s.Facts[0].Source)
	require.Equal(t, "llm", s.Facts[0].ExtractedBy)
	require.InDelta(t, 0.8, s.Facts[0].Confidence, 1e-9)
	require.Positive(t, s.Stats.LLMTokensUsed)

	// Entities without content are never sent to the model.
	require.Equal(t, "true", s.Entities[0].Extensions["facts_extracted"])
}

func TestProcessDedupesByStatementHash(t *testing.T) {
	deps, router, _, _, _ := testDeps()
	router.response = `[{"statement": "Wheat Yields Decline", "confidence": 0.9}]`

	s := testSession()
	s.Facts = []types.Fact{{Statement: "  wheat yields decline ", Source: "https://example.org/prior"}}
	s.Entities = []types.Entity{entityWithContent("https://example.org/a", "text")}

	require.NoError(t, Process(t.Context(), deps, s))
	require.Len(t, s.Facts, 1, "case and whitespace variants are the same fact")
	require.Zero(t, s.NewFactsThisCycle)
}

func TestProcessParseFailureDropsDocument(t *testing.T) {
	deps, router, _, _, _ := testDeps()
	router.response = "I could not find any facts, sorry!"

	s := testSession()
	s.Entities = []types.Entity{entityWithContent("https://example.org/a", "text")}

	require.NoError(t, Process(t.Context(), deps, s))
	require.Empty(t, s.Facts)
	require.Equal(t, 1, s.Stats.ParseFailures)
	// The document is not reprocessed next cycle.
	require.Equal(t, "true", s.Entities[0].Extensions["facts_extracted"])
}

func TestProcessRetriesOnceThenDrops(t *testing.T) {
	deps, router, _, _, _ := testDeps()
	router.failTimes = 1
	router.response = `[{"statement": "Recovered on retry", "confidence": 0.7}]`

	s := testSession()
	s.Entities = []types.Entity{entityWithContent("https://example.org/a", "text")}

	require.NoError(t, Process(t.Context(), deps, s))
	require.Len(t, s.Facts, 1)
	require.Equal(t, 2, router.calls)

	// Two failures in a row drop the document.
	router.failTimes = 2
	router.calls = 0
	s2 := testSession()
	s2.Entities = []types.Entity{entityWithContent("https://example.org/b", "text")}
	require.NoError(t, Process(t.Context(), deps, s2))
	require.Empty(t, s2.Facts)
	require.Equal(t, 2, router.calls)
}

func TestProcessHonorsTokenBudget(t *testing.T) {
	deps, router, _, _, _ := testDeps()
	router.response = `[{"statement": "A fact", "confidence": 0.5}]`
	deps.Limits.MaxLLMTokens = 1

	s := testSession()
	s.Stats.LLMTokensUsed = 2
	s.Entities = []types.Entity{entityWithContent("https://example.org/a", "text")}

	require.NoError(t, Process(t.Context(), deps, s))
	require.Empty(t, s.Facts)
	require.Zero(t, router.calls)
}

func TestParseFactArrayTolerance(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  int
		ok    bool
	}{
		{"plain array", `[{"statement":"a","confidence":0.5}]`, 1, true},
		{"fenced", "```json\n[{\"statement\":\"a\",\"confidence\":0.5}]\n```", 1, true},
		{"fenced no lang", "```\n[]\n```", 0, true},
		{"prose around array", `Here you go: [{"statement":"a","confidence":1}] hope that helps`, 1, true},
		{"empty reply", ``, 0, false},
		{"no array", `{"statement":"a"}`, 0, false},
		{"broken json", `[{"statement":`, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseFactArray(tc.input)
			if !tc.ok {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, got, tc.want)
		})
	}
}

func TestExtractFactsWindowsContent(t *testing.T) {
	deps, router, _, _, _ := testDeps()
	router.response = `[]`

	long := make([]byte, contentWindow*2)
	for i := range long {
		long[i] = 'x'
	}
	s := testSession()
	e := entityWithContent("https://example.org/a", string(long))

	_, used, err := extractFacts(t.Context(), deps, deps.Router.Select(0, s.Privacy, false), s, &e)
	require.NoError(t, err)
	// The prompt token estimate reflects the truncated window, not the
	// full document.
	require.Less(t, used, (contentWindow+2000)/4+100)
}

func TestExtractFactsWindowCutsOnRuneBoundary(t *testing.T) {
	deps, router, _, _, _ := testDeps()
	router.response = `[]`

	// Three-byte runes straddle the window edge.
	long := strings.Repeat("研", contentWindow/3+100)
	s := testSession()
	e := entityWithContent("https://example.org/a", long)

	_, _, err := extractFacts(t.Context(), deps, deps.Router.Select(0, s.Privacy, false), s, &e)
	require.NoError(t, err)
	require.Len(t, router.lastMsgs, 2)
	require.True(t, utf8.ValidString(router.lastMsgs[1].Content))
}
