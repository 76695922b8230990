package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"deepresearch/internal/fetcher"
	"deepresearch/internal/types"
)

func TestVerifySkipsWhenDomainDoesNotRequireIt(t *testing.T) {
	deps, router, _, _, fetch := testDeps()
	deps.Playbook.VerifyFacts = false

	s := testSession()
	s.Facts = []types.Fact{{Statement: "a claim", Source: "https://a.org", Confidence: 0.9}}

	require.NoError(t, Verify(t.Context(), deps, s))
	require.Zero(t, router.calls)
	require.Zero(t, fetch.calls)
}

func TestVerifyConfirmsSupportedFacts(t *testing.T) {
	deps, router, _, _, fetch := testDeps()
	deps.Playbook.VerifyFacts = true
	router.response = `[{"statement": "wheat yields decline under sustained heat stress", "confidence": 0.8}]`
	fetch.pages["https://a.org/paper"] = fetcher.Result{Text: "full source text"}

	s := testSession()
	s.Facts = []types.Fact{{
		Statement: "wheat yields decline under sustained heat stress",
		Source:    "https://a.org/paper", Confidence: 0.9,
	}}

	require.NoError(t, Verify(t.Context(), deps, s))
	require.True(t, s.Facts[0].Verified)
	require.InDelta(t, 0.9, s.Facts[0].Confidence, 1e-9)
}

func TestVerifyDowngradesUnsupportedFacts(t *testing.T) {
	deps, router, _, _, fetch := testDeps()
	deps.Playbook.VerifyFacts = true
	router.response = `[{"statement": "the page discusses rice irrigation instead", "confidence": 0.8}]`
	fetch.pages["https://a.org/paper"] = fetcher.Result{Text: "full source text"}

	s := testSession()
	s.Facts = []types.Fact{{
		Statement: "wheat yields decline under sustained heat stress",
		Source:    "https://a.org/paper", Confidence: 0.8,
	}}

	require.NoError(t, Verify(t.Context(), deps, s))
	require.False(t, s.Facts[0].Verified)
	require.InDelta(t, 0.4, s.Facts[0].Confidence, 1e-9)
}

func TestVerifyFetchFailureLeavesFactsAlone(t *testing.T) {
	deps, router, _, _, fetch := testDeps()
	deps.Playbook.VerifyFacts = true
	fetch.fail["https://a.org/gone"] = true

	s := testSession()
	s.Facts = []types.Fact{{
		Statement: "a claim from a source that vanished",
		Source:    "https://a.org/gone", Confidence: 0.7,
	}}

	require.NoError(t, Verify(t.Context(), deps, s))
	require.False(t, s.Facts[0].Verified)
	require.InDelta(t, 0.7, s.Facts[0].Confidence, 1e-9)
	require.Zero(t, router.calls)
}

func TestVerifyChecksOnlyTopConfidenceFacts(t *testing.T) {
	deps, router, _, _, fetch := testDeps()
	deps.Playbook.VerifyFacts = true
	router.response = `[]`
	for i := 0; i < 8; i++ {
		url := "https://src.org/" + string(rune('a'+i))
		fetch.pages[url] = fetcher.Result{Text: "text"}
	}

	s := testSession()
	for i := 0; i < 8; i++ {
		s.Facts = append(s.Facts, types.Fact{
			Statement:  "distinct claim number " + string(rune('a'+i)),
			Source:     "https://src.org/" + string(rune('a'+i)),
			Confidence: float64(i) / 10,
		})
	}

	require.NoError(t, Verify(t.Context(), deps, s))
	require.Equal(t, verifyTopN, fetch.calls)
}
