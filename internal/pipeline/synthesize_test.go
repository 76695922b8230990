package pipeline

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"deepresearch/internal/types"
)

func reportSession() *types.Session {
	s := testSession()
	s.StopReason = types.StopSaturationReached
	s.Cycle = 3
	s.Entities = []types.Entity{
		{URL: "https://b.org/x", Title: "B", Provider: "brave"},
		{URL: "https://a.org/y", Title: "A", Provider: "tavily"},
	}
	s.Facts = []types.Fact{
		{Statement: "low confidence claim", Source: "https://a.org/y", Confidence: 0.3},
		{Statement: "high confidence claim", Source: "https://b.org/x", Confidence: 0.9,
			SupportingSources: []string{"https://a.org/y"}},
	}
	s.Stats.SourcesQueried = []string{"tavily", "brave"}
	s.GapTerms = []string{"irrigation"}
	return s
}

func TestSynthesizeBuildsReport(t *testing.T) {
	deps, router, _, _, _ := testDeps()
	router.response = "Executive summary paragraph one.\n\nParagraph two."

	s := reportSession()
	require.NoError(t, Synthesize(t.Context(), deps, s))
	r := s.Report
	require.NotNil(t, r)

	require.Equal(t, s.ID, r.SessionID)
	require.Equal(t, "Executive summary paragraph one.\n\nParagraph two.", r.Summary)

	// Findings are confidence-sorted, best first.
	require.Equal(t, "high confidence claim", r.Findings[0].Statement)
	require.Equal(t, []string{"https://a.org/y"}, r.Findings[0].SupportingSources)
	require.Equal(t, "low confidence claim", r.Findings[1].Statement)

	// Sources sort by URL and carry the provider as type.
	require.Equal(t, "https://a.org/y", r.Sources[0].URL)
	require.Equal(t, "tavily", r.Sources[0].Type)

	require.Equal(t, 2, r.Methodology.EntitiesFound)
	require.Equal(t, 2, r.Methodology.FactsExtracted)
	require.Equal(t, types.StopSaturationReached, r.Methodology.StopReason)
	require.InDelta(t, 0.6, r.OverallConfidence, 1e-9)
	require.False(t, r.GeneratedAt.IsZero())
}

func TestSynthesizeLimitationsStateWhatIsMissing(t *testing.T) {
	deps, router, _, _, _ := testDeps()
	router.response = "Summary."

	s := reportSession()
	s.Stats.FetchFailures = 2
	s.Contradictions = []types.Contradiction{{FactA: 0, FactB: 1, Kind: "numeric"}}

	require.NoError(t, Synthesize(t.Context(), deps, s))
	joined := strings.Join(s.Report.Limitations, " ")

	require.Contains(t, joined, "saturation_reached")
	require.Contains(t, joined, "irrigation")
	require.Contains(t, joined, "1 contradiction")
	require.Contains(t, joined, "2 source(s) could not be fetched")
}

func TestSynthesizeFallsBackWhenLLMFails(t *testing.T) {
	deps, router, _, _, _ := testDeps()
	router.err = errors.New("no backend")

	s := reportSession()
	require.NoError(t, Synthesize(t.Context(), deps, s))
	require.NotEmpty(t, s.Report.Summary)
	require.Contains(t, s.Report.Summary, "saturation_reached")
}

func TestSynthesizeEmptySession(t *testing.T) {
	deps, router, _, _, _ := testDeps()
	router.response = "irrelevant"

	s := testSession()
	s.StopReason = types.StopNoProgress
	require.NoError(t, Synthesize(t.Context(), deps, s))

	require.Empty(t, s.Report.Findings)
	require.Zero(t, s.Report.OverallConfidence)
	require.Contains(t, strings.Join(s.Report.Limitations, " "), "No facts relevant")
}

func TestSynthesizeStreamsTokensWhenObserved(t *testing.T) {
	deps, router, _, _, _ := testDeps()
	router.response = "Streamed summary."

	var streamed strings.Builder
	deps.OnToken = func(chunk string) { streamed.WriteString(chunk) }

	s := reportSession()
	require.NoError(t, Synthesize(t.Context(), deps, s))
	require.Equal(t, "Streamed summary.", s.Report.Summary)
	require.Equal(t, "Streamed summary.", streamed.String())
}

func TestMedicalReportsCarryCaveat(t *testing.T) {
	deps, router, _, _, _ := testDeps()
	router.response = "Summary."

	s := reportSession()
	s.Domain = types.DomainMedical
	require.NoError(t, Synthesize(t.Context(), deps, s))
	require.Contains(t, strings.Join(s.Report.Limitations, " "), "not a substitute for professional advice")
}
