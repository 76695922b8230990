package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"deepresearch/internal/types"
)

func sessionWithProgress(entities, newEntities, facts, newFacts int) *types.Session {
	s := testSession()
	for i := 0; i < entities; i++ {
		s.Entities = append(s.Entities, types.Entity{URL: "https://example.org/" + string(rune('a'+i))})
	}
	for i := 0; i < facts; i++ {
		s.Facts = append(s.Facts, types.Fact{Statement: "fact", Source: "https://a.org"})
	}
	s.NewEntitiesThisCycle = newEntities
	s.NewFactsThisCycle = newFacts
	return s
}

func TestEvaluateSaturationReached(t *testing.T) {
	deps, _, _, _, _ := testDeps()
	// Nothing new this cycle and strong agreement: saturated.
	s := sessionWithProgress(10, 0, 20, 0)
	s.Cycle = 2
	s.Groups = []types.FactGroup{{Members: []int{0}, Sources: []string{"a", "b", "c"}, Agreement: 1.0}}

	// Zero deltas would also be no_progress; saturation wins because the
	// overall score clears the threshold.
	reason := Evaluate(deps, s)
	require.Equal(t, types.StopSaturationReached, reason)
	require.InDelta(t, 1.0, s.Saturation.Overall, 1e-9)
	require.Zero(t, s.NewEntitiesThisCycle, "deltas reset after evaluation")
}

func TestEvaluateKeepsCollectingBelowThreshold(t *testing.T) {
	deps, _, _, _, _ := testDeps()
	// Half the entities and facts are new: far from saturated.
	s := sessionWithProgress(10, 5, 10, 5)
	s.Cycle = 1

	reason := Evaluate(deps, s)
	require.Empty(t, reason)
	// overall = 1 - 0.5*0.5 - 0.3*0.5 + 0 = 0.6
	require.InDelta(t, 0.6, s.Saturation.Overall, 1e-9)
}

func TestEvaluateMinCyclesGate(t *testing.T) {
	deps, _, _, _, _ := testDeps()
	deps.Playbook.MinCycles = 3

	s := sessionWithProgress(10, 0, 20, 0)
	s.Plan.MinCycles = 3
	s.Cycle = 1
	s.Groups = []types.FactGroup{{Agreement: 1.0, Members: []int{0}}}

	reason := Evaluate(deps, s)
	require.Empty(t, reason, "saturation cannot stop before min_cycles")
}

func TestEvaluateMaxCycles(t *testing.T) {
	deps, _, _, _, _ := testDeps()
	s := sessionWithProgress(10, 5, 10, 5)
	s.Cycle = 5

	require.Equal(t, types.StopMaxCycles, Evaluate(deps, s))
}

func TestEvaluateNoProgress(t *testing.T) {
	deps, _, _, _, _ := testDeps()
	// Zero deltas but low agreement keeps overall under the threshold.
	s := sessionWithProgress(10, 0, 20, 0)
	s.Cycle = 2
	s.Groups = []types.FactGroup{{Agreement: 0.1, Members: []int{0}}}
	s.Plan.SaturationThreshold = 1.01 // unreachable

	require.Equal(t, types.StopNoProgress, Evaluate(deps, s))
}

func TestEvaluateEntityBudgetStops(t *testing.T) {
	deps, _, _, _, _ := testDeps()
	deps.Limits.MaxEntities = 10

	s := sessionWithProgress(10, 2, 10, 2)
	s.Cycle = 1

	require.Equal(t, types.StopNoProgress, Evaluate(deps, s))
}

func TestEvaluateGapTermsFromSingleSourceGroups(t *testing.T) {
	deps, _, _, _, _ := testDeps()
	s := sessionWithProgress(10, 5, 0, 0)
	s.Cycle = 1
	s.Facts = []types.Fact{
		{Statement: "nitrogen fertilizer offsets some heat losses", Source: "https://a.org"},
		{Statement: "wheat yields decline under heat", Source: "https://a.org"},
	}
	s.Groups = []types.FactGroup{
		{Members: []int{0}, Sources: []string{"https://a.org"}, Agreement: 0.33},
		{Members: []int{1}, Sources: []string{"https://a.org", "https://b.org"}, Agreement: 0.66},
	}
	s.NewFactsThisCycle = 2

	reason := Evaluate(deps, s)
	require.Empty(t, reason)
	// Terms come from the single-source group only, minus query words.
	require.Contains(t, s.GapTerms, "nitrogen")
	require.Contains(t, s.GapTerms, "fertilizer")
	require.NotContains(t, s.GapTerms, "wheat")
	require.LessOrEqual(t, len(s.GapTerms), maxGapTerms)
}

func TestEvaluateOverallClamped(t *testing.T) {
	deps, _, _, _, _ := testDeps()
	// Everything is new: raw score would be negative.
	s := sessionWithProgress(5, 5, 5, 5)
	s.Cycle = 1

	Evaluate(deps, s)
	require.GreaterOrEqual(t, s.Saturation.Overall, 0.0)
	require.LessOrEqual(t, s.Saturation.Overall, 1.0)
}
