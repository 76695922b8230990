package pipeline

import (
	"context"

	"deepresearch/internal/logging"
	"deepresearch/internal/types"
)

// Plan builds the research plan from the domain playbook and what memory
// knows. Memory is consulted first, always: prior sessions and the
// effectiveness table shape the plan before any defaults apply.
func Plan(ctx context.Context, deps *Deps, s *types.Session) error {
	timer := logging.StartTimer(logging.CategoryPipeline, "Plan")
	defer timer.Stop()

	// Memory first: learned effectiveness and prior similar sessions.
	effectiveness, err := deps.Memory.Effectiveness(s.Domain)
	if err != nil {
		logging.PipelineWarn("effectiveness lookup failed, planning without it: %v", err)
		effectiveness = nil
	}
	prior, err := deps.Memory.RecentSessions(s.Domain, 5)
	if err != nil {
		logging.PipelineWarn("prior session lookup failed, planning without them: %v", err)
	}

	s.Plan = types.ResearchPlan{
		Providers:           orderByEffectiveness(deps.Playbook.Providers, effectiveness),
		SourcesPerProvider:  deps.Playbook.SourcesPerProvider,
		SaturationThreshold: deps.Playbook.SaturationThreshold,
		MinCycles:           deps.Playbook.MinCycles,
		MaxCycles:           clampCycles(deps.Playbook.MaxCycles, deps.Limits.MaxCycles),
		PriorQueryTerms:     priorTerms(prior, s.RefinedQuery),
	}

	// Semantic recall over archived documents widens the seed terms.
	if hits, err := deps.Memory.SearchSimilar(ctx, s.RefinedQuery, 3); err == nil {
		for _, h := range hits {
			if h.Score < 0.75 {
				continue
			}
			if q := h.Meta["query"]; q != "" && q != s.RefinedQuery {
				s.Plan.PriorQueryTerms = appendUnique(s.Plan.PriorQueryTerms, q)
			}
		}
	}

	logging.Pipeline("session %s plan: providers=%v sources/provider=%d cycles=[%d,%d] threshold=%.2f",
		s.ID, s.Plan.Providers, s.Plan.SourcesPerProvider, s.Plan.MinCycles, s.Plan.MaxCycles, s.Plan.SaturationThreshold)
	return nil
}

// orderByEffectiveness stable-sorts the playbook's provider list so that
// sources that historically contributed rank earlier. Unknown sources
// keep their playbook position.
func orderByEffectiveness(providers []string, effectiveness map[string]float64) []string {
	out := append([]string(nil), providers...)
	if len(effectiveness) == 0 {
		return out
	}
	// Insertion sort keeps the playbook order for ties and unknowns.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && effectiveness[out[j]] > effectiveness[out[j-1]]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// priorTerms harvests gap terms from prior sessions that researched a
// related query.
func priorTerms(prior []*types.Session, query string) []string {
	qt := tokens(query)
	var out []string
	for _, p := range prior {
		if p.Report == nil {
			continue
		}
		if jaccard(qt, tokens(p.RefinedQuery)) < 0.3 {
			continue
		}
		for _, term := range p.GapTerms {
			out = appendUnique(out, term)
			if len(out) >= 5 {
				return out
			}
		}
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func clampCycles(playbook, limit int) int {
	if limit > 0 && playbook > limit {
		return limit
	}
	return playbook
}
