package pipeline

import (
	"sort"

	"deepresearch/internal/logging"
	"deepresearch/internal/types"
)

// maxGapTerms bounds the query expansion fed into the next cycle.
const maxGapTerms = 5

// Evaluate computes this cycle's saturation metrics and decides whether
// the session keeps collecting. When it returns a non-empty stop reason
// the loop ends; otherwise the session loops back to Collect with gap
// terms derived from low-coverage fact groups. The per-cycle delta
// counters are reset either way.
func Evaluate(deps *Deps, s *types.Session) types.StopReason {
	timer := logging.StartTimer(logging.CategoryPipeline, "Evaluate")
	defer timer.Stop()

	m := types.SaturationMetrics{}
	if len(s.Entities) > 0 {
		m.NewEntityRatio = float64(s.NewEntitiesThisCycle) / float64(len(s.Entities))
	}
	if len(s.Facts) > 0 {
		m.NewFactRatio = float64(s.NewFactsThisCycle) / float64(len(s.Facts))
	}
	m.CrossAgreement = meanAgreement(s.Groups)

	w := deps.Playbook.Saturation
	m.Overall = clamp(1-w.NewEntityRate*m.NewEntityRatio-w.NewFactRate*m.NewFactRatio+w.CrossAgree*m.CrossAgreement, 0, 1)
	s.Saturation = m

	noProgress := s.NewEntitiesThisCycle == 0 && s.NewFactsThisCycle == 0
	s.NewEntitiesThisCycle = 0
	s.NewFactsThisCycle = 0

	logging.Pipeline("session %s cycle %d: saturation=%.3f (entities=%.3f facts=%.3f agreement=%.3f)",
		s.ID, s.Cycle, m.Overall, m.NewEntityRatio, m.NewFactRatio, m.CrossAgreement)

	switch {
	case s.Cycle >= s.Plan.MinCycles && m.Overall >= s.Plan.SaturationThreshold:
		return types.StopSaturationReached
	case s.Cycle >= s.Plan.MaxCycles:
		return types.StopMaxCycles
	case noProgress && s.Cycle >= s.Plan.MinCycles:
		return types.StopNoProgress
	case budgetExhausted(deps, s):
		// Entity and token budgets make further cycles fruitless.
		return types.StopNoProgress
	}

	s.GapTerms = gapTerms(s)
	return ""
}

func budgetExhausted(deps *Deps, s *types.Session) bool {
	if deps.Limits.MaxEntities > 0 && len(s.Entities) >= deps.Limits.MaxEntities {
		return true
	}
	if deps.Limits.MaxLLMTokens > 0 && s.Stats.LLMTokensUsed >= deps.Limits.MaxLLMTokens {
		return true
	}
	return false
}

func meanAgreement(groups []types.FactGroup) float64 {
	if len(groups) == 0 {
		return 0
	}
	var sum float64
	for _, g := range groups {
		sum += g.Agreement
	}
	return sum / float64(len(groups))
}

// gapTerms derives follow-up query terms from single-source fact groups:
// claims nothing else corroborates yet are where another cycle can help.
func gapTerms(s *types.Session) []string {
	queryTok := tokens(s.RefinedQuery)

	type scored struct {
		term  string
		count int
	}
	counts := map[string]int{}
	for _, g := range s.Groups {
		if len(g.Sources) > 1 {
			continue
		}
		rep := s.Facts[g.Members[0]]
		for w := range tokens(rep.Statement) {
			if queryTok[w] || len(w) <= 3 {
				continue
			}
			counts[w]++
		}
	}

	ranked := make([]scored, 0, len(counts))
	for term, count := range counts {
		ranked = append(ranked, scored{term, count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].term < ranked[j].term
	})

	out := make([]string, 0, maxGapTerms)
	for _, r := range ranked {
		if len(out) >= maxGapTerms {
			break
		}
		out = append(out, r.term)
	}
	return out
}
