package pipeline

import (
	"fmt"
	"sort"

	"deepresearch/internal/logging"
	"deepresearch/internal/types"
)

// Grouping and contradiction thresholds.
const (
	groupSimilarity    = 0.4  // statements this similar describe one claim
	relatedSimilarity  = 0.3  // below this, a pair is unrelated; no conflict
	numericConflictGap = 0.2  // >20% relative difference is a conflict
)

// Analyze cross-references facts into agreement groups, detects
// contradictions between related facts from distinct sources, and settles
// each fact's final confidence. Pure over the session.
func Analyze(s *types.Session) {
	timer := logging.StartTimer(logging.CategoryPipeline, "Analyze")
	defer timer.Stop()

	tok := make([]map[string]bool, len(s.Facts))
	for i, f := range s.Facts {
		tok[i] = tokens(f.Statement)
	}

	s.Groups = groupFacts(s, tok)
	s.Contradictions = findContradictions(s, tok)
	settleConfidence(s)

	logging.Pipeline("session %s: %d groups, %d contradictions across %d facts",
		s.ID, len(s.Groups), len(s.Contradictions), len(s.Facts))
}

// groupFacts greedily assigns each fact to the first group whose
// representative statement clears the similarity threshold. Each group's
// agreement is min(1, unique sources / 3), and every member fact is
// annotated with the group's other sources.
func groupFacts(s *types.Session, tok []map[string]bool) []types.FactGroup {
	var groups []types.FactGroup
	assigned := make([]int, len(s.Facts))
	for i := range assigned {
		assigned[i] = -1
	}

	for i := range s.Facts {
		placed := false
		for gi := range groups {
			rep := groups[gi].Members[0]
			if jaccard(tok[i], tok[rep]) >= groupSimilarity {
				groups[gi].Members = append(groups[gi].Members, i)
				assigned[i] = gi
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, types.FactGroup{Members: []int{i}})
			assigned[i] = len(groups) - 1
		}
	}

	for gi := range groups {
		sources := map[string]bool{}
		for _, fi := range groups[gi].Members {
			sources[s.Facts[fi].Source] = true
		}
		groups[gi].Sources = groups[gi].Sources[:0]
		for src := range sources {
			groups[gi].Sources = append(groups[gi].Sources, src)
		}
		sort.Strings(groups[gi].Sources)

		agreement := float64(len(sources)) / 3
		if agreement > 1 {
			agreement = 1
		}
		groups[gi].Agreement = agreement

		for _, fi := range groups[gi].Members {
			f := &s.Facts[fi]
			f.Agreement = agreement
			f.SupportingSources = f.SupportingSources[:0]
			for _, src := range groups[gi].Sources {
				if src != f.Source {
					f.SupportingSources = append(f.SupportingSources, src)
				}
			}
		}
	}
	return groups
}

// findContradictions compares related facts from distinct sources for
// year and numeric conflicts.
func findContradictions(s *types.Session, tok []map[string]bool) []types.Contradiction {
	var out []types.Contradiction
	for i := 0; i < len(s.Facts); i++ {
		for j := i + 1; j < len(s.Facts); j++ {
			a, b := &s.Facts[i], &s.Facts[j]
			if a.Source == b.Source {
				continue
			}
			if jaccard(tok[i], tok[j]) <= relatedSimilarity {
				continue
			}

			if c, ok := yearConflict(i, j, a.Statement, b.Statement); ok {
				out = append(out, c)
				a.Contradicted, b.Contradicted = true, true
				continue
			}
			if c, ok := numericConflict(i, j, a.Statement, b.Statement); ok {
				out = append(out, c)
				a.Contradicted, b.Contradicted = true, true
			}
		}
	}
	return out
}

// yearConflict fires when two related statements each carry exactly one
// year and the years differ.
func yearConflict(i, j int, a, b string) (types.Contradiction, bool) {
	ya, yb := years(a), years(b)
	if len(ya) != 1 || len(yb) != 1 || ya[0] == yb[0] {
		return types.Contradiction{}, false
	}
	return types.Contradiction{FactA: i, FactB: j, Kind: "year", ValueA: ya[0], ValueB: yb[0]}, true
}

// numericConflict fires when the leading measurements of two related
// statements differ by more than the threshold.
func numericConflict(i, j int, a, b string) (types.Contradiction, bool) {
	na, nb := numbers(a), numbers(b)
	if len(na) == 0 || len(nb) == 0 {
		return types.Contradiction{}, false
	}
	if relativeDiff(na[0], nb[0]) <= numericConflictGap {
		return types.Contradiction{}, false
	}
	return types.Contradiction{
		FactA: i, FactB: j, Kind: "numeric",
		ValueA: fmt.Sprintf("%g", na[0]),
		ValueB: fmt.Sprintf("%g", nb[0]),
	}, true
}

// settleConfidence folds agreement and contradiction into each fact:
// clamp(base + 0.1*min(3, supporting) - 0.3*contradicted, 0.1, 1.0).
func settleConfidence(s *types.Session) {
	for i := range s.Facts {
		f := &s.Facts[i]
		supporting := len(f.SupportingSources)
		if supporting > 3 {
			supporting = 3
		}
		adj := f.Confidence + 0.1*float64(supporting)
		if f.Contradicted {
			adj -= 0.3
		}
		f.Confidence = clamp(adj, 0.1, 1.0)
	}
}
