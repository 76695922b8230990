package domain

import (
	"context"
	"strings"

	"deepresearch/internal/llm"
	"deepresearch/internal/logging"
	"deepresearch/internal/types"
)

// ambiguityMargin: if the best keyword score does not beat the runner-up
// by at least this much, the fast path is ambiguous and the LLM decides.
const ambiguityMargin = 2

var domainKeywords = map[types.Domain][]string{
	types.DomainMedical: {
		"clinical", "trial", "patient", "disease", "treatment", "symptom",
		"diagnosis", "drug", "dosage", "therapy", "medical", "health",
		"cancer", "vaccine", "fda approval", "side effect",
	},
	types.DomainRegulatory: {
		"regulation", "regulatory", "compliance", "directive", "statute",
		"legislation", "legal requirement", "certification", "license",
		"easa", "faa", "gdpr", "authority", "mandate", "standard",
	},
	types.DomainAcademic: {
		"study", "studies", "research", "paper", "journal", "peer-reviewed",
		"citation", "hypothesis", "experiment", "dataset", "meta-analysis",
		"literature", "effects of", "correlation", "theory",
	},
	types.DomainCompetitive: {
		"competitor", "market share", "pricing", "revenue", "funding",
		"startup", "acquisition", "product launch", "vendor", "industry",
		"business model", "valuation", "customers", "versus",
	},
}

// Completer is the slice of the LLM router the classifier needs.
type Completer interface {
	Complete(ctx context.Context, m llm.Model, privacy types.PrivacyMode, msgs []llm.Message, opts llm.Options) (string, error)
}

// Classify detects the query's domain. The keyword dictionary decides
// deterministically when one domain clearly leads; otherwise the LLM picks
// from the closed set, and general is the fallback of last resort.
func Classify(ctx context.Context, router Completer, query string, privacy types.PrivacyMode) types.Domain {
	best, margin := keywordScore(query)
	if best != types.DomainGeneral && margin >= ambiguityMargin {
		logging.Domain("classified %q as %s (keyword fast path)", query, best)
		return best
	}
	if router == nil {
		return fallbackDomain(best)
	}

	out, err := router.Complete(ctx, llm.ModelLocalFast, privacy, []llm.Message{
		{Role: llm.RoleSystem, Content: "You classify research queries. Answer with exactly one word from: medical, regulatory, academic, competitive_intelligence, general."},
		{Role: llm.RoleUser, Content: query},
	}, llm.Options{MaxTokens: 8, Temperature: 0})
	if err != nil {
		logging.DomainWarn("LLM classification failed, keeping keyword result: %v", err)
		return fallbackDomain(best)
	}

	answer := types.Domain(strings.TrimSpace(strings.ToLower(out)))
	for _, d := range types.AllDomains() {
		if answer == d {
			logging.Domain("classified %q as %s (llm)", query, d)
			return d
		}
	}
	logging.DomainWarn("LLM returned unknown domain %q, keeping keyword result", out)
	return fallbackDomain(best)
}

func fallbackDomain(best types.Domain) types.Domain {
	if best == "" {
		return types.DomainGeneral
	}
	return best
}

// keywordScore returns the top-scoring domain and its lead over the
// runner-up. A query matching nothing scores general with zero lead.
func keywordScore(query string) (types.Domain, int) {
	q := strings.ToLower(query)
	scores := make(map[types.Domain]int)
	for d, words := range domainKeywords {
		for _, w := range words {
			if strings.Contains(q, w) {
				scores[d]++
			}
		}
	}

	best, second := types.DomainGeneral, 0
	bestScore := 0
	for _, d := range types.AllDomains() {
		s := scores[d]
		if s > bestScore {
			second = bestScore
			best, bestScore = d, s
		} else if s > second {
			second = s
		}
	}
	if bestScore == 0 {
		return types.DomainGeneral, 0
	}
	return best, bestScore - second
}
