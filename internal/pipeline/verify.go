package pipeline

import (
	"context"
	"sort"

	"deepresearch/internal/llm"
	"deepresearch/internal/logging"
	"deepresearch/internal/types"
)

// verifyTopN bounds how many facts a verification pass re-checks.
const verifyTopN = 5

// verifyDowngrade is applied to facts that fail re-extraction.
const verifyDowngrade = 0.5

// Verify re-fetches the primary sources of the top-confidence facts and
// re-runs extraction against the fresh content. Facts the source no
// longer supports are downgraded; the node is a no-op for domains whose
// playbook does not require verification.
func Verify(ctx context.Context, deps *Deps, s *types.Session) error {
	if !deps.Playbook.VerifyFacts || len(s.Facts) == 0 {
		return nil
	}
	timer := logging.StartTimer(logging.CategoryPipeline, "Verify")
	defer timer.Stop()

	order := make([]int, len(s.Facts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return s.Facts[order[a]].Confidence > s.Facts[order[b]].Confidence
	})
	if len(order) > verifyTopN {
		order = order[:verifyTopN]
	}

	model := deps.Router.Select(llm.ComplexityLow, s.Privacy, deps.Sensitive)

	// One re-fetch per distinct source; a dead source fails all its facts
	// open (left unverified, not downgraded).
	refetched := map[string]string{}
	for _, fi := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		fact := &s.Facts[fi]

		content, seen := refetched[fact.Source]
		if !seen {
			res, err := deps.Fetcher.Fetch(ctx, fact.Source)
			if err != nil {
				logging.PipelineWarn("verification re-fetch of %s failed, leaving facts as-is: %v", fact.Source, err)
				refetched[fact.Source] = ""
				continue
			}
			content = res.Text
			refetched[fact.Source] = content
		}
		if content == "" {
			continue
		}

		probe := types.Entity{URL: fact.Source, Content: content}
		fresh, used, err := extractFacts(ctx, deps, model, s, &probe)
		s.Stats.LLMTokensUsed += used
		if err != nil {
			logging.PipelineWarn("verification extraction for %s failed: %v", fact.Source, err)
			continue
		}

		if supportsStatement(fresh, fact.Statement) {
			fact.Verified = true
		} else {
			fact.Confidence = clamp(fact.Confidence*verifyDowngrade, 0.1, 1.0)
			fact.Verified = false
			logging.Pipeline("session %s: fact downgraded on re-extraction: %.60q", s.ID, fact.Statement)
		}
	}
	return nil
}

// supportsStatement reports whether any re-extracted fact restates the
// original claim, by the same similarity measure grouping uses.
func supportsStatement(fresh []types.Fact, statement string) bool {
	want := tokens(statement)
	for _, f := range fresh {
		if jaccard(want, tokens(f.Statement)) >= groupSimilarity {
			return true
		}
	}
	return false
}
