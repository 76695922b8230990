package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"deepresearch/internal/llm"
	"deepresearch/internal/logging"
	"deepresearch/internal/types"
)

// summaryFactCount is how many top facts feed the executive summary.
const summaryFactCount = 15

// Synthesize assembles the final report: confidence-sorted findings,
// grouped sources, methodology, limitations, and an LLM executive
// summary. A failed summary degrades to an assembled one; synthesis never
// fails the session once facts exist.
func Synthesize(ctx context.Context, deps *Deps, s *types.Session) error {
	timer := logging.StartTimer(logging.CategoryPipeline, "Synthesize")
	defer timer.Stop()

	findings := buildFindings(s)
	report := &types.Report{
		SessionID: s.ID,
		Query:     s.Query,
		Domain:    s.Domain,
		Findings:  findings,
		Sources:   buildSources(s),
		Methodology: types.Methodology{
			SourcesQueried: append([]string(nil), s.Stats.SourcesQueried...),
			EntitiesFound:  len(s.Entities),
			FactsExtracted: len(s.Facts),
			Saturation:     s.Saturation,
			StopReason:     s.StopReason,
		},
		Limitations:         buildLimitations(s),
		ContradictionsFound: len(s.Contradictions),
		OverallConfidence:   meanConfidence(s.Facts),
		GeneratedAt:         time.Now().UTC(),
	}

	summary, used, err := llmSummary(ctx, deps, s, findings)
	s.Stats.LLMTokensUsed += used
	if err != nil {
		logging.PipelineWarn("session %s: summary generation failed, assembling fallback: %v", s.ID, err)
		summary = assembledSummary(s, findings)
	}
	report.Summary = summary

	s.Report = report
	logging.Pipeline("session %s: report ready (%d findings, confidence %.2f)",
		s.ID, len(report.Findings), report.OverallConfidence)
	return nil
}

func buildFindings(s *types.Session) []types.Finding {
	idx := make([]int, len(s.Facts))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return s.Facts[idx[a]].Confidence > s.Facts[idx[b]].Confidence
	})

	out := make([]types.Finding, 0, len(idx))
	for _, i := range idx {
		f := s.Facts[i]
		supporting := f.SupportingSources
		if supporting == nil {
			supporting = []string{}
		}
		out = append(out, types.Finding{
			Statement:         f.Statement,
			Confidence:        f.Confidence,
			Source:            f.Source,
			SupportingSources: supporting,
		})
	}
	return out
}

func buildSources(s *types.Session) []types.SourceRef {
	out := make([]types.SourceRef, 0, len(s.Entities))
	for _, e := range s.Entities {
		out = append(out, types.SourceRef{URL: e.URL, Title: e.Title, Type: e.Provider})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// buildLimitations states explicitly what was not established and why the
// session stopped.
func buildLimitations(s *types.Session) []string {
	var out []string

	out = append(out, fmt.Sprintf("Research stopped with reason %q after %d cycle(s).", s.StopReason, s.Cycle))

	if len(s.GapTerms) > 0 {
		out = append(out, fmt.Sprintf("Low-coverage topics not fully established: %s.", strings.Join(s.GapTerms, ", ")))
	}
	if single := singleSourceGroups(s); single > 0 {
		out = append(out, fmt.Sprintf("%d claim group(s) rest on a single source and lack corroboration.", single))
	}
	if len(s.Contradictions) > 0 {
		out = append(out, fmt.Sprintf("%d contradiction(s) between sources remain unresolved.", len(s.Contradictions)))
	}
	if s.Stats.FetchFailures > 0 {
		out = append(out, fmt.Sprintf("%d source(s) could not be fetched in full; only search snippets were used for them.", s.Stats.FetchFailures))
	}
	if s.Stats.ProvidersSkipped > 0 {
		out = append(out, fmt.Sprintf("%d provider call(s) were skipped due to unavailability or rate limits.", s.Stats.ProvidersSkipped))
	}
	if s.Domain == types.DomainMedical {
		out = append(out, "Medical findings are informational and not a substitute for professional advice.")
	}
	if len(s.Facts) == 0 {
		out = append(out, "No facts relevant to the query were found in the retrieved sources.")
	}
	return out
}

func singleSourceGroups(s *types.Session) int {
	n := 0
	for _, g := range s.Groups {
		if len(g.Sources) == 1 {
			n++
		}
	}
	return n
}

func meanConfidence(facts []types.Fact) float64 {
	if len(facts) == 0 {
		return 0
	}
	var sum float64
	for _, f := range facts {
		sum += f.Confidence
	}
	return sum / float64(len(facts))
}

// llmSummary asks the strongest permitted model for a 2-3 paragraph
// executive summary over the top findings.
func llmSummary(ctx context.Context, deps *Deps, s *types.Session, findings []types.Finding) (string, int, error) {
	if len(findings) == 0 {
		return "", 0, fmt.Errorf("no findings to summarize")
	}

	top := findings
	if len(top) > summaryFactCount {
		top = top[:summaryFactCount]
	}
	var b strings.Builder
	for i, f := range top {
		fmt.Fprintf(&b, "%d. [confidence %.2f] %s (source: %s)\n", i+1, f.Confidence, f.Statement, f.Source)
	}

	user := fmt.Sprintf(
		"Research question: %s\n\nEstablished findings:\n%s\nWrite a 2-3 paragraph executive summary. Mention what remains uncertain. Stop reason: %s.",
		s.Query, b.String(), s.StopReason)
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: "You write precise executive summaries of research findings. Be factual; do not invent claims beyond the findings given."},
		{Role: llm.RoleUser, Content: user},
	}

	model := deps.Router.Select(llm.ComplexityHigh, s.Privacy, deps.Sensitive)
	opts := llm.Options{Temperature: 0.3, MaxTokens: 900}

	// With a token observer attached, the summary streams out as it is
	// generated; the concatenation is what lands in the report.
	var out string
	var err error
	if deps.OnToken != nil {
		var b strings.Builder
		err = deps.Router.Stream(ctx, model, s.Privacy, msgs, opts, func(chunk string) error {
			b.WriteString(chunk)
			deps.OnToken(chunk)
			return nil
		})
		out = b.String()
	} else {
		out, err = deps.Router.Complete(ctx, model, s.Privacy, msgs, opts)
	}
	if err != nil {
		return "", llm.EstimateTokens(user), err
	}
	return strings.TrimSpace(out), llm.EstimateTokens(user) + llm.EstimateTokens(out), nil
}

// assembledSummary is the deterministic fallback when no model is usable.
func assembledSummary(s *types.Session, findings []types.Finding) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research into %q examined %d sources and established %d facts.",
		s.Query, len(s.Entities), len(s.Facts))
	if len(findings) > 0 {
		b.WriteString(" Key findings: ")
		n := len(findings)
		if n > 3 {
			n = 3
		}
		for i := 0; i < n; i++ {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%s.", strings.TrimSuffix(findings[i].Statement, "."))
		}
	}
	fmt.Fprintf(&b, " The session stopped with reason %q.", s.StopReason)
	return b.String()
}
