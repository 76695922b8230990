package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"deepresearch/internal/llm"
	"deepresearch/internal/logging"
	"deepresearch/internal/types"
)

// contentWindow bounds how much of a document the extraction prompt sees.
const contentWindow = 8000

const extractSystemPrompt = `You extract factual claims from source documents for a research query.
Return ONLY a JSON array of objects: [{"statement": "...", "confidence": 0.0-1.0}].
Rules: each statement is one atomic, self-contained claim relevant to the query;
confidence reflects how directly the document supports it; return [] if the
document contains nothing relevant. No prose outside the JSON.`

// processedMark flags an entity whose content already went through
// extraction, so later cycles skip it.
const processedMark = "facts_extracted"

// Process runs fact extraction over every entity that has content and has
// not been processed yet. A parse failure drops that document's facts; an
// LLM failure is retried once, then the document is dropped.
func Process(ctx context.Context, deps *Deps, s *types.Session) error {
	timer := logging.StartTimer(logging.CategoryPipeline, "Process")
	defer timer.Stop()

	model := deps.Router.Select(llm.ComplexityLow, s.Privacy, deps.Sensitive)

	for i := range s.Entities {
		entity := &s.Entities[i]
		if entity.Content == "" || entity.Extensions[processedMark] == "true" {
			continue
		}
		if deps.Limits.MaxLLMTokens > 0 && s.Stats.LLMTokensUsed >= deps.Limits.MaxLLMTokens {
			logging.Pipeline("session %s: llm token budget exhausted, stopping extraction", s.ID)
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		facts, used, err := extractFacts(ctx, deps, model, s, entity)
		s.Stats.LLMTokensUsed += used
		if err != nil {
			s.Stats.ParseFailures++
			logging.PipelineWarn("session %s: dropping facts from %s: %v", s.ID, entity.URL, err)
			markProcessed(entity)
			continue
		}

		for _, f := range facts {
			if s.HasFact(f.Hash()) {
				continue
			}
			s.Facts = append(s.Facts, f)
			s.NewFactsThisCycle++
		}
		markProcessed(entity)
	}

	logging.Pipeline("session %s cycle %d: %d facts total", s.ID, s.Cycle, len(s.Facts))
	return nil
}

func markProcessed(e *types.Entity) {
	if e.Extensions == nil {
		e.Extensions = make(map[string]string)
	}
	e.Extensions[processedMark] = "true"
}

// extractFacts sends one document through the extraction prompt and
// parses the reply. The token estimate covers prompt and reply.
func extractFacts(ctx context.Context, deps *Deps, model llm.Model, s *types.Session, entity *types.Entity) ([]types.Fact, int, error) {
	content := entity.Content
	if len(content) > contentWindow {
		// Cut on a rune boundary so the prompt stays valid UTF-8.
		cut := contentWindow
		for cut > 0 && !utf8.RuneStart(content[cut]) {
			cut--
		}
		content = content[:cut]
	}

	user := fmt.Sprintf("Research query: %s\n\nDocument (%s):\n%s", s.RefinedQuery, entity.URL, content)
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: extractSystemPrompt},
		{Role: llm.RoleUser, Content: user},
	}
	opts := llm.Options{Temperature: 0.1, MaxTokens: 1500}

	out, err := deps.Router.Complete(ctx, model, s.Privacy, msgs, opts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		// One retry for transient backend trouble, then drop.
		out, err = deps.Router.Complete(ctx, model, s.Privacy, msgs, opts)
		if err != nil {
			return nil, llm.EstimateTokens(user), fmt.Errorf("extraction failed twice: %w", err)
		}
	}
	used := llm.EstimateTokens(user) + llm.EstimateTokens(out)

	parsed, err := parseFactArray(out)
	if err != nil {
		return nil, used, err
	}

	facts := make([]types.Fact, 0, len(parsed))
	for _, p := range parsed {
		statement := strings.TrimSpace(p.Statement)
		if statement == "" {
			continue
		}
		facts = append(facts, types.Fact{
			Statement:   statement,
			Source:      entity.URL,
			Confidence:  clamp(p.Confidence, 0, 1),
			ExtractedBy: "llm",
		})
	}
	return facts, used, nil
}

type rawFact struct {
	Statement  string  `json:"statement"`
	Confidence float64 `json:"confidence"`
}

// parseFactArray parses the model reply tolerantly: code fences are
// stripped and the outermost JSON array is located before decoding.
func parseFactArray(out string) ([]rawFact, error) {
	cleaned := stripCodeFences(out)

	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in reply")
	}

	var facts []rawFact
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &facts); err != nil {
		return nil, fmt.Errorf("invalid fact JSON: %w", err)
	}
	return facts, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
