// Package types defines the research data model shared across the pipeline:
// sessions, entities, facts, reports and the enumerations that drive the
// orchestrator state machine. Plain structs with JSON tags; behavior lives
// in the packages that own the lifecycle.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Phase is a pipeline state machine phase.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseStarting         Phase = "starting"
	PhaseClarify          Phase = "clarify"
	PhaseAwaitingApproval Phase = "awaiting_approval"
	PhasePlan             Phase = "plan"
	PhaseCollect          Phase = "collect"
	PhaseProcess          Phase = "process"
	PhaseAnalyze          Phase = "analyze"
	PhaseVerify           Phase = "verify"
	PhaseEvaluate         Phase = "evaluate"
	PhaseSynthesize       Phase = "synthesize"
	PhaseExport           Phase = "export"
	PhaseComplete         Phase = "complete"
	PhaseFailed           Phase = "failed"
)

// Terminal reports whether the phase ends a session.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// StopReason explains why a session stopped. Every completed session
// carries exactly one.
type StopReason string

const (
	StopSaturationReached StopReason = "saturation_reached"
	StopMaxCycles         StopReason = "max_cycles"
	StopCancelled         StopReason = "cancelled"
	StopNoProgress        StopReason = "no_progress"
	StopFatalError        StopReason = "fatal_error"
)

// PrivacyMode selects whether remote LLM calls are permitted.
type PrivacyMode string

const (
	PrivacyLocalOnly    PrivacyMode = "local-only"
	PrivacyCloudAllowed PrivacyMode = "cloud-allowed"
)

// Domain is a detected research domain.
type Domain string

const (
	DomainMedical       Domain = "medical"
	DomainRegulatory    Domain = "regulatory"
	DomainAcademic      Domain = "academic"
	DomainCompetitive   Domain = "competitive_intelligence"
	DomainGeneral       Domain = "general"
)

// AllDomains lists every recognized domain, general last.
func AllDomains() []Domain {
	return []Domain{DomainMedical, DomainRegulatory, DomainAcademic, DomainCompetitive, DomainGeneral}
}

// Entity is a retrieved source result, unique by normalized URL within a
// session. The URL is always in normalized form (see NormalizeURL).
type Entity struct {
	URL         string            `json:"url"`
	Title       string            `json:"title"`
	Snippet     string            `json:"snippet,omitempty"`
	Content     string            `json:"content,omitempty"`
	Provider    string            `json:"provider"`
	RetrievedAt time.Time         `json:"retrieved_at"`
	Score       float64           `json:"score,omitempty"`
	PublishedAt string            `json:"published_at,omitempty"`
	Extensions  map[string]string `json:"extensions,omitempty"` // opaque per-provider passthrough
}

// Host returns the lowercased host of the entity URL, empty if unparsable.
func (e Entity) Host() string {
	return HostOf(e.URL)
}

// Fact is an atomic claim extracted from an Entity.
type Fact struct {
	Statement         string   `json:"statement"`
	Source            string   `json:"source"` // normalized entity URL
	Confidence        float64  `json:"confidence"`
	ExtractedBy       string   `json:"extracted_by"`
	SupportingSources []string `json:"supporting_sources,omitempty"`
	Agreement         float64  `json:"agreement,omitempty"`
	Contradicted      bool     `json:"contradicted,omitempty"`
	Verified          bool     `json:"verified,omitempty"`
}

// Hash returns the dedup key: sha256 of the lowercased, trimmed statement.
func (f Fact) Hash() string {
	return StatementHash(f.Statement)
}

// StatementHash computes the session-wide fact dedup key.
func StatementHash(statement string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(statement))))
	return hex.EncodeToString(sum[:])
}

// FactGroup is a set of Jaccard-similar facts from one or more sources.
// Members holds indexes into the session fact slice.
type FactGroup struct {
	Members   []int    `json:"members"`
	Sources   []string `json:"sources"`
	Agreement float64  `json:"agreement"`
}

// Contradiction records a conflict between two facts from distinct sources.
type Contradiction struct {
	FactA  int    `json:"fact_a"` // index into session facts
	FactB  int    `json:"fact_b"`
	Kind   string `json:"kind"` // year, numeric, boolean
	ValueA string `json:"value_a"`
	ValueB string `json:"value_b"`
}

// SaturationMetrics captures per-cycle information gain. Overall is in [0,1];
// higher means additional cycles yield diminishing returns.
type SaturationMetrics struct {
	NewEntityRatio float64 `json:"new_entity_ratio"`
	NewFactRatio   float64 `json:"new_fact_ratio"`
	CrossAgreement float64 `json:"cross_agreement"`
	Overall        float64 `json:"overall"`
}

// ResearchPlan is produced by the Plan node and consumed by Collect.
type ResearchPlan struct {
	Providers           []string `json:"providers"`
	SourcesPerProvider  int      `json:"sources_per_provider"`
	SaturationThreshold float64  `json:"saturation_threshold"`
	MinCycles           int      `json:"min_cycles"`
	MaxCycles           int      `json:"max_cycles"`
	PriorQueryTerms     []string `json:"prior_query_terms,omitempty"`
}

// Finding is a report entry derived from a fact.
type Finding struct {
	Statement         string   `json:"statement"`
	Confidence        float64  `json:"confidence"`
	Source            string   `json:"source"`
	SupportingSources []string `json:"supporting_sources"`
}

// SourceRef is a report source entry.
type SourceRef struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Type  string `json:"type"` // provider name
}

// Methodology documents how the report was produced.
type Methodology struct {
	SourcesQueried []string          `json:"sources_queried"`
	EntitiesFound  int               `json:"entities_found"`
	FactsExtracted int               `json:"facts_extracted"`
	Saturation     SaturationMetrics `json:"saturation_metrics"`
	StopReason     StopReason        `json:"stop_reason"`
}

// Report is the final structured output of a session.
type Report struct {
	SessionID           string      `json:"session_id"`
	Query               string      `json:"query"`
	Domain              Domain      `json:"domain"`
	Summary             string      `json:"summary"`
	Findings            []Finding   `json:"findings"`
	Sources             []SourceRef `json:"sources"`
	Methodology         Methodology `json:"methodology"`
	Limitations         []string    `json:"limitations"`
	ContradictionsFound int         `json:"contradictions_found"`
	OverallConfidence   float64     `json:"overall_confidence"`
	GeneratedAt         time.Time   `json:"generated_at"`
}

// SessionStats are degradable-error counters surfaced in status responses.
type SessionStats struct {
	SourcesQueried   []string `json:"sources_queried"`
	ProvidersSkipped int      `json:"providers_skipped"`
	FetchFailures    int      `json:"fetch_failures"`
	ParseFailures    int      `json:"parse_failures"`
	LLMTokensUsed    int      `json:"llm_tokens_used"`
}

// Session is the unit of research work. Created by the orchestrator,
// mutated only by the active pipeline node, archived on terminal phase.
type Session struct {
	ID            string      `json:"id"`
	Query         string      `json:"query"`
	RefinedQuery  string      `json:"refined_query"`
	Domain        Domain      `json:"domain"`
	Privacy       PrivacyMode `json:"privacy_mode"`
	Phase         Phase       `json:"phase"`
	Cycle         int         `json:"cycle"`
	StopReason    StopReason  `json:"stop_reason,omitempty"`
	Clarification string      `json:"clarification,omitempty"`
	Error         string      `json:"error,omitempty"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Plan       ResearchPlan      `json:"plan"`
	Saturation SaturationMetrics `json:"saturation_metrics"`
	Stats      SessionStats      `json:"stats"`

	Entities       []Entity        `json:"entities"`
	Facts          []Fact          `json:"facts"`
	Groups         []FactGroup     `json:"groups,omitempty"`
	Contradictions []Contradiction `json:"contradictions,omitempty"`
	GapTerms       []string        `json:"gap_terms,omitempty"`

	// Per-cycle deltas, reset by Evaluate.
	NewEntitiesThisCycle int `json:"new_entities_this_cycle"`
	NewFactsThisCycle    int `json:"new_facts_this_cycle"`

	Report *Report `json:"report,omitempty"`
}

// HasEntity reports whether the normalized URL is already merged.
func (s *Session) HasEntity(normalizedURL string) bool {
	for _, e := range s.Entities {
		if e.URL == normalizedURL {
			return true
		}
	}
	return false
}

// HasFact reports whether a statement hash is already present.
func (s *Session) HasFact(hash string) bool {
	for _, f := range s.Facts {
		if f.Hash() == hash {
			return true
		}
	}
	return false
}

// EntityByURL returns the entity with the given normalized URL, or nil.
func (s *Session) EntityByURL(normalizedURL string) *Entity {
	for i := range s.Entities {
		if s.Entities[i].URL == normalizedURL {
			return &s.Entities[i]
		}
	}
	return nil
}

// Clone returns a deep copy suitable for consistent snapshots handed to
// progress observers between phase transitions.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Entities = append([]Entity(nil), s.Entities...)
	cp.Facts = make([]Fact, len(s.Facts))
	for i, f := range s.Facts {
		f.SupportingSources = append([]string(nil), f.SupportingSources...)
		cp.Facts[i] = f
	}
	cp.Groups = make([]FactGroup, len(s.Groups))
	for i, g := range s.Groups {
		g.Members = append([]int(nil), g.Members...)
		g.Sources = append([]string(nil), g.Sources...)
		cp.Groups[i] = g
	}
	cp.Contradictions = append([]Contradiction(nil), s.Contradictions...)
	cp.GapTerms = append([]string(nil), s.GapTerms...)
	cp.Stats.SourcesQueried = append([]string(nil), s.Stats.SourcesQueried...)
	cp.Plan.Providers = append([]string(nil), s.Plan.Providers...)
	cp.Plan.PriorQueryTerms = append([]string(nil), s.Plan.PriorQueryTerms...)
	if s.Report != nil {
		r := *s.Report
		r.Findings = append([]Finding(nil), s.Report.Findings...)
		r.Sources = append([]SourceRef(nil), s.Report.Sources...)
		r.Limitations = append([]string(nil), s.Report.Limitations...)
		r.Methodology.SourcesQueried = append([]string(nil), s.Report.Methodology.SourcesQueried...)
		cp.Report = &r
	}
	return &cp
}
