package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "lowercases scheme and host",
			in:   "HTTPS://Example.COM/Path",
			want: "https://example.com/Path",
		},
		{
			name: "strips fragment",
			in:   "https://example.com/page#section-2",
			want: "https://example.com/page",
		},
		{
			name: "removes tracking params",
			in:   "https://example.com/a?utm_source=x&id=7&fbclid=abc",
			want: "https://example.com/a?id=7",
		},
		{
			name: "sorts query keys",
			in:   "https://example.com/a?b=2&a=1",
			want: "https://example.com/a?a=1&b=2",
		},
		{
			name: "drops bare trailing slash",
			in:   "https://example.com/",
			want: "https://example.com",
		},
		{
			name: "preserves path case",
			in:   "https://example.com/CaseSensitive/Path",
			want: "https://example.com/CaseSensitive/Path",
		},
		{
			name: "unparsable input returned trimmed",
			in:   "  not a url  ",
			want: "not a url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeURL(tt.in)
			if got != tt.want {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
			// Canonicality invariant: normalization is idempotent.
			if again := NormalizeURL(got); again != got {
				t.Errorf("NormalizeURL not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestStatementHashDedup(t *testing.T) {
	a := Fact{Statement: "  The Company Was Founded In 2010 "}
	b := Fact{Statement: "the company was founded in 2010"}
	if a.Hash() != b.Hash() {
		t.Error("case and whitespace variants should hash identically")
	}
	c := Fact{Statement: "the company was founded in 2015"}
	if a.Hash() == c.Hash() {
		t.Error("distinct statements must not collide")
	}
}

func TestReportJSONRoundTrip(t *testing.T) {
	r := &Report{
		SessionID: "s-1",
		Query:     "effects of climate change on wheat yields",
		Domain:    DomainAcademic,
		Summary:   "summary text",
		Findings: []Finding{
			{Statement: "yields decline", Confidence: 0.9, Source: "https://example.com/a", SupportingSources: []string{"https://example.com/b"}},
		},
		Sources: []SourceRef{{URL: "https://example.com/a", Title: "A", Type: "tavily"}},
		Methodology: Methodology{
			SourcesQueried: []string{"tavily", "semanticscholar"},
			EntitiesFound:  12,
			FactsExtracted: 30,
			Saturation:     SaturationMetrics{NewEntityRatio: 0.1, NewFactRatio: 0.05, CrossAgreement: 0.6, Overall: 0.9},
			StopReason:     StopSaturationReached,
		},
		Limitations:         []string{"limited preprint coverage"},
		ContradictionsFound: 1,
		OverallConfidence:   0.72,
		GeneratedAt:         time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	first, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Report
	if err := json.Unmarshal(first, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	second, err := json.Marshal(&decoded)
	if err != nil {
		t.Fatalf("remarshal: %v", err)
	}
	if string(first) != string(second) {
		t.Errorf("encode/decode/encode not byte-identical:\n%s\n%s", first, second)
	}
}

func TestSessionCloneIsDeep(t *testing.T) {
	s := &Session{
		ID:       "s-1",
		Entities: []Entity{{URL: "https://example.com/a"}},
		Facts:    []Fact{{Statement: "x", SupportingSources: []string{"https://example.com/b"}}},
		Groups:   []FactGroup{{Members: []int{0}, Sources: []string{"https://example.com/a"}}},
	}
	cp := s.Clone()
	cp.Entities[0].URL = "https://example.com/changed"
	cp.Facts[0].SupportingSources[0] = "changed"
	cp.Groups[0].Members[0] = 99

	if s.Entities[0].URL != "https://example.com/a" {
		t.Error("clone shares entity backing array")
	}
	if s.Facts[0].SupportingSources[0] != "https://example.com/b" {
		t.Error("clone shares supporting source slice")
	}
	if s.Groups[0].Members[0] != 0 {
		t.Error("clone shares group members slice")
	}
}

func TestPhaseTerminal(t *testing.T) {
	for _, p := range []Phase{PhaseComplete, PhaseFailed} {
		if !p.Terminal() {
			t.Errorf("%s should be terminal", p)
		}
	}
	for _, p := range []Phase{PhaseIdle, PhaseCollect, PhaseSynthesize, PhaseExport} {
		if p.Terminal() {
			t.Errorf("%s should not be terminal", p)
		}
	}
}
