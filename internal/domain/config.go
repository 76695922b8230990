// Package domain detects the research domain of a query and loads the
// domain's playbook: provider priorities, cycle bounds, saturation
// parameters and verification rules, overlaid with learned overrides.
package domain

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"deepresearch/internal/logging"
	"deepresearch/internal/types"
)

// SaturationWeights are the coefficients of the saturation score.
type SaturationWeights struct {
	NewEntityRate float64 `json:"new_entity_rate"`
	NewFactRate   float64 `json:"new_fact_rate"`
	CrossAgree    float64 `json:"cross_agreement"`
}

// Config is one domain's playbook after merging overrides.
type Config struct {
	Domain              types.Domain      `json:"domain"`
	Providers           []string          `json:"providers"`
	SourcesPerProvider  int               `json:"sources_per_provider"`
	MinCycles           int               `json:"min_cycles"`
	MaxCycles           int               `json:"max_cycles"`
	SaturationThreshold float64           `json:"saturation_threshold"`
	Saturation          SaturationWeights `json:"saturation_weights"`
	VerifyFacts         bool              `json:"verify_facts"`
	MandatoryInclusions []string          `json:"mandatory_inclusions,omitempty"`
	EnrichTopK          int               `json:"enrich_top_k"`
}

func defaultWeights() SaturationWeights {
	return SaturationWeights{NewEntityRate: 0.5, NewFactRate: 0.3, CrossAgree: 0.2}
}

// builtin returns the shipped playbook for a domain. Playbook files and
// persisted overrides overlay these.
func builtin(d types.Domain) Config {
	base := Config{
		Domain:              d,
		Providers:           []string{"tavily", "brave", "exa"},
		SourcesPerProvider:  5,
		MinCycles:           1,
		MaxCycles:           5,
		SaturationThreshold: 0.85,
		Saturation:          defaultWeights(),
		EnrichTopK:          8,
	}
	switch d {
	case types.DomainMedical:
		base.Providers = []string{"pubmed", "semanticscholar", "unpaywall", "tavily"}
		base.MinCycles = 2
		base.VerifyFacts = true
	case types.DomainRegulatory:
		base.Providers = []string{"tavily", "brave", "crawler"}
		base.MinCycles = 2
		base.VerifyFacts = true
		base.MandatoryInclusions = []string{"official regulator publications"}
	case types.DomainAcademic:
		base.Providers = []string{"semanticscholar", "arxiv", "unpaywall", "exa", "tavily"}
		base.MinCycles = 2
	case types.DomainCompetitive:
		base.Providers = []string{"exa", "tavily", "brave", "crawler"}
		base.SaturationThreshold = 0.75
	}
	return base
}

// WritePlaybooks seeds the playbook directory with one JSON file per
// domain, skipping files that already exist so local edits survive.
func WritePlaybooks(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create playbook directory: %w", err)
	}
	for _, d := range types.AllDomains() {
		path := filepath.Join(dir, string(d)+".json")
		if _, err := os.Stat(path); err == nil {
			continue
		}
		data, err := json.MarshalIndent(builtin(d), "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("failed to write playbook %s: %w", path, err)
		}
		logging.Domain("seeded playbook %s", path)
	}
	return nil
}

// Load reads the domain's playbook from dir and overlays the persisted
// overrides, shallow, last-write-wins per field. A missing or broken
// playbook file falls back to the builtin.
func Load(dir string, d types.Domain, overrides map[string]json.RawMessage) (Config, error) {
	cfg := builtin(d)

	path := filepath.Join(dir, string(d)+".json")
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			logging.DomainWarn("playbook %s is not valid JSON, using builtin: %v", path, err)
			cfg = builtin(d)
		}
	}

	if len(overrides) > 0 {
		merged, err := applyOverrides(cfg, overrides)
		if err != nil {
			return cfg, err
		}
		cfg = merged
	}

	cfg.Domain = d
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyOverrides folds field-level raw JSON overrides into the config by
// round-tripping through a JSON object. Unknown fields are ignored.
func applyOverrides(cfg Config, overrides map[string]json.RawMessage) (Config, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg, err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return cfg, err
	}
	for field, value := range overrides {
		obj[field] = value
	}
	data, err = json.Marshal(obj)
	if err != nil {
		return cfg, err
	}
	var out Config
	if err := json.Unmarshal(data, &out); err != nil {
		return cfg, fmt.Errorf("override produced invalid config: %w", err)
	}
	return out, nil
}

func (c *Config) validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("domain %s has no providers configured", c.Domain)
	}
	if c.MinCycles < 1 {
		c.MinCycles = 1
	}
	if c.MaxCycles < c.MinCycles {
		c.MaxCycles = c.MinCycles
	}
	if c.SaturationThreshold <= 0 || c.SaturationThreshold > 1 {
		c.SaturationThreshold = 0.85
	}
	if c.SourcesPerProvider <= 0 {
		c.SourcesPerProvider = 5
	}
	if c.EnrichTopK <= 0 {
		c.EnrichTopK = 8
	}
	if c.Saturation == (SaturationWeights{}) {
		c.Saturation = defaultWeights()
	}
	return nil
}
