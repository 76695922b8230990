// Package health probes the orchestrator's dependencies and reports a
// feature matrix: which capabilities are enabled, degraded or disabled
// given the current configuration and what is actually reachable.
package health

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"deepresearch/internal/config"
	"deepresearch/internal/logging"
	"deepresearch/internal/types"
)

// Status is the outcome of one probe or of the whole report.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

// FeatureState says whether a capability is usable right now.
type FeatureState string

const (
	FeatureEnabled  FeatureState = "enabled"
	FeatureDegraded FeatureState = "degraded"
	FeatureDisabled FeatureState = "disabled"
)

// Check is one probe result.
type Check struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Feature is one capability row of the matrix.
type Feature struct {
	Name   string       `json:"name"`
	State  FeatureState `json:"state"`
	Reason string       `json:"reason,omitempty"`
}

// Report aggregates probes and features. Status is failed only when a
// hard requirement is missing; missing credentials merely degrade.
type Report struct {
	Status    Status    `json:"status"`
	Checks    []Check   `json:"checks"`
	Features  []Feature `json:"features"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker runs the probes against one configuration.
type Checker struct {
	cfg    *config.Config
	client *http.Client
}

// NewChecker builds a checker with a short probe timeout.
func NewChecker(cfg *config.Config) *Checker {
	return &Checker{
		cfg:    cfg,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Startup runs the full report and enforces the hard gate: no usable LLM
// backend or an unwritable data directory fails startup. Everything else
// degrades.
func (c *Checker) Startup(ctx context.Context) (*Report, error) {
	report := c.Snapshot(ctx)
	if report.Status == StatusFailed {
		for _, chk := range report.Checks {
			if chk.Status == StatusFailed {
				return report, fmt.Errorf("startup check %s failed: %s", chk.Name, chk.Detail)
			}
		}
		return report, fmt.Errorf("startup checks failed")
	}
	logging.Health("startup checks passed (%s)", report.Status)
	return report, nil
}

// Snapshot runs every probe and assembles the feature matrix.
func (c *Checker) Snapshot(ctx context.Context) *Report {
	report := &Report{Status: StatusOK, CheckedAt: time.Now().UTC()}

	ollamaOK := c.probeOllama(ctx, report)
	anthropicOK := c.checkAnthropicKey(report)
	c.checkDataDir(report)
	c.checkPlaybooks(report)
	c.checkProviderCredentials(report)

	if !ollamaOK && !anthropicOK {
		report.add(Check{
			Name:   "llm_backend",
			Status: StatusFailed,
			Detail: "no LLM backend: Ollama is unreachable and no Anthropic API key is set",
		})
	} else {
		detail := "ollama"
		if !ollamaOK {
			detail = "anthropic only"
		}
		report.add(Check{Name: "llm_backend", Status: StatusOK, Detail: detail})
	}

	c.buildFeatures(report, ollamaOK, anthropicOK)
	report.settle()
	return report
}

func (r *Report) add(c Check) {
	r.Checks = append(r.Checks, c)
}

func (r *Report) feature(name string, state FeatureState, reason string) {
	r.Features = append(r.Features, Feature{Name: name, State: state, Reason: reason})
}

// settle derives the overall status from the individual checks.
func (r *Report) settle() {
	for _, c := range r.Checks {
		switch c.Status {
		case StatusFailed:
			r.Status = StatusFailed
			return
		case StatusDegraded:
			r.Status = StatusDegraded
		}
	}
}

// probeOllama asks the local backend for its model list.
func (c *Checker) probeOllama(ctx context.Context, report *Report) bool {
	url := strings.TrimSuffix(c.cfg.LLM.OllamaBaseURL, "/") + "/api/tags"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		report.add(Check{Name: "ollama", Status: StatusDegraded, Detail: err.Error()})
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		report.add(Check{Name: "ollama", Status: StatusDegraded, Detail: fmt.Sprintf("unreachable: %v", err)})
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		report.add(Check{Name: "ollama", Status: StatusDegraded, Detail: fmt.Sprintf("status %d", resp.StatusCode)})
		return false
	}
	report.add(Check{Name: "ollama", Status: StatusOK, Detail: c.cfg.LLM.OllamaBaseURL})
	return true
}

func (c *Checker) checkAnthropicKey(report *Report) bool {
	key := c.cfg.LLM.AnthropicAPIKey
	switch {
	case key == "":
		report.add(Check{Name: "anthropic", Status: StatusDegraded, Detail: "no API key, cloud models disabled"})
		return false
	case !strings.HasPrefix(key, "sk-ant-"):
		report.add(Check{Name: "anthropic", Status: StatusDegraded, Detail: "API key does not look like an Anthropic key"})
		return false
	}
	report.add(Check{Name: "anthropic", Status: StatusOK})
	return true
}

// checkDataDir verifies the data directory exists and is writable. This
// is a hard requirement: nothing can be persisted without it.
func (c *Checker) checkDataDir(report *Report) {
	dir := c.cfg.DataDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		report.add(Check{Name: "data_dir", Status: StatusFailed, Detail: err.Error()})
		return
	}
	probe := filepath.Join(dir, ".write_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		report.add(Check{Name: "data_dir", Status: StatusFailed, Detail: fmt.Sprintf("not writable: %v", err)})
		return
	}
	os.Remove(probe)
	report.add(Check{Name: "data_dir", Status: StatusOK, Detail: dir})
}

func (c *Checker) checkPlaybooks(report *Report) {
	dir := c.cfg.DomainConfigDir()
	missing := 0
	for _, d := range types.AllDomains() {
		if _, err := os.Stat(filepath.Join(dir, string(d)+".json")); err != nil {
			missing++
		}
	}
	if missing > 0 {
		report.add(Check{
			Name:   "playbooks",
			Status: StatusDegraded,
			Detail: fmt.Sprintf("%d playbook file(s) missing, builtins in effect", missing),
		})
		return
	}
	report.add(Check{Name: "playbooks", Status: StatusOK, Detail: dir})
}

// checkProviderCredentials validates the shape of each configured
// credential. A missing credential disables the provider; a malformed
// one is called out because it will fail at call time.
func (c *Checker) checkProviderCredentials(report *Report) {
	p := c.cfg.Providers

	if p.TavilyAPIKey != "" && !strings.HasPrefix(p.TavilyAPIKey, "tvly-") {
		report.add(Check{Name: "tavily_key", Status: StatusDegraded, Detail: "key does not look like a Tavily key"})
	}
	if p.UnpaywallEmail != "" && !strings.Contains(p.UnpaywallEmail, "@") {
		report.add(Check{Name: "unpaywall_email", Status: StatusDegraded, Detail: "contact email is not an email address"})
	}
}

// buildFeatures fills in the capability matrix.
func (c *Checker) buildFeatures(report *Report, ollamaOK, anthropicOK bool) {
	p := c.cfg.Providers

	switch {
	case ollamaOK:
		report.feature("research", FeatureEnabled, "")
	case anthropicOK:
		report.feature("research", FeatureDegraded, "local models unavailable, cloud-allowed sessions only")
	default:
		report.feature("research", FeatureDisabled, "no LLM backend")
	}

	if anthropicOK {
		report.feature("cloud_models", FeatureEnabled, "")
	} else {
		report.feature("cloud_models", FeatureDisabled, "no Anthropic API key")
	}

	if ollamaOK {
		report.feature("semantic_recall", FeatureEnabled, "")
	} else {
		report.feature("semantic_recall", FeatureDegraded, "embedding backend unreachable, hash embeddings in use")
	}

	credentialed := []struct {
		name string
		ok   bool
		why  string
	}{
		{"provider:tavily", p.TavilyAPIKey != "", "no API key"},
		{"provider:brave", p.BraveAPIKey != "", "no API key"},
		{"provider:exa", p.ExaAPIKey != "", "no API key"},
		{"provider:unpaywall", p.UnpaywallEmail != "", "no contact email"},
	}
	for _, f := range credentialed {
		if f.ok {
			report.feature(f.name, FeatureEnabled, "")
		} else {
			report.feature(f.name, FeatureDisabled, f.why)
		}
	}

	// Keyless providers are always available; a key raises the rate limit.
	report.feature("provider:pubmed", FeatureEnabled, "")
	report.feature("provider:arxiv", FeatureEnabled, "")
	report.feature("provider:crawler", FeatureEnabled, "")
	if p.SemanticScholarAPIKey != "" {
		report.feature("provider:semanticscholar", FeatureEnabled, "")
	} else {
		report.feature("provider:semanticscholar", FeatureDegraded, "keyless rate limit in effect")
	}
}
