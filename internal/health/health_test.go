package health

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"deepresearch/internal/config"
	"deepresearch/internal/domain"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.LLM.OllamaBaseURL = "http://127.0.0.1:1" // nothing listens here
	return cfg
}

func fakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		w.Write([]byte(`{"models":[{"name":"llama3.2"}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func checkByName(r *Report, name string) (Check, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return Check{}, false
}

func featureByName(r *Report, name string) (Feature, bool) {
	for _, f := range r.Features {
		if f.Name == name {
			return f, true
		}
	}
	return Feature{}, false
}

func TestStartupFailsWithoutAnyLLMBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.AnthropicAPIKey = ""

	report, err := NewChecker(cfg).Startup(t.Context())
	require.Error(t, err)
	require.Contains(t, err.Error(), "llm_backend")
	require.Equal(t, StatusFailed, report.Status)

	f, ok := featureByName(report, "research")
	require.True(t, ok)
	require.Equal(t, FeatureDisabled, f.State)
}

func TestStartupPassesWithOllamaOnly(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.OllamaBaseURL = fakeOllama(t).URL

	report, err := NewChecker(cfg).Startup(t.Context())
	require.NoError(t, err)
	require.NotEqual(t, StatusFailed, report.Status)

	f, _ := featureByName(report, "research")
	require.Equal(t, FeatureEnabled, f.State)
	f, _ = featureByName(report, "cloud_models")
	require.Equal(t, FeatureDisabled, f.State)
	f, _ = featureByName(report, "semantic_recall")
	require.Equal(t, FeatureEnabled, f.State)
}

func TestStartupPassesWithAnthropicKeyOnly(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.AnthropicAPIKey = "sk-ant-test-key-0123456789"

	report, err := NewChecker(cfg).Startup(t.Context())
	require.NoError(t, err)

	f, _ := featureByName(report, "research")
	require.Equal(t, FeatureDegraded, f.State)
	f, _ = featureByName(report, "cloud_models")
	require.Equal(t, FeatureEnabled, f.State)
	f, _ = featureByName(report, "semantic_recall")
	require.Equal(t, FeatureDegraded, f.State)
}

func TestMissingPlaybooksDegradeAndSeededPlaybooksPass(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.OllamaBaseURL = fakeOllama(t).URL

	report := NewChecker(cfg).Snapshot(t.Context())
	c, ok := checkByName(report, "playbooks")
	require.True(t, ok)
	require.Equal(t, StatusDegraded, c.Status)

	require.NoError(t, domain.WritePlaybooks(cfg.DomainConfigDir()))
	report = NewChecker(cfg).Snapshot(t.Context())
	c, _ = checkByName(report, "playbooks")
	require.Equal(t, StatusOK, c.Status)
}

func TestMalformedCredentialsAreCalledOut(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.OllamaBaseURL = fakeOllama(t).URL
	cfg.Providers.TavilyAPIKey = "not-a-tavily-key"
	cfg.Providers.UnpaywallEmail = "not-an-email"
	cfg.LLM.AnthropicAPIKey = "wrong-prefix"

	report := NewChecker(cfg).Snapshot(t.Context())
	require.Equal(t, StatusDegraded, report.Status)

	c, ok := checkByName(report, "tavily_key")
	require.True(t, ok)
	require.Equal(t, StatusDegraded, c.Status)

	c, ok = checkByName(report, "unpaywall_email")
	require.True(t, ok)
	require.Equal(t, StatusDegraded, c.Status)

	c, ok = checkByName(report, "anthropic")
	require.True(t, ok)
	require.Equal(t, StatusDegraded, c.Status)
}

func TestProviderFeaturesFollowCredentials(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.OllamaBaseURL = fakeOllama(t).URL
	cfg.Providers.TavilyAPIKey = "tvly-abc123"

	report := NewChecker(cfg).Snapshot(t.Context())

	f, _ := featureByName(report, "provider:tavily")
	require.Equal(t, FeatureEnabled, f.State)
	f, _ = featureByName(report, "provider:brave")
	require.Equal(t, FeatureDisabled, f.State)
	f, _ = featureByName(report, "provider:pubmed")
	require.Equal(t, FeatureEnabled, f.State)
	f, _ = featureByName(report, "provider:semanticscholar")
	require.Equal(t, FeatureDegraded, f.State)
}
