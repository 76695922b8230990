// Package config holds environment-driven configuration for the research
// orchestrator. Load reads the recognized environment variables once at
// startup; everything downstream receives the struct by reference.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config is the root configuration.
type Config struct {
	DataDir string `json:"data_dir"`

	Server    ServerConfig    `json:"server"`
	LLM       LLMConfig       `json:"llm"`
	Providers ProvidersConfig `json:"providers"`
	Fetcher   FetcherConfig   `json:"fetcher"`
	Limits    LimitsConfig    `json:"limits"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host  string `json:"host"`
	Port  int    `json:"port"`
	Debug bool   `json:"debug"`
}

// LLMConfig configures the model router backends.
type LLMConfig struct {
	AnthropicAPIKey   string `json:"anthropic_api_key"`
	OllamaBaseURL     string `json:"ollama_base_url"`
	OllamaNumParallel int    `json:"ollama_num_parallel"`

	LocalFastModel     string `json:"local_fast_model"`
	LocalPowerfulModel string `json:"local_powerful_model"`
	CloudBestModel     string `json:"cloud_best_model"`

	EmbeddingModel string `json:"embedding_model"`

	LocalTimeout  time.Duration `json:"local_timeout"`
	RemoteTimeout time.Duration `json:"remote_timeout"`
}

// ProvidersConfig holds search provider credentials. An empty credential
// disables the provider; this degrades features but never fails startup.
type ProvidersConfig struct {
	TavilyAPIKey          string `json:"tavily_api_key"`
	BraveAPIKey           string `json:"brave_api_key"`
	ExaAPIKey             string `json:"exa_api_key"`
	SemanticScholarAPIKey string `json:"semantic_scholar_api_key"`
	UnpaywallEmail        string `json:"unpaywall_email"`

	CallTimeout time.Duration `json:"call_timeout"`
	Parallelism int           `json:"parallelism"`
}

// FetcherConfig configures the headless content fetcher.
type FetcherConfig struct {
	Headless       bool          `json:"headless"`
	LoadTimeout    time.Duration `json:"load_timeout"`
	IdleTimeout    time.Duration `json:"idle_timeout"`
	MinDelay       time.Duration `json:"min_delay"`
	MaxDelay       time.Duration `json:"max_delay"`
	ViewportWidth  int           `json:"viewport_width"`
	ViewportHeight int           `json:"viewport_height"`
}

// LimitsConfig holds per-session budgets. Budget exhaustion is a normal
// stop condition, not an error.
type LimitsConfig struct {
	MaxCycles       int           `json:"max_cycles"`
	MaxEntities     int           `json:"max_entities"`
	MaxFetchSeconds int           `json:"max_fetch_seconds"`
	MaxLLMTokens    int           `json:"max_llm_tokens"`
	EnrichTopK      int           `json:"enrich_top_k"`
	SessionTimeout  time.Duration `json:"session_timeout"`
}

// Default returns the built-in defaults, before environment overrides.
func Default() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8714,
		},
		LLM: LLMConfig{
			OllamaBaseURL:      "http://localhost:11434",
			OllamaNumParallel:  2,
			LocalFastModel:     "llama3.2",
			LocalPowerfulModel: "qwen2.5:14b",
			CloudBestModel:     "claude-sonnet-4-5",
			EmbeddingModel:     "embeddinggemma",
			LocalTimeout:       60 * time.Second,
			RemoteTimeout:      120 * time.Second,
		},
		Providers: ProvidersConfig{
			CallTimeout: 30 * time.Second,
			Parallelism: 4,
		},
		Fetcher: FetcherConfig{
			Headless:       true,
			LoadTimeout:    30 * time.Second,
			IdleTimeout:    10 * time.Second,
			MinDelay:       500 * time.Millisecond,
			MaxDelay:       2 * time.Second,
			ViewportWidth:  1920,
			ViewportHeight: 1080,
		},
		Limits: LimitsConfig{
			MaxCycles:       5,
			MaxEntities:     100,
			MaxFetchSeconds: 300,
			MaxLLMTokens:    200_000,
			EnrichTopK:      8,
			SessionTimeout:  20 * time.Minute,
		},
	}
}

// Load builds the configuration from the environment.
func Load() (*Config, error) {
	cfg := Default()

	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Server.Port = p
	}
	if v := os.Getenv("DEBUG"); v != "" {
		cfg.Server.Debug = v == "1" || v == "true" || v == "yes"
	}

	cfg.LLM.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.LLM.OllamaBaseURL = v
	}
	if v := os.Getenv("OLLAMA_NUM_PARALLEL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid OLLAMA_NUM_PARALLEL %q: %w", v, err)
		}
		cfg.LLM.OllamaNumParallel = n
	}

	cfg.Providers.TavilyAPIKey = os.Getenv("TAVILY_API_KEY")
	cfg.Providers.BraveAPIKey = os.Getenv("BRAVE_API_KEY")
	cfg.Providers.ExaAPIKey = os.Getenv("EXA_API_KEY")
	cfg.Providers.SemanticScholarAPIKey = os.Getenv("SEMANTIC_SCHOLAR_API_KEY")
	cfg.Providers.UnpaywallEmail = os.Getenv("UNPAYWALL_EMAIL")

	return cfg, nil
}

// DatabasePath returns the structured-store database file path.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "research.db")
}

// DomainConfigDir returns the playbook directory.
func (c *Config) DomainConfigDir() string {
	return filepath.Join(c.DataDir, "domain_configs")
}

// Masked returns the configuration as a string map with secrets masked,
// for the /health/config endpoint.
func (c *Config) Masked() map[string]string {
	return map[string]string{
		"data_dir":                 c.DataDir,
		"host":                     c.Server.Host,
		"port":                     strconv.Itoa(c.Server.Port),
		"debug":                    strconv.FormatBool(c.Server.Debug),
		"anthropic_api_key":        mask(c.LLM.AnthropicAPIKey),
		"ollama_base_url":          c.LLM.OllamaBaseURL,
		"ollama_num_parallel":      strconv.Itoa(c.LLM.OllamaNumParallel),
		"tavily_api_key":           mask(c.Providers.TavilyAPIKey),
		"brave_api_key":            mask(c.Providers.BraveAPIKey),
		"exa_api_key":              mask(c.Providers.ExaAPIKey),
		"semantic_scholar_api_key": mask(c.Providers.SemanticScholarAPIKey),
		"unpaywall_email":          maskEmail(c.Providers.UnpaywallEmail),
	}
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****" + secret[len(secret)-2:]
}

func maskEmail(email string) string {
	if email == "" {
		return ""
	}
	for i, r := range email {
		if r == '@' {
			if i <= 1 {
				return "*" + email[i:]
			}
			return email[:1] + "***" + email[i:]
		}
	}
	return "****"
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".deepresearch"
	}
	return filepath.Join(home, ".deepresearch")
}
