package provider

import (
	"deepresearch/internal/config"
	"deepresearch/internal/logging"
	"deepresearch/internal/resilience"
)

// BuildRegistry wires every known provider behind the shared resilience
// stack. Unconfigured providers register anyway; they report unavailable
// and the health check lists them as disabled.
func BuildRegistry(cfg config.ProvidersConfig, loader PageLoader, breakers *resilience.BreakerSet, limiter *resilience.Limiter, recorder FailureRecorder) *Registry {
	reg := NewRegistry(breakers)

	sources := []Provider{
		NewTavily(cfg.TavilyAPIKey),
		NewBrave(cfg.BraveAPIKey),
		NewExa(cfg.ExaAPIKey),
		NewSemanticScholar(cfg.SemanticScholarAPIKey),
		NewPubMed(),
		NewArxiv(),
		NewUnpaywall(cfg.UnpaywallEmail),
		NewCrawler(loader),
	}
	for _, p := range sources {
		reg.Register(NewGuard(p, breakers, limiter, recorder))
	}

	logging.Provider("registry built: %d providers, %d available", len(sources), len(reg.Available()))
	return reg
}
