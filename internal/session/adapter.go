package session

import (
	"deepresearch/internal/pipeline"
	"deepresearch/internal/provider"
)

// registrySource adapts the provider registry to the pipeline's
// ProviderSource interface.
type registrySource struct {
	reg *provider.Registry
}

// NewRegistrySource wraps a provider registry for pipeline use.
func NewRegistrySource(reg *provider.Registry) pipeline.ProviderSource {
	return registrySource{reg: reg}
}

func (r registrySource) Ordered(priority []string, effectiveness map[string]float64) []pipeline.SearchProvider {
	guards := r.reg.Ordered(priority, effectiveness)
	out := make([]pipeline.SearchProvider, 0, len(guards))
	for _, g := range guards {
		out = append(out, g)
	}
	return out
}
