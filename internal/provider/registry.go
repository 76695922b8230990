package provider

import (
	"sort"

	"deepresearch/internal/logging"
	"deepresearch/internal/resilience"
)

// Registry holds the guarded providers and orders them for a domain.
type Registry struct {
	guards   map[string]*Guard
	breakers *resilience.BreakerSet
}

// NewRegistry builds a registry over a shared breaker set.
func NewRegistry(breakers *resilience.BreakerSet) *Registry {
	return &Registry{guards: make(map[string]*Guard), breakers: breakers}
}

// Register adds a guarded provider. Later registrations with the same
// name replace earlier ones.
func (r *Registry) Register(g *Guard) {
	r.guards[g.Name()] = g
}

// Get returns the named guard, or nil.
func (r *Registry) Get(name string) *Guard {
	return r.guards[name]
}

// Names returns all registered provider names.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.guards))
	for name := range r.guards {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Available returns the names of providers that are configured and whose
// circuits admit calls.
func (r *Registry) Available() []string {
	var out []string
	for _, name := range r.Names() {
		if r.guards[name].Usable() {
			out = append(out, name)
		}
	}
	return out
}

// Ordered returns configured providers sorted by domain priority first,
// then persisted effectiveness, with open circuits pushed to the back.
// Providers absent from the priority list sort after listed ones.
func (r *Registry) Ordered(priority []string, effectiveness map[string]float64) []*Guard {
	rank := make(map[string]int, len(priority))
	for i, name := range priority {
		rank[name] = i
	}

	var out []*Guard
	for _, g := range r.guards {
		if g.Available() {
			out = append(out, g)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		gi, gj := out[i], out[j]
		oi, oj := circuitOpen(r.breakers, gi.Name()), circuitOpen(r.breakers, gj.Name())
		if oi != oj {
			return !oi
		}
		ri, iok := rank[gi.Name()]
		rj, jok := rank[gj.Name()]
		if iok != jok {
			return iok
		}
		if iok && ri != rj {
			return ri < rj
		}
		ei, ej := effectiveness[gi.Name()], effectiveness[gj.Name()]
		if ei != ej {
			return ei > ej
		}
		return gi.Name() < gj.Name()
	})

	names := make([]string, len(out))
	for i, g := range out {
		names[i] = g.Name()
	}
	logging.ProviderDebug("provider order: %v", names)
	return out
}

func circuitOpen(breakers *resilience.BreakerSet, name string) bool {
	return !breakers.CanExecute(name)
}
