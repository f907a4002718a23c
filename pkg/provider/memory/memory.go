// Package memory is a Provider that keeps every graph in RAM.
//
// Use Cases:
//   - Unit testing (no disk I/O, fast cleanup)
//   - Scratch graphs that do not need to survive a restart
//   - A high-weight overlay in front of a persistent provider
//
// Example:
//
//	p := memory.New(memory.WithName("scratch"), memory.WithWeight(20))
//	g, _ := p.Create("http://example.org/g")
//	g.Add(t)
package memory

import (
	"sync"

	"github.com/orneryd/graphfed/pkg/graph"
	"github.com/orneryd/graphfed/pkg/provider"
	"github.com/orneryd/graphfed/pkg/rdf"
)

// DefaultWeight is the weight of a provider created without WithWeight.
const DefaultWeight = 10

// Provider is an in-memory WeightedProvider.
type Provider struct {
	name   string
	weight int

	mu          sync.RWMutex
	mutable     map[rdf.IRI]*graph.MemoryGraph
	immutable   map[rdf.IRI]*graph.FrozenGraph
	undeletable map[rdf.IRI]struct{}
}

var _ provider.WeightedProvider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithName sets the provider name. The default is "memory".
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithWeight sets the routing weight. Non-positive weights are ignored.
func WithWeight(w int) Option {
	return func(p *Provider) {
		if w > 0 {
			p.weight = w
		}
	}
}

// WithUndeletable marks names the provider refuses to delete.
func WithUndeletable(names ...rdf.IRI) Option {
	return func(p *Provider) {
		for _, n := range names {
			p.undeletable[n] = struct{}{}
		}
	}
}

// New creates an empty provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		name:        "memory",
		weight:      DefaultWeight,
		mutable:     make(map[rdf.IRI]*graph.MemoryGraph),
		immutable:   make(map[rdf.IRI]*graph.FrozenGraph),
		undeletable: make(map[rdf.IRI]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Weight() int { return p.weight }

func (p *Provider) Immutable(name rdf.IRI) (graph.ImmutableGraph, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if g, ok := p.immutable[name]; ok {
		return g, nil
	}
	return nil, graph.NewEntityError("immutable", name, graph.ErrNotFound)
}

func (p *Provider) Mutable(name rdf.IRI) (graph.Graph, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if g, ok := p.mutable[name]; ok {
		return g, nil
	}
	return nil, graph.NewEntityError("mutable", name, graph.ErrNotFound)
}

func (p *Provider) Either(name rdf.IRI) (graph.ImmutableGraph, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if g, ok := p.mutable[name]; ok {
		return g, nil
	}
	if g, ok := p.immutable[name]; ok {
		return g, nil
	}
	return nil, graph.NewEntityError("get", name, graph.ErrNotFound)
}

func (p *Provider) Create(name rdf.IRI) (graph.Graph, error) {
	if name == "" {
		return nil, graph.ErrInvalidArgument
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.existsLocked(name) {
		return nil, graph.NewEntityError("create", name, graph.ErrAlreadyExists)
	}
	g := graph.NewNamedMemoryGraph(name.Value())
	p.mutable[name] = g
	return g, nil
}

func (p *Provider) CreateImmutable(name rdf.IRI, triples []rdf.Triple) (graph.ImmutableGraph, error) {
	if name == "" {
		return nil, graph.ErrInvalidArgument
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.existsLocked(name) {
		return nil, graph.NewEntityError("create", name, graph.ErrAlreadyExists)
	}
	g := graph.NewFrozenGraph(triples...)
	p.immutable[name] = g
	return g, nil
}

func (p *Provider) Delete(name rdf.IRI) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.existsLocked(name) {
		return graph.NewEntityError("delete", name, graph.ErrNotFound)
	}
	if _, ok := p.undeletable[name]; ok {
		return graph.NewEntityError("delete", name, graph.ErrUndeletable)
	}
	delete(p.mutable, name)
	delete(p.immutable, name)
	return nil
}

func (p *Provider) ListImmutable() ([]rdf.IRI, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return keys(p.immutable), nil
}

func (p *Provider) ListMutable() ([]rdf.IRI, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return keys(p.mutable), nil
}

func (p *Provider) ListAll() ([]rdf.IRI, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return provider.SortNames(append(keys(p.mutable), keys(p.immutable)...)), nil
}

// NamesOf matches mutable graphs by identity and immutable graphs by isomorphism.
func (p *Provider) NamesOf(g graph.ImmutableGraph) ([]rdf.IRI, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var names []rdf.IRI
	for name, m := range p.mutable {
		if graph.SameGraph(m, g) {
			names = append(names, name)
		}
	}
	if _, isMutable := g.(graph.Graph); !isMutable {
		for name, f := range p.immutable {
			if graph.ImmutableGraph(f) == g || f.Equal(g) {
				names = append(names, name)
			}
		}
	}
	return provider.SortNames(names), nil
}

func (p *Provider) existsLocked(name rdf.IRI) bool {
	_, m := p.mutable[name]
	_, i := p.immutable[name]
	return m || i
}

func keys[V any](m map[rdf.IRI]V) []rdf.IRI {
	out := make([]rdf.IRI, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return provider.SortNames(out)
}
