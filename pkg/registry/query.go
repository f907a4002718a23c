package registry

import (
	"context"
	"errors"
	"slices"

	"github.com/orneryd/graphfed/pkg/graph"
	"github.com/orneryd/graphfed/pkg/provider"
	"github.com/orneryd/graphfed/pkg/rdf"
)

// ErrNoQueryEngine is returned by Query when the fastlane cannot serve a query and no
// QueryEngine is configured.
var ErrNoQueryEngine = errors.New("registry: no query engine configured")

// QueryEngine evaluates SPARQL over graphs it resolves through the registry.
type QueryEngine interface {
	Execute(ctx context.Context, r *Registry, defaultGraph rdf.IRI, query string) (*provider.QueryResult, error)
}

// QueryEngineFunc adapts a function to QueryEngine.
type QueryEngineFunc func(ctx context.Context, r *Registry, defaultGraph rdf.IRI, query string) (*provider.QueryResult, error)

func (f QueryEngineFunc) Execute(ctx context.Context, r *Registry, defaultGraph rdf.IRI, query string) (*provider.QueryResult, error) {
	return f(ctx, r, defaultGraph, query)
}

// Query runs a SPARQL query against defaultGraph and the graphs the query names.
//
// When every referenced graph is served by the same provider and that provider
// implements provider.QueryableProvider, the query goes straight to it. Otherwise the
// configured QueryEngine runs it.
func (r *Registry) Query(ctx context.Context, query string, defaultGraph rdf.IRI) (res *provider.QueryResult, err error) {
	ctx, done := r.observe(ctx, "query", defaultGraph)
	defer func() { done(err) }()

	refs := r.References(query)
	names := refs.Graphs
	if defaultGraph != "" && !slices.Contains(names, defaultGraph) {
		names = append([]rdf.IRI{defaultGraph}, names...)
	}
	for _, name := range names {
		if err := r.checkRead(ctx, "query", name); err != nil {
			return nil, err
		}
	}

	if !refs.Dynamic && len(names) > 0 {
		qp, err := r.fastlane(names)
		if err != nil {
			return nil, err
		}
		if qp != nil {
			fastlane.WithLabelValues("fastlane").Inc()
			r.logger.Debug("query fastlane", "provider", qp.(provider.WeightedProvider).Name(), "graphs", len(names))
			return qp.Query(ctx, query, defaultGraph)
		}
	}

	if r.engine == nil {
		return nil, ErrNoQueryEngine
	}
	fastlane.WithLabelValues("engine").Inc()
	return r.engine.Execute(ctx, r, defaultGraph, query)
}

// fastlane returns the queryable provider that owns every name, or nil.
func (r *Registry) fastlane(names []rdf.IRI) (provider.QueryableProvider, error) {
	var owner provider.WeightedProvider
	for _, name := range names {
		p, err := r.owner(name)
		if err != nil {
			return nil, err
		}
		if p == nil || (owner != nil && p.Name() != owner.Name()) {
			return nil, nil
		}
		owner = p
	}
	qp, ok := owner.(provider.QueryableProvider)
	if !ok {
		return nil, nil
	}
	return qp, nil
}

// owner returns the first provider in routing order that serves name, or nil.
func (r *Registry) owner(name rdf.IRI) (provider.WeightedProvider, error) {
	for _, p := range r.snapshot() {
		has, err := provider.Has(p, name)
		if err != nil {
			if graph.IsFallthrough(err) {
				continue
			}
			return nil, err
		}
		if has {
			return p, nil
		}
	}
	return nil, nil
}

// References returns the graphs query names. Results are cached by query text and
// concurrent scans of the same text share one result.
func (r *Registry) References(query string) References {
	key := r.refs.Key(query)
	if refs, ok := r.refs.Get(key); ok {
		return refs
	}
	v, _, _ := r.parses.Do(query, func() (any, error) {
		refs := ScanReferences(query)
		r.refs.Put(key, refs)
		return refs, nil
	})
	return v.(References)
}
