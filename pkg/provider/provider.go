// Package provider defines the contract between the registry and the backends that store
// named graphs.
//
// A Provider fetches, creates, deletes and lists named graphs. It reports the outcome of
// every call with the sentinel errors of package graph:
//   - graph.ErrNotFound: the provider does not serve the name
//   - graph.ErrAlreadyExists: the name is taken
//   - graph.ErrUndeletable: the provider refuses to delete the name
//   - graph.ErrUnsupported: the provider lacks the capability (e.g. read-only backends
//     on Create)
//
// The registry treats not-found, unsupported and invalid-argument as "ask the next
// provider"; any other outcome is final.
//
// Example:
//
//	type readOnlyArchive struct{ provider.Provider }
//
//	func (readOnlyArchive) Create(rdf.IRI) (graph.Graph, error) {
//		return nil, graph.ErrUnsupported // registry falls through to the next provider
//	}
package provider

import (
	"context"
	"sort"

	"github.com/orneryd/graphfed/pkg/graph"
	"github.com/orneryd/graphfed/pkg/rdf"
)

// Provider stores named graphs. Implementations are safe for concurrent use.
type Provider interface {
	// Immutable returns the immutable graph called name.
	Immutable(name rdf.IRI) (graph.ImmutableGraph, error)
	// Mutable returns the mutable graph called name.
	Mutable(name rdf.IRI) (graph.Graph, error)
	// Either returns the graph called name, mutable or not. A mutable result also
	// implements graph.Graph.
	Either(name rdf.IRI) (graph.ImmutableGraph, error)

	// Create makes an empty mutable graph.
	Create(name rdf.IRI) (graph.Graph, error)
	// CreateImmutable makes an immutable graph holding triples.
	CreateImmutable(name rdf.IRI, triples []rdf.Triple) (graph.ImmutableGraph, error)
	// Delete removes the graph called name.
	Delete(name rdf.IRI) error

	ListImmutable() ([]rdf.IRI, error)
	ListMutable() ([]rdf.IRI, error)
	ListAll() ([]rdf.IRI, error)

	// NamesOf returns the names under which this provider serves g.
	NamesOf(g graph.ImmutableGraph) ([]rdf.IRI, error)
}

// WeightedProvider is a Provider with a routing priority and a unique name.
type WeightedProvider interface {
	Provider
	// Weight is a positive priority; higher weights are asked first.
	Weight() int
	// Name identifies the provider and breaks ties between equal weights.
	Name() string
}

// ResultKind says which field of a QueryResult is set.
type ResultKind int

const (
	ResultBindings ResultKind = iota
	ResultGraph
	ResultBoolean
)

// QueryResult is the outcome of a SPARQL query: a solution sequence (SELECT), a graph
// (CONSTRUCT, DESCRIBE) or a boolean (ASK).
type QueryResult struct {
	Kind     ResultKind
	Vars     []string
	Bindings []map[string]rdf.Term
	Graph    graph.ImmutableGraph
	Boolean  bool
}

// QueryableProvider is a provider that can answer SPARQL queries over the graphs it serves
// without help from the generic query engine.
type QueryableProvider interface {
	Provider
	Query(ctx context.Context, query string, defaultGraph rdf.IRI) (*QueryResult, error)
}

// Less orders providers by descending weight, then by ascending name.
func Less(a, b WeightedProvider) bool {
	if a.Weight() != b.Weight() {
		return a.Weight() > b.Weight()
	}
	return a.Name() < b.Name()
}

// Sort orders ps in place with Less. The order does not depend on the input order as long
// as names are unique.
func Sort(ps []WeightedProvider) {
	sort.SliceStable(ps, func(i, j int) bool { return Less(ps[i], ps[j]) })
}

// Has reports whether p serves name in any form.
func Has(p Provider, name rdf.IRI) (bool, error) {
	names, err := p.ListAll()
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

// SortNames sorts names lexicographically in place and returns them.
func SortNames(names []rdf.IRI) []rdf.IRI {
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
