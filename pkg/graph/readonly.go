package graph

import (
	"github.com/orneryd/graphfed/pkg/lock"
	"github.com/orneryd/graphfed/pkg/rdf"
)

// ReadOnlyGraph wraps a mutable graph for a caller that may only read it. Every write,
// including removal through a Filter iterator, fails with ErrPermissionDenied and is not
// forwarded.
type ReadOnlyGraph struct {
	g    Graph
	name rdf.IRI
}

// NewReadOnly wraps g. name is reported in the permission errors.
func NewReadOnly(g Graph, name rdf.IRI) *ReadOnlyGraph {
	return &ReadOnlyGraph{g: g, name: name}
}

// SameGraph reports whether a and b are the same graph, looking through read-only
// wrappers. Providers use it to recognize a wrapped graph they handed out.
func SameGraph(a, b ImmutableGraph) bool {
	return unwrap(a) == unwrap(b)
}

func unwrap(g ImmutableGraph) ImmutableGraph {
	if ro, ok := g.(*ReadOnlyGraph); ok {
		return ro.g
	}
	return g
}

func (r *ReadOnlyGraph) Filter(s rdf.Term, p rdf.IRI, o rdf.Term) Iterator {
	return &readOnlyIterator{Iterator: r.g.Filter(s, p, o), deny: r.deny}
}

func (r *ReadOnlyGraph) Size() int { return r.g.Size() }

func (r *ReadOnlyGraph) Contains(t rdf.Triple) bool { return r.g.Contains(t) }

// Lock returns the wrapped graph's lock so readers still coordinate with writers.
func (r *ReadOnlyGraph) Lock() lock.ReadWriteLock { return r.g.Lock() }

func (r *ReadOnlyGraph) Add(rdf.Triple) (bool, error) { return false, r.deny("add") }

func (r *ReadOnlyGraph) Remove(rdf.Triple) (bool, error) { return false, r.deny("remove") }

func (r *ReadOnlyGraph) deny(op string) error {
	return NewEntityError(op, r.name, ErrPermissionDenied)
}

type readOnlyIterator struct {
	Iterator
	deny func(op string) error
}

func (it *readOnlyIterator) Remove() error { return it.deny("remove") }
