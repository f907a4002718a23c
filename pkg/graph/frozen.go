package graph

import (
	"github.com/orneryd/graphfed/pkg/rdf"
)

// FrozenGraph is an immutable snapshot of triples.
//
// Two frozen graphs are Equal when they are isomorphic: identical up to a renaming of
// blank nodes. This is the equality used to compare node contexts.
type FrozenGraph struct {
	g *MemoryGraph
}

// NewFrozenGraph snapshots triples. Duplicates are collapsed.
func NewFrozenGraph(triples ...rdf.Triple) *FrozenGraph {
	return &FrozenGraph{g: NewMemoryGraph(triples...)}
}

// Freeze snapshots the current content of g. Freezing a FrozenGraph returns it unchanged.
func Freeze(g ImmutableGraph) *FrozenGraph {
	if f, ok := g.(*FrozenGraph); ok {
		return f
	}
	return NewFrozenGraph(Triples(g)...)
}

// Filter returns matching triples in the order they were added. The iterator is read-only.
func (f *FrozenGraph) Filter(s rdf.Term, p rdf.IRI, o rdf.Term) Iterator {
	f.g.mu.RLock()
	defer f.g.mu.RUnlock()
	return NewSliceIterator(f.g.matchUnlocked(s, p, o), nil)
}

// Size returns the number of triples.
func (f *FrozenGraph) Size() int { return f.g.Size() }

// Contains reports whether t is in the snapshot.
func (f *FrozenGraph) Contains(t rdf.Triple) bool { return f.g.Contains(t) }

// Triples returns the snapshot as a slice.
func (f *FrozenGraph) Triples() []rdf.Triple { return Triples(f) }

// Equal reports whether other holds the same triples up to blank node renaming.
func (f *FrozenGraph) Equal(other ImmutableGraph) bool {
	if other == nil {
		return false
	}
	if f.Size() != other.Size() {
		return false
	}
	return Isomorphic(f.Triples(), Triples(other))
}
