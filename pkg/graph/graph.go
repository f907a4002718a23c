// Package graph defines the triple collection contracts and the in-memory, frozen, union
// and read-only graph implementations.
//
// An ImmutableGraph can be filtered, sized and probed. A Graph can also be mutated and
// exposes the read-write lock that guards it. Graph methods are individually safe for
// concurrent use; callers that need several calls to appear atomic hold the graph's lock
// around them:
//
//	g := graph.NewMemoryGraph()
//	err := lock.WithWrite(g.Lock(), func() error {
//		_, err := g.Add(rdf.MustTriple(alice, knows, bob))
//		return err
//	})
//
// Filtering uses nil (subject, object) and "" (predicate) as wildcards:
//
//	it := g.Filter(alice, "", nil) // everything alice says
//	for it.Next() {
//		fmt.Println(it.Triple())
//	}
package graph

import (
	"errors"

	"github.com/orneryd/graphfed/pkg/lock"
	"github.com/orneryd/graphfed/pkg/rdf"
)

// Iterator walks the result of a Filter call.
//
// Remove deletes the current triple from the graph the iterator came from. Iterators over
// views that cannot be changed return an error from Remove and change nothing.
type Iterator interface {
	Next() bool
	Triple() rdf.Triple
	Remove() error
}

// ImmutableGraph is a pattern-filterable collection of triples.
type ImmutableGraph interface {
	// Filter returns every triple matching the pattern. nil subject/object and an empty
	// predicate match anything.
	Filter(s rdf.Term, p rdf.IRI, o rdf.Term) Iterator
	// Size returns the number of triples.
	Size() int
	// Contains reports whether t is in the graph.
	Contains(t rdf.Triple) bool
}

// Lockable is implemented by graphs that own a read-write lock.
type Lockable interface {
	Lock() lock.ReadWriteLock
}

// Graph is a mutable ImmutableGraph.
type Graph interface {
	ImmutableGraph
	Lockable
	// Add inserts t and reports whether the graph changed.
	Add(t rdf.Triple) (bool, error)
	// Remove deletes t and reports whether the graph changed.
	Remove(t rdf.Triple) (bool, error)
}

var errIteratorState = errors.New("graph: Remove called without a current triple")

type sliceIterator struct {
	triples []rdf.Triple
	pos     int
	remove  func(rdf.Triple) error
}

// NewSliceIterator iterates over triples. remove is called by Iterator.Remove; nil makes
// the iterator read-only.
func NewSliceIterator(triples []rdf.Triple, remove func(rdf.Triple) error) Iterator {
	return &sliceIterator{triples: triples, pos: -1, remove: remove}
}

func (it *sliceIterator) Next() bool {
	if it.pos+1 >= len(it.triples) {
		it.pos = len(it.triples)
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Triple() rdf.Triple {
	if it.pos < 0 || it.pos >= len(it.triples) {
		return rdf.Triple{}
	}
	return it.triples[it.pos]
}

func (it *sliceIterator) Remove() error {
	if it.pos < 0 || it.pos >= len(it.triples) {
		return errIteratorState
	}
	if it.remove == nil {
		return ErrReadOnly
	}
	return it.remove(it.triples[it.pos])
}

// Empty is an iterator with no triples.
func Empty() Iterator { return NewSliceIterator(nil, nil) }

// Collect drains it into a slice.
func Collect(it Iterator) []rdf.Triple {
	var out []rdf.Triple
	for it.Next() {
		out = append(out, it.Triple())
	}
	return out
}

// Triples returns every triple of g.
func Triples(g ImmutableGraph) []rdf.Triple {
	return Collect(g.Filter(nil, "", nil))
}

// First returns the first triple matching the pattern.
func First(g ImmutableGraph, s rdf.Term, p rdf.IRI, o rdf.Term) (rdf.Triple, bool) {
	it := g.Filter(s, p, o)
	if it.Next() {
		return it.Triple(), true
	}
	return rdf.Triple{}, false
}

// AddAll adds every triple to g and reports whether anything changed. It stops at the first
// error.
func AddAll(g Graph, triples ...rdf.Triple) (bool, error) {
	changed := false
	for _, t := range triples {
		ok, err := g.Add(t)
		if err != nil {
			return changed, err
		}
		changed = changed || ok
	}
	return changed, nil
}

// RemoveAll removes every triple from g and reports whether anything changed. It stops at
// the first error.
func RemoveAll(g Graph, triples ...rdf.Triple) (bool, error) {
	changed := false
	for _, t := range triples {
		ok, err := g.Remove(t)
		if err != nil {
			return changed, err
		}
		changed = changed || ok
	}
	return changed, nil
}
