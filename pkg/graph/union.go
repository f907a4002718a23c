package graph

import (
	"github.com/orneryd/graphfed/pkg/lock"
	"github.com/orneryd/graphfed/pkg/rdf"
)

// UnionGraph presents an ordered list of layers as one graph.
//
// Reads go through every layer in order and are not de-duplicated: a triple present in two
// layers is returned twice and counted twice by Size. Writes go to layer 0 only, which must
// be a Graph. Triples that came from any other layer cannot be removed through the union.
//
// The union's lock covers all layers: its read side holds every layer's read lock, its
// write side holds layer 0's write lock plus every other layer's read lock. Layers that
// have no lock (frozen snapshots) are skipped.
//
// Example:
//
//	local := graph.NewMemoryGraph()
//	shared := graph.NewFrozenGraph(vocabulary...)
//	u := graph.NewUnionGraph(local, shared)
//
//	u.Add(t)            // lands in local
//	u.Size()            // local.Size() + shared.Size()
type UnionGraph struct {
	layers []ImmutableGraph
	rw     *lock.CompositeRWLock
}

// NewUnionGraph unites layers with the default lock options.
func NewUnionGraph(layers ...ImmutableGraph) *UnionGraph {
	return NewUnionGraphWithOptions(lock.DefaultOptions(), layers...)
}

// NewUnionGraphWithOptions unites layers, tuning how the composite lock retries.
func NewUnionGraphWithOptions(opts lock.Options, layers ...ImmutableGraph) *UnionGraph {
	u := &UnionGraph{layers: append([]ImmutableGraph(nil), layers...)}

	var primary lock.ReadWriteLock
	var others []lock.ReadWriteLock
	for i, layer := range u.layers {
		l, ok := layer.(Lockable)
		if !ok {
			continue
		}
		if i == 0 {
			if _, mutable := layer.(Graph); mutable {
				primary = l.Lock()
				continue
			}
		}
		others = append(others, l.Lock())
	}
	u.rw = lock.NewCompositeRWLock(primary, others, opts)
	return u
}

// Layers returns the number of layers.
func (u *UnionGraph) Layers() int { return len(u.layers) }

// Lock returns the composite lock over all layers.
func (u *UnionGraph) Lock() lock.ReadWriteLock { return u.rw }

// Size is the sum of the layer sizes.
func (u *UnionGraph) Size() int {
	n := 0
	for _, layer := range u.layers {
		n += layer.Size()
	}
	return n
}

// Contains reports whether any layer holds t.
func (u *UnionGraph) Contains(t rdf.Triple) bool {
	for _, layer := range u.layers {
		if layer.Contains(t) {
			return true
		}
	}
	return false
}

// Filter concatenates the layers' results in layer order.
func (u *UnionGraph) Filter(s rdf.Term, p rdf.IRI, o rdf.Term) Iterator {
	its := make([]Iterator, len(u.layers))
	for i, layer := range u.layers {
		its[i] = layer.Filter(s, p, o)
	}
	return &unionIterator{its: its}
}

// Add inserts t into layer 0.
func (u *UnionGraph) Add(t rdf.Triple) (bool, error) {
	primary, err := u.primary()
	if err != nil {
		return false, err
	}
	return primary.Add(t)
}

// Remove deletes t from layer 0. Copies of t in other layers stay.
func (u *UnionGraph) Remove(t rdf.Triple) (bool, error) {
	primary, err := u.primary()
	if err != nil {
		return false, err
	}
	return primary.Remove(t)
}

func (u *UnionGraph) primary() (Graph, error) {
	if len(u.layers) == 0 {
		return nil, ErrUnsupported
	}
	g, ok := u.layers[0].(Graph)
	if !ok {
		return nil, ErrUnsupported
	}
	return g, nil
}

type unionIterator struct {
	its []Iterator
	cur int
}

func (it *unionIterator) Next() bool {
	for it.cur < len(it.its) {
		if it.its[it.cur].Next() {
			return true
		}
		it.cur++
	}
	return false
}

func (it *unionIterator) Triple() rdf.Triple {
	if it.cur >= len(it.its) {
		return rdf.Triple{}
	}
	return it.its[it.cur].Triple()
}

func (it *unionIterator) Remove() error {
	if it.cur >= len(it.its) {
		return errIteratorState
	}
	if it.cur != 0 {
		return &ResourceError{Resource: it.its[it.cur].Triple().S, Err: ErrReadOnly}
	}
	return it.its[0].Remove()
}
