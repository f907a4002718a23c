package graph

import (
	"sort"
	"sync"

	"github.com/orneryd/graphfed/pkg/lock"
	"github.com/orneryd/graphfed/pkg/rdf"
)

type tripleSet map[rdf.Triple]struct{}

// MemoryGraph is a mutable in-memory graph with subject, predicate and object indexes.
//
// Features:
//   - Thread-safe: every method takes an internal RWMutex, so the indexes stay consistent
//     even when callers skip the graph lock
//   - Indexed: a Filter with any bound component only scans triples sharing that component
//   - Stable order: Filter returns triples in insertion order
//
// The internal mutex only protects the data structure. Callers that need a sequence of
// operations to be atomic hold Lock() around it.
//
// Performance Characteristics:
//   - Add / Remove / Contains: O(1)
//   - Filter: O(k log k) where k = triples in the smallest matching index bucket
//
// Example:
//
//	g := graph.NewMemoryGraph()
//	g.Add(rdf.MustTriple(alice, knows, bob))
//	g.Add(rdf.MustTriple(alice, name, rdf.NewLiteral("Alice")))
//
//	fmt.Println(g.Size()) // 2
//	for _, t := range graph.Collect(g.Filter(alice, knows, nil)) {
//		fmt.Println(t.O) // <http://example.org/bob>
//	}
type MemoryGraph struct {
	mu      sync.RWMutex
	triples map[rdf.Triple]uint64
	seq     uint64

	// Indexes for filter lookups
	bySubject   map[rdf.Term]tripleSet
	byPredicate map[rdf.IRI]tripleSet
	byObject    map[rdf.Term]tripleSet

	rw *lock.RWLock
}

// NewMemoryGraph creates a graph holding the given triples.
func NewMemoryGraph(triples ...rdf.Triple) *MemoryGraph {
	return NewNamedMemoryGraph("", triples...)
}

// NewNamedMemoryGraph is NewMemoryGraph with a name for the graph's lock diagnostics.
func NewNamedMemoryGraph(name string, triples ...rdf.Triple) *MemoryGraph {
	g := &MemoryGraph{
		triples:     make(map[rdf.Triple]uint64, len(triples)),
		bySubject:   make(map[rdf.Term]tripleSet),
		byPredicate: make(map[rdf.IRI]tripleSet),
		byObject:    make(map[rdf.Term]tripleSet),
		rw:          lock.NewRWLock(name),
	}
	for _, t := range triples {
		g.addUnlocked(t)
	}
	return g
}

// Lock returns the graph's read-write lock.
func (g *MemoryGraph) Lock() lock.ReadWriteLock { return g.rw }

// Size returns the number of triples.
func (g *MemoryGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.triples)
}

// Contains reports whether t is in the graph.
func (g *MemoryGraph) Contains(t rdf.Triple) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.triples[t]
	return ok
}

// Add inserts t. Adding a triple that is already present is a no-op.
func (g *MemoryGraph) Add(t rdf.Triple) (bool, error) {
	if _, err := rdf.NewTriple(t.S, t.P, t.O); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addUnlocked(t), nil
}

// Remove deletes t if present.
func (g *MemoryGraph) Remove(t rdf.Triple) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.removeUnlocked(t), nil
}

// Filter returns the matching triples as of the call, in insertion order. Removing through
// the iterator removes from this graph.
func (g *MemoryGraph) Filter(s rdf.Term, p rdf.IRI, o rdf.Term) Iterator {
	g.mu.RLock()
	matches := g.matchUnlocked(s, p, o)
	g.mu.RUnlock()

	return NewSliceIterator(matches, func(t rdf.Triple) error {
		_, err := g.Remove(t)
		return err
	})
}

func (g *MemoryGraph) matchUnlocked(s rdf.Term, p rdf.IRI, o rdf.Term) []rdf.Triple {
	type ordered struct {
		t   rdf.Triple
		seq uint64
	}
	var found []ordered

	collect := func(t rdf.Triple, seq uint64) {
		if t.Matches(s, p, o) {
			found = append(found, ordered{t, seq})
		}
	}

	if candidates, indexed := g.smallestBucket(s, p, o); indexed {
		for t := range candidates {
			collect(t, g.triples[t])
		}
	} else {
		for t, seq := range g.triples {
			collect(t, seq)
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].seq < found[j].seq })
	out := make([]rdf.Triple, len(found))
	for i, f := range found {
		out[i] = f.t
	}
	return out
}

// smallestBucket picks the smallest index bucket for the bound components. indexed is false
// when nothing is bound.
func (g *MemoryGraph) smallestBucket(s rdf.Term, p rdf.IRI, o rdf.Term) (tripleSet, bool) {
	var best tripleSet
	indexed := false
	consider := func(bucket tripleSet) {
		if !indexed || len(bucket) < len(best) {
			best = bucket
			indexed = true
		}
	}
	if s != nil {
		consider(g.bySubject[s])
	}
	if p != "" {
		consider(g.byPredicate[p])
	}
	if o != nil {
		consider(g.byObject[o])
	}
	return best, indexed
}

func (g *MemoryGraph) addUnlocked(t rdf.Triple) bool {
	if _, exists := g.triples[t]; exists {
		return false
	}
	g.seq++
	g.triples[t] = g.seq
	addToBucket(g.bySubject, t.S, t)
	addToBucket(g.byPredicate, t.P, t)
	addToBucket(g.byObject, t.O, t)
	return true
}

func (g *MemoryGraph) removeUnlocked(t rdf.Triple) bool {
	if _, exists := g.triples[t]; !exists {
		return false
	}
	delete(g.triples, t)
	removeFromBucket(g.bySubject, t.S, t)
	removeFromBucket(g.byPredicate, t.P, t)
	removeFromBucket(g.byObject, t.O, t)
	return true
}

func addToBucket[K comparable](index map[K]tripleSet, key K, t rdf.Triple) {
	bucket, ok := index[key]
	if !ok {
		bucket = make(tripleSet)
		index[key] = bucket
	}
	bucket[t] = struct{}{}
}

func removeFromBucket[K comparable](index map[K]tripleSet, key K, t rdf.Triple) {
	bucket, ok := index[key]
	if !ok {
		return
	}
	delete(bucket, t)
	if len(bucket) == 0 {
		delete(index, key)
	}
}
